package mutations

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avolkovs/tripatlas/internal/common"
	"github.com/avolkovs/tripatlas/internal/dbx"
	"github.com/avolkovs/tripatlas/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, m *models.Mutation) error {
	payload, err := json.Marshal(m.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	prior, err := json.Marshal(m.Prior)
	if err != nil {
		return fmt.Errorf("failed to encode prior values: %w", err)
	}

	query := `INSERT INTO mutations (id, entity_kind, entity_id, trip_id, payload, prior, status, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		m.ID, string(m.EntityKind), m.EntityID, m.TripID,
		string(payload), string(prior), string(m.Status), m.Error,
		m.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert mutation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete mutation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkRejected(ctx context.Context, id, errMsg string) error {
	return r.setStatus(ctx, id, models.MutationRejected, errMsg)
}

func (r *SQLiteRepository) MarkPending(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, models.MutationPending, "")
}

func (r *SQLiteRepository) setStatus(ctx context.Context, id string, status models.MutationStatus, errMsg string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE mutations SET status = ?, error = ? WHERE id = ?`,
		string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to update mutation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) ListByStatus(ctx context.Context, status models.MutationStatus) ([]models.Mutation, error) {
	return r.list(ctx,
		`SELECT id, entity_kind, entity_id, trip_id, payload, prior, status, error, created_at
		 FROM mutations WHERE status = ? ORDER BY created_at, id`, string(status))
}

func (r *SQLiteRepository) ListAll(ctx context.Context) ([]models.Mutation, error) {
	return r.list(ctx,
		`SELECT id, entity_kind, entity_id, trip_id, payload, prior, status, error, created_at
		 FROM mutations ORDER BY created_at, id`)
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.Mutation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select mutations: %w", err)
	}
	defer rows.Close()

	var result []models.Mutation
	for rows.Next() {
		var m models.Mutation
		var kind, payload, prior, status, created string
		if err := rows.Scan(&m.ID, &kind, &m.EntityID, &m.TripID,
			&payload, &prior, &status, &m.Error, &created); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &m.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
		if err := json.Unmarshal([]byte(prior), &m.Prior); err != nil {
			return nil, fmt.Errorf("failed to decode prior values: %w", err)
		}
		m.EntityKind = models.EntityKind(kind)
		m.Status = models.MutationStatus(status)
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context, status models.MutationStatus) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mutations WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count mutations: %w", err)
	}
	return n, nil
}

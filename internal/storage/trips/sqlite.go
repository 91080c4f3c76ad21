package trips

import (
	"context"
	"database/sql"
	"errors"
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

func (r *SQLiteRepository) Upsert(ctx context.Context, t *models.Trip) error {
	query := `INSERT INTO trips (id, name, notes, south, west, north, east, local_state, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name,
				notes = excluded.notes,
				south = excluded.south,
				west = excluded.west,
				north = excluded.north,
				east = excluded.east,
				local_state = excluded.local_state,
				updated_at = excluded.updated_at
	`
	state := t.LocalState
	if state == "" {
		state = models.StateServerOnly
	}
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.Name, t.Notes,
		t.Bounds.South, t.Bounds.West, t.Bounds.North, t.Bounds.East,
		string(state), t.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert trip: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Trip, error) {
	query := `SELECT id, name, notes, south, west, north, east, local_state, updated_at
			FROM trips WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	return scanTrip(row)
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.Trip, error) {
	query := `SELECT id, name, notes, south, west, north, east, local_state, updated_at
			FROM trips ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select trips: %w", err)
	}
	defer rows.Close()

	var result []models.Trip
	for rows.Next() {
		var t models.Trip
		var state, updated string
		if err := rows.Scan(&t.ID, &t.Name, &t.Notes,
			&t.Bounds.South, &t.Bounds.West, &t.Bounds.North, &t.Bounds.East,
			&state, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		t.LocalState = models.LocalState(state)
		t.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) SetLocalState(ctx context.Context, id string, state models.LocalState) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE trips SET local_state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update trip state: %w", err)
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

func (r *SQLiteRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM trips WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete trip: %w", err)
	}
	return nil
}

func scanTrip(row *sql.Row) (*models.Trip, error) {
	var t models.Trip
	var state, updated string
	err := row.Scan(&t.ID, &t.Name, &t.Notes,
		&t.Bounds.South, &t.Bounds.West, &t.Bounds.North, &t.Bounds.East,
		&state, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan trip: %w", err)
	}
	t.LocalState = models.LocalState(state)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &t, nil
}

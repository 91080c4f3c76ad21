package checkpoints

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

func (r *SQLiteRepository) Save(ctx context.Context, cp *models.Checkpoint) error {
	query := `INSERT INTO transfer_checkpoints
			(trip_id, total_tiles, completed_tiles, completed_bytes, reason, resumable, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(trip_id) DO UPDATE SET total_tiles = excluded.total_tiles,
				completed_tiles = excluded.completed_tiles,
				completed_bytes = excluded.completed_bytes,
				reason = excluded.reason,
				resumable = excluded.resumable,
				updated_at = excluded.updated_at
	`
	reason := cp.Reason
	if reason == "" {
		reason = models.PauseNone
	}
	_, err := r.db.ExecContext(ctx, query,
		cp.TripID, cp.TotalTiles, cp.CompletedTiles, cp.CompletedBytes,
		string(reason), cp.Resumable, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Load(ctx context.Context, tripID string) (*models.Checkpoint, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT trip_id, total_tiles, completed_tiles, completed_bytes, reason, resumable, updated_at
		 FROM transfer_checkpoints WHERE trip_id = ?`, tripID)

	cp, err := scanCheckpoint(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

func (r *SQLiteRepository) LoadAllPaused(ctx context.Context) ([]models.Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT trip_id, total_tiles, completed_tiles, completed_bytes, reason, resumable, updated_at
		 FROM transfer_checkpoints ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to select checkpoints: %w", err)
	}
	defer rows.Close()

	var result []models.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		result = append(result, *cp)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) Delete(ctx context.Context, tripID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM transfer_checkpoints WHERE trip_id = ?`, tripID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func scanCheckpoint(scan func(...any) error) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	var reason, updated string
	if err := scan(&cp.TripID, &cp.TotalTiles, &cp.CompletedTiles, &cp.CompletedBytes,
		&reason, &cp.Resumable, &updated); err != nil {
		return nil, err
	}
	cp.Reason = models.PauseReason(reason)
	cp.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &cp, nil
}

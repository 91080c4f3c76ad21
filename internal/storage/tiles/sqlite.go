package tiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

// WriteBatch runs in a single transaction when the repository is bound to a
// *sql.DB: the checkpoint only advances after a whole batch is durable, so a
// batch must never half-land.
func (r *SQLiteRepository) WriteBatch(ctx context.Context, tripID string, batch []models.Tile) (int64, error) {
	if db, ok := r.db.(*sql.DB); ok {
		var written int64
		err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			var err error
			written, err = (&SQLiteRepository{db: tx}).writeBatch(ctx, tripID, batch)
			return err
		})
		return written, err
	}
	return r.writeBatch(ctx, tripID, batch)
}

func (r *SQLiteRepository) writeBatch(ctx context.Context, tripID string, batch []models.Tile) (int64, error) {
	query := `INSERT INTO tiles (source_id, z, x, y, trip_id, data, size_bytes)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_id, z, x, y) DO UPDATE SET trip_id = excluded.trip_id,
				data = excluded.data,
				size_bytes = excluded.size_bytes
	`
	var written int64
	for _, tile := range batch {
		sz := int64(len(tile.Data))
		_, err := r.db.ExecContext(ctx, query,
			tile.Key.SourceID, tile.Key.Z, tile.Key.X, tile.Key.Y,
			tripID, tile.Data, sz)
		if err != nil {
			return written, fmt.Errorf("failed to write tile %s: %w", tile.Key, err)
		}
		written += sz
	}
	return written, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, key models.TileKey) ([]byte, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM tiles WHERE source_id = ? AND z = ? AND x = ? AND y = ?`,
		key.SourceID, key.Z, key.X, key.Y).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tile: %w", err)
	}
	return data, nil
}

func (r *SQLiteRepository) ListRefs(ctx context.Context) ([]models.TileRef, error) {
	return r.selectRefs(ctx, `SELECT source_id, z, x, y, size_bytes FROM tiles`)
}

func (r *SQLiteRepository) DeleteByTrip(ctx context.Context, tripID string) ([]models.TileRef, error) {
	refs, err := r.selectRefs(ctx,
		`SELECT source_id, z, x, y, size_bytes FROM tiles WHERE trip_id = ?`, tripID)
	if err != nil {
		return nil, err
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM tiles WHERE trip_id = ?`, tripID); err != nil {
		return nil, fmt.Errorf("failed to delete trip tiles: %w", err)
	}
	return refs, nil
}

func (r *SQLiteRepository) selectRefs(ctx context.Context, query string, args ...any) ([]models.TileRef, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select tile refs: %w", err)
	}
	defer rows.Close()

	var refs []models.TileRef
	for rows.Next() {
		var ref models.TileRef
		if err := rows.Scan(&ref.Key.SourceID, &ref.Key.Z, &ref.Key.X, &ref.Key.Y, &ref.SizeBytes); err != nil {
			return nil, fmt.Errorf("failed to scan tile ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}

func (r *SQLiteRepository) CountByTrip(ctx context.Context, tripID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tiles WHERE trip_id = ?`, tripID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count trip tiles: %w", err)
	}
	return n, nil
}

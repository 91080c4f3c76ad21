package entities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

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

func tableFor(kind models.EntityKind) (string, error) {
	switch kind {
	case models.KindPlace:
		return "places", nil
	case models.KindRegion:
		return "regions", nil
	case models.KindSegment:
		return "segments", nil
	case models.KindArea:
		return "areas", nil
	case models.KindTrip:
		return "trips", nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}
}

// SaveBundle runs in a single transaction when the repository is bound to a
// *sql.DB, so a crash mid-bundle never leaves a half-saved trip.
func (r *SQLiteRepository) SaveBundle(ctx context.Context, b *models.TripBundle) error {
	if db, ok := r.db.(*sql.DB); ok {
		return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			return (&SQLiteRepository{db: tx}).saveBundle(ctx, b)
		})
	}
	return r.saveBundle(ctx, b)
}

func (r *SQLiteRepository) saveBundle(ctx context.Context, b *models.TripBundle) error {
	for i := range b.Places {
		if err := r.upsertPlace(ctx, &b.Places[i]); err != nil {
			return err
		}
	}
	for i := range b.Regions {
		if err := r.upsertBounded(ctx, "regions", b.Regions[i].ID, b.Regions[i].TripID,
			b.Regions[i].Name, b.Regions[i].Notes, b.Regions[i].Bounds, b.Regions[i].SortOrder); err != nil {
			return err
		}
	}
	for i := range b.Areas {
		if err := r.upsertBounded(ctx, "areas", b.Areas[i].ID, b.Areas[i].TripID,
			b.Areas[i].Name, b.Areas[i].Notes, b.Areas[i].Bounds, b.Areas[i].SortOrder); err != nil {
			return err
		}
	}
	for i := range b.Segments {
		if err := r.upsertSegment(ctx, &b.Segments[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) upsertPlace(ctx context.Context, p *models.Place) error {
	query := `INSERT INTO places (id, trip_id, name, notes, lat, lon, icon, marker_color, sort_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET trip_id = excluded.trip_id,
				name = excluded.name,
				notes = excluded.notes,
				lat = excluded.lat,
				lon = excluded.lon,
				icon = excluded.icon,
				marker_color = excluded.marker_color,
				sort_order = excluded.sort_order
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.TripID, p.Name, p.Notes, p.Lat, p.Lon, p.Icon, p.MarkerColor, p.SortOrder)
	if err != nil {
		return fmt.Errorf("failed to upsert place: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) upsertBounded(ctx context.Context, table, id, tripID, name, notes string, b models.BoundingBox, sortOrder int) error {
	query := `INSERT INTO ` + table + ` (id, trip_id, name, notes, south, west, north, east, sort_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET trip_id = excluded.trip_id,
				name = excluded.name,
				notes = excluded.notes,
				south = excluded.south,
				west = excluded.west,
				north = excluded.north,
				east = excluded.east,
				sort_order = excluded.sort_order
	`
	_, err := r.db.ExecContext(ctx, query,
		id, tripID, name, notes, b.South, b.West, b.North, b.East, sortOrder)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", strings.TrimSuffix(table, "s"), err)
	}
	return nil
}

func (r *SQLiteRepository) upsertSegment(ctx context.Context, s *models.Segment) error {
	query := `INSERT INTO segments (id, trip_id, name, notes, polyline, sort_order)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET trip_id = excluded.trip_id,
				name = excluded.name,
				notes = excluded.notes,
				polyline = excluded.polyline,
				sort_order = excluded.sort_order
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.TripID, s.Name, s.Notes, s.Polyline, s.SortOrder)
	if err != nil {
		return fmt.Errorf("failed to upsert segment: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, kind models.EntityKind, id string) (any, error) {
	switch kind {
	case models.KindPlace:
		var p models.Place
		row := r.db.QueryRowContext(ctx,
			`SELECT id, trip_id, name, notes, lat, lon, icon, marker_color, sort_order
			 FROM places WHERE id = ?`, id)
		err := row.Scan(&p.ID, &p.TripID, &p.Name, &p.Notes, &p.Lat, &p.Lon, &p.Icon, &p.MarkerColor, &p.SortOrder)
		return wrapScan(&p, err)
	case models.KindRegion:
		var reg models.Region
		row := r.db.QueryRowContext(ctx,
			`SELECT id, trip_id, name, notes, south, west, north, east, sort_order
			 FROM regions WHERE id = ?`, id)
		err := row.Scan(&reg.ID, &reg.TripID, &reg.Name, &reg.Notes,
			&reg.Bounds.South, &reg.Bounds.West, &reg.Bounds.North, &reg.Bounds.East, &reg.SortOrder)
		return wrapScan(&reg, err)
	case models.KindArea:
		var a models.Area
		row := r.db.QueryRowContext(ctx,
			`SELECT id, trip_id, name, notes, south, west, north, east, sort_order
			 FROM areas WHERE id = ?`, id)
		err := row.Scan(&a.ID, &a.TripID, &a.Name, &a.Notes,
			&a.Bounds.South, &a.Bounds.West, &a.Bounds.North, &a.Bounds.East, &a.SortOrder)
		return wrapScan(&a, err)
	case models.KindSegment:
		var s models.Segment
		row := r.db.QueryRowContext(ctx,
			`SELECT id, trip_id, name, notes, polyline, sort_order
			 FROM segments WHERE id = ?`, id)
		err := row.Scan(&s.ID, &s.TripID, &s.Name, &s.Notes, &s.Polyline, &s.SortOrder)
		return wrapScan(&s, err)
	case models.KindTrip:
		var t models.Trip
		var state string
		row := r.db.QueryRowContext(ctx,
			`SELECT id, name, notes, south, west, north, east, local_state
			 FROM trips WHERE id = ?`, id)
		err := row.Scan(&t.ID, &t.Name, &t.Notes,
			&t.Bounds.South, &t.Bounds.West, &t.Bounds.North, &t.Bounds.East, &state)
		t.LocalState = models.LocalState(state)
		return wrapScan(&t, err)
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

func wrapScan[T any](v *T, err error) (any, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	return v, nil
}

// Apply validates field names against the per-kind whitelist, captures the
// current column values, then updates the row. Capturing before writing is
// what makes a later revert possible without a server round-trip.
func (r *SQLiteRepository) Apply(ctx context.Context, kind models.EntityKind, id string, fields map[string]any) (map[string]any, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	cols, err := checkFields(kind, fields)
	if err != nil {
		return nil, err
	}

	prior, err := r.readColumns(ctx, table, id, cols)
	if err != nil {
		return nil, err
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = c + " = ?"
		args = append(args, fields[c])
	}
	args = append(args, id)

	query := "UPDATE " + table + " SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to apply fields: %w", err)
	}
	return prior, nil
}

func (r *SQLiteRepository) Revert(ctx context.Context, kind models.EntityKind, id string, prior map[string]any) error {
	if len(prior) == 0 {
		return nil
	}
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	cols, err := checkFields(kind, prior)
	if err != nil {
		return err
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = c + " = ?"
		args = append(args, prior[c])
	}
	args = append(args, id)

	query := "UPDATE " + table + " SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to revert fields: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByTrip(ctx context.Context, tripID string) error {
	for _, table := range []string{"places", "regions", "segments", "areas"} {
		if _, err := r.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE trip_id = ?", tripID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) GetPlacesByTrip(ctx context.Context, tripID string) ([]models.Place, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, trip_id, name, notes, lat, lon, icon, marker_color, sort_order
		 FROM places WHERE trip_id = ? ORDER BY sort_order, id`, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to select places: %w", err)
	}
	defer rows.Close()

	var result []models.Place
	for rows.Next() {
		var p models.Place
		if err := rows.Scan(&p.ID, &p.TripID, &p.Name, &p.Notes,
			&p.Lat, &p.Lon, &p.Icon, &p.MarkerColor, &p.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// checkFields returns the field names in deterministic order, or an error if
// any name is outside the kind's whitelist.
func checkFields(kind models.EntityKind, fields map[string]any) ([]string, error) {
	allowed := make(map[string]bool)
	for _, f := range models.MutableFields(kind) {
		allowed[f] = true
	}
	cols := make([]string, 0, len(fields))
	for _, f := range models.MutableFields(kind) {
		if _, ok := fields[f]; ok {
			cols = append(cols, f)
		}
	}
	for f := range fields {
		if !allowed[f] {
			return nil, fmt.Errorf("field %q is not mutable for %s", f, kind)
		}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no fields to apply for %s", kind)
	}
	return cols, nil
}

func (r *SQLiteRepository) readColumns(ctx context.Context, table, id string, cols []string) (map[string]any, error) {
	query := "SELECT " + strings.Join(cols, ", ") + " FROM " + table + " WHERE id = ?"
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}

	err := r.db.QueryRowContext(ctx, query, id).Scan(ptrs...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read prior values: %w", err)
	}

	prior := make(map[string]any, len(cols))
	for i, c := range cols {
		v := dest[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		prior[c] = v
	}
	return prior, nil
}

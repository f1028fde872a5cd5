package mapstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	// registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"go.viam.com/anchormap/logging"
	"go.viam.com/anchormap/spatialmap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db     *sql.DB
	logger logging.Logger
}

// NewSQLiteStore opens (creating if needed) the database file at path and migrates it to the
// latest schema.
func NewSQLiteStore(ctx context.Context, path string, logger logging.Logger) (Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "opening %q", path), db.Close())
	}
	if err := migrateUp(db, logger); err != nil {
		return nil, multierr.Combine(err, db.Close())
	}
	return &sqliteStore{db: db, logger: logger}, nil
}

func migrateUp(db *sql.DB, logger logging.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "reading migrations")
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return errors.Wrap(err, "creating sqlite migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return errors.Wrap(err, "creating migrate instance")
	}
	// m is not closed; closing it would close db.
	m.Log = migrateLogger{logger}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migrating map store")
	}
	version, _, err := m.Version()
	if err != nil {
		return errors.Wrap(err, "reading schema version")
	}
	logger.Debugw("map store schema ready", "version", version)
	return nil
}

type migrateLogger struct {
	logger logging.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debugf("migrate: "+format, v...)
}

func (l migrateLogger) Verbose() bool {
	return false
}

func (s *sqliteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, tx.Rollback())
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Upsert(ctx context.Context, m *spatialmap.Map) error {
	if err := validateForWrite(m); err != nil {
		return err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO maps (id, name, creator_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				creator_id = excluded.creator_id,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at`,
			m.ID, m.Name, m.CreatorID, toUnixNano(m.CreatedAt), toUnixNano(m.UpdatedAt),
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM anchors WHERE map_id = ?`, m.ID); err != nil {
			return err
		}
		// cascades to waypoint_edges
		if _, err := tx.ExecContext(ctx, `DELETE FROM waypoints WHERE map_id = ?`, m.ID); err != nil {
			return err
		}
		for i, a := range m.Anchors {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO anchors (map_id, position, cloud_anchor_id, name, tx, ty, tz,
					local_x, local_y, local_z, qx, qy, qz, qw, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				m.ID, i, a.CloudID, a.Name, a.WorldX, a.WorldY, a.WorldZ,
				a.LocalX, a.LocalY, a.LocalZ,
				a.LocalQuaternion[0], a.LocalQuaternion[1], a.LocalQuaternion[2], a.LocalQuaternion[3],
				toUnixNano(a.CreatedAt),
			); err != nil {
				return errors.Wrapf(err, "anchor %q", a.CloudID)
			}
		}
		for i, w := range m.Waypoints {
			if err := insertWaypoint(ctx, tx, m.ID, i, w); err != nil {
				return errors.Wrapf(err, "waypoint %q", w.ID)
			}
		}
		return nil
	})
	return errors.Wrapf(err, "upserting map %q", m.ID)
}

func insertWaypoint(ctx context.Context, tx *sql.Tx, mapID string, position int, w spatialmap.WaypointData) error {
	relT, err := json.Marshal(w.RelativeTranslation)
	if err != nil {
		return err
	}
	relR, err := json.Marshal(w.RelativeRotation)
	if err != nil {
		return err
	}
	var local sql.NullString
	if w.LocalTranslation != nil {
		buf, err := json.Marshal(w.LocalTranslation)
		if err != nil {
			return err
		}
		local = sql.NullString{String: string(buf), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO waypoints (map_id, position, id, reference_anchor_id, relative_translation,
			relative_rotation, local_translation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		mapID, position, w.ID, w.ReferenceAnchorID, string(relT), string(relR), local, toUnixNano(w.CreatedAt),
	); err != nil {
		return err
	}
	for i, other := range w.ConnectedWaypointIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO waypoint_edges (map_id, waypoint_id, position, connected_id)
			VALUES (?, ?, ?, ?)`,
			mapID, w.ID, i, other,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*spatialmap.Map, error) {
	m := spatialmap.Map{ID: id}
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT name, creator_id, created_at, updated_at FROM maps WHERE id = ?`, id,
	).Scan(&m.Name, &m.CreatorID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting map %q", id)
	}
	m.CreatedAt, m.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)

	if m.Anchors, err = s.anchors(ctx, id); err != nil {
		return nil, errors.Wrapf(err, "getting anchors of map %q", id)
	}
	if m.Waypoints, err = s.waypoints(ctx, id); err != nil {
		return nil, errors.Wrapf(err, "getting waypoints of map %q", id)
	}
	return &m, nil
}

func (s *sqliteStore) anchors(ctx context.Context, mapID string) (anchors []spatialmap.Anchor, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cloud_anchor_id, name, tx, ty, tz, local_x, local_y, local_z, qx, qy, qz, qw, created_at
		FROM anchors WHERE map_id = ? ORDER BY position`, mapID)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, rows.Close())
	}()
	for rows.Next() {
		var a spatialmap.Anchor
		var created int64
		if err := rows.Scan(&a.CloudID, &a.Name, &a.WorldX, &a.WorldY, &a.WorldZ,
			&a.LocalX, &a.LocalY, &a.LocalZ,
			&a.LocalQuaternion[0], &a.LocalQuaternion[1], &a.LocalQuaternion[2], &a.LocalQuaternion[3],
			&created,
		); err != nil {
			return nil, err
		}
		a.CreatedAt = fromUnixNano(created)
		anchors = append(anchors, a)
	}
	return anchors, rows.Err()
}

func (s *sqliteStore) waypoints(ctx context.Context, mapID string) ([]spatialmap.WaypointData, error) {
	edges, err := s.edges(ctx, mapID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reference_anchor_id, relative_translation, relative_rotation, local_translation, created_at
		FROM waypoints WHERE map_id = ? ORDER BY position`, mapID)
	if err != nil {
		return nil, err
	}
	var waypoints []spatialmap.WaypointData
	for rows.Next() {
		var w spatialmap.WaypointData
		var relT, relR string
		var local sql.NullString
		var created int64
		if err := rows.Scan(&w.ID, &w.ReferenceAnchorID, &relT, &relR, &local, &created); err != nil {
			return nil, multierr.Combine(err, rows.Close())
		}
		if err := json.Unmarshal([]byte(relT), &w.RelativeTranslation); err != nil {
			return nil, multierr.Combine(err, rows.Close())
		}
		if err := json.Unmarshal([]byte(relR), &w.RelativeRotation); err != nil {
			return nil, multierr.Combine(err, rows.Close())
		}
		if local.Valid {
			if err := json.Unmarshal([]byte(local.String), &w.LocalTranslation); err != nil {
				return nil, multierr.Combine(err, rows.Close())
			}
		}
		w.CreatedAt = fromUnixNano(created)
		w.ConnectedWaypointIDs = edges[w.ID]
		waypoints = append(waypoints, w)
	}
	return waypoints, multierr.Combine(rows.Err(), rows.Close())
}

func (s *sqliteStore) edges(ctx context.Context, mapID string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT waypoint_id, connected_id FROM waypoint_edges
		WHERE map_id = ? ORDER BY waypoint_id, position`, mapID)
	if err != nil {
		return nil, err
	}
	edges := map[string][]string{}
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, multierr.Combine(err, rows.Close())
		}
		edges[from] = append(edges[from], to)
	}
	return edges, multierr.Combine(rows.Err(), rows.Close())
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM maps WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "deleting map %q", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "deleting map %q", id)
	}
	if n == 0 {
		return errors.Wrap(ErrNotFound, id)
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context) ([]*spatialmap.Map, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM maps ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "listing maps")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, multierr.Combine(err, rows.Close())
		}
		ids = append(ids, id)
	}
	if err := multierr.Combine(rows.Err(), rows.Close()); err != nil {
		return nil, errors.Wrap(err, "listing maps")
	}

	maps := make([]*spatialmap.Map, 0, len(ids))
	for _, id := range ids {
		m, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		maps = append(maps, m)
	}
	return maps, nil
}

func (s *sqliteStore) Close(ctx context.Context) error {
	return s.db.Close()
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

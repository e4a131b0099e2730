// Package journal persists precac scheduler events in SQLite so radar hits,
// completed CAC periods and channel changes can be audited after the fact.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/dfs-precac/internal/logging"
	"github.com/signalsfoundry/dfs-precac/internal/precac"
	"github.com/signalsfoundry/dfs-precac/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrClosed indicates use of a journal after Close.
var ErrClosed = errors.New("journal closed")

// Journal is an append-only event log backed by SQLite.
type Journal struct {
	db  *sql.DB
	log logging.Logger
}

var _ precac.EventRecorder = (*Journal)(nil)

// Open opens (or creates) the journal at path and applies pending
// migrations. Use ":memory:" for a throwaway journal.
func Open(ctx context.Context, path string, log logging.Logger) (*Journal, error) {
	if log == nil {
		log = logging.Noop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure journal: %w", err)
	}

	j := &Journal{db: db, log: log.With(logging.String("component", "journal"))}
	if err := j.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	v, _, _ := j.Version()
	j.log.Info(ctx, "journal opened",
		logging.String("path", path),
		logging.Int("schema_version", int(v)),
	)
	return j, nil
}

func (j *Journal) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load journal migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(j.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{log: j.log}
	return m, nil
}

// The migrate instance is not closed: closing it closes the shared *sql.DB.
func (j *Journal) migrateUp() error {
	m, err := j.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("journal migration up failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version and dirty state.
func (j *Journal) Version() (version uint, dirty bool, err error) {
	m, err := j.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Record appends ev. A missing ID is filled with a random UUID and a zero
// timestamp with the current time.
func (j *Journal) Record(ctx context.Context, ev precac.Event) error {
	if j.db == nil {
		return ErrClosed
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO precac_events (id, event_id, at_ns, kind, radio, channel, width, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.EventID, ev.At.UnixNano(), string(ev.Kind), ev.Radio, int(ev.Channel), int(ev.Width), ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("record %s event: %w", ev.Kind, err)
	}
	return nil
}

// List returns up to limit of the most recent events, newest first. A
// non-positive limit returns every event.
func (j *Journal) List(ctx context.Context, limit int) ([]precac.Event, error) {
	if j.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, event_id, at_ns, kind, radio, channel, width, detail
		 FROM precac_events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []precac.Event
	for rows.Next() {
		var (
			ev           precac.Event
			atNs         int64
			kind         string
			channel, wid int
		)
		if err := rows.Scan(&ev.ID, &ev.EventID, &atNs, &kind, &ev.Radio, &channel, &wid, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.At = time.Unix(0, atNs)
		ev.Kind = precac.EventKind(kind)
		ev.Channel = model.Channel(channel)
		ev.Width = model.Width(wid)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountByKind returns the number of stored events per kind.
func (j *Journal) CountByKind(ctx context.Context) (map[precac.EventKind]int, error) {
	if j.db == nil {
		return nil, ErrClosed
	}
	rows, err := j.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM precac_events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	out := make(map[precac.EventKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[precac.EventKind(kind)] = n
	}
	return out, rows.Err()
}

// Close releases the database. It must not race with Record or List.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// migrateLogger routes golang-migrate output through the structured logger.
type migrateLogger struct {
	log logging.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(context.Background(), fmt.Sprintf("[migrate] "+format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}

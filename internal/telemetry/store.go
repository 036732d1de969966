// Package telemetry persists periodic receive engine counters and the
// command replies the dispatcher stores, so a session can be inspected after
// the fact with SQL.
package telemetry

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/multisense/internal/httputil"
	"github.com/banshee-data/multisense/internal/rx"
	"github.com/banshee-data/multisense/internal/wire"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a SQLite database holding engine snapshots and replies.
type Store struct {
	*sql.DB
	path string
}

// Open opens or creates the database at path and brings its schema up to
// date. Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}
	// One connection keeps the pragmas and an in-memory database consistent.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func applyPragmas(db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

// MigrateUp runs all pending migrations.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the shared database handle.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied schema version and dirty state.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// RecordStats stores one engine snapshot taken at at.
func (s *Store) RecordStats(at time.Time, st rx.Stats) error {
	_, err := s.Exec(`
		INSERT INTO rx_stats (
			recorded_at, datagrams, bytes, messages, dropped,
			framing_errors, late_fragments, alloc_failures, pool_exhausted,
			assemble_errors, dispatch_errors, panics, tracker_evictions,
			missing_metadata, unknown_messages, small_in_use, large_in_use,
			latency_p50_ms, latency_p99_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		at.UnixNano(), st.Datagrams, st.Bytes, st.Messages, st.Dropped(),
		st.FramingErrors, st.LateFragments, st.AllocFailures, st.PoolExhausted,
		st.AssembleErrors, st.DispatchErrors, st.Panics, st.TrackerEvictions,
		st.Dispatch.MissingMetadata, st.Dispatch.Unknown, st.Pool.Small.InUse, st.Pool.Large.InUse,
		st.Latency.P50Ms, st.Latency.P99Ms,
	)
	if err != nil {
		return fmt.Errorf("failed to record stats: %w", err)
	}
	return nil
}

// RecordReply stores a reply as JSON.
func (s *Store) RecordReply(at time.Time, m wire.Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode %s reply: %w", m.MessageID(), err)
	}
	id := m.MessageID()
	if _, err := s.Exec(`INSERT INTO replies (recorded_at, message_id, name, body) VALUES (?, ?, ?, ?)`,
		at.UnixNano(), uint16(id), id.String(), string(body)); err != nil {
		return fmt.Errorf("failed to record %s reply: %w", id, err)
	}
	return nil
}

// StatsRow is one stored snapshot.
type StatsRow struct {
	RecordedAt time.Time `json:"recorded_at"`
	Datagrams  uint64    `json:"datagrams"`
	Bytes      uint64    `json:"bytes"`
	Messages   uint64    `json:"messages"`
	Dropped    uint64    `json:"dropped"`
	P50Ms      float64   `json:"latency_p50_ms"`
	P99Ms      float64   `json:"latency_p99_ms"`
}

// RecentStats returns up to limit snapshots, newest first.
func (s *Store) RecentStats(limit int) ([]StatsRow, error) {
	rows, err := s.Query(`
		SELECT recorded_at, datagrams, bytes, messages, dropped, latency_p50_ms, latency_p99_ms
		FROM rx_stats ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var out []StatsRow
	for rows.Next() {
		var r StatsRow
		var ns int64
		if err := rows.Scan(&ns, &r.Datagrams, &r.Bytes, &r.Messages, &r.Dropped, &r.P50Ms, &r.P99Ms); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		r.RecordedAt = time.Unix(0, ns).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplyRow is one stored reply.
type ReplyRow struct {
	RecordedAt time.Time       `json:"recorded_at"`
	ID         wire.ID         `json:"id"`
	Name       string          `json:"name"`
	Body       json.RawMessage `json:"body"`
}

// RecentReplies returns up to limit replies, newest first.
func (s *Store) RecentReplies(limit int) ([]ReplyRow, error) {
	rows, err := s.Query(`
		SELECT recorded_at, message_id, name, body
		FROM replies ORDER BY recorded_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query replies: %w", err)
	}
	defer rows.Close()

	var out []ReplyRow
	for rows.Next() {
		var r ReplyRow
		var ns int64
		var id uint16
		var body string
		if err := rows.Scan(&ns, &id, &r.Name, &body); err != nil {
			return nil, fmt.Errorf("failed to scan reply row: %w", err)
		}
		r.RecordedAt = time.Unix(0, ns).UTC()
		r.ID = wire.ID(id)
		r.Body = json.RawMessage(body)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AttachAdminRoutes mounts tailsql over the store and a JSON view of the most
// recent rows.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "MultiSense telemetry",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("telemetry", "most recent stored snapshots and replies", func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.RecentStats(20)
		if err != nil {
			httputil.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		replies, err := s.RecentReplies(20)
		if err != nil {
			httputil.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		httputil.WriteJSON(w, map[string]any{"stats": stats, "replies": replies})
	})
	return nil
}

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DB persists Collector deltas to a SQLite database on a periodic flush
// loop.
type DB struct {
	mu        sync.Mutex
	conn      *sqlite.Conn
	collector *Collector
	logger    *slog.Logger
	interval  time.Duration
	cancel    context.CancelFunc
	done      chan struct{}

	lastHosts   map[string]int64
	lastStages  map[string]int64
	lastLabels  map[string]int64
}

// Open opens or creates a telemetry database at dbPath.
func Open(dbPath string, collector *Collector, logger *slog.Logger, flushInterval time.Duration) (*DB, error) {
	conn, err := sqlite.OpenConn(dbPath, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}

	db := &DB{
		conn:       conn,
		collector:  collector,
		logger:     logger,
		interval:   flushInterval,
		done:       make(chan struct{}),
		lastHosts:  make(map[string]int64),
		lastStages: make(map[string]int64),
		lastLabels: make(map[string]int64),
	}

	if err := db.ensureSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

// ensureSchema creates the telemetry tables.
func (db *DB) ensureSchema() error {
	return sqlitex.ExecuteScript(db.conn, `
		CREATE TABLE IF NOT EXISTS host_captures (
			host  TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0
		) WITHOUT ROWID;

		CREATE TABLE IF NOT EXISTS stage_events (
			stage TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0
		) WITHOUT ROWID;

		CREATE TABLE IF NOT EXISTS finding_kinds (
			label TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0
		) WITHOUT ROWID;
	`, nil)
}

// Start begins the background flush loop.
func (db *DB) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	db.cancel = cancel
	go db.flushLoop(ctx)
}

// Close stops the flush loop, performs a final flush, and closes the
// database.
func (db *DB) Close() error {
	if db.cancel != nil {
		db.cancel()
		<-db.done
	}
	if err := db.Flush(); err != nil {
		db.logger.Error("final telemetry flush failed", "error", err)
	}
	return db.conn.Close()
}

func (db *DB) flushLoop(ctx context.Context) {
	defer close(db.done)
	ticker := time.NewTicker(db.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.Flush(); err != nil {
				db.logger.Error("telemetry flush failed", "error", err)
			}
		}
	}
}

// Flush computes deltas since the last flush and upserts them into SQLite.
func (db *DB) Flush() (err error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	defer sqlitex.Save(db.conn)(&err)

	if err = db.flushCounts("host_captures", "host", db.collector.SnapshotHosts(), db.lastHosts); err != nil {
		return err
	}
	if err = db.flushLabelCounts("stage_events", "stage", db.collector.SnapshotStages(), db.lastStages); err != nil {
		return err
	}
	return db.flushLabelCounts("finding_kinds", "label", db.collector.SnapshotFindingKinds(), db.lastLabels)
}

func (db *DB) flushCounts(table, keyCol string, snap []HostCount, last map[string]int64) error {
	for _, hc := range snap {
		delta := hc.Count - last[hc.Host]
		last[hc.Host] = hc.Count
		if delta == 0 {
			continue
		}
		err := sqlitex.Execute(db.conn, fmt.Sprintf(`
			INSERT INTO %s (%s, count) VALUES (?, ?)
			ON CONFLICT (%s) DO UPDATE SET count = count + excluded.count
		`, table, keyCol, keyCol), &sqlitex.ExecOptions{
			Args: []any{hc.Host, delta},
		})
		if err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
	}
	return nil
}

func (db *DB) flushLabelCounts(table, keyCol string, snap []LabelCount, last map[string]int64) error {
	for _, lc := range snap {
		delta := lc.Count - last[lc.Label]
		last[lc.Label] = lc.Count
		if delta == 0 {
			continue
		}
		err := sqlitex.Execute(db.conn, fmt.Sprintf(`
			INSERT INTO %s (%s, count) VALUES (?, ?)
			ON CONFLICT (%s) DO UPDATE SET count = count + excluded.count
		`, table, keyCol, keyCol), &sqlitex.ExecOptions{
			Args: []any{lc.Label, delta},
		})
		if err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
	}
	return nil
}

// TopHosts returns the top n hosts by cumulative capture count from the
// database.
func (db *DB) TopHosts(n int) ([]HostCount, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []HostCount
	err := sqlitex.Execute(db.conn, `
		SELECT host, count FROM host_captures ORDER BY count DESC LIMIT ?
	`, &sqlitex.ExecOptions{
		Args: []any{n},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out = append(out, HostCount{Host: stmt.ColumnText(0), Count: stmt.ColumnInt64(1)})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query host_captures: %w", err)
	}
	return out, nil
}

// Package tracestore persists scheduler events to a SQLite database so runs
// can be inspected after the fact.
package tracestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"vrtos/internal/sched"
)

//go:embed schema.sql
var schema string

const (
	// startedLayout is fixed width so that started_at sorts as text.
	startedLayout = "2006-01-02T15:04:05.000000000Z07:00"

	defaultBuffer = 4096
	batchSize     = 256
)

// Store is a sched.Tracer that queues events and writes them in batches from
// its own goroutine. Trace never blocks: when the queue is full the event is
// counted as dropped.
type Store struct {
	db    *sql.DB
	log   zerolog.Logger
	runID string

	events  chan sched.StatusEvent
	done    chan struct{}
	dropped atomic.Uint64
	seq     uint64

	closeOnce sync.Once
	closeErr  error
}

// Options tune a Store.
type Options struct {
	Buffer int // queued events before dropping; 0 = 4096
	TickMS int
	Log    zerolog.Logger
}

// Open creates or opens the database at path and registers a new run.
func Open(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("trace db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating trace db: %w", err)
	}

	s := &Store{
		db:    db,
		log:   opts.Log,
		runID: uuid.NewString(),
		done:  make(chan struct{}),
	}
	buf := opts.Buffer
	if buf <= 0 {
		buf = defaultBuffer
	}
	s.events = make(chan sched.StatusEvent, buf)
	_, err = db.ExecContext(ctx,
		`INSERT INTO runs(run_id, started_at, tick_ms) VALUES(?,?,?)`,
		s.runID, formatStarted(time.Now()), opts.TickMS)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registering run: %w", err)
	}

	go s.writer()
	return s, nil
}

// RunID identifies the events of this run in the database.
func (s *Store) RunID() string { return s.runID }

// Dropped returns how many events did not fit the queue.
func (s *Store) Dropped() uint64 { return s.dropped.Load() }

func (s *Store) Trace(ev sched.StatusEvent) {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Close flushes the queue and closes the database. Trace must not be called
// afterwards.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.events)
		<-s.done
		_, err := s.db.Exec(`UPDATE runs SET dropped = ? WHERE run_id = ?`, s.Dropped(), s.runID)
		s.closeErr = errors.Join(err, s.db.Close())
	})
	return s.closeErr
}

func (s *Store) writer() {
	defer close(s.done)
	batch := make([]sched.StatusEvent, 0, batchSize)
	for ev := range s.events {
		batch = append(batch[:0], ev)
	fill:
		for len(batch) < batchSize {
			select {
			case ev, ok := <-s.events:
				if !ok {
					break fill
				}
				batch = append(batch, ev)
			default:
				break fill
			}
		}
		if err := s.insert(batch); err != nil {
			s.log.Warn().Err(err).Int("events", len(batch)).Msg("trace db write failed")
		}
	}
}

func (s *Store) insert(batch []sched.StatusEvent) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO events(run_id, seq, tick, event, task_id, task, priority, detail)
		VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, ev := range batch {
		s.seq++
		_, err := stmt.Exec(s.runID, s.seq, int64(ev.Tick), ev.Kind.String(),
			int64(ev.TaskID), nullStr(ev.Task), ev.Priority, nullStr(ev.Detail))
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Event is one stored row.
type Event struct {
	Seq      uint64
	Tick     sched.Tick
	Kind     string
	TaskID   sched.TaskID
	Task     string
	Priority int
	Detail   string
}

// Run is one registered run.
type Run struct {
	ID        string
	StartedAt string
	TickMS    int
	Dropped   uint64
	Events    int
}

// Runs lists the runs stored in the database at path, oldest first.
func Runs(ctx context.Context, path string) ([]Run, error) {
	db, err := openExisting(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT r.run_id, r.started_at, r.tick_ms, r.dropped,
		(SELECT COUNT(*) FROM events e WHERE e.run_id = r.run_id)
		FROM runs r ORDER BY r.started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.TickMS, &r.Dropped, &r.Events); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events returns the stored events of a run in emission order. A non-empty
// kind keeps only events of that kind.
func Events(ctx context.Context, path, runID, kind string) ([]Event, error) {
	db, err := openExisting(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	q := `SELECT seq, tick, event, task_id, COALESCE(task, ''), priority, COALESCE(detail, '')
		FROM events WHERE run_id = ?`
	args := []any{runID}
	if kind != "" {
		q += ` AND event = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY seq`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var tick, id int64
		if err := rows.Scan(&e.Seq, &tick, &e.Kind, &id, &e.Task, &e.Priority, &e.Detail); err != nil {
			return nil, err
		}
		e.Tick = sched.Tick(tick)
		e.TaskID = sched.TaskID(id)
		out = append(out, e)
	}
	return out, rows.Err()
}

func openExisting(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening trace db: %w", err)
	}
	return sql.Open("sqlite", path)
}

func formatStarted(t time.Time) string {
	return t.UTC().Format(startedLayout)
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

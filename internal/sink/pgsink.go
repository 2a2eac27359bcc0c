package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/shortontech/gosegment/internal/metrics"
)

// PGConfig holds configuration for the Postgres outbox sink.
type PGConfig struct {
	DSN       string
	Table     string
	BatchSize int
	FlushMS   int
	UseCopy   bool
}

// PGSink writes messages to an outbox table in batches. A separate
// dispatcher is expected to replay rows whose dispatched_at is null.
type PGSink struct {
	config  PGConfig
	db      *sql.DB
	metrics *metrics.Metrics

	mu    sync.Mutex
	batch []Message

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

const (
	defaultPGTable = "segment_requests"
	// backlog kept in memory while the database is unavailable, in batches
	maxPendingBatches = 10
	// Postgres caps bind parameters per statement at 65535
	maxInsertParams = 65535
	pgColumns       = 4
	flushTimeout    = 30 * time.Second
)

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

var errBacklogFull = errors.New("pg sink backlog full")

func validateTableName(name string) error {
	if !tableNameRE.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// NewPGSinkFromEnv creates a PGSink from PG_* environment variables.
func NewPGSinkFromEnv() *PGSink {
	return &PGSink{
		config: PGConfig{
			DSN:       getEnvOr("PG_DSN", "postgres://localhost:5432/gosegment?sslmode=disable"),
			Table:     getEnvOr("PG_TABLE", defaultPGTable),
			BatchSize: getIntEnv("PG_BATCH_SIZE", 500),
			FlushMS:   getIntEnv("PG_FLUSH_MS", 500),
			UseCopy:   getBoolEnv("PG_COPY", true),
		},
		metrics: metrics.GetMetrics(),
	}
}

// NewPGSink creates a PGSink for dsn with default batching.
func NewPGSink(dsn string) *PGSink {
	return &PGSink{
		config: PGConfig{
			DSN:       dsn,
			Table:     defaultPGTable,
			BatchSize: 500,
			FlushMS:   500,
			UseCopy:   true,
		},
	}
}

func (s *PGSink) Name() string { return "postgres" }

func (s *PGSink) Start(ctx context.Context) error {
	if err := validateTableName(s.config.Table); err != nil {
		return err
	}

	db, err := sql.Open("postgres", s.config.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db

	if err := s.ensureSchema(); err != nil {
		db.Close()
		s.db = nil
		return err
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.flushRoutine()

	log.Printf("pgsink: writing to table %s (batch=%d, flush=%dms, copy=%v)",
		s.config.Table, s.config.BatchSize, s.config.FlushMS, s.config.UseCopy)
	return nil
}

func (s *PGSink) ensureSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	t := s.config.Table
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id            BIGSERIAL PRIMARY KEY,
	message_id    TEXT        NOT NULL,
	kind          TEXT        NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	request       JSONB       NOT NULL,
	dispatched_at TIMESTAMPTZ
)`, t)
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t, err)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_created ON %s (created_at)", t, t),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_pending ON %s (id) WHERE dispatched_at IS NULL", t, t),
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func (s *PGSink) Enqueue(m Message) error {
	s.mu.Lock()
	limit := s.config.BatchSize * maxPendingBatches
	if limit > 0 && len(s.batch) >= limit {
		s.mu.Unlock()
		return errBacklogFull
	}
	s.batch = append(s.batch, m)
	depth := len(s.batch)
	full := s.config.BatchSize > 0 && depth >= s.config.BatchSize
	s.mu.Unlock()

	s.metrics.SetQueueDepth(s.Name(), float64(depth))
	if !full {
		return nil
	}
	// A failed flush keeps the batch for the flush routine to retry, so the
	// message is still accepted.
	if err := s.flushBatch(); err != nil {
		log.Printf("pgsink: flush on full batch failed, %d pending: %v", depth, err)
	}
	return nil
}

// flushBatch writes the pending batch. On failure the batch is kept for the
// next attempt.
func (s *PGSink) flushBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.batch) == 0 {
		return nil
	}
	if s.db == nil {
		return errors.New("pg sink not started")
	}

	start := time.Now()
	var err error
	if s.config.UseCopy {
		err = s.flushWithCopy()
	} else {
		err = s.flushWithInsert()
	}
	if err != nil {
		s.metrics.IncrementSinkErrors(s.Name(), "flush_error")
		return err
	}

	s.metrics.ObserveBatchFlushLatency(s.Name(), time.Since(start))
	s.batch = s.batch[:0]
	s.metrics.SetQueueDepth(s.Name(), 0)
	return nil
}

func messageRow(m Message) ([]any, error) {
	req, err := json.Marshal(m.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request %s: %w", m.ID, err)
	}
	return []any{m.ID, string(m.Kind), m.CreatedAt, string(req)}, nil
}

// flushWithInsert issues multi-row INSERTs; callers hold s.mu.
func (s *PGSink) flushWithInsert() error {
	if len(s.batch) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	rowsPerStmt := maxInsertParams / pgColumns
	for lo := 0; lo < len(s.batch); lo += rowsPerStmt {
		hi := min(lo+rowsPerStmt, len(s.batch))
		query, args, err := s.insertStatement(s.batch[lo:hi])
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}
	}
	return nil
}

func (s *PGSink) insertStatement(msgs []Message) (string, []any, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (message_id, kind, created_at, request) VALUES ", s.config.Table)
	args := make([]any, 0, len(msgs)*pgColumns)
	for i, m := range msgs {
		row, err := messageRow(m)
		if err != nil {
			return "", nil, err
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * pgColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, row...)
	}
	return sb.String(), args, nil
}

// flushWithCopy streams the batch with COPY FROM STDIN; callers hold s.mu.
func (s *PGSink) flushWithCopy() error {
	if len(s.batch) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(s.config.Table, "message_id", "kind", "created_at", "request"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}
	defer stmt.Close()

	for _, m := range s.batch {
		row, err := messageRow(m)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("failed to copy row: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to finish copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit copy: %w", err)
	}
	return nil
}

func (s *PGSink) flushRoutine() {
	defer close(s.done)

	interval := time.Duration(s.config.FlushMS) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.flushBatch(); err != nil {
				log.Printf("pgsink: periodic flush failed: %v", err)
			}
		}
	}
}

// Close stops the flush loop, writes what is left and closes the pool.
func (s *PGSink) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	if s.db == nil {
		return nil
	}

	var errs []error
	if err := s.flushBatch(); err != nil {
		errs = append(errs, fmt.Errorf("final flush: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	s.db = nil
	return errors.Join(errs...)
}

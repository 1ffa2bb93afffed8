// Package journal appends committed diffs to Postgres for session replay
// and desync forensics. Strictly optional: journaling failures are logged
// and never reach the tick loop.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/scaleworld/client/internal/config"
	"github.com/scaleworld/client/internal/entity"
)

// DB wraps a pgx connection pool.
type DB struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

func NewDB(ctx context.Context, cfg config.JournalConfig, log *zap.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &DB{Pool: pool, log: log}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

// entryRec is one journal row.
type entryRec struct {
	EntityID  string
	Op        string
	Version   uint64
	Frame     []byte
	AppliedAt time.Time
}

const (
	bufferSize    = 1024
	batchSize     = 64
	flushInterval = time.Second
)

// Journal is the async writer. RecordApplied is called on the tick
// goroutine and must never block — when the buffer is full, entries are
// dropped and counted, not waited on.
type Journal struct {
	db   *DB
	log  *zap.Logger
	ch   chan entryRec
	done chan struct{}

	dropped uint64
}

func New(db *DB, log *zap.Logger) *Journal {
	j := &Journal{
		db:   db,
		log:  log,
		ch:   make(chan entryRec, bufferSize),
		done: make(chan struct{}),
	}
	go j.writeLoop()
	return j
}

// RecordApplied implements apply.Recorder.
func (j *Journal) RecordApplied(d entity.Diff, version uint64) {
	raw, err := entity.EncodeDiff(d)
	if err != nil {
		j.log.Warn("journal: encode failed", zap.String("entity", d.EntityID), zap.Error(err))
		return
	}
	select {
	case j.ch <- entryRec{
		EntityID:  d.EntityID,
		Op:        string(d.Op),
		Version:   version,
		Frame:     raw,
		AppliedAt: time.Now(),
	}:
	default:
		j.dropped++
		j.log.Warn("journal buffer full, entry dropped", zap.String("entity", d.EntityID))
	}
}

// Close flushes buffered entries and stops the writer.
func (j *Journal) Close() {
	close(j.ch)
	<-j.done
}

func (j *Journal) writeLoop() {
	defer close(j.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]entryRec, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.writeBatch(context.Background(), batch); err != nil {
			j.log.Warn("journal write failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-j.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// writeBatch inserts a batch in one transaction.
func (j *Journal) writeBatch(ctx context.Context, entries []entryRec) error {
	tx, err := j.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO diff_journal (entity_id, op, version, frame, applied_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			e.EntityID, e.Op, e.Version, e.Frame, e.AppliedAt,
		); err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

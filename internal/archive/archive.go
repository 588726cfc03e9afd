// Package archive mirrors closed sessions into PostgreSQL so collected
// traces can be queried relationally. The append-only logs stay the source
// of truth; the archive is optional and config-gated.
package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracesmith/api/schemas"
)

// DBPool abstracts the pgxpool.Pool so the archive can be mocked in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Archive persists sessions and their action records to PostgreSQL.
type Archive struct {
	pool DBPool
	log  *zap.Logger
}

// New creates an Archive and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Archive, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Archive{
		pool: pool,
		log:  logger.Named("archive"),
	}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS trace_sessions (
    id               TEXT PRIMARY KEY,
    task_description TEXT NOT NULL,
    start_url        TEXT NOT NULL,
    model            TEXT NOT NULL,
    success          BOOLEAN NOT NULL,
    human_rating     INT,
    human_feedback   TEXT,
    started_at       TIMESTAMPTZ NOT NULL,
    ended_at         TIMESTAMPTZ NOT NULL,
    total_elapsed_ms BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS trace_actions (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL REFERENCES trace_sessions(id),
    action_index INT NOT NULL,
    kind        TEXT NOT NULL,
    instruction TEXT NOT NULL,
    selector    TEXT,
    value       TEXT,
    success     BOOLEAN NOT NULL,
    error       TEXT,
    started_at  TIMESTAMPTZ NOT NULL,
    elapsed_ms  BIGINT NOT NULL,
    before_state JSONB NOT NULL,
    after_state  JSONB NOT NULL
);
`

// EnsureSchema creates the archive tables when they do not exist yet.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure archive schema: %w", err)
	}
	return nil
}

const sqlInsertSession = `
INSERT INTO trace_sessions (id, task_description, start_url, model, success, human_rating, human_feedback, started_at, ended_at, total_elapsed_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`

// ArchiveSession inserts a closed session and all of its action records in
// one transaction.
func (a *Archive) ArchiveSession(ctx context.Context, sess *schemas.Session) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			a.log.Error("Failed to rollback transaction.", zap.Error(rollbackErr))
		}
	}()

	// Ratings are 1-5; 0 means unset and archives as NULL.
	var rating any
	if sess.HumanRating > 0 {
		rating = sess.HumanRating
	}

	if _, err := tx.Exec(ctx, sqlInsertSession,
		sess.ID, sess.TaskDescription, sess.StartURL, sess.Model,
		sess.Success, rating, sess.HumanFeedback,
		sess.StartedAt.UTC(), sess.EndedAt.UTC(), sess.TotalElapsedMs,
	); err != nil {
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}

	if len(sess.Actions) > 0 {
		if err := a.archiveActions(ctx, tx, sess); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (a *Archive) archiveActions(ctx context.Context, tx pgx.Tx, sess *schemas.Session) error {
	rows := make([][]interface{}, len(sess.Actions))
	for i := range sess.Actions {
		rec := &sess.Actions[i]

		before, err := json.Marshal(rec.Before)
		if err != nil {
			return fmt.Errorf("failed to marshal before-snapshot of action %s: %w", rec.ID, err)
		}
		after, err := json.Marshal(rec.After)
		if err != nil {
			return fmt.Errorf("failed to marshal after-snapshot of action %s: %w", rec.ID, err)
		}

		rows[i] = []interface{}{
			rec.ID, sess.ID, i,
			string(rec.Kind), rec.Instruction, rec.Selector, rec.Value,
			rec.Success, rec.Error,
			rec.StartedAt.UTC(), rec.ElapsedMs,
			before, after,
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"trace_actions"},
		[]string{"id", "session_id", "action_index", "kind", "instruction", "selector", "value", "success", "error", "started_at", "elapsed_ms", "before_state", "after_state"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy action records: %w", err)
	}
	if int(copyCount) != len(sess.Actions) {
		return fmt.Errorf("mismatch in copied action count: expected %d, got %d", len(sess.Actions), copyCount)
	}
	return nil
}

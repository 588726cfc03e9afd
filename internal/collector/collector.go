// Package collector is the trace-collection core: it wraps each automated
// action with before/after snapshots and owns the session lifecycle. A
// collector drives exactly one page at a time, so calls are expected to be
// serialized by the caller; the open-session precondition is a checked
// invariant, not a lock.
package collector

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracesmith/api/schemas"
	"github.com/xkilldash9x/tracesmith/internal/config"
	"github.com/xkilldash9x/tracesmith/internal/snapshot"
	"github.com/xkilldash9x/tracesmith/internal/synth"
	"github.com/xkilldash9x/tracesmith/internal/tracelog"
)

var (
	// ErrSessionActive is returned by StartSession while a session is open.
	ErrSessionActive = errors.New("a session is already active")
	// ErrNoActiveSession is returned by Record and EndSession when no
	// session is open.
	ErrNoActiveSession = errors.New("no active session")
)

// SessionArchiver mirrors closed sessions into a secondary store. The
// append-only logs remain the source of truth; archiving failures are logged,
// not fatal.
type SessionArchiver interface {
	ArchiveSession(ctx context.Context, sess *schemas.Session) error
}

// Collector records automated actions into sessions and synthesizes training
// data when a session closes. At most one session is open per collector.
type Collector struct {
	store    *tracelog.Store
	capturer *snapshot.Capturer
	synth    *synth.Synthesizer
	log      *zap.Logger

	settleDelay        time.Duration
	captureScreenshots bool
	archive            SessionArchiver

	current *schemas.Session
}

// Option configures optional collector collaborators.
type Option func(*Collector)

// WithArchiver attaches an optional session archive.
func WithArchiver(a SessionArchiver) Option {
	return func(c *Collector) { c.archive = a }
}

// New returns a Collector writing to the given store.
func New(cfg config.CollectorConfig, store *tracelog.Store, logger *zap.Logger, opts ...Option) *Collector {
	c := &Collector{
		store:              store,
		capturer:           snapshot.NewCapturer(logger),
		synth:              synth.NewSynthesizer(store, logger),
		log:                logger.Named("collector"),
		settleDelay:        cfg.SettleDelay,
		captureScreenshots: cfg.CaptureScreenshots,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Synthesizer exposes the collector's synthesizer for explicit cross-session
// comparisons.
func (c *Collector) Synthesizer() *synth.Synthesizer { return c.synth }

// OpenSessionActions returns a read-only view of the open session's recorded
// actions, or nil when no session is open.
func (c *Collector) OpenSessionActions() []schemas.ActionRecord {
	if c.current == nil {
		return nil
	}
	return c.current.Actions
}

// ActiveSessionID returns the id of the open session, or "" when none is open.
func (c *Collector) ActiveSessionID() string {
	if c.current == nil {
		return ""
	}
	return c.current.ID
}

// StartSession opens a new session. It fails without mutating any state when
// a session is already open.
func (c *Collector) StartSession(task, startURL, model string) (string, error) {
	if c.current != nil {
		return "", fmt.Errorf("%w: %s", ErrSessionActive, c.current.ID)
	}

	sess := &schemas.Session{
		ID:              uuid.New().String(),
		TaskDescription: task,
		StartURL:        startURL,
		Model:           model,
		Actions:         []schemas.ActionRecord{},
		StartedAt:       time.Now().UTC(),
	}
	c.current = sess

	c.log.Info("Session started.",
		zap.String("session_id", sess.ID),
		zap.String("task", task),
		zap.String("start_url", startURL),
	)
	return sess.ID, nil
}

// RecordRequest describes the action about to be executed.
type RecordRequest struct {
	Kind        schemas.ActionKind
	Instruction string
	Selector    string
	Value       string
}

// ExecuteFunc is the externally supplied action executor wrapped by Record.
type ExecuteFunc func(ctx context.Context) (string, error)

// Record wraps one automated action with before/after snapshot capture and
// appends the resulting record to the open session and to the durable trace
// log. An execute failure is captured into the record, never propagated: the
// returned error covers only infrastructure failures (no open session,
// snapshot capture, storage), and the caller may inspect the record to
// re-raise the execution error. Exactly one record is produced per call.
func (c *Collector) Record(ctx context.Context, page schemas.PageCapability, req RecordRequest, execute ExecuteFunc) (string, *schemas.ActionRecord, error) {
	if c.current == nil {
		return "", nil, ErrNoActiveSession
	}

	rec := schemas.ActionRecord{
		ID:          uuid.New().String(),
		SessionID:   c.current.ID,
		Kind:        req.Kind,
		Instruction: req.Instruction,
		Selector:    req.Selector,
		Value:       req.Value,
		StartedAt:   time.Now().UTC(),
	}

	before, err := c.capturer.Capture(ctx, page)
	if err != nil {
		return "", nil, fmt.Errorf("failed to capture before-snapshot: %w", err)
	}
	rec.Before = before
	rec.BeforeScreenshot = c.takeScreenshot(ctx, page, rec.SessionID, rec.ID, "before")

	result, execErr := runExecute(ctx, execute)

	// Unconditional settle pause so asynchronous page effects can land
	// before the after-state is observed. A heuristic, not a stability
	// guarantee.
	time.Sleep(c.settleDelay)

	after, err := c.capturer.Capture(ctx, page)
	if err != nil {
		return "", nil, fmt.Errorf("failed to capture after-snapshot: %w", err)
	}
	rec.After = after
	rec.AfterScreenshot = c.takeScreenshot(ctx, page, rec.SessionID, rec.ID, "after")

	rec.ElapsedMs = time.Since(rec.StartedAt).Milliseconds()
	if execErr != nil {
		rec.Success = false
		rec.Error = execErr.Error()
		result = ""
	} else {
		rec.Success = true
	}

	c.current.Actions = append(c.current.Actions, rec)
	if err := c.store.AppendTrace(&rec); err != nil {
		// The log is the system's value; a persistence failure is fatal.
		return "", nil, err
	}

	c.log.Debug("Action recorded.",
		zap.String("session_id", rec.SessionID),
		zap.String("action_id", rec.ID),
		zap.String("kind", string(rec.Kind)),
		zap.Bool("success", rec.Success),
		zap.Int64("elapsed_ms", rec.ElapsedMs),
	)
	return result, &rec, nil
}

// runExecute invokes the action executor, converting a panic into an error so
// the trace is never lost to a misbehaving executor.
func runExecute(ctx context.Context, execute ExecuteFunc) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action executor panicked: %v", r)
		}
	}()
	return execute(ctx)
}

// takeScreenshot captures one screenshot when enabled, returning its path or
// "" on failure; screenshot loss never fails a record.
func (c *Collector) takeScreenshot(ctx context.Context, page schemas.PageCapability, sessionID, actionID, marker string) string {
	if !c.captureScreenshots {
		return ""
	}
	name := fmt.Sprintf("%s_%s_%s_%d.png", sessionID, actionID, marker, time.Now().UnixNano())
	path := filepath.Join(c.store.ScreenshotDir(), name)
	if err := page.CaptureScreenshot(ctx, path); err != nil {
		c.log.Warn("Failed to capture screenshot.", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}

// EndSession closes the open session: captures the final snapshot, freezes
// the outcome, persists the session, synthesizes its SFT examples and clears
// the open-session slot. It fails without writing to any log when no session
// is open. A closed session is never reopened; a later StartSession creates
// an unrelated session.
func (c *Collector) EndSession(ctx context.Context, page schemas.PageCapability, success bool, humanRating int, humanFeedback string) (*schemas.Session, error) {
	if c.current == nil {
		return nil, ErrNoActiveSession
	}
	if humanRating < 0 || humanRating > 5 {
		return nil, fmt.Errorf("human rating must be between 1 and 5 (or 0 for unset), got %d", humanRating)
	}

	sess := c.current

	final, err := c.capturer.Capture(ctx, page)
	if err != nil {
		// The session's actions are already durable; losing the final
		// snapshot is not worth losing the session over.
		c.log.Warn("Failed to capture final snapshot; closing session without it.", zap.Error(err))
		final = nil
	}

	now := time.Now().UTC()
	sess.Success = success
	sess.FinalSnapshot = final
	sess.HumanRating = humanRating
	sess.HumanFeedback = humanFeedback
	sess.EndedAt = now
	sess.TotalElapsedMs = now.Sub(sess.StartedAt).Milliseconds()

	if err := c.store.AppendSession(sess); err != nil {
		return nil, err
	}

	if _, err := c.synth.SynthesizeSession(sess); err != nil {
		return nil, err
	}

	if c.archive != nil {
		if err := c.archive.ArchiveSession(ctx, sess); err != nil {
			c.log.Error("Failed to archive session; logs remain authoritative.",
				zap.String("session_id", sess.ID), zap.Error(err))
		}
	}

	c.current = nil

	c.log.Info("Session ended.",
		zap.String("session_id", sess.ID),
		zap.Bool("success", success),
		zap.Int("actions", len(sess.Actions)),
		zap.Int64("total_elapsed_ms", sess.TotalElapsedMs),
	)
	return sess, nil
}

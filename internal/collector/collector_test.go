package collector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracesmith/api/schemas"
	"github.com/xkilldash9x/tracesmith/internal/config"
	"github.com/xkilldash9x/tracesmith/internal/tracelog"
)

const testSettleDelay = 20 * time.Millisecond

// fakePage is a scripted PageCapability standing in for a real browser.
type fakePage struct {
	url    string
	title  string
	text   string
	urlErr error

	screenshots []string
}

func (f *fakePage) CurrentURL(ctx context.Context) (string, error)            { return f.url, f.urlErr }
func (f *fakePage) CurrentTitle(ctx context.Context) (string, error)          { return f.title, nil }
func (f *fakePage) ReadStructuredContent(ctx context.Context) (string, error) { return "<html></html>", nil }
func (f *fakePage) ReadVisibleText(ctx context.Context) (string, error)       { return f.text, nil }
func (f *fakePage) EnumerateInteractiveElements(ctx context.Context) ([]schemas.ElementInfo, error) {
	return nil, nil
}
func (f *fakePage) CaptureScreenshot(ctx context.Context, path string) error {
	f.screenshots = append(f.screenshots, path)
	return nil
}
func (f *fakePage) PerformAction(ctx context.Context, inst schemas.Instruction) (string, error) {
	return "ok", nil
}

func newTestCollector(t *testing.T, opts ...Option) (*Collector, *tracelog.Store) {
	t.Helper()
	store, err := tracelog.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	cfg := config.CollectorConfig{SettleDelay: testSettleDelay}
	return New(cfg, store, zap.NewNop(), opts...), store
}

func succeedWith(result string) ExecuteFunc {
	return func(ctx context.Context) (string, error) { return result, nil }
}

func TestStartSession(t *testing.T) {
	col, _ := newTestCollector(t)

	id, err := col.StartSession("extract pricing", "https://example.com", "test-model")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, col.ActiveSessionID())

	t.Run("second start fails without touching the open session", func(t *testing.T) {
		_, err := col.StartSession("another task", "https://other.example", "test-model")
		require.ErrorIs(t, err, ErrSessionActive)
		assert.Equal(t, id, col.ActiveSessionID())
		assert.Empty(t, col.OpenSessionActions())
	})
}

func TestRecord_RequiresOpenSession(t *testing.T) {
	col, store := newTestCollector(t)
	page := &fakePage{url: "https://example.com"}

	_, rec, err := col.Record(context.Background(), page, RecordRequest{Kind: schemas.ActionClick}, succeedWith("ok"))
	require.ErrorIs(t, err, ErrNoActiveSession)
	assert.Nil(t, rec)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.TraceCount)
}

func TestRecord_Success(t *testing.T) {
	col, store := newTestCollector(t)
	page := &fakePage{url: "https://example.com", title: "Example", text: "welcome"}

	id, err := col.StartSession("a task", "https://example.com", "test-model")
	require.NoError(t, err)

	result, rec, err := col.Record(context.Background(), page, RecordRequest{
		Kind:        schemas.ActionClick,
		Instruction: "Click the login button",
		Selector:    "button#login",
	}, succeedWith("clicked"))
	require.NoError(t, err)

	assert.Equal(t, "clicked", result)
	require.NotNil(t, rec)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, id, rec.SessionID)
	assert.True(t, rec.Success)
	assert.Empty(t, rec.Error)
	assert.GreaterOrEqual(t, rec.ElapsedMs, int64(0))

	// The after-snapshot must observe the page no earlier than the settle
	// delay past the before-snapshot.
	require.NotNil(t, rec.Before)
	require.NotNil(t, rec.After)
	assert.GreaterOrEqual(t, rec.After.CapturedAt.Sub(rec.Before.CapturedAt), testSettleDelay)

	assert.Len(t, col.OpenSessionActions(), 1)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TraceCount)
}

func TestRecord_ExecutionFailureIsCapturedNotPropagated(t *testing.T) {
	col, store := newTestCollector(t)
	page := &fakePage{url: "https://example.com"}

	_, err := col.StartSession("a task", "https://example.com", "test-model")
	require.NoError(t, err)

	boom := errors.New("element not found")
	result, rec, err := col.Record(context.Background(), page, RecordRequest{
		Kind:        schemas.ActionClick,
		Instruction: "Click a ghost",
		Selector:    "#ghost",
	}, func(ctx context.Context) (string, error) { return "", boom })

	require.NoError(t, err, "execution failure must not propagate as an infrastructure error")
	assert.Empty(t, result)
	require.NotNil(t, rec)
	assert.False(t, rec.Success)
	assert.NotEmpty(t, rec.Error)
	assert.Contains(t, rec.Error, "element not found")

	// The failed record is durable and part of the session.
	assert.Len(t, col.OpenSessionActions(), 1)
	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TraceCount)
}

func TestRecord_ExecutorPanicIsCaptured(t *testing.T) {
	col, _ := newTestCollector(t)
	page := &fakePage{url: "https://example.com"}

	_, err := col.StartSession("a task", "https://example.com", "test-model")
	require.NoError(t, err)

	_, rec, err := col.Record(context.Background(), page, RecordRequest{Kind: schemas.ActionExtract},
		func(ctx context.Context) (string, error) { panic("executor bug") })
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "executor bug")
}

func TestRecord_SnapshotFailureIsFatal(t *testing.T) {
	col, store := newTestCollector(t)
	page := &fakePage{urlErr: errors.New("page gone")}

	_, err := col.StartSession("a task", "https://example.com", "test-model")
	require.NoError(t, err)

	_, rec, err := col.Record(context.Background(), page, RecordRequest{Kind: schemas.ActionObserve}, succeedWith(""))
	require.Error(t, err)
	assert.Nil(t, rec)

	// A trace with a missing snapshot is not meaningful; nothing is stored.
	assert.Empty(t, col.OpenSessionActions())
	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.TraceCount)
}

func TestRecord_Screenshots(t *testing.T) {
	store, err := tracelog.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	col := New(config.CollectorConfig{SettleDelay: time.Millisecond, CaptureScreenshots: true}, store, zap.NewNop())
	page := &fakePage{url: "https://example.com"}

	_, err = col.StartSession("a task", "https://example.com", "test-model")
	require.NoError(t, err)

	_, rec, err := col.Record(context.Background(), page, RecordRequest{Kind: schemas.ActionObserve}, succeedWith(""))
	require.NoError(t, err)

	assert.NotEmpty(t, rec.BeforeScreenshot)
	assert.NotEmpty(t, rec.AfterScreenshot)
	assert.Contains(t, rec.BeforeScreenshot, rec.SessionID)
	assert.Contains(t, rec.BeforeScreenshot, rec.ID)
	assert.Contains(t, rec.BeforeScreenshot, "_before_")
	assert.Contains(t, rec.AfterScreenshot, "_after_")
	assert.Len(t, page.screenshots, 2)
}

func TestEndSession(t *testing.T) {
	col, store := newTestCollector(t)
	page := &fakePage{url: "https://example.com/done", title: "Done"}

	id, err := col.StartSession("a task", "https://example.com", "test-model")
	require.NoError(t, err)

	_, _, err = col.Record(context.Background(), page, RecordRequest{
		Kind: schemas.ActionNavigate, Instruction: "Navigate", Value: "https://example.com",
	}, succeedWith("navigated"))
	require.NoError(t, err)

	sess, err := col.EndSession(context.Background(), page, true, 4, "smooth run")
	require.NoError(t, err)

	assert.Equal(t, id, sess.ID)
	assert.True(t, sess.Success)
	assert.Equal(t, 4, sess.HumanRating)
	assert.Equal(t, "smooth run", sess.HumanFeedback)
	require.NotNil(t, sess.FinalSnapshot)
	assert.Equal(t, "https://example.com/done", sess.FinalSnapshot.URL)
	assert.GreaterOrEqual(t, sess.TotalElapsedMs, int64(0))
	assert.Empty(t, col.ActiveSessionID())

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SessionCount)
	assert.Equal(t, 1, stats.SFTExampleCount)

	t.Run("second end fails without writing", func(t *testing.T) {
		_, err := col.EndSession(context.Background(), page, true, 0, "")
		require.ErrorIs(t, err, ErrNoActiveSession)

		stats, err := store.Stats()
		require.NoError(t, err)
		assert.Equal(t, 1, stats.SessionCount)
	})
}

func TestEndSession_RejectsOutOfRangeRating(t *testing.T) {
	col, _ := newTestCollector(t)
	page := &fakePage{url: "https://example.com"}

	_, err := col.StartSession("a task", "https://example.com", "test-model")
	require.NoError(t, err)

	_, err = col.EndSession(context.Background(), page, true, 6, "")
	require.Error(t, err)
	// The session stays open for a valid retry.
	assert.NotEmpty(t, col.ActiveSessionID())
}

func TestEndSession_NoOpenSession(t *testing.T) {
	col, store := newTestCollector(t)
	page := &fakePage{url: "https://example.com"}

	_, err := col.EndSession(context.Background(), page, true, 0, "")
	require.ErrorIs(t, err, ErrNoActiveSession)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.SessionCount)
	assert.Zero(t, stats.SFTExampleCount)
}

// recordingArchiver captures archived sessions for assertions.
type recordingArchiver struct {
	archived []string
	err      error
}

func (a *recordingArchiver) ArchiveSession(ctx context.Context, sess *schemas.Session) error {
	if a.err != nil {
		return a.err
	}
	a.archived = append(a.archived, sess.ID)
	return nil
}

func TestEndSession_Archiver(t *testing.T) {
	t.Run("closed sessions are mirrored", func(t *testing.T) {
		arc := &recordingArchiver{}
		col, _ := newTestCollector(t, WithArchiver(arc))
		page := &fakePage{url: "https://example.com"}

		id, err := col.StartSession("a task", "https://example.com", "test-model")
		require.NoError(t, err)
		_, err = col.EndSession(context.Background(), page, true, 0, "")
		require.NoError(t, err)

		assert.Equal(t, []string{id}, arc.archived)
	})

	t.Run("archive failure does not fail the close", func(t *testing.T) {
		arc := &recordingArchiver{err: errors.New("db down")}
		col, store := newTestCollector(t, WithArchiver(arc))
		page := &fakePage{url: "https://example.com"}

		_, err := col.StartSession("a task", "https://example.com", "test-model")
		require.NoError(t, err)
		sess, err := col.EndSession(context.Background(), page, true, 0, "")
		require.NoError(t, err)
		require.NotNil(t, sess)

		stats, err := store.Stats()
		require.NoError(t, err)
		assert.Equal(t, 1, stats.SessionCount)
	})
}

func TestEndToEnd_ExtractPricingScenario(t *testing.T) {
	col, store := newTestCollector(t)
	page := &fakePage{url: "https://example.com/pricing", title: "Pricing", text: "Basic $10 Pro $25"}

	id, err := col.StartSession("extract pricing", "https://example.com/pricing", "test-model")
	require.NoError(t, err)

	_, nav, err := col.Record(context.Background(), page, RecordRequest{
		Kind:        schemas.ActionNavigate,
		Instruction: "Navigate to the pricing page",
		Value:       "https://example.com/pricing",
	}, succeedWith("navigated"))
	require.NoError(t, err)
	require.True(t, nav.Success)

	plans := `[{"name":"Basic","price":"$10"},{"name":"Pro","price":"$25"}]`
	result, ext, err := col.Record(context.Background(), page, RecordRequest{
		Kind:        schemas.ActionExtract,
		Instruction: "Extract the plan list",
		Value:       plans,
	}, succeedWith(plans))
	require.NoError(t, err)
	require.True(t, ext.Success)
	assert.Equal(t, plans, result)

	sess, err := col.EndSession(context.Background(), page, true, 5, "")
	require.NoError(t, err)
	require.Len(t, sess.Actions, 2)

	sessions, err := store.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Len(t, sessions[0].Actions, 2)
	assert.Equal(t, 5, sessions[0].HumanRating)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TraceCount)
	assert.Equal(t, 1, stats.SessionCount)
	assert.Equal(t, 2, stats.SFTExampleCount)
	assert.Zero(t, stats.PreferencePairCount)
}

func TestSFTProvenanceMatchesActionOrder(t *testing.T) {
	col, store := newTestCollector(t)
	page := &fakePage{url: "https://example.com"}

	id, err := col.StartSession("multi step task", "https://example.com", "test-model")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err := col.Record(context.Background(), page, RecordRequest{
			Kind:        schemas.ActionClick,
			Instruction: fmt.Sprintf("Click step %d", i),
		}, succeedWith("ok"))
		require.NoError(t, err)
	}

	examples, err := col.Synthesizer().SynthesizeSession(mustEndSession(t, col, page))
	// Re-synthesis is only reachable in tests; normal use goes through
	// EndSession exactly once.
	require.NoError(t, err)
	require.Len(t, examples, 3)
	for i, ex := range examples {
		assert.Equal(t, id, ex.SessionID)
		assert.Equal(t, i, ex.ActionIndex)
		assert.Equal(t, "multi step task", ex.Instruction)
	}

	stats, err := store.Stats()
	require.NoError(t, err)
	// Three from EndSession plus three from the explicit re-run above.
	assert.Equal(t, 6, stats.SFTExampleCount)
}

func mustEndSession(t *testing.T, col *Collector, page schemas.PageCapability) *schemas.Session {
	t.Helper()
	sess, err := col.EndSession(context.Background(), page, true, 0, "")
	require.NoError(t, err)
	return sess
}

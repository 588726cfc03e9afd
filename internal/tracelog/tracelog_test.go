package tracelog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracesmith/api/schemas"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestNewStore(t *testing.T) {
	t.Run("creates data and screenshot directories", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "data")
		store, err := NewStore(dir, zap.NewNop())
		require.NoError(t, err)

		info, err := os.Stat(store.ScreenshotDir())
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("rejects empty dir", func(t *testing.T) {
		_, err := NewStore("", zap.NewNop())
		require.Error(t, err)
	})
}

func TestStats_EmptyStore(t *testing.T) {
	store := newTestStore(t)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.TraceCount)
	assert.Zero(t, stats.SessionCount)
	assert.Zero(t, stats.SFTExampleCount)
	assert.Zero(t, stats.PreferencePairCount)
}

func TestAppendAndCount(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendTrace(&schemas.ActionRecord{ID: "r", Kind: schemas.ActionClick}))
	}
	require.NoError(t, store.AppendSession(&schemas.Session{ID: "s1"}))
	require.NoError(t, store.AppendSFTExample(&schemas.SFTExample{SessionID: "s1"}))
	require.NoError(t, store.AppendSFTExample(&schemas.SFTExample{SessionID: "s1"}))
	require.NoError(t, store.AppendPreferencePair(&schemas.PreferencePair{BetterSessionID: "s1"}))

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TraceCount)
	assert.Equal(t, 1, stats.SessionCount)
	assert.Equal(t, 2, stats.SFTExampleCount)
	assert.Equal(t, 1, stats.PreferencePairCount)
}

func TestAppendTrace_DiscriminatorTag(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AppendTrace(&schemas.ActionRecord{ID: "rec-1", Kind: schemas.ActionNavigate}))

	raw, err := os.ReadFile(filepath.Join(store.Dir(), traceLogName))
	require.NoError(t, err)

	var wrapper schemas.TraceRecord
	require.NoError(t, json.Unmarshal(raw, &wrapper))
	assert.Equal(t, schemas.TraceRecordTypeAction, wrapper.Type)
	assert.Equal(t, "rec-1", wrapper.Record.ID)
}

func TestSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)

	sess := &schemas.Session{
		ID:              "sess-1",
		TaskDescription: "extract pricing",
		StartURL:        "https://example.com",
		Model:           "test-model",
		Actions: []schemas.ActionRecord{{
			ID:          "rec-1",
			SessionID:   "sess-1",
			Kind:        schemas.ActionExtract,
			Instruction: "Extract the plan list",
			Success:     true,
			Before:      &schemas.PageSnapshot{URL: "https://example.com", CapturedAt: time.Now().UTC()},
			After:       &schemas.PageSnapshot{URL: "https://example.com", CapturedAt: time.Now().UTC()},
			StartedAt:   time.Now().UTC(),
			ElapsedMs:   12,
		}},
		Success:        true,
		HumanRating:    5,
		StartedAt:      time.Now().UTC(),
		EndedAt:        time.Now().UTC(),
		TotalElapsedMs: 1500,
	}
	require.NoError(t, store.AppendSession(sess))

	sessions, err := store.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	if diff := cmp.Diff(*sess, sessions[0]); diff != "" {
		t.Fatalf("session round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionByID(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AppendSession(&schemas.Session{ID: "sess-1"}))
	require.NoError(t, store.AppendSession(&schemas.Session{ID: "sess-2", TaskDescription: "second"}))

	sess, err := store.SessionByID("sess-2")
	require.NoError(t, err)
	assert.Equal(t, "second", sess.TaskDescription)

	_, err = store.SessionByID("sess-missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessions_MissingLog(t *testing.T) {
	store := newTestStore(t)

	sessions, err := store.Sessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestExportSFT(t *testing.T) {
	store := newTestStore(t)

	t.Run("missing log exports an empty array", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "dataset.json")
		n, err := store.ExportSFT(out)
		require.NoError(t, err)
		assert.Zero(t, n)

		raw, err := os.ReadFile(out)
		require.NoError(t, err)
		var exported []ExportedSFTExample
		require.NoError(t, json.Unmarshal(raw, &exported))
		assert.Empty(t, exported)
	})

	t.Run("exports instruction input output only", func(t *testing.T) {
		require.NoError(t, store.AppendSFTExample(&schemas.SFTExample{
			Instruction: "task one", Input: "state one", Output: "action one",
			SessionID: "sess-1", ActionIndex: 0, Success: true,
		}))
		require.NoError(t, store.AppendSFTExample(&schemas.SFTExample{
			Instruction: "task one", Input: "state two", Output: "action two",
			SessionID: "sess-1", ActionIndex: 1, Success: false,
		}))

		out := filepath.Join(t.TempDir(), "dataset.json")
		n, err := store.ExportSFT(out)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		raw, err := os.ReadFile(out)
		require.NoError(t, err)
		var exported []ExportedSFTExample
		require.NoError(t, json.Unmarshal(raw, &exported))

		want := []ExportedSFTExample{
			{Instruction: "task one", Input: "state one", Output: "action one"},
			{Instruction: "task one", Input: "state two", Output: "action two"},
		}
		if diff := cmp.Diff(want, exported); diff != "" {
			t.Fatalf("export mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestCountLines_SkipsBlankLines(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.Dir(), traceLogName)
	require.NoError(t, os.WriteFile(path, []byte("{\"a\":1}\n\n{\"b\":2}\n\n\n"), 0o644))

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TraceCount)
}

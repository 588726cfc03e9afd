// Package tracelog owns the durable artifacts of the collector: three
// append-only line-delimited JSON logs (raw actions, closed sessions,
// synthesized training examples and preference pairs) plus the screenshot
// store. Appends are single O_APPEND writes of one line, so concurrent
// writers from separate processes stay safe at line granularity.
package tracelog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/tracesmith/api/schemas"
)

const (
	traceLogName      = "traces.jsonl"
	sessionLogName    = "sessions.jsonl"
	sftLogName        = "sft_examples.jsonl"
	prefLogName       = "preference_pairs.jsonl"
	screenshotDirName = "screenshots"

	// Log lines carry full snapshots and can far exceed bufio's default
	// token size; 16 MiB leaves ample headroom over the snapshot caps.
	maxLineBytes = 16 * 1024 * 1024
)

// ErrSessionNotFound is returned by SessionByID when the session log holds no
// session with the requested id.
var ErrSessionNotFound = errors.New("session not found")

// Stats are the line counts of the durable logs at the moment of the call.
type Stats struct {
	TraceCount          int `json:"trace_count"`
	SessionCount        int `json:"session_count"`
	SFTExampleCount     int `json:"sft_example_count"`
	PreferencePairCount int `json:"preference_pair_count"`
}

// Store is the file-backed log store rooted at a single data directory.
type Store struct {
	dir string
	log *zap.Logger
}

// NewStore creates the data directory (and the screenshot store inside it)
// if needed and returns a Store rooted there.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory must not be empty")
	}
	if err := os.MkdirAll(filepath.Join(dir, screenshotDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %q: %w", dir, err)
	}
	return &Store{
		dir: dir,
		log: logger.Named("tracelog"),
	}, nil
}

// Dir returns the root data directory.
func (s *Store) Dir() string { return s.dir }

// ScreenshotDir returns the directory holding the binary screenshot files
// referenced by path from action records.
func (s *Store) ScreenshotDir() string { return filepath.Join(s.dir, screenshotDirName) }

// AppendTrace appends one action record to the raw action log, tagged with
// its record-type discriminator.
func (s *Store) AppendTrace(rec *schemas.ActionRecord) error {
	return s.appendLine(traceLogName, schemas.TraceRecord{
		Type:   schemas.TraceRecordTypeAction,
		Record: *rec,
	})
}

// AppendSession appends one closed session to the session log.
func (s *Store) AppendSession(sess *schemas.Session) error {
	return s.appendLine(sessionLogName, sess)
}

// AppendSFTExample appends one training example to the SFT example log.
func (s *Store) AppendSFTExample(ex *schemas.SFTExample) error {
	return s.appendLine(sftLogName, ex)
}

// AppendPreferencePair appends one preference pair to the preference log.
func (s *Store) AppendPreferencePair(p *schemas.PreferencePair) error {
	return s.appendLine(prefLogName, p)
}

// appendLine marshals v and appends it as a single line. The marshaled line
// is written with one Write call so the underlying O_APPEND semantics keep
// concurrent appends intact at line granularity.
func (s *Store) appendLine(name string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log %q: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			s.log.Error("Failed to close log file.", zap.String("path", path), zap.Error(closeErr))
		}
	}()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("failed to append to log %q: %w", path, err)
	}
	return nil
}

// Stats counts the non-empty lines of each durable log. The logs are read
// concurrently; a log that does not exist yet simply counts zero.
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	var g errgroup.Group

	count := func(name string, dst *int) func() error {
		return func() error {
			n, err := countLines(filepath.Join(s.dir, name))
			if err != nil {
				return err
			}
			*dst = n
			return nil
		}
	}

	g.Go(count(traceLogName, &stats.TraceCount))
	g.Go(count(sessionLogName, &stats.SessionCount))
	g.Go(count(sftLogName, &stats.SFTExampleCount))
	g.Go(count(prefLogName, &stats.PreferencePairCount))

	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// countLines counts non-empty lines; a missing file is zero, not an error.
func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open log %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	n := 0
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan log %q: %w", path, err)
	}
	return n, nil
}

// Sessions reads back every closed session from the session log, in write
// order. A missing log yields an empty slice.
func (s *Store) Sessions() ([]schemas.Session, error) {
	path := filepath.Join(s.dir, sessionLogName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	defer f.Close()

	var sessions []schemas.Session
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var sess schemas.Session
		if err := json.Unmarshal(line, &sess); err != nil {
			return nil, fmt.Errorf("failed to decode session log line: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan session log: %w", err)
	}
	return sessions, nil
}

// SessionByID looks up one closed session by id in the session log.
func (s *Store) SessionByID(id string) (*schemas.Session, error) {
	sessions, err := s.Sessions()
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].ID == id {
			return &sessions[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

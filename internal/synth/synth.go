// Package synth derives training artifacts from closed sessions: one SFT
// example per recorded action, and preference pairs from explicit
// cross-session comparisons. All outputs are appended to the durable logs as
// they are produced.
package synth

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tracesmith/api/schemas"
	"github.com/xkilldash9x/tracesmith/internal/tracelog"
)

// Synthesizer converts sessions into SFT examples and preference pairs.
type Synthesizer struct {
	store *tracelog.Store
	log   *zap.Logger
}

// NewSynthesizer returns a Synthesizer writing to the given store.
func NewSynthesizer(store *tracelog.Store, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{
		store: store,
		log:   logger.Named("synth"),
	}
}

// SynthesizeSession expands one closed session into one SFT example per
// action, in order, appending each to the SFT log as it is produced. Failed
// actions are included deliberately: the dataset keeps negative examples and
// leaves filtering to the training consumer.
func (s *Synthesizer) SynthesizeSession(sess *schemas.Session) ([]schemas.SFTExample, error) {
	examples := make([]schemas.SFTExample, 0, len(sess.Actions))
	for i := range sess.Actions {
		rec := &sess.Actions[i]
		ex := schemas.SFTExample{
			Instruction: sess.TaskDescription,
			Input:       BuildInput(rec.Before, sess.Actions[:i]),
			Output:      RenderAction(rec),
			SessionID:   sess.ID,
			ActionIndex: i,
			Success:     rec.Success,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.store.AppendSFTExample(&ex); err != nil {
			return nil, fmt.Errorf("failed to persist SFT example %d of session %s: %w", i, sess.ID, err)
		}
		examples = append(examples, ex)
	}

	s.log.Info("Synthesized SFT examples from session.",
		zap.String("session_id", sess.ID),
		zap.Int("examples", len(examples)),
	)
	return examples, nil
}

// ComparePair builds a preference pair from two closed sessions for the same
// task, one judged better. The pair anchors at the first index where the two
// instruction sequences diverge: the shared input is the better session's
// before-state and history at that index, chosen/rejected are the two
// divergent actions.
//
// When no divergence exists within the overlapping prefix the pair is emitted
// with empty input/chosen/rejected. That degenerate output is likely useless
// to trainers, so it is logged loudly, but it is still persisted so the
// comparison itself leaves a trace.
func (s *Synthesizer) ComparePair(better, worse *schemas.Session, reason string) (*schemas.PreferencePair, error) {
	pair := schemas.PreferencePair{
		Reason:          reason,
		BetterSessionID: better.ID,
		WorseSessionID:  worse.ID,
		CreatedAt:       time.Now().UTC(),
	}

	limit := len(better.Actions)
	if len(worse.Actions) < limit {
		limit = len(worse.Actions)
	}

	divergence := -1
	for i := 0; i < limit; i++ {
		if better.Actions[i].Instruction != worse.Actions[i].Instruction {
			divergence = i
			break
		}
	}

	if divergence >= 0 {
		pair.Input = BuildInput(better.Actions[divergence].Before, better.Actions[:divergence])
		pair.Chosen = RenderAction(&better.Actions[divergence])
		pair.Rejected = RenderAction(&worse.Actions[divergence])
	} else {
		s.log.Warn("Sessions do not diverge within their overlapping prefix; emitting degenerate pair.",
			zap.String("better_session_id", better.ID),
			zap.String("worse_session_id", worse.ID),
		)
	}

	if err := s.store.AppendPreferencePair(&pair); err != nil {
		return nil, fmt.Errorf("failed to persist preference pair: %w", err)
	}

	s.log.Info("Recorded preference pair.",
		zap.String("better_session_id", better.ID),
		zap.String("worse_session_id", worse.ID),
		zap.Int("divergence_index", divergence),
	)
	return &pair, nil
}

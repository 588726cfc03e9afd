// Package planner proposes the next automation action for a task using the
// Gemini API. It is a collaborator of the demo collection loop; the
// collector core never depends on it.
package planner

import (
	"context"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/tracesmith/api/schemas"
	"github.com/xkilldash9x/tracesmith/internal/config"
	"github.com/xkilldash9x/tracesmith/internal/synth"
)

const systemPrompt = `You are a web automation planner. Given a task, the current page state and the actions taken so far, decide the single next action.
Respond with a JSON object only, no prose:
{"kind": "navigate|click|type|extract|observe|screenshot|scroll", "instruction": "<natural language directive>", "selector": "<css selector or empty>", "value": "<literal value or empty>", "done": false, "reason": "<one sentence>"}
Set "done": true when the task is complete; the other fields may then be empty.`

// Decision is the planner's verdict on the next step.
type Decision struct {
	Kind        schemas.ActionKind `json:"kind"`
	Instruction string             `json:"instruction"`
	Selector    string             `json:"selector"`
	Value       string             `json:"value"`
	Done        bool               `json:"done"`
	Reason      string             `json:"reason"`
}

// Planner asks a Gemini model for the next action to take.
type Planner struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// New creates a Planner from configuration.
func New(ctx context.Context, cfg config.PlannerConfig, logger *zap.Logger) (*Planner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("planner API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Planner{
		client: client,
		model:  cfg.Model,
		log:    logger.Named("planner"),
	}, nil
}

// NextAction renders the current page state and history into a prompt and
// parses the model's JSON decision.
func (p *Planner) NextAction(ctx context.Context, task string, snap *schemas.PageSnapshot, history []schemas.ActionRecord) (*Decision, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n\nCurrent page state:\n%s", task, synth.RenderSnapshot(snap))
	if h := synth.RenderHistory(history); h != "" {
		sb.WriteString("\n")
		sb.WriteString(h)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(sb.String()), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.2),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}

	decision, err := parseDecision(resp.Text())
	if err != nil {
		return nil, err
	}

	p.log.Debug("Planner decided next action.",
		zap.String("kind", string(decision.Kind)),
		zap.Bool("done", decision.Done),
		zap.String("reason", decision.Reason),
	)
	return decision, nil
}

// parseDecision decodes the model output, tolerating markdown code fences
// that some models wrap JSON in despite the response MIME type.
func parseDecision(raw string) (*Decision, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var d Decision
	if err := json.Unmarshal([]byte(cleaned), &d); err != nil {
		return nil, fmt.Errorf("failed to parse planner decision %q: %w", raw, err)
	}
	if !d.Done && d.Kind == "" {
		return nil, fmt.Errorf("planner decision has neither an action kind nor done=true: %q", raw)
	}
	return &d, nil
}

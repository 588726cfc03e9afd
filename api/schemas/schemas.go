package schemas

import "time"

// ActionKind enumerates the automation steps the collector knows how to record.
type ActionKind string

const (
	ActionNavigate   ActionKind = "navigate"   // Navigates the page to a URL.
	ActionClick      ActionKind = "click"      // Clicks a UI element.
	ActionType       ActionKind = "type"       // Types text into an input field.
	ActionExtract    ActionKind = "extract"    // Extracts content from the page.
	ActionObserve    ActionKind = "observe"    // Observes the page without mutating it.
	ActionScreenshot ActionKind = "screenshot" // Captures a screenshot of the viewport.
	ActionScroll     ActionKind = "scroll"     // Scrolls the page.
)

// BoundingBox is the on-screen geometry of an interactive element.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// InteractiveElement describes one clickable or fillable element found on the
// page: a synthesized selector, the tag name, a bounded slice of its text
// content, a fixed attribute subset and, when the element is rendered, its
// bounding box.
type InteractiveElement struct {
	Selector    string            `json:"selector"`
	Tag         string            `json:"tag"`
	Text        string            `json:"text,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	BoundingBox *BoundingBox      `json:"bounding_box,omitempty"`
}

// PageSnapshot is a bounded, point-in-time observation of the target page.
// Every snapshot is self-contained and independently serializable; snapshots
// never reference each other.
type PageSnapshot struct {
	URL                 string               `json:"url"`
	Title               string               `json:"title"`
	RenderedMarkup      string               `json:"rendered_markup"`
	VisibleText         string               `json:"visible_text"`
	InteractiveElements []InteractiveElement `json:"interactive_elements"`
	CapturedAt          time.Time            `json:"captured_at"`
}

// ActionRecord is the trace of one executed automation step, including the
// page state immediately before the action and after the settle delay.
// Records are immutable once appended to their session and to the trace log.
type ActionRecord struct {
	ID          string     `json:"id"`         // Generated at record time, unique even for retried identical actions.
	SessionID   string     `json:"session_id"` // The session this record belongs to.
	Kind        ActionKind `json:"kind"`
	Instruction string     `json:"instruction"`
	Selector    string     `json:"selector,omitempty"`
	Value       string     `json:"value,omitempty"`

	Before *PageSnapshot `json:"before"`
	After  *PageSnapshot `json:"after"`

	// Execution failure does not abort the enclosing session; failed actions
	// are stored with Success=false and the error message retained.
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	BeforeScreenshot string `json:"before_screenshot,omitempty"`
	AfterScreenshot  string `json:"after_screenshot,omitempty"`

	StartedAt time.Time `json:"started_at"`
	ElapsedMs int64     `json:"elapsed_ms"`
}

// TraceRecord wraps an ActionRecord with a record-type discriminator for the
// raw action log, so additional record types can share the log later.
type TraceRecord struct {
	Type   string       `json:"type"`
	Record ActionRecord `json:"record"`
}

// TraceRecordTypeAction is the discriminator for action records in the raw log.
const TraceRecordTypeAction = "action"

// Session is one end-to-end attempt at a task: ordered action records plus an
// outcome fixed once at session end. A session is either open (accepting new
// actions, no outcome) or closed (immutable, persisted).
type Session struct {
	ID              string `json:"id"`
	TaskDescription string `json:"task_description"`
	StartURL        string `json:"start_url"`
	Model           string `json:"model"` // Identifier of the model that drove the session.

	Actions []ActionRecord `json:"actions"` // Insertion order equals execution order.

	Success       bool          `json:"success"`
	FinalSnapshot *PageSnapshot `json:"final_snapshot,omitempty"`
	HumanRating   int           `json:"human_rating,omitempty"` // 1-5 when set, 0 when absent.
	HumanFeedback string        `json:"human_feedback,omitempty"`

	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	TotalElapsedMs int64     `json:"total_elapsed_ms"`
}

// SFTExample is one instruction/input/output record for supervised fine-tuning,
// derived from a single action inside a closed session. Failed actions are
// included so the dataset keeps negative examples; filtering is left to the
// training consumer.
type SFTExample struct {
	Instruction string `json:"instruction"`
	Input       string `json:"input"`
	Output      string `json:"output"`

	SessionID   string    `json:"session_id"`
	ActionIndex int       `json:"action_index"`
	Success     bool      `json:"success"`
	CreatedAt   time.Time `json:"created_at"`
}

// PreferencePair is a chosen-vs-rejected comparison between two closed
// sessions for the same task, anchored at their first point of divergence.
type PreferencePair struct {
	Input    string `json:"input"`
	Chosen   string `json:"chosen"`
	Rejected string `json:"rejected"`
	Reason   string `json:"reason"`

	BetterSessionID string    `json:"better_session_id"`
	WorseSessionID  string    `json:"worse_session_id"`
	CreatedAt       time.Time `json:"created_at"`
}

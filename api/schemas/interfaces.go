package schemas

import "context"

// ElementInfo is the raw element descriptor returned by a PageCapability
// before the snapshot capturer applies its caps and selector synthesis.
type ElementInfo struct {
	Tag        string            `json:"tag"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes"`
	Box        *BoundingBox      `json:"box,omitempty"` // Nil when the element is not rendered.
}

// Instruction is a structured directive handed to a PageCapability for
// execution. Text carries the natural-language form of the directive;
// Selector and Value are set only when the action targets a specific element
// or carries a literal value.
type Instruction struct {
	Kind     ActionKind `json:"kind"`
	Text     string     `json:"text"`
	Selector string     `json:"selector,omitempty"`
	Value    string     `json:"value,omitempty"`
}

// PageCapability is the automation backend the collector drives. The
// collector depends only on this interface, never on a concrete automation
// library, so a real browser, a remote API or a test fake can all serve it.
type PageCapability interface {
	CurrentURL(ctx context.Context) (string, error)
	CurrentTitle(ctx context.Context) (string, error)
	ReadStructuredContent(ctx context.Context) (string, error)
	ReadVisibleText(ctx context.Context) (string, error)
	EnumerateInteractiveElements(ctx context.Context) ([]ElementInfo, error)
	CaptureScreenshot(ctx context.Context, path string) error
	PerformAction(ctx context.Context, inst Instruction) (string, error)
}

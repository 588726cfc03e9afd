// Package snapshot produces bounded, serializable captures of live page
// state. The caps below are hard limits applied first-N by position so that
// memory use and downstream payload size stay bounded regardless of page
// complexity.
package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tracesmith/api/schemas"
)

const (
	// MaxMarkupChars caps the cleaned markup payload.
	MaxMarkupChars = 50000
	// MaxTextChars caps the extracted visible text.
	MaxTextChars = 10000
	// MaxElements caps the interactive-element inventory.
	MaxElements = 100
	// MaxAttrChars caps any single attribute value in the cleaned markup.
	MaxAttrChars = 200
	// maxElementTextChars caps the trimmed text kept per element.
	maxElementTextChars = 100
)

// keptAttributes is the fixed attribute subset retained per element.
var keptAttributes = []string{"id", "class", "href", "type", "placeholder"}

// Capturer turns a live page handle into PageSnapshots.
type Capturer struct {
	log *zap.Logger
}

// NewCapturer returns a Capturer.
func NewCapturer(logger *zap.Logger) *Capturer {
	return &Capturer{log: logger.Named("snapshot")}
}

// Capture reads the page state through the capability interface and returns a
// self-contained snapshot. Losing the page entirely (the URL is unreadable)
// fails the capture; every other field degrades gracefully to its zero value
// so that missing optional data never aborts a trace.
func (c *Capturer) Capture(ctx context.Context, page schemas.PageCapability) (*schemas.PageSnapshot, error) {
	url, err := page.CurrentURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page URL: %w", err)
	}

	title, err := page.CurrentTitle(ctx)
	if err != nil {
		c.log.Debug("Failed to read page title; continuing without it.", zap.Error(err))
		title = ""
	}

	markup, err := page.ReadStructuredContent(ctx)
	if err != nil {
		c.log.Debug("Failed to read page markup; continuing without it.", zap.Error(err))
		markup = ""
	}

	text, err := page.ReadVisibleText(ctx)
	if err != nil {
		c.log.Debug("Failed to read visible text; continuing without it.", zap.Error(err))
		text = ""
	}

	elements, err := page.EnumerateInteractiveElements(ctx)
	if err != nil {
		c.log.Debug("Failed to enumerate interactive elements; continuing without them.", zap.Error(err))
		elements = nil
	}

	return &schemas.PageSnapshot{
		URL:                 url,
		Title:               title,
		RenderedMarkup:      CleanMarkup(markup),
		VisibleText:         Truncate(text, MaxTextChars),
		InteractiveElements: normalizeElements(elements),
		CapturedAt:          time.Now().UTC(),
	}, nil
}

// normalizeElements applies the element cap, synthesizes selectors, trims
// text and keeps only the fixed attribute subset. Zero-area bounding boxes
// (not rendered, not interactable) are silently skipped.
func normalizeElements(raw []schemas.ElementInfo) []schemas.InteractiveElement {
	if len(raw) > MaxElements {
		raw = raw[:MaxElements]
	}

	elements := make([]schemas.InteractiveElement, 0, len(raw))
	for _, info := range raw {
		el := schemas.InteractiveElement{
			Selector: synthesizeSelector(info),
			Tag:      strings.ToLower(info.Tag),
			Text:     Truncate(strings.TrimSpace(info.Text), maxElementTextChars),
		}

		for _, name := range keptAttributes {
			if val, ok := info.Attributes[name]; ok && val != "" {
				if el.Attributes == nil {
					el.Attributes = make(map[string]string, len(keptAttributes))
				}
				el.Attributes[name] = Truncate(val, MaxAttrChars)
			}
		}

		if box := info.Box; box != nil && box.Width > 0 && box.Height > 0 {
			b := *box
			el.BoundingBox = &b
		}

		elements = append(elements, el)
	}
	return elements
}

// synthesizeSelector builds a best-effort selector for an element: the tag
// plus an id or first-class hint when one exists.
func synthesizeSelector(info schemas.ElementInfo) string {
	tag := strings.ToLower(info.Tag)
	if id := info.Attributes["id"]; id != "" {
		return tag + "#" + id
	}
	if cls := info.Attributes["class"]; cls != "" {
		if fields := strings.Fields(cls); len(fields) > 0 {
			return tag + "." + fields[0]
		}
	}
	return tag
}

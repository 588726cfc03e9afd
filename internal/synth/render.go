package synth

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/tracesmith/api/schemas"
	"github.com/xkilldash9x/tracesmith/internal/snapshot"
)

// Linearization bounds. These are tighter than the snapshot caps because the
// rendered text feeds model prompts, not archives.
const (
	renderTextLimit         = 2000
	renderElementLimit      = 30
	historyWindow           = 5
	historyInstructionLimit = 120
)

// RenderSnapshot linearizes a page snapshot into the textual block used as
// model input: URL, title, bounded visible text and a bounded element
// inventory, one element per line as "[tag] text (selector)".
func RenderSnapshot(snap *schemas.PageSnapshot) string {
	if snap == nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\n", snap.URL)
	fmt.Fprintf(&sb, "Title: %s\n", snap.Title)

	sb.WriteString("Visible text:\n")
	sb.WriteString(snapshot.Truncate(snap.VisibleText, renderTextLimit))
	sb.WriteString("\n")

	elements := snap.InteractiveElements
	if len(elements) > renderElementLimit {
		elements = elements[:renderElementLimit]
	}
	if len(elements) > 0 {
		sb.WriteString("Interactive elements:\n")
		for _, el := range elements {
			fmt.Fprintf(&sb, "[%s] %s (%s)\n", el.Tag, el.Text, el.Selector)
		}
	}
	return sb.String()
}

// RenderAction linearizes one action into the fixed-field textual target:
// kind and instruction always, selector and value only when present.
func RenderAction(rec *schemas.ActionRecord) string {
	if rec == nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "action: %s\n", rec.Kind)
	fmt.Fprintf(&sb, "instruction: %s\n", rec.Instruction)
	if rec.Selector != "" {
		fmt.Fprintf(&sb, "selector: %s\n", rec.Selector)
	}
	if rec.Value != "" {
		fmt.Fprintf(&sb, "value: %s\n", rec.Value)
	}
	return sb.String()
}

// RenderHistory linearizes the trailing window of the most recent actions,
// newest last, one per line as "- [kind] instruction".
func RenderHistory(actions []schemas.ActionRecord) string {
	if len(actions) > historyWindow {
		actions = actions[len(actions)-historyWindow:]
	}
	if len(actions) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Previous actions:\n")
	for _, rec := range actions {
		fmt.Fprintf(&sb, "- [%s] %s\n", rec.Kind, snapshot.Truncate(rec.Instruction, historyInstructionLimit))
	}
	return sb.String()
}

// BuildInput assembles the model input for an action: the rendered
// before-snapshot followed by the trailing action history, which is omitted
// entirely for the first action of a session.
func BuildInput(before *schemas.PageSnapshot, history []schemas.ActionRecord) string {
	rendered := RenderSnapshot(before)
	if len(history) == 0 {
		return rendered
	}
	return rendered + "\n" + RenderHistory(history)
}

package browser

import (
	"context"
	"fmt"
	"os"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracesmith/api/schemas"
)

// elementInventoryJS enumerates clickable/fillable elements in document
// order. The 200-entry limit bounds the CDP payload; the snapshot capturer
// applies the final cap.
const elementInventoryJS = `(() => {
	const selector = 'a, button, input, select, textarea, [role="button"], [onclick]';
	return Array.from(document.querySelectorAll(selector)).slice(0, 200).map((el) => {
		const attrs = {};
		for (const name of ['id', 'class', 'href', 'type', 'placeholder']) {
			const v = el.getAttribute(name);
			if (v) attrs[name] = v;
		}
		const r = el.getBoundingClientRect();
		return {
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || el.value || '').trim().slice(0, 200),
			attributes: attrs,
			box: r.width > 0 && r.height > 0 ? { x: r.x, y: r.y, width: r.width, height: r.height } : null,
		};
	});
})()`

// Page drives one browser tab and implements schemas.PageCapability.
type Page struct {
	ctx        context.Context
	log        *zap.Logger
	navTimeout time.Duration
}

var _ schemas.PageCapability = (*Page)(nil)

// run executes chromedp actions on the tab, honoring the caller's context.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := p.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(p.ctx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

func (p *Page) CurrentTitle(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return title, nil
}

func (p *Page) ReadStructuredContent(ctx context.Context) (string, error) {
	var markup string
	if err := p.run(ctx, chromedp.OuterHTML("html", &markup, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page markup: %w", err)
	}
	return markup, nil
}

func (p *Page) ReadVisibleText(ctx context.Context) (string, error) {
	var text string
	script := `document.body ? document.body.innerText : ""`
	if err := p.run(ctx, chromedp.Evaluate(script, &text)); err != nil {
		return "", fmt.Errorf("failed to read visible text: %w", err)
	}
	return text, nil
}

func (p *Page) EnumerateInteractiveElements(ctx context.Context) ([]schemas.ElementInfo, error) {
	var elements []schemas.ElementInfo
	if err := p.run(ctx, chromedp.Evaluate(elementInventoryJS, &elements)); err != nil {
		return nil, fmt.Errorf("failed to enumerate interactive elements: %w", err)
	}
	return elements, nil
}

func (p *Page) CaptureScreenshot(ctx context.Context, path string) error {
	var buf []byte
	capture := chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = cdppage.CaptureScreenshot().
			WithFormat(cdppage.CaptureScreenshotFormatPng).
			Do(ctx)
		return err
	})
	if err := p.run(ctx, capture); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot to %q: %w", path, err)
	}
	return nil
}

// PerformAction dispatches a structured instruction to the tab and returns a
// short textual result.
func (p *Page) PerformAction(ctx context.Context, inst schemas.Instruction) (string, error) {
	switch inst.Kind {
	case schemas.ActionNavigate:
		url := inst.Value
		if url == "" {
			return "", fmt.Errorf("navigate requires a target URL")
		}
		navCtx := ctx
		if p.navTimeout > 0 {
			var cancel context.CancelFunc
			navCtx, cancel = context.WithTimeout(ctx, p.navTimeout)
			defer cancel()
		}
		if err := p.run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
			return "", fmt.Errorf("failed to navigate to %q: %w", url, err)
		}
		return "navigated to " + url, nil

	case schemas.ActionClick:
		if inst.Selector == "" {
			return "", fmt.Errorf("click requires a selector")
		}
		if err := p.run(ctx, chromedp.Click(inst.Selector, chromedp.ByQuery)); err != nil {
			return "", fmt.Errorf("failed to click %q: %w", inst.Selector, err)
		}
		return "clicked " + inst.Selector, nil

	case schemas.ActionType:
		if inst.Selector == "" {
			return "", fmt.Errorf("type requires a selector")
		}
		if err := p.run(ctx, chromedp.SendKeys(inst.Selector, inst.Value, chromedp.ByQuery)); err != nil {
			return "", fmt.Errorf("failed to type into %q: %w", inst.Selector, err)
		}
		return "typed into " + inst.Selector, nil

	case schemas.ActionExtract:
		selector := inst.Selector
		if selector == "" {
			selector = "body"
		}
		var out string
		if err := p.run(ctx, chromedp.Text(selector, &out, chromedp.ByQuery)); err != nil {
			return "", fmt.Errorf("failed to extract from %q: %w", selector, err)
		}
		return out, nil

	case schemas.ActionScroll:
		script := `window.scrollBy(0, window.innerHeight); ""`
		var discard string
		if err := p.run(ctx, chromedp.Evaluate(script, &discard)); err != nil {
			return "", fmt.Errorf("failed to scroll: %w", err)
		}
		return "scrolled one viewport", nil

	case schemas.ActionScreenshot:
		if inst.Value == "" {
			return "", fmt.Errorf("screenshot requires a target path")
		}
		if err := p.CaptureScreenshot(ctx, inst.Value); err != nil {
			return "", err
		}
		return "screenshot saved to " + inst.Value, nil

	case schemas.ActionObserve:
		// Observation itself carries no page mutation; the surrounding
		// record's snapshots hold the observed state.
		title, err := p.CurrentTitle(ctx)
		if err != nil {
			return "", err
		}
		return "observed page: " + title, nil

	default:
		return "", fmt.Errorf("unsupported action kind %q", inst.Kind)
	}
}

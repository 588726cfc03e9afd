// Package browser implements the PageCapability interface against a real
// Chrome tab driven over CDP.
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracesmith/internal/config"
)

// Browser owns the Chrome process and its root automation context.
type Browser struct {
	allocCancel context.CancelFunc
	ctxCancel   context.CancelFunc
	ctx         context.Context
	logger      *zap.Logger
	cfg         config.BrowserConfig
}

// Launch starts a Chrome instance and connects a fresh automation context to
// it. Close must be called to shut the browser down.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Browser, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		// Stability flags for containerized environments.
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	for _, arg := range cfg.ExtraArgs {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, ctxCancel := chromedp.NewContext(allocCtx)

	// Establish the CDP connection up front so launch failures surface here
	// rather than on the first action.
	if err := chromedp.Run(browserCtx); err != nil {
		ctxCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := &Browser{
		allocCancel: allocCancel,
		ctxCancel:   ctxCancel,
		ctx:         browserCtx,
		logger:      logger.Named("browser"),
		cfg:         cfg,
	}
	b.logger.Info("Browser launched.", zap.Bool("headless", cfg.Headless))
	return b, nil
}

// Page returns the capability handle for the browser's tab.
func (b *Browser) Page() *Page {
	return &Page{
		ctx:        b.ctx,
		log:        b.logger.Named("page"),
		navTimeout: b.cfg.NavigationTimeout,
	}
}

// Close shuts down the automation context and the Chrome process.
func (b *Browser) Close() {
	b.ctxCancel()
	b.allocCancel()
	b.logger.Info("Browser closed.")
}

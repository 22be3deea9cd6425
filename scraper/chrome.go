package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/aluiziolira/go-scrape-leads/config"
)

// chromeCandidates are probed in order when no executable is configured.
var chromeCandidates = []string{
	"/usr/bin/chromium-browser",
	"/usr/bin/chromium",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/google-chrome",
	"/opt/google/chrome/chrome",
}

// pollInterval is how often Submit checks for the post-click navigation.
const pollInterval = 250 * time.Millisecond

// ChromeBrowser drives a headless Chrome tab through the DevTools protocol.
type ChromeBrowser struct {
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

// NewChromeBrowser launches Chrome and opens one tab. A probed executable
// that fails to start is dropped and the launch retried once through the
// PATH lookup; an explicitly configured path is never second-guessed.
func NewChromeBrowser(cfg *config.Config, logger *slog.Logger) (*ChromeBrowser, error) {
	if logger == nil {
		logger = slog.Default()
	}

	path := findChrome(cfg.ChromePath, chromeCandidates)
	if path != "" {
		logger.Info("using chrome executable", slog.String("path", path))
	} else {
		logger.Warn("no chrome executable found, relying on PATH lookup")
	}

	b, err := launchChrome(cfg, path)
	if err != nil && path != "" && cfg.ChromePath == "" {
		logger.Warn("chrome launch failed, retrying with PATH lookup",
			slog.String("path", path),
			slog.Any("error", err),
		)
		b, err = launchChrome(cfg, "")
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// launchChrome is swapped in tests.
var launchChrome = startChrome

func chromeOptions(cfg *config.Config, execPath string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-zygote", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(cfg.ViewWidth, cfg.ViewHeight),
		chromedp.WSURLReadTimeout(cfg.LaunchTimeout),
	)
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}
	return opts
}

// startChrome starts the browser within cfg.LaunchTimeout. The deadline is
// enforced by a watchdog rather than attached to the tab context, which must
// outlive the launch.
func startChrome(cfg *config.Config, execPath string) (*ChromeBrowser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), chromeOptions(cfg, execPath)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	watchdog := time.AfterFunc(cfg.LaunchTimeout, func() {
		tabCancel()
		allocCancel()
	})
	err := chromedp.Run(tabCtx)
	if !watchdog.Stop() {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("launch chrome: not ready within %s", cfg.LaunchTimeout)
	}
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	return &ChromeBrowser{
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}, nil
}

func findChrome(configured string, candidates []string) string {
	if configured != "" {
		return configured
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// run executes actions on the tab bounded by ctx. Cancelling the derived
// context aborts the actions without closing the tab.
func (b *ChromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.tabCtx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (b *ChromeBrowser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (b *ChromeBrowser) WaitVisible(ctx context.Context, selector string) error {
	return b.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (b *ChromeBrowser) Type(ctx context.Context, selector, text string) error {
	return b.run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (b *ChromeBrowser) Submit(ctx context.Context, selector string) error {
	before, err := b.Location(ctx)
	if err != nil {
		return err
	}
	if err := b.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		current, err := b.Location(ctx)
		if err != nil {
			return err
		}
		if current != before {
			return b.run(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("no navigation after submit: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (b *ChromeBrowser) Location(ctx context.Context) (string, error) {
	var loc string
	if err := b.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (b *ChromeBrowser) HTML(ctx context.Context) (string, error) {
	var html string
	if err := b.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (b *ChromeBrowser) Close() error {
	err := chromedp.Cancel(b.tabCtx)
	b.tabCancel()
	b.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

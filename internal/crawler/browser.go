package crawler

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"sjsage522/priceworker/helpers"
	"sjsage522/priceworker/logger"
	"sjsage522/priceworker/pkg/errors"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

var (
	// ErrBrowserUnavailable means the headless browser could not be started at all
	ErrBrowserUnavailable = stderrors.New("headless browser unavailable")
	// ErrBudgetExceeded means the run is past its budget and dynamic fetches are skipped
	ErrBudgetExceeded = stderrors.New("run budget exceeded")
	// ErrPoolClosed means Render was called after Close
	ErrPoolClosed = stderrors.New("browser pool closed")
)

// DefaultDialogPhrases are alert texts shops show instead of a product page
var DefaultDialogPhrases = []string{"검색결과가 없습니다.", "검색결과 없음."}

// BrowserConfig configures dynamic rendering
type BrowserConfig struct {
	// Bin is the chromium binary; empty downloads a managed build
	Bin string
	// Settle is waited after load so client-side prices can render
	Settle      time.Duration
	PageTimeout time.Duration
	Concurrency int
	// DialogPhrases turn a native alert into an explicitly empty page
	DialogPhrases []string
	Gone          GoneRules
}

// BrowserPool lends one lazily launched browser to at most Concurrency
// renders at a time. It belongs to a single run and must be closed by it.
type BrowserPool struct {
	cfg      BrowserConfig
	deadline time.Time
	sem      chan struct{}
	log      *logger.Logger

	mu        sync.Mutex
	browser   *rod.Browser
	launcher  *launcher.Launcher
	launchErr error
	closed    bool
}

// NewBrowserPool creates a pool. A zero deadline means no run budget.
func NewBrowserPool(cfg BrowserConfig, deadline time.Time) *BrowserPool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 30 * time.Second
	}
	if cfg.DialogPhrases == nil {
		cfg.DialogPhrases = DefaultDialogPhrases
	}
	if cfg.Gone.HomePaths == nil && cfg.Gone.VanishingPatterns == nil {
		cfg.Gone = DefaultGoneRules
	}
	return &BrowserPool{
		cfg:      cfg,
		deadline: deadline,
		sem:      make(chan struct{}, cfg.Concurrency),
		log:      logger.ForBrowser(),
	}
}

// Render navigates to rawURL in a fresh tab and returns the settled DOM
func (p *BrowserPool) Render(ctx context.Context, rawURL string) (*Page, error) {
	if !p.deadline.IsZero() && !time.Now().Before(p.deadline) {
		return nil, errors.NewTimeout("", "skipping dynamic fetch", ErrBudgetExceeded)
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.NewTimeout("", "waiting for a browser slot", ctx.Err())
	}
	defer func() { <-p.sem }()

	browser, err := p.acquire()
	if err != nil {
		return nil, err
	}
	return p.render(ctx, browser, rawURL)
}

func (p *BrowserPool) render(ctx context.Context, browser *rod.Browser, rawURL string) (*Page, error) {
	pageCtx, cancel := context.WithTimeout(ctx, p.cfg.PageTimeout)
	defer cancel()

	tab, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, errors.NewBrowser("", "failed to open tab", err)
	}
	defer tab.Close()
	tab = tab.Context(pageCtx)

	_ = proto.NetworkSetUserAgentOverride{UserAgent: helpers.RandomUserAgent()}.Call(tab)

	var (
		mu     sync.Mutex
		status int
		dialog string
	)
	wait := tab.EachEvent(
		func(e *proto.PageJavascriptDialogOpening) {
			mu.Lock()
			dialog = e.Message
			mu.Unlock()
			_ = proto.PageHandleJavaScriptDialog{Accept: true}.Call(tab)
		},
		func(e *proto.NetworkResponseReceived) {
			if e.Type != proto.NetworkResourceTypeDocument {
				return
			}
			mu.Lock()
			if status == 0 {
				status = e.Response.Status
			}
			mu.Unlock()
		},
	)
	go wait()

	if err := tab.Navigate(rawURL); err != nil {
		return nil, p.renderError(pageCtx, "navigation failed", err)
	}
	if err := tab.WaitLoad(); err != nil {
		return nil, p.renderError(pageCtx, "page did not load", err)
	}

	select {
	case <-time.After(p.cfg.Settle):
	case <-pageCtx.Done():
		return nil, errors.NewTimeout("", "page did not settle", pageCtx.Err())
	}

	mu.Lock()
	gotStatus, gotDialog := status, dialog
	mu.Unlock()

	page := &Page{URL: rawURL, FinalURL: rawURL, Status: gotStatus}
	if p.isNoResultsDialog(gotDialog) {
		page.Empty = true
		return page, nil
	}

	if info, err := tab.Info(); err == nil && info.URL != "" {
		page.FinalURL = info.URL
	}
	requested, _ := url.Parse(rawURL)
	final, _ := url.Parse(page.FinalURL)
	if p.cfg.Gone.IsGone(requested, final, gotStatus) {
		page.Gone = true
		return page, nil
	}

	html, err := tab.HTML()
	if err != nil {
		return nil, p.renderError(pageCtx, "failed to read DOM", err)
	}
	page.HTML = html
	return page, nil
}

func (p *BrowserPool) isNoResultsDialog(message string) bool {
	message = strings.TrimSpace(message)
	if message == "" {
		return false
	}
	for _, phrase := range p.cfg.DialogPhrases {
		if strings.Contains(message, phrase) {
			return true
		}
	}
	return false
}

func (p *BrowserPool) renderError(ctx context.Context, message string, err error) error {
	if ctx.Err() != nil || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeout("", message, err)
	}
	return errors.NewBrowser("", message, err)
}

// acquire returns the shared browser, launching it on first use. A failed
// launch is remembered so the rest of the run fails fast.
func (p *BrowserPool) acquire() (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.NewBrowser("", "render after close", ErrPoolClosed)
	}
	if p.browser != nil {
		return p.browser, nil
	}
	if p.launchErr != nil {
		return nil, p.launchErr
	}

	browser, l, err := launchBrowser(p.cfg)
	if err != nil {
		p.launchErr = errors.NewBrowser("", "failed to start browser", fmt.Errorf("%w: %v", ErrBrowserUnavailable, err))
		p.log.Error().Err(err).Msg("Browser launch failed")
		return nil, p.launchErr
	}
	p.browser, p.launcher = browser, l
	p.log.Info().Int("concurrency", p.cfg.Concurrency).Msg("Browser started")
	return browser, nil
}

// Close shuts the browser down. It is safe to call on every exit path.
func (p *BrowserPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.browser == nil {
		return nil
	}

	err := p.browser.Close()
	if err != nil {
		p.launcher.Kill()
	}
	p.launcher.Cleanup()
	p.browser, p.launcher = nil, nil
	p.log.Info().Msg("Browser closed")
	return err
}

func launchBrowser(cfg BrowserConfig) (*rod.Browser, *launcher.Launcher, error) {
	bin := cfg.Bin
	if bin == "" {
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	l := launcher.New().
		Bin(bin).
		Headless(true).
		NoSandbox(true).
		Set("ignore-certificate-errors")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, nil, fmt.Errorf("connect browser: %w", err)
	}
	if err := browser.IgnoreCertErrors(true); err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, nil, fmt.Errorf("ignore cert errors: %w", err)
	}
	return browser, l, nil
}

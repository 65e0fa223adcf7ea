package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sjsage522/priceworker/internal/price"
	"sjsage522/priceworker/logger"
	"sjsage522/priceworker/pkg/errors"

	"github.com/PuerkitoBio/goquery"
)

// RendererFactory creates the browser used by one session
type RendererFactory func(deadline time.Time) Renderer

// Engine probes shop URLs. Sessions share its registry and static fetcher;
// each session owns its browser.
type Engine struct {
	registry    *Registry
	static      *StaticFetcher
	newRenderer RendererFactory
}

// EngineOption customizes an Engine
type EngineOption func(*Engine)

// WithRendererFactory replaces the headless browser used for dynamic sites
func WithRendererFactory(factory RendererFactory) EngineOption {
	return func(e *Engine) {
		e.newRenderer = factory
	}
}

// NewEngine creates a probe engine
func NewEngine(registry *Registry, static *StaticFetcher, browserCfg BrowserConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		static:   static,
		newRenderer: func(deadline time.Time) Renderer {
			return NewBrowserPool(browserCfg, deadline)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the site table the engine extracts with
func (e *Engine) Registry() *Registry {
	return e.registry
}

// NewSession opens a probe session. Dynamic fetches after deadline are
// skipped; a zero deadline means no budget. The caller must Close it.
func (e *Engine) NewSession(deadline time.Time) Prober {
	renderer := e.newRenderer(deadline)
	return &session{
		registry: e.registry,
		renderer: renderer,
		fetcher:  NewPageFetcher(e.registry, e.static, renderer),
	}
}

// Probe runs a single ad hoc probe in its own session
func (e *Engine) Probe(ctx context.Context, rawURL string) (*Result, error) {
	s := e.NewSession(time.Time{})
	defer s.Close()
	return s.Probe(ctx, rawURL)
}

type session struct {
	registry *Registry
	renderer Renderer
	fetcher  *PageFetcher
}

// Probe identifies, fetches, extracts and normalizes one shop URL.
// A missing name or price is not an error; Result.Price is nil instead.
func (s *session) Probe(ctx context.Context, rawURL string) (result *Result, err error) {
	siteKey := ""
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, errors.NewInternal(siteKey, "probe panicked", fmt.Errorf("%v", r))
		}
		if err != nil {
			logger.ForSite(siteKey).Warn().
				Str("url", rawURL).
				Str("reason", errors.Reason(err)).
				Err(err).
				Msg("Probe failed")
		}
	}()

	siteKey, err = IdentifySite(rawURL)
	if err != nil {
		return nil, err
	}

	page, err := s.fetcher.Fetch(ctx, rawURL, siteKey)
	if err != nil {
		return nil, err
	}

	result = &Result{URL: rawURL, SiteKey: siteKey}
	if page.Gone {
		result.Gone = true
		logger.ForSite(siteKey).Debug().Str("url", rawURL).Str("final_url", page.FinalURL).Msg("Product page gone")
		return result, nil
	}
	if page.Empty {
		return result, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, errors.NewValidation(siteKey, fmt.Sprintf("failed to parse HTML: %v", err))
	}

	site, _ := s.registry.RuleFor(siteKey)
	result.Name = ExtractName(doc, site)

	if raw, scope := ExtractPrice(doc, site); raw != "" {
		if p, ok := price.Normalize(raw, scope); ok {
			result.Price = &p
		}
	}

	return result, nil
}

func (s *session) Close() error {
	if s.renderer == nil {
		return nil
	}
	return s.renderer.Close()
}

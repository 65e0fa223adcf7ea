package crawler

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"sjsage522/priceworker/helpers"
	"sjsage522/priceworker/pkg/errors"
	"sjsage522/priceworker/services/cache"

	"golang.org/x/time/rate"
)

const defaultMaxBodyBytes = 8 << 20

// GoneRules describes the redirects that mean a product page was removed
type GoneRules struct {
	// HomePaths are generic landing pages a removed product redirects to
	HomePaths []string
	// VanishingPatterns are path fragments of product pages; a redirect that
	// drops one means the product is gone
	VanishingPatterns []string
}

// DefaultGoneRules covers the landing pages seen on the tracked shops
var DefaultGoneRules = GoneRules{
	HomePaths:         []string{"/", "/index.php", "/main/index.php"},
	VanishingPatterns: []string{"goods_view.php"},
}

// IsGone classifies a finished fetch of requested that ended at final with status
func (g GoneRules) IsGone(requested, final *url.URL, status int) bool {
	if status == http.StatusNotFound || status == http.StatusGone {
		return true
	}
	if requested == nil || final == nil || sameLocation(requested, final) {
		return false
	}

	if slices.Contains(g.HomePaths, cleanPath(final.Path)) {
		return true
	}
	for _, pattern := range g.VanishingPatterns {
		if strings.Contains(requested.Path, pattern) && !strings.Contains(final.Path, pattern) {
			return true
		}
	}
	return false
}

func sameLocation(a, b *url.URL) bool {
	return strings.EqualFold(a.Hostname(), b.Hostname()) &&
		cleanPath(a.Path) == cleanPath(b.Path) &&
		a.RawQuery == b.RawQuery
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean(p)
}

// StaticOptions configures plain HTTP fetching
type StaticOptions struct {
	// BlockTime is how long a site is left alone after it throttles us
	BlockTime time.Duration
	// SiteInterval is the minimum spacing between requests to one site
	SiteInterval time.Duration
	Gone         GoneRules
	MaxBodyBytes int64
}

// StaticFetcher fetches shop pages with a plain GET
type StaticFetcher struct {
	client   *http.Client
	cacheSvc cache.CacheService
	opts     StaticOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewStaticFetcher creates a static fetcher. cacheSvc may be nil, which
// disables the per-site rate-limit block.
func NewStaticFetcher(client *http.Client, cacheSvc cache.CacheService, opts StaticOptions) *StaticFetcher {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Gone.HomePaths == nil && opts.Gone.VanishingPatterns == nil {
		opts.Gone = DefaultGoneRules
	}
	return &StaticFetcher{
		client:   client,
		cacheSvc: cacheSvc,
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch retrieves rawURL. encoding is the site's charset override, or "".
func (f *StaticFetcher) Fetch(ctx context.Context, rawURL, siteKey, encoding string) (*Page, error) {
	if f.isBlocked(siteKey) {
		return nil, errors.NewRateLimit(siteKey, f.opts.BlockTime)
	}
	if err := f.limiter(siteKey).Wait(ctx); err != nil {
		return nil, errors.NewTimeout(siteKey, "gave up waiting for the site limiter", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.NewValidation(siteKey, fmt.Sprintf("failed to create request: %v", err))
	}
	helpers.SetBrowserHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, transportError(siteKey, err)
	}
	defer resp.Body.Close()

	page := &Page{
		URL:      rawURL,
		FinalURL: resp.Request.URL.String(),
		Status:   resp.StatusCode,
	}

	if helpers.IsRateLimited(resp.StatusCode) {
		f.block(siteKey)
		return nil, errors.NewRateLimit(siteKey, f.opts.BlockTime)
	}
	if f.opts.Gone.IsGone(req.URL, resp.Request.URL, resp.StatusCode) {
		page.Gone = true
		return page, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewNetwork(siteKey, fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return nil, transportError(siteKey, err)
	}
	html, err := helpers.DecodeBody(body, resp.Header.Get("Content-Type"), encoding)
	if err != nil {
		return nil, errors.NewNetwork(siteKey, "failed to decode response body", err)
	}
	page.HTML = html
	return page, nil
}

func (f *StaticFetcher) blockKey(siteKey string) string {
	return siteKey + "_rate_limited"
}

func (f *StaticFetcher) isBlocked(siteKey string) bool {
	if f.cacheSvc == nil {
		return false
	}
	_, err := f.cacheSvc.Get(f.blockKey(siteKey))
	return err == nil
}

func (f *StaticFetcher) block(siteKey string) {
	if f.cacheSvc == nil || f.opts.BlockTime <= 0 {
		return
	}
	seconds := fmt.Sprintf("%d", f.opts.BlockTime/time.Second)
	_ = f.cacheSvc.Set(f.blockKey(siteKey), []byte(seconds), f.opts.BlockTime)
}

func (f *StaticFetcher) limiter(siteKey string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[siteKey]
	if !ok {
		limit := rate.Inf
		if f.opts.SiteInterval > 0 {
			limit = rate.Every(f.opts.SiteInterval)
		}
		l = rate.NewLimiter(limit, 1)
		f.limiters[siteKey] = l
	}
	return l
}

func transportError(siteKey string, err error) error {
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return errors.NewTimeout(siteKey, "fetch timed out", err)
	}
	return errors.NewNetwork(siteKey, "failed to fetch URL", err)
}

// PageFetcher picks static or browser retrieval per site
type PageFetcher struct {
	registry *Registry
	static   *StaticFetcher
	dynamic  Renderer
}

// NewPageFetcher creates a fetcher; dynamic may be nil when no browser is available
func NewPageFetcher(registry *Registry, static *StaticFetcher, dynamic Renderer) *PageFetcher {
	return &PageFetcher{registry: registry, static: static, dynamic: dynamic}
}

// Fetch retrieves rawURL for siteKey. A removed product is reported through
// Page.Gone, not as an error.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL, siteKey string) (*Page, error) {
	if !f.registry.IsDynamic(siteKey) {
		return f.static.Fetch(ctx, rawURL, siteKey, f.registry.Encoding(siteKey))
	}

	if f.dynamic == nil {
		return nil, errors.NewBrowser(siteKey, "no browser configured", ErrBrowserUnavailable)
	}
	page, err := f.dynamic.Render(ctx, rawURL)
	if err != nil {
		var pe *errors.ProbeError
		if stderrors.As(err, &pe) && pe.Site == "" {
			// the pool shares its launch error across callers
			cp := *pe
			cp.Site = siteKey
			return nil, &cp
		}
		return nil, err
	}
	return page, nil
}

package crawler

import (
	"context"

	"sjsage522/priceworker/internal/price"
)

// Page is the outcome of fetching one shop URL
type Page struct {
	URL      string
	FinalURL string
	Status   int
	HTML     string
	// Gone means the product page no longer exists; extraction is skipped
	Gone bool
	// Empty means the site answered with an explicit "no results" page
	Empty bool
}

// Result is the outcome of probing one shop URL
type Result struct {
	URL     string       `json:"url"`
	SiteKey string       `json:"site_key"`
	Name    string       `json:"name,omitempty"`
	Price   *price.Price `json:"price,omitempty"`
	Gone    bool         `json:"gone,omitempty"`
}

// HasPrice reports whether the probe produced any price, sentinel or numeric
func (r *Result) HasPrice() bool {
	return r != nil && r.Price != nil
}

// Renderer retrieves pages through a scripted browser
type Renderer interface {
	// Render navigates to rawURL and returns the settled DOM
	Render(ctx context.Context, rawURL string) (*Page, error)

	// Close releases the browser; it is safe to call more than once
	Close() error
}

// Prober probes shop URLs for the lifetime of a session
type Prober interface {
	// Probe returns the price and name found at rawURL. Per-URL failures are
	// returned as *errors.ProbeError and never leave the session unusable.
	Probe(ctx context.Context, rawURL string) (*Result, error)

	// Close tears down resources held by the session
	Close() error
}

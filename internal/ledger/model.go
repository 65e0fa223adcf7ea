package ledger

import (
	"sjsage522/priceworker/internal/price"
)

// ShopURL is one shop page tracked for a product
type ShopURL struct {
	SiteID string `bson:"shop_id" json:"site_id"`
	URL    string `bson:"url" json:"url"`
	// PriceCare false marks a manually priced URL the batch job skips.
	// Missing means tracked.
	PriceCare *bool `bson:"priceCC,omitempty" json:"price_care,omitempty"`
}

// Tracked reports whether the batch job should probe this URL
func (s ShopURL) Tracked() bool {
	return s.PriceCare == nil || *s.PriceCare
}

// CheapestEntry is the lowest numeric price seen across shops on one date
type CheapestEntry struct {
	Date   string `bson:"date" json:"date"`
	Price  string `bson:"price" json:"price"`
	SiteID string `bson:"shop_id" json:"site_id"`
}

// Product is the part of a catalogue product the price engine reads and appends to
type Product struct {
	ID       string          `bson:"-" json:"id"`
	ShopURLs []ShopURL       `bson:"shop_urls" json:"shop_urls"`
	Cheapest []CheapestEntry `bson:"cheapest" json:"cheapest"`
	Upload   bool            `bson:"upload" json:"upload"`
}

// TrackedURLs returns the shop URLs the batch job probes, in order
func (p *Product) TrackedURLs() []ShopURL {
	urls := make([]ShopURL, 0, len(p.ShopURLs))
	for _, u := range p.ShopURLs {
		if u.Tracked() && u.URL != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// Eligible reports whether the product takes part in batch runs
func (p *Product) Eligible() bool {
	return p.Upload && len(p.TrackedURLs()) > 0
}

// LastCheapest returns the most recent cheapest entry, or nil
func (p *Product) LastCheapest() *CheapestEntry {
	if len(p.Cheapest) == 0 {
		return nil
	}
	last := p.Cheapest[len(p.Cheapest)-1]
	return &last
}

// PricePoint is one dated observation
type PricePoint struct {
	Date  string `bson:"date" json:"date"`
	Price string `bson:"price" json:"price"`
}

// HistoryEntry is the price history of one product at one site
type HistoryEntry struct {
	ProductID string       `bson:"product_id" json:"product_id"`
	SiteKey   string       `bson:"shop_sld" json:"site_key"`
	SiteID    string       `bson:"shop_id" json:"site_id"`
	Prices    []PricePoint `bson:"prices" json:"prices"`
}

// Last returns the most recent point, or nil
func (h *HistoryEntry) Last() *PricePoint {
	if len(h.Prices) == 0 {
		return nil
	}
	last := h.Prices[len(h.Prices)-1]
	return &last
}

// HasDate reports whether the history already holds a point for date
func (h *HistoryEntry) HasDate(date string) bool {
	for _, p := range h.Prices {
		if p.Date == date {
			return true
		}
	}
	return false
}

// HistoryKey identifies a history entry
type HistoryKey struct {
	ProductID string
	SiteKey   string
}

func (k HistoryKey) String() string {
	return k.ProductID + "/" + k.SiteKey
}

// Observation is one shop's price for a product in the current run
type Observation struct {
	SiteID string
	Price  *price.Price
}

// LatestPrice is the newest point of one site's history
type LatestPrice struct {
	SiteKey string `json:"site_key"`
	SiteID  string `json:"site_id"`
	Date    string `json:"date"`
	Price   string `json:"price"`
	Kind    string `json:"kind"`
}

package publisher

import (
	"encoding/json"
	"fmt"
)

// Publisher represents a service for publishing messages
type Publisher interface {
	// Publish publishes a message to a stream under key
	Publish(key string, message []byte) error

	// TrimStreams trims all streams to the configured maximum length
	TrimStreams() error

	// Close closes the publisher connection
	Close() error
}

// Stream keys for price events
const (
	KeyPriceRecorded   = "price_recorded"
	KeyCheapestUpdated = "cheapest_updated"
	KeyRunSummary      = "run_summary"
)

// PriceRecorded is published for every new history point
type PriceRecorded struct {
	ProductID string `json:"product_id"`
	SiteKey   string `json:"site_key"`
	SiteID    string `json:"site_id"`
	Date      string `json:"date"`
	Price     string `json:"price"`
	Kind      string `json:"kind"`
	Name      string `json:"name,omitempty"`
	URL       string `json:"url"`
}

// CheapestUpdated is published when a product gets a new cheapest entry
type CheapestUpdated struct {
	ProductID string `json:"product_id"`
	Date      string `json:"date"`
	Price     string `json:"price"`
	SiteID    string `json:"site_id"`
}

// PublishJSON marshals v and publishes it under key
func PublishJSON(p Publisher, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return p.Publish(key, data)
}

package ledger

import (
	"context"
	"errors"
)

var (
	// ErrProductNotFound is returned for unknown product ids
	ErrProductNotFound = errors.New("product not found")
	// ErrHistoryNotFound is returned when a product has no history at a site
	ErrHistoryNotFound = errors.New("price history not found")
)

// HistoryStore persists price histories
type HistoryStore interface {
	// AppendPrice appends point to the history for key, creating the history
	// with siteID when absent. It returns false without writing when the
	// history already holds a point dated point.Date.
	AppendPrice(ctx context.Context, key HistoryKey, siteID string, point PricePoint) (bool, error)

	// History returns every site history of a product
	History(ctx context.Context, productID string) ([]HistoryEntry, error)

	// Entry returns one history or ErrHistoryNotFound
	Entry(ctx context.Context, key HistoryKey) (*HistoryEntry, error)
}

// ProductStore reads products and appends their cheapest entries
type ProductStore interface {
	// EligibleProducts returns uploaded products with at least one tracked URL
	EligibleProducts(ctx context.Context) ([]Product, error)

	// Product returns one product or ErrProductNotFound
	Product(ctx context.Context, id string) (*Product, error)

	// AppendCheapest appends entry unless the last cheapest entry is already
	// dated entry.Date. It returns whether it wrote.
	AppendCheapest(ctx context.Context, productID string, entry CheapestEntry) (bool, error)
}

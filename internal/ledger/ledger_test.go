package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"sjsage522/priceworker/internal/price"
	"sjsage522/priceworker/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func priceOf(p price.Price) *price.Price { return &p }

func newTestLedger() (*Ledger, *MemoryStore) {
	store := NewMemoryStore()
	store.PutProduct(Product{
		ID:     "p1",
		Upload: true,
		ShopURLs: []ShopURL{
			{SiteID: "A", URL: "https://ohou.se/productions/1/selling"},
			{SiteID: "B", URL: "https://www.editori.kr/shop/item/1"},
		},
	})
	return New(store, store), store
}

func TestRecordIsIdempotentPerDay(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()

	appended, err := l.Record(ctx, "p1", "ohou", "A", price.Numeric(129000), "2024-01-10")
	require.NoError(t, err)
	assert.True(t, appended)

	// first value of the day wins
	appended, err = l.Record(ctx, "p1", "ohou", "A", price.Numeric(99000), "2024-01-10")
	require.NoError(t, err)
	assert.False(t, appended)

	appended, err = l.Record(ctx, "p1", "ohou", "A", price.SoldOut(), "2024-01-11")
	require.NoError(t, err)
	assert.True(t, appended)

	entry, err := store.Entry(ctx, HistoryKey{ProductID: "p1", SiteKey: "ohou"})
	require.NoError(t, err)
	assert.Equal(t, "A", entry.SiteID)
	assert.Equal(t, []PricePoint{
		{Date: "2024-01-10", Price: "129,000"},
		{Date: "2024-01-11", Price: "품절"},
	}, entry.Prices)
}

func TestRecordValidation(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	tests := []struct {
		name      string
		productID string
		siteKey   string
		p         price.Price
		today     string
	}{
		{"missing product", "", "ohou", price.Numeric(1000), "2024-01-10"},
		{"missing site", "p1", "", price.Numeric(1000), "2024-01-10"},
		{"empty price", "p1", "ohou", price.Price{}, "2024-01-10"},
		{"bad date", "p1", "ohou", price.Numeric(1000), "10/01/2024"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Record(ctx, tt.productID, tt.siteKey, "A", tt.p, tt.today)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrorTypeValidation))
		})
	}
}

func TestRecordConcurrentSameDay(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			appended, err := l.Record(ctx, "p1", "ohou", "A", price.Numeric(int64(1000+n)), "2024-01-10")
			assert.NoError(t, err)
			if appended {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	entry, err := store.Entry(ctx, HistoryKey{ProductID: "p1", SiteKey: "ohou"})
	require.NoError(t, err)
	assert.Len(t, entry.Prices, 1)
}

func TestUpdateCheapest(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()

	entry, err := l.UpdateCheapest(ctx, "p1", []Observation{
		{SiteID: "A", Price: priceOf(price.Numeric(120000))},
		{SiteID: "B", Price: priceOf(price.Numeric(95000))},
		{SiteID: "C", Price: nil},
	}, "2024-01-10")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, CheapestEntry{Date: "2024-01-10", Price: "95,000", SiteID: "B"}, *entry)

	// same day again is a no-op
	entry, err = l.UpdateCheapest(ctx, "p1", []Observation{
		{SiteID: "A", Price: priceOf(price.Numeric(1000))},
	}, "2024-01-10")
	require.NoError(t, err)
	assert.Nil(t, entry)

	p, err := store.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, p.Cheapest, 1)
}

func TestUpdateCheapestSkipsNonNumeric(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()

	entry, err := l.UpdateCheapest(ctx, "p1", []Observation{
		{SiteID: "A", Price: nil},
		{SiteID: "B", Price: priceOf(price.SoldOut())},
		{SiteID: "C", Price: priceOf(price.Inquiry())},
	}, "2024-01-10")
	require.NoError(t, err)
	assert.Nil(t, entry)

	p, err := store.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, p.Cheapest)

	// inquiry never wins even against a pricier numeric offer
	entry, err = l.UpdateCheapest(ctx, "p1", []Observation{
		{SiteID: "C", Price: priceOf(price.Inquiry())},
		{SiteID: "A", Price: priceOf(price.Numeric(1200000))},
	}, "2024-01-10")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "A", entry.SiteID)
}

func TestUpdateCheapestUnknownProduct(t *testing.T) {
	l, _ := newTestLedger()

	_, err := l.UpdateCheapest(context.Background(), "missing", []Observation{
		{SiteID: "A", Price: priceOf(price.Numeric(1000))},
	}, "2024-01-10")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestCheapestTieKeepsFirst(t *testing.T) {
	best, ok := Cheapest([]Observation{
		{SiteID: "A", Price: priceOf(price.Numeric(50000))},
		{SiteID: "B", Price: priceOf(price.Numeric(50000))},
	})
	require.True(t, ok)
	assert.Equal(t, "A", best.SiteID)

	_, ok = Cheapest(nil)
	assert.False(t, ok)
}

func TestHistoryAndLatest(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	_, err := l.Record(ctx, "p1", "ohou", "A", price.Numeric(129000), "2024-01-10")
	require.NoError(t, err)
	_, err = l.Record(ctx, "p1", "ohou", "A", price.Numeric(119000), "2024-01-11")
	require.NoError(t, err)
	_, err = l.Record(ctx, "p1", "editori", "B", price.Inquiry(), "2024-01-10")
	require.NoError(t, err)

	history, err := l.History(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "editori", history[0].SiteKey)
	assert.Equal(t, "ohou", history[1].SiteKey)

	latest, err := l.Latest(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []LatestPrice{
		{SiteKey: "editori", SiteID: "B", Date: "2024-01-10", Price: "999,999,999", Kind: "inquiry"},
		{SiteKey: "ohou", SiteID: "A", Date: "2024-01-11", Price: "119,000", Kind: "numeric"},
	}, latest)

	_, err = l.Entry(ctx, "p1", "29cm")
	assert.ErrorIs(t, err, ErrHistoryNotFound)

	empty, err := l.History(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEligibleProducts(t *testing.T) {
	store := NewMemoryStore()
	off := false
	store.PutProduct(Product{ID: "hidden", Upload: false, ShopURLs: []ShopURL{{SiteID: "A", URL: "https://ohou.se/1"}}})
	store.PutProduct(Product{ID: "manual", Upload: true, ShopURLs: []ShopURL{{SiteID: "A", URL: "https://ohou.se/2", PriceCare: &off}}})
	store.PutProduct(Product{ID: "tracked", Upload: true, ShopURLs: []ShopURL{
		{SiteID: "A", URL: "https://ohou.se/3", PriceCare: &off},
		{SiteID: "B", URL: "https://www.editori.kr/3"},
	}})

	products, err := store.EligibleProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "tracked", products[0].ID)
	assert.Equal(t, []ShopURL{{SiteID: "B", URL: "https://www.editori.kr/3"}}, products[0].TrackedURLs())
}

type conflictingStore struct {
	*MemoryStore
	failures int32
}

func (c *conflictingStore) AppendPrice(ctx context.Context, key HistoryKey, siteID string, point PricePoint) (bool, error) {
	if atomic.AddInt32(&c.failures, -1) >= 0 {
		return false, errors.NewLedgerConflict(key.SiteKey, "duplicate history", nil)
	}
	return c.MemoryStore.AppendPrice(ctx, key, siteID, point)
}

func TestRecordRetriesConflicts(t *testing.T) {
	store := &conflictingStore{MemoryStore: NewMemoryStore(), failures: 2}
	l := New(store, store.MemoryStore)

	appended, err := l.Record(context.Background(), "p1", "ohou", "A", price.Numeric(1000), "2024-01-10")
	require.NoError(t, err)
	assert.True(t, appended)

	store.failures = 5
	_, err = l.Record(context.Background(), "p1", "ohou", "A", price.Numeric(1000), "2024-01-11")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeLedgerConflict))
}

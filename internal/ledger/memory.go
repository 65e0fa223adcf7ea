package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps products and histories in process. It backs tests and
// runs without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*Product
	order    []string
	history  map[HistoryKey]*HistoryEntry
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*Product),
		history:  make(map[HistoryKey]*HistoryEntry),
	}
}

// PutProduct inserts or replaces a product
func (m *MemoryStore) PutProduct(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[p.ID]; !ok {
		m.order = append(m.order, p.ID)
	}
	cp := copyProduct(p)
	m.products[p.ID] = &cp
}

func (m *MemoryStore) EligibleProducts(ctx context.Context) ([]Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var products []Product
	for _, id := range m.order {
		p := m.products[id]
		if p.Eligible() {
			products = append(products, copyProduct(*p))
		}
	}
	return products, nil
}

func (m *MemoryStore) Product(ctx context.Context, id string) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	cp := copyProduct(*p)
	return &cp, nil
}

func (m *MemoryStore) AppendCheapest(ctx context.Context, productID string, entry CheapestEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return false, ErrProductNotFound
	}
	if last := p.LastCheapest(); last != nil && last.Date == entry.Date {
		return false, nil
	}
	p.Cheapest = append(p.Cheapest, entry)
	return true, nil
}

func (m *MemoryStore) AppendPrice(ctx context.Context, key HistoryKey, siteID string, point PricePoint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.history[key]
	if !ok {
		entry = &HistoryEntry{ProductID: key.ProductID, SiteKey: key.SiteKey, SiteID: siteID}
		m.history[key] = entry
	}
	if entry.HasDate(point.Date) {
		return false, nil
	}
	entry.Prices = append(entry.Prices, point)
	return true, nil
}

func (m *MemoryStore) History(ctx context.Context, productID string) ([]HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []HistoryEntry
	for key, entry := range m.history {
		if key.ProductID == productID {
			entries = append(entries, copyHistory(*entry))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SiteKey < entries[j].SiteKey })
	return entries, nil
}

func (m *MemoryStore) Entry(ctx context.Context, key HistoryKey) (*HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.history[key]
	if !ok {
		return nil, ErrHistoryNotFound
	}
	cp := copyHistory(*entry)
	return &cp, nil
}

func copyProduct(p Product) Product {
	p.ShopURLs = append([]ShopURL(nil), p.ShopURLs...)
	p.Cheapest = append([]CheapestEntry(nil), p.Cheapest...)
	return p
}

func copyHistory(h HistoryEntry) HistoryEntry {
	h.Prices = append([]PricePoint(nil), h.Prices...)
	return h
}

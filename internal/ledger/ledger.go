// Package ledger keeps per-site price histories and the daily cheapest offer.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sjsage522/priceworker/internal/price"
	"sjsage522/priceworker/logger"
	"sjsage522/priceworker/pkg/errors"
)

// DateLayout is the calendar date format stored in histories
const DateLayout = "2006-01-02"

const (
	conflictRetries = 3
	conflictBackoff = 50 * time.Millisecond
)

// Ledger serializes writes per history and per product
type Ledger struct {
	history  HistoryStore
	products ProductStore
	locks    *keyLocks
	log      *logger.Logger
}

// New creates a ledger over the given stores
func New(history HistoryStore, products ProductStore) *Ledger {
	return &Ledger{
		history:  history,
		products: products,
		locks:    newKeyLocks(),
		log:      logger.ForLedger(),
	}
}

// Record appends p to the history of (productID, siteKey) for today. A second
// call on the same date is a no-op and returns false.
func (l *Ledger) Record(ctx context.Context, productID, siteKey, siteID string, p price.Price, today string) (bool, error) {
	if productID == "" || siteKey == "" {
		return false, errors.NewValidation(siteKey, "product id and site key are required")
	}
	if p.Text == "" {
		return false, errors.NewValidation(siteKey, "empty price")
	}
	if err := validateDate(today); err != nil {
		return false, errors.NewValidation(siteKey, err.Error())
	}

	key := HistoryKey{ProductID: productID, SiteKey: siteKey}
	unlock := l.locks.lock("history:" + key.String())
	defer unlock()

	var appended bool
	err := retryConflicts(ctx, func() error {
		var err error
		appended, err = l.history.AppendPrice(ctx, key, siteID, PricePoint{Date: today, Price: p.Text})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("record %s: %w", key, err)
	}

	l.log.Debug().
		Str("product", productID).
		Str("site", siteKey).
		Str("date", today).
		Str("price", p.Text).
		Bool("appended", appended).
		Msg("Price recorded")
	return appended, nil
}

// UpdateCheapest appends today's cheapest numeric observation to the product.
// Sold-out and inquiry prices never compete. It returns the appended entry,
// or nil when nothing was numeric or today's entry already exists.
func (l *Ledger) UpdateCheapest(ctx context.Context, productID string, observations []Observation, today string) (*CheapestEntry, error) {
	if productID == "" {
		return nil, errors.NewValidation("", "product id is required")
	}
	if err := validateDate(today); err != nil {
		return nil, errors.NewValidation("", err.Error())
	}

	best, ok := Cheapest(observations)
	if !ok {
		return nil, nil
	}
	entry := CheapestEntry{Date: today, Price: best.Price.Text, SiteID: best.SiteID}

	unlock := l.locks.lock("cheapest:" + productID)
	defer unlock()

	var appended bool
	err := retryConflicts(ctx, func() error {
		var err error
		appended, err = l.products.AppendCheapest(ctx, productID, entry)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update cheapest of %s: %w", productID, err)
	}
	if !appended {
		return nil, nil
	}

	l.log.Info().
		Str("product", productID).
		Str("date", today).
		Str("price", entry.Price).
		Str("shop", entry.SiteID).
		Msg("Cheapest price appended")
	return &entry, nil
}

// Cheapest picks the lowest numeric observation; ties keep the first one
func Cheapest(observations []Observation) (Observation, bool) {
	var (
		best  Observation
		found bool
	)
	for _, obs := range observations {
		if obs.Price == nil || !obs.Price.IsNumeric() {
			continue
		}
		if !found || obs.Price.Amount < best.Price.Amount {
			best, found = obs, true
		}
	}
	return best, found
}

// History returns every site history of a product, ordered by site key
func (l *Ledger) History(ctx context.Context, productID string) ([]HistoryEntry, error) {
	entries, err := l.history.History(ctx, productID)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SiteKey < entries[j].SiteKey })
	return entries, nil
}

// Entry returns the history of one product at one site
func (l *Ledger) Entry(ctx context.Context, productID, siteKey string) (*HistoryEntry, error) {
	return l.history.Entry(ctx, HistoryKey{ProductID: productID, SiteKey: siteKey})
}

// Latest returns the newest price per site for a product
func (l *Ledger) Latest(ctx context.Context, productID string) ([]LatestPrice, error) {
	entries, err := l.History(ctx, productID)
	if err != nil {
		return nil, err
	}

	latest := make([]LatestPrice, 0, len(entries))
	for _, entry := range entries {
		last := entry.Last()
		if last == nil {
			continue
		}
		latest = append(latest, LatestPrice{
			SiteKey: entry.SiteKey,
			SiteID:  entry.SiteID,
			Date:    last.Date,
			Price:   last.Price,
			Kind:    string(price.FromText(last.Price).Kind),
		})
	}
	return latest, nil
}

func validateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("invalid date %q", date)
	}
	return nil
}

// retryConflicts reruns fn while it reports a ledger conflict
func retryConflicts(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		err = fn()
		if !errors.Is(err, errors.ErrorTypeLedgerConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * conflictBackoff):
		}
	}
	return err
}

// keyLocks hands out one mutex per key and forgets it when unused
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

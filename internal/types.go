package internal

import (
	"sjsage522/priceworker/internal/ledger"
	"sjsage522/priceworker/services/cache"
	"sjsage522/priceworker/services/lock"
	"sjsage522/priceworker/services/publisher"
)

// Dependencies holds all service dependencies
type Dependencies struct {
	Cache     cache.CacheService
	Publisher publisher.Publisher
	Locker    lock.Locker
	History   ledger.HistoryStore
	Products  ledger.ProductStore

	closers []func() error
}

// OnClose registers a cleanup to run when the dependencies are closed
func (d *Dependencies) OnClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

// Close releases the dependencies in reverse order of registration
func (d *Dependencies) Close() error {
	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	d.closers = nil
	return first
}

package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"sjsage522/priceworker/internal/crawler"
	"sjsage522/priceworker/internal/ledger"
	"sjsage522/priceworker/logger"
	"sjsage522/priceworker/pkg/errors"
	"sjsage522/priceworker/services/publisher"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Failure reasons that are not ProbeErrors
const (
	ReasonNoPrice   = "no_price"
	ReasonCancelled = "cancelled"
)

// SessionFactory opens probe sessions scoped to one run
type SessionFactory interface {
	NewSession(deadline time.Time) crawler.Prober
}

// Options tunes a Job
type Options struct {
	// Workers is the number of products probed concurrently
	Workers int
	// Budget bounds dynamic fetches per run; zero means unbounded
	Budget time.Duration
}

// Job is the batch price update: probe every tracked shop URL, record the
// observations and append the day's cheapest offer per product.
type Job struct {
	sessions  SessionFactory
	products  ledger.ProductStore
	ledger    *ledger.Ledger
	publisher publisher.Publisher
	opts      Options
	now       func() time.Time
}

// NewJob creates a batch job
func NewJob(sessions SessionFactory, products ledger.ProductStore, l *ledger.Ledger, pub publisher.Publisher, opts Options) *Job {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Job{
		sessions:  sessions,
		products:  products,
		ledger:    l,
		publisher: pub,
		opts:      opts,
		now:       time.Now,
	}
}

// Summary reports one run
type Summary struct {
	RunID            string         `json:"run_id"`
	Date             string         `json:"date"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
	Products         int            `json:"products"`
	ProcessedCount   int            `json:"processed_count"`
	Probed           int            `json:"probed"`
	Recorded         int            `json:"recorded"`
	Gone             int            `json:"gone"`
	CheapestAppended int            `json:"cheapest_appended"`
	Failures         map[string]int `json:"failures"`
	Aborted          string         `json:"aborted,omitempty"`
}

// outcome is what one product contributed to a run
type outcome struct {
	processed bool
	probed    int
	recorded  int
	gone      int
	cheapest  bool
	failures  map[string]int
}

func (o *outcome) fail(reason string) {
	if o.failures == nil {
		o.failures = make(map[string]int)
	}
	o.failures[reason]++
}

// RunOnce processes every eligible product for today
func (j *Job) RunOnce(ctx context.Context, today string) (*Summary, error) {
	products, err := j.products.EligibleProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load eligible products: %w", err)
	}
	return j.run(ctx, products, today)
}

// RunProduct processes a single product regardless of its upload flag
func (j *Job) RunProduct(ctx context.Context, productID, today string) (*Summary, error) {
	p, err := j.products.Product(ctx, productID)
	if err != nil {
		return nil, err
	}
	return j.run(ctx, []ledger.Product{*p}, today)
}

func (j *Job) run(ctx context.Context, products []ledger.Product, today string) (*Summary, error) {
	summary := &Summary{
		RunID:     uuid.NewString(),
		Date:      today,
		StartedAt: j.now(),
		Products:  len(products),
		Failures:  make(map[string]int),
	}
	log := logger.ForJob(summary.RunID)
	log.Info().Str("date", today).Int("products", len(products)).Msg("Price update started")

	var deadline time.Time
	if j.opts.Budget > 0 {
		deadline = summary.StartedAt.Add(j.opts.Budget)
	}
	session := j.sessions.NewSession(deadline)
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close probe session")
		}
	}()

	outcomes := make([]outcome, len(products))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.opts.Workers)
	for i := range products {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			var err error
			outcomes[i], err = j.processProduct(gctx, session, &products[i], today)
			return err
		})
	}
	runErr := g.Wait()

	for _, o := range outcomes {
		if o.processed {
			summary.ProcessedCount++
		}
		summary.Probed += o.probed
		summary.Recorded += o.recorded
		summary.Gone += o.gone
		if o.cheapest {
			summary.CheapestAppended++
		}
		for reason, n := range o.failures {
			summary.Failures[reason] += n
		}
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	if runErr != nil {
		summary.Aborted = runErr.Error()
	}
	summary.FinishedAt = j.now()

	j.finish(log, summary)
	if runErr != nil {
		return summary, fmt.Errorf("price update aborted: %w", runErr)
	}
	return summary, nil
}

// processProduct probes the product's URLs in order. Only resource failures
// are returned; everything else is counted and skipped.
func (j *Job) processProduct(ctx context.Context, session crawler.Prober, p *ledger.Product, today string) (outcome, error) {
	var (
		o            outcome
		observations []ledger.Observation
	)

	for _, shop := range p.TrackedURLs() {
		if ctx.Err() != nil {
			o.fail(ReasonCancelled)
			return o, nil
		}

		o.probed++
		result, err := session.Probe(ctx, shop.URL)
		if err != nil {
			if stderrors.Is(err, crawler.ErrBrowserUnavailable) {
				o.fail(errors.Reason(err))
				return o, err
			}
			if ctx.Err() != nil {
				o.fail(ReasonCancelled)
				return o, nil
			}
			o.fail(errors.Reason(err))
			continue
		}
		if result.Gone {
			o.gone++
			continue
		}
		if !result.HasPrice() {
			o.fail(ReasonNoPrice)
			continue
		}

		observations = append(observations, ledger.Observation{SiteID: shop.SiteID, Price: result.Price})

		appended, err := j.ledger.Record(ctx, p.ID, result.SiteKey, shop.SiteID, *result.Price, today)
		if err != nil {
			logger.ForSite(result.SiteKey).Error().Err(err).Str("product", p.ID).Msg("Failed to record price")
			o.fail(errors.Reason(err))
			continue
		}
		if appended {
			o.recorded++
			j.publish(publisher.KeyPriceRecorded, publisher.PriceRecorded{
				ProductID: p.ID,
				SiteKey:   result.SiteKey,
				SiteID:    shop.SiteID,
				Date:      today,
				Price:     result.Price.Text,
				Kind:      string(result.Price.Kind),
				Name:      result.Name,
				URL:       shop.URL,
			})
		}
	}

	entry, err := j.ledger.UpdateCheapest(ctx, p.ID, observations, today)
	if err != nil {
		logger.ForLedger().Error().Err(err).Str("product", p.ID).Msg("Failed to update cheapest price")
		o.fail(errors.Reason(err))
	} else if entry != nil {
		o.cheapest = true
		j.publish(publisher.KeyCheapestUpdated, publisher.CheapestUpdated{
			ProductID: p.ID,
			Date:      entry.Date,
			Price:     entry.Price,
			SiteID:    entry.SiteID,
		})
	}

	o.processed = true
	return o, nil
}

func (j *Job) publish(key string, v any) {
	if j.publisher == nil {
		return
	}
	if err := publisher.PublishJSON(j.publisher, key, v); err != nil {
		logger.ForPublisher().Warn().Err(err).Str("key", key).Msg("Failed to publish")
	}
}

func (j *Job) finish(log *logger.Logger, summary *Summary) {
	event := log.Info()
	if summary.Aborted != "" {
		event = log.Error().Str("aborted", summary.Aborted)
	}
	event.
		Str("date", summary.Date).
		Int("products", summary.Products).
		Int("processed", summary.ProcessedCount).
		Int("probed", summary.Probed).
		Int("recorded", summary.Recorded).
		Int("gone", summary.Gone).
		Int("cheapest", summary.CheapestAppended).
		Interface("failures", summary.Failures).
		Dur("elapsed", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("Price update finished")

	j.publish(publisher.KeyRunSummary, summary)
	if j.publisher != nil {
		if err := j.publisher.TrimStreams(); err != nil {
			logger.LogError("StreamTrimming", err, "failed to trim streams")
		}
	}
}

package api

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sjsage522/priceworker/internal/crawler"
	"sjsage522/priceworker/internal/ledger"
	"sjsage522/priceworker/logger"
	"sjsage522/priceworker/pkg/errors"
	"sjsage522/priceworker/services/cache"
	"sjsage522/priceworker/services/scheduler"
	"sjsage522/priceworker/services/worker"

	"github.com/gin-gonic/gin"
)

const previewTTL = 10 * time.Minute

// Prober runs an ad hoc probe
type Prober interface {
	Probe(ctx context.Context, rawURL string) (*crawler.Result, error)
}

// Scheduler is the part of the scheduler the API drives
type Scheduler interface {
	Status() scheduler.Status
	Trigger() error
	Today() string
}

// ProductRunner updates a single product
type ProductRunner interface {
	RunProduct(ctx context.Context, productID, today string) (*worker.Summary, error)
}

// HistoryReader reads stored price histories
type HistoryReader interface {
	Latest(ctx context.Context, productID string) ([]ledger.LatestPrice, error)
	Entry(ctx context.Context, productID, siteKey string) (*ledger.HistoryEntry, error)
}

type Handler struct {
	prober    Prober
	scheduler Scheduler
	runner    ProductRunner
	history   HistoryReader
	cache     cache.CacheService
	log       *logger.Logger
}

// NewHandler creates the admin handlers; cacheSvc may be nil
func NewHandler(prober Prober, sched Scheduler, runner ProductRunner, history HistoryReader, cacheSvc cache.CacheService) *Handler {
	return &Handler{
		prober:    prober,
		scheduler: sched,
		runner:    runner,
		history:   history,
		cache:     cacheSvc,
		log:       logger.ForAPI(),
	}
}

// PreviewResponse is the result of probing one URL
type PreviewResponse struct {
	URL     string `json:"url"`
	SiteKey string `json:"site_key"`
	Name    string `json:"name,omitempty"`
	Price   string `json:"price,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Gone    bool   `json:"gone,omitempty"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Preview(c *gin.Context) {
	rawURL := strings.TrimSpace(c.Query("url"))
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	key := previewKey(rawURL)
	if h.cache != nil {
		var cached PreviewResponse
		if err := cache.GetJSON(h.cache, key, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	result, err := h.prober.Probe(c.Request.Context(), rawURL)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  describe(err),
			"reason": errors.Reason(err),
		})
		return
	}

	resp := PreviewResponse{URL: rawURL, SiteKey: result.SiteKey, Name: result.Name, Gone: result.Gone}
	if result.HasPrice() {
		resp.Price = result.Price.Text
		resp.Kind = string(result.Price.Kind)
	}

	if h.cache != nil && !resp.Gone {
		if err := cache.SetJSON(h.cache, key, resp, previewTTL); err != nil {
			logger.ForCache().Debug().Err(err).Msg("Failed to cache preview")
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) SchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}

func (h *Handler) UpdateAll(c *gin.Context) {
	if err := h.scheduler.Trigger(); err != nil {
		if stderrors.Is(err, scheduler.ErrRunActive) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "date": h.scheduler.Today()})
}

func (h *Handler) UpdateOne(c *gin.Context) {
	productID := c.Param("product_id")
	summary, err := h.runner.RunProduct(c.Request.Context(), productID, h.scheduler.Today())
	if err != nil {
		if stderrors.Is(err, ledger.ErrProductNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		}
		h.log.Error().Err(err).Str("product", productID).Msg("Single product update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) LatestPrices(c *gin.Context) {
	productID := c.Param("product_id")
	latest, err := h.history.Latest(c.Request.Context(), productID)
	if err != nil {
		h.log.Error().Err(err).Str("product", productID).Msg("Failed to read prices")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch prices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "prices": latest})
}

func (h *Handler) PriceHistory(c *gin.Context) {
	productID, siteKey := c.Param("product_id"), c.Param("site_key")
	entry, err := h.history.Entry(c.Request.Context(), productID, siteKey)
	if err != nil {
		if stderrors.Is(err, ledger.ErrHistoryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "price history not found"})
			return
		}
		h.log.Error().Err(err).Str("product", productID).Str("site", siteKey).Msg("Failed to read history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch history"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// describe turns a probe failure into a sentence an operator can act on
func describe(err error) string {
	switch errors.Reason(err) {
	case string(errors.ErrorTypeSiteIdentification):
		return "could not identify a shop from this URL"
	case string(errors.ErrorTypeTimeout):
		return "the shop did not respond in time"
	case string(errors.ErrorTypeRateLimit):
		return "the shop is rate limiting us, try again later"
	case string(errors.ErrorTypeBrowser):
		return "the headless browser could not render this page"
	case string(errors.ErrorTypeNetwork):
		var pe *errors.ProbeError
		if stderrors.As(err, &pe) && pe.Message != "" {
			return "could not fetch the page: " + pe.Message
		}
		return "could not fetch the page"
	default:
		return err.Error()
	}
}

func previewKey(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		rawURL = u.String()
	}
	sum := sha1.Sum([]byte(rawURL))
	return "preview_" + hex.EncodeToString(sum[:])
}

package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"sjsage522/priceworker/internal/api"
	"sjsage522/priceworker/internal/crawler"
	"sjsage522/priceworker/internal/ledger"
	"sjsage522/priceworker/services/cache"
	"sjsage522/priceworker/services/lock"
	"sjsage522/priceworker/services/publisher"
	"sjsage522/priceworker/services/scheduler"
	"sjsage522/priceworker/services/worker"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productHTML = `
<!DOCTYPE html>
<html>
<head>
    <meta property="og:title" content="Lounge Chair">
    <meta property="product:price:amount" content="50000">
</head>
<body>
    <div class="price">50,000원</div>
</body>
</html>
`

// newShopServer plays both shops: ohou serves the product, editori has
// removed it and redirects to its home page
func newShopServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/productions/1/selling", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(productHTML))
	})
	mux.HandleFunc("/shop/item.php", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/index.php", http.StatusFound)
	})
	mux.HandleFunc("/index.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>home</body></html>`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// routedClient sends every request to server whatever the URL host is
func routedClient(server *httptest.Server) *http.Client {
	addr := server.Listener.Addr().String()
	return &http.Client{
		Timeout: 2 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

type pipeline struct {
	store     *ledger.MemoryStore
	pub       *publisher.MemoryPublisher
	engine    *crawler.Engine
	job       *worker.Job
	ledger    *ledger.Ledger
	scheduler *scheduler.Scheduler
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	server := newShopServer(t)

	store := ledger.NewMemoryStore()
	store.PutProduct(ledger.Product{
		ID:     "p1",
		Upload: true,
		ShopURLs: []ledger.ShopURL{
			{SiteID: "shopA", URL: "http://ohou.se/productions/1/selling"},
			{SiteID: "shopB", URL: "http://www.editori.kr/shop/item.php?it_id=1"},
		},
	})

	static := crawler.NewStaticFetcher(routedClient(server), cache.NewMemoryService(), crawler.StaticOptions{})
	engine := crawler.NewEngine(crawler.DefaultRegistry(), static, crawler.BrowserConfig{})
	pub := publisher.NewMemoryPublisher()
	l := ledger.New(store, store)
	job := worker.NewJob(engine, store, l, pub, worker.Options{Workers: 2})
	sched := scheduler.New(job, lock.NewLocalLock(), scheduler.Config{Hour: 15, Minute: 20})

	return &pipeline{store: store, pub: pub, engine: engine, job: job, ledger: l, scheduler: sched}
}

func TestIntegration(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	summary, err := p.job.RunOnce(ctx, "2024-01-10")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ProcessedCount)
	assert.Equal(t, 1, summary.Recorded)
	assert.Equal(t, 1, summary.Gone)
	assert.Equal(t, 1, summary.CheapestAppended)

	history, err := p.ledger.History(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ohou", history[0].SiteKey)
	assert.Equal(t, []ledger.PricePoint{{Date: "2024-01-10", Price: "50,000"}}, history[0].Prices)

	product, err := p.store.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []ledger.CheapestEntry{{Date: "2024-01-10", Price: "50,000", SiteID: "shopA"}}, product.Cheapest)

	// same day again mutates nothing
	summary, err = p.job.RunOnce(ctx, "2024-01-10")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Recorded)
	assert.Equal(t, 0, summary.CheapestAppended)

	history, err = p.ledger.History(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, history[0].Prices, 1)
	product, err = p.store.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, product.Cheapest, 1)

	// next day appends once more
	summary, err = p.job.RunOnce(ctx, "2024-01-11")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Recorded)
	assert.Equal(t, 1, summary.CheapestAppended)

	history, err = p.ledger.History(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []ledger.PricePoint{
		{Date: "2024-01-10", Price: "50,000"},
		{Date: "2024-01-11", Price: "50,000"},
	}, history[0].Prices)
	product, err = p.store.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, product.Cheapest, 2)

	assert.Len(t, p.pub.Messages(publisher.KeyPriceRecorded), 2)
	assert.Len(t, p.pub.Messages(publisher.KeyCheapestUpdated), 2)
	assert.Len(t, p.pub.Messages(publisher.KeyRunSummary), 3)
}

func TestIntegrationAdminAPI(t *testing.T) {
	p := newPipeline(t)
	gin.SetMode(gin.TestMode)
	router := api.SetupRouter(api.NewHandler(p.engine, p.scheduler, p.job, p.ledger, cache.NewMemoryService()))

	w := httptest.NewRecorder()
	target := "/preview?url=" + url.QueryEscape("http://ohou.se/productions/1/selling")
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var preview api.PreviewResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &preview))
	assert.Equal(t, "ohou", preview.SiteKey)
	assert.Equal(t, "Lounge Chair", preview.Name)
	assert.Equal(t, "50,000", preview.Price)
	assert.Equal(t, "numeric", preview.Kind)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/update_prices/all", nil))
	require.Equal(t, http.StatusAccepted, w.Code)
	p.scheduler.Wait()

	status := p.scheduler.Status()
	require.NotNil(t, status.LastSummary)
	assert.Equal(t, 1, status.LastSummary.Recorded)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/price/p1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"price":"50,000"`)
}

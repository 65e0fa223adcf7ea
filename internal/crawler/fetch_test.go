package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"sjsage522/priceworker/helpers"
	"sjsage522/priceworker/pkg/errors"
	"sjsage522/priceworker/services/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newShopServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/product/1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><span class="price">12,000원</span></body></html>`))
	})
	mux.HandleFunc("/product/removed", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/index.php", http.StatusFound)
	})
	mux.HandleFunc("/product/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/product/1", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/product/to-main", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/main/index.php", http.StatusFound)
	})
	mux.HandleFunc("/shop/goods/goods_view.php", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/shop/goods/goods_list.php", http.StatusFound)
	})
	mux.HandleFunc("/shop/goods/goods_list.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>list</body></html>`))
	})
	mux.HandleFunc("/index.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>home</body></html>`))
	})
	mux.HandleFunc("/main/index.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>home</body></html>`))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/euc-kr", func(w http.ResponseWriter, r *http.Request) {
		// mislabelled as utf-8; body is "가격" in EUC-KR
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte{0xb0, 0xa1, 0xb0, 0xdd})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestStaticFetcher(cacheSvc cache.CacheService, timeout time.Duration) *StaticFetcher {
	return NewStaticFetcher(helpers.NewHTTPClient(timeout, true), cacheSvc, StaticOptions{
		BlockTime: 500 * time.Second,
	})
}

func TestStaticFetchClassification(t *testing.T) {
	server := newShopServer(t)
	fetcher := newTestStaticFetcher(nil, 2*time.Second)
	ctx := context.Background()

	t.Run("product page renders", func(t *testing.T) {
		page, err := fetcher.Fetch(ctx, server.URL+"/product/1", "shop", "")
		require.NoError(t, err)
		assert.False(t, page.Gone)
		assert.Equal(t, http.StatusOK, page.Status)
		assert.Contains(t, page.HTML, "12,000원")
	})

	t.Run("404 is gone", func(t *testing.T) {
		page, err := fetcher.Fetch(ctx, server.URL+"/product/404", "shop", "")
		require.NoError(t, err)
		assert.True(t, page.Gone)
		assert.Empty(t, page.HTML)
	})

	t.Run("redirect to index.php is gone", func(t *testing.T) {
		page, err := fetcher.Fetch(ctx, server.URL+"/product/removed", "shop", "")
		require.NoError(t, err)
		assert.True(t, page.Gone)
		assert.Equal(t, server.URL+"/index.php", page.FinalURL)
	})

	t.Run("redirect to main index is gone", func(t *testing.T) {
		page, err := fetcher.Fetch(ctx, server.URL+"/product/to-main", "shop", "")
		require.NoError(t, err)
		assert.True(t, page.Gone)
	})

	t.Run("goods_view.php disappearing is gone", func(t *testing.T) {
		page, err := fetcher.Fetch(ctx, server.URL+"/shop/goods/goods_view.php?goodsno=7", "shop", "")
		require.NoError(t, err)
		assert.True(t, page.Gone)
	})

	t.Run("redirect to another product page renders", func(t *testing.T) {
		page, err := fetcher.Fetch(ctx, server.URL+"/product/moved", "shop", "")
		require.NoError(t, err)
		assert.False(t, page.Gone)
		assert.Contains(t, page.HTML, "12,000원")
	})

	t.Run("server error is a failure", func(t *testing.T) {
		_, err := fetcher.Fetch(ctx, server.URL+"/broken", "shop", "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrorTypeNetwork))
		assert.Contains(t, err.Error(), "unexpected status code: 500")
	})

	t.Run("forced encoding", func(t *testing.T) {
		page, err := fetcher.Fetch(ctx, server.URL+"/euc-kr", "nordicpark", "euc-kr")
		require.NoError(t, err)
		assert.Equal(t, "가격", page.HTML)
	})
}

func TestGoneRules(t *testing.T) {
	parse := func(s string) *url.URL {
		u, err := url.Parse(s)
		require.NoError(t, err)
		return u
	}

	rules := DefaultGoneRules
	assert.True(t, rules.IsGone(parse("https://a.kr/p/1"), parse("https://a.kr/"), 200))
	assert.True(t, rules.IsGone(parse("https://a.kr/p/1"), parse("https://a.kr"), 200))
	assert.True(t, rules.IsGone(parse("https://a.kr/index.php?product=5"), parse("https://a.kr/index.php"), 200))
	assert.True(t, rules.IsGone(parse("https://a.kr/p/1"), parse("https://a.kr/p/1"), http.StatusNotFound))
	assert.False(t, rules.IsGone(parse("https://a.kr/p/1"), parse("https://a.kr/p/1"), 200))
	assert.False(t, rules.IsGone(parse("https://a.kr/"), parse("https://a.kr/"), 200))
	assert.False(t, rules.IsGone(parse("http://a.kr/p/1"), parse("https://www.a.kr/p/1"), 200))
}

func TestStaticFetchRateLimitBlock(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	cacheSvc := cache.NewMemoryService()
	fetcher := newTestStaticFetcher(cacheSvc, 2*time.Second)

	_, err := fetcher.Fetch(context.Background(), server.URL+"/p/1", "ohou", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeRateLimit))

	value, err := cacheSvc.Get("ohou_rate_limited")
	require.NoError(t, err)
	assert.Equal(t, "500", string(value))

	// blocked: no request goes out
	_, err = fetcher.Fetch(context.Background(), server.URL+"/p/2", "ohou", "")
	require.Error(t, err)
	assert.Equal(t, "rate_limit", errors.Reason(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestStaticFetchTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	fetcher := newTestStaticFetcher(nil, 100*time.Millisecond)
	_, err := fetcher.Fetch(context.Background(), server.URL+"/slow", "slowshop", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeTimeout))
}

func TestSiteIntervalPacesRequests(t *testing.T) {
	server := newShopServer(t)
	fetcher := NewStaticFetcher(helpers.NewHTTPClient(time.Second, true), nil, StaticOptions{
		SiteInterval: 150 * time.Millisecond,
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := fetcher.Fetch(context.Background(), server.URL+"/product/1", "shop", "")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 280*time.Millisecond)
}

type fakeRenderer struct {
	pages  map[string]*Page
	err    error
	calls  int32
	closed int32
}

func (f *fakeRenderer) Render(ctx context.Context, rawURL string) (*Page, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	if page, ok := f.pages[rawURL]; ok {
		return page, nil
	}
	return &Page{URL: rawURL, Gone: true, Status: http.StatusNotFound}, nil
}

func (f *fakeRenderer) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func TestPageFetcherModeSelection(t *testing.T) {
	server := newShopServer(t)
	registry := DefaultRegistry()
	static := newTestStaticFetcher(nil, 2*time.Second)
	renderer := &fakeRenderer{pages: map[string]*Page{
		"https://product.29cm.co.kr/catalog/1": {HTML: `<p id="pdp_product_price">178,000원</p>`},
	}}

	fetcher := NewPageFetcher(registry, static, renderer)

	page, err := fetcher.Fetch(context.Background(), "https://product.29cm.co.kr/catalog/1", "29cm")
	require.NoError(t, err)
	assert.Contains(t, page.HTML, "178,000원")
	assert.Equal(t, int32(1), renderer.calls)

	_, err = fetcher.Fetch(context.Background(), server.URL+"/product/1", "ohou")
	require.NoError(t, err)
	assert.Equal(t, int32(1), renderer.calls)

	_, err = NewPageFetcher(registry, static, nil).Fetch(context.Background(), "https://product.29cm.co.kr/catalog/1", "29cm")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBrowserUnavailable)

	renderer.err = errors.NewBrowser("", "navigation failed", nil)
	_, err = fetcher.Fetch(context.Background(), "https://product.29cm.co.kr/catalog/2", "29cm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "29cm")
}

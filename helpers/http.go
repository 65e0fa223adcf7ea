package helpers

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	mathrand "math/rand"
	"net/http"
	"slices"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// EncodingAuto ignores the Content-Type charset and sniffs the body only.
const EncodingAuto = "auto"

// HTTP header configurations
var (
	userAgents = []string{
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	}

	referers = []string{
		"https://www.google.com/",
		"https://www.naver.com/",
		"https://www.daum.net/",
	}

	rateLimitStatuses = []int{http.StatusTooManyRequests, 430}
)

// NewHTTPClient returns a client for shop pages. Shops with broken
// certificate chains are common, so verification can be switched off.
func NewHTTPClient(timeout time.Duration, insecure bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// RandomUserAgent picks one of the desktop browser user agents.
func RandomUserAgent() string {
	rnd := mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	return userAgents[rnd.Intn(len(userAgents))]
}

// SetBrowserHeaders sets randomized browser-like headers on req.
func SetBrowserHeaders(req *http.Request) {
	rnd := mathrand.New(mathrand.NewSource(time.Now().UnixNano()))

	req.Header.Set("User-Agent", userAgents[rnd.Intn(len(userAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("referer", referers[rnd.Intn(len(referers))])
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("upgrade-insecure-requests", "1")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	req.Header.Set("Sec-Fetch-User", "?1")
}

// IsRateLimited reports whether status is one of the throttling codes shops answer with.
func IsRateLimited(status int) bool {
	return slices.Contains(rateLimitStatuses, status)
}

// DecodeBody converts body to a UTF-8 string.
//
// forced selects the encoding: "" uses the Content-Type charset and falls
// back to sniffing, EncodingAuto sniffs the body only, and any other value
// is looked up as a WHATWG encoding label (e.g. "euc-kr").
func DecodeBody(body []byte, contentType, forced string) (string, error) {
	var (
		enc  encoding.Encoding
		name string
	)

	switch strings.ToLower(strings.TrimSpace(forced)) {
	case "":
		enc, name, _ = charset.DetermineEncoding(body, contentType)
	case EncodingAuto:
		enc, name, _ = charset.DetermineEncoding(body, "")
	default:
		e, err := htmlindex.Get(forced)
		if err != nil {
			return "", fmt.Errorf("unknown encoding %q: %w", forced, err)
		}
		enc = e
		name, _ = htmlindex.Name(e)
	}

	// If already UTF-8, return as is
	if strings.EqualFold(name, "utf-8") {
		return string(body), nil
	}

	utf8Reader := enc.NewDecoder().Reader(bytes.NewReader(body))
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, utf8Reader); err != nil {
		return "", fmt.Errorf("failed to read converted UTF-8 body: %w", err)
	}
	return buf.String(), nil
}

package crawler

import (
	"net"
	"net/url"
	"strings"

	"sjsage522/priceworker/pkg/errors"

	"golang.org/x/net/publicsuffix"
)

// IdentifySite derives the site key of rawURL: the registrable domain with
// its public suffix removed ("https://www.editori.kr/p/1" -> "editori").
func IdentifySite(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", errors.NewSiteIdentification(rawURL, "malformed url")
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", errors.NewSiteIdentification(rawURL, "url has no host")
	}
	if net.ParseIP(host) != nil {
		return "", errors.NewSiteIdentification(rawURL, "ip address has no registrable domain")
	}

	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", errors.NewSiteIdentification(rawURL, "no registrable domain for "+host)
	}
	suffix, _ := publicsuffix.PublicSuffix(registrable)

	return strings.TrimSuffix(registrable, "."+suffix), nil
}

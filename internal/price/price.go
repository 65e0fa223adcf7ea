// Package price turns scraped price text into canonical comma-grouped values.
package price

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Kind classifies a normalized price
type Kind string

const (
	KindNumeric Kind = "numeric"
	KindSoldOut Kind = "sold_out"
	KindInquiry Kind = "inquiry"
)

const (
	// SoldOutText is stored in place of a number for sold-out offers
	SoldOutText = "품절"
	// InquiryText is stored for "price on inquiry" offers
	InquiryText = "999,999,999"
	// InquiryAmount is the numeric value of InquiryText
	InquiryAmount int64 = 999999999
)

var (
	inquiryPrefixes = []string{"가격문의", "매장 별도문의"}

	soldOutMarkers = []string{
		"div.soldout-icon img[alt='품절']",
		"div.icon img[alt='품절']",
		"div.promotion img[alt*='품절']",
	}

	currencyPattern = regexp.MustCompile(`(?i)KRW|WON|원`)
	numberPattern   = regexp.MustCompile(`\d{1,3}(?:,\d{3})+|\d{4,}`)
	nonDigitPattern = regexp.MustCompile(`[^0-9]`)

	printer = message.NewPrinter(language.English)
)

// Price is a normalized price observation
type Price struct {
	Text   string `json:"text"`
	Amount int64  `json:"amount"`
	Kind   Kind   `json:"kind"`
}

// IsNumeric reports whether p is a real price that may take part in a minimum
func (p Price) IsNumeric() bool {
	return p.Kind == KindNumeric
}

func (p Price) String() string {
	return p.Text
}

// Numeric builds a numeric price from an integer amount
func Numeric(amount int64) Price {
	return Price{Text: Format(amount), Amount: amount, Kind: KindNumeric}
}

// SoldOut returns the sold-out sentinel
func SoldOut() Price {
	return Price{Text: SoldOutText, Kind: KindSoldOut}
}

// Inquiry returns the price-on-inquiry sentinel
func Inquiry() Price {
	return Price{Text: InquiryText, Amount: InquiryAmount, Kind: KindInquiry}
}

// Format renders amount with thousands separators
func Format(amount int64) string {
	return printer.Sprintf("%d", amount)
}

// Normalize converts raw price text into a canonical Price. scope is the
// document region searched for sold-out markers when the text is a 0/1
// placeholder; it may be nil. The boolean is false when no usable price
// was found.
func Normalize(raw string, scope *goquery.Selection) (Price, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Price{}, false
	}

	for _, prefix := range inquiryPrefixes {
		if strings.HasPrefix(text, prefix) {
			return Inquiry(), true
		}
	}
	if text == SoldOutText {
		return SoldOut(), true
	}

	cleaned := strings.TrimSpace(currencyPattern.ReplaceAllString(text, ""))

	var (
		lowest int64
		found  bool
	)
	for _, match := range numberPattern.FindAllString(cleaned, -1) {
		n, err := strconv.ParseInt(strings.ReplaceAll(match, ",", ""), 10, 64)
		if err != nil {
			continue
		}
		if !found || n < lowest {
			lowest = n
			found = true
		}
	}

	if found && lowest > 1 {
		return Numeric(lowest), true
	}

	// "0원" and "1원" are placeholders some shops show instead of a price
	digits := nonDigitPattern.ReplaceAllString(cleaned, "")
	if (found || digits == "0" || digits == "1") && HasSoldOutMarker(scope) {
		return SoldOut(), true
	}
	if found {
		return Numeric(lowest), true
	}
	return Price{}, false
}

// HasSoldOutMarker reports whether scope contains one of the sold-out badges
func HasSoldOutMarker(scope *goquery.Selection) bool {
	if scope == nil {
		return false
	}
	for _, sel := range soldOutMarkers {
		if scope.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// FromText reclassifies a stored price string
func FromText(text string) Price {
	switch text {
	case SoldOutText:
		return SoldOut()
	case InquiryText:
		return Inquiry()
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(text, ",", ""), 10, 64)
	if err != nil {
		return Price{Text: text}
	}
	return Price{Text: text, Amount: n, Kind: KindNumeric}
}

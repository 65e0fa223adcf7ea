package crawler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// fieldHandler returns the raw text of a field and the region it was found
// in, or "" when it does not match
type fieldHandler func(doc *goquery.Document) (string, *goquery.Selection)

var (
	saleWord         = "판매"
	currencyTokens   = []string{"KRW", "원", "WON"}
	threeDigits      = regexp.MustCompile(`\d{3,}`)
	priceMetaTags    = []string{"product:sale_price:amount", "product:price:amount"}
	maxRegionClimb   = 3
	skippedTextNodes = map[string]bool{"script": true, "style": true, "noscript": true}
)

// ExtractName returns the product name, or "" when nothing matched
func ExtractName(doc *goquery.Document, site SiteRule) string {
	handlers := make([]fieldHandler, 0, 3)
	if site.Name != nil {
		handlers = append(handlers, ruleHandler(*site.Name))
	}
	handlers = append(handlers, metaHandler("og:title"), idContainsHandler("name"))

	name, _ := applyHandlers(doc, handlers)
	if name != "" && site.CleanName != nil {
		name = site.CleanName(name)
	}
	return name
}

// ExtractPrice returns the raw price text and the document region around it,
// or "" when nothing matched
func ExtractPrice(doc *goquery.Document, site SiteRule) (string, *goquery.Selection) {
	handlers := make([]fieldHandler, 0, len(site.Price)+len(priceMetaTags)+1)
	for _, rule := range site.Price {
		handlers = append(handlers, ruleHandler(rule))
	}
	for _, tag := range priceMetaTags {
		handlers = append(handlers, propertyHandler(tag))
	}
	handlers = append(handlers, genericPriceHandler)

	return applyHandlers(doc, handlers)
}

// applyHandlers stops at the first handler that yields text
func applyHandlers(doc *goquery.Document, handlers []fieldHandler) (string, *goquery.Selection) {
	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		if text, region := handler(doc); text != "" {
			return text, region
		}
	}
	return "", nil
}

func ruleHandler(rule Rule) fieldHandler {
	switch rule.Kind {
	case RuleMeta:
		return metaHandler(rule.Identifier)
	case RuleID:
		return elementHandler(fmt.Sprintf("[id=%q]", rule.Identifier))
	case RuleClass:
		var sb strings.Builder
		for _, class := range strings.Fields(rule.Identifier) {
			fmt.Fprintf(&sb, "[class~=%q]", class)
		}
		return elementHandler(sb.String())
	case RuleInput:
		return attrHandler(fmt.Sprintf("input[name=%q]", rule.Identifier), "value")
	default:
		return nil
	}
}

// metaHandler matches meta[property=X] first, then meta[name=X]
func metaHandler(identifier string) fieldHandler {
	byProperty := propertyHandler(identifier)
	byName := attrHandler(fmt.Sprintf("meta[name=%q]", identifier), "content")
	return func(doc *goquery.Document) (string, *goquery.Selection) {
		if text, region := byProperty(doc); text != "" {
			return text, region
		}
		return byName(doc)
	}
}

func propertyHandler(property string) fieldHandler {
	return attrHandler(fmt.Sprintf("meta[property=%q]", property), "content")
}

func attrHandler(selector, attr string) fieldHandler {
	return func(doc *goquery.Document) (string, *goquery.Selection) {
		value, ok := doc.Find(selector).First().Attr(attr)
		if !ok {
			return "", nil
		}
		return strings.TrimSpace(value), doc.Find("body")
	}
}

func elementHandler(selector string) fieldHandler {
	return func(doc *goquery.Document) (string, *goquery.Selection) {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			return "", nil
		}
		return textOf(sel), regionOf(sel)
	}
}

// idContainsHandler matches the first element whose id contains substr
func idContainsHandler(substr string) fieldHandler {
	return func(doc *goquery.Document) (string, *goquery.Selection) {
		sel := doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			id, _ := s.Attr("id")
			return strings.Contains(strings.ToLower(id), substr)
		}).First()
		if sel.Length() == 0 {
			return "", nil
		}
		return textOf(sel), regionOf(sel)
	}
}

// genericPriceHandler scans the document for elements that look like a price:
// "price" in the id or class, or the sale word in their own text. The first
// candidate mentioning a currency or carrying three or more digits wins.
func genericPriceHandler(doc *goquery.Document) (string, *goquery.Selection) {
	var (
		text   string
		region *goquery.Selection
	)
	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !looksLikePrice(s) {
			return true
		}
		candidate := textOf(s)
		if !mentionsPrice(candidate) {
			return true
		}
		text, region = candidate, regionOf(s)
		return false
	})
	return text, region
}

func looksLikePrice(s *goquery.Selection) bool {
	if id, ok := s.Attr("id"); ok && strings.Contains(strings.ToLower(id), "price") {
		return true
	}
	if class, ok := s.Attr("class"); ok && strings.Contains(strings.ToLower(class), "price") {
		return true
	}
	return strings.Contains(ownText(s), saleWord)
}

func mentionsPrice(text string) bool {
	upper := strings.ToUpper(text)
	for _, token := range currencyTokens {
		if strings.Contains(upper, token) {
			return true
		}
	}
	return threeDigits.MatchString(text)
}

// regionOf climbs a few levels from sel so sold-out badges next to the
// price are in scope
func regionOf(sel *goquery.Selection) *goquery.Selection {
	region := sel
	for i := 0; i < maxRegionClimb; i++ {
		parent := region.Parent()
		if parent.Length() == 0 || goquery.NodeName(parent) == "body" {
			break
		}
		region = parent
	}
	return region
}

// textOf joins the trimmed text nodes under sel with single spaces
func textOf(sel *goquery.Selection) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if skippedTextNodes[n.Data] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

// ownText returns the text directly inside sel, excluding descendants
func ownText(sel *goquery.Selection) string {
	var sb strings.Builder
	for _, n := range sel.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				sb.WriteString(c.Data)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

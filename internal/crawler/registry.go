package crawler

import (
	"regexp"
	"sort"
	"strings"
)

// RuleKind says how a rule locates its element
type RuleKind string

const (
	// RuleMeta reads the content of meta[property=X], then meta[name=X]
	RuleMeta RuleKind = "meta"
	// RuleID reads the text of the element with id X
	RuleID RuleKind = "id"
	// RuleClass reads the text of the first element carrying every class in X
	RuleClass RuleKind = "class"
	// RuleInput reads the value of input[name=X]
	RuleInput RuleKind = "input"
)

// Rule is a tagged selector for one field
type Rule struct {
	Kind       RuleKind
	Identifier string
}

// NameCleaner post-processes an extracted product name
type NameCleaner func(string) string

// SiteRule is one row of the site table
type SiteRule struct {
	Key string
	// Price rules are tried in order; the first element found supplies the raw price
	Price []Rule
	Name  *Rule
	// Dynamic sites are rendered with a headless browser
	Dynamic bool
	// Encoding overrides the response charset ("auto" sniffs the body)
	Encoding string
	// CleanName runs after extraction, never before
	CleanName NameCleaner
}

// Meta builds a meta-property rule
func Meta(identifier string) Rule { return Rule{Kind: RuleMeta, Identifier: identifier} }

// ID builds an element-id rule
func ID(identifier string) Rule { return Rule{Kind: RuleID, Identifier: identifier} }

// Class builds an element-class rule
func Class(identifier string) Rule { return Rule{Kind: RuleClass, Identifier: identifier} }

// Input builds an input-field rule
func Input(identifier string) Rule { return Rule{Kind: RuleInput, Identifier: identifier} }

func ruleRef(r Rule) *Rule { return &r }

var companySuffix = regexp.MustCompile(`\s*-\s*[^-]*$`)

// StripPhrase removes a fixed boilerplate phrase from names
func StripPhrase(phrase string) NameCleaner {
	return func(s string) string {
		return strings.TrimSpace(strings.ReplaceAll(s, phrase, ""))
	}
}

// StripCompanySuffix removes a trailing "- company" part from names
func StripCompanySuffix(s string) string {
	return strings.TrimSpace(companySuffix.ReplaceAllString(s, ""))
}

// defaultSiteRules is the site table. Rows without rules still mark the
// site as known; it is extracted with the generic fallbacks only.
var defaultSiteRules = []SiteRule{
	{Key: "rooming"},
	{Key: "hpix"},
	{Key: "8colors"},
	{Key: "ohou", Price: []Rule{Meta("product:price:amount")}, Name: ruleRef(Meta("og:title"))},
	{Key: "kream"},
	{Key: "editori", Price: []Rule{Class("cut-per-price")}, Name: ruleRef(Meta("twitter:title"))},
	{Key: "inartshop", Price: []Rule{Class("sale_price")}},
	{Key: "jaimeblanc"},
	{Key: "s-houz"},
	{Key: "29cm", Price: []Rule{ID("pdp_product_price")}, Name: ruleRef(ID("pdp_product_name")), Dynamic: true},
	{Key: "dansk", Price: []Rule{Class("productPriceSpan")}},
	{Key: "benufe"},
	{Key: "collectionb", Price: []Rule{Class("item-after-price")}},
	{Key: "innometsa"},
	{Key: "bibliotheque"},
	{Key: "remod"},
	{Key: "mmmg"},
	{Key: "j-gallery"},
	{Key: "wonderaum"},
	{Key: "unwind"},
	{Key: "inscale"},
	{Key: "gyb", Price: []Rule{Class("price")}},
	// sale and regular prices use different classes
	{Key: "conranshop", Price: []Rule{Class("sale"), Class("basic")}},
	{Key: "vorblick", Price: []Rule{Class("sale-price disib")}},
	{Key: "mignondejjoy"},
	{Key: "gareem"},
	{Key: "innovad", Price: []Rule{ID("sit_tot_price")}, Name: ruleRef(Class("prd_name md font_32"))},
	{Key: "chairgallery", Price: []Rule{Class("real_price inline-blocked")}},
	{Key: "nordicpark", Price: []Rule{Class("price")}, Name: ruleRef(Class("tit-prd")), Encoding: "euc-kr"},
	{Key: "tonstore"},
	{Key: "innohome"},
	{Key: "ilva"},
	{Key: "kartellkorea", Price: []Rule{Class("tr_price")}, Name: ruleRef(ID("sit_title")), CleanName: StripPhrase("요약정보 및 구매")},
	{Key: "stayh", CleanName: StripCompanySuffix},
	{Key: "segment"},
	{Key: "arkistore"},
	{Key: "10x10", Price: []Rule{Input("itemPrice")}},
}

// Registry maps site keys to their extraction rules
type Registry struct {
	rules map[string]SiteRule
}

// NewRegistry builds a registry from rows; a later row replaces an earlier one with the same key
func NewRegistry(rows []SiteRule) *Registry {
	rules := make(map[string]SiteRule, len(rows))
	for _, row := range rows {
		rules[row.Key] = row
	}
	return &Registry{rules: rules}
}

// DefaultRegistry returns the built-in site table
func DefaultRegistry() *Registry {
	return NewRegistry(defaultSiteRules)
}

// RuleFor returns the row for siteKey. Unknown sites get an empty row and false.
func (r *Registry) RuleFor(siteKey string) (SiteRule, bool) {
	rule, ok := r.rules[siteKey]
	if !ok {
		return SiteRule{Key: siteKey}, false
	}
	return rule, true
}

// IsDynamic reports whether siteKey must be rendered by a browser
func (r *Registry) IsDynamic(siteKey string) bool {
	return r.rules[siteKey].Dynamic
}

// Encoding returns the charset override for siteKey, or ""
func (r *Registry) Encoding(siteKey string) string {
	return r.rules[siteKey].Encoding
}

// Keys returns the known site keys in sorted order
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.rules))
	for k := range r.rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

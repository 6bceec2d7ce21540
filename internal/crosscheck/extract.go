package crosscheck

import (
	"regexp"
	"strconv"
)

// quotePriceRe matches the last-price attribute embedded in the reference
// site's quote markup.
var quotePriceRe = regexp.MustCompile(`data-last-price="([0-9]+(?:\.[0-9]+)?)"`)

// ExtractQuotePrice pulls the primary quote price out of fetched markup.
// Pure function so fixtures can be tested without network access.
func ExtractQuotePrice(markup string) (float64, bool) {
	match := quotePriceRe.FindStringSubmatch(markup)
	if match == nil {
		return 0, false
	}
	price, err := strconv.ParseFloat(match[1], 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

// ExtractOverridePrice applies the dedicated extraction pattern for an
// alternate instrument tag (e.g. a futures ticker) against the same markup.
// The reference site embeds instrument rows as `"TAG",<price>` tuples.
func ExtractOverridePrice(markup, tag string) (float64, bool) {
	if tag == "" {
		return 0, false
	}
	pattern, err := regexp.Compile(`"` + regexp.QuoteMeta(tag) + `"\s*,\s*([0-9]+(?:\.[0-9]+)?)`)
	if err != nil {
		return 0, false
	}
	match := pattern.FindStringSubmatch(markup)
	if match == nil {
		return 0, false
	}
	price, err := strconv.ParseFloat(match[1], 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

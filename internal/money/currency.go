// Package money holds the pure arithmetic used to price a funnel: currency
// formatting, discounts, tax and the cart fingerprint. Amounts are always
// int64 minor units.
package money

import (
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Currency describes how amounts in a currency are rendered.
type Currency struct {
	Code     string
	Symbol   string
	Decimals int
}

var symbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"CAD": "CA$",
	"AUD": "A$",
	"NZD": "NZ$",
	"SGD": "S$",
	"CHF": "CHF",
	"SEK": "kr",
	"NOK": "kr",
	"DKK": "kr.",
	"PLN": "zł",
	"CZK": "Kč",
}

var currencies = buildCurrencies()

func buildCurrencies() map[string]Currency {
	out := make(map[string]Currency, len(symbols))
	for code, sym := range symbols {
		unit := currency.MustParseISO(code)
		scale, _ := currency.Standard.Rounding(unit)
		out[code] = Currency{Code: unit.String(), Symbol: sym, Decimals: scale}
	}
	return out
}

// LookupCurrency returns the currency definition for code (case-insensitive).
func LookupCurrency(code string) (Currency, bool) {
	c, ok := currencies[NormalizeCurrency(code)]
	return c, ok
}

// Supported reports whether the currency can be used in a funnel.
func Supported(code string) bool {
	_, ok := LookupCurrency(code)
	return ok
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Languages that place the symbol after the amount.
var symbolAfter = map[string]bool{
	"cs": true, "da": true, "de": true, "es": true, "fi": true, "fr": true,
	"it": true, "nb": true, "nl": true, "pl": true, "pt": true, "sv": true,
}

func localeTag(locale string) language.Tag {
	locale = strings.ReplaceAll(strings.TrimSpace(locale), "_", "-")
	if locale == "" {
		return language.English
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	return tag
}

// FormatMoney renders minor units for display. Unknown currencies never fail:
// the amount is printed with two decimals followed by the raw code.
func FormatMoney(minorUnits int64, currencyCode, locale string) string {
	cur, ok := LookupCurrency(currencyCode)
	if !ok {
		body := formatNumber(minorUnits, 2, language.English)
		if code := strings.TrimSpace(currencyCode); code != "" {
			return body + " " + code
		}
		return body
	}
	tag := localeTag(locale)
	body := formatNumber(abs(minorUnits), cur.Decimals, tag)
	sign := ""
	if minorUnits < 0 {
		sign = "-"
	}
	base, _ := tag.Base()
	if symbolAfter[base.String()] {
		return sign + body + " " + cur.Symbol
	}
	if len([]rune(cur.Symbol)) > 1 && !strings.Contains(cur.Symbol, "$") {
		return sign + cur.Symbol + " " + body
	}
	return sign + cur.Symbol + body
}

func formatNumber(minor int64, decimals int, tag language.Tag) string {
	value := float64(minor)
	for range decimals {
		value /= 10
	}
	return message.NewPrinter(tag).Sprint(number.Decimal(value, number.Scale(decimals)))
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

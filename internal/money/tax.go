package money

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Jurisdiction is a tax-collecting region keyed by ISO country code.
type Jurisdiction struct {
	Country string
	Label   string
	// Rate is the standard rate as a fraction, e.g. 0.21.
	Rate decimal.Decimal
	EU   bool
	// VATPrefix is the prefix used on VAT numbers when it differs from Country.
	VATPrefix string
}

func rate(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var jurisdictions = map[string]Jurisdiction{
	"AT": {Country: "AT", Label: "VAT", Rate: rate("0.20"), EU: true},
	"BE": {Country: "BE", Label: "VAT", Rate: rate("0.21"), EU: true},
	"BG": {Country: "BG", Label: "VAT", Rate: rate("0.20"), EU: true},
	"HR": {Country: "HR", Label: "VAT", Rate: rate("0.25"), EU: true},
	"CY": {Country: "CY", Label: "VAT", Rate: rate("0.19"), EU: true},
	"CZ": {Country: "CZ", Label: "VAT", Rate: rate("0.21"), EU: true},
	"DK": {Country: "DK", Label: "VAT", Rate: rate("0.25"), EU: true},
	"EE": {Country: "EE", Label: "VAT", Rate: rate("0.24"), EU: true},
	"FI": {Country: "FI", Label: "VAT", Rate: rate("0.255"), EU: true},
	"FR": {Country: "FR", Label: "VAT", Rate: rate("0.20"), EU: true},
	"DE": {Country: "DE", Label: "VAT", Rate: rate("0.19"), EU: true},
	"GR": {Country: "GR", Label: "VAT", Rate: rate("0.24"), EU: true, VATPrefix: "EL"},
	"HU": {Country: "HU", Label: "VAT", Rate: rate("0.27"), EU: true},
	"IE": {Country: "IE", Label: "VAT", Rate: rate("0.23"), EU: true},
	"IT": {Country: "IT", Label: "VAT", Rate: rate("0.22"), EU: true},
	"LV": {Country: "LV", Label: "VAT", Rate: rate("0.21"), EU: true},
	"LT": {Country: "LT", Label: "VAT", Rate: rate("0.21"), EU: true},
	"LU": {Country: "LU", Label: "VAT", Rate: rate("0.17"), EU: true},
	"MT": {Country: "MT", Label: "VAT", Rate: rate("0.18"), EU: true},
	"NL": {Country: "NL", Label: "VAT", Rate: rate("0.21"), EU: true},
	"PL": {Country: "PL", Label: "VAT", Rate: rate("0.23"), EU: true},
	"PT": {Country: "PT", Label: "VAT", Rate: rate("0.23"), EU: true},
	"RO": {Country: "RO", Label: "VAT", Rate: rate("0.21"), EU: true},
	"SK": {Country: "SK", Label: "VAT", Rate: rate("0.23"), EU: true},
	"SI": {Country: "SI", Label: "VAT", Rate: rate("0.22"), EU: true},
	"ES": {Country: "ES", Label: "VAT", Rate: rate("0.21"), EU: true},
	"SE": {Country: "SE", Label: "VAT", Rate: rate("0.25"), EU: true},
	"GB": {Country: "GB", Label: "VAT", Rate: rate("0.20")},
}

var vatPatterns = map[string]*regexp.Regexp{
	"AT": regexp.MustCompile(`^U\d{8}$`),
	"BE": regexp.MustCompile(`^[01]\d{9}$`),
	"BG": regexp.MustCompile(`^\d{9,10}$`),
	"HR": regexp.MustCompile(`^\d{11}$`),
	"CY": regexp.MustCompile(`^\d{8}[A-Z]$`),
	"CZ": regexp.MustCompile(`^\d{8,10}$`),
	"DK": regexp.MustCompile(`^\d{8}$`),
	"EE": regexp.MustCompile(`^\d{9}$`),
	"FI": regexp.MustCompile(`^\d{8}$`),
	"FR": regexp.MustCompile(`^[A-HJ-NP-Z0-9]{2}\d{9}$`),
	"DE": regexp.MustCompile(`^\d{9}$`),
	"EL": regexp.MustCompile(`^\d{9}$`),
	"HU": regexp.MustCompile(`^\d{8}$`),
	"IE": regexp.MustCompile(`^(\d{7}[A-W][A-I]?|\d[A-Z+*]\d{5}[A-W])$`),
	"IT": regexp.MustCompile(`^\d{11}$`),
	"LV": regexp.MustCompile(`^\d{11}$`),
	"LT": regexp.MustCompile(`^(\d{9}|\d{12})$`),
	"LU": regexp.MustCompile(`^\d{8}$`),
	"MT": regexp.MustCompile(`^\d{8}$`),
	"NL": regexp.MustCompile(`^\d{9}B\d{2}$`),
	"PL": regexp.MustCompile(`^\d{10}$`),
	"PT": regexp.MustCompile(`^\d{9}$`),
	"RO": regexp.MustCompile(`^\d{2,10}$`),
	"SK": regexp.MustCompile(`^\d{10}$`),
	"SI": regexp.MustCompile(`^\d{8}$`),
	"ES": regexp.MustCompile(`^[A-Z0-9]\d{7}[A-Z0-9]$`),
	"SE": regexp.MustCompile(`^\d{10}01$`),
}

// LookupJurisdiction returns the tax jurisdiction for a buyer country.
func LookupJurisdiction(country string) (Jurisdiction, bool) {
	j, ok := jurisdictions[strings.ToUpper(strings.TrimSpace(country))]
	return j, ok
}

// NormalizeVATNumber strips separators and upper-cases a VAT number.
func NormalizeVATNumber(vat string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(vat) {
		switch r {
		case ' ', '.', '-', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidVATNumber reports whether vat is syntactically valid for an EU buyer
// country. The number must carry that country's prefix.
func ValidVATNumber(country, vat string) bool {
	j, ok := LookupJurisdiction(country)
	if !ok || !j.EU {
		return false
	}
	prefix := j.Country
	if j.VATPrefix != "" {
		prefix = j.VATPrefix
	}
	normalized := NormalizeVATNumber(vat)
	if !strings.HasPrefix(normalized, prefix) {
		return false
	}
	pattern, ok := vatPatterns[prefix]
	if !ok {
		return false
	}
	return pattern.MatchString(strings.TrimPrefix(normalized, prefix))
}

// TaxInput describes the buyer side of a tax computation.
type TaxInput struct {
	Country   string
	VATNumber string
	B2B       bool
	Currency  string
}

// TaxResult is the outcome of ComputeTax.
type TaxResult struct {
	TaxAmount     int64   `json:"taxAmount"`
	TaxRate       float64 `json:"taxRate"`
	Total         int64   `json:"total"`
	ReverseCharge bool    `json:"reverseCharge"`
	TaxLabel      string  `json:"taxLabel"`
}

// ComputeTax applies the buyer jurisdiction's standard rate to amount, or the
// EU reverse charge for B2B buyers with a valid VAT number. Rounding is
// half-to-even on the minor unit.
func ComputeTax(amount int64, in TaxInput) TaxResult {
	if amount < 0 {
		amount = 0
	}
	j, ok := LookupJurisdiction(in.Country)
	if !ok {
		return TaxResult{Total: amount, TaxLabel: "No tax"}
	}
	if j.EU && in.B2B && ValidVATNumber(in.Country, in.VATNumber) {
		return TaxResult{Total: amount, ReverseCharge: true, TaxLabel: j.Label + " reverse charge"}
	}
	tax := decimal.NewFromInt(amount).Mul(j.Rate).RoundBank(0).IntPart()
	if tax < 0 {
		tax = 0
	}
	r, _ := j.Rate.Float64()
	return TaxResult{
		TaxAmount: tax,
		TaxRate:   r,
		Total:     amount + tax,
		TaxLabel:  j.Label + " (" + j.Rate.Mul(hundred).String() + "%)",
	}
}

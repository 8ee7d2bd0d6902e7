package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestComputeTaxTotalInvariant(t *testing.T) {
	countries := []string{"DE", "FR", "FI", "HU", "GB", "US", "JP", ""}
	amounts := []int64{0, 1, 3, 5, 99, 250, 9900, 11800, 123457, 999_999_999}
	for _, country := range countries {
		for _, amount := range amounts {
			res := ComputeTax(amount, TaxInput{Country: country, Currency: "EUR"})
			require.Equal(t, amount+res.TaxAmount, res.Total, "country=%s amount=%d", country, amount)
			require.GreaterOrEqual(t, res.Total, int64(0))
			require.False(t, res.ReverseCharge)
			j, ok := LookupJurisdiction(country)
			if !ok {
				require.Zero(t, res.TaxAmount)
				continue
			}
			want := decimal.NewFromInt(amount).Mul(j.Rate).RoundBank(0).IntPart()
			require.Equal(t, want, res.TaxAmount, "country=%s amount=%d", country, amount)
		}
	}
}

func TestComputeTaxBankersRounding(t *testing.T) {
	// 5 * 0.25 = 1.25 -> 1 and 6 * 0.25 = 1.5 -> 2 (half to even)
	require.Equal(t, int64(1), ComputeTax(5, TaxInput{Country: "DK"}).TaxAmount)
	require.Equal(t, int64(2), ComputeTax(6, TaxInput{Country: "DK"}).TaxAmount)
	// 10 * 0.25 = 2.5 -> 2
	require.Equal(t, int64(2), ComputeTax(10, TaxInput{Country: "SE"}).TaxAmount)
}

func TestComputeTaxReverseCharge(t *testing.T) {
	cases := []struct {
		country string
		vat     string
	}{
		{"DE", "DE123456789"},
		{"NL", "NL123456789B01"},
		{"GR", "EL123456789"},
		{"AT", "ATU12345678"},
		{"FR", "FR 12 345678901"},
	}
	for _, tc := range cases {
		res := ComputeTax(10_000, TaxInput{Country: tc.country, VATNumber: tc.vat, B2B: true})
		require.True(t, res.ReverseCharge, tc.country)
		require.Zero(t, res.TaxAmount, tc.country)
		require.Equal(t, int64(10_000), res.Total)
		require.Equal(t, "VAT reverse charge", res.TaxLabel)
	}
}

func TestComputeTaxReverseChargeRequiresB2BAndValidNumber(t *testing.T) {
	res := ComputeTax(10_000, TaxInput{Country: "DE", VATNumber: "DE123456789", B2B: false})
	require.False(t, res.ReverseCharge)
	require.Equal(t, int64(1_900), res.TaxAmount)

	res = ComputeTax(10_000, TaxInput{Country: "DE", VATNumber: "DE12", B2B: true})
	require.False(t, res.ReverseCharge)
	require.Equal(t, int64(1_900), res.TaxAmount)

	// prefix must match the buyer country
	res = ComputeTax(10_000, TaxInput{Country: "FR", VATNumber: "DE123456789", B2B: true})
	require.False(t, res.ReverseCharge)

	// GB is taxed but outside the EU reverse-charge regime
	res = ComputeTax(10_000, TaxInput{Country: "GB", VATNumber: "GB123456789", B2B: true})
	require.False(t, res.ReverseCharge)
	require.Equal(t, int64(2_000), res.TaxAmount)
}

func TestComputeTaxLabels(t *testing.T) {
	require.Equal(t, "VAT (19%)", ComputeTax(100, TaxInput{Country: "de"}).TaxLabel)
	require.Equal(t, "VAT (25.5%)", ComputeTax(100, TaxInput{Country: "FI"}).TaxLabel)
	require.Equal(t, "No tax", ComputeTax(100, TaxInput{Country: "US"}).TaxLabel)
	require.InDelta(t, 0.19, ComputeTax(100, TaxInput{Country: "DE"}).TaxRate, 1e-9)
}

func TestComputeTaxNegativeAmountClamped(t *testing.T) {
	res := ComputeTax(-500, TaxInput{Country: "DE"})
	require.Zero(t, res.Total)
	require.Zero(t, res.TaxAmount)
}

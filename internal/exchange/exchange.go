// Package exchange holds the static conversion rates and purchasable ITC
// package tiers. Rates are captured in each ledger transaction's amount at
// the time it is written; changing them never rewrites history.
package exchange

import "github.com/shopspring/decimal"

var (
	// PointsToUSD is the USD value of one loyalty point.
	PointsToUSD = decimal.NewFromFloat(0.01)
	// USDToITC is the ITC amount bought by one USD.
	USDToITC = decimal.NewFromFloat(0.25)
)

// Package is one purchasable ITC bundle.
type Package struct {
	ITCAmount    decimal.Decimal `json:"itcAmount"`
	USDPrice     decimal.Decimal `json:"usdPrice"`
	BonusPercent int64           `json:"bonusPercent"`
}

var packages = []Package{
	{ITCAmount: decimal.NewFromInt(50), USDPrice: decimal.NewFromInt(200), BonusPercent: 0},
	{ITCAmount: decimal.NewFromInt(150), USDPrice: decimal.NewFromInt(500), BonusPercent: 20},
	{ITCAmount: decimal.NewFromInt(400), USDPrice: decimal.NewFromInt(1000), BonusPercent: 60},
}

// Packages returns the purchasable tiers. The slice is a copy; callers may
// not mutate the table.
func Packages() []Package {
	out := make([]Package, len(packages))
	copy(out, packages)
	return out
}

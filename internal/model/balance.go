package model

import "strings"

// Balance is the amount of one asset held on the account.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Balances indexes balances by asset.
type Balances map[string]Balance

// Free returns the free amount of asset, zero when absent.
func (b Balances) Free(asset string) float64 {
	return b[asset].Free
}

// SplitSymbol splits "BTC-USDT" into base "BTC" and quote "USDT".
// Symbols without a dash are returned as base with an empty quote.
func SplitSymbol(symbol string) (base, quote string) {
	base, quote, _ = strings.Cut(strings.ToUpper(symbol), "-")
	return base, quote
}

package models

import (
	"fmt"
	"math"
	"strings"
)

// DefaultSymbol is the pair a fresh dashboard session starts on.
const DefaultSymbol Symbol = "BTC-USD"

const (
	symbolSeparator = "-"
	defaultQuote    = "USD"
)

// Symbol identifies a trading pair such as "BTC-USD" or "ETH-BTC".
type Symbol string

// NewSymbol trims the input and falls back to DefaultSymbol when it is empty.
func NewSymbol(s string) Symbol {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSymbol
	}
	return Symbol(s)
}

func (s Symbol) String() string { return string(s) }

// Base returns the part before the separator, or the whole symbol.
func (s Symbol) Base() string {
	base, _, _ := strings.Cut(string(s), symbolSeparator)
	return base
}

// Quote returns the part after the separator. Symbols without one quote in USD.
func (s Symbol) Quote() string {
	_, quote, found := strings.Cut(string(s), symbolSeparator)
	if !found {
		return defaultQuote
	}
	if i := strings.Index(quote, symbolSeparator); i >= 0 {
		quote = quote[:i]
	}
	return quote
}

// Price is a decimal price. The zero value is the default price.
type Price float64

func (p Price) Float64() float64 { return float64(p) }
func (p Price) Add(o Price) Price { return p + o }
func (p Price) Sub(o Price) Price { return p - o }
func (p Price) Less(o Price) bool { return p < o }
func (p Price) IsZero() bool { return p == 0 }
func (p Price) Format(decimals int) string {
	return fmt.Sprintf("%.*f", decimals, float64(p))
}

// Quantity is a traded or resting amount. The zero value is the default quantity.
type Quantity float64

func (q Quantity) Float64() float64 { return float64(q) }
func (q Quantity) Add(o Quantity) Quantity { return q + o }
func (q Quantity) Sub(o Quantity) Quantity { return q - o }
func (q Quantity) Less(o Quantity) bool { return q < o }
func (q Quantity) IsZero() bool { return q == 0 }
func (q Quantity) Format(decimals int) string {
	return fmt.Sprintf("%.*f", decimals, float64(q))
}

// PriceFormatter renders prices for display.
type PriceFormatter interface {
	FormatPrice(price float64) string
}

// QuantityFormatter renders quantities for display.
type QuantityFormatter interface {
	FormatQuantity(qty float64) string
}

// DecimalPriceFormatter widens precision as prices get smaller.
type DecimalPriceFormatter struct {
	Decimals int
}

func (f DecimalPriceFormatter) FormatPrice(price float64) string {
	switch {
	case price >= 10_000:
		return fmt.Sprintf("%.2f", price)
	case price >= 1:
		return fmt.Sprintf("%.*f", f.Decimals, price)
	case price >= 0.0001:
		return fmt.Sprintf("%.6f", price)
	default:
		return fmt.Sprintf("%.8f", price)
	}
}

// CryptoQuantityFormatter keeps full precision only for fractional amounts.
type CryptoQuantityFormatter struct {
	Decimals int
}

func (f CryptoQuantityFormatter) FormatQuantity(qty float64) string {
	switch {
	case qty >= 1000:
		return fmt.Sprintf("%.2f", qty)
	case qty >= 1:
		return fmt.Sprintf("%.4f", qty)
	default:
		return fmt.Sprintf("%.*f", f.Decimals, qty)
	}
}

// CompactNumber renders large magnitudes with K, M and B suffixes.
func CompactNumber(num float64) string {
	abs := math.Abs(num)
	sign := ""
	if num < 0 {
		sign = "-"
	}
	switch {
	case abs >= 1e9:
		return fmt.Sprintf("%s%.2fB", sign, abs/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%s%.2fM", sign, abs/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%s%.2fK", sign, abs/1e3)
	default:
		return fmt.Sprintf("%s%.2f", sign, abs)
	}
}

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TradeSide is the aggressor side of an execution.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

func (s TradeSide) IsBuy() bool  { return s == SideBuy }
func (s TradeSide) IsSell() bool { return s == SideSell }

func (s TradeSide) Opposite() TradeSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s *TradeSide) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch TradeSide(raw) {
	case SideBuy, SideSell:
		*s = TradeSide(raw)
		return nil
	}
	return fmt.Errorf("unknown trade side %q", raw)
}

// Trade is one executed trade.
type Trade struct {
	ID           string    `json:"id"`
	Symbol       Symbol    `json:"symbol"`
	Price        Price     `json:"price"`
	Quantity     Quantity  `json:"quantity"`
	Side         TradeSide `json:"side"`
	Timestamp    time.Time `json:"timestamp"`
	MakerOrderID string    `json:"maker_order_id,omitempty"`
	TakerOrderID string    `json:"taker_order_id,omitempty"`
}

// Value is the notional of the trade.
func (t Trade) Value() float64 {
	return float64(t.Price) * float64(t.Quantity)
}

// Age is measured against now.
func (t Trade) Age(now time.Time) time.Duration {
	return now.Sub(t.Timestamp)
}

// TradeClass buckets a trade by notional.
type TradeClass string

const (
	ClassNormal TradeClass = "normal"
	ClassLarge  TradeClass = "large"
	ClassWhale  TradeClass = "whale"
	ClassMicro  TradeClass = "micro"
)

// TradeClassifier assigns a class to a trade without mutating it.
type TradeClassifier interface {
	Classify(t Trade) TradeClass
}

// ValueThresholdClassifier compares notional against configured cut-offs.
// Whale and Large are inclusive lower bounds; Micro is an exclusive upper bound.
type ValueThresholdClassifier struct {
	Whale float64
	Large float64
	Micro float64
}

func (c ValueThresholdClassifier) Classify(t Trade) TradeClass {
	v := t.Value()
	switch {
	case v >= c.Whale:
		return ClassWhale
	case v >= c.Large:
		return ClassLarge
	case v < c.Micro:
		return ClassMicro
	default:
		return ClassNormal
	}
}

// VWAP is the volume-weighted average price over the first n trades
// (all trades when n <= 0). It is zero when there is no volume.
func VWAP(trades []Trade, n int) float64 {
	trades = head(trades, n)
	var value, volume float64
	for _, t := range trades {
		value += t.Value()
		volume += float64(t.Quantity)
	}
	if volume == 0 {
		return 0
	}
	return value / volume
}

// BuyRatio is the share of buy trades among the first n trades. An empty set
// reports an even 0.5.
func BuyRatio(trades []Trade, n int) float64 {
	trades = head(trades, n)
	if len(trades) == 0 {
		return 0.5
	}
	buys := 0
	for _, t := range trades {
		if t.Side == SideBuy {
			buys++
		}
	}
	return float64(buys) / float64(len(trades))
}

func head(trades []Trade, n int) []Trade {
	if n > 0 && len(trades) > n {
		return trades[:n]
	}
	return trades
}

// TradeAggregation accumulates summary statistics over a set of trades.
type TradeAggregation struct {
	Symbol      Symbol  `json:"symbol"`
	Count       uint64  `json:"count"`
	BuyCount    uint64  `json:"buy_count"`
	SellCount   uint64  `json:"sell_count"`
	TotalVolume float64 `json:"total_volume"`
	BuyVolume   float64 `json:"buy_volume"`
	SellVolume  float64 `json:"sell_volume"`
	TotalValue  float64 `json:"total_value"`
	BuyValue    float64 `json:"buy_value"`
	SellValue   float64 `json:"sell_value"`
	VWAP        float64 `json:"vwap"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	FirstPrice  float64 `json:"first_price"`
	LastPrice   float64 `json:"last_price"`
}

// Add folds one trade into the aggregation.
func (a *TradeAggregation) Add(t Trade) {
	price := float64(t.Price)
	qty := float64(t.Quantity)
	value := t.Value()

	a.Count++
	a.TotalVolume += qty
	a.TotalValue += value
	if t.Side == SideBuy {
		a.BuyCount++
		a.BuyVolume += qty
		a.BuyValue += value
	} else {
		a.SellCount++
		a.SellVolume += qty
		a.SellValue += value
	}
	if a.TotalVolume > 0 {
		a.VWAP = a.TotalValue / a.TotalVolume
	}
	if a.Count == 1 {
		a.High, a.Low, a.FirstPrice = price, price, price
	} else {
		if price > a.High {
			a.High = price
		}
		if price < a.Low {
			a.Low = price
		}
	}
	a.LastPrice = price
}

// Imbalance is buy minus sell volume over total volume.
func (a TradeAggregation) Imbalance() float64 {
	total := a.BuyVolume + a.SellVolume
	if total == 0 {
		return 0
	}
	return (a.BuyVolume - a.SellVolume) / total
}

func (a TradeAggregation) PriceChange() float64 { return a.LastPrice - a.FirstPrice }

func (a TradeAggregation) PriceChangePercent() float64 {
	if a.FirstPrice == 0 {
		return 0
	}
	return a.PriceChange() / a.FirstPrice * 100
}

// Aggregate summarises trades in the order given.
func Aggregate(symbol Symbol, trades []Trade) TradeAggregation {
	agg := TradeAggregation{Symbol: symbol}
	for _, t := range trades {
		agg.Add(t)
	}
	return agg
}

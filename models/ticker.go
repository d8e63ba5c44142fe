package models

import "time"

// Ticker is the rolling 24h summary for a symbol.
type Ticker struct {
	Symbol           Symbol   `json:"symbol"`
	LastPrice        Price    `json:"last_price"`
	BidPrice         Price    `json:"bid_price"`
	BidQty           Quantity `json:"bid_qty"`
	AskPrice         Price    `json:"ask_price"`
	AskQty           Quantity `json:"ask_qty"`
	High24h          Price    `json:"high_24h"`
	Low24h           Price    `json:"low_24h"`
	Volume24h        Quantity `json:"volume_24h"`
	QuoteVolume24h   float64  `json:"quote_volume_24h"`
	Change24h        float64  `json:"change_24h"`
	ChangePercent24h float64  `json:"change_percent_24h"`
	Open24h          Price    `json:"open_24h"`
	TradeCount24h    uint64   `json:"trade_count_24h"`
	Timestamp        int64    `json:"timestamp"`
}

// NewTicker seeds a ticker around price with a narrow book and a 5% day range.
func NewTicker(symbol Symbol, price float64, at time.Time) Ticker {
	return Ticker{
		Symbol:         symbol,
		LastPrice:      Price(price),
		BidPrice:       Price(price * 0.9999),
		BidQty:         1,
		AskPrice:       Price(price * 1.0001),
		AskQty:         1,
		High24h:        Price(price * 1.05),
		Low24h:         Price(price * 0.95),
		Volume24h:      1000,
		QuoteVolume24h: 1000 * price,
		Open24h:        Price(price),
		Timestamp:      at.UnixMilli(),
	}
}

func (t Ticker) Spread() float64 { return float64(t.AskPrice - t.BidPrice) }

func (t Ticker) MidPrice() float64 { return float64(t.BidPrice+t.AskPrice) / 2 }

func (t Ticker) SpreadPercent() float64 {
	mid := t.MidPrice()
	if mid == 0 {
		return 0
	}
	return t.Spread() / mid * 100
}

func (t Ticker) IsUp() bool   { return t.Change24h >= 0 }
func (t Ticker) IsDown() bool { return t.Change24h < 0 }

// RangePosition locates the last price within the 24h range, 0 at the low
// and 1 at the high. A flat range reports 0.5.
func (t Ticker) RangePosition() float64 {
	rng := float64(t.High24h - t.Low24h)
	if rng == 0 {
		return 0.5
	}
	return float64(t.LastPrice-t.Low24h) / rng
}

// VWAP24h falls back to the last price when there is no volume.
func (t Ticker) VWAP24h() float64 {
	if t.Volume24h == 0 {
		return float64(t.LastPrice)
	}
	return t.QuoteVolume24h / float64(t.Volume24h)
}

// UpdateFromTrade folds one execution into the rolling window.
func (t *Ticker) UpdateFromTrade(price, qty float64, at time.Time) {
	t.LastPrice = Price(price)
	t.Volume24h += Quantity(qty)
	t.QuoteVolume24h += price * qty
	t.TradeCount24h++
	if Price(price) > t.High24h {
		t.High24h = Price(price)
	}
	if Price(price) < t.Low24h {
		t.Low24h = Price(price)
	}
	t.Change24h = price - float64(t.Open24h)
	if t.Open24h > 0 {
		t.ChangePercent24h = t.Change24h / float64(t.Open24h) * 100
	}
	t.Timestamp = at.UnixMilli()
}

// MiniTicker is the compact view used by symbol lists.
type MiniTicker struct {
	Symbol           Symbol  `json:"symbol"`
	LastPrice        float64 `json:"last_price"`
	ChangePercent24h float64 `json:"change_percent_24h"`
}

func (t Ticker) Mini() MiniTicker {
	return MiniTicker{Symbol: t.Symbol, LastPrice: float64(t.LastPrice), ChangePercent24h: t.ChangePercent24h}
}

func (m MiniTicker) IsUp() bool { return m.ChangePercent24h >= 0 }

// PriceDirection summarises the sign of the 24h change.
type PriceDirection string

const (
	DirectionUp      PriceDirection = "up"
	DirectionDown    PriceDirection = "down"
	DirectionNeutral PriceDirection = "neutral"
)

// DirectionOf reports neutral when no ticker has been seen yet.
func DirectionOf(t *Ticker) PriceDirection {
	switch {
	case t == nil:
		return DirectionNeutral
	case t.Change24h > 0:
		return DirectionUp
	case t.Change24h < 0:
		return DirectionDown
	}
	return DirectionNeutral
}

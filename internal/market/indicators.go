package market

import (
	"sync"

	"dashflow/models"
)

// IndicatorWindow is the number of most recent trades used for VWAP and
// buy ratio.
const IndicatorWindow = 50

// Indicators are the derived values shown alongside the raw market data.
type Indicators struct {
	Direction    models.PriceDirection  `json:"direction"`
	CurrentPrice *float64               `json:"current_price,omitempty"`
	MidPrice     *float64               `json:"mid_price,omitempty"`
	Spread       *float64               `json:"spread,omitempty"`
	Imbalance    float64                `json:"imbalance"`
	VWAP         float64                `json:"vwap"`
	BuyRatio     float64                `json:"buy_ratio"`
	WhaleTrades  int                    `json:"whale_trades"`
	LargeTrades  int                    `json:"large_trades"`
	Patterns     []models.CandlePattern `json:"patterns"`
}

// Calculator derives Indicators from a snapshot. The classifier and pattern
// detector are injected so thresholds stay a configuration concern.
type Calculator struct {
	Classifier models.TradeClassifier
	Patterns   models.PatternDetector
}

func NewCalculator(classifier models.TradeClassifier) Calculator {
	return Calculator{Classifier: classifier, Patterns: models.NewBasicPatternDetector()}
}

func (c Calculator) Compute(snap Snapshot) Indicators {
	out := Indicators{
		Direction: models.DirectionOf(snap.Ticker),
		VWAP:      models.VWAP(snap.Trades, IndicatorWindow),
		BuyRatio:  models.BuyRatio(snap.Trades, IndicatorWindow),
		Patterns:  []models.CandlePattern{},
	}

	switch {
	case snap.Ticker != nil:
		p := float64(snap.Ticker.LastPrice)
		out.CurrentPrice = &p
	case len(snap.Trades) > 0:
		p := float64(snap.Trades[0].Price)
		out.CurrentPrice = &p
	}

	if snap.OrderBook != nil {
		out.Imbalance = snap.OrderBook.Imbalance()
		if mid, ok := snap.OrderBook.MidPrice(); ok {
			out.MidPrice = &mid
		}
		if spread, ok := snap.OrderBook.Spread(); ok {
			out.Spread = &spread
		}
	}

	if c.Classifier != nil {
		for _, t := range snap.Trades {
			switch c.Classifier.Classify(t) {
			case models.ClassWhale:
				out.WhaleTrades++
			case models.ClassLarge:
				out.LargeTrades++
			}
		}
	}

	if c.Patterns != nil {
		if p := c.Patterns.Detect(snap.Candles.Candles); len(p) > 0 {
			out.Patterns = p
		}
	}
	return out
}

// Tracker keeps Indicators current by recomputing them whenever the store
// reports a change that affects them.
type Tracker struct {
	store  *Store
	calc   Calculator
	cancel func()

	mu      sync.RWMutex
	current Indicators
}

func NewTracker(store *Store, calc Calculator) *Tracker {
	t := &Tracker{store: store, calc: calc}
	t.recompute()
	t.cancel = store.Subscribe(func(topic Topic) {
		switch topic {
		case TopicTicker, TopicOrderBook, TopicTrades, TopicCandles, TopicReset:
			t.recompute()
		}
	})
	return t
}

func (t *Tracker) recompute() {
	ind := t.calc.Compute(t.store.Snapshot())
	t.mu.Lock()
	t.current = ind
	t.mu.Unlock()
}

func (t *Tracker) Current() Indicators {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.current
	out.Patterns = append([]models.CandlePattern(nil), t.current.Patterns...)
	return out
}

// Close stops tracking. Current keeps returning the last computed value.
func (t *Tracker) Close() {
	t.cancel()
}

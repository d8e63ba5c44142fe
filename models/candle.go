package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// CandleInterval is the width of one candle bucket.
type CandleInterval string

const (
	Interval1m  CandleInterval = "1m"
	Interval5m  CandleInterval = "5m"
	Interval15m CandleInterval = "15m"
	Interval30m CandleInterval = "30m"
	Interval1h  CandleInterval = "1h"
	Interval4h  CandleInterval = "4h"
	Interval1d  CandleInterval = "1d"
	Interval1w  CandleInterval = "1w"
)

var intervalSeconds = map[CandleInterval]int64{
	Interval1m:  60,
	Interval5m:  300,
	Interval15m: 900,
	Interval30m: 1800,
	Interval1h:  3600,
	Interval4h:  14400,
	Interval1d:  86400,
	Interval1w:  604800,
}

// Intervals lists every supported interval from shortest to longest.
func Intervals() []CandleInterval {
	return []CandleInterval{Interval1m, Interval5m, Interval15m, Interval30m, Interval1h, Interval4h, Interval1d, Interval1w}
}

// ParseInterval accepts the wire form ("1m", "4h") case-insensitively.
func ParseInterval(s string) (CandleInterval, error) {
	iv := CandleInterval(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := intervalSeconds[iv]; !ok {
		return "", fmt.Errorf("unknown candle interval %q", s)
	}
	return iv, nil
}

func (i CandleInterval) Valid() bool {
	_, ok := intervalSeconds[i]
	return ok
}

func (i CandleInterval) Seconds() int64 { return intervalSeconds[i] }

func (i CandleInterval) Millis() int64 { return i.Seconds() * 1000 }

func (i CandleInterval) Duration() time.Duration {
	return time.Duration(i.Seconds()) * time.Second
}

// Label is the display form, upper-casing hour and longer units.
func (i CandleInterval) Label() string {
	switch i {
	case Interval1h, Interval4h, Interval1d, Interval1w:
		return strings.ToUpper(string(i))
	}
	return string(i)
}

// BucketStart floors a millisecond timestamp to the start of its bucket.
func (i CandleInterval) BucketStart(tsMillis int64) int64 {
	ms := i.Millis()
	if ms <= 0 {
		return tsMillis
	}
	return tsMillis - tsMillis%ms
}

func (i *CandleInterval) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseInterval(s)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Candle is one OHLCV bar keyed by symbol, interval and open timestamp (ms).
type Candle struct {
	Symbol      Symbol         `json:"symbol"`
	Interval    CandleInterval `json:"interval"`
	Timestamp   int64          `json:"timestamp"`
	Open        Price          `json:"open"`
	High        Price          `json:"high"`
	Low         Price          `json:"low"`
	Close       Price          `json:"close"`
	Volume      Quantity       `json:"volume"`
	QuoteVolume float64        `json:"quote_volume"`
	TradeCount  uint32         `json:"trade_count"`
	IsClosed    bool           `json:"is_closed"`
}

// NewCandle opens a bar with every price at open.
func NewCandle(symbol Symbol, interval CandleInterval, timestamp int64, open float64) Candle {
	p := Price(open)
	return Candle{
		Symbol:    symbol,
		Interval:  interval,
		Timestamp: timestamp,
		Open:      p,
		High:      p,
		Low:       p,
		Close:     p,
	}
}

// Update applies one trade tick. Closed candles are left untouched.
func (c *Candle) Update(price, qty float64) {
	if c.IsClosed {
		return
	}
	p := Price(price)
	if p > c.High {
		c.High = p
	}
	if p < c.Low {
		c.Low = p
	}
	c.Close = p
	c.Volume += Quantity(qty)
	c.QuoteVolume += price * qty
	c.TradeCount++
}

// Finalize marks the bar as closed. Later updates are ignored.
func (c *Candle) Finalize() { c.IsClosed = true }

func (c Candle) IsBullish() bool { return c.Close >= c.Open }
func (c Candle) IsBearish() bool { return c.Close < c.Open }

func (c Candle) BodySize() float64 { return math.Abs(float64(c.Close - c.Open)) }
func (c Candle) Range() float64 { return float64(c.High - c.Low) }
func (c Candle) Change() float64 { return float64(c.Close - c.Open) }

func (c Candle) BodyTop() float64 { return math.Max(float64(c.Open), float64(c.Close)) }
func (c Candle) BodyBottom() float64 { return math.Min(float64(c.Open), float64(c.Close)) }

func (c Candle) UpperShadow() float64 { return float64(c.High) - c.BodyTop() }
func (c Candle) LowerShadow() float64 { return c.BodyBottom() - float64(c.Low) }

func (c Candle) ChangePercent() float64 {
	if c.Open == 0 {
		return 0
	}
	return c.Change() / float64(c.Open) * 100
}

// CandleHistory is the ordered bar sequence for one symbol and interval.
type CandleHistory struct {
	Symbol   Symbol         `json:"symbol"`
	Interval CandleInterval `json:"interval"`
	Candles  []Candle       `json:"candles"`
}

func NewCandleHistory(symbol Symbol, interval CandleInterval) CandleHistory {
	return CandleHistory{Symbol: symbol, Interval: interval, Candles: []Candle{}}
}

func (h CandleHistory) Len() int { return len(h.Candles) }

func (h CandleHistory) Latest() (Candle, bool) {
	if len(h.Candles) == 0 {
		return Candle{}, false
	}
	return h.Candles[len(h.Candles)-1], true
}

// Tail returns up to the last n candles.
func (h CandleHistory) Tail(n int) []Candle {
	if n <= 0 {
		return nil
	}
	start := len(h.Candles) - n
	if start < 0 {
		start = 0
	}
	return h.Candles[start:]
}

// PriceRange spans the lowest low to the highest high.
func (h CandleHistory) PriceRange() (lo, hi float64, ok bool) {
	if len(h.Candles) == 0 {
		return 0, 0, false
	}
	lo, hi = math.MaxFloat64, -math.MaxFloat64
	for _, c := range h.Candles {
		lo = math.Min(lo, float64(c.Low))
		hi = math.Max(hi, float64(c.High))
	}
	return lo, hi, true
}

func (h CandleHistory) VolumeRange() (lo, hi float64, ok bool) {
	if len(h.Candles) == 0 {
		return 0, 0, false
	}
	lo, hi = math.MaxFloat64, -math.MaxFloat64
	for _, c := range h.Candles {
		lo = math.Min(lo, float64(c.Volume))
		hi = math.Max(hi, float64(c.Volume))
	}
	return lo, hi, true
}

// TimeRange returns the first and last open timestamps.
func (h CandleHistory) TimeRange() (first, last int64, ok bool) {
	if len(h.Candles) == 0 {
		return 0, 0, false
	}
	return h.Candles[0].Timestamp, h.Candles[len(h.Candles)-1].Timestamp, true
}

// CandlePattern names a recognised single-bar shape.
type CandlePattern string

const (
	PatternDoji           CandlePattern = "doji"
	PatternHammer         CandlePattern = "hammer"
	PatternInvertedHammer CandlePattern = "inverted_hammer"
)

func (p CandlePattern) IsBullish() bool { return p == PatternHammer }
func (p CandlePattern) IsBearish() bool { return p == PatternInvertedHammer }

// PatternDetector inspects a bar sequence and reports patterns on it.
type PatternDetector interface {
	Detect(candles []Candle) []CandlePattern
}

// BasicPatternDetector looks at the most recent bar only.
type BasicPatternDetector struct {
	DojiThreshold float64
}

func NewBasicPatternDetector() BasicPatternDetector {
	return BasicPatternDetector{DojiThreshold: 0.1}
}

func (d BasicPatternDetector) Detect(candles []Candle) []CandlePattern {
	if len(candles) == 0 {
		return nil
	}
	c := candles[len(candles)-1]
	body := c.BodySize()
	rng := c.Range()

	var patterns []CandlePattern
	if rng > 0 && body/rng < d.DojiThreshold {
		patterns = append(patterns, PatternDoji)
	}
	if c.LowerShadow() > body*2 && c.UpperShadow() < body*0.5 {
		patterns = append(patterns, PatternHammer)
	}
	if c.UpperShadow() > body*2 && c.LowerShadow() < body*0.5 {
		patterns = append(patterns, PatternInvertedHammer)
	}
	return patterns
}

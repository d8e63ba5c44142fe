package models

import (
	"math"
	"sort"
)

// OrderBookLevel is the aggregate resting interest at one price.
type OrderBookLevel struct {
	Price      Price    `json:"price"`
	Quantity   Quantity `json:"quantity"`
	OrderCount uint32   `json:"order_count"`
}

func NewOrderBookLevel(price, qty float64, orders uint32) OrderBookLevel {
	return OrderBookLevel{Price: Price(price), Quantity: Quantity(qty), OrderCount: orders}
}

// Value is price times quantity.
func (l OrderBookLevel) Value() float64 {
	return float64(l.Price) * float64(l.Quantity)
}

// QuantityPercent sizes the level against maxQty, capped at 100.
func (l OrderBookLevel) QuantityPercent(maxQty float64) float64 {
	if maxQty <= 0 {
		return 0
	}
	return math.Min(float64(l.Quantity)/maxQty*100, 100)
}

// OrderBookSnapshot holds both sides of the book. Bids are sorted by price
// descending and asks ascending; derived values are computed on demand.
type OrderBookSnapshot struct {
	Symbol    Symbol           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp int64            `json:"timestamp"`
	Sequence  uint64           `json:"sequence"`
}

func (b OrderBookSnapshot) BestBid() (OrderBookLevel, bool) {
	if len(b.Bids) == 0 {
		return OrderBookLevel{}, false
	}
	return b.Bids[0], true
}

func (b OrderBookSnapshot) BestAsk() (OrderBookLevel, bool) {
	if len(b.Asks) == 0 {
		return OrderBookLevel{}, false
	}
	return b.Asks[0], true
}

// Spread is best ask minus best bid; ok is false when a side is empty.
func (b OrderBookSnapshot) Spread() (float64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return float64(ask.Price - bid.Price), true
}

func (b OrderBookSnapshot) MidPrice() (float64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return float64(bid.Price+ask.Price) / 2, true
}

// SpreadPercent is the spread relative to the mid price.
func (b OrderBookSnapshot) SpreadPercent() (float64, bool) {
	spread, ok := b.Spread()
	if !ok {
		return 0, false
	}
	mid, _ := b.MidPrice()
	if mid == 0 {
		return 0, false
	}
	return spread / mid * 100, true
}

func (b OrderBookSnapshot) TotalBidDepth() float64 { return sumQuantity(b.Bids) }
func (b OrderBookSnapshot) TotalAskDepth() float64 { return sumQuantity(b.Asks) }
func (b OrderBookSnapshot) TotalBidValue() float64 { return sumValue(b.Bids) }
func (b OrderBookSnapshot) TotalAskValue() float64 { return sumValue(b.Asks) }

// Imbalance is (bid depth - ask depth) / total depth, in [-1, 1]. An empty
// book is balanced.
func (b OrderBookSnapshot) Imbalance() float64 {
	bid := b.TotalBidDepth()
	ask := b.TotalAskDepth()
	total := bid + ask
	if total == 0 {
		return 0
	}
	return (bid - ask) / total
}

// MaxQuantity is the largest single level on either side.
func (b OrderBookSnapshot) MaxQuantity() float64 {
	max := 0.0
	for _, l := range b.Bids {
		max = math.Max(max, float64(l.Quantity))
	}
	for _, l := range b.Asks {
		max = math.Max(max, float64(l.Quantity))
	}
	return max
}

// PriceRange spans the deepest bid to the deepest ask.
func (b OrderBookSnapshot) PriceRange() (lo, hi float64, ok bool) {
	switch {
	case len(b.Bids) > 0 && len(b.Asks) > 0:
		return float64(b.Bids[len(b.Bids)-1].Price), float64(b.Asks[len(b.Asks)-1].Price), true
	case len(b.Bids) > 0:
		p := float64(b.Bids[len(b.Bids)-1].Price)
		return p, p, true
	case len(b.Asks) > 0:
		p := float64(b.Asks[len(b.Asks)-1].Price)
		return p, p, true
	}
	return 0, 0, false
}

// Clone deep-copies both sides.
func (b OrderBookSnapshot) Clone() OrderBookSnapshot {
	out := b
	out.Bids = append([]OrderBookLevel(nil), b.Bids...)
	out.Asks = append([]OrderBookLevel(nil), b.Asks...)
	return out
}

func sumQuantity(levels []OrderBookLevel) float64 {
	total := 0.0
	for _, l := range levels {
		total += float64(l.Quantity)
	}
	return total
}

func sumValue(levels []OrderBookLevel) float64 {
	total := 0.0
	for _, l := range levels {
		total += l.Value()
	}
	return total
}

// AggregatedLevel is one price bucket produced by a DepthAggregator.
type AggregatedLevel struct {
	PriceMin      float64 `json:"price_min"`
	PriceMax      float64 `json:"price_max"`
	TotalQuantity float64 `json:"total_quantity"`
	OrderCount    uint32  `json:"order_count"`
}

// DepthAggregator groups book levels for coarser display.
type DepthAggregator interface {
	Aggregate(levels []OrderBookLevel) []AggregatedLevel
}

// FixedBucketAggregator groups levels into buckets of BucketSize price units,
// returned in ascending price order.
type FixedBucketAggregator struct {
	BucketSize float64
}

func (a FixedBucketAggregator) Aggregate(levels []OrderBookLevel) []AggregatedLevel {
	if len(levels) == 0 || a.BucketSize <= 0 {
		return nil
	}
	buckets := make(map[int64]*AggregatedLevel)
	for _, l := range levels {
		key := int64(math.Floor(float64(l.Price) / a.BucketSize))
		agg, ok := buckets[key]
		if !ok {
			agg = &AggregatedLevel{
				PriceMin: float64(key) * a.BucketSize,
				PriceMax: float64(key+1) * a.BucketSize,
			}
			buckets[key] = agg
		}
		agg.TotalQuantity += float64(l.Quantity)
		agg.OrderCount += l.OrderCount
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]AggregatedLevel, 0, len(keys))
	for _, k := range keys {
		out = append(out, *buckets[k])
	}
	return out
}

// AggregateWith runs agg over each side of the book.
func (b OrderBookSnapshot) AggregateWith(agg DepthAggregator) (bids, asks []AggregatedLevel) {
	return agg.Aggregate(b.Bids), agg.Aggregate(b.Asks)
}

// DepthPoint is one step of a cumulative depth curve.
type DepthPoint struct {
	Price              float64 `json:"price"`
	CumulativeQuantity float64 `json:"cumulative_quantity"`
	CumulativeValue    float64 `json:"cumulative_value"`
}

// MarketDepth is the cumulative projection of a book. Bid points run from the
// best bid downward, ask points from the best ask upward.
type MarketDepth struct {
	Symbol   Symbol       `json:"symbol"`
	BidDepth []DepthPoint `json:"bid_depth"`
	AskDepth []DepthPoint `json:"ask_depth"`
}

// NewMarketDepth rebuilds the cumulative curves from scratch. Cumulative
// quantity never decreases along a side and ends at that side's total depth.
func NewMarketDepth(book OrderBookSnapshot) MarketDepth {
	return MarketDepth{
		Symbol:   book.Symbol,
		BidDepth: cumulate(book.Bids),
		AskDepth: cumulate(book.Asks),
	}
}

func cumulate(levels []OrderBookLevel) []DepthPoint {
	points := make([]DepthPoint, 0, len(levels))
	var qty, val float64
	for _, l := range levels {
		qty += float64(l.Quantity)
		val += l.Value()
		points = append(points, DepthPoint{
			Price:              float64(l.Price),
			CumulativeQuantity: qty,
			CumulativeValue:    val,
		})
	}
	return points
}

func (d MarketDepth) PriceRange() (lo, hi float64, ok bool) {
	if len(d.BidDepth) == 0 && len(d.AskDepth) == 0 {
		return 0, 0, false
	}
	lo, hi = math.MaxFloat64, -math.MaxFloat64
	for _, p := range d.BidDepth {
		lo = math.Min(lo, p.Price)
		hi = math.Max(hi, p.Price)
	}
	for _, p := range d.AskDepth {
		lo = math.Min(lo, p.Price)
		hi = math.Max(hi, p.Price)
	}
	return lo, hi, true
}

// MaxDepth is the larger of the two side totals.
func (d MarketDepth) MaxDepth() float64 {
	max := 0.0
	if n := len(d.BidDepth); n > 0 {
		max = d.BidDepth[n-1].CumulativeQuantity
	}
	if n := len(d.AskDepth); n > 0 {
		max = math.Max(max, d.AskDepth[n-1].CumulativeQuantity)
	}
	return max
}

func (d MarketDepth) MidPrice() (float64, bool) {
	if len(d.BidDepth) == 0 || len(d.AskDepth) == 0 {
		return 0, false
	}
	return (d.BidDepth[0].Price + d.AskDepth[0].Price) / 2, true
}

// Clone deep-copies both curves.
func (d MarketDepth) Clone() MarketDepth {
	out := d
	out.BidDepth = append([]DepthPoint(nil), d.BidDepth...)
	out.AskDepth = append([]DepthPoint(nil), d.AskDepth...)
	return out
}

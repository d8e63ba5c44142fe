package chart

import (
	"math"

	"dashflow/models"
)

// CandleBar is the placement of one candle inside the plot area.
type CandleBar struct {
	Timestamp int64   `json:"timestamp"`
	X         float64 `json:"x"`
	Width     float64 `json:"width"`
	CenterX   float64 `json:"center_x"`
	BodyTop   float64 `json:"body_top"`
	BodyBot   float64 `json:"body_bottom"`
	WickHigh  float64 `json:"wick_high"`
	WickLow   float64 `json:"wick_low"`
	Bullish   bool    `json:"bullish"`
	Closed    bool    `json:"closed"`
}

// AxisTick is a labelled position along an axis.
type AxisTick struct {
	Value    float64 `json:"value"`
	Position float64 `json:"position"`
}

// CandleChart is everything a renderer needs to draw a candlestick panel.
type CandleChart struct {
	Dimensions Dimensions  `json:"dimensions"`
	PriceMin   float64     `json:"price_min"`
	PriceMax   float64     `json:"price_max"`
	Bars       []CandleBar `json:"bars"`
	PriceTicks []AxisTick  `json:"price_ticks"`
}

// PricePadding widens the price domain so extremes do not touch the frame.
const PricePadding = 0.05

// CandleGeometry lays out up to the last maxBars candles of h. Y grows
// downward, so higher prices map to smaller coordinates.
func CandleGeometry(h models.CandleHistory, dims Dimensions, maxBars int) CandleChart {
	out := CandleChart{Dimensions: dims, Bars: []CandleBar{}, PriceTicks: []AxisTick{}}
	candles := h.Candles
	if maxBars > 0 {
		candles = h.Tail(maxBars)
	}
	if len(candles) == 0 {
		return out
	}

	lo, hi, _ := models.CandleHistory{Candles: candles}.PriceRange()
	pad := (hi - lo) * PricePadding
	if pad == 0 {
		pad = math.Max(math.Abs(hi)*0.001, 1)
	}
	lo, hi = lo-pad, hi+pad
	out.PriceMin, out.PriceMax = lo, hi

	top := dims.Margin.Top
	bottom := top + dims.InnerHeight()
	y := NewLinearScale().WithDomain(lo, hi).WithRange(bottom, top)
	x := NewBandScale(len(candles)).
		WithRange(dims.Margin.Left, dims.Margin.Left+dims.InnerWidth()).
		WithPadding(0.2, 0.1)

	out.Bars = make([]CandleBar, 0, len(candles))
	for i, c := range candles {
		out.Bars = append(out.Bars, CandleBar{
			Timestamp: c.Timestamp,
			X:         x.Scale(i),
			Width:     x.Bandwidth(),
			CenterX:   x.ScaleCenter(i),
			BodyTop:   y.Scale(c.BodyTop()),
			BodyBot:   y.Scale(c.BodyBottom()),
			WickHigh:  y.Scale(float64(c.High)),
			WickLow:   y.Scale(float64(c.Low)),
			Bullish:   c.IsBullish(),
			Closed:    c.IsClosed,
		})
	}
	for _, v := range y.NiceTicks(5) {
		out.PriceTicks = append(out.PriceTicks, AxisTick{Value: v, Position: y.Scale(v)})
	}
	return out
}

// DepthStep is one vertex of a cumulative depth curve.
type DepthStep struct {
	Price float64 `json:"price"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// DepthChart holds both depth curves in plot coordinates.
type DepthChart struct {
	Dimensions Dimensions  `json:"dimensions"`
	PriceMin   float64     `json:"price_min"`
	PriceMax   float64     `json:"price_max"`
	MaxDepth   float64     `json:"max_depth"`
	MidX       *float64    `json:"mid_x,omitempty"`
	Bids       []DepthStep `json:"bids"`
	Asks       []DepthStep `json:"asks"`
	PriceTicks []AxisTick  `json:"price_ticks"`
}

// DepthGeometry projects a depth snapshot onto the plot area, price on x and
// cumulative quantity on y.
func DepthGeometry(d models.MarketDepth, dims Dimensions) DepthChart {
	out := DepthChart{Dimensions: dims, Bids: []DepthStep{}, Asks: []DepthStep{}, PriceTicks: []AxisTick{}}
	lo, hi, ok := d.PriceRange()
	if !ok {
		return out
	}
	out.PriceMin, out.PriceMax = lo, hi
	out.MaxDepth = d.MaxDepth()

	left := dims.Margin.Left
	top := dims.Margin.Top
	x := NewLinearScale().WithDomain(lo, hi).WithRange(left, left+dims.InnerWidth())
	y := NewLinearScale().WithDomain(0, out.MaxDepth*1.1).WithRange(top+dims.InnerHeight(), top).WithClamp(true)

	for _, p := range d.BidDepth {
		out.Bids = append(out.Bids, DepthStep{Price: p.Price, X: x.Scale(p.Price), Y: y.Scale(p.CumulativeQuantity)})
	}
	for _, p := range d.AskDepth {
		out.Asks = append(out.Asks, DepthStep{Price: p.Price, X: x.Scale(p.Price), Y: y.Scale(p.CumulativeQuantity)})
	}
	if mid, ok := d.MidPrice(); ok {
		mx := x.Scale(mid)
		out.MidX = &mx
	}
	for _, v := range x.NiceTicks(5) {
		out.PriceTicks = append(out.PriceTicks, AxisTick{Value: v, Position: x.Scale(v)})
	}
	return out
}

// Package chart maps market values onto chart coordinates.
//
// Scales are pure value types: every method is deterministic, and degenerate
// inputs (empty domain, zero count) produce a defined fallback instead of an
// error.
package chart

import "math"

const epsilon = 1e-12

// Scale maps a domain value to a range coordinate and back.
type Scale interface {
	Scale(v float64) float64
	Invert(v float64) float64
	Ticks(count int) []float64
}

// LinearScale is a continuous linear mapping from [DomainMin, DomainMax] onto
// [RangeMin, RangeMax]. Reversed ranges (e.g. a y axis growing downward) are
// supported.
type LinearScale struct {
	DomainMin, DomainMax float64
	RangeMin, RangeMax   float64
	Clamp                bool
}

// NewLinearScale returns the identity mapping of [0, 1].
func NewLinearScale() LinearScale {
	return LinearScale{DomainMax: 1, RangeMax: 1}
}

func (s LinearScale) WithDomain(min, max float64) LinearScale {
	s.DomainMin, s.DomainMax = min, max
	return s
}

func (s LinearScale) WithRange(min, max float64) LinearScale {
	s.RangeMin, s.RangeMax = min, max
	return s
}

func (s LinearScale) WithClamp(clamp bool) LinearScale {
	s.Clamp = clamp
	return s
}

// Scale maps v into the range. A degenerate domain maps everything to the
// range midpoint.
func (s LinearScale) Scale(v float64) float64 {
	d := s.DomainMax - s.DomainMin
	if math.Abs(d) < epsilon {
		return (s.RangeMin + s.RangeMax) / 2
	}
	norm := (v - s.DomainMin) / d
	if s.Clamp {
		norm = clamp01(norm)
	}
	return s.RangeMin + norm*(s.RangeMax-s.RangeMin)
}

// Invert maps a range coordinate back into the domain. A degenerate range
// maps everything to the domain midpoint.
func (s LinearScale) Invert(v float64) float64 {
	r := s.RangeMax - s.RangeMin
	if math.Abs(r) < epsilon {
		return (s.DomainMin + s.DomainMax) / 2
	}
	norm := (v - s.RangeMin) / r
	if s.Clamp {
		norm = clamp01(norm)
	}
	return s.DomainMin + norm*(s.DomainMax-s.DomainMin)
}

// Ticks returns count evenly spaced domain values including both ends.
func (s LinearScale) Ticks(count int) []float64 {
	if count <= 1 {
		return []float64{s.DomainMin}
	}
	step := (s.DomainMax - s.DomainMin) / float64(count-1)
	ticks := make([]float64, count)
	for i := range ticks {
		ticks[i] = s.DomainMin + step*float64(i)
	}
	return ticks
}

// NiceTicks returns the multiples of a round step (1, 2 or 5 times a power of
// ten) that fall inside the domain. The step is the smallest round value not
// below (max-min)/count, so at most about count+1 ticks are produced.
func (s LinearScale) NiceTicks(count int) []float64 {
	lo, hi := s.DomainMin, s.DomainMax
	if lo > hi {
		lo, hi = hi, lo
	}
	span := hi - lo
	if span < epsilon || count <= 0 {
		return []float64{s.DomainMin}
	}

	step := NiceStep(span / float64(count))
	tol := step * 1e-9
	first := math.Ceil((lo - tol) / step)
	last := math.Floor((hi + tol) / step)

	ticks := make([]float64, 0, int(last-first)+1)
	for k := first; k <= last; k++ {
		ticks = append(ticks, k*step)
	}
	return ticks
}

// NiceStep snaps a raw step up to the nearest 1, 2, 5 or 10 times a power of ten.
func NiceStep(raw float64) float64 {
	if raw <= 0 || math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 1
	}
	magnitude := math.Pow(10, math.Floor(math.Log10(raw)))
	residual := raw / magnitude
	switch {
	case residual <= 1:
		return magnitude
	case residual <= 2:
		return 2 * magnitude
	case residual <= 5:
		return 5 * magnitude
	}
	return 10 * magnitude
}

// TimeScale is a linear scale over unix millisecond timestamps.
type TimeScale struct {
	DomainMin, DomainMax int64
	RangeMin, RangeMax   float64
}

func NewTimeScale(from, to int64, rangeMin, rangeMax float64) TimeScale {
	return TimeScale{DomainMin: from, DomainMax: to, RangeMin: rangeMin, RangeMax: rangeMax}
}

func (s TimeScale) Scale(ts int64) float64 {
	if s.DomainMax == s.DomainMin {
		return (s.RangeMin + s.RangeMax) / 2
	}
	norm := float64(ts-s.DomainMin) / float64(s.DomainMax-s.DomainMin)
	return s.RangeMin + norm*(s.RangeMax-s.RangeMin)
}

func (s TimeScale) Invert(v float64) int64 {
	r := s.RangeMax - s.RangeMin
	if math.Abs(r) < epsilon {
		return s.DomainMin + (s.DomainMax-s.DomainMin)/2
	}
	norm := (v - s.RangeMin) / r
	return s.DomainMin + int64(math.Round(norm*float64(s.DomainMax-s.DomainMin)))
}

// BandScale splits a range into n equal bands separated by inner padding and
// inset by outer padding, both expressed as fractions of the step.
type BandScale struct {
	n            int
	rangeMin     float64
	rangeMax     float64
	paddingInner float64
	paddingOuter float64
}

// NewBandScale uses 10% inner and outer padding over [0, 1].
func NewBandScale(n int) BandScale {
	if n < 0 {
		n = 0
	}
	return BandScale{n: n, rangeMax: 1, paddingInner: 0.1, paddingOuter: 0.1}
}

func (s BandScale) WithRange(min, max float64) BandScale {
	s.rangeMin, s.rangeMax = min, max
	return s
}

// WithPadding clamps both fractions to [0, 1].
func (s BandScale) WithPadding(inner, outer float64) BandScale {
	s.paddingInner = clamp01(inner)
	s.paddingOuter = clamp01(outer)
	return s
}

func (s BandScale) Count() int { return s.n }

// Step is the distance between the starts of adjacent bands.
func (s BandScale) Step() float64 {
	if s.n == 0 {
		return 0
	}
	slots := float64(s.n) - s.paddingInner + 2*s.paddingOuter
	if slots < 1 {
		slots = 1
	}
	return (s.rangeMax - s.rangeMin) / slots
}

func (s BandScale) Bandwidth() float64 {
	return s.Step() * (1 - s.paddingInner)
}

// Scale returns the start of band i. With no bands it returns the range start.
func (s BandScale) Scale(i int) float64 {
	if s.n == 0 {
		return s.rangeMin
	}
	step := s.Step()
	return s.rangeMin + s.paddingOuter*step + float64(i)*step
}

func (s BandScale) ScaleCenter(i int) float64 {
	return s.Scale(i) + s.Bandwidth()/2
}

// Margin is the blank border around a plot area.
type Margin struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// Dimensions describe the full chart box and its margins.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Margin Margin  `json:"margin"`
}

// DefaultDimensions leaves room for a right-hand price axis and a time axis.
func DefaultDimensions(width, height float64) Dimensions {
	return Dimensions{
		Width:  width,
		Height: height,
		Margin: Margin{Top: 20, Right: 60, Bottom: 30, Left: 10},
	}
}

func (d Dimensions) InnerWidth() float64 {
	return math.Max(0, d.Width-d.Margin.Left-d.Margin.Right)
}

func (d Dimensions) InnerHeight() float64 {
	return math.Max(0, d.Height-d.Margin.Top-d.Margin.Bottom)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

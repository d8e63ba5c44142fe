// Package reconnect decides how long the feed client waits between
// connection attempts and when it gives up.
package reconnect

import (
	"fmt"
	"math"
	"strings"
	"time"

	"dashflow/config"
)

// minJitteredDelay is the floor applied after jitter.
const minJitteredDelay = 100 * time.Millisecond

// Policy is consulted by the connection loop after every failed or dropped
// connection. attempt counts consecutive failures and restarts at zero after a
// successful connect.
type Policy interface {
	Delay(attempt int) time.Duration
	ShouldReconnect(attempt int) bool
	Reset()
}

// ExponentialBackoff grows the delay by Multiplier per attempt up to MaxDelay.
// MaxAttempts of zero retries forever.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
	Jitter       bool
}

func DefaultExponential() ExponentialBackoff {
	return ExponentialBackoff{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   1.5,
		Jitter:       true,
	}
}

// Aggressive retries quickly for local or flaky development feeds.
func Aggressive() ExponentialBackoff {
	return ExponentialBackoff{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   1.2,
		Jitter:       true,
	}
}

// Conservative backs off hard and gives up after ten attempts.
func Conservative() ExponentialBackoff {
	return ExponentialBackoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2,
		MaxAttempts:  10,
		Jitter:       true,
	}
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(b.InitialDelay.Milliseconds()) * math.Pow(b.Multiplier, float64(attempt))
	maxMs := b.MaxDelay.Milliseconds()
	ms := maxMs
	if base < float64(maxMs) {
		ms = int64(base)
	}

	if b.Jitter {
		ms += jitterMillis(attempt, ms)
		if ms < minJitteredDelay.Milliseconds() {
			ms = minJitteredDelay.Milliseconds()
		}
	}
	return time.Duration(ms) * time.Millisecond
}

// jitterMillis spreads retries by up to ±20% of delay. It is derived from the
// attempt number so a given attempt always waits the same time.
func jitterMillis(attempt int, delay int64) int64 {
	r := delay / 5
	if r <= 0 {
		return 0
	}
	return (int64(attempt)*7919)%(2*r+1) - r
}

func (b ExponentialBackoff) ShouldReconnect(attempt int) bool {
	return withinAttempts(b.MaxAttempts, attempt)
}

func (ExponentialBackoff) Reset() {}

// LinearBackoff adds Increment per attempt up to MaxDelay.
type LinearBackoff struct {
	InitialDelay time.Duration
	Increment    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

func DefaultLinear() LinearBackoff {
	return LinearBackoff{
		InitialDelay: time.Second,
		Increment:    time.Second,
		MaxDelay:     10 * time.Second,
		MaxAttempts:  10,
	}
}

func (b LinearBackoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.InitialDelay + b.Increment*time.Duration(attempt)
	if d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

func (b LinearBackoff) ShouldReconnect(attempt int) bool {
	return withinAttempts(b.MaxAttempts, attempt)
}

func (LinearBackoff) Reset() {}

// ConstantDelay waits the same time before every attempt.
type ConstantDelay struct {
	Wait        time.Duration
	MaxAttempts int
}

func DefaultConstant() ConstantDelay {
	return ConstantDelay{Wait: 3 * time.Second, MaxAttempts: 5}
}

func (c ConstantDelay) Delay(int) time.Duration { return c.Wait }

func (c ConstantDelay) ShouldReconnect(attempt int) bool {
	return withinAttempts(c.MaxAttempts, attempt)
}

func (ConstantDelay) Reset() {}

func withinAttempts(max, attempt int) bool {
	return max == 0 || attempt < max
}

// FromConfig builds the policy named by cfg.Policy. Presets ignore the
// numeric fields except max_attempts, which overrides the preset when set.
func FromConfig(cfg config.ReconnectConfig) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Policy)) {
	case "", "exponential":
		return ExponentialBackoff{
			InitialDelay: cfg.InitialDelay,
			MaxDelay:     cfg.MaxDelay,
			Multiplier:   cfg.Multiplier,
			MaxAttempts:  cfg.MaxAttempts,
			Jitter:       cfg.Jitter,
		}, nil
	case "aggressive":
		p := Aggressive()
		if cfg.MaxAttempts > 0 {
			p.MaxAttempts = cfg.MaxAttempts
		}
		return p, nil
	case "conservative":
		p := Conservative()
		if cfg.MaxAttempts > 0 {
			p.MaxAttempts = cfg.MaxAttempts
		}
		return p, nil
	case "linear":
		return LinearBackoff{
			InitialDelay: cfg.InitialDelay,
			Increment:    cfg.Increment,
			MaxDelay:     cfg.MaxDelay,
			MaxAttempts:  cfg.MaxAttempts,
		}, nil
	case "constant":
		return ConstantDelay{Wait: cfg.InitialDelay, MaxAttempts: cfg.MaxAttempts}, nil
	}
	return nil, fmt.Errorf("unknown reconnect policy %q", cfg.Policy)
}

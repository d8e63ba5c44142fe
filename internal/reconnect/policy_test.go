package reconnect

import (
	"testing"
	"time"

	"dashflow/config"
)

func TestExponentialDelays(t *testing.T) {
	p := ExponentialBackoff{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for attempt, w := range want {
		if got := p.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestExponentialDelayNonDecreasingWithoutJitter(t *testing.T) {
	p := DefaultExponential()
	p.Jitter = false
	prev := time.Duration(0)
	for attempt := 0; attempt < 40; attempt++ {
		d := p.Delay(attempt)
		if d < prev {
			t.Fatalf("Delay(%d) = %v dropped below %v", attempt, d, prev)
		}
		if d > p.MaxDelay {
			t.Fatalf("Delay(%d) = %v exceeds max %v", attempt, d, p.MaxDelay)
		}
		prev = d
	}
}

func TestJitterBounds(t *testing.T) {
	p := DefaultExponential()
	plain := p
	plain.Jitter = false
	for attempt := 0; attempt < 30; attempt++ {
		base := plain.Delay(attempt)
		got := p.Delay(attempt)
		spread := base / 5
		if got < base-spread || got > base+spread {
			t.Fatalf("Delay(%d) = %v outside %v ± %v", attempt, got, base, spread)
		}
		if got != p.Delay(attempt) {
			t.Fatalf("Delay(%d) is not deterministic", attempt)
		}
	}
}

func TestJitterFloor(t *testing.T) {
	p := ExponentialBackoff{InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 1, Jitter: true}
	for attempt := 0; attempt < 10; attempt++ {
		if got := p.Delay(attempt); got < minJitteredDelay {
			t.Fatalf("Delay(%d) = %v below floor", attempt, got)
		}
	}
}

func TestShouldReconnect(t *testing.T) {
	cases := []struct {
		name    string
		policy  Policy
		attempt int
		want    bool
	}{
		{"unlimited", ExponentialBackoff{MaxAttempts: 0}, 1_000_000, true},
		{"below limit", ExponentialBackoff{MaxAttempts: 3}, 2, true},
		{"at limit", ExponentialBackoff{MaxAttempts: 3}, 3, false},
		{"past limit", LinearBackoff{MaxAttempts: 3}, 4, false},
		{"constant first", ConstantDelay{MaxAttempts: 1}, 0, true},
		{"constant exhausted", ConstantDelay{MaxAttempts: 1}, 1, false},
	}
	for _, tc := range cases {
		if got := tc.policy.ShouldReconnect(tc.attempt); got != tc.want {
			t.Errorf("%s: ShouldReconnect(%d) = %v, want %v", tc.name, tc.attempt, got, tc.want)
		}
	}
}

func TestLinearAndConstant(t *testing.T) {
	l := DefaultLinear()
	if l.Delay(0) != time.Second || l.Delay(3) != 4*time.Second || l.Delay(50) != 10*time.Second {
		t.Fatalf("unexpected linear delays: %v %v %v", l.Delay(0), l.Delay(3), l.Delay(50))
	}
	c := DefaultConstant()
	if c.Delay(0) != 3*time.Second || c.Delay(9) != 3*time.Second {
		t.Fatalf("unexpected constant delays")
	}
}

func TestPresets(t *testing.T) {
	c := Conservative()
	if c.MaxAttempts != 10 || c.ShouldReconnect(10) {
		t.Fatalf("conservative preset should stop after 10 attempts: %+v", c)
	}
	a := Aggressive()
	if a.MaxAttempts != 0 || a.InitialDelay != 500*time.Millisecond || a.MaxDelay != 5*time.Second {
		t.Fatalf("unexpected aggressive preset: %+v", a)
	}
}

func TestFromConfig(t *testing.T) {
	base := config.Default().Feed.Reconnect

	p, err := FromConfig(base)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if _, ok := p.(ExponentialBackoff); !ok {
		t.Fatalf("expected exponential policy, got %T", p)
	}

	base.Policy = "linear"
	base.MaxAttempts = 2
	p, err = FromConfig(base)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if _, ok := p.(LinearBackoff); !ok || p.ShouldReconnect(2) {
		t.Fatalf("unexpected linear policy: %#v", p)
	}

	base.Policy = "Conservative"
	base.MaxAttempts = 0
	p, _ = FromConfig(base)
	if p.(ExponentialBackoff).MaxAttempts != 10 {
		t.Fatalf("conservative preset lost its attempt limit: %#v", p)
	}

	base.Policy = "random"
	if _, err := FromConfig(base); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

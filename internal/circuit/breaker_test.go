package circuit

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-bot/config"
)

func testBreakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		Enabled:              true,
		MaxConsecutiveLosses: 3,
		MaxDailyLossPct:      0.05,
		Cooldown:             time.Hour,
	}
}

func TestDisabledBreakerAlwaysAllows(t *testing.T) {
	b := New(config.BreakerConfig{}, zerolog.Nop())

	for i := 0; i < 10; i++ {
		b.RecordClose(-0.10)
	}
	if ok, _ := b.Allow(); !ok {
		t.Error("disabled breaker blocked trading")
	}
}

func TestConsecutiveLossesTrip(t *testing.T) {
	b := New(testBreakerConfig(), zerolog.Nop())

	b.RecordClose(-0.001)
	b.RecordClose(-0.001)
	if ok, _ := b.Allow(); !ok {
		t.Fatal("breaker tripped before the limit")
	}

	b.RecordClose(-0.001)
	ok, reason := b.Allow()
	if ok {
		t.Fatal("breaker did not trip at 3 consecutive losses")
	}
	if !strings.Contains(reason, "cooldown") {
		t.Errorf("reason = %q, want cooldown mention", reason)
	}
	if b.State() != StateOpen {
		t.Errorf("state = %s, want open", b.State())
	}
}

func TestWinResetsLossStreak(t *testing.T) {
	b := New(testBreakerConfig(), zerolog.Nop())

	b.RecordClose(-0.001)
	b.RecordClose(-0.001)
	b.RecordClose(0.002)
	b.RecordClose(-0.001)
	b.RecordClose(-0.001)

	if ok, _ := b.Allow(); !ok {
		t.Error("breaker tripped although a win reset the streak")
	}
}

func TestDailyLossTrip(t *testing.T) {
	b := New(testBreakerConfig(), zerolog.Nop())

	// Losses interleaved with wins so the streak never reaches 3, but the
	// daily total does cross 5%.
	b.RecordClose(-0.03)
	b.RecordClose(0.001)
	b.RecordClose(-0.03)

	if ok, _ := b.Allow(); ok {
		t.Error("breaker did not trip on accumulated daily loss")
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.MaxConsecutiveLosses = 1
	cfg.Cooldown = time.Millisecond
	b := New(cfg, zerolog.Nop())

	b.RecordClose(-0.001)
	if b.State() != StateOpen {
		t.Fatal("breaker did not trip")
	}

	time.Sleep(5 * time.Millisecond)
	if ok, reason := b.Allow(); !ok {
		t.Fatalf("breaker still blocking after cooldown: %s", reason)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}

	b.RecordClose(0.002)
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed after winning probe", b.State())
	}
}

func TestHalfOpenRelapse(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.MaxConsecutiveLosses = 1
	cfg.Cooldown = time.Millisecond
	b := New(cfg, zerolog.Nop())

	b.RecordClose(-0.001)
	time.Sleep(5 * time.Millisecond)
	if ok, _ := b.Allow(); !ok {
		t.Fatal("breaker still blocking after cooldown")
	}

	b.RecordClose(-0.001)
	if b.State() != StateOpen {
		t.Errorf("state = %s, want open after losing probe", b.State())
	}
}

func TestReset(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.MaxConsecutiveLosses = 1
	b := New(cfg, zerolog.Nop())

	b.RecordClose(-0.001)
	b.Reset()

	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed after reset", b.State())
	}
	if ok, _ := b.Allow(); !ok {
		t.Error("breaker blocking after manual reset")
	}
}

func TestOnTripCallback(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.MaxConsecutiveLosses = 1
	b := New(cfg, zerolog.Nop())

	tripped := make(chan string, 1)
	b.OnTrip(func(reason string) { tripped <- reason })

	b.RecordClose(-0.001)

	select {
	case reason := <-tripped:
		if !strings.Contains(reason, "consecutive") {
			t.Errorf("trip reason = %q", reason)
		}
	case <-time.After(time.Second):
		t.Error("OnTrip callback never fired")
	}
}

func TestInvalidResultsIgnored(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.MaxConsecutiveLosses = 1
	b := New(cfg, zerolog.Nop())

	b.RecordClose(math.NaN())
	b.RecordClose(math.Inf(-1))
	if b.State() != StateClosed {
		t.Error("invalid result mutated breaker state")
	}
}

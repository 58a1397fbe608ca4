// Package circuit halts new entries after sustained losses. Open positions
// keep being monitored; only fresh trades are blocked.
package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-bot/config"
)

type State string

const (
	StateClosed   State = "closed"    // trading allowed
	StateOpen     State = "open"      // trading halted
	StateHalfOpen State = "half_open" // cooldown passed, next close decides
)

// Breaker tracks realized trade results and trips when the configured loss
// limits are hit. Losses are measured as return on notional.
type Breaker struct {
	cfg    config.BreakerConfig
	logger zerolog.Logger
	onTrip func(reason string)

	mu                sync.Mutex
	state             State
	consecutiveLosses int
	dailyLoss         float64
	dailyResetAt      time.Time
	trippedAt         time.Time
	tripReason        string
}

// New returns a closed breaker. A disabled config yields a breaker that
// always allows trading.
func New(cfg config.BreakerConfig, logger zerolog.Logger) *Breaker {
	return &Breaker{
		cfg:          cfg,
		logger:       logger.With().Str("component", "breaker").Logger(),
		state:        StateClosed,
		dailyResetAt: nextMidnightUTC(time.Now()),
	}
}

// OnTrip registers a callback invoked whenever the breaker opens.
func (b *Breaker) OnTrip(handler func(reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

// Allow reports whether a new entry may be placed. When blocked, the second
// return value names the reason.
func (b *Breaker) Allow() (bool, string) {
	if !b.cfg.Enabled {
		return true, ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetDailyIfNeeded(time.Now())

	if b.state == StateOpen {
		elapsed := time.Since(b.trippedAt)
		if elapsed < b.cfg.Cooldown {
			remaining := (b.cfg.Cooldown - elapsed).Round(time.Second)
			return false, fmt.Sprintf("breaker open (%s), cooldown remaining %s", b.tripReason, remaining)
		}
		b.state = StateHalfOpen
		b.logger.Info().Msg("breaker cooldown passed, allowing a probe trade")
	}

	return true, ""
}

// RecordClose feeds a realized trade result into the breaker. pnlPct is the
// trade's return on notional, negative for a loss.
func (b *Breaker) RecordClose(pnlPct float64) {
	if !b.cfg.Enabled {
		return
	}
	if math.IsNaN(pnlPct) || math.IsInf(pnlPct, 0) {
		b.logger.Warn().Float64("pnl_pct", pnlPct).Msg("ignoring invalid trade result")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetDailyIfNeeded(time.Now())

	if pnlPct < 0 {
		b.consecutiveLosses++
		b.dailyLoss += -pnlPct
		b.checkAndTrip()
		return
	}

	b.consecutiveLosses = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.tripReason = ""
		b.logger.Info().Msg("breaker closed after winning probe trade")
	}
}

func (b *Breaker) checkAndTrip() {
	var reason string
	switch {
	case b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses:
		reason = fmt.Sprintf("%d consecutive losses", b.consecutiveLosses)
	case b.dailyLoss >= b.cfg.MaxDailyLossPct:
		reason = fmt.Sprintf("daily loss %.2f%% over limit %.2f%%", b.dailyLoss*100, b.cfg.MaxDailyLossPct*100)
	default:
		return
	}

	b.state = StateOpen
	b.trippedAt = time.Now()
	b.tripReason = reason
	b.logger.Warn().Str("reason", reason).Msg("circuit breaker tripped, halting new entries")

	if b.onTrip != nil {
		go b.onTrip(reason)
	}
}

// Reset manually closes the breaker and clears the loss counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveLosses = 0
	b.dailyLoss = 0
	b.tripReason = ""
	b.logger.Info().Msg("circuit breaker manually reset")
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats reports the breaker counters for the status API.
func (b *Breaker) Stats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := map[string]interface{}{
		"enabled":            b.cfg.Enabled,
		"state":              string(b.state),
		"consecutive_losses": b.consecutiveLosses,
		"daily_loss_pct":     b.dailyLoss,
	}
	if b.tripReason != "" {
		stats["trip_reason"] = b.tripReason
		stats["tripped_at"] = b.trippedAt
	}
	return stats
}

func (b *Breaker) resetDailyIfNeeded(now time.Time) {
	if now.Before(b.dailyResetAt) {
		return
	}
	b.dailyLoss = 0
	b.dailyResetAt = nextMidnightUTC(now)
}

func nextMidnightUTC(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}

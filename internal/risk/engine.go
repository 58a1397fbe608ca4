package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"futures-trading-bot/config"
	"futures-trading-bot/internal/binance"
	"futures-trading-bot/internal/strategy"
)

var (
	ErrMaxPositionsReached = errors.New("risk: max concurrent positions reached")
	ErrInvalidStopLoss     = errors.New("risk: stop loss on wrong side of entry")
	ErrInvalidTakeProfit   = errors.New("risk: take profit on wrong side of entry")
	ErrZeroQuantity        = errors.New("risk: position size rounds to zero")
	ErrBelowMinNotional    = errors.New("risk: order below minimum notional")
)

// Quantity step used when the exchange filter is not consulted.
const quantityStep = 0.001

// TradePlan is a fully sized and protected trade ready for execution.
type TradePlan struct {
	Symbol     string
	Direction  strategy.Direction
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Quantity   float64
	Warnings   []string
}

// Notional returns the plan's order value.
func (p TradePlan) Notional() float64 {
	return p.Entry * p.Quantity
}

// Engine applies the position sizing and protective-order rules.
type Engine struct {
	cfg    config.RiskConfig
	logger zerolog.Logger
}

// NewEngine creates a risk engine.
func NewEngine(cfg config.RiskConfig, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.With().Str("component", "risk_engine").Logger(),
	}
}

// StopLoss derives the stop from the previous completed entry-timeframe
// candle: its low for longs, its high for shorts. When the candle is missing
// or its level sits on the wrong side of entry, the fallback percentage stop
// is used instead.
func (e *Engine) StopLoss(direction strategy.Direction, entry float64, prevCandle *binance.Kline) float64 {
	fallback := e.fallbackStop(direction, entry)
	if prevCandle == nil {
		return fallback
	}

	var stop float64
	switch direction {
	case strategy.DirectionLong:
		stop = prevCandle.Low
		if stop >= entry {
			return fallback
		}
	case strategy.DirectionShort:
		stop = prevCandle.High
		if stop <= entry {
			return fallback
		}
	default:
		return fallback
	}
	return stop
}

func (e *Engine) fallbackStop(direction strategy.Direction, entry float64) float64 {
	if direction == strategy.DirectionShort {
		return entry * (1 + e.cfg.StopLossFallbackPct)
	}
	return entry * (1 - e.cfg.StopLossFallbackPct)
}

// TakeProfit places the target at the configured multiple of the stop
// distance beyond entry.
func (e *Engine) TakeProfit(direction strategy.Direction, entry, stopLoss float64) float64 {
	riskDistance := math.Abs(entry - stopLoss)
	if direction == strategy.DirectionShort {
		return entry - riskDistance*e.cfg.RiskRewardRatio
	}
	return entry + riskDistance*e.cfg.RiskRewardRatio
}

// PositionSize returns the quantity such that a stop-out loses at most
// MaxRiskPerTrade of balance, capped at MaxPositionFraction of balance.
// The result is quantized to the step size.
func (e *Engine) PositionSize(balance, entry, stopLoss float64) float64 {
	riskDistance := math.Abs(entry - stopLoss)
	if riskDistance <= 0 || entry <= 0 || balance <= 0 {
		return 0
	}

	riskQty := balance * e.cfg.MaxRiskPerTrade / riskDistance
	capQty := balance * e.cfg.MaxPositionFraction

	qty := math.Min(riskQty, capQty)
	// The small epsilon keeps exact multiples of the step from flooring one
	// step low due to float division.
	return math.Floor(qty/quantityStep+1e-6) * quantityStep
}

// BuildPlan sizes and validates a complete trade for the signal.
func (e *Engine) BuildPlan(sig strategy.Signal, balance float64, prevCandle *binance.Kline) (*TradePlan, error) {
	stop := e.StopLoss(sig.Direction, sig.Price, prevCandle)
	tp := e.TakeProfit(sig.Direction, sig.Price, stop)
	qty := e.PositionSize(balance, sig.Price, stop)

	plan := &TradePlan{
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		Entry:      sig.Price,
		StopLoss:   stop,
		TakeProfit: tp,
		Quantity:   qty,
	}

	if err := e.Validate(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// Validate rejects structurally broken plans and records warnings for plans
// that are legal but off-spec, such as a degraded reward ratio.
func (e *Engine) Validate(plan *TradePlan) error {
	if plan.Quantity <= 0 {
		return ErrZeroQuantity
	}

	switch plan.Direction {
	case strategy.DirectionLong:
		if plan.StopLoss >= plan.Entry {
			return fmt.Errorf("%w: stop %.4f entry %.4f", ErrInvalidStopLoss, plan.StopLoss, plan.Entry)
		}
		if plan.TakeProfit <= plan.Entry {
			return fmt.Errorf("%w: tp %.4f entry %.4f", ErrInvalidTakeProfit, plan.TakeProfit, plan.Entry)
		}
	case strategy.DirectionShort:
		if plan.StopLoss <= plan.Entry {
			return fmt.Errorf("%w: stop %.4f entry %.4f", ErrInvalidStopLoss, plan.StopLoss, plan.Entry)
		}
		if plan.TakeProfit >= plan.Entry {
			return fmt.Errorf("%w: tp %.4f entry %.4f", ErrInvalidTakeProfit, plan.TakeProfit, plan.Entry)
		}
	default:
		return fmt.Errorf("risk: cannot plan a %s signal", plan.Direction)
	}

	if plan.Notional() < e.cfg.MinNotional {
		return fmt.Errorf("%w: notional %.2f < %.2f", ErrBelowMinNotional, plan.Notional(), e.cfg.MinNotional)
	}

	riskDistance := math.Abs(plan.Entry - plan.StopLoss)
	rewardDistance := math.Abs(plan.TakeProfit - plan.Entry)
	if riskDistance > 0 {
		actualRR := rewardDistance / riskDistance
		if actualRR < e.cfg.RiskRewardRatio*0.9 {
			warning := fmt.Sprintf("reward ratio %.2f below configured %.2f", actualRR, e.cfg.RiskRewardRatio)
			plan.Warnings = append(plan.Warnings, warning)
			e.logger.Warn().
				Str("symbol", plan.Symbol).
				Float64("actual_rr", actualRR).
				Float64("configured_rr", e.cfg.RiskRewardRatio).
				Msg("trade plan has degraded reward ratio")
		}
	}

	return nil
}

// CheckPositionLimit reports whether another position may be opened.
func (e *Engine) CheckPositionLimit(openPositions int) error {
	if openPositions >= e.cfg.MaxConcurrentPositions {
		return fmt.Errorf("%w: %d open, limit %d",
			ErrMaxPositionsReached, openPositions, e.cfg.MaxConcurrentPositions)
	}
	return nil
}

// TrailingProposal is a proposed trailing-stop move.
type TrailingProposal struct {
	Armed     bool
	NewStop   float64
	ProfitPct float64
}

// ProposeTrailingStop arms the trailing stop once unrealized profit reaches
// the activation threshold and proposes a stop trailing the current price by
// the configured percentage. Monotonicity is the ledger's responsibility.
func (e *Engine) ProposeTrailingStop(direction strategy.Direction, entry, price float64) TrailingProposal {
	if entry <= 0 || price <= 0 {
		return TrailingProposal{}
	}

	var profitPct, newStop float64
	switch direction {
	case strategy.DirectionLong:
		profitPct = (price - entry) / entry
		newStop = price * (1 - e.cfg.TrailingStopPercent)
	case strategy.DirectionShort:
		profitPct = (entry - price) / entry
		newStop = price * (1 + e.cfg.TrailingStopPercent)
	default:
		return TrailingProposal{}
	}

	if profitPct < e.cfg.TrailingActivationPct {
		return TrailingProposal{ProfitPct: profitPct}
	}

	return TrailingProposal{
		Armed:     true,
		NewStop:   newStop,
		ProfitPct: profitPct,
	}
}

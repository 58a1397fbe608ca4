package risk

import (
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"futures-trading-bot/config"
	"futures-trading-bot/internal/binance"
	"futures-trading-bot/internal/strategy"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxRiskPerTrade:        0.01,
		MaxPositionFraction:    0.10,
		MaxConcurrentPositions: 2,
		RiskRewardRatio:        1.5,
		StopLossFallbackPct:    0.02,
		TrailingStopPercent:    0.0075,
		TrailingActivationPct:  0.0075,
		MinNotional:            2.0,
	}
}

func testRiskEngine() *Engine {
	return NewEngine(testRiskConfig(), zerolog.Nop())
}

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

// TestStopLoss covers the candle-derived stop and both fallback paths.
func TestStopLoss(t *testing.T) {
	engine := testRiskEngine()

	tests := []struct {
		name      string
		direction strategy.Direction
		entry     float64
		candle    *binance.Kline
		want      float64
	}{
		{"long uses prev candle low", strategy.DirectionLong, 100,
			&binance.Kline{Low: 98.5, High: 101}, 98.5},
		{"short uses prev candle high", strategy.DirectionShort, 100,
			&binance.Kline{Low: 99, High: 101.5}, 101.5},
		{"long fallback when low above entry", strategy.DirectionLong, 100,
			&binance.Kline{Low: 100.5, High: 102}, 98},
		{"short fallback when high below entry", strategy.DirectionShort, 100,
			&binance.Kline{Low: 98, High: 99.5}, 102},
		{"long fallback without candle", strategy.DirectionLong, 100, nil, 98},
		{"short fallback without candle", strategy.DirectionShort, 100, nil, 102},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.StopLoss(tt.direction, tt.entry, tt.candle)
			if !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("StopLoss = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestTakeProfit verifies the reward distance is the risk distance scaled by
// the configured ratio.
func TestTakeProfit(t *testing.T) {
	engine := testRiskEngine()

	// Long: entry 100, stop 98 -> risk 2, reward 3, target 103.
	if got := engine.TakeProfit(strategy.DirectionLong, 100, 98); !almostEqual(got, 103, 1e-9) {
		t.Errorf("long TakeProfit = %v, want 103", got)
	}
	// Short: entry 100, stop 102 -> target 97.
	if got := engine.TakeProfit(strategy.DirectionShort, 100, 102); !almostEqual(got, 97, 1e-9) {
		t.Errorf("short TakeProfit = %v, want 97", got)
	}
}

// TestPositionSize verifies the risk-based size and the balance-fraction cap.
func TestPositionSize(t *testing.T) {
	engine := testRiskEngine()

	tests := []struct {
		name    string
		balance float64
		entry   float64
		stop    float64
		want    float64
	}{
		// Risk qty: 1000*0.01/2 = 5. Cap: 1000*0.10 = 100. Risk wins.
		{"risk binds", 1000, 100, 98, 5},
		// Risk qty: 1000*0.01/0.01 = 1000. Cap: 1000*0.10 = 100. Cap wins.
		{"fraction cap binds", 1000, 100, 99.99, 100},
		// Risk qty: 10000*0.01/10 = 10. Cap: 10000*0.10 = 1000. Risk wins.
		{"wide stop", 10000, 100, 90, 10},
		{"zero risk distance", 10000, 100, 100, 0},
		{"zero balance", 0, 100, 99, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.PositionSize(tt.balance, tt.entry, tt.stop)
			if !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("PositionSize = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestPositionSizeWorkedExample pins the documented sizing arithmetic:
// risking 2% of a 1000 balance across a 2-point stop gives 10 units,
// comfortably inside the 100-unit fraction cap.
func TestPositionSizeWorkedExample(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxRiskPerTrade = 0.02
	engine := NewEngine(cfg, zerolog.Nop())

	// min(1000*0.02/2, 1000*0.10) = min(10, 100) = 10.
	if got := engine.PositionSize(1000, 100, 98); !almostEqual(got, 10, 1e-9) {
		t.Errorf("PositionSize = %v, want 10", got)
	}
}

// TestPositionSizeQuantized verifies rounding down to the step size.
func TestPositionSizeQuantized(t *testing.T) {
	engine := testRiskEngine()

	// Risk qty: 10000*0.01/3 = 33.333..., cap 10000*0.10 = 1000. The risk
	// qty binds and must floor to the step.
	got := engine.PositionSize(10000, 100, 97)
	want := math.Floor(10000*0.01/3/quantityStep) * quantityStep
	if !almostEqual(got, want, 1e-9) {
		t.Errorf("PositionSize = %v, want %v", got, want)
	}
	if got > 10000*0.01/3 {
		t.Error("quantized size exceeds the unquantized value")
	}
}

// TestValidate covers the structural rejection rules.
func TestValidate(t *testing.T) {
	engine := testRiskEngine()

	tests := []struct {
		name    string
		plan    TradePlan
		wantErr error
	}{
		{"valid long", TradePlan{Symbol: "BTCUSDT", Direction: strategy.DirectionLong,
			Entry: 100, StopLoss: 98, TakeProfit: 103, Quantity: 1}, nil},
		{"valid short", TradePlan{Symbol: "BTCUSDT", Direction: strategy.DirectionShort,
			Entry: 100, StopLoss: 102, TakeProfit: 97, Quantity: 1}, nil},
		{"zero quantity", TradePlan{Direction: strategy.DirectionLong,
			Entry: 100, StopLoss: 98, TakeProfit: 103}, ErrZeroQuantity},
		{"long stop above entry", TradePlan{Direction: strategy.DirectionLong,
			Entry: 100, StopLoss: 101, TakeProfit: 103, Quantity: 1}, ErrInvalidStopLoss},
		{"long tp below entry", TradePlan{Direction: strategy.DirectionLong,
			Entry: 100, StopLoss: 98, TakeProfit: 99, Quantity: 1}, ErrInvalidTakeProfit},
		{"short stop below entry", TradePlan{Direction: strategy.DirectionShort,
			Entry: 100, StopLoss: 99, TakeProfit: 97, Quantity: 1}, ErrInvalidStopLoss},
		{"short tp above entry", TradePlan{Direction: strategy.DirectionShort,
			Entry: 100, StopLoss: 102, TakeProfit: 101, Quantity: 1}, ErrInvalidTakeProfit},
		{"below min notional", TradePlan{Direction: strategy.DirectionLong,
			Entry: 100, StopLoss: 98, TakeProfit: 103, Quantity: 0.01}, ErrBelowMinNotional},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := tt.plan
			err := engine.Validate(&plan)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate returned %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestValidateDegradedRewardWarning verifies an off-spec reward ratio warns
// without rejecting the trade.
func TestValidateDegradedRewardWarning(t *testing.T) {
	engine := testRiskEngine()

	// Risk 2, reward 2 -> ratio 1.0, below 1.5*0.9.
	plan := &TradePlan{Symbol: "BTCUSDT", Direction: strategy.DirectionLong,
		Entry: 100, StopLoss: 98, TakeProfit: 102, Quantity: 1}
	if err := engine.Validate(plan); err != nil {
		t.Fatalf("Validate returned %v, want nil", err)
	}
	if len(plan.Warnings) == 0 {
		t.Error("expected a degraded reward ratio warning")
	}

	// Ratio exactly at configured value carries no warning.
	plan = &TradePlan{Symbol: "BTCUSDT", Direction: strategy.DirectionLong,
		Entry: 100, StopLoss: 98, TakeProfit: 103, Quantity: 1}
	if err := engine.Validate(plan); err != nil {
		t.Fatalf("Validate returned %v, want nil", err)
	}
	if len(plan.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", plan.Warnings)
	}
}

// TestCheckPositionLimit verifies the concurrent position gate.
func TestCheckPositionLimit(t *testing.T) {
	engine := testRiskEngine()

	if err := engine.CheckPositionLimit(0); err != nil {
		t.Errorf("CheckPositionLimit(0) = %v, want nil", err)
	}
	if err := engine.CheckPositionLimit(1); err != nil {
		t.Errorf("CheckPositionLimit(1) = %v, want nil", err)
	}
	if err := engine.CheckPositionLimit(2); !errors.Is(err, ErrMaxPositionsReached) {
		t.Errorf("CheckPositionLimit(2) = %v, want ErrMaxPositionsReached", err)
	}
}

// TestProposeTrailingStop verifies activation gating and the proposed level.
func TestProposeTrailingStop(t *testing.T) {
	engine := testRiskEngine()

	t.Run("long below activation", func(t *testing.T) {
		p := engine.ProposeTrailingStop(strategy.DirectionLong, 100, 100.5)
		if p.Armed {
			t.Errorf("armed at %.4f%% profit, activation is 0.75%%", p.ProfitPct*100)
		}
	})

	t.Run("long above activation", func(t *testing.T) {
		p := engine.ProposeTrailingStop(strategy.DirectionLong, 100, 100.8)
		if !p.Armed {
			t.Fatal("not armed at 0.8% profit")
		}
		// 100.8 * (1 - 0.0075) = 100.044
		if !almostEqual(p.NewStop, 100.044, 1e-9) {
			t.Errorf("NewStop = %v, want 100.044", p.NewStop)
		}
	})

	t.Run("short above activation", func(t *testing.T) {
		p := engine.ProposeTrailingStop(strategy.DirectionShort, 100, 99.2)
		if !p.Armed {
			t.Fatal("not armed at 0.8% profit")
		}
		// 99.2 * (1 + 0.0075) = 99.944
		if !almostEqual(p.NewStop, 99.944, 1e-9) {
			t.Errorf("NewStop = %v, want 99.944", p.NewStop)
		}
	})

	t.Run("losing long never arms", func(t *testing.T) {
		p := engine.ProposeTrailingStop(strategy.DirectionLong, 100, 99)
		if p.Armed {
			t.Error("armed on a losing position")
		}
	})
}

// TestBuildPlan exercises the full sizing pipeline.
func TestBuildPlan(t *testing.T) {
	engine := testRiskEngine()

	sig := strategy.Signal{Symbol: "BTCUSDT", Direction: strategy.DirectionLong, Price: 100}
	prev := &binance.Kline{Low: 99, High: 100.5}

	plan, err := engine.BuildPlan(sig, 10000, prev)
	if err != nil {
		t.Fatalf("BuildPlan returned %v", err)
	}

	if !almostEqual(plan.StopLoss, 99, 1e-9) {
		t.Errorf("StopLoss = %v, want 99", plan.StopLoss)
	}
	if !almostEqual(plan.TakeProfit, 101.5, 1e-9) {
		t.Errorf("TakeProfit = %v, want 101.5", plan.TakeProfit)
	}
	// Risk qty 10000*0.01/1 = 100, fraction cap 1000.
	if !almostEqual(plan.Quantity, 100, 1e-9) {
		t.Errorf("Quantity = %v, want 100", plan.Quantity)
	}
}

package strategy

import (
	"time"

	"github.com/rs/zerolog"

	"futures-trading-bot/config"
	"futures-trading-bot/internal/analysis"
)

// Direction is the trade direction a signal proposes.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionHold  Direction = "HOLD"
)

// TrendDirection classifies the higher-timeframe trend.
type TrendDirection string

const (
	TrendUp       TrendDirection = "UPTREND"
	TrendDown     TrendDirection = "DOWNTREND"
	TrendSideways TrendDirection = "SIDEWAYS"
)

// Signal is the outcome of evaluating one symbol.
type Signal struct {
	Symbol     string         `json:"symbol"`
	Direction  Direction      `json:"direction"`
	Confidence float64        `json:"confidence"`
	Price      float64        `json:"price"`
	Trend      TrendDirection `json:"trend"`
	RSI        float64        `json:"rsi"`
	MACD       float64        `json:"macd"`
	MACDSignal float64        `json:"macd_signal"`
	Reason     string         `json:"reason,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Engine evaluates multi-timeframe confluence signals.
type Engine struct {
	cfg    config.StrategyConfig
	logger zerolog.Logger
}

// NewEngine creates a signal engine with the given indicator parameters.
func NewEngine(cfg config.StrategyConfig, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.With().Str("component", "signal_engine").Logger(),
	}
}

// Evaluate computes the signal for a symbol from its higher-timeframe and
// entry-timeframe close series plus the current price. Both series must be
// ordered oldest to newest and contain only completed candles. A series too
// short for any indicator yields HOLD rather than an error.
func (e *Engine) Evaluate(symbol string, trendCloses, entryCloses []float64, price float64) Signal {
	sig := Signal{
		Symbol:    symbol,
		Direction: DirectionHold,
		Price:     price,
		Trend:     TrendSideways,
		Timestamp: time.Now(),
	}

	trendEMA, ok := analysis.CalculateEMA(trendCloses, e.cfg.TrendEMAPeriod)
	if !ok {
		sig.Reason = "insufficient trend candles"
		return sig
	}
	sig.Trend = classifyTrend(trendCloses[len(trendCloses)-1], trendEMA)

	entryEMASeries, ok := analysis.EMASeries(entryCloses, e.cfg.EntryEMAPeriod)
	if !ok || len(entryEMASeries) < 2 || len(entryCloses) < 2 {
		sig.Reason = "insufficient entry candles"
		return sig
	}

	rsi, ok := analysis.CalculateRSI(entryCloses, e.cfg.RSIPeriod)
	if !ok {
		sig.Reason = "insufficient candles for RSI"
		return sig
	}
	sig.RSI = rsi

	macd, ok := analysis.CalculateMACD(entryCloses,
		e.cfg.MACDFastPeriod, e.cfg.MACDSlowPeriod, e.cfg.MACDSignalPeriod)
	if !ok {
		sig.Reason = "insufficient candles for MACD"
		return sig
	}
	sig.MACD = macd.MACD
	sig.MACDSignal = macd.Signal

	currClose := entryCloses[len(entryCloses)-1]
	prevClose := entryCloses[len(entryCloses)-2]
	currEMA := entryEMASeries[len(entryEMASeries)-1]
	prevEMA := entryEMASeries[len(entryEMASeries)-2]

	bullishCross := currClose > currEMA && prevClose < prevEMA
	bearishCross := currClose < currEMA && prevClose > prevEMA

	longRSI := rsiInRange(rsi, e.cfg.RSIBuyEntry, e.cfg.RSIOverbought)
	shortRSI := rsiInRange(rsi, e.cfg.RSIOversold, e.cfg.RSISellEntry)

	// The entry gate only asks the MACD line to lead its signal line; the
	// line's own sign feeds confidence, not the gate.
	longMACD := macd.MACD > macd.Signal
	shortMACD := macd.MACD < macd.Signal

	switch {
	case sig.Trend == TrendUp && bullishCross && longRSI && longMACD:
		sig.Direction = DirectionLong
	case sig.Trend == TrendDown && bearishCross && shortRSI && shortMACD:
		sig.Direction = DirectionShort
	default:
		return sig
	}

	sig.Confidence = e.confidence(sig.Direction, sig.Trend, rsi, macd)

	e.logger.Info().
		Str("symbol", symbol).
		Str("direction", string(sig.Direction)).
		Float64("confidence", sig.Confidence).
		Float64("price", price).
		Float64("rsi", rsi).
		Str("trend", string(sig.Trend)).
		Msg("signal generated")

	return sig
}

// confidence scores a non-HOLD signal: trend agreement 0.3, RSI in the
// neutral 30-70 band 0.2, MACD agreement 0.3, direction decided 0.2,
// clipped to 1.0.
func (e *Engine) confidence(dir Direction, trend TrendDirection, rsi float64, macd analysis.MACDResult) float64 {
	score := 0.0

	if (dir == DirectionLong && trend == TrendUp) || (dir == DirectionShort && trend == TrendDown) {
		score += 0.3
	}
	if rsi > 30 && rsi < 70 {
		score += 0.2
	}
	if dir == DirectionLong && macd.MACD > macd.Signal && macd.MACD > 0 {
		score += 0.3
	} else if dir == DirectionShort && macd.MACD < macd.Signal && macd.MACD < 0 {
		score += 0.3
	}
	if dir != DirectionHold {
		score += 0.2
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// rsiInRange reports whether rsi sits inside the closed interval [lo, hi].
func rsiInRange(rsi, lo, hi float64) bool {
	return rsi >= lo && rsi <= hi
}

// classifyTrend compares the latest completed trend-timeframe close against
// the trend EMA. Only exact equality reads as sideways.
func classifyTrend(closePrice, ema float64) TrendDirection {
	switch {
	case closePrice > ema:
		return TrendUp
	case closePrice < ema:
		return TrendDown
	default:
		return TrendSideways
	}
}

// Package bot runs the trading cycle: analyze the configured symbols,
// execute qualifying signals, monitor open positions, sleep, repeat.
package bot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"futures-trading-bot/config"
	"futures-trading-bot/internal/binance"
	"futures-trading-bot/internal/circuit"
	"futures-trading-bot/internal/database"
	"futures-trading-bot/internal/market"
	"futures-trading-bot/internal/notification"
	"futures-trading-bot/internal/position"
	"futures-trading-bot/internal/risk"
	"futures-trading-bot/internal/strategy"
)

// staleness bound after which cached candles are refreshed over REST
const maxCandleAge = 5 * time.Minute

// Bot wires the engines together and drives the trading cycle.
type Bot struct {
	cfg      *config.Config
	client   binance.ExchangeClient
	cache    *market.Cache
	signals  *strategy.Engine
	risk     *risk.Engine
	ledger   *position.Ledger
	breaker  *circuit.Breaker
	notifier *notification.Manager
	journal  *database.Journal    // nil when no database is configured
	stream   *binance.KlineStream // nil in tests and dry setups
	logger   zerolog.Logger

	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	cycleCount atomic.Int64
	startedAt  time.Time
}

// New assembles a bot from its parts. journal and stream may be nil.
func New(cfg *config.Config, client binance.ExchangeClient, cache *market.Cache,
	signals *strategy.Engine, riskEngine *risk.Engine, ledger *position.Ledger,
	breaker *circuit.Breaker, notifier *notification.Manager, journal *database.Journal,
	stream *binance.KlineStream, logger zerolog.Logger) *Bot {

	b := &Bot{
		cfg:      cfg,
		client:   client,
		cache:    cache,
		signals:  signals,
		risk:     riskEngine,
		ledger:   ledger,
		breaker:  breaker,
		notifier: notifier,
		journal:  journal,
		stream:   stream,
		logger:   logger.With().Str("component", "bot").Logger(),
		stopChan: make(chan struct{}),
	}
	b.breaker.OnTrip(func(reason string) {
		b.notifier.SendError("Trading halted", reason)
	})
	return b
}

// Start prepares symbols, restores and reconciles the ledger, backfills the
// candle cache and launches the cycle loop. A reconciliation failure at
// startup is fatal: trading against an unknown exchange state is worse than
// not starting.
func (b *Bot) Start() error {
	b.startedAt = time.Now()

	b.setupSymbols()

	if err := b.ledger.Load(); err != nil {
		return fmt.Errorf("error restoring ledger: %w", err)
	}

	exchangePositions, err := b.client.GetOpenPositions()
	if err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}
	if _, err := b.ledger.Reconcile(exchangePositions); err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}

	b.backfillCandles()

	if b.stream != nil {
		b.stream.Start()
	}

	b.wg.Add(1)
	go b.run()

	b.logger.Info().
		Strs("symbols", b.cfg.TradingConfig.Symbols).
		Dur("cycle_interval", b.cfg.TradingConfig.CycleInterval).
		Bool("dry_run", b.cfg.TradingConfig.DryRun).
		Msg("bot started")
	b.notifier.SendInfo("Bot started",
		fmt.Sprintf("Trading %d symbols every %s", len(b.cfg.TradingConfig.Symbols), b.cfg.TradingConfig.CycleInterval))

	return nil
}

// Stop terminates the cycle loop, stops the stream and persists the ledger.
func (b *Bot) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()

	if b.stream != nil {
		b.stream.Stop()
	}
	if err := b.ledger.Persist(); err != nil {
		b.logger.Error().Err(err).Msg("error persisting ledger on shutdown")
	}

	b.logger.Info().Int64("cycles", b.cycleCount.Load()).Msg("bot stopped")
	b.notifier.SendInfo("Bot stopped", fmt.Sprintf("Completed %d cycles", b.cycleCount.Load()))
}

// Status reports runtime state for the status API.
func (b *Bot) Status() map[string]interface{} {
	status := map[string]interface{}{
		"running":        true,
		"started_at":     b.startedAt,
		"uptime_seconds": int(time.Since(b.startedAt).Seconds()),
		"cycle_count":    b.cycleCount.Load(),
		"open_positions": b.ledger.Count(),
		"symbols":        b.cfg.TradingConfig.Symbols,
		"dry_run":        b.cfg.TradingConfig.DryRun,
	}
	if b.stream != nil {
		status["stream_connected"] = b.stream.IsConnected()
	}
	status["breaker"] = b.breaker.Stats()
	return status
}

// OpenPositions exposes the ledger for the status API.
func (b *Bot) OpenPositions() []position.Position {
	return b.ledger.List()
}

func (b *Bot) run() {
	defer b.wg.Done()

	for {
		cycleStart := time.Now()
		b.RunCycle()

		elapsed := time.Since(cycleStart)
		sleep := b.cfg.TradingConfig.CycleInterval - elapsed
		if sleep < 0 {
			sleep = 0
		}

		select {
		case <-b.stopChan:
			return
		case <-time.After(sleep):
		}
	}
}

// RunCycle performs one full pass: analyze and execute for every symbol,
// then monitor open positions. A failure on one symbol never aborts the
// cycle for the others.
func (b *Bot) RunCycle() {
	count := b.cycleCount.Add(1)
	b.logger.Debug().Int64("cycle", count).Msg("cycle started")

	for _, symbol := range b.cfg.TradingConfig.Symbols {
		if b.stopping() {
			return
		}
		if err := b.processSymbol(symbol); err != nil {
			b.logger.Error().Str("symbol", symbol).Err(err).Msg("error processing symbol")
		}
	}

	b.monitorPositions()
}

func (b *Bot) stopping() bool {
	select {
	case <-b.stopChan:
		return true
	default:
		return false
	}
}

// setupSymbols applies leverage and margin type. Failures are logged and
// skipped; an already-configured symbol is not a reason to refuse to trade.
func (b *Bot) setupSymbols() {
	for _, symbol := range b.cfg.TradingConfig.Symbols {
		if err := b.client.SetLeverage(symbol, b.cfg.TradingConfig.Leverage); err != nil {
			b.logger.Warn().Str("symbol", symbol).Err(err).Msg("error setting leverage")
		}
		if err := b.client.SetMarginType(symbol, b.cfg.TradingConfig.MarginType); err != nil {
			b.logger.Warn().Str("symbol", symbol).Err(err).Msg("error setting margin type")
		}
	}
}

// backfillCandles fills the cache over REST so the first cycle has data even
// before the stream delivers anything.
func (b *Bot) backfillCandles() {
	intervals := []string{b.cfg.StrategyConfig.TrendInterval, b.cfg.StrategyConfig.EntryInterval}
	for _, symbol := range b.cfg.TradingConfig.Symbols {
		for _, interval := range intervals {
			klines, err := b.client.GetKlines(symbol, interval, b.cfg.StrategyConfig.CandleLimit)
			if err != nil {
				b.logger.Warn().Str("symbol", symbol).Str("interval", interval).Err(err).
					Msg("error backfilling candles")
				continue
			}
			b.cache.SetCandles(symbol, interval, klines)
		}
	}
}

// refreshCandles re-fetches a series when the cache is empty or stale.
func (b *Bot) refreshCandles(symbol, interval string) error {
	if age, ok := b.cache.Age(symbol, interval); ok && age < maxCandleAge {
		return nil
	}

	klines, err := b.client.GetKlines(symbol, interval, b.cfg.StrategyConfig.CandleLimit)
	if err != nil {
		return fmt.Errorf("error refreshing %s %s candles: %w", symbol, interval, err)
	}
	b.cache.SetCandles(symbol, interval, klines)
	return nil
}

// processSymbol evaluates one symbol and executes the signal if it qualifies.
func (b *Bot) processSymbol(symbol string) error {
	if err := b.refreshCandles(symbol, b.cfg.StrategyConfig.TrendInterval); err != nil {
		return err
	}
	if err := b.refreshCandles(symbol, b.cfg.StrategyConfig.EntryInterval); err != nil {
		return err
	}

	price, ok := b.cache.LastPrice(symbol)
	if !ok {
		var err error
		price, err = b.client.GetLastPrice(symbol)
		if err != nil {
			return fmt.Errorf("error fetching price: %w", err)
		}
		b.cache.SetLastPrice(symbol, price)
	}

	trendCloses := b.cache.ClosedCloses(symbol, b.cfg.StrategyConfig.TrendInterval)
	entryCloses := b.cache.ClosedCloses(symbol, b.cfg.StrategyConfig.EntryInterval)

	sig := b.signals.Evaluate(symbol, trendCloses, entryCloses, price)
	if sig.Direction == strategy.DirectionHold {
		return nil
	}
	if sig.Confidence < b.cfg.TradingConfig.ConfidenceThreshold {
		b.logger.Info().
			Str("symbol", symbol).
			Float64("confidence", sig.Confidence).
			Float64("threshold", b.cfg.TradingConfig.ConfidenceThreshold).
			Msg("signal below confidence threshold, skipping")
		return nil
	}

	return b.executeSignal(sig)
}

// executeSignal sizes, validates and places the trade with its protective
// orders, then records it in the ledger.
func (b *Bot) executeSignal(sig strategy.Signal) error {
	if _, exists := b.ledger.Get(sig.Symbol); exists {
		b.logger.Debug().Str("symbol", sig.Symbol).Msg("position already open, skipping signal")
		return nil
	}
	if err := b.risk.CheckPositionLimit(b.openPositionCount()); err != nil {
		b.logger.Info().Str("symbol", sig.Symbol).Err(err).Msg("skipping signal")
		return nil
	}
	if ok, reason := b.breaker.Allow(); !ok {
		b.logger.Info().Str("symbol", sig.Symbol).Str("reason", reason).Msg("skipping signal")
		return nil
	}

	balance, err := b.client.GetBalance()
	if err != nil {
		return fmt.Errorf("error fetching balance: %w", err)
	}

	plan, err := b.risk.BuildPlan(sig, balance, b.lastClosedCandle(sig.Symbol))
	if err != nil {
		b.logger.Info().Str("symbol", sig.Symbol).Err(err).Msg("signal rejected by risk engine")
		return nil
	}

	entrySide, exitSide := binance.SideBuy, binance.SideSell
	if plan.Direction == strategy.DirectionShort {
		entrySide, exitSide = binance.SideSell, binance.SideBuy
	}

	entryOrderID := "bot-" + uuid.New().String()

	if !b.cfg.TradingConfig.DryRun {
		if _, err := b.client.PlaceOrder(binance.OrderParams{
			Symbol:        plan.Symbol,
			Side:          entrySide,
			Type:          binance.OrderTypeMarket,
			Quantity:      plan.Quantity,
			ClientOrderID: entryOrderID,
		}); err != nil {
			return fmt.Errorf("error placing entry order: %w", err)
		}
	}

	side := position.SideLong
	if plan.Direction == strategy.DirectionShort {
		side = position.SideShort
	}

	// The entry is filled; record the position before anything else can fail
	// so the ledger never loses track of live exposure.
	if err := b.ledger.Open(position.Position{
		Symbol:       plan.Symbol,
		Side:         side,
		EntryPrice:   plan.Entry,
		Quantity:     plan.Quantity,
		StopLoss:     plan.StopLoss,
		TakeProfit:   plan.TakeProfit,
		EntryOrderID: entryOrderID,
	}); err != nil {
		return fmt.Errorf("error recording position: %w", err)
	}

	if !b.cfg.TradingConfig.DryRun {
		if err := b.placeProtectiveOrders(plan.Symbol, exitSide, plan.StopLoss, plan.TakeProfit); err != nil {
			b.notifier.SendError("Unprotected position",
				fmt.Sprintf("%s entry filled but protective orders failed: %v", plan.Symbol, err))
			return err
		}
	}

	b.notifier.SendTradeOpened(plan.Symbol, string(side), plan.Entry, plan.Quantity, plan.StopLoss, plan.TakeProfit)
	return nil
}

// openPositionCount gates new entries on what the exchange reports open, not
// just what the ledger tracks, so positions opened outside the bot still count
// against the limit. The ledger stands in when there is no live exchange.
func (b *Bot) openPositionCount() int {
	if b.cfg.TradingConfig.DryRun {
		return b.ledger.Count()
	}
	positions, err := b.client.GetOpenPositions()
	if err != nil {
		b.logger.Warn().Err(err).Msg("error counting exchange positions, falling back to ledger")
		return b.ledger.Count()
	}
	return len(positions)
}

func (b *Bot) placeProtectiveOrders(symbol string, exitSide binance.OrderSide, stopLoss, takeProfit float64) error {
	if _, err := b.client.PlaceOrder(binance.OrderParams{
		Symbol:        symbol,
		Side:          exitSide,
		Type:          binance.OrderTypeStopMarket,
		StopPrice:     stopLoss,
		ClosePosition: true,
		ClientOrderID: "sl-" + uuid.New().String(),
	}); err != nil {
		return fmt.Errorf("error placing stop loss: %w", err)
	}

	// Adopted positions have no take profit; only place one when it exists.
	if takeProfit > 0 {
		if _, err := b.client.PlaceOrder(binance.OrderParams{
			Symbol:        symbol,
			Side:          exitSide,
			Type:          binance.OrderTypeTakeProfitMarket,
			StopPrice:     takeProfit,
			ClosePosition: true,
			ClientOrderID: "tp-" + uuid.New().String(),
		}); err != nil {
			return fmt.Errorf("error placing take profit: %w", err)
		}
	}

	return nil
}

// monitorPositions refreshes prices, detects exchange-side closes and
// ratchets trailing stops.
func (b *Bot) monitorPositions() {
	open := b.ledger.List()
	if len(open) == 0 {
		return
	}

	exchangeOpen := make(map[string]bool)
	if !b.cfg.TradingConfig.DryRun {
		positions, err := b.client.GetOpenPositions()
		if err != nil {
			b.logger.Error().Err(err).Msg("error fetching exchange positions, skipping close detection")
			exchangeOpen = nil
		} else {
			for _, p := range positions {
				exchangeOpen[p.Symbol] = true
			}
		}
	}

	for _, pos := range open {
		if b.stopping() {
			return
		}
		if err := b.monitorPosition(pos, exchangeOpen); err != nil {
			b.logger.Error().Str("symbol", pos.Symbol).Err(err).Msg("error monitoring position")
		}
	}
}

func (b *Bot) monitorPosition(pos position.Position, exchangeOpen map[string]bool) error {
	price, ok := b.cache.LastPrice(pos.Symbol)
	if !ok {
		var err error
		price, err = b.client.GetLastPrice(pos.Symbol)
		if err != nil {
			return fmt.Errorf("error fetching price: %w", err)
		}
		b.cache.SetLastPrice(pos.Symbol, price)
	}

	// A stop or take profit filled on the exchange shows up as the position
	// disappearing from positionRisk.
	if exchangeOpen != nil && !b.cfg.TradingConfig.DryRun && !exchangeOpen[pos.Symbol] {
		return b.closePosition(pos.Symbol, price, "exchange_close")
	}

	if err := b.ledger.UpdateMarketPrice(pos.Symbol, price); err != nil {
		return err
	}

	direction := strategy.DirectionLong
	if pos.Side == position.SideShort {
		direction = strategy.DirectionShort
	}

	proposal := b.risk.ProposeTrailingStop(direction, pos.EntryPrice, price)
	if !proposal.Armed {
		return nil
	}

	if err := b.ledger.ActivateTrailing(pos.Symbol); err != nil {
		return err
	}

	moved, err := b.ledger.ApplyTrailingStop(pos.Symbol, proposal.NewStop)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	updated, _ := b.ledger.Get(pos.Symbol)
	if !b.cfg.TradingConfig.DryRun {
		if err := b.replaceProtectiveOrders(updated); err != nil {
			return err
		}
	}

	b.notifier.SendTrailingUpdate(pos.Symbol, pos.StopLoss, updated.StopLoss, price)
	return nil
}

// replaceProtectiveOrders cancels the symbol's open orders and re-places the
// stop and take profit at the ledger's current levels.
func (b *Bot) replaceProtectiveOrders(pos position.Position) error {
	if err := b.client.CancelAllOrders(pos.Symbol); err != nil {
		return fmt.Errorf("error canceling protective orders: %w", err)
	}

	exitSide := binance.SideSell
	if pos.Side == position.SideShort {
		exitSide = binance.SideBuy
	}
	return b.placeProtectiveOrders(pos.Symbol, exitSide, pos.StopLoss, pos.TakeProfit)
}

// closePosition removes the position from the ledger, cancels leftover
// orders, journals the trade and notifies.
func (b *Bot) closePosition(symbol string, exitPrice float64, reason string) error {
	closed, err := b.ledger.Close(symbol, exitPrice, reason)
	if err != nil {
		return err
	}
	if closed == nil {
		// Already gone from the ledger; nothing to journal or report.
		return nil
	}

	if notional := closed.EntryPrice * closed.Quantity; notional > 0 {
		b.breaker.RecordClose(closed.RealizedPnL / notional)
	}

	if !b.cfg.TradingConfig.DryRun {
		if err := b.client.CancelAllOrders(symbol); err != nil {
			b.logger.Warn().Str("symbol", symbol).Err(err).Msg("error canceling leftover orders")
		}
	}

	if b.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.journal.RecordClose(ctx, closed); err != nil {
			b.logger.Error().Str("symbol", symbol).Err(err).Msg("error journaling trade")
		}
	}

	b.notifier.SendTradeClosed(symbol, closed.EntryPrice, exitPrice, closed.RealizedPnL, reason)
	return nil
}

// lastClosedCandle returns the most recent completed entry-interval candle,
// used to derive the initial stop.
func (b *Bot) lastClosedCandle(symbol string) *binance.Kline {
	candles := b.cache.Candles(symbol, b.cfg.StrategyConfig.EntryInterval)
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].IsClosed {
			k := candles[i]
			return &k
		}
	}
	return nil
}

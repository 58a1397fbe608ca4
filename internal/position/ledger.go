// Package position tracks open positions: one per symbol, with monotonic
// trailing stops and persistence across restarts.
package position

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-bot/internal/binance"
)

var (
	ErrPositionExists   = errors.New("position already open for symbol")
	ErrPositionNotFound = errors.New("position not found")
)

// Side is the position direction.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Position is one open trade.
type Position struct {
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	EntryPrice     float64   `json:"entry_price"`
	Quantity       float64   `json:"quantity"`
	StopLoss       float64   `json:"stop_loss"`
	TakeProfit     float64   `json:"take_profit"`
	EntryTime      time.Time `json:"entry_time"`
	MarkPrice      float64   `json:"mark_price"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
	MaxProfitPct   float64   `json:"max_profit_pct"`
	TrailingActive bool      `json:"trailing_active"`
	EntryOrderID   string    `json:"entry_order_id,omitempty"`
}

// ClosedPosition is the record produced when a position is closed.
type ClosedPosition struct {
	Position
	ExitPrice   float64   `json:"exit_price"`
	ExitTime    time.Time `json:"exit_time"`
	RealizedPnL float64   `json:"realized_pnl"`
	CloseReason string    `json:"close_reason"`
}

// pnl computes the profit of the position at price.
func (p *Position) pnl(price float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

// profitPct is the favorable excursion of price relative to entry.
func (p *Position) profitPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	if p.Side == SideShort {
		return (p.EntryPrice - price) / p.EntryPrice
	}
	return (price - p.EntryPrice) / p.EntryPrice
}

// Store persists the set of open positions.
type Store interface {
	Save(positions []Position) error
	Load() ([]Position, error)
}

// ReconcileResult summarizes what a reconciliation changed.
type ReconcileResult struct {
	Adopted []string // symbols taken over from the exchange
	Dropped []string // local symbols the exchange no longer reports
	Kept    []string // symbols present on both sides
}

// Ledger holds the open positions. All methods are safe for concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*Position
	store     Store
	logger    zerolog.Logger
}

// NewLedger creates an empty ledger backed by store. A nil store disables
// persistence.
func NewLedger(store Store, logger zerolog.Logger) *Ledger {
	return &Ledger{
		positions: make(map[string]*Position),
		store:     store,
		logger:    logger.With().Str("component", "position_ledger").Logger(),
	}
}

// Open records a new position. At most one position may be open per symbol.
func (l *Ledger) Open(pos Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.positions[pos.Symbol]; exists {
		return fmt.Errorf("%w: %s", ErrPositionExists, pos.Symbol)
	}

	if pos.EntryTime.IsZero() {
		pos.EntryTime = time.Now()
	}
	pos.MarkPrice = pos.EntryPrice
	p := pos
	l.positions[pos.Symbol] = &p

	l.logger.Info().
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Float64("entry", pos.EntryPrice).
		Float64("quantity", pos.Quantity).
		Float64("stop_loss", pos.StopLoss).
		Float64("take_profit", pos.TakeProfit).
		Msg("position opened")

	return l.persistLocked()
}

// Close removes the position and returns the closed record. Closing a symbol
// that is not tracked logs a warning and returns a nil record, so callers can
// reconcile against the exchange without racing themselves.
func (l *Ledger) Close(symbol string, exitPrice float64, reason string) (*ClosedPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		l.logger.Warn().Str("symbol", symbol).Msg("close requested for untracked symbol")
		return nil, nil
	}
	delete(l.positions, symbol)

	closed := &ClosedPosition{
		Position:    *pos,
		ExitPrice:   exitPrice,
		ExitTime:    time.Now(),
		RealizedPnL: pos.pnl(exitPrice),
		CloseReason: reason,
	}

	l.logger.Info().
		Str("symbol", symbol).
		Float64("exit", exitPrice).
		Float64("pnl", closed.RealizedPnL).
		Str("reason", reason).
		Msg("position closed")

	if err := l.persistLocked(); err != nil {
		return closed, err
	}
	return closed, nil
}

// Get returns a copy of the open position for symbol.
func (l *Ledger) Get(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// List returns copies of all open positions.
func (l *Ledger) List() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// Count returns the number of open positions.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// UpdateMarketPrice refreshes the mark price, unrealized PnL and the
// max-favorable-excursion high-water mark.
func (l *Ledger) UpdateMarketPrice(symbol string, price float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, symbol)
	}

	pos.MarkPrice = price
	pos.UnrealizedPnL = pos.pnl(price)
	if pct := pos.profitPct(price); pct > pos.MaxProfitPct {
		pos.MaxProfitPct = pct
	}
	return nil
}

// ActivateTrailing latches the trailing flag on. The latch is one-way: once
// active it stays active until the position closes.
func (l *Ledger) ActivateTrailing(symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, symbol)
	}
	if !pos.TrailingActive {
		pos.TrailingActive = true
		l.logger.Info().Str("symbol", symbol).Msg("trailing stop activated")
	}
	return nil
}

// ApplyTrailingStop moves the stop only in the protective direction: up for
// longs, down for shorts. It reports whether the stop actually moved.
func (l *Ledger) ApplyTrailingStop(symbol string, proposed float64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrPositionNotFound, symbol)
	}
	if !pos.TrailingActive {
		return false, nil
	}

	improves := false
	switch pos.Side {
	case SideLong:
		improves = proposed > pos.StopLoss
	case SideShort:
		improves = proposed < pos.StopLoss || pos.StopLoss == 0
	}
	if !improves {
		return false, nil
	}

	old := pos.StopLoss
	pos.StopLoss = proposed
	l.logger.Info().
		Str("symbol", symbol).
		Float64("old_stop", old).
		Float64("new_stop", proposed).
		Msg("trailing stop moved")

	return true, l.persistLocked()
}

// Reconcile replaces the ledger contents with the exchange's view. Adopted
// positions have no stop loss or take profit: the exchange does not report
// them, and guessing protective levels is worse than flagging their absence.
func (l *Ledger) Reconcile(exchange []binance.ExchangePosition) (*ReconcileResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := &ReconcileResult{}
	next := make(map[string]*Position, len(exchange))

	for _, ex := range exchange {
		if ex.PositionAmt == 0 {
			continue
		}

		side := SideLong
		qty := ex.PositionAmt
		if qty < 0 {
			side = SideShort
			qty = -qty
		}

		if local, ok := l.positions[ex.Symbol]; ok && local.Side == side {
			// Same position both sides: keep local stop/TP state, adopt
			// the exchange's quantity and entry.
			p := *local
			p.Quantity = qty
			p.EntryPrice = ex.EntryPrice
			p.MarkPrice = ex.MarkPrice
			p.UnrealizedPnL = p.pnl(ex.MarkPrice)
			next[ex.Symbol] = &p
			result.Kept = append(result.Kept, ex.Symbol)
			continue
		}

		next[ex.Symbol] = &Position{
			Symbol:     ex.Symbol,
			Side:       side,
			EntryPrice: ex.EntryPrice,
			Quantity:   qty,
			StopLoss:   0,
			TakeProfit: 0,
			EntryTime:  time.UnixMilli(ex.UpdateTime),
			MarkPrice:  ex.MarkPrice,
		}
		next[ex.Symbol].UnrealizedPnL = next[ex.Symbol].pnl(ex.MarkPrice)
		result.Adopted = append(result.Adopted, ex.Symbol)
	}

	for symbol := range l.positions {
		if _, ok := next[symbol]; !ok {
			result.Dropped = append(result.Dropped, symbol)
		}
	}

	l.positions = next

	l.logger.Info().
		Strs("adopted", result.Adopted).
		Strs("dropped", result.Dropped).
		Strs("kept", result.Kept).
		Int("open", len(next)).
		Msg("ledger reconciled with exchange")

	return result, l.persistLocked()
}

// Load restores the ledger from the store. A missing state file yields an
// empty ledger; corrupt state is an error.
func (l *Ledger) Load() error {
	if l.store == nil {
		return nil
	}

	positions, err := l.store.Load()
	if err != nil {
		return fmt.Errorf("error loading position state: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = make(map[string]*Position, len(positions))
	for i := range positions {
		p := positions[i]
		l.positions[p.Symbol] = &p
	}

	l.logger.Info().Int("positions", len(positions)).Msg("position state loaded")
	return nil
}

// Persist writes the current open positions to the store.
func (l *Ledger) Persist() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.persistLocked()
}

func (l *Ledger) persistLocked() error {
	if l.store == nil {
		return nil
	}

	positions := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		positions = append(positions, *p)
	}
	if err := l.store.Save(positions); err != nil {
		l.logger.Error().Err(err).Msg("error persisting position state")
		return err
	}
	return nil
}

package position

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"futures-trading-bot/internal/binance"
)

func testLedger() *Ledger {
	return NewLedger(nil, zerolog.Nop())
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9
}

// TestOpenRejectsDuplicate verifies the one-position-per-symbol rule.
func TestOpenRejectsDuplicate(t *testing.T) {
	ledger := testLedger()

	pos := Position{Symbol: "BTCUSDT", Side: SideLong, EntryPrice: 60000, Quantity: 0.01}
	if err := ledger.Open(pos); err != nil {
		t.Fatalf("first Open returned %v", err)
	}
	if err := ledger.Open(pos); !errors.Is(err, ErrPositionExists) {
		t.Errorf("second Open = %v, want ErrPositionExists", err)
	}

	// A different symbol is fine.
	if err := ledger.Open(Position{Symbol: "ETHUSDT", Side: SideShort, EntryPrice: 3000, Quantity: 0.1}); err != nil {
		t.Errorf("Open for second symbol returned %v", err)
	}
	if ledger.Count() != 2 {
		t.Errorf("Count = %d, want 2", ledger.Count())
	}
}

// TestCloseComputesRealizedPnL checks both directions.
func TestCloseComputesRealizedPnL(t *testing.T) {
	ledger := testLedger()

	ledger.Open(Position{Symbol: "BTCUSDT", Side: SideLong, EntryPrice: 100, Quantity: 2})
	closed, err := ledger.Close("BTCUSDT", 110, "take_profit")
	if err != nil {
		t.Fatalf("Close returned %v", err)
	}
	if !almostEqual(closed.RealizedPnL, 20) {
		t.Errorf("long RealizedPnL = %v, want 20", closed.RealizedPnL)
	}
	if closed.CloseReason != "take_profit" {
		t.Errorf("CloseReason = %q, want take_profit", closed.CloseReason)
	}
	if _, exists := ledger.Get("BTCUSDT"); exists {
		t.Error("position still in ledger after close")
	}

	ledger.Open(Position{Symbol: "ETHUSDT", Side: SideShort, EntryPrice: 100, Quantity: 2})
	closed, err = ledger.Close("ETHUSDT", 90, "stop_loss")
	if err != nil {
		t.Fatalf("Close returned %v", err)
	}
	if !almostEqual(closed.RealizedPnL, 20) {
		t.Errorf("short RealizedPnL = %v, want 20", closed.RealizedPnL)
	}

}

// TestCloseUntrackedSymbolIsNoOp verifies closing a symbol the ledger never
// opened warns and returns nothing instead of failing.
func TestCloseUntrackedSymbolIsNoOp(t *testing.T) {
	ledger := testLedger()

	closed, err := ledger.Close("XRPUSDT", 1, "manual")
	if err != nil {
		t.Fatalf("Close on untracked symbol returned %v, want nil", err)
	}
	if closed != nil {
		t.Errorf("Close on untracked symbol returned record %+v, want nil", closed)
	}
}

// TestUpdateMarketPriceTracksExcursion verifies PnL refresh and the
// max-favorable-excursion high-water mark.
func TestUpdateMarketPriceTracksExcursion(t *testing.T) {
	ledger := testLedger()
	ledger.Open(Position{Symbol: "BTCUSDT", Side: SideLong, EntryPrice: 100, Quantity: 1})

	ledger.UpdateMarketPrice("BTCUSDT", 105)
	pos, _ := ledger.Get("BTCUSDT")
	if !almostEqual(pos.UnrealizedPnL, 5) {
		t.Errorf("UnrealizedPnL = %v, want 5", pos.UnrealizedPnL)
	}
	if !almostEqual(pos.MaxProfitPct, 0.05) {
		t.Errorf("MaxProfitPct = %v, want 0.05", pos.MaxProfitPct)
	}

	// A pullback lowers PnL but never the high-water mark.
	ledger.UpdateMarketPrice("BTCUSDT", 102)
	pos, _ = ledger.Get("BTCUSDT")
	if !almostEqual(pos.UnrealizedPnL, 2) {
		t.Errorf("UnrealizedPnL after pullback = %v, want 2", pos.UnrealizedPnL)
	}
	if !almostEqual(pos.MaxProfitPct, 0.05) {
		t.Errorf("MaxProfitPct after pullback = %v, want 0.05", pos.MaxProfitPct)
	}
}

// TestTrailingActivationIsOneWay verifies the latch never resets while the
// position lives.
func TestTrailingActivationIsOneWay(t *testing.T) {
	ledger := testLedger()
	ledger.Open(Position{Symbol: "BTCUSDT", Side: SideLong, EntryPrice: 100, Quantity: 1, StopLoss: 99})

	if err := ledger.ActivateTrailing("BTCUSDT"); err != nil {
		t.Fatalf("ActivateTrailing returned %v", err)
	}
	pos, _ := ledger.Get("BTCUSDT")
	if !pos.TrailingActive {
		t.Fatal("TrailingActive not set")
	}

	// Activating again is a no-op, not an error.
	if err := ledger.ActivateTrailing("BTCUSDT"); err != nil {
		t.Errorf("second ActivateTrailing returned %v", err)
	}
	pos, _ = ledger.Get("BTCUSDT")
	if !pos.TrailingActive {
		t.Error("TrailingActive reset by second activation")
	}
}

// TestApplyTrailingStopMonotonic verifies stops only ever tighten.
func TestApplyTrailingStopMonotonic(t *testing.T) {
	t.Run("long only moves up", func(t *testing.T) {
		ledger := testLedger()
		ledger.Open(Position{Symbol: "BTCUSDT", Side: SideLong, EntryPrice: 100, Quantity: 1, StopLoss: 99})
		ledger.ActivateTrailing("BTCUSDT")

		moved, err := ledger.ApplyTrailingStop("BTCUSDT", 100.044)
		if err != nil || !moved {
			t.Fatalf("ApplyTrailingStop = (%v, %v), want (true, nil)", moved, err)
		}

		// A lower proposal is refused.
		moved, err = ledger.ApplyTrailingStop("BTCUSDT", 99.5)
		if err != nil {
			t.Fatalf("ApplyTrailingStop returned %v", err)
		}
		if moved {
			t.Error("stop moved down on a long position")
		}
		pos, _ := ledger.Get("BTCUSDT")
		if !almostEqual(pos.StopLoss, 100.044) {
			t.Errorf("StopLoss = %v, want 100.044", pos.StopLoss)
		}
	})

	t.Run("short only moves down", func(t *testing.T) {
		ledger := testLedger()
		ledger.Open(Position{Symbol: "ETHUSDT", Side: SideShort, EntryPrice: 100, Quantity: 1, StopLoss: 101})
		ledger.ActivateTrailing("ETHUSDT")

		moved, _ := ledger.ApplyTrailingStop("ETHUSDT", 99.944)
		if !moved {
			t.Fatal("stop did not move down on a short position")
		}
		moved, _ = ledger.ApplyTrailingStop("ETHUSDT", 100.5)
		if moved {
			t.Error("stop moved up on a short position")
		}
	})

	t.Run("inactive trailing never moves", func(t *testing.T) {
		ledger := testLedger()
		ledger.Open(Position{Symbol: "BTCUSDT", Side: SideLong, EntryPrice: 100, Quantity: 1, StopLoss: 99})

		moved, err := ledger.ApplyTrailingStop("BTCUSDT", 100.5)
		if err != nil {
			t.Fatalf("ApplyTrailingStop returned %v", err)
		}
		if moved {
			t.Error("stop moved while trailing inactive")
		}
	})
}

// TestReconcile verifies the ledger adopts the exchange view: unknown
// positions appear with zeroed protective levels, stale locals drop, and
// matching locals keep their stop state.
func TestReconcile(t *testing.T) {
	ledger := testLedger()
	ledger.Open(Position{Symbol: "ETHUSDT", Side: SideLong, EntryPrice: 3000, Quantity: 1, StopLoss: 2900})
	ledger.Open(Position{Symbol: "XRPUSDT", Side: SideLong, EntryPrice: 2, Quantity: 100, StopLoss: 1.9})

	result, err := ledger.Reconcile([]binance.ExchangePosition{
		{Symbol: "BTCUSDT", PositionAmt: 0.01, EntryPrice: 60000, MarkPrice: 60500},
		{Symbol: "ETHUSDT", PositionAmt: 1, EntryPrice: 3000, MarkPrice: 3050},
	})
	if err != nil {
		t.Fatalf("Reconcile returned %v", err)
	}

	if len(result.Adopted) != 1 || result.Adopted[0] != "BTCUSDT" {
		t.Errorf("Adopted = %v, want [BTCUSDT]", result.Adopted)
	}
	if len(result.Dropped) != 1 || result.Dropped[0] != "XRPUSDT" {
		t.Errorf("Dropped = %v, want [XRPUSDT]", result.Dropped)
	}
	if len(result.Kept) != 1 || result.Kept[0] != "ETHUSDT" {
		t.Errorf("Kept = %v, want [ETHUSDT]", result.Kept)
	}

	// Adopted position: exchange truth, no invented stop or target.
	btc, ok := ledger.Get("BTCUSDT")
	if !ok {
		t.Fatal("adopted position missing")
	}
	if btc.Side != SideLong || !almostEqual(btc.EntryPrice, 60000) || !almostEqual(btc.Quantity, 0.01) {
		t.Errorf("adopted position = %+v", btc)
	}
	if btc.StopLoss != 0 || btc.TakeProfit != 0 {
		t.Errorf("adopted position has invented protective levels: SL=%v TP=%v", btc.StopLoss, btc.TakeProfit)
	}

	// Kept position retains its local stop.
	eth, _ := ledger.Get("ETHUSDT")
	if !almostEqual(eth.StopLoss, 2900) {
		t.Errorf("kept position StopLoss = %v, want 2900", eth.StopLoss)
	}

	if _, ok := ledger.Get("XRPUSDT"); ok {
		t.Error("dropped position still present")
	}
}

// TestReconcileShortSide verifies a negative position amount becomes a short.
func TestReconcileShortSide(t *testing.T) {
	ledger := testLedger()

	if _, err := ledger.Reconcile([]binance.ExchangePosition{
		{Symbol: "SOLUSDT", PositionAmt: -5, EntryPrice: 150, MarkPrice: 148},
	}); err != nil {
		t.Fatalf("Reconcile returned %v", err)
	}

	sol, ok := ledger.Get("SOLUSDT")
	if !ok {
		t.Fatal("short position missing")
	}
	if sol.Side != SideShort {
		t.Errorf("Side = %s, want SHORT", sol.Side)
	}
	if !almostEqual(sol.Quantity, 5) {
		t.Errorf("Quantity = %v, want 5 (absolute)", sol.Quantity)
	}
	if !almostEqual(sol.UnrealizedPnL, 10) {
		t.Errorf("UnrealizedPnL = %v, want 10", sol.UnrealizedPnL)
	}
}

// TestFileStoreRoundTrip verifies save/load through the atomic file store.
func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "positions.json"))

	ledger := NewLedger(store, zerolog.Nop())
	ledger.Open(Position{Symbol: "BTCUSDT", Side: SideLong, EntryPrice: 60000, Quantity: 0.01, StopLoss: 59000, TakeProfit: 61500})
	ledger.ActivateTrailing("BTCUSDT")
	if err := ledger.Persist(); err != nil {
		t.Fatalf("Persist returned %v", err)
	}

	restored := NewLedger(store, zerolog.Nop())
	if err := restored.Load(); err != nil {
		t.Fatalf("Load returned %v", err)
	}

	pos, ok := restored.Get("BTCUSDT")
	if !ok {
		t.Fatal("position missing after reload")
	}
	if !pos.TrailingActive {
		t.Error("TrailingActive lost across restart")
	}
	if !almostEqual(pos.StopLoss, 59000) || !almostEqual(pos.TakeProfit, 61500) {
		t.Errorf("protective levels changed across restart: %+v", pos)
	}
}

// TestFileStoreMissingFile verifies a fresh start is not an error.
func TestFileStoreMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope.json"))
	positions, err := store.Load()
	if err != nil {
		t.Fatalf("Load of missing file returned %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("Load of missing file returned %d positions", len(positions))
	}
}

// TestFileStoreCorruptFile verifies malformed state is surfaced, not
// silently discarded.
func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(path)
	if _, err := store.Load(); err == nil {
		t.Error("Load of corrupt file returned nil error")
	}

	ledger := NewLedger(store, zerolog.Nop())
	if err := ledger.Load(); err == nil {
		t.Error("ledger Load of corrupt state returned nil error")
	}
}

// TestFileStoreLeavesNoTempFiles verifies the write-then-rename cleanup.
func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "positions.json"))

	if err := store.Save([]Position{{Symbol: "BTCUSDT", Side: SideLong, EntryPrice: 100, Quantity: 1}}); err != nil {
		t.Fatalf("Save returned %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "positions.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want only positions.json", names)
	}
}

package market

import (
	"testing"

	"futures-trading-bot/internal/binance"
)

func kline(openTime int64, closePrice float64, closed bool) binance.Kline {
	return binance.Kline{
		OpenTime:  openTime,
		Open:      closePrice,
		High:      closePrice,
		Low:       closePrice,
		Close:     closePrice,
		CloseTime: openTime + 899_999,
		IsClosed:  closed,
	}
}

// TestUpdateCandleMerge verifies replace-in-place for the forming candle and
// append for a new one.
func TestUpdateCandleMerge(t *testing.T) {
	cache := NewCache(10)

	cache.UpdateCandle("BTCUSDT", "15m", kline(1000, 100, false))
	cache.UpdateCandle("BTCUSDT", "15m", kline(1000, 101, true)) // same candle finalized
	cache.UpdateCandle("BTCUSDT", "15m", kline(2000, 102, false))

	candles := cache.Candles("BTCUSDT", "15m")
	if len(candles) != 2 {
		t.Fatalf("len(candles) = %d, want 2", len(candles))
	}
	if candles[0].Close != 101 || !candles[0].IsClosed {
		t.Errorf("first candle = %+v, want finalized close 101", candles[0])
	}
	if candles[1].Close != 102 || candles[1].IsClosed {
		t.Errorf("second candle = %+v, want forming close 102", candles[1])
	}

	// An out-of-order candle is ignored.
	cache.UpdateCandle("BTCUSDT", "15m", kline(500, 99, true))
	if got := cache.Candles("BTCUSDT", "15m"); len(got) != 2 {
		t.Errorf("out-of-order candle changed the series: len = %d", len(got))
	}
}

// TestUpdateCandleTrimsToCapacity verifies the series never exceeds the cap.
func TestUpdateCandleTrimsToCapacity(t *testing.T) {
	cache := NewCache(5)

	for i := 0; i < 12; i++ {
		cache.UpdateCandle("BTCUSDT", "15m", kline(int64(i*1000), 100+float64(i), true))
	}

	candles := cache.Candles("BTCUSDT", "15m")
	if len(candles) != 5 {
		t.Fatalf("len(candles) = %d, want 5", len(candles))
	}
	if candles[len(candles)-1].Close != 111 {
		t.Errorf("newest close = %v, want 111", candles[len(candles)-1].Close)
	}
	if candles[0].Close != 107 {
		t.Errorf("oldest retained close = %v, want 107", candles[0].Close)
	}
}

// TestClosedCloses verifies the forming candle is excluded.
func TestClosedCloses(t *testing.T) {
	cache := NewCache(10)
	cache.SetCandles("BTCUSDT", "15m", []binance.Kline{
		kline(1000, 100, true),
		kline(2000, 101, true),
		kline(3000, 102, false),
	})

	closes := cache.ClosedCloses("BTCUSDT", "15m")
	if len(closes) != 2 {
		t.Fatalf("len(closes) = %d, want 2", len(closes))
	}
	if closes[0] != 100 || closes[1] != 101 {
		t.Errorf("closes = %v, want [100 101]", closes)
	}
}

// TestLastPriceFollowsStream verifies both SetCandles and UpdateCandle feed
// the last-price map.
func TestLastPriceFollowsStream(t *testing.T) {
	cache := NewCache(10)

	if _, ok := cache.LastPrice("BTCUSDT"); ok {
		t.Error("LastPrice reported ok on empty cache")
	}

	cache.SetCandles("BTCUSDT", "15m", []binance.Kline{kline(1000, 100, true)})
	if price, ok := cache.LastPrice("BTCUSDT"); !ok || price != 100 {
		t.Errorf("LastPrice = (%v, %v), want (100, true)", price, ok)
	}

	cache.UpdateCandle("BTCUSDT", "15m", kline(2000, 105, false))
	if price, _ := cache.LastPrice("BTCUSDT"); price != 105 {
		t.Errorf("LastPrice = %v, want 105 after stream update", price)
	}

	cache.SetLastPrice("BTCUSDT", 106)
	if price, _ := cache.LastPrice("BTCUSDT"); price != 106 {
		t.Errorf("LastPrice = %v, want 106 after SetLastPrice", price)
	}
}

// TestCandlesReturnsCopy verifies callers cannot mutate the cached series.
func TestCandlesReturnsCopy(t *testing.T) {
	cache := NewCache(10)
	cache.SetCandles("BTCUSDT", "15m", []binance.Kline{kline(1000, 100, true)})

	candles := cache.Candles("BTCUSDT", "15m")
	candles[0].Close = 999

	again := cache.Candles("BTCUSDT", "15m")
	if again[0].Close != 100 {
		t.Errorf("cached candle mutated through returned slice: close = %v", again[0].Close)
	}
}

// TestAge verifies the staleness report.
func TestAge(t *testing.T) {
	cache := NewCache(10)

	if _, ok := cache.Age("BTCUSDT", "15m"); ok {
		t.Error("Age reported ok for an unfilled series")
	}

	cache.SetCandles("BTCUSDT", "15m", []binance.Kline{kline(1000, 100, true)})
	age, ok := cache.Age("BTCUSDT", "15m")
	if !ok {
		t.Fatal("Age not ok after SetCandles")
	}
	if age < 0 {
		t.Errorf("Age = %v, want non-negative", age)
	}
}

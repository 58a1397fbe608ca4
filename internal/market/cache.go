// Package market holds the shared market-data state: candle series per
// symbol/interval and the latest price per symbol. A single mutex guards all
// of it; the stream goroutine writes, the trading cycle reads.
package market

import (
	"sync"
	"time"

	"futures-trading-bot/internal/binance"
)

const defaultMaxCandles = 500

// Cache is the shared candle and price store.
type Cache struct {
	mu         sync.RWMutex
	candles    map[string][]binance.Kline // symbol+"/"+interval
	lastPrices map[string]float64
	updatedAt  map[string]time.Time
	maxCandles int
}

// NewCache creates an empty cache retaining up to maxCandles per series.
func NewCache(maxCandles int) *Cache {
	if maxCandles <= 0 {
		maxCandles = defaultMaxCandles
	}
	return &Cache{
		candles:    make(map[string][]binance.Kline),
		lastPrices: make(map[string]float64),
		updatedAt:  make(map[string]time.Time),
		maxCandles: maxCandles,
	}
}

func seriesKey(symbol, interval string) string {
	return symbol + "/" + interval
}

// SetCandles replaces the whole series, e.g. after a REST backfill.
func (c *Cache) SetCandles(symbol, interval string, klines []binance.Kline) {
	cp := make([]binance.Kline, len(klines))
	copy(cp, klines)
	if len(cp) > c.maxCandles {
		cp = cp[len(cp)-c.maxCandles:]
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	key := seriesKey(symbol, interval)
	c.candles[key] = cp
	c.updatedAt[key] = time.Now()
	if len(cp) > 0 {
		c.lastPrices[symbol] = cp[len(cp)-1].Close
	}
}

// UpdateCandle merges one streamed kline into the series: same open time
// replaces the last candle, a newer one appends. The close also refreshes the
// symbol's last price.
func (c *Cache) UpdateCandle(symbol, interval string, kline binance.Kline) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := seriesKey(symbol, interval)
	series := c.candles[key]

	switch {
	case len(series) == 0:
		series = []binance.Kline{kline}
	case series[len(series)-1].OpenTime == kline.OpenTime:
		series[len(series)-1] = kline
	case series[len(series)-1].OpenTime < kline.OpenTime:
		series = append(series, kline)
		if len(series) > c.maxCandles {
			series = series[len(series)-c.maxCandles:]
		}
	default:
		// Out-of-order kline, drop it.
		return
	}

	c.candles[key] = series
	c.updatedAt[key] = time.Now()
	c.lastPrices[symbol] = kline.Close
}

// Candles returns a copy of the series, or nil when the cache has none.
func (c *Cache) Candles(symbol, interval string) []binance.Kline {
	c.mu.RLock()
	defer c.mu.RUnlock()

	series := c.candles[seriesKey(symbol, interval)]
	if len(series) == 0 {
		return nil
	}
	out := make([]binance.Kline, len(series))
	copy(out, series)
	return out
}

// ClosedCloses returns the close prices of completed candles only. The last
// still-forming candle is excluded so indicators see stable values.
func (c *Cache) ClosedCloses(symbol, interval string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	series := c.candles[seriesKey(symbol, interval)]
	out := make([]float64, 0, len(series))
	for _, k := range series {
		if k.IsClosed {
			out = append(out, k.Close)
		}
	}
	return out
}

// LastPrice returns the most recent price for symbol.
func (c *Cache) LastPrice(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.lastPrices[symbol]
	return p, ok
}

// SetLastPrice stores a price obtained outside the stream, e.g. via REST.
func (c *Cache) SetLastPrice(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPrices[symbol] = price
}

// Age reports how long ago the series was last written; ok is false when the
// series has never been filled.
func (c *Cache) Age(symbol, interval string) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.updatedAt[seriesKey(symbol, interval)]
	if !ok {
		return 0, false
	}
	return time.Since(t), true
}

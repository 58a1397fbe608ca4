// Package analysis provides the indicator math used by the signal engine.
// All functions are pure: they take a close-price series ordered oldest to
// newest and report ok=false when the series is too short to produce a value.
package analysis

// CalculateSMA returns the simple moving average of the last period values.
func CalculateSMA(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period), true
}

// CalculateEMA returns the latest exponential moving average value. The EMA
// is seeded with the SMA of the first period closes.
func CalculateEMA(closes []float64, period int) (float64, bool) {
	series, ok := EMASeries(closes, period)
	if !ok {
		return 0, false
	}
	return series[len(series)-1], true
}

// EMASeries returns the EMA for every close from index period-1 onward. The
// returned slice has length len(closes)-period+1.
func EMASeries(closes []float64, period int) ([]float64, bool) {
	if period <= 0 || len(closes) < period {
		return nil, false
	}

	sum := 0.0
	for _, c := range closes[:period] {
		sum += c
	}

	multiplier := 2.0 / float64(period+1)
	out := make([]float64, 0, len(closes)-period+1)
	ema := sum / float64(period)
	out = append(out, ema)

	for _, c := range closes[period:] {
		ema = (c-ema)*multiplier + ema
		out = append(out, ema)
	}

	return out, true
}

// CalculateRSI returns the latest relative strength index using Wilder's
// smoothing. It needs at least period+1 closes.
func CalculateRSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// MACDResult holds the latest MACD line, signal line and histogram values.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// CalculateMACD computes MACD with the given fast/slow/signal periods. The
// signal line is a true EMA over the MACD-line series, so the input must
// cover at least slowPeriod+signalPeriod-1 closes.
func CalculateMACD(closes []float64, fastPeriod, slowPeriod, signalPeriod int) (MACDResult, bool) {
	if fastPeriod <= 0 || slowPeriod <= fastPeriod || signalPeriod <= 0 {
		return MACDResult{}, false
	}
	if len(closes) < slowPeriod+signalPeriod-1 {
		return MACDResult{}, false
	}

	fastSeries, _ := EMASeries(closes, fastPeriod)
	slowSeries, _ := EMASeries(closes, slowPeriod)

	// Align the two EMA series on the slow start and difference them.
	offset := slowPeriod - fastPeriod
	macdLine := make([]float64, len(slowSeries))
	for i := range slowSeries {
		macdLine[i] = fastSeries[i+offset] - slowSeries[i]
	}

	signalSeries, ok := EMASeries(macdLine, signalPeriod)
	if !ok {
		return MACDResult{}, false
	}

	macd := macdLine[len(macdLine)-1]
	signal := signalSeries[len(signalSeries)-1]
	return MACDResult{
		MACD:      macd,
		Signal:    signal,
		Histogram: macd - signal,
	}, true
}

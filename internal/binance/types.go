package binance

import "time"

// Kline represents a single candlestick.
type Kline struct {
	OpenTime  int64   `json:"openTime"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"closeTime"`
	IsClosed  bool    `json:"isClosed"`
}

// AccountBalance is the subset of /fapi/v2/account the bot consumes.
type AccountBalance struct {
	TotalWalletBalance    float64 `json:"totalWalletBalance,string"`
	AvailableBalance      float64 `json:"availableBalance,string"`
	TotalUnrealizedProfit float64 `json:"totalUnrealizedProfit,string"`
}

// ExchangePosition is an open position as reported by /fapi/v2/positionRisk.
// PositionAmt is signed: positive for long, negative for short.
type ExchangePosition struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"positionAmt,string"`
	EntryPrice       float64 `json:"entryPrice,string"`
	MarkPrice        float64 `json:"markPrice,string"`
	UnrealizedProfit float64 `json:"unRealizedProfit,string"`
	Leverage         float64 `json:"leverage,string"`
	UpdateTime       int64   `json:"updateTime"`
}

// OrderSide is the order direction.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is the Binance futures order type.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// OrderResponse is the acknowledgement returned when an order is placed.
type OrderResponse struct {
	OrderID       int64   `json:"orderId"`
	ClientOrderID string  `json:"clientOrderId"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	OrigQty       float64 `json:"origQty,string"`
	AvgPrice      float64 `json:"avgPrice,string"`
	StopPrice     float64 `json:"stopPrice,string"`
	UpdateTime    int64   `json:"updateTime"`
}

// OrderParams collects the fields for a new order request.
type OrderParams struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      float64
	StopPrice     float64
	ClosePosition bool
	ReduceOnly    bool
	ClientOrderID string
}

// markPriceResponse is the /fapi/v1/premiumIndex payload.
type markPriceResponse struct {
	Symbol    string  `json:"symbol"`
	MarkPrice float64 `json:"markPrice,string"`
	Time      int64   `json:"time"`
}

// tickerPriceResponse is the /fapi/v1/ticker/price payload.
type tickerPriceResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price,string"`
}

// KlineEvent is a combined-stream kline push from the futures websocket.
type KlineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Symbol    string `json:"s"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		IsClosed  bool   `json:"x"`
	} `json:"k"`
}

// Age returns how stale the kline is relative to now.
func (k Kline) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(k.CloseTime))
}

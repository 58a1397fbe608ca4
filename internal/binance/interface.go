package binance

// ExchangeClient is the exchange surface the bot depends on. The REST
// implementation is Client; tests substitute a mock.
type ExchangeClient interface {
	// Account
	GetBalance() (float64, error)
	GetOpenPositions() ([]ExchangePosition, error)

	// Market data
	GetKlines(symbol, interval string, limit int) ([]Kline, error)
	GetLastPrice(symbol string) (float64, error)
	GetMarkPrice(symbol string) (float64, error)

	// Trading
	PlaceOrder(params OrderParams) (*OrderResponse, error)
	CancelAllOrders(symbol string) error

	// Symbol setup
	SetLeverage(symbol string, leverage int) error
	SetMarginType(symbol string, marginType string) error
}

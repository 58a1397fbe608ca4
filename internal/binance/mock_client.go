package binance

import (
	"fmt"
	"sync"
)

// MockClient is an in-memory ExchangeClient used in tests and dry runs.
type MockClient struct {
	mu sync.Mutex

	Balance   float64
	Klines    map[string][]Kline // keyed by symbol+"/"+interval
	Prices    map[string]float64
	Positions []ExchangePosition

	PlacedOrders    []OrderParams
	CanceledSymbols []string
	LeverageCalls   map[string]int

	BalanceErr   error
	PositionsErr error
	OrderErr     error
}

// NewMockClient returns a mock with empty state.
func NewMockClient() *MockClient {
	return &MockClient{
		Klines:        make(map[string][]Kline),
		Prices:        make(map[string]float64),
		LeverageCalls: make(map[string]int),
	}
}

// SetKlines installs the candle series served for symbol/interval.
func (m *MockClient) SetKlines(symbol, interval string, klines []Kline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Klines[symbol+"/"+interval] = klines
}

func (m *MockClient) GetBalance() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BalanceErr != nil {
		return 0, m.BalanceErr
	}
	return m.Balance, nil
}

func (m *MockClient) GetOpenPositions() ([]ExchangePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PositionsErr != nil {
		return nil, m.PositionsErr
	}
	out := make([]ExchangePosition, len(m.Positions))
	copy(out, m.Positions)
	return out, nil
}

func (m *MockClient) GetKlines(symbol, interval string, limit int) ([]Kline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	klines, ok := m.Klines[symbol+"/"+interval]
	if !ok {
		return nil, fmt.Errorf("no klines configured for %s %s", symbol, interval)
	}
	if limit > 0 && len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	out := make([]Kline, len(klines))
	copy(out, klines)
	return out, nil
}

func (m *MockClient) GetLastPrice(symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.Prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price configured for %s", symbol)
	}
	return price, nil
}

func (m *MockClient) GetMarkPrice(symbol string) (float64, error) {
	return m.GetLastPrice(symbol)
}

func (m *MockClient) PlaceOrder(params OrderParams) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OrderErr != nil {
		return nil, m.OrderErr
	}
	m.PlacedOrders = append(m.PlacedOrders, params)
	return &OrderResponse{
		OrderID:       int64(len(m.PlacedOrders)),
		ClientOrderID: params.ClientOrderID,
		Symbol:        params.Symbol,
		Status:        "FILLED",
		Side:          string(params.Side),
		Type:          string(params.Type),
		OrigQty:       params.Quantity,
		AvgPrice:      m.Prices[params.Symbol],
		StopPrice:     params.StopPrice,
	}, nil
}

func (m *MockClient) CancelAllOrders(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CanceledSymbols = append(m.CanceledSymbols, symbol)
	return nil
}

func (m *MockClient) SetLeverage(symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LeverageCalls[symbol] = leverage
	return nil
}

func (m *MockClient) SetMarginType(symbol string, marginType string) error {
	return nil
}

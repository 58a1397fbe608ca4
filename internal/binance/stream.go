package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	streamReconnectDelay    = 5 * time.Second
	streamMaxReconnectDelay = 1 * time.Minute
	streamReadTimeout       = 90 * time.Second
)

// KlineHandler receives every kline pushed by the stream. Closed and
// still-forming candles are both delivered; IsClosed distinguishes them.
type KlineHandler func(symbol, interval string, kline Kline)

// KlineStream maintains a combined websocket subscription for kline updates
// across symbols and intervals, reconnecting on failure.
type KlineStream struct {
	baseURL  string
	streams  []string
	handler  KlineHandler
	logger   zerolog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	connected bool
	lastEvent time.Time
}

// NewKlineStream builds a stream for every symbol/interval combination.
func NewKlineStream(baseURL string, symbols, intervals []string, handler KlineHandler, logger zerolog.Logger) *KlineStream {
	streams := make([]string, 0, len(symbols)*len(intervals))
	for _, s := range symbols {
		for _, i := range intervals {
			streams = append(streams, strings.ToLower(s)+"@kline_"+i)
		}
	}

	return &KlineStream{
		baseURL:  baseURL,
		streams:  streams,
		handler:  handler,
		logger:   logger.With().Str("component", "kline_stream").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start launches the stream loop. It returns immediately; connection failures
// are retried in the background with backoff.
func (s *KlineStream) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop terminates the stream and waits for the loop to exit.
func (s *KlineStream) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

// IsConnected reports whether the websocket is currently up.
func (s *KlineStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// LastEventTime returns when the most recent kline arrived.
func (s *KlineStream) LastEventTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEvent
}

func (s *KlineStream) run() {
	defer s.wg.Done()

	delay := streamReconnectDelay
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		err := s.connectAndRead()
		if err == nil {
			// Clean shutdown.
			return
		}

		s.logger.Warn().Err(err).Dur("reconnect_in", delay).Msg("stream disconnected")
		select {
		case <-s.stopChan:
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > streamMaxReconnectDelay {
			delay = streamMaxReconnectDelay
		}
	}
}

func (s *KlineStream) connectAndRead() error {
	wsURL := fmt.Sprintf("%s/stream?streams=%s", s.baseURL, strings.Join(s.streams, "/"))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("error dialing stream: %w", err)
	}
	defer conn.Close()

	s.setConnected(true)
	defer s.setConnected(false)
	s.logger.Info().Int("streams", len(s.streams)).Msg("kline stream connected")

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	})

	// Binance sends pings; reply and keep the deadline moving.
	conn.SetPingHandler(func(appData string) error {
		if err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second)); err != nil {
			return err
		}
		return conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.stopChan:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(5*time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(streamReadTimeout)); err != nil {
			return err
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopChan:
				return nil
			default:
				return fmt.Errorf("error reading stream: %w", err)
			}
		}

		s.handleMessage(msg)
	}
}

// combinedStreamMessage wraps events on the multiplexed endpoint.
type combinedStreamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (s *KlineStream) handleMessage(msg []byte) {
	var wrapper combinedStreamMessage
	if err := json.Unmarshal(msg, &wrapper); err != nil || len(wrapper.Data) == 0 {
		return
	}

	var event KlineEvent
	if err := json.Unmarshal(wrapper.Data, &event); err != nil || event.EventType != "kline" {
		return
	}

	kline := Kline{
		OpenTime:  event.Kline.StartTime,
		Open:      mustParse(event.Kline.Open),
		High:      mustParse(event.Kline.High),
		Low:       mustParse(event.Kline.Low),
		Close:     mustParse(event.Kline.Close),
		Volume:    mustParse(event.Kline.Volume),
		CloseTime: event.Kline.CloseTime,
		IsClosed:  event.Kline.IsClosed,
	}

	s.mu.Lock()
	s.lastEvent = time.Now()
	s.mu.Unlock()

	s.handler(event.Kline.Symbol, event.Kline.Interval, kline)
}

func (s *KlineStream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func mustParse(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

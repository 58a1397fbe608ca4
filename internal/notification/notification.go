package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-bot/config"
)

// NotificationType classifies a notification.
type NotificationType string

const (
	NotifyTradeOpen  NotificationType = "trade_open"
	NotifyTradeClose NotificationType = "trade_close"
	NotifyTrailing   NotificationType = "trailing_update"
	NotifyError      NotificationType = "error"
	NotifyInfo       NotificationType = "info"
)

// Notification is one outbound message.
type Notification struct {
	Type       NotificationType
	Title      string
	Message    string
	Symbol     string
	Price      float64
	PnL        float64
	PnLPercent float64
	Timestamp  time.Time
}

// Notifier is one delivery channel.
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans notifications out to every enabled channel. Delivery failures
// are logged, never returned to the trading path.
type Manager struct {
	notifiers []Notifier
	enabled   bool
	logger    zerolog.Logger
}

// NewManager builds the manager with the channels the config enables.
func NewManager(cfg config.NotificationConfig, logger zerolog.Logger) *Manager {
	m := &Manager{
		enabled: cfg.Enabled,
		logger:  logger.With().Str("component", "notifications").Logger(),
	}
	m.notifiers = append(m.notifiers,
		NewTelegramNotifier(cfg.Telegram),
		NewDiscordNotifier(cfg.Discord),
	)
	return m
}

// AddNotifier registers an extra channel.
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send delivers the notification to all enabled channels.
func (m *Manager) Send(n *Notification) {
	if !m.enabled {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	for _, notifier := range m.notifiers {
		if !notifier.IsEnabled() {
			continue
		}
		if err := notifier.Send(n); err != nil {
			m.logger.Warn().
				Str("channel", notifier.Name()).
				Str("type", string(n.Type)).
				Err(err).
				Msg("error sending notification")
		}
	}
}

// SendTradeOpened announces a newly opened position.
func (m *Manager) SendTradeOpened(symbol, side string, entry, quantity, stopLoss, takeProfit float64) {
	m.Send(&Notification{
		Type:   NotifyTradeOpen,
		Title:  fmt.Sprintf("Trade opened: %s %s", side, symbol),
		Symbol: symbol,
		Price:  entry,
		Message: fmt.Sprintf("Entry: %.4f\nQty: %.4f\nSL: %.4f | TP: %.4f",
			entry, quantity, stopLoss, takeProfit),
	})
}

// SendTradeClosed announces a closed position with its realized result.
func (m *Manager) SendTradeClosed(symbol string, entry, exit, pnl float64, reason string) {
	// Sign comes from the realized PnL so short trades report correctly.
	pnlPct := 0.0
	if entry != 0 {
		pnlPct = math.Abs(exit-entry) / entry * 100
		if pnl < 0 {
			pnlPct = -pnlPct
		}
	}

	m.Send(&Notification{
		Type:       NotifyTradeClose,
		Title:      fmt.Sprintf("Trade closed: %s", symbol),
		Symbol:     symbol,
		Price:      exit,
		PnL:        pnl,
		PnLPercent: pnlPct,
		Message: fmt.Sprintf("Entry: %.4f -> Exit: %.4f\nP&L: %.4f\nReason: %s",
			entry, exit, pnl, reason),
	})
}

// SendTrailingUpdate announces a trailing-stop move.
func (m *Manager) SendTrailingUpdate(symbol string, oldStop, newStop, price float64) {
	m.Send(&Notification{
		Type:   NotifyTrailing,
		Title:  fmt.Sprintf("Trailing stop moved: %s", symbol),
		Symbol: symbol,
		Price:  price,
		Message: fmt.Sprintf("Stop: %.4f -> %.4f (price %.4f)",
			oldStop, newStop, price),
	})
}

// SendError reports an operational failure.
func (m *Manager) SendError(title, message string) {
	m.Send(&Notification{
		Type:    NotifyError,
		Title:   title,
		Message: message,
	})
}

// SendInfo reports a lifecycle event, e.g. startup or shutdown.
func (m *Manager) SendInfo(title, message string) {
	m.Send(&Notification{
		Type:    NotifyInfo,
		Title:   title,
		Message: message,
	})
}

// ==================== Telegram ====================

// TelegramNotifier delivers via the Telegram bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }

func (t *TelegramNotifier) Send(n *Notification) error {
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n\n%s", n.Title, n.Message),
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshaling telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("error sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// ==================== Discord ====================

// DiscordNotifier delivers via a Discord webhook embed.
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

func NewDiscordNotifier(cfg config.DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: cfg.WebhookURL,
		enabled:    cfg.Enabled && cfg.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) IsEnabled() bool { return d.enabled }

func (d *DiscordNotifier) Send(n *Notification) error {
	color := 0x2ECC71
	if n.Type == NotifyError || (n.Type == NotifyTradeClose && n.PnL < 0) {
		color = 0xE74C3C
	}

	embed := map[string]interface{}{
		"title":       n.Title,
		"description": n.Message,
		"color":       color,
		"timestamp":   n.Timestamp.Format(time.RFC3339),
	}

	if n.Symbol != "" {
		fields := []map[string]interface{}{
			{"name": "Symbol", "value": n.Symbol, "inline": true},
		}
		if n.Price > 0 {
			fields = append(fields, map[string]interface{}{
				"name": "Price", "value": fmt.Sprintf("%.4f", n.Price), "inline": true,
			})
		}
		if n.PnL != 0 {
			fields = append(fields, map[string]interface{}{
				"name": "P&L", "value": fmt.Sprintf("%.4f (%.2f%%)", n.PnL, n.PnLPercent), "inline": true,
			})
		}
		embed["fields"] = fields
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshaling discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("error sending discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}
	return nil
}

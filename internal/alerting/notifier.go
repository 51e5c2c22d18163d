package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification 封装告警上下文。
type Notification struct {
	TS        time.Time
	Kind      string
	Symbol    string
	Direction string
	SizeUSDT  decimal.Decimal
	PnlUSDT   *decimal.Decimal
	Service   string
	Reason    string
}

// Notification kinds.
const (
	KindTradeFilled = "trade_filled"
	KindTradeFailed = "trade_failed"
	KindRestart     = "service_restart"
)

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("kind", note.Kind).
		Str("symbol", note.Symbol).
		Str("service", note.Service).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[dexalign]\n")
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.TS.UTC().Format(time.RFC3339)))
	switch note.Kind {
	case KindRestart:
		builder.WriteString(fmt.Sprintf("Service restarted: %s\n", note.Service))
	case KindTradeFilled:
		builder.WriteString(fmt.Sprintf("Trade filled: %s %s %s USDT\n", note.Direction, note.Symbol, note.SizeUSDT.String()))
		if note.PnlUSDT != nil {
			builder.WriteString(fmt.Sprintf("PnL: %s USDT\n", note.PnlUSDT.StringFixed(4)))
		}
	case KindTradeFailed:
		builder.WriteString(fmt.Sprintf("Trade failed: %s %s %s USDT\n", note.Direction, note.Symbol, note.SizeUSDT.String()))
	}
	if note.Reason != "" {
		builder.WriteString(fmt.Sprintf("Reason: %s\n", note.Reason))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)

// RestartNotifier adapts a Notifier to the watchdog's restart hook.
type RestartNotifier struct {
	notifier Notifier
	logger   zerolog.Logger
}

// NewRestartNotifier wraps a Notifier for watchdog use.
func NewRestartNotifier(notifier Notifier, logger zerolog.Logger) *RestartNotifier {
	return &RestartNotifier{notifier: notifier, logger: logger}
}

// NotifyRestart dispatches a restart alert; failures are logged, not
// propagated, since a restart must proceed regardless.
func (r *RestartNotifier) NotifyRestart(ctx context.Context, service, reason string) {
	if r == nil || r.notifier == nil {
		return
	}
	note := Notification{TS: time.Now().UTC(), Kind: KindRestart, Service: service, Reason: reason}
	if err := r.notifier.Notify(ctx, note); err != nil {
		r.logger.Error().Err(err).Str("service", service).Msg("failed to dispatch restart alert")
	}
}

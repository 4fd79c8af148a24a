package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

// Telegram posts messages through the Bot API sendMessage method.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// TelegramOption configures a Telegram notifier.
type TelegramOption func(*Telegram)

// WithBaseURL points the notifier at another API host (tests, proxies).
func WithBaseURL(u string) TelegramOption {
	return func(t *Telegram) {
		if u != "" {
			t.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithTimeout overrides the HTTP client timeout.
func WithTimeout(d time.Duration) TelegramOption {
	return func(t *Telegram) {
		if d > 0 {
			t.client = &http.Client{Timeout: d}
		}
	}
}

// NewTelegram builds a notifier. Missing token or chat id make Notify return ErrNotConfigured.
func NewTelegram(token, chatID string, log zerolog.Logger, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		token:   strings.TrimSpace(token),
		chatID:  strings.TrimSpace(chatID),
		baseURL: defaultTelegramBaseURL,
		client:  &http.Client{Timeout: 20 * time.Second},
		log:     log,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Configured reports whether credentials are present.
func (t *Telegram) Configured() bool { return t.token != "" && t.chatID != "" }

// Notify sends text; delivered is true only on HTTP 200.
func (t *Telegram) Notify(ctx context.Context, text string) (bool, error) {
	if !t.Configured() {
		t.log.Warn().Msg("telegram not configured (missing bot token or chat id)")
		return false, ErrNotConfigured
	}
	body, err := json.Marshal(map[string]string{"chat_id": t.chatID, "text": text})
	if err != nil {
		return false, err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("telegram send: %w", redact(err, t.token))
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	t.log.Info().Int("status", resp.StatusCode).Str("body", string(snippet)).Msg("telegram response")
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("telegram status %d", resp.StatusCode)
	}
	return true, nil
}

// redact keeps the bot token out of logged transport errors, which embed the URL.
func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<redacted>"))
}

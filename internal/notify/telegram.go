package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Telegram sends messages through the Telegram Bot API.
type Telegram struct {
	BaseURL string // override for tests
	Token   string
	HTTP    *http.Client
}

func NewTelegram(token string) *Telegram {
	return &Telegram{
		BaseURL: "https://api.telegram.org",
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Send posts one message to the given chat id.
func (t *Telegram) Send(ctx context.Context, chatID, message string) error {
	body, err := json.Marshal(telegramMessage{ChatID: chatID, Text: message})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.BaseURL, t.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send: status %d", resp.StatusCode)
	}
	return nil
}

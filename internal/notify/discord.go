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

// Discord posts messages to per-owner webhook URLs. Unlike Telegram there is
// no deployment-wide credential; the target URL itself carries authorization.
type Discord struct {
	HTTP *http.Client
}

func NewDiscord() *Discord {
	return &Discord{HTTP: &http.Client{Timeout: 10 * time.Second}}
}

type discordMessage struct {
	Content string `json:"content"`
}

// Send posts one message to the webhook URL.
func (d *Discord) Send(ctx context.Context, webhookURL, message string) error {
	body, err := json.Marshal(discordMessage{Content: message})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// Discord returns 204 on success.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("discord send: status %d", resp.StatusCode)
	}
	return nil
}

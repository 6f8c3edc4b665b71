package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/italolelis/rangefetch/internal/telemetry"
)

// ErrNoWebhook is returned when the notifier has no destination.
var ErrNoWebhook = errors.New("webhook URL is not set")

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
	Telemetry  *telemetry.Telemetry
}

// NewDiscordNotifier returns a notifier posting to webhookURL with a short request timeout.
func NewDiscordNotifier(webhookURL string, tel *telemetry.Telemetry) *DiscordNotifier {
	return &DiscordNotifier{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
		Telemetry:  tel,
	}
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	err := d.send(ctx, content)

	status := "success"
	if err != nil {
		status = "error"
	}

	d.Telemetry.RecordNotification("discord", status)

	return err
}

func (d *DiscordNotifier) send(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return ErrNoWebhook
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

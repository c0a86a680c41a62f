package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/narro/internal/common"
	"github.com/ternarybob/narro/internal/interfaces"
	"github.com/ternarybob/narro/internal/models"
)

const (
	ntfyUserAgent      = "Narro/1.0"
	ntfyRequestTimeout = 10 * time.Second
)

// ntfyNotifier delivers notifications by POSTing to an ntfy topic URL
type ntfyNotifier struct {
	endpoint string
	client   *http.Client
	logger   arbor.ILogger
}

// NewNotifier builds a notifier from config. Without a topic every
// notification is dropped by the noop implementation.
func NewNotifier(cfg common.NotificationsConfig, logger arbor.ILogger) interfaces.Notifier {
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return NewNoopNotifier(logger)
	}

	return &ntfyNotifier{
		endpoint: topic,
		client:   &http.Client{Timeout: ntfyRequestTimeout},
		logger:   logger,
	}
}

func (n *ntfyNotifier) Notify(ctx context.Context, notification models.Notification) error {
	title := "Narro - Training Complete"
	tags := []string{"narro", "training", "completed"}
	priority := ""
	if notification.Kind == models.NotificationJobFailed {
		title = "Narro - Training Failed"
		tags = []string{"narro", "training", "failed"}
		priority = "high"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(notification.Message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", ntfyUserAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", title)
	req.Header.Set("Tags", strings.Join(tags, ","))
	if priority != "" {
		req.Header.Set("Priority", priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

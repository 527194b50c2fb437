// Package alerting is the coordinator's one-way webhook notifier, used by
// the dispatcher's alarm hooks (spec.md §4.2, §6: "generic HTTPS POST").
// Grounded on the teacher's plain net/http usage in cmd/indexer/main.go --
// no webhook/Slack SDK has real usage anywhere in the example corpus, so
// the stdlib client is the correct tool here too.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// requestTimeout bounds a single webhook POST.
const requestTimeout = 10 * time.Second

// Notifier posts a JSON payload to a webhook URL.
type Notifier struct {
	url    string
	client *http.Client
}

// New returns a Notifier posting to url.
func New(url string) *Notifier {
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: requestTimeout},
	}
}

// payload is the body posted to the webhook; "text" matches the
// conventional field name for Slack-compatible incoming webhooks, which is
// what WEBHOOK_URL points at in production (spec.md §6).
type payload struct {
	Text string `json:"text"`
}

// Post sends message to the webhook URL. Callers treat failures as
// best-effort (spec.md §4.2 alarm hooks: "failures logged and swallowed").
func (n *Notifier) Post(ctx context.Context, message string) error {
	if n.url == "" {
		return fmt.Errorf("alerting: no webhook url configured")
	}

	body, err := json.Marshal(payload{Text: message})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

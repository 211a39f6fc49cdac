package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tracyhatemice/inboxsync/internal/model"
	"github.com/tracyhatemice/inboxsync/internal/parser"
)

// Webhook posts a Slack-formatted message and/or the raw document to
// configured URLs. Either URL may be empty.
type Webhook struct {
	slackURL    string
	externalURL string
	client      *http.Client
}

// NewWebhook creates a Webhook sink.
func NewWebhook(slackURL, externalURL string) *Webhook {
	return &Webhook{
		slackURL:    slackURL,
		externalURL: externalURL,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

type externalPayload struct {
	ID      string   `json:"id"`
	Subject string   `json:"subject"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Body    string   `json:"body"`
	Labels  []string `json:"labels"`
}

func (w *Webhook) Notify(ctx context.Context, doc model.EmailDocument) error {
	if w.slackURL != "" {
		text := fmt.Sprintf("📨 *New Interested Email*\nFrom: %s\nTo: %s\nSubject: %s\nBody snippet: %s",
			doc.From, strings.Join(doc.To, ", "), doc.Subject, parser.Snippet(doc.Body))
		if err := w.post(ctx, w.slackURL, map[string]string{"text": text}); err != nil {
			return fmt.Errorf("slack webhook: %w", err)
		}
	}
	if w.externalURL != "" {
		payload := externalPayload{
			ID:      doc.ID,
			Subject: doc.Subject,
			From:    doc.From,
			To:      doc.To,
			Body:    doc.Body,
		}
		for _, l := range doc.Labels {
			payload.Labels = append(payload.Labels, string(l))
		}
		if err := w.post(ctx, w.externalURL, payload); err != nil {
			return fmt.Errorf("external webhook: %w", err)
		}
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

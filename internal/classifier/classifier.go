// Package classifier maps message content to a category label using an
// OpenAI-compatible chat completions endpoint.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/tracyhatemice/inboxsync/internal/model"
)

// Result is a classification outcome.
type Result struct {
	Label      model.Label `json:"label"`
	Confidence float64     `json:"confidence"`
}

// Classifier assigns a label from the closed set to a message.
type Classifier interface {
	Classify(ctx context.Context, body, subject, sender string) (Result, error)
}

// Unconfigured labels everything Unknown, for deployments without a model
// endpoint.
type Unconfigured struct{}

func (Unconfigured) Classify(context.Context, string, string, string) (Result, error) {
	return Result{Label: model.LabelUnknown}, nil
}

// maxPromptBody bounds the body text sent to the model.
const maxPromptBody = 8000

const classifyPrompt = `Classify the following email into one of these categories:
- Interested
- Meeting Booked
- Not Interested
- Spam
- Out of Office

Return strictly in JSON format like: {"label":"...", "confidence":0.0}

Email content:
body: %s
subject: %s
from: %s
`

// Classify asks the model for a label. A response that is not the expected
// JSON yields LabelUnknown rather than an error; transport and API errors
// are returned.
func (c *Client) Classify(ctx context.Context, body, subject, sender string) (Result, error) {
	prompt := fmt.Sprintf(classifyPrompt, PromptText(body), subject, sender)
	content, err := c.Complete(ctx, []Message{{Role: "user", Content: prompt}})
	if err != nil {
		return Result{}, fmt.Errorf("classify: %w", err)
	}
	res, err := parseResult(content)
	if err != nil {
		c.logger.Warn("unparseable classifier response", "error", err, "content", truncate(content, 200))
		return Result{Label: model.LabelUnknown}, nil
	}
	return res, nil
}

func parseResult(content string) (Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return Result{}, err
	}
	if raw.Label == "" {
		return Result{}, errors.New("no label in response")
	}
	return Result{Label: model.ParseLabel(raw.Label), Confidence: raw.Confidence}, nil
}

// PromptText prepares a message body for a prompt: HTML is converted to
// markdown and the result is truncated.
func PromptText(body string) string {
	if looksLikeHTML(body) {
		if md, err := htmltomarkdown.ConvertString(body); err == nil {
			body = strings.TrimSpace(md)
		}
	}
	return truncate(body, maxPromptBody)
}

func looksLikeHTML(s string) bool {
	l := strings.ToLower(s)
	return strings.Contains(l, "<html") || strings.Contains(l, "<body") ||
		strings.Contains(l, "<p>") || strings.Contains(l, "<div") || strings.Contains(l, "<br")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

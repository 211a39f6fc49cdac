// Package reply drafts suggested responses to stored messages.
package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tracyhatemice/inboxsync/internal/classifier"
	"github.com/tracyhatemice/inboxsync/internal/model"
)

// topK is how many similar examples are shown to the model.
const topK = 3

// Completer is a chat completion backend.
type Completer interface {
	Complete(ctx context.Context, messages []classifier.Message) (string, error)
}

// Generator writes reply drafts with a few-shot prompt built from the
// examples most similar to the incoming message.
type Generator struct {
	model    Completer
	examples Examples
	logger   *slog.Logger
}

// New creates a Generator.
func New(completer Completer, examples Examples, logger *slog.Logger) *Generator {
	return &Generator{model: completer, examples: examples, logger: logger}
}

const systemPrompt = `You write short, polite email replies on behalf of the mailbox owner.
Reply in plain text without a subject line or signature placeholder.
Match the tone of the example replies.`

// Generate drafts a reply to doc.
func (g *Generator) Generate(ctx context.Context, doc model.EmailDocument) (string, error) {
	if g.model == nil {
		return "", errors.New("no model configured for reply generation")
	}
	text := classifier.PromptText(doc.Body)

	var b strings.Builder
	similar := g.examples.Similar(doc.Subject+" "+text, topK)
	for i, e := range similar {
		fmt.Fprintf(&b, "Example %d\nEmail: %s\nReply: %s\n\n", i+1, e.Email, e.Reply)
	}
	fmt.Fprintf(&b, "Now write a reply to this email.\nFrom: %s\nSubject: %s\n\n%s\n", doc.From, doc.Subject, text)

	out, err := g.model.Complete(ctx, []classifier.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	})
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("generate reply: model returned an empty reply")
	}
	g.logger.Debug("reply generated", "doc_id", doc.ID, "examples", len(similar))
	return out, nil
}

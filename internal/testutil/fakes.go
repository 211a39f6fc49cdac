package testutil

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/tracyhatemice/inboxsync/internal/classifier"
	"github.com/tracyhatemice/inboxsync/internal/model"
)

// Logger discards everything.
var Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// ErrClassifier is returned by Classifier for subjects marked as failing.
var ErrClassifier = errors.New("classifier down")

// Classifier is a scripted classifier. Labels maps subjects to labels;
// unknown subjects get Default. Subjects in Fail return ErrClassifier.
type Classifier struct {
	mu      sync.Mutex
	Labels  map[string]model.Label
	Fail    map[string]bool
	Default model.Label
	calls   int
}

func (c *Classifier) Classify(_ context.Context, _, subject, _ string) (classifier.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.Fail[subject] {
		return classifier.Result{}, ErrClassifier
	}
	if l, ok := c.Labels[subject]; ok {
		return classifier.Result{Label: l, Confidence: 1}, nil
	}
	if c.Default != "" {
		return classifier.Result{Label: c.Default, Confidence: 0.5}, nil
	}
	return classifier.Result{Label: model.LabelNotInterested, Confidence: 0.5}, nil
}

// Calls returns the number of Classify invocations.
func (c *Classifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// SetFail marks subject as failing or healthy.
func (c *Classifier) SetFail(subject string, fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail == nil {
		c.Fail = map[string]bool{}
	}
	c.Fail[subject] = fail
}

// Sink records notifications; Err is returned from every call.
type Sink struct {
	mu   sync.Mutex
	Err  error
	docs []model.EmailDocument
}

func (s *Sink) Notify(_ context.Context, doc model.EmailDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, doc)
	return s.Err
}

// Docs returns the notified documents.
func (s *Sink) Docs() []model.EmailDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.EmailDocument(nil), s.docs...)
}

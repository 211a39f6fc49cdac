// Package notify delivers side-channel notifications for interested mail.
package notify

import (
	"context"
	"errors"

	"github.com/tracyhatemice/inboxsync/internal/model"
)

// Sink receives a document whose label warrants a notification.
type Sink interface {
	Notify(ctx context.Context, doc model.EmailDocument) error
}

// Multi fans a notification out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, doc model.EmailDocument) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, doc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

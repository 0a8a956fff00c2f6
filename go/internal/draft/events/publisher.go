package events

import (
	"context"
	"errors"

	"github.com/mcdev12/draftroom/go/internal/models"
)

// Publisher fans a committed event out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event models.DraftEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event models.DraftEvent) error

func (f PublisherFunc) Publish(ctx context.Context, event models.DraftEvent) error {
	return f(ctx, event)
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event models.DraftEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

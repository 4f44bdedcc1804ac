package ports

import (
	"context"

	"github.com/avasilyev/contract-intel/internal/core/domain"
)

// JobSubmitter is the inbound contract for batch submissions from the
// presentation layer.
type JobSubmitter interface {
	Submit(ctx context.Context, companyID string, files []string) error
}

// JobStateReader exposes progress-log snapshots: one company scope or
// the aggregated global view.
type JobStateReader interface {
	States(scope string) (map[string]*domain.DocumentJob, error)
	AllStates() (map[string]*domain.DocumentJob, error)
}

// EventStream hands out live progress-event subscriptions.
type EventStream interface {
	Subscribe() *Subscription
	Unsubscribe(sub *Subscription)
}

// Subscription is a private bounded delivery queue for one observer.
// The channel is closed when the subscriber is dropped or unsubscribed.
type Subscription struct {
	C  <-chan domain.ProgressEvent
	ID uint64
}

package bootstrap

import (
	"context"
	"time"

	"github.com/avasilyev/contract-intel/internal/core/domain"
	"github.com/avasilyev/contract-intel/internal/core/ports"
	"github.com/avasilyev/contract-intel/internal/infrastructure/eventbus"
	"github.com/avasilyev/contract-intel/internal/observability/metrics"
)

// relayMetrics translates bus events into Prometheus counters. It runs
// until the context is cancelled or the bus drops the subscription.
func relayMetrics(ctx context.Context, bus *eventbus.Bus, sub *ports.Subscription, m *metrics.PipelineMetrics) {
	defer bus.Unsubscribe(sub)

	batchStarts := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			observeEvent(event, batchStarts, m)
			m.SetBusSubscribers(bus.SubscriberCount())
		}
	}
}

func observeEvent(event domain.ProgressEvent, batchStarts map[string]time.Time, m *metrics.PipelineMetrics) {
	if event.CompanyID != "" {
		if _, seen := batchStarts[event.CompanyID]; !seen {
			batchStarts[event.CompanyID] = time.Now()
			m.BatchStarted()
		}
	}

	switch event.Type {
	case domain.EventPageCompleted:
		m.PageProcessed(false)
	case domain.EventPageFailed:
		m.PageProcessed(true)
	case domain.EventRetry:
		m.RetryObserved()
	case domain.EventFieldExtracted:
		m.FieldExtracted()
	case domain.EventFileCompleted:
		m.FileFinished(false)
	case domain.EventFileError:
		m.FileFinished(true)
	case domain.EventAllCompleted, domain.EventProcessError:
		start, seen := batchStarts[event.CompanyID]
		if !seen {
			return
		}
		delete(batchStarts, event.CompanyID)
		m.BatchFinished(time.Since(start), event.Type == domain.EventProcessError)
	}
}

package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/avasilyev/contract-intel/internal/core/domain"
	"github.com/avasilyev/contract-intel/internal/core/ports"
	"github.com/avasilyev/contract-intel/internal/infrastructure/resilience"
)

// Queue is the NATS face of the pipeline: inbound batch submissions on
// one subject, outbound progress events relayed to another.
type Queue struct {
	conn          *nats.Conn
	submitSubject string
	eventSubject  string
	executor      *resilience.Executor
	logger        *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, submitSubject, eventSubject string) (*Queue, error) {
	return NewWithOptions(url, submitSubject, eventSubject, Options{})
}

func NewWithOptions(url, submitSubject, eventSubject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("contract-intel"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:          conn,
		submitSubject: submitSubject,
		eventSubject:  eventSubject,
		executor:      options.ResilienceExecutor,
		logger:        logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// submitRequest is the wire shape of one batch submission.
type submitRequest struct {
	CompanyID string   `json:"company_id"`
	Files     []string `json:"files"`
}

// SubscribeSubmissions feeds inbound batch submissions into the
// scheduler until ctx is cancelled. Duplicate-company rejections are
// logged, not redelivered.
func (q *Queue) SubscribeSubmissions(ctx context.Context, submitter ports.JobSubmitter) error {
	sub, err := q.conn.QueueSubscribe(q.submitSubject, "workers", func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		var req submitRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			q.logger.Error("malformed submission message", "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := submitter.Submit(handlerCtx, req.CompanyID, req.Files); err != nil {
			if domain.IsKind(err, domain.ErrDuplicateJob) {
				q.logger.Warn("submission rejected, company busy", "company_id", req.CompanyID)
				return
			}
			q.logger.Error("submission failed", "company_id", req.CompanyID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// PublishProgressEvent forwards one pipeline event to the event subject
// for external observers.
func (q *Queue) PublishProgressEvent(ctx context.Context, event domain.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.eventSubject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// RelayEvents drains one bus subscription into NATS until the channel
// closes or ctx is cancelled. Best-effort: publish errors are logged.
func (q *Queue) RelayEvents(ctx context.Context, sub *ports.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if err := q.PublishProgressEvent(ctx, event); err != nil {
				q.logger.Warn("event relay publish failed", "type", event.Type, "error", err)
			}
		}
	}
}

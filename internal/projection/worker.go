package projection

import (
	"context"

	"MarginLedger/internal/book"
	"MarginLedger/internal/core"
	"MarginLedger/internal/observability"

	"github.com/rs/zerolog"
)

// History receives the history rows of live notifications.
type History interface {
	Apply(ctx context.Context, n core.Notification) error
}

// Publisher receives order events and balance messages.
type Publisher interface {
	PublishOrder(ctx context.Context, ev core.EventCode, o *book.Order) error
	PublishBalance(ctx context.Context, r *core.BalanceRecord) error
}

// ProjectionWorker drains the engine's notification channel into history
// and the outbound publisher.
// The channel is non-blocking with drop on the engine side; a failure here
// is logged and the worker moves on, since both sinks are derived data.
type ProjectionWorker struct {
	inputChan <-chan core.Notification
	history   History
	publisher Publisher
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewProjectionWorker accepts a nil history or publisher to disable it.
func NewProjectionWorker(
	inputChan <-chan core.Notification,
	history History,
	publisher Publisher,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		inputChan: inputChan,
		history:   history,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run processes notifications until the channel closes or ctx is done.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			pw.process(ctx, n)
		}
	}
}

func (pw *ProjectionWorker) process(ctx context.Context, n core.Notification) {
	switch n.Kind {
	case core.NoteOrderEvent:
		if pw.publisher == nil {
			return
		}
		if err := pw.publisher.PublishOrder(ctx, n.Event, n.Order); err != nil {
			pw.dropped()
			pw.fail("publish_order", err)
		}
	case core.NoteBalanceMessage:
		if pw.publisher == nil {
			return
		}
		if err := pw.publisher.PublishBalance(ctx, n.Balance); err != nil {
			pw.dropped()
			pw.fail("publish_balance", err)
		}
	default:
		if pw.history == nil {
			return
		}
		if err := pw.history.Apply(ctx, n); err != nil {
			pw.fail("history", err)
		}
	}
}

func (pw *ProjectionWorker) fail(op string, err error) {
	pw.logger.Warn().Err(err).Str("op", op).Msg("projection update failed")
	if pw.metrics != nil {
		pw.metrics.ConsistencyErrors.WithLabelValues(op).Inc()
	}
}

func (pw *ProjectionWorker) dropped() {
	if pw.metrics != nil {
		pw.metrics.PublishDrops.Inc()
	}
}

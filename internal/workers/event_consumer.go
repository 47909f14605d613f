package workers

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"hookline/internal/engine/webhooks"
	"hookline/internal/platform/config"
	"hookline/internal/platform/metrics"
	"hookline/internal/platform/models"
	"hookline/internal/platform/queue"
)

// EventSource is the queue the consumer drains. Every dequeued message is
// either acknowledged or retried.
type EventSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Message, error)
	Ack(ctx context.Context, msg *queue.Message) error
	Retry(ctx context.Context, msg *queue.Message, delay time.Duration) error
	SaveResult(ctx context.Context, result *models.DispatchResult, ttl time.Duration) error
	Len(ctx context.Context) (int64, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, event *models.Event) (*models.DispatchResult, error)
}

// EventConsumer pops queued events and dispatches them.
type EventConsumer struct {
	source     EventSource
	dispatcher Dispatcher
	cfg        config.WorkerConfig
}

func NewEventConsumer(source EventSource, dispatcher Dispatcher, cfg config.WorkerConfig) *EventConsumer {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &EventConsumer{source: source, dispatcher: dispatcher, cfg: cfg}
}

// Run starts cfg.Concurrency consumers and blocks until ctx is cancelled.
func (c *EventConsumer) Run(ctx context.Context) error {
	log.Info().Int("concurrency", c.cfg.Concurrency).Msg("Event consumer started")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Concurrency; i++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				if _, err := c.ProcessOne(ctx); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("Queue read failed")
					// Avoid spinning while Redis is unreachable.
					select {
					case <-ctx.Done():
					case <-time.After(time.Second):
					}
				}
			}
			return nil
		})
	}

	err := g.Wait()
	log.Info().Msg("Event consumer stopped")
	return err
}

// ProcessOne handles at most one event. It reports whether an event was
// taken from the queue; errors are queue failures only.
//
// An event whose dispatch was interrupted by ctx goes back on the queue, so
// shutting a worker down never drops deliveries that still had attempts left.
func (c *EventConsumer) ProcessOne(ctx context.Context) (bool, error) {
	msg, err := c.source.Dequeue(ctx, c.cfg.PollTimeout)
	if err != nil {
		return false, err
	}
	if msg == nil {
		c.reportDepth(ctx)
		return false, nil
	}
	event := msg.Event

	logger := log.With().Str("event_id", event.ID).Str("event_type", event.Type).Logger()

	result, err := c.dispatcher.Dispatch(ctx, event)
	// Queue bookkeeping must finish even during shutdown.
	bg := context.WithoutCancel(ctx)

	switch {
	case errors.Is(err, webhooks.ErrResolution):
		logger.Warn().Err(err).Dur("delay", c.cfg.RequeueDelay).Msg("Requeueing event after resolution failure")
		c.retry(bg, msg, c.cfg.RequeueDelay)
		return true, nil
	case errors.Is(err, webhooks.ErrInterrupted):
		logger.Warn().Err(err).Msg("Requeueing interrupted event")
		c.retry(bg, msg, 0)
		return true, nil
	case err != nil:
		logger.Error().Err(err).Msg("Dropping event")
		c.ack(bg, msg)
		return true, nil
	}

	if err := c.source.SaveResult(bg, result, c.cfg.ResultTTL); err != nil {
		logger.Error().Err(err).Msg("Failed to store dispatch result")
	}
	c.ack(bg, msg)
	return true, nil
}

func (c *EventConsumer) retry(ctx context.Context, msg *queue.Message, delay time.Duration) {
	if err := c.source.Retry(ctx, msg, delay); err != nil {
		log.Error().Err(err).Str("event_id", msg.Event.ID).Msg("Failed to requeue event")
	}
}

func (c *EventConsumer) ack(ctx context.Context, msg *queue.Message) {
	if err := c.source.Ack(ctx, msg); err != nil {
		log.Error().Err(err).Str("event_id", msg.Event.ID).Msg("Failed to acknowledge event")
	}
}

func (c *EventConsumer) reportDepth(ctx context.Context) {
	if n, err := c.source.Len(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}

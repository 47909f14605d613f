package webhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"hookline/internal/platform/config"
	"hookline/internal/platform/metrics"
	"hookline/internal/platform/models"
)

const (
	StatusDispatched    = "dispatched"
	StatusNoSubscribers = "no matching subscribers"

	defaultMaxConcurrency = 32
)

// Registry resolves the subscribers interested in an event.
type Registry interface {
	Match(ctx context.Context, tenantID, eventType string) ([]*models.Subscriber, error)
}

// Ledger persists delivery attempts.
type Ledger interface {
	Record(ctx context.Context, attempts []*models.DeliveryAttempt) error
}

// Deliverer performs a single delivery attempt.
type Deliverer interface {
	Deliver(ctx context.Context, sub *models.Subscriber, event *models.Event, payload []byte, signature string) Outcome
}

// delivery is the final state of one subscriber within a dispatch.
type delivery int

const (
	delivered delivery = iota
	undelivered
	// interrupted means the dispatch context ended before the retry policy
	// ran out of attempts.
	interrupted
)

type Options struct {
	Policy         RetryPolicy
	MaxConcurrency int
}

// Dispatcher fans an event out to its subscribers, retrying each one
// independently and recording every attempt.
type Dispatcher struct {
	registry Registry
	ledger   Ledger
	client   Deliverer
	policy   RetryPolicy
	inFlight *semaphore.Weighted

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewDispatcher(registry Registry, ledger Ledger, client Deliverer, opts Options) *Dispatcher {
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = DefaultRetryPolicy()
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}
	return &Dispatcher{
		registry: registry,
		ledger:   ledger,
		client:   client,
		policy:   opts.Policy,
		inFlight: semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// Dispatch delivers event to every matching subscriber and returns once each
// of them has either succeeded or exhausted its attempts. Delivery failures
// are reported in the result. Errors come from event validation, subscriber
// resolution, or cancellation of ctx between attempts; in the last case the
// partial result is returned along with an error wrapping ErrInterrupted.
//
// Cancelling ctx never aborts an HTTP call in flight. It stops subscribers
// that are waiting to retry or waiting for a free delivery slot.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.Event) (*models.DispatchResult, error) {
	if err := ValidateEvent(event); err != nil {
		metrics.Dispatches.WithLabelValues("invalid").Inc()
		return nil, err
	}

	logger := log.With().
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Str("tenant_id", event.Tenant()).
		Logger()

	subs, err := d.registry.Match(ctx, event.Tenant(), event.Type)
	if err != nil {
		metrics.Dispatches.WithLabelValues("resolution_error").Inc()
		logger.Error().Err(err).Msg("Failed to resolve subscribers")
		return nil, fmt.Errorf("%w: %v", ErrResolution, err)
	}

	// The registry already filters; this guards against implementations
	// that return disabled or non-matching rows.
	matched := make([]*models.Subscriber, 0, len(subs))
	for _, s := range subs {
		if s.Matches(event.Type) {
			matched = append(matched, s)
		}
	}

	result := &models.DispatchResult{
		EventID:         event.ID,
		SubscriberCount: len(matched),
		Status:          StatusDispatched,
	}
	if len(matched) == 0 {
		result.Status = StatusNoSubscribers
		metrics.Dispatches.WithLabelValues("no_subscribers").Inc()
		logger.Debug().Msg("No subscribers for event")
		return result, nil
	}

	payload, err := Payload(event)
	if err != nil {
		metrics.Dispatches.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: encode payload: %v", ErrInvalidEvent, err)
	}

	states := make([]delivery, len(matched))
	g := new(errgroup.Group)
	for i, sub := range matched {
		g.Go(func() error {
			states[i] = d.deliver(ctx, event, sub, payload)
			return nil
		})
	}
	_ = g.Wait()

	pending := 0
	for _, st := range states {
		switch st {
		case delivered:
			result.SuccessCount++
		case interrupted:
			pending++
			result.FailureCount++
		default:
			result.FailureCount++
		}
	}

	if pending > 0 {
		metrics.Dispatches.WithLabelValues("interrupted").Inc()
		logger.Warn().
			Int("subscribers", result.SubscriberCount).
			Int("succeeded", result.SuccessCount).
			Int("pending", pending).
			Msg("Event dispatch interrupted")
		return result, fmt.Errorf("%w: %d of %d subscribers pending: %w", ErrInterrupted, pending, result.SubscriberCount, ctx.Err())
	}

	outcome := "complete"
	if result.FailureCount > 0 {
		outcome = "partial"
	}
	metrics.Dispatches.WithLabelValues(outcome).Inc()

	logger.Info().
		Int("subscribers", result.SubscriberCount).
		Int("succeeded", result.SuccessCount).
		Int("failed", result.FailureCount).
		Msg("Event dispatched")

	return result, nil
}

// deliver runs the attempt loop for one subscriber. Only HTTP calls hold a
// slot of the concurrency limit; backoff waits do not.
func (d *Dispatcher) deliver(ctx context.Context, event *models.Event, sub *models.Subscriber, payload []byte) (state delivery) {
	logger := log.With().
		Str("event_id", event.ID).
		Str("subscriber_id", sub.ID).
		Str("url", sub.URL).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Webhook delivery panicked")
			state = undelivered
		}
	}()

	policy := d.policy.For(sub)
	signature, signErr := Sign(sub.Secret, payload)

	for attempt := 1; ; attempt++ {
		var out Outcome
		if signErr != nil {
			out = Outcome{Err: signErr}
		} else {
			err := ctx.Err()
			if err == nil {
				err = d.inFlight.Acquire(ctx, 1)
			}
			if err != nil {
				logger.Warn().Err(err).Int("attempt", attempt).Msg("Webhook delivery interrupted before attempt")
				return interrupted
			}
			// The client timeout bounds the call; cancellation only applies
			// between attempts.
			out = d.attempt(context.WithoutCancel(ctx), sub, event, payload, signature)
			d.inFlight.Release(1)
		}

		retry := !out.Success && signErr == nil &&
			policy.ShouldRetry(attempt) && policy.Retryable(out)

		status := models.DeliverySuccess
		switch {
		case out.Success:
		case retry:
			status = models.DeliveryRetrying
		default:
			status = models.DeliveryFailed
		}

		d.record(ctx, event, sub, attempt, status, out)

		ev := logger.Debug()
		if !out.Success {
			ev = logger.Warn()
		}
		ev.Int("attempt", attempt).
			Str("status", string(status)).
			Str("error", out.ErrorMessage()).
			Dur("duration", out.Duration).
			Msg("Webhook delivery attempt")

		if out.Success {
			return delivered
		}
		if !retry {
			return undelivered
		}

		if err := d.sleep(ctx, policy.Delay(attempt)); err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Webhook retries interrupted")
			return interrupted
		}
	}
}

// attempt calls the client, turning a panic into a failed outcome so the
// delivery slot is always released.
func (d *Dispatcher) attempt(ctx context.Context, sub *models.Subscriber, event *models.Event, payload []byte, signature string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Err: fmt.Errorf("delivery panicked: %v", r)}
		}
	}()
	return d.client.Deliver(ctx, sub, event, payload, signature)
}

func (d *Dispatcher) record(ctx context.Context, event *models.Event, sub *models.Subscriber, attempt int, status models.DeliveryStatus, out Outcome) {
	metrics.ObserveDelivery(event.Type, string(status), out.Duration)

	row := &models.DeliveryAttempt{
		DeliveryID:    out.DeliveryID,
		TenantID:      event.Tenant(),
		SubscriberID:  sub.ID,
		EventID:       event.ID,
		EventType:     event.Type,
		AttemptNumber: attempt,
		Status:        status,
		StatusCode:    out.StatusCode,
		ResponseBody:  out.ResponseBody,
		ErrorMessage:  out.ErrorMessage(),
		DurationMs:    out.Duration.Milliseconds(),
		CompletedAt:   d.now().Unix(),
	}
	if row.DeliveryID == "" {
		row.DeliveryID = uuid.New().String()
	}

	// Attempts are recorded even when the dispatch context is cancelled.
	if err := d.ledger.Record(context.WithoutCancel(ctx), []*models.DeliveryAttempt{row}); err != nil {
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("subscriber_id", sub.ID).
			Int("attempt", attempt).
			Msg("Failed to record delivery attempt")
	}
}

// NewDispatcherFromConfig wires a Dispatcher with an HTTP client and retry
// policy built from cfg.
func NewDispatcherFromConfig(cfg config.WebhooksConfig, registry Registry, ledger Ledger) *Dispatcher {
	return NewDispatcher(registry, ledger, NewClient(cfg), Options{
		Policy:         NewRetryPolicy(cfg),
		MaxConcurrency: cfg.MaxConcurrency,
	})
}

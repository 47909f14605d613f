package webhooks

import "errors"

var (
	// ErrResolution wraps registry failures; dispatch is aborted and the
	// producer may resubmit the event.
	ErrResolution = errors.New("webhooks: subscriber resolution failed")

	// ErrInterrupted is returned when the dispatch context ends while some
	// subscribers still had attempts left. The event must be dispatched again.
	ErrInterrupted = errors.New("webhooks: dispatch interrupted")

	ErrInvalidEvent      = errors.New("webhooks: invalid event")
	ErrInvalidSubscriber = errors.New("webhooks: invalid subscriber")
	ErrEmptySecret       = errors.New("webhooks: empty signing secret")
)

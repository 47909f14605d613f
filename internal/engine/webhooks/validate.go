package webhooks

import (
	"fmt"
	"net/http"
	"strings"

	"hookline/internal/pkg/validator"
	"hookline/internal/platform/models"
)

const MaxAttemptsLimit = 20

var protectedHeaders = map[string]bool{
	http.CanonicalHeaderKey(HeaderSignature):  true,
	http.CanonicalHeaderKey(HeaderDeliveryID): true,
}

// ValidateSubscriber checks a subscriber before it is stored. Errors wrap
// ErrInvalidSubscriber.
func ValidateSubscriber(s *models.Subscriber) error {
	if err := validator.IsHTTPURL(s.URL); err != nil {
		return invalidSubscriber(err.Error())
	}
	if s.Secret == "" {
		return invalidSubscriber("secret is required")
	}
	if s.EventFilter != models.WildcardFilter {
		if err := validator.IsEventType(s.EventFilter); err != nil {
			return invalidSubscriber("event_filter: " + err.Error())
		}
	}
	for name, value := range s.Headers {
		if err := validator.IsHeaderName(name); err != nil {
			return invalidSubscriber(err.Error())
		}
		if protectedHeaders[http.CanonicalHeaderKey(name)] {
			return invalidSubscriber(fmt.Sprintf("header %s cannot be overridden", name))
		}
		if err := validator.IsHeaderValue(value); err != nil {
			return invalidSubscriber(fmt.Sprintf("header %s: %v", name, err))
		}
	}
	if s.MaxAttempts < 0 || s.MaxAttempts > MaxAttemptsLimit {
		return invalidSubscriber(fmt.Sprintf("max_attempts must be between 0 and %d", MaxAttemptsLimit))
	}
	if s.BaseBackoff < 0 {
		return invalidSubscriber("base_backoff_ms must not be negative")
	}
	if strings.TrimSpace(s.Name) == "" {
		return invalidSubscriber("name is required")
	}
	return nil
}

// ValidateEvent checks an event before dispatch. Errors wrap ErrInvalidEvent.
func ValidateEvent(e *models.Event) error {
	if e == nil {
		return fmt.Errorf("%w: event is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	}
	if err := validator.IsEventType(e.Type); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

func invalidSubscriber(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidSubscriber, msg)
}

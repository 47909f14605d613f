package models

import (
	"encoding/json"
	"time"
)

// DefaultTenantID is used for events and subscribers that carry no tenant.
const DefaultTenantID = "default"

// WildcardFilter matches every event type.
const WildcardFilter = "*"

// Subscriber is a tenant's webhook definition.
type Subscriber struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Secret      string            `json:"-"`
	EventFilter string            `json:"event_filter"` // "<noun>/<verb>" or "*"
	Enabled     bool              `json:"enabled"`
	Headers     map[string]string `json:"headers,omitempty"`
	MaxAttempts int               `json:"max_attempts,omitempty"` // 0 means service default
	BaseBackoff time.Duration     `json:"base_backoff_ms,omitempty"`
	CreatedAt   int64             `json:"created_at"`
	UpdatedAt   int64             `json:"updated_at"`
}

// MarshalJSON renders BaseBackoff in milliseconds and replaces the secret
// with a short hint.
func (s Subscriber) MarshalJSON() ([]byte, error) {
	type alias Subscriber
	return json.Marshal(struct {
		alias
		BaseBackoff int64  `json:"base_backoff_ms,omitempty"`
		SecretHint  string `json:"secret_hint"`
	}{
		alias:       alias(s),
		BaseBackoff: s.BaseBackoff.Milliseconds(),
		SecretHint:  MaskSecret(s.Secret),
	})
}

// Matches reports whether the subscriber wants events of eventType.
func (s *Subscriber) Matches(eventType string) bool {
	return s.Enabled && (s.EventFilter == WildcardFilter || s.EventFilter == eventType)
}

// MaskSecret keeps only the last four characters of a secret.
func MaskSecret(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Event is an immutable domain fact submitted for dispatch.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	TenantID  string                 `json:"tenantId,omitempty"`
	Data      map[string]interface{} `json:"data"`
	User      Actor                  `json:"user"`
	Timestamp time.Time              `json:"timestamp"`
}

// Tenant returns the event's tenant or DefaultTenantID.
func (e *Event) Tenant() string {
	if e.TenantID == "" {
		return DefaultTenantID
	}
	return e.TenantID
}

// WebhookPayload is the body sent to subscribers.
type WebhookPayload struct {
	Event     string                 `json:"event"`
	Data      map[string]interface{} `json:"data"`
	User      Actor                  `json:"user"`
	Timestamp time.Time              `json:"timestamp"`
}

type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryRetrying DeliveryStatus = "retrying"
)

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliverySuccess, DeliveryFailed, DeliveryRetrying:
		return true
	}
	return false
}

// DeliveryAttempt is one HTTP call made for one (subscriber, event) pair.
type DeliveryAttempt struct {
	ID            int64          `json:"id"`
	DeliveryID    string         `json:"delivery_id"` // value of X-Delivery-Id
	TenantID      string         `json:"tenant_id"`
	SubscriberID  string         `json:"subscriber_id"`
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	AttemptNumber int            `json:"attempt_number"`
	Status        DeliveryStatus `json:"status"`
	StatusCode    *int           `json:"status_code,omitempty"`
	ResponseBody  string         `json:"response_body,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	CompletedAt   int64          `json:"completed_at"`
}

// DeliveryFilter narrows ledger queries. Empty fields are unconstrained.
type DeliveryFilter struct {
	TenantID     string
	SubscriberID string
	EventID      string
	Status       DeliveryStatus
}

type DispatchResult struct {
	EventID         string `json:"event_id"`
	SubscriberCount int    `json:"subscriberCount"`
	SuccessCount    int    `json:"successCount"`
	FailureCount    int    `json:"failureCount"`
	Status          string `json:"status"`
}

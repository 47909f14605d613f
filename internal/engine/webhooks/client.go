package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"hookline/internal/platform/config"
	"hookline/internal/platform/models"
)

const (
	HeaderSignature  = "X-Signature"
	HeaderEventType  = "X-Event-Type"
	HeaderDeliveryID = "X-Delivery-Id"

	defaultBodyLimit = 1000
	defaultUserAgent = "hookline-webhooks/1.0"
)

// Outcome describes a single HTTP delivery attempt.
type Outcome struct {
	DeliveryID   string
	Success      bool
	StatusCode   *int // nil when no response was received
	ResponseBody string
	Err          error
	Duration     time.Duration
}

// ErrorMessage is the text stored in the ledger for a failed attempt.
func (o Outcome) ErrorMessage() string {
	switch {
	case o.Err != nil:
		return o.Err.Error()
	case o.Success:
		return ""
	case o.StatusCode != nil:
		return fmt.Sprintf("HTTP %d", *o.StatusCode)
	}
	return ""
}

// Client performs one signed POST per call and never retries.
type Client struct {
	http      *http.Client
	bodyLimit int
	userAgent string
}

func NewClient(cfg config.WebhooksConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := cfg.ResponseBodyLimit
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &Client{
		http: &http.Client{
			Timeout: timeout,
			// Subscribers must answer at the registered URL.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		bodyLimit: limit,
		userAgent: ua,
	}
}

// Deliver POSTs payload to the subscriber. A 2xx response is a success;
// anything else, including transport errors, is a failure.
func (c *Client) Deliver(ctx context.Context, sub *models.Subscriber, event *models.Event, payload []byte, signature string) (out Outcome) {
	out.DeliveryID = uuid.New().String()
	start := time.Now()
	defer func() { out.Duration = time.Since(start) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		out.Err = err
		return out
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(HeaderEventType, event.Type)
	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}
	// Signature and delivery id are never taken from subscriber headers.
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderDeliveryID, out.DeliveryID)

	resp, err := c.http.Do(req)
	if err != nil {
		out.Err = err
		return out
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	out.StatusCode = &code
	out.Success = code >= 200 && code < 300

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.bodyLimit)))
	if err != nil && !out.Success {
		out.Err = fmt.Errorf("HTTP %d: read body: %w", code, err)
	}
	if len(body) == c.bodyLimit {
		body = trimPartialRune(body)
	}
	out.ResponseBody = string(body)

	// Drain a bounded remainder so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return out
}

// trimPartialRune drops a trailing UTF-8 sequence cut short by the body limit.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			return b
		}
	}
	return b
}

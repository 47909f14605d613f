package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hookline/internal/platform/config"
	"hookline/internal/platform/models"
)

func testEvent() *models.Event {
	return &models.Event{
		ID:        "evt_1",
		Type:      "claim/opened",
		Data:      map[string]interface{}{"claimNumber": "CLM-001"},
		User:      models.Actor{ID: "u1", Email: "adjuster@example.com"},
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestClient_Deliver_Success(t *testing.T) {
	var got *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	sub := &models.Subscriber{
		URL:     srv.URL,
		Secret:  "s",
		Headers: map[string]string{"X-Env": "test", HeaderSignature: "forged"},
	}
	payload := []byte(`{"event":"claim/opened"}`)

	c := NewClient(config.WebhooksConfig{UserAgent: "hookline-test"})
	out := c.Deliver(context.Background(), sub, testEvent(), payload, "sha256=abc")

	require.True(t, out.Success)
	require.NotNil(t, out.StatusCode)
	assert.Equal(t, http.StatusAccepted, *out.StatusCode)
	assert.Equal(t, "ok", out.ResponseBody)
	assert.NoError(t, out.Err)
	assert.Empty(t, out.ErrorMessage())
	assert.NotEmpty(t, out.DeliveryID)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, payload, body)
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "sha256=abc", got.Header.Get(HeaderSignature))
	assert.Equal(t, "claim/opened", got.Header.Get(HeaderEventType))
	assert.Equal(t, out.DeliveryID, got.Header.Get(HeaderDeliveryID))
	assert.Equal(t, "hookline-test", got.Header.Get("User-Agent"))
	assert.Equal(t, "test", got.Header.Get("X-Env"))
}

func TestClient_Deliver_TruncatesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer srv.Close()

	out := NewClient(config.WebhooksConfig{}).Deliver(context.Background(), &models.Subscriber{URL: srv.URL}, testEvent(), []byte("{}"), "sig")

	assert.False(t, out.Success)
	require.NotNil(t, out.StatusCode)
	assert.Equal(t, 500, *out.StatusCode)
	assert.Len(t, out.ResponseBody, 1000)
	assert.Equal(t, "HTTP 500", out.ErrorMessage())
}

func TestClient_Deliver_TruncatesOnRuneBoundary(t *testing.T) {
	// Byte 999 is the first half of a two-byte rune.
	body := "a" + strings.Repeat("é", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	out := NewClient(config.WebhooksConfig{}).Deliver(context.Background(), &models.Subscriber{URL: srv.URL}, testEvent(), []byte("{}"), "sig")

	assert.True(t, utf8.ValidString(out.ResponseBody))
	assert.Len(t, out.ResponseBody, 999)
	assert.True(t, strings.HasPrefix(body, out.ResponseBody))
}

func TestTrimPartialRune(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"ascii", []byte("abc"), []byte("abc")},
		{"complete rune", []byte("aé"), []byte("aé")},
		{"split two byte rune", []byte("a\xc3"), []byte("a")},
		{"split four byte rune", []byte("a\xf0\x9f\x98"), []byte("a")},
		{"complete four byte rune", []byte("a\xf0\x9f\x98\x80"), []byte("a\xf0\x9f\x98\x80")},
		{"empty", []byte{}, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, trimPartialRune(tt.in))
		})
	}
}

func TestClient_Deliver_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out := NewClient(config.WebhooksConfig{}).Deliver(context.Background(), &models.Subscriber{URL: url}, testEvent(), []byte("{}"), "sig")

	assert.False(t, out.Success)
	assert.Nil(t, out.StatusCode)
	assert.Error(t, out.Err)
	assert.NotEmpty(t, out.ErrorMessage())
}

func TestClient_Deliver_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(config.WebhooksConfig{Timeout: 50 * time.Millisecond})
	out := c.Deliver(context.Background(), &models.Subscriber{URL: srv.URL}, testEvent(), []byte("{}"), "sig")

	assert.False(t, out.Success)
	assert.Nil(t, out.StatusCode)
	assert.Error(t, out.Err)
	assert.Greater(t, out.Duration, time.Duration(0))
}

func TestClient_Deliver_RedirectIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	out := NewClient(config.WebhooksConfig{}).Deliver(context.Background(), &models.Subscriber{URL: srv.URL}, testEvent(), []byte("{}"), "sig")

	assert.False(t, out.Success)
	require.NotNil(t, out.StatusCode)
	assert.Equal(t, http.StatusFound, *out.StatusCode)
}

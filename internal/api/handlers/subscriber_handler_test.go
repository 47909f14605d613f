package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hookline/internal/platform/audit"
	"hookline/internal/platform/config"
	"hookline/internal/platform/database"
	"hookline/internal/platform/repositories"
	"hookline/internal/platform/secrets"
)

func newSubscriberHandler(t *testing.T) *SubscriberHandler {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = database.Migrate(context.Background(), db)
	require.NoError(t, err)

	sealer, err := secrets.NewSealer("test-master-key")
	require.NoError(t, err)
	return NewSubscriberHandler(repositories.NewSubscriberRepository(db, sealer), audit.NewLogger(db))
}

func TestSubscriberHandler_Lifecycle(t *testing.T) {
	h := newSubscriberHandler(t)

	rr := httptest.NewRecorder()
	h.Create(rr, tenantRequest("POST", "/api/v1/subscribers", map[string]interface{}{
		"name":         "claims-sync",
		"url":          "https://example.com/hook",
		"secret":       "whsec_abcdef",
		"event_filter": "claim/opened",
		"headers":      map[string]string{"Authorization": "Bearer downstream"},
	}, "acme", nil))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	id := created["id"].(string)
	assert.Equal(t, "****cdef", created["secret_hint"])
	assert.NotContains(t, created, "secret")
	assert.Equal(t, true, created["enabled"])

	params := httprouter.Params{{Key: "subscriber_id", Value: id}}

	rr = httptest.NewRecorder()
	h.Get(rr, tenantRequest("GET", "/api/v1/subscribers/"+id, nil, "other", params))
	assert.Equal(t, http.StatusNotFound, rr.Code, "subscribers are tenant scoped")

	rr = httptest.NewRecorder()
	h.Update(rr, tenantRequest("PATCH", "/api/v1/subscribers/"+id, map[string]interface{}{"enabled": false, "max_attempts": 5}, "acme", params))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var updated map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&updated))
	assert.Equal(t, false, updated["enabled"])
	assert.Equal(t, float64(5), updated["max_attempts"])
	assert.Equal(t, "claims-sync", updated["name"])

	rr = httptest.NewRecorder()
	h.List(rr, tenantRequest("GET", "/api/v1/subscribers", nil, "acme", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var list []map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	assert.Len(t, list, 1)

	rr = httptest.NewRecorder()
	h.Delete(rr, tenantRequest("DELETE", "/api/v1/subscribers/"+id, nil, "acme", params))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	h.Delete(rr, tenantRequest("DELETE", "/api/v1/subscribers/"+id, nil, "acme", params))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSubscriberHandler_CreateValidation(t *testing.T) {
	h := newSubscriberHandler(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing secret", map[string]interface{}{"name": "a", "url": "https://example.com", "event_filter": "*"}},
		{"bad url", map[string]interface{}{"name": "a", "url": "example.com", "secret": "s", "event_filter": "*"}},
		{"bad filter", map[string]interface{}{"name": "a", "url": "https://example.com", "secret": "s", "event_filter": "claims"}},
		{"protected header", map[string]interface{}{"name": "a", "url": "https://example.com", "secret": "s", "event_filter": "*", "headers": map[string]string{"X-Signature": "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.Create(rr, tenantRequest("POST", "/api/v1/subscribers", tt.body, "default", nil))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

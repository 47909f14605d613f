package webhooks

import (
	"encoding/json"

	"hookline/internal/platform/models"
)

// Payload renders the request body for event. It is computed once per
// dispatch so every subscriber receives, and signs over, the same bytes.
func Payload(event *models.Event) ([]byte, error) {
	data := event.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	return json.Marshal(models.WebhookPayload{
		Event:     event.Type,
		Data:      data,
		User:      event.User,
		Timestamp: event.Timestamp,
	})
}

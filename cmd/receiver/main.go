// Command receiver is a minimal webhook endpoint that verifies X-Signature
// before accepting a delivery.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	"hookline/internal/engine/webhooks"
	"hookline/internal/pkg/logger"
	"hookline/internal/platform/config"
	"hookline/internal/platform/models"
)

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	secret := flag.String("secret", os.Getenv("WEBHOOK_SECRET"), "Shared signing secret")
	flag.Parse()

	logger.Init(config.LoggingConfig{Level: "debug", Format: "text"}, "receiver")

	if *secret == "" {
		log.Fatal().Msg("a signing secret is required (-secret or WEBHOOK_SECRET)")
	}

	http.Handle("/", newReceiver(*secret))

	log.Info().Str("addr", *addr).Msg("Receiver listening")
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Receiver failed")
	}
}

func newReceiver(secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if !webhooks.Verify(body, r.Header.Get(webhooks.HeaderSignature), secret) {
			log.Warn().Str("delivery_id", r.Header.Get(webhooks.HeaderDeliveryID)).Msg("Rejected delivery with bad signature")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var payload models.WebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		log.Info().
			Str("delivery_id", r.Header.Get(webhooks.HeaderDeliveryID)).
			Str("event", payload.Event).
			Str("actor", payload.User.ID).
			Time("timestamp", payload.Timestamp).
			Msg("Delivery accepted")

		w.WriteHeader(http.StatusNoContent)
	}
}

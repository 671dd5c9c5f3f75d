package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/tickettoken/settlement/api/responses"
	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/provider"
)

const defaultMaxPayload = int64(1 << 20)

// Inbox stores verified provider events for the webhook worker.
type Inbox interface {
	Enqueue(ctx context.Context, provider, eventID, eventType string, payload json.RawMessage) (bool, error)
}

type SigningSecretSource interface {
	SigningSecret() string
}

// StripeWebhook verifies a Stripe delivery and stores it in the inbox. It does
// not apply the event; the webhook worker drains the inbox. A redelivered
// event answers 200 without a second row.
func StripeWebhook(in Inbox, client SigningSecretSource, maxPayload int64, logg *logger.Logger) http.HandlerFunc {
	if maxPayload <= 0 {
		maxPayload = defaultMaxPayload
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if in == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook inbox unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayload))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEventWithOptions(payload, sigHeader, client.SigningSecret(), webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe signature"))
			return
		}

		inserted, err := in.Enqueue(ctx, provider.NameStripe, event.ID, string(event.Type), json.RawMessage(payload))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue webhook"))
			return
		}

		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"event_id":   event.ID,
				"event_type": string(event.Type),
				"duplicate":  !inserted,
			}), "stripe webhook received")
		}
		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}

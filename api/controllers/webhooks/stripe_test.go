package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	internalwebhooks "github.com/tickettoken/settlement/internal/webhooks"
	"github.com/tickettoken/settlement/pkg/db"
	"github.com/tickettoken/settlement/pkg/db/dbtest"
	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/logger"
)

const testSecret = "whsec_test"

type fakeSigningClient struct {
	secret string
}

func (c *fakeSigningClient) SigningSecret() string {
	return c.secret
}

func newIntake(t *testing.T, maxPayload int64) (http.HandlerFunc, *db.Client) {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := internalwebhooks.NewService(internalwebhooks.ServiceParams{
		Repository: internalwebhooks.NewRepository(client.DB()),
		Handler: internalwebhooks.HandlerFunc(func(_ context.Context, _ models.WebhookInboxEntry) error {
			return nil
		}),
		Logger: logg,
	})
	if err != nil {
		t.Fatalf("inbox setup: %v", err)
	}
	return StripeWebhook(svc, &fakeSigningClient{secret: testSecret}, maxPayload, logg), client
}

func inboxRows(t *testing.T, client *db.Client) int64 {
	t.Helper()
	var count int64
	if err := client.DB().Model(&models.WebhookInboxEntry{}).Count(&count).Error; err != nil {
		t.Fatalf("count inbox: %v", err)
	}
	return count
}

func post(handler http.Handler, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookEnqueuesOnceAcrossRedelivery(t *testing.T) {
	handler, client := newIntake(t, 0)
	payload, header := buildSignedEvent(t)

	first := post(handler, payload, header)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", first.Code, first.Body.String())
	}
	second := post(handler, payload, header)
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d (%s)", second.Code, second.Body.String())
	}
	if got := inboxRows(t, client); got != 1 {
		t.Fatalf("expected one inbox row, got %d", got)
	}

	var entry models.WebhookInboxEntry
	if err := client.DB().First(&entry).Error; err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry.Provider != "stripe" || entry.EventType != "payment_intent.succeeded" {
		t.Fatalf("unexpected entry %s/%s", entry.Provider, entry.EventType)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	handler, client := newIntake(t, 0)
	payload, _ := buildSignedEvent(t)

	rec := post(handler, payload, "t=1,v1=invalid")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid signature, got %d", rec.Code)
	}
	if rec := post(handler, payload, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing signature, got %d", rec.Code)
	}
	if got := inboxRows(t, client); got != 0 {
		t.Fatalf("expected no inbox rows, got %d", got)
	}
}

func TestStripeWebhookRejectsOversizedPayload(t *testing.T) {
	handler, client := newIntake(t, 64)
	payload, header := buildSignedEvent(t)

	rec := post(handler, payload, header)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized payload, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "payload too large") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if got := inboxRows(t, client); got != 0 {
		t.Fatalf("expected no inbox rows, got %d", got)
	}
}

func buildSignedEvent(t *testing.T) ([]byte, string) {
	t.Helper()
	intent := &stripe.PaymentIntent{
		ID:     "pi_" + uuid.NewString(),
		Status: stripe.PaymentIntentStatusSucceeded,
		Metadata: map[string]string{
			"transaction_id": uuid.NewString(),
		},
	}
	rawIntent, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventType("payment_intent.succeeded"),
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data: &stripe.EventData{
			Raw: rawIntent,
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload, buildStripeSignatureHeader(payload, testSecret, time.Now().Unix())
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

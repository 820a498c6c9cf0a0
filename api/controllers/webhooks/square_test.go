package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	squarewebhook "github.com/angelmondragon/marketloop-backend/internal/webhooks/square"
	pkgerrors "github.com/angelmondragon/marketloop-backend/pkg/errors"
	"github.com/angelmondragon/marketloop-backend/pkg/logger"
)

func TestSquareWebhook_Success(t *testing.T) {
	payload := buildPaymentEvent("COMPLETED")
	service := &fakeSquareWebhookService{}
	handler := SquareWebhook(service, &fakeSigningClient{secret: "secret"}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
	req.Header.Set("Square-Signature", buildSquareSignature(payload, "secret"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}
}

func TestSquareWebhook_InvalidSignature(t *testing.T) {
	payload := buildPaymentEvent("COMPLETED")
	service := &fakeSquareWebhookService{}
	handler := SquareWebhook(service, &fakeSigningClient{secret: "secret"}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
	req.Header.Set("Square-Signature", "invalid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for invalid signature, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatal("service should not be invoked on an invalid signature")
	}
}

func TestSquareWebhook_MissingSignature(t *testing.T) {
	payload := buildPaymentEvent("COMPLETED")
	service := &fakeSquareWebhookService{}
	handler := SquareWebhook(service, &fakeSigningClient{secret: "secret"}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing signature, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatal("service should not be invoked without a signature")
	}
}

func TestSquareWebhook_MalformedPayload(t *testing.T) {
	payload := []byte("{not json")
	service := &fakeSquareWebhookService{}
	handler := SquareWebhook(service, &fakeSigningClient{secret: "secret"}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
	req.Header.Set("Square-Signature", buildSquareSignature(payload, "secret"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed payload, got %d", rec.Code)
	}
}

func TestSquareWebhook_ServiceFailureSurfacesForRedelivery(t *testing.T) {
	payload := buildPaymentEvent("COMPLETED")
	service := &fakeSquareWebhookService{err: pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")}
	handler := SquareWebhook(service, &fakeSigningClient{secret: "secret"}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
	req.Header.Set("Square-Signature", buildSquareSignature(payload, "secret"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 so Square redelivers, got %d", rec.Code)
	}
}

func buildPaymentEvent(status string) []byte {
	paymentID := "sq-payment-" + uuid.NewString()
	return []byte(fmt.Sprintf(`{
  "event_id": %q,
  "type": "payment.updated",
  "data": {"type": "payment", "id": %q, "object": {"payment": {"id": %q, "status": %q}}}
}`, "evt-"+uuid.NewString(), paymentID, paymentID, status))
}

func buildSquareSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "webhook-controller-test"})
}

type fakeSquareWebhookService struct {
	calls int
	err   error
}

func (f *fakeSquareWebhookService) HandleEvent(ctx context.Context, event *squarewebhook.SquareWebhookEvent) error {
	if f.err != nil {
		return f.err
	}
	f.calls++
	return nil
}

type fakeSigningClient struct {
	secret string
}

func (c *fakeSigningClient) SigningSecret() string {
	return c.secret
}

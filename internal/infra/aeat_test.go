package infra

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() SubmissionRequest {
	return SubmissionRequest{
		IdempotencyKey: "INV-0001",
		IssuerTaxID:    "B12345678",
		IssuerName:     "Eva Tienda SL",
		InvoiceNumber:  "INV-0001",
		InvoiceDate:    "14-03-2026",
		InvoiceType:    "F2",
		BaseAmount:     "100.00",
		TaxRate:        "21.00",
		TaxAmount:      "21.00",
		TotalAmount:    "121.00",
		PreviousHash:   "0000000000000000000000000000000000000000000000000000000000000000",
		CurrentHash:    "ABCDEF",
		HashVersion:    "1",
	}
}

func sidecar(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAEATClient_Accepted(t *testing.T) {
	var seen http.Request
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = *r.Clone(context.Background())
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{"status":"accepted","code":"","message":"Correcto"}`))
	}))
	defer srv.Close()

	c := NewAEATClient(srv.URL, time.Second, nil, nil)
	res, err := c.Submit(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.True(t, res.Accepted)
	assert.Equal(t, "Correcto", res.Message)
	assert.Contains(t, res.Payload, "accepted")
	assert.Equal(t, "/registros", seen.URL.Path)
	assert.Equal(t, "INV-0001", seen.Header.Get("Idempotency-Key"))
	assert.Equal(t, "121.00", payload["total_amount"])
	assert.NotContains(t, payload, "IdempotencyKey")
	assert.NotContains(t, payload, "recipient_tax_id")
}

func TestAEATClient_RejectedIsAResult(t *testing.T) {
	srv := sidecar(t, http.StatusUnprocessableEntity, `{"status":"rejected","code":"4102","message":"NIF no identificado"}`)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	c := NewAEATClient(srv.URL, time.Second, cb, nil)

	res, err := c.Submit(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "4102", res.Code)
	assert.Equal(t, "NIF no identificado", res.Message)
	// a verdict never counts against the breaker
	assert.Equal(t, CBClosed, cb.State())
}

func TestAEATClient_ServerErrorOpensBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: time.Hour})
	c := NewAEATClient(srv.URL, time.Second, cb, nil)

	for i := 0; i < 2; i++ {
		_, err := c.Submit(context.Background(), sampleRequest())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	}
	assert.Equal(t, CBOpen, c.Breaker().State())

	_, err := c.Submit(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestAEATClient_UnexpectedStatusField(t *testing.T) {
	srv := sidecar(t, http.StatusOK, `{"status":"maybe"}`)
	_, err := NewAEATClient(srv.URL, time.Second, nil, nil).Submit(context.Background(), sampleRequest())
	assert.Error(t, err)
}

func TestAEATClient_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewAEATClient(srv.URL, 5*time.Second, nil, nil).Submit(ctx, sampleRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAEATClient_ValidateCertificateWithoutStore(t *testing.T) {
	_, err := NewAEATClient("http://localhost", 0, nil, nil).ValidateCertificate(context.Background())
	assert.Error(t, err)
}

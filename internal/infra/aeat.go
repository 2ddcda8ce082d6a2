package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SubmissionRequest is what the signing sidecar needs to build, sign and send
// one Verifactu registro to AEAT.
type SubmissionRequest struct {
	IdempotencyKey string `json:"-"`

	IssuerTaxID    string  `json:"issuer_tax_id"`
	IssuerName     string  `json:"issuer_name"`
	InvoiceNumber  string  `json:"invoice_number"`
	InvoiceDate    string  `json:"invoice_date"` // DD-MM-YYYY
	InvoiceType    string  `json:"invoice_type"` // F1 | F2 | R1 | R5
	RecipientTaxID *string `json:"recipient_tax_id,omitempty"`
	RecipientName  *string `json:"recipient_name,omitempty"`

	BaseAmount  string `json:"base_amount"`
	TaxRate     string `json:"tax_rate"`
	TaxAmount   string `json:"tax_amount"`
	TotalAmount string `json:"total_amount"`

	PreviousHash string `json:"previous_hash"`
	CurrentHash  string `json:"current_hash"`
	HashInput    string `json:"hash_input"`
	HashVersion  string `json:"hash_version"`
	GeneratedAt  string `json:"generated_at"`

	RectifiedInvoiceNumber *string `json:"rectified_invoice_number,omitempty"`
	RectificationReason    *string `json:"rectification_reason,omitempty"`
}

// SubmissionResult is AEAT's verdict. A rejection is a result, not an error.
type SubmissionResult struct {
	Accepted bool
	Code     string
	Message  string
	Payload  string // raw sidecar response, kept for audit
}

type sidecarResponse struct {
	Status  string `json:"status"` // "accepted" | "rejected"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AEATClient talks to the signing/transmission sidecar. The sidecar owns the
// SOAP envelope and the XAdES signature; this side only sends JSON.
type AEATClient struct {
	sidecarURL string
	httpClient *http.Client
	cb         *CircuitBreaker
	certs      *CertificateStore
}

// NewAEATClient creates a client for the submission sidecar.
func NewAEATClient(sidecarURL string, timeout time.Duration, cb *CircuitBreaker, certs *CertificateStore) *AEATClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &AEATClient{
		sidecarURL: sidecarURL,
		httpClient: &http.Client{Timeout: timeout},
		cb:         cb,
		certs:      certs,
	}
}

// Breaker exposes the circuit breaker so the retry cron can skip a tick.
func (c *AEATClient) Breaker() *CircuitBreaker { return c.cb }

// Submit posts one record. Transport failures, timeouts and 5xx answers are
// returned as errors and count against the circuit breaker.
func (c *AEATClient) Submit(ctx context.Context, req SubmissionRequest) (*SubmissionResult, error) {
	var result *SubmissionResult
	call := func() error {
		var err error
		result, err = c.post(ctx, req)
		return err
	}
	var err error
	if c.cb != nil {
		err = c.cb.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *AEATClient) post(ctx context.Context, req SubmissionRequest) (*SubmissionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("aeat: marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sidecarURL+"/registros", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("aeat: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("aeat: sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("aeat: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusUnprocessableEntity:
	default:
		return nil, fmt.Errorf("aeat: sidecar returned %d", resp.StatusCode)
	}

	var decoded sidecarResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("aeat: decode response: %w", err)
	}
	switch decoded.Status {
	case "accepted":
		return &SubmissionResult{Accepted: true, Code: decoded.Code, Message: decoded.Message, Payload: string(raw)}, nil
	case "rejected":
		return &SubmissionResult{Accepted: false, Code: decoded.Code, Message: decoded.Message, Payload: string(raw)}, nil
	default:
		return nil, fmt.Errorf("aeat: unexpected status %q", decoded.Status)
	}
}

// ValidateCertificate inspects the signing certificate bundle.
func (c *AEATClient) ValidateCertificate(_ context.Context) (*CertificateStatus, error) {
	if c.certs == nil {
		return nil, errors.New("aeat: no certificate store configured")
	}
	return c.certs.Validate(), nil
}

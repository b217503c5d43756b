package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gestaobancar/pixapi/internal/pkg/env"
)

const defaultAPIBaseURL = "https://api.mercadopago.com"

// requestTimeout bounds every gateway call; the webhook path must fail closed
// rather than hang and trigger redelivery storms.
const requestTimeout = 15 * time.Second

var (
	// ErrNotConfigured means the gateway access token is missing. Startup
	// treats this as fatal; it should never surface on a live request path.
	ErrNotConfigured = errors.New("MERCADO_PAGO_ACCESS_TOKEN is not configured")

	// ErrUnavailable covers timeouts and non-2xx responses on read paths.
	// Callers retry; the gateway's own redelivery covers the webhook path.
	ErrUnavailable = errors.New("payment gateway unavailable")
)

// RejectedError means the gateway declined a charge-creation request. It
// carries the gateway's message and any structured cause list.
type RejectedError struct {
	StatusCode int
	Message    string
	Causes     []string
}

func (e *RejectedError) Error() string {
	if len(e.Causes) > 0 {
		return fmt.Sprintf("gateway rejected request: %s | cause: %s", e.Message, strings.Join(e.Causes, "; "))
	}
	return fmt.Sprintf("gateway rejected request: %s", e.Message)
}

var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Client talks to the Mercado Pago payments API.
type Client struct {
	AccessToken string
	APIBaseURL  string
	WebhookURL  string

	HTTPClient *http.Client
}

// NewClientFromEnv builds a client from the environment. MP_WEBHOOK_URL, when
// set, is advertised to the gateway as the notification callback.
func NewClientFromEnv() *Client {
	return &Client{
		AccessToken: strings.TrimSpace(env.GetEnv("MERCADO_PAGO_ACCESS_TOKEN", "")),
		APIBaseURL:  strings.TrimRight(env.GetEnv("MERCADO_PAGO_API_URL", defaultAPIBaseURL), "/"),
		WebhookURL:  strings.TrimSpace(env.GetEnv("MP_WEBHOOK_URL", "")),
		HTTPClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// CreateCharge creates a PIX payment for an invoice. The idempotency key
// defaults to the invoice id so retried calls cannot create duplicate charges
// at the gateway.
func (c *Client) CreateCharge(ctx context.Context, in ChargeInput) (*ChargeResult, error) {
	if strings.TrimSpace(c.AccessToken) == "" {
		return nil, ErrNotConfigured
	}
	invoiceID := strings.TrimSpace(in.InvoiceID)
	if invoiceID == "" {
		return nil, errors.New("invoice id is required")
	}
	if in.Amount <= 0 {
		return nil, errors.New("amount must be positive")
	}
	email := strings.TrimSpace(in.PayerEmail)
	if !emailShape.MatchString(email) {
		return nil, errors.New("payer email is missing or malformed")
	}

	description := in.Description
	if description == "" {
		description = "Fatura " + invoiceID
	}
	externalRef := in.CorrelationRef
	if externalRef == "" {
		externalRef = invoiceID
	}
	idempotencyKey := in.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = invoiceID
	}

	payer := map[string]interface{}{
		"type":       "customer",
		"first_name": firstNameOrDefault(in.PayerName),
		"email":      email,
	}
	if digits := onlyDigits(in.PayerTaxID); digits != "" {
		payer["identification"] = map[string]string{"type": "CPF", "number": digits}
	}

	body := map[string]interface{}{
		"description":        description,
		"transaction_amount": round2(in.Amount),
		"payment_method_id":  "pix",
		"payer":              payer,
		"metadata":           map[string]string{"faturaId": invoiceID},
		"external_reference": externalRef,
	}
	if in.DueAt != nil {
		body["date_of_expiration"] = in.DueAt.Format(time.RFC3339)
	}
	if c.WebhookURL != "" {
		body["notification_url"] = c.WebhookURL
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/v1/payments", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", idempotencyKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseRejection(resp.StatusCode, raw)
	}

	var out struct {
		ID                 json.Number `json:"id"`
		Status             string      `json:"status"`
		PointOfInteraction struct {
			TransactionData struct {
				QRCode       string `json:"qr_code"`
				QRCodeBase64 string `json:"qr_code_base64"`
			} `json:"transaction_data"`
		} `json:"point_of_interaction"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode create-payment response: %w", err)
	}

	return &ChargeResult{
		PaymentID:     out.ID.String(),
		Status:        out.Status,
		QRText:        out.PointOfInteraction.TransactionData.QRCode,
		QRImageBase64: out.PointOfInteraction.TransactionData.QRCodeBase64,
		Raw:           raw,
	}, nil
}

// FetchPayment re-fetches the authoritative payment record by id.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*PaymentRecord, error) {
	if strings.TrimSpace(c.AccessToken) == "" {
		return nil, ErrNotConfigured
	}
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return nil, errors.New("payment id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+"/v1/payments/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: fetch payment %s returned HTTP %d", ErrUnavailable, id, resp.StatusCode)
	}

	var record PaymentRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode payment record: %w", err)
	}
	record.Raw = raw
	return &record, nil
}

func parseRejection(status int, raw []byte) *RejectedError {
	var body struct {
		Message string `json:"message"`
		Cause   []struct {
			Code        json.Number `json:"code"`
			Description string      `json:"description"`
		} `json:"cause"`
	}
	_ = json.Unmarshal(raw, &body)

	message := body.Message
	if message == "" {
		message = fmt.Sprintf("HTTP %d", status)
	}
	var causes []string
	for _, c := range body.Cause {
		if c.Description != "" {
			causes = append(causes, c.Description)
		} else if c.Code.String() != "" {
			causes = append(causes, c.Code.String())
		}
	}
	return &RejectedError{StatusCode: status, Message: message, Causes: causes}
}

func firstNameOrDefault(name string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return "Cliente"
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func round2(n float64) float64 {
	return math.Round(n*100) / 100
}

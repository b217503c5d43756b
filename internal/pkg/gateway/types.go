package gateway

import (
	"encoding/json"
	"time"
)

const (
	PaymentStatusApproved  = "approved"
	PaymentStatusPending   = "pending"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusExpired   = "expired"
	PaymentStatusRejected  = "rejected"
)

// ChargeInput carries everything needed to create a PIX charge.
type ChargeInput struct {
	InvoiceID      string
	Description    string
	Amount         float64
	DueAt          *time.Time
	IdempotencyKey string
	PayerName      string
	PayerTaxID     string
	PayerEmail     string
	CorrelationRef string
}

// ChargeResult is the subset of the gateway's create-payment response the
// API surfaces to callers.
type ChargeResult struct {
	PaymentID     string
	Status        string
	QRText        string
	QRImageBase64 string
	Raw           json.RawMessage
}

// PaymentRecord is the authoritative payment snapshot fetched from the
// gateway. Webhook bodies are never trusted for these fields; the record is
// always re-fetched by id.
type PaymentRecord struct {
	ID                json.Number            `json:"id"`
	Status            string                 `json:"status"`
	StatusDetail      string                 `json:"status_detail"`
	TransactionAmount float64                `json:"transaction_amount"`
	DateApproved      *time.Time             `json:"date_approved"`
	Description       string                 `json:"description"`
	ExternalReference string                 `json:"external_reference"`
	Metadata          map[string]interface{} `json:"metadata"`

	Raw json.RawMessage `json:"-"`
}

// PaymentID returns the gateway payment identifier as a string.
func (r *PaymentRecord) PaymentID() string {
	return r.ID.String()
}

// MetadataString reads a string value from the metadata map, tolerating
// missing keys and non-string values.
func (r *PaymentRecord) MetadataString(key string) string {
	if r.Metadata == nil {
		return ""
	}
	if v, ok := r.Metadata[key].(string); ok {
		return v
	}
	return ""
}

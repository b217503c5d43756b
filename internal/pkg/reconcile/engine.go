package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gestaobancar/pixapi/app/models"
	"github.com/gestaobancar/pixapi/internal/pkg/gateway"
)

const (
	ProviderMercadoPago = "mercadopago"
	ProviderPix         = "pix"
)

// invoiceDescriptionPrefix is the literal the charge creator puts in front of
// the invoice id in the human-readable payment description.
const invoiceDescriptionPrefix = "Fatura "

// Outcome classifies what a reconciliation attempt did.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeMirrored       Outcome = "mirrored"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeUnreconcilable Outcome = "unreconcilable"
)

// PaymentFetcher re-fetches the authoritative payment record from the
// gateway. Notification bodies are never trusted as source of truth.
type PaymentFetcher interface {
	FetchPayment(ctx context.Context, paymentID string) (*gateway.PaymentRecord, error)
}

// PaidPatch is the atomic "invoice is now paid" mutation handed to the store.
type PaidPatch struct {
	InvoiceID        string
	GatewayPaymentID string
	PaidAmount       *float64
	ApprovedAt       time.Time
	RawPayload       string
}

// Store is the durable-store surface the engine needs. MarkInvoicePaid must
// be conditional: it reports applied=false when the invoice is already paid,
// decided inside the write itself so concurrent duplicate deliveries cannot
// both succeed.
type Store interface {
	RecordEvent(ctx context.Context, event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkEventProcessed(ctx context.Context, eventID uint, processingError string) error
	MarkInvoicePaid(ctx context.Context, patch PaidPatch) (bool, error)
	MirrorStatus(ctx context.Context, invoiceID, status string) error
	InvoiceIDByTxID(ctx context.Context, txID string) (string, error)
}

// Engine decides whether and how a gateway payment event changes billing
// state. It is safe for concurrent use; per-invoice ordering is enforced by
// the store's conditional write, not by the engine.
type Engine struct {
	fetcher PaymentFetcher
	store   Store
}

func NewEngine(fetcher PaymentFetcher, store Store) *Engine {
	return &Engine{fetcher: fetcher, store: store}
}

// ProcessNotification reconciles one normalized gateway notification. A nil
// error with a non-applied outcome means the event was acknowledged and
// dropped on purpose; a non-nil error means the attempt must be retried via
// gateway redelivery and no durable paid-state was written.
func (e *Engine) ProcessNotification(ctx context.Context, n Notification, rawPayload []byte) (Outcome, error) {
	created, stored, err := e.store.RecordEvent(ctx, &models.PaymentWebhookEvent{
		Provider:    ProviderMercadoPago,
		EventKey:    eventKey(rawPayload),
		EventType:   n.EventType,
		PayloadJSON: string(rawPayload),
	})
	if err != nil {
		return "", fmt.Errorf("record webhook event: %w", err)
	}
	// An identical payload that already reconciled cleanly is a gateway
	// retry; stop before re-fetching. Events whose processing failed are let
	// through so redelivery can repair them.
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		log.Printf("[reconcile] duplicate delivery for payment %s, ignoring retry", n.PaymentID)
		return OutcomeDuplicate, nil
	}

	record, err := e.fetcher.FetchPayment(ctx, n.PaymentID)
	if err != nil {
		_ = e.store.MarkEventProcessed(ctx, stored.ID, err.Error())
		return "", fmt.Errorf("fetch payment %s: %w", n.PaymentID, err)
	}

	outcome, err := e.apply(ctx, record)
	if err != nil {
		_ = e.store.MarkEventProcessed(ctx, stored.ID, err.Error())
		return "", err
	}

	note := ""
	if outcome == OutcomeUnreconcilable {
		note = "unreconcilable: no invoice correlation in payment " + record.PaymentID()
		log.Printf("[reconcile] %s", note)
	}
	if err := e.store.MarkEventProcessed(ctx, stored.ID, note); err != nil {
		log.Printf("[reconcile] failed to mark event %d processed: %v", stored.ID, err)
	}
	return outcome, nil
}

func (e *Engine) apply(ctx context.Context, record *gateway.PaymentRecord) (Outcome, error) {
	invoiceID := DeriveInvoiceID(record)

	if record.Status != gateway.PaymentStatusApproved {
		if invoiceID == "" {
			return OutcomeIgnored, nil
		}
		// Non-approved statuses are mirrored for observability only; the
		// store refuses to touch an invoice that is already paid.
		err := e.store.MirrorStatus(ctx, invoiceID, mapRecordStatus(record.Status))
		if errors.Is(err, ErrInvoiceNotFound) {
			return OutcomeUnreconcilable, nil
		}
		if err != nil {
			return "", fmt.Errorf("mirror status for invoice %s: %w", invoiceID, err)
		}
		return OutcomeMirrored, nil
	}

	if invoiceID == "" {
		return OutcomeUnreconcilable, nil
	}

	approvedAt := time.Now()
	if record.DateApproved != nil {
		approvedAt = *record.DateApproved
	}
	amount := record.TransactionAmount

	applied, err := e.store.MarkInvoicePaid(ctx, PaidPatch{
		InvoiceID:        invoiceID,
		GatewayPaymentID: record.PaymentID(),
		PaidAmount:       &amount,
		ApprovedAt:       approvedAt,
		RawPayload:       string(record.Raw),
	})
	if errors.Is(err, ErrInvoiceNotFound) {
		return OutcomeUnreconcilable, nil
	}
	if err != nil {
		// A failed ledger write for a confirmed approval loses real money's
		// reconciliation; it must surface as retryable, never be absorbed.
		return "", fmt.Errorf("mark invoice %s paid: %w", invoiceID, err)
	}
	if !applied {
		log.Printf("[reconcile] invoice %s already paid, ignoring retry", invoiceID)
		return OutcomeDuplicate, nil
	}
	log.Printf("[reconcile] invoice %s paid via payment %s (%.2f)", invoiceID, record.PaymentID(), amount)
	return OutcomeApplied, nil
}

// ProcessPixResult handles the legacy PIX webhook shape that identifies the
// invoice by txid instead of a gateway payment id.
func (e *Engine) ProcessPixResult(ctx context.Context, txID, status string, rawPayload []byte) (Outcome, error) {
	created, stored, err := e.store.RecordEvent(ctx, &models.PaymentWebhookEvent{
		Provider:    ProviderPix,
		EventKey:    eventKey(rawPayload),
		EventType:   EventTypePayment,
		PayloadJSON: string(rawPayload),
	})
	if err != nil {
		return "", fmt.Errorf("record webhook event: %w", err)
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		return OutcomeDuplicate, nil
	}

	outcome, err := e.applyPix(ctx, txID, status, rawPayload)
	if err != nil {
		_ = e.store.MarkEventProcessed(ctx, stored.ID, err.Error())
		return "", err
	}
	note := ""
	if outcome == OutcomeUnreconcilable {
		note = "unreconcilable: no invoice for txid " + txID
		log.Printf("[reconcile] %s", note)
	}
	if err := e.store.MarkEventProcessed(ctx, stored.ID, note); err != nil {
		log.Printf("[reconcile] failed to mark event %d processed: %v", stored.ID, err)
	}
	return outcome, nil
}

func (e *Engine) applyPix(ctx context.Context, txID, status string, rawPayload []byte) (Outcome, error) {
	invoiceID, err := e.store.InvoiceIDByTxID(ctx, txID)
	if errors.Is(err, ErrInvoiceNotFound) {
		return OutcomeUnreconcilable, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup invoice by txid %s: %w", txID, err)
	}

	if status != gateway.PaymentStatusApproved {
		if err := e.store.MirrorStatus(ctx, invoiceID, mapRecordStatus(status)); err != nil && !errors.Is(err, ErrInvoiceNotFound) {
			return "", fmt.Errorf("mirror status for invoice %s: %w", invoiceID, err)
		}
		return OutcomeMirrored, nil
	}

	applied, err := e.store.MarkInvoicePaid(ctx, PaidPatch{
		InvoiceID:        invoiceID,
		GatewayPaymentID: txID,
		ApprovedAt:       time.Now(),
		RawPayload:       string(rawPayload),
	})
	if errors.Is(err, ErrInvoiceNotFound) {
		return OutcomeUnreconcilable, nil
	}
	if err != nil {
		return "", fmt.Errorf("mark invoice %s paid: %w", invoiceID, err)
	}
	if !applied {
		return OutcomeDuplicate, nil
	}
	log.Printf("[reconcile] invoice %s paid via pix txid %s", invoiceID, txID)
	return OutcomeApplied, nil
}

// DeriveInvoiceID resolves the correlation token from the authoritative
// payment record. Precedence: explicit metadata entry, then the external
// reference, then the description with the known prefix stripped.
func DeriveInvoiceID(record *gateway.PaymentRecord) string {
	if id := strings.TrimSpace(record.MetadataString("faturaId")); id != "" {
		return id
	}
	// The gateway snake_cases metadata keys on some API versions.
	if id := strings.TrimSpace(record.MetadataString("fatura_id")); id != "" {
		return id
	}
	if id := strings.TrimSpace(record.ExternalReference); id != "" {
		return id
	}
	return strings.TrimSpace(strings.TrimPrefix(record.Description, invoiceDescriptionPrefix))
}

// mapRecordStatus maps a gateway payment status onto the invoice status enum
// for informational mirroring.
func mapRecordStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case gateway.PaymentStatusCancelled, gateway.PaymentStatusRejected:
		return models.InvoiceStatusCancelled
	case gateway.PaymentStatusExpired:
		return models.InvoiceStatusExpired
	case gateway.PaymentStatusPending, "in_process", "authorized":
		return models.InvoiceStatusPending
	default:
		return models.InvoiceStatusUnknown
	}
}

func eventKey(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "hash:" + hex.EncodeToString(sum[:])
}

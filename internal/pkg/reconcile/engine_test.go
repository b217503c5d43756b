package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gestaobancar/pixapi/app/models"
	"github.com/gestaobancar/pixapi/internal/pkg/gateway"
)

type fakeFetcher struct {
	records map[string]*gateway.PaymentRecord
	err     error
	calls   int
}

func (f *fakeFetcher) FetchPayment(_ context.Context, paymentID string) (*gateway.PaymentRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	record, ok := f.records[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown payment %s", gateway.ErrUnavailable, paymentID)
	}
	return record, nil
}

// fakeStore mimics the conditional-write semantics of the GORM store in
// memory, including the derived views and account activation.
type fakeStore struct {
	events        map[string]*models.PaymentWebhookEvent
	nextEventID   uint
	invoices      map[string]*models.Invoice
	accounts      map[string]*models.SubscriberAccount
	customerViews map[string]*models.InvoiceCustomerView
	periodViews   map[string]*models.InvoicePeriodView
	paidWrites    int
	storeErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:        map[string]*models.PaymentWebhookEvent{},
		invoices:      map[string]*models.Invoice{},
		accounts:      map[string]*models.SubscriberAccount{},
		customerViews: map[string]*models.InvoiceCustomerView{},
		periodViews:   map[string]*models.InvoicePeriodView{},
	}
}

func (s *fakeStore) RecordEvent(_ context.Context, event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	if s.storeErr != nil {
		return false, nil, s.storeErr
	}
	key := event.Provider + "|" + event.EventKey
	if existing, ok := s.events[key]; ok {
		return false, existing, nil
	}
	s.nextEventID++
	event.ID = s.nextEventID
	s.events[key] = event
	return true, event, nil
}

func (s *fakeStore) MarkEventProcessed(_ context.Context, eventID uint, processingError string) error {
	for _, ev := range s.events {
		if ev.ID == eventID {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return errors.New("event not found")
}

func (s *fakeStore) MarkInvoicePaid(_ context.Context, patch PaidPatch) (bool, error) {
	if s.storeErr != nil {
		return false, s.storeErr
	}
	inv, ok := s.invoices[patch.InvoiceID]
	if !ok {
		return false, ErrInvoiceNotFound
	}
	if inv.Status == models.InvoiceStatusPaid {
		return false, nil
	}
	s.paidWrites++
	inv.Status = models.InvoiceStatusPaid
	inv.GatewayPaymentID = patch.GatewayPaymentID
	inv.PaidAmount = patch.PaidAmount
	approvedAt := patch.ApprovedAt
	inv.ApprovedAt = &approvedAt
	inv.RawWebhook = patch.RawPayload

	if inv.CustomerID != "" {
		s.customerViews[inv.CustomerID+"/"+inv.ID] = &models.InvoiceCustomerView{
			CustomerID:       inv.CustomerID,
			InvoiceID:        inv.ID,
			Status:           models.InvoiceStatusPaid,
			PaidAmount:       patch.PaidAmount,
			ApprovedAt:       &approvedAt,
			GatewayPaymentID: patch.GatewayPaymentID,
		}
	}
	if inv.PeriodID != "" {
		s.periodViews[inv.PeriodID+"/"+inv.ID] = &models.InvoicePeriodView{
			PeriodID:         inv.PeriodID,
			InvoiceID:        inv.ID,
			Status:           models.InvoiceStatusPaid,
			PaidAmount:       patch.PaidAmount,
			ApprovedAt:       &approvedAt,
			GatewayPaymentID: patch.GatewayPaymentID,
		}
	}
	if inv.AccountID != "" {
		account, ok := s.accounts[inv.AccountID]
		if ok {
			expiresAt := models.ExpiryFrom(approvedAt, inv.Plan)
			account.Status = models.AccountStatusActive
			account.Plan = inv.Plan
			account.PlanPrice = inv.Amount
			account.LastPaymentAt = &approvedAt
			account.ExpiresAt = &expiresAt
		}
	}
	return true, nil
}

func (s *fakeStore) MirrorStatus(_ context.Context, invoiceID, status string) error {
	inv, ok := s.invoices[invoiceID]
	if !ok {
		return ErrInvoiceNotFound
	}
	if inv.Status != models.InvoiceStatusPaid {
		inv.Status = status
	}
	return nil
}

func (s *fakeStore) InvoiceIDByTxID(_ context.Context, txID string) (string, error) {
	for _, inv := range s.invoices {
		if inv.TxID == txID {
			return inv.ID, nil
		}
	}
	return "", ErrInvoiceNotFound
}

func approvedRecord(paymentID, invoiceID string, amount float64, approvedAt time.Time) *gateway.PaymentRecord {
	return &gateway.PaymentRecord{
		ID:                json.Number(paymentID),
		Status:            gateway.PaymentStatusApproved,
		TransactionAmount: amount,
		DateApproved:      &approvedAt,
		Metadata:          map[string]interface{}{"faturaId": invoiceID},
		Raw:               json.RawMessage(`{"id":` + paymentID + `}`),
	}
}

func pendingInvoice() *models.Invoice {
	return &models.Invoice{
		ID:         "inv-100",
		Amount:     49.90,
		Status:     models.InvoiceStatusPending,
		CustomerID: "c1",
		PeriodID:   "2025-01",
		Plan:       models.PlanMensal,
		AccountID:  "u1",
	}
}

func TestProcessNotificationAppliesPaidStateOnce(t *testing.T) {
	approvedAt := time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.invoices["inv-100"] = pendingInvoice()
	store.accounts["u1"] = &models.SubscriberAccount{ID: "u1", Status: models.AccountStatusInactive}
	fetcher := &fakeFetcher{records: map[string]*gateway.PaymentRecord{
		"555": approvedRecord("555", "inv-100", 49.90, approvedAt),
	}}
	engine := NewEngine(fetcher, store)

	payload := []byte(`{"type":"payment","data":{"id":"555"}}`)
	n := Notification{EventType: EventTypePayment, PaymentID: "555"}

	outcome, err := engine.ProcessNotification(context.Background(), n, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeApplied)
	}

	inv := store.invoices["inv-100"]
	if inv.Status != models.InvoiceStatusPaid {
		t.Fatalf("invoice status = %q, want paid", inv.Status)
	}
	if inv.PaidAmount == nil || *inv.PaidAmount != 49.90 {
		t.Fatalf("paid amount = %v, want 49.90", inv.PaidAmount)
	}
	if inv.ApprovedAt == nil || !inv.ApprovedAt.Equal(approvedAt) {
		t.Fatalf("approved at = %v, want %v", inv.ApprovedAt, approvedAt)
	}
	if inv.GatewayPaymentID != "555" {
		t.Fatalf("gateway payment id = %q, want 555", inv.GatewayPaymentID)
	}

	cv, ok := store.customerViews["c1/inv-100"]
	if !ok || cv.Status != models.InvoiceStatusPaid || *cv.PaidAmount != 49.90 {
		t.Fatalf("customer view not mirrored: %+v", cv)
	}
	pv, ok := store.periodViews["2025-01/inv-100"]
	if !ok || pv.Status != models.InvoiceStatusPaid || !pv.ApprovedAt.Equal(approvedAt) {
		t.Fatalf("period view not mirrored: %+v", pv)
	}

	account := store.accounts["u1"]
	if account.Status != models.AccountStatusActive {
		t.Fatalf("account status = %q, want active", account.Status)
	}
	wantExpiry := time.Date(2025, 2, 4, 10, 0, 0, 0, time.UTC)
	if account.ExpiresAt == nil || !account.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("account expiry = %v, want %v", account.ExpiresAt, wantExpiry)
	}

	// Identical redelivery: short-circuits on the stored event, no second
	// fetch, no second write.
	outcome, err = engine.ProcessNotification(context.Background(), n, payload)
	if err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Fatalf("redelivery outcome = %q, want %q", outcome, OutcomeDuplicate)
	}
	if fetcher.calls != 1 {
		t.Fatalf("fetch calls = %d, want 1", fetcher.calls)
	}
	if store.paidWrites != 1 {
		t.Fatalf("paid writes = %d, want 1", store.paidWrites)
	}
	if !account.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("account expiry changed on redelivery: %v", account.ExpiresAt)
	}
}

func TestProcessNotificationDuplicateWithDifferentPayloadBytes(t *testing.T) {
	approvedAt := time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.invoices["inv-100"] = pendingInvoice()
	fetcher := &fakeFetcher{records: map[string]*gateway.PaymentRecord{
		"555": approvedRecord("555", "inv-100", 49.90, approvedAt),
	}}
	engine := NewEngine(fetcher, store)
	n := Notification{EventType: EventTypePayment, PaymentID: "555"}

	if _, err := engine.ProcessNotification(context.Background(), n, []byte(`{"type":"payment","data":{"id":"555"}}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A differently-shaped retry bypasses the event dedup, so the engine has
	// to fall through to the conditional ledger write.
	outcome, err := engine.ProcessNotification(context.Background(), n, []byte(`{"type": "payment", "data": {"id": "555"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeDuplicate)
	}
	if fetcher.calls != 2 {
		t.Fatalf("fetch calls = %d, want 2", fetcher.calls)
	}
	if store.paidWrites != 1 {
		t.Fatalf("paid writes = %d, want 1", store.paidWrites)
	}
}

func TestProcessNotificationUnreconcilableIsDropped(t *testing.T) {
	store := newFakeStore()
	store.invoices["inv-100"] = pendingInvoice()
	record := &gateway.PaymentRecord{
		ID:     json.Number("777"),
		Status: gateway.PaymentStatusApproved,
	}
	fetcher := &fakeFetcher{records: map[string]*gateway.PaymentRecord{"777": record}}
	engine := NewEngine(fetcher, store)

	outcome, err := engine.ProcessNotification(
		context.Background(),
		Notification{EventType: EventTypePayment, PaymentID: "777"},
		[]byte(`{"type":"payment","data":{"id":"777"}}`),
	)
	if err != nil {
		t.Fatalf("unreconcilable events must not surface errors, got %v", err)
	}
	if outcome != OutcomeUnreconcilable {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeUnreconcilable)
	}
	if store.invoices["inv-100"].Status != models.InvoiceStatusPending {
		t.Fatalf("unreconcilable event must not touch the ledger")
	}
	if store.paidWrites != 0 {
		t.Fatalf("paid writes = %d, want 0", store.paidWrites)
	}
}

func TestProcessNotificationUnknownInvoiceIsDropped(t *testing.T) {
	approvedAt := time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)
	store := newFakeStore()
	fetcher := &fakeFetcher{records: map[string]*gateway.PaymentRecord{
		"555": approvedRecord("555", "inv-missing", 49.90, approvedAt),
	}}
	engine := NewEngine(fetcher, store)

	outcome, err := engine.ProcessNotification(
		context.Background(),
		Notification{EventType: EventTypePayment, PaymentID: "555"},
		[]byte(`{"type":"payment","data":{"id":"555"}}`),
	)
	if err != nil {
		t.Fatalf("unknown invoice must not surface an error, got %v", err)
	}
	if outcome != OutcomeUnreconcilable {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeUnreconcilable)
	}
}

func TestProcessNotificationNonApprovedNeverRevertsPaid(t *testing.T) {
	store := newFakeStore()
	paidAmount := 49.90
	store.invoices["inv-100"] = &models.Invoice{
		ID:         "inv-100",
		Status:     models.InvoiceStatusPaid,
		PaidAmount: &paidAmount,
	}
	record := &gateway.PaymentRecord{
		ID:       json.Number("555"),
		Status:   gateway.PaymentStatusCancelled,
		Metadata: map[string]interface{}{"faturaId": "inv-100"},
	}
	fetcher := &fakeFetcher{records: map[string]*gateway.PaymentRecord{"555": record}}
	engine := NewEngine(fetcher, store)

	outcome, err := engine.ProcessNotification(
		context.Background(),
		Notification{EventType: EventTypePayment, PaymentID: "555"},
		[]byte(`{"type":"payment","data":{"id":"555"}}`),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeMirrored {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeMirrored)
	}
	inv := store.invoices["inv-100"]
	if inv.Status != models.InvoiceStatusPaid {
		t.Fatalf("paid invoice was reverted to %q", inv.Status)
	}
	if inv.PaidAmount == nil || *inv.PaidAmount != 49.90 {
		t.Fatalf("paid fields were touched: %v", inv.PaidAmount)
	}
}

func TestProcessNotificationMirrorsInformationalStatus(t *testing.T) {
	store := newFakeStore()
	store.invoices["inv-100"] = pendingInvoice()
	record := &gateway.PaymentRecord{
		ID:       json.Number("555"),
		Status:   gateway.PaymentStatusCancelled,
		Metadata: map[string]interface{}{"faturaId": "inv-100"},
	}
	fetcher := &fakeFetcher{records: map[string]*gateway.PaymentRecord{"555": record}}
	engine := NewEngine(fetcher, store)

	outcome, err := engine.ProcessNotification(
		context.Background(),
		Notification{EventType: EventTypePayment, PaymentID: "555"},
		[]byte(`{"type":"payment","data":{"id":"555"}}`),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeMirrored {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeMirrored)
	}
	if store.invoices["inv-100"].Status != models.InvoiceStatusCancelled {
		t.Fatalf("status = %q, want cancelled", store.invoices["inv-100"].Status)
	}
}

func TestProcessNotificationFetchFailureIsRetryable(t *testing.T) {
	store := newFakeStore()
	store.invoices["inv-100"] = pendingInvoice()
	fetcher := &fakeFetcher{err: gateway.ErrUnavailable}
	engine := NewEngine(fetcher, store)

	_, err := engine.ProcessNotification(
		context.Background(),
		Notification{EventType: EventTypePayment, PaymentID: "555"},
		[]byte(`{"type":"payment","data":{"id":"555"}}`),
	)
	if !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("expected gateway unavailability to propagate, got %v", err)
	}
	if store.invoices["inv-100"].Status != models.InvoiceStatusPending {
		t.Fatalf("no state may be written when the fetch fails")
	}

	// The gateway redelivers the identical payload; the failed event must
	// not be swallowed as a duplicate.
	fetcher.err = nil
	fetcher.records = map[string]*gateway.PaymentRecord{
		"555": approvedRecord("555", "inv-100", 49.90, time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)),
	}
	outcome, err := engine.ProcessNotification(
		context.Background(),
		Notification{EventType: EventTypePayment, PaymentID: "555"},
		[]byte(`{"type":"payment","data":{"id":"555"}}`),
	)
	if err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("redelivery after failure = %q, want %q", outcome, OutcomeApplied)
	}
}

func TestProcessPixResult(t *testing.T) {
	store := newFakeStore()
	inv := pendingInvoice()
	inv.TxID = "tx-abc"
	store.invoices["inv-100"] = inv
	store.accounts["u1"] = &models.SubscriberAccount{ID: "u1", Status: models.AccountStatusInactive}
	engine := NewEngine(&fakeFetcher{}, store)

	outcome, err := engine.ProcessPixResult(context.Background(), "tx-abc", "approved", []byte(`{"txid":"tx-abc","status":"approved"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeApplied)
	}
	if store.invoices["inv-100"].Status != models.InvoiceStatusPaid {
		t.Fatalf("invoice status = %q, want paid", store.invoices["inv-100"].Status)
	}
	if store.accounts["u1"].Status != models.AccountStatusActive {
		t.Fatalf("account was not activated")
	}

	outcome, err = engine.ProcessPixResult(context.Background(), "tx-missing", "approved", []byte(`{"txid":"tx-missing","status":"approved"}`))
	if err != nil {
		t.Fatalf("unknown txid must not surface an error, got %v", err)
	}
	if outcome != OutcomeUnreconcilable {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeUnreconcilable)
	}
}

func TestDeriveInvoiceIDPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		record gateway.PaymentRecord
		want   string
	}{
		{
			name: "metadata wins over everything",
			record: gateway.PaymentRecord{
				Metadata:          map[string]interface{}{"faturaId": "inv-meta"},
				ExternalReference: "inv-ref",
				Description:       "Fatura inv-desc",
			},
			want: "inv-meta",
		},
		{
			name: "snake case metadata variant",
			record: gateway.PaymentRecord{
				Metadata:          map[string]interface{}{"fatura_id": "inv-meta"},
				ExternalReference: "inv-ref",
			},
			want: "inv-meta",
		},
		{
			name: "external reference before description",
			record: gateway.PaymentRecord{
				ExternalReference: "inv-ref",
				Description:       "Fatura inv-desc",
			},
			want: "inv-ref",
		},
		{
			name: "description prefix stripped",
			record: gateway.PaymentRecord{
				Description: "Fatura inv-desc",
			},
			want: "inv-desc",
		},
		{
			name:   "nothing resolves",
			record: gateway.PaymentRecord{},
			want:   "",
		},
	}

	for _, tt := range tests {
		if got := DeriveInvoiceID(&tt.record); got != tt.want {
			t.Fatalf("%s: DeriveInvoiceID = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestMapRecordStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "cancelled", want: models.InvoiceStatusCancelled},
		{in: "rejected", want: models.InvoiceStatusCancelled},
		{in: "expired", want: models.InvoiceStatusExpired},
		{in: "pending", want: models.InvoiceStatusPending},
		{in: "in_process", want: models.InvoiceStatusPending},
		{in: "charged_back", want: models.InvoiceStatusUnknown},
	}

	for _, tt := range tests {
		if got := mapRecordStatus(tt.in); got != tt.want {
			t.Fatalf("mapRecordStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/gestaobancar/pixapi/app/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormStore struct {
	db *gorm.DB
}

// NewStore creates the GORM-backed ledger store.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) RecordEvent(ctx context.Context, event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	event.ReceiptID = uuid.NewString()
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "event_key"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentWebhookEvent
	if err := s.db.WithContext(ctx).
		Where("provider = ? AND event_key = ?", event.Provider, event.EventKey).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (s *gormStore) MarkEventProcessed(ctx context.Context, eventID uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return s.db.WithContext(ctx).Model(&models.PaymentWebhookEvent{}).Where("id = ?", eventID).Updates(updates).Error
}

// MarkInvoicePaid applies the whole paid-state patch in one transaction:
// primary invoice, both denormalized views and the linked subscriber account.
// The invoice update is conditional on status <> paid, so of two concurrent
// duplicate deliveries exactly one observes RowsAffected == 1; the other
// commits nothing.
func (s *gormStore) MarkInvoicePaid(ctx context.Context, patch PaidPatch) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Invoice{}).
			Where("id = ? AND status <> ?", patch.InvoiceID, models.InvoiceStatusPaid).
			Updates(map[string]interface{}{
				"status":             models.InvoiceStatusPaid,
				"gateway_payment_id": patch.GatewayPaymentID,
				"paid_amount":        patch.PaidAmount,
				"approved_at":        patch.ApprovedAt,
				"raw_webhook":        patch.RawPayload,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Either the invoice does not exist or it is already paid.
			var count int64
			if err := tx.Model(&models.Invoice{}).Where("id = ?", patch.InvoiceID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrInvoiceNotFound
			}
			return nil // already paid: duplicate delivery, commit nothing
		}

		var inv models.Invoice
		if err := tx.First(&inv, "id = ?", patch.InvoiceID).Error; err != nil {
			return err
		}

		if inv.CustomerID != "" {
			view := models.InvoiceCustomerView{
				CustomerID:       inv.CustomerID,
				InvoiceID:        inv.ID,
				Status:           models.InvoiceStatusPaid,
				PaidAmount:       patch.PaidAmount,
				ApprovedAt:       &patch.ApprovedAt,
				GatewayPaymentID: patch.GatewayPaymentID,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "customer_id"},
					{Name: "invoice_id"},
				},
				DoUpdates: clause.AssignmentColumns([]string{
					"status", "paid_amount", "approved_at", "gateway_payment_id", "updated_at",
				}),
			}).Create(&view).Error; err != nil {
				return err
			}
		}

		if inv.PeriodID != "" {
			view := models.InvoicePeriodView{
				PeriodID:         inv.PeriodID,
				InvoiceID:        inv.ID,
				Status:           models.InvoiceStatusPaid,
				PaidAmount:       patch.PaidAmount,
				ApprovedAt:       &patch.ApprovedAt,
				GatewayPaymentID: patch.GatewayPaymentID,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "period_id"},
					{Name: "invoice_id"},
				},
				DoUpdates: clause.AssignmentColumns([]string{
					"status", "paid_amount", "approved_at", "gateway_payment_id", "updated_at",
				}),
			}).Create(&view).Error; err != nil {
				return err
			}
		}

		if inv.AccountID != "" {
			expiresAt := models.ExpiryFrom(patch.ApprovedAt, inv.Plan)
			if err := tx.Model(&models.SubscriberAccount{}).
				Where("id = ?", inv.AccountID).
				Updates(map[string]interface{}{
					"status":          models.AccountStatusActive,
					"plan":            inv.Plan,
					"plan_price":      inv.Amount,
					"last_payment_at": patch.ApprovedAt,
					"expires_at":      expiresAt,
				}).Error; err != nil {
				return err
			}
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// MirrorStatus writes an informational, non-terminal status onto the invoice.
// The same status <> paid guard protects the terminal state.
func (s *gormStore) MirrorStatus(ctx context.Context, invoiceID, status string) error {
	res := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND status <> ?", invoiceID, models.InvoiceStatusPaid).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Invoice{}).Where("id = ?", invoiceID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrInvoiceNotFound
		}
	}
	return nil
}

func (s *gormStore) InvoiceIDByTxID(ctx context.Context, txID string) (string, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).Select("id").Where("tx_id = ?", txID).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrInvoiceNotFound
	}
	if err != nil {
		return "", err
	}
	return inv.ID, nil
}

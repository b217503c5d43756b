package models

import "time"

// InvoiceCustomerView is a denormalized copy of an invoice keyed by customer,
// kept for query convenience by other parts of the product. It is derived
// state: it is only ever written inside the same transaction that updates the
// primary Invoice row and must never be used for conflict resolution.
type InvoiceCustomerView struct {
	CustomerID       string     `gorm:"type:varchar(64);primaryKey" json:"customer_id"`
	InvoiceID        string     `gorm:"type:varchar(64);primaryKey" json:"invoice_id"`
	Status           string     `gorm:"type:varchar(16);not null" json:"status"`
	PaidAmount       *float64   `json:"paid_amount,omitempty"`
	ApprovedAt       *time.Time `gorm:"type:timestamp;default:null" json:"approved_at,omitempty"`
	GatewayPaymentID string     `gorm:"type:varchar(64)" json:"gateway_payment_id"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (InvoiceCustomerView) TableName() string {
	return "customer_invoice_views"
}

// InvoicePeriodView mirrors the same paid state keyed by billing period
// (competência, e.g. "2025-01").
type InvoicePeriodView struct {
	PeriodID         string     `gorm:"type:varchar(16);primaryKey" json:"period_id"`
	InvoiceID        string     `gorm:"type:varchar(64);primaryKey" json:"invoice_id"`
	Status           string     `gorm:"type:varchar(16);not null" json:"status"`
	PaidAmount       *float64   `json:"paid_amount,omitempty"`
	ApprovedAt       *time.Time `gorm:"type:timestamp;default:null" json:"approved_at,omitempty"`
	GatewayPaymentID string     `gorm:"type:varchar(64)" json:"gateway_payment_id"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (InvoicePeriodView) TableName() string {
	return "period_invoice_views"
}

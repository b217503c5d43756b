package models

import "time"

const (
	InvoiceStatusPending   = "pending"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusCancelled = "cancelled"
	InvoiceStatusExpired   = "expired"
	InvoiceStatusUnknown   = "unknown"
)

// Invoice is the authoritative record for one billable charge. It is created
// by the billing backoffice; this service only mutates it in response to
// gateway payment events. Once Status is "paid" the record is terminal and no
// later event may touch the paid fields again.
type Invoice struct {
	ID               string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	Amount           float64    `gorm:"not null" json:"amount"`
	Status           string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	CustomerID       string     `gorm:"type:varchar(64);index" json:"customer_id"`
	PeriodID         string     `gorm:"type:varchar(16);index" json:"period_id"`
	Plan             string     `gorm:"type:varchar(32)" json:"plan"`
	AccountID        string     `gorm:"type:varchar(64);index" json:"account_id"`
	TxID             string     `gorm:"type:varchar(128);index" json:"tx_id"`
	GatewayPaymentID string     `gorm:"type:varchar(64);index" json:"gateway_payment_id"`
	PaidAmount       *float64   `json:"paid_amount,omitempty"`
	ApprovedAt       *time.Time `gorm:"type:timestamp;default:null" json:"approved_at,omitempty"`
	RawWebhook       string     `gorm:"type:longtext" json:"raw_webhook"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName keeps the table name the billing backoffice already uses.
func (Invoice) TableName() string {
	return "faturas"
}

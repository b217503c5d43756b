package models

import (
	"strings"
	"time"
)

const (
	AccountStatusInactive = "inactive"
	AccountStatusActive   = "active"
)

const (
	PlanMensal     = "Mensal"
	PlanTrimestral = "Trimestral"
	PlanSemestral  = "Semestral"
	PlanAnual      = "Anual"
)

// SubscriberAccount tracks a customer's subscription access. It is never
// created by this service; the billing backoffice provisions it and the
// ledger writer activates it when a linked invoice is paid.
type SubscriberAccount struct {
	ID            string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	Status        string     `gorm:"type:varchar(16);not null;default:'inactive';index" json:"status"`
	Plan          string     `gorm:"type:varchar(32)" json:"plan"`
	PlanPrice     float64    `json:"plan_price"`
	LastPaymentAt *time.Time `gorm:"type:timestamp;default:null" json:"last_payment_at,omitempty"`
	ExpiresAt     *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SubscriberAccount) TableName() string {
	return "subscriber_accounts"
}

// PlanDuration maps a plan name to its subscription length. Unrecognized
// plans fall back to the monthly duration.
func PlanDuration(plan string) time.Duration {
	switch strings.TrimSpace(plan) {
	case PlanTrimestral:
		return 90 * 24 * time.Hour
	case PlanSemestral:
		return 180 * 24 * time.Hour
	case PlanAnual:
		return 365 * 24 * time.Hour
	case PlanMensal:
		return 30 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// ExpiryFrom computes the subscription expiration for a payment approved at
// the given time.
func ExpiryFrom(approvedAt time.Time, plan string) time.Time {
	return approvedAt.Add(PlanDuration(plan))
}

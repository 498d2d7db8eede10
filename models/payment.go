package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/members_backend/config"
	"github.com/shopspring/decimal"
)

// Payment is the ledger-side payment row created when the application
// charges the gateway. Donations and event orders link to it by PaymentId.
type Payment struct {
	ID            int             `gorm:"primary_key" json:"id"`
	TransactionId string          `gorm:"size:255;index" json:"transaction_id"`
	Reference     string          `gorm:"size:255;index" json:"reference"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency      string          `gorm:"size:10" json:"currency"`
	Status        PaymentStatus   `gorm:"type:enum('Pending','Paid','Failed','Refunded');default:'Pending';index" json:"status"`
	PaidAt        *time.Time      `json:"paid_at"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ToRawRecord shapes the payment for the record normalizer.
func (p Payment) ToRawRecord() map[string]interface{} {
	raw := map[string]interface{}{
		"transaction_id": p.TransactionId,
		"reference":      p.Reference,
		"amount":         p.Amount,
		"currency":       p.Currency,
	}
	if p.PaidAt != nil {
		raw["date"] = *p.PaidAt
	}
	return raw
}

func GetPaymentById(ctx context.Context, id int) (*Payment, error) {
	db := config.GetDB()
	var payment Payment
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentsByDateRange returns the app-side input list for a run,
// ordered by id for deterministic matching.
func GetPaymentsByDateRange(ctx context.Context, fromDate time.Time, toDate time.Time) ([]*Payment, error) {
	db := config.GetDB()
	var payments []*Payment
	if err := db.WithContext(ctx).
		Where("created_at BETWEEN ? AND ?", fromDate, toDate).
		Order("id ASC").
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

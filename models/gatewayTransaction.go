package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/members_backend/config"
	"github.com/shopspring/decimal"
)

// GatewayTransaction is one transaction as reported by the external payment
// gateway. Rows are ingested by the webhook/import layer; this subsystem
// only reads them as the gateway-side input of a reconciliation run.
type GatewayTransaction struct {
	ID              int             `gorm:"primary_key" json:"id"`
	TransactionId   string          `gorm:"size:255;index" json:"transaction_id"`
	Reference       string          `gorm:"size:255;index" json:"reference"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency        string          `gorm:"size:10" json:"currency"`
	Status          string          `gorm:"size:50" json:"status"`
	TransactionDate *time.Time      `json:"transaction_date"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ToRawRecord shapes the gateway row for the record normalizer.
func (g GatewayTransaction) ToRawRecord() map[string]interface{} {
	raw := map[string]interface{}{
		"transaction_id": g.TransactionId,
		"reference":      g.Reference,
		"amount":         g.Amount,
		"currency":       g.Currency,
	}
	if g.TransactionDate != nil {
		raw["date"] = *g.TransactionDate
	}
	return raw
}

// GetGatewayTransactionsByDateRange returns the gateway-side input list for
// a run, ordered by id for deterministic matching.
func GetGatewayTransactionsByDateRange(ctx context.Context, fromDate time.Time, toDate time.Time) ([]*GatewayTransaction, error) {
	db := config.GetDB()
	var transactions []*GatewayTransaction
	if err := db.WithContext(ctx).
		Where("created_at BETWEEN ? AND ?", fromDate, toDate).
		Order("id ASC").
		Find(&transactions).Error; err != nil {
		return nil, err
	}
	return transactions, nil
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Donation struct {
	ID           int             `gorm:"primary_key" json:"id"`
	DonorName    string          `gorm:"size:255" json:"donor_name"`
	DonorEmail   string          `gorm:"size:255;index" json:"donor_email"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency     string          `gorm:"size:10" json:"currency"`
	Status       DonationStatus  `gorm:"type:enum('Pending','Paid','Failed','Refunded');default:'Pending';index" json:"status"`
	PaymentId    int             `gorm:"index;default:0" json:"payment_id"`
	DonationDate time.Time       `json:"donation_date"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

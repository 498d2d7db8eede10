package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventOrder struct {
	ID            int              `gorm:"primary_key" json:"id"`
	OrderNumber   string           `gorm:"size:64;uniqueIndex;not null" json:"order_number"`
	EventName     string           `gorm:"size:255" json:"event_name"`
	BuyerEmail    string           `gorm:"size:255;index" json:"buyer_email"`
	Amount        decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency      string           `gorm:"size:10" json:"currency"`
	Status        EventOrderStatus `gorm:"type:enum('Pending','Paid','Failed','Refunded','Cancelled');default:'Pending';index" json:"status"`
	PaymentId     int              `gorm:"index;default:0" json:"payment_id"`
	Quantity      int              `gorm:"not null;default:1" json:"quantity"`
	TicketsIssued int              `gorm:"not null;default:0" json:"tickets_issued"`
	OrderDate     time.Time        `json:"order_date"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

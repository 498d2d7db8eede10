package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/members_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DiscrepancyError records a row the detector could not evaluate. Detection
// is continue-on-error: one broken row never aborts the whole report.
type DiscrepancyError struct {
	RecordId int    `json:"record_id"`
	Reason   string `json:"reason"`
}

type DonationDiscrepancy struct {
	Donation      Donation        `json:"donation"`
	Payment       *Payment        `json:"payment"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	Detail        string          `json:"detail"`
}

// DonationDiscrepancyReport groups donation findings by kind.
type DonationDiscrepancyReport struct {
	MissingPayments  []DonationDiscrepancy `json:"missing_payments"`
	AmountMismatches []DonationDiscrepancy `json:"amount_mismatches"`
	StatusMismatches []DonationDiscrepancy `json:"status_mismatches"`
	Errors           []DiscrepancyError    `json:"errors"`
}

func (r DonationDiscrepancyReport) Total() int {
	return len(r.MissingPayments) + len(r.AmountMismatches) + len(r.StatusMismatches)
}

// DetectDonationDiscrepancies cross-checks every non-pending donation
// against its payment row.
func DetectDonationDiscrepancies(ctx context.Context) (*DonationDiscrepancyReport, error) {
	db := config.GetDB()

	var donations []*Donation
	if err := db.WithContext(ctx).
		Where("status <> ?", DonationStatusPending).
		Order("id ASC").
		Find(&donations).Error; err != nil {
		return nil, err
	}

	report := &DonationDiscrepancyReport{}
	for _, donation := range donations {
		if donation.PaymentId == 0 {
			report.MissingPayments = append(report.MissingPayments, DonationDiscrepancy{
				Donation: *donation,
				Detail:   "donation has no linked payment",
			})
			continue
		}

		payment, err := GetPaymentById(ctx, donation.PaymentId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				report.MissingPayments = append(report.MissingPayments, DonationDiscrepancy{
					Donation: *donation,
					Detail:   fmt.Sprintf("linked payment %d does not exist", donation.PaymentId),
				})
			} else {
				report.Errors = append(report.Errors, DiscrepancyError{
					RecordId: donation.ID,
					Reason:   err.Error(),
				})
			}
			continue
		}

		if !donation.Amount.Equal(payment.Amount) {
			report.AmountMismatches = append(report.AmountMismatches, DonationDiscrepancy{
				Donation:      *donation,
				Payment:       payment,
				PaymentAmount: payment.Amount,
				Detail: fmt.Sprintf("donation amount %s differs from payment amount %s",
					donation.Amount.StringFixed(4), payment.Amount.StringFixed(4)),
			})
		}
		if string(donation.Status) != string(payment.Status) {
			report.StatusMismatches = append(report.StatusMismatches, DonationDiscrepancy{
				Donation: *donation,
				Payment:  payment,
				Detail: fmt.Sprintf("donation status %s differs from payment status %s",
					donation.Status, payment.Status),
			})
		}
	}
	return report, nil
}

type EventOrderDiscrepancy struct {
	Order         EventOrder      `json:"order"`
	Payment       *Payment        `json:"payment"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	Detail        string          `json:"detail"`
}

// EventOrderDiscrepancyReport groups event order findings by kind. Fulfilment
// mismatches are paid orders whose issued ticket count differs from the
// ordered quantity.
type EventOrderDiscrepancyReport struct {
	MissingPayments      []EventOrderDiscrepancy `json:"missing_payments"`
	AmountMismatches     []EventOrderDiscrepancy `json:"amount_mismatches"`
	StatusMismatches     []EventOrderDiscrepancy `json:"status_mismatches"`
	FulfilmentMismatches []EventOrderDiscrepancy `json:"fulfilment_mismatches"`
	Errors               []DiscrepancyError      `json:"errors"`
}

func (r EventOrderDiscrepancyReport) Total() int {
	return len(r.MissingPayments) + len(r.AmountMismatches) +
		len(r.StatusMismatches) + len(r.FulfilmentMismatches)
}

// DetectEventOrderDiscrepancies cross-checks non-pending, non-cancelled
// event orders against their payment rows and ticket fulfilment.
func DetectEventOrderDiscrepancies(ctx context.Context) (*EventOrderDiscrepancyReport, error) {
	db := config.GetDB()

	var orders []*EventOrder
	if err := db.WithContext(ctx).
		Where("status NOT IN ?", []EventOrderStatus{EventOrderStatusPending, EventOrderStatusCancelled}).
		Order("id ASC").
		Find(&orders).Error; err != nil {
		return nil, err
	}

	report := &EventOrderDiscrepancyReport{}
	for _, order := range orders {
		if order.Status == EventOrderStatusPaid && order.TicketsIssued != order.Quantity {
			report.FulfilmentMismatches = append(report.FulfilmentMismatches, EventOrderDiscrepancy{
				Order: *order,
				Detail: fmt.Sprintf("order %s paid for %d tickets but %d issued",
					order.OrderNumber, order.Quantity, order.TicketsIssued),
			})
		}

		if order.PaymentId == 0 {
			report.MissingPayments = append(report.MissingPayments, EventOrderDiscrepancy{
				Order:  *order,
				Detail: "order has no linked payment",
			})
			continue
		}

		payment, err := GetPaymentById(ctx, order.PaymentId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				report.MissingPayments = append(report.MissingPayments, EventOrderDiscrepancy{
					Order:  *order,
					Detail: fmt.Sprintf("linked payment %d does not exist", order.PaymentId),
				})
			} else {
				report.Errors = append(report.Errors, DiscrepancyError{
					RecordId: order.ID,
					Reason:   err.Error(),
				})
			}
			continue
		}

		if !order.Amount.Equal(payment.Amount) {
			report.AmountMismatches = append(report.AmountMismatches, EventOrderDiscrepancy{
				Order:         *order,
				Payment:       payment,
				PaymentAmount: payment.Amount,
				Detail: fmt.Sprintf("order amount %s differs from payment amount %s",
					order.Amount.StringFixed(4), payment.Amount.StringFixed(4)),
			})
		}
		if string(order.Status) != string(payment.Status) {
			report.StatusMismatches = append(report.StatusMismatches, EventOrderDiscrepancy{
				Order:   *order,
				Payment: payment,
				Detail: fmt.Sprintf("order status %s differs from payment status %s",
					order.Status, payment.Status),
			})
		}
	}
	return report, nil
}

// ReconcileDonationPayment re-aligns a donation's status with its payment.
// The payment only wins when its status is authoritative; the call is
// idempotent and reports whether anything changed.
func ReconcileDonationPayment(ctx context.Context, donationId int) (bool, error) {
	db := config.GetDB()

	var donation Donation
	if err := db.WithContext(ctx).Where("id = ?", donationId).Take(&donation).Error; err != nil {
		return false, err
	}
	if donation.PaymentId == 0 {
		return false, errors.New("donation has no linked payment")
	}
	payment, err := GetPaymentById(ctx, donation.PaymentId)
	if err != nil {
		return false, err
	}
	if !payment.Status.IsAuthoritative() {
		return false, nil
	}
	target := DonationStatus(payment.Status)
	if donation.Status == target {
		return false, nil
	}
	if err := db.WithContext(ctx).Model(&Donation{}).
		Where("id = ?", donation.ID).
		Update("status", target).Error; err != nil {
		return false, err
	}
	return true, nil
}

// ReconcileEventOrderPayment re-aligns an event order's status with its
// payment, same contract as ReconcileDonationPayment. Cancelled orders are
// never touched.
func ReconcileEventOrderPayment(ctx context.Context, orderId int) (bool, error) {
	db := config.GetDB()

	var order EventOrder
	if err := db.WithContext(ctx).Where("id = ?", orderId).Take(&order).Error; err != nil {
		return false, err
	}
	if order.Status == EventOrderStatusCancelled {
		return false, nil
	}
	if order.PaymentId == 0 {
		return false, errors.New("event order has no linked payment")
	}
	payment, err := GetPaymentById(ctx, order.PaymentId)
	if err != nil {
		return false, err
	}
	if !payment.Status.IsAuthoritative() {
		return false, nil
	}
	target := EventOrderStatus(payment.Status)
	if order.Status == target {
		return false, nil
	}
	if err := db.WithContext(ctx).Model(&EventOrder{}).
		Where("id = ?", order.ID).
		Update("status", target).Error; err != nil {
		return false, err
	}
	return true, nil
}

package models

type UserRole string

const (
	UserRoleAdmin UserRole = "A"
	UserRoleStaff UserRole = "S"
)

// RunStatus is the reconciliation run state machine:
// Running (initial) -> Success | Failed (terminal).
type RunStatus string

const (
	RunStatusRunning RunStatus = "Running"
	RunStatusSuccess RunStatus = "Success"
	RunStatusFailed  RunStatus = "Failed"
)

func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// ItemSource tags which input list a reconciliation item came from.
type ItemSource string

const (
	ItemSourceApp     ItemSource = "app"
	ItemSourceGateway ItemSource = "gateway"
)

type ItemStatus string

const (
	ItemStatusMatched          ItemStatus = "matched"
	ItemStatusUnmatchedApp     ItemStatus = "unmatched_app"
	ItemStatusUnmatchedGateway ItemStatus = "unmatched_gateway"
)

// PaymentStatus mirrors what the gateway reports for a payment row.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "Pending"
	PaymentStatusPaid     PaymentStatus = "Paid"
	PaymentStatusFailed   PaymentStatus = "Failed"
	PaymentStatusRefunded PaymentStatus = "Refunded"
)

// IsAuthoritative reports whether the payment status should win over the
// ledger record's own status during auto-heal.
func (s PaymentStatus) IsAuthoritative() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

type DonationStatus string

const (
	DonationStatusPending  DonationStatus = "Pending"
	DonationStatusPaid     DonationStatus = "Paid"
	DonationStatusFailed   DonationStatus = "Failed"
	DonationStatusRefunded DonationStatus = "Refunded"
)

type EventOrderStatus string

const (
	EventOrderStatusPending   EventOrderStatus = "Pending"
	EventOrderStatusPaid      EventOrderStatus = "Paid"
	EventOrderStatusFailed    EventOrderStatus = "Failed"
	EventOrderStatusRefunded  EventOrderStatus = "Refunded"
	EventOrderStatusCancelled EventOrderStatus = "Cancelled"
)

package workflow

import (
	"context"

	"github.com/mmdatafocus/members_backend/config"
	"github.com/mmdatafocus/members_backend/models"
	"github.com/sirupsen/logrus"
)

// DiscrepancySummary is the combined nightly report across record types.
type DiscrepancySummary struct {
	Donations   *models.DonationDiscrepancyReport   `json:"donations"`
	EventOrders *models.EventOrderDiscrepancyReport `json:"event_orders"`
	Healed      int                                 `json:"healed"`
}

// RunDiscrepancyChecks runs both detectors. Intended for the nightly job or
// an admin trigger; it only reads, auto-heal is a separate explicit call.
func RunDiscrepancyChecks(ctx context.Context, logger *logrus.Logger) (*DiscrepancySummary, error) {
	ctx, span := tracer.Start(ctx, "RunDiscrepancyChecks")
	defer span.End()

	donations, err := models.DetectDonationDiscrepancies(ctx)
	if err != nil {
		config.LogError(logger, "discrepancyWorkflow.go", "RunDiscrepancyChecks", "donation detector", nil, err)
		return nil, err
	}
	orders, err := models.DetectEventOrderDiscrepancies(ctx)
	if err != nil {
		config.LogError(logger, "discrepancyWorkflow.go", "RunDiscrepancyChecks", "event order detector", nil, err)
		return nil, err
	}

	summary := &DiscrepancySummary{Donations: donations, EventOrders: orders}
	logger.WithFields(logrus.Fields{
		"field":                     "RunDiscrepancyChecks",
		"donation_discrepancies":    donations.Total(),
		"donation_errors":           len(donations.Errors),
		"event_order_discrepancies": orders.Total(),
		"event_order_errors":        len(orders.Errors),
	}).Info("discrepancy checks completed")
	return summary, nil
}

// HealStatusMismatches re-aligns every detected status mismatch whose payment
// carries an authoritative status. Rows that fail keep the pass going.
func HealStatusMismatches(ctx context.Context, logger *logrus.Logger) (*DiscrepancySummary, error) {
	ctx, span := tracer.Start(ctx, "HealStatusMismatches")
	defer span.End()

	summary, err := RunDiscrepancyChecks(ctx, logger)
	if err != nil {
		return nil, err
	}

	healed := 0
	for _, d := range summary.Donations.StatusMismatches {
		changed, err := models.ReconcileDonationPayment(ctx, d.Donation.ID)
		if err != nil {
			config.LogError(logger, "discrepancyWorkflow.go", "HealStatusMismatches", "donation heal", d.Donation.ID, err)
			continue
		}
		if changed {
			healed++
		}
	}
	for _, d := range summary.EventOrders.StatusMismatches {
		changed, err := models.ReconcileEventOrderPayment(ctx, d.Order.ID)
		if err != nil {
			config.LogError(logger, "discrepancyWorkflow.go", "HealStatusMismatches", "event order heal", d.Order.ID, err)
			continue
		}
		if changed {
			healed++
		}
	}
	summary.Healed = healed

	logger.WithFields(logrus.Fields{
		"field":  "HealStatusMismatches",
		"healed": healed,
	}).Info("status mismatch auto-heal completed")
	return summary, nil
}

// recon-nightly runs one synchronous reconciliation pass plus the
// discrepancy detectors. Intended for cron / Cloud Scheduler.
//
// Usage:
//   DB_USER=... DB_PASSWORD=... REDIS_ADDRESS=... go run ./cmd/recon-nightly \
//     [-from 2026-08-27] [-to 2026-08-27]
//
// Without flags the window is yesterday (UTC). Tolerances come from env:
// RECON_AMOUNT_PERCENT, RECON_AMOUNT_ABSOLUTE, RECON_DATE_DAYS,
// RECON_FUZZY_THRESHOLD. Exits 1 when the run fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/members_backend/config"
	"github.com/mmdatafocus/members_backend/models"
	"github.com/mmdatafocus/members_backend/reconcile"
	"github.com/mmdatafocus/members_backend/utils"
	"github.com/mmdatafocus/members_backend/workflow"
	"github.com/sirupsen/logrus"
)

func toleranceFromEnv() (reconcile.ToleranceConfig, error) {
	tolerance := reconcile.DefaultTolerance()
	var err error
	if v := os.Getenv("RECON_AMOUNT_PERCENT"); v != "" {
		tolerance.AmountPercent, err = utils.ParseDecimal(v)
		if err != nil {
			return tolerance, fmt.Errorf("RECON_AMOUNT_PERCENT: %w", err)
		}
	}
	if v := os.Getenv("RECON_AMOUNT_ABSOLUTE"); v != "" {
		tolerance.AmountAbsolute, err = utils.ParseDecimal(v)
		if err != nil {
			return tolerance, fmt.Errorf("RECON_AMOUNT_ABSOLUTE: %w", err)
		}
	}
	if v := os.Getenv("RECON_DATE_DAYS"); v != "" {
		tolerance.DateDays, err = strconv.Atoi(v)
		if err != nil {
			return tolerance, fmt.Errorf("RECON_DATE_DAYS: %w", err)
		}
	}
	if v := os.Getenv("RECON_FUZZY_THRESHOLD"); v != "" {
		tolerance.FuzzyThreshold, err = strconv.Atoi(v)
		if err != nil {
			return tolerance, fmt.Errorf("RECON_FUZZY_THRESHOLD: %w", err)
		}
	}
	return tolerance, tolerance.Validate()
}

func main() {
	fromFlag := flag.String("from", "", "window start date (YYYY-MM-DD, UTC)")
	toFlag := flag.String("to", "", "window end date (YYYY-MM-DD, UTC)")
	flag.Parse()

	logger := config.GetLogger()

	fromDate, err := utils.ConvertToDate(time.Now().UTC().AddDate(0, 0, -1), "UTC")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to compute default window: %v\n", err)
		os.Exit(1)
	}
	toDate := fromDate
	if *fromFlag != "" {
		fromDate, err = time.ParseInLocation("2006-01-02", *fromFlag, time.UTC)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -from: %v\n", err)
			os.Exit(1)
		}
	}
	if *toFlag != "" {
		toDate, err = time.ParseInLocation("2006-01-02", *toFlag, time.UTC)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -to: %v\n", err)
			os.Exit(1)
		}
	}
	if toDate.Before(fromDate) {
		fmt.Fprintln(os.Stderr, "-to must not be before -from")
		os.Exit(1)
	}

	tolerance, err := toleranceFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid tolerance config: %v\n", err)
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	ctx := utils.SetCorrelationIdInContext(context.Background(), uuid.NewString())
	ctx = utils.SetUserNameInContext(ctx, "Scheduler")

	input := workflow.ReconciliationInput{
		FromDate:  fromDate,
		ToDate:    toDate.Add(24*time.Hour - time.Nanosecond),
		Tolerance: tolerance,
		Sync:      true,
	}
	run, err := workflow.StartReconciliation(ctx, logger, input)
	if err != nil {
		config.LogError(logger, "main.go", "main", "nightly reconciliation failed", input, err)
		os.Exit(1)
	}
	logger.WithFields(logrus.Fields{
		"field":                   "recon-nightly",
		"run_number":              run.RunNumber,
		"status":                  run.Status,
		"total_matched":           run.TotalMatched,
		"total_unmatched_app":     run.TotalUnmatchedApp,
		"total_unmatched_gateway": run.TotalUnmatchedGateway,
	}).Info("nightly reconciliation run finished")
	if run.Status != models.RunStatusSuccess {
		os.Exit(1)
	}

	if _, err := workflow.RunDiscrepancyChecks(ctx, logger); err != nil {
		config.LogError(logger, "main.go", "main", "nightly discrepancy checks failed", nil, err)
		os.Exit(1)
	}
}

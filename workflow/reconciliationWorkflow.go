package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/members_backend/config"
	"github.com/mmdatafocus/members_backend/models"
	"github.com/mmdatafocus/members_backend/reconcile"
	"github.com/mmdatafocus/members_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("members-backend")

// ReconciliationInput is the request for one reconciliation run.
type ReconciliationInput struct {
	FromDate  time.Time
	ToDate    time.Time
	Tolerance reconcile.ToleranceConfig
	DryRun    bool
	Sync      bool
}

// DryRunResult is returned for dry runs, which never touch the run store.
type DryRunResult struct {
	Matched                 int                     `json:"matched"`
	UnmatchedApp            int                     `json:"unmatched_app"`
	UnmatchedGateway        int                     `json:"unmatched_gateway"`
	Pairs                   []reconcile.MatchedPair `json:"pairs"`
	UnmatchedAppRecords     []reconcile.Record      `json:"unmatched_app_records"`
	UnmatchedGatewayRecords []reconcile.Record      `json:"unmatched_gateway_records"`
}

func loadRunInputs(ctx context.Context, fromDate, toDate time.Time) ([]reconcile.Record, []reconcile.Record, error) {
	payments, err := models.GetPaymentsByDateRange(ctx, fromDate, toDate)
	if err != nil {
		return nil, nil, err
	}
	transactions, err := models.GetGatewayTransactionsByDateRange(ctx, fromDate, toDate)
	if err != nil {
		return nil, nil, err
	}

	appRecords := make([]reconcile.Record, 0, len(payments))
	for _, payment := range payments {
		record, err := reconcile.NormalizeRecord(payment.ToRawRecord())
		if err != nil {
			return nil, nil, fmt.Errorf("payment %d: %w", payment.ID, err)
		}
		appRecords = append(appRecords, record)
	}
	gatewayRecords := make([]reconcile.Record, 0, len(transactions))
	for _, transaction := range transactions {
		record, err := reconcile.NormalizeRecord(transaction.ToRawRecord())
		if err != nil {
			return nil, nil, fmt.Errorf("gateway transaction %d: %w", transaction.ID, err)
		}
		gatewayRecords = append(gatewayRecords, record)
	}
	return appRecords, gatewayRecords, nil
}

// DryRunReconciliation matches without persisting anything.
func DryRunReconciliation(ctx context.Context, logger *logrus.Logger, input ReconciliationInput) (*DryRunResult, error) {
	ctx, span := tracer.Start(ctx, "DryRunReconciliation")
	defer span.End()

	appRecords, gatewayRecords, err := loadRunInputs(ctx, input.FromDate, input.ToDate)
	if err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "DryRunReconciliation", "loading run inputs", input, err)
		return nil, err
	}

	engine := reconcile.NewEngine()
	result, err := engine.Match(appRecords, gatewayRecords, input.Tolerance)
	if err != nil {
		return nil, err
	}
	return &DryRunResult{
		Matched:                 len(result.Pairs),
		UnmatchedApp:            len(result.UnmatchedApp),
		UnmatchedGateway:        len(result.UnmatchedGateway),
		Pairs:                   result.Pairs,
		UnmatchedAppRecords:     result.UnmatchedApp,
		UnmatchedGatewayRecords: result.UnmatchedGateway,
	}, nil
}

// StartReconciliation creates the run row and either executes it inline
// (sync) or hands it to a background goroutine. The returned run is in
// Running state for async calls and terminal for sync calls.
func StartReconciliation(ctx context.Context, logger *logrus.Logger, input ReconciliationInput) (*models.ReconciliationRun, error) {
	ctx, span := tracer.Start(ctx, "StartReconciliation")
	defer span.End()

	// Session and JWT callers carry a username; batch callers like the
	// nightly job only set a display name.
	triggeredBy := "system"
	if username, ok := utils.GetUsernameFromContext(ctx); ok && username != "" {
		triggeredBy = username
	} else if name, ok := utils.GetUserNameFromContext(ctx); ok && name != "" {
		triggeredBy = name
	}

	run, err := models.CreateRun(ctx, input.Tolerance, triggeredBy)
	if err != nil {
		return nil, err
	}

	if input.Sync {
		if err := executeRun(ctx, logger, run, input); err != nil {
			return run, err
		}
		return models.GetRunById(ctx, run.ID)
	}

	// Detach from the request context; the run outlives the HTTP call.
	// The correlation id is carried over so the run's logs stay traceable.
	bgCtx := context.Background()
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		bgCtx = utils.SetCorrelationIdInContext(bgCtx, cid)
	}
	bgCtx = trace.ContextWithSpan(bgCtx, span)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				config.LogError(logger, "reconciliationWorkflow.go", "StartReconciliation", "panic in background run", run.RunNumber, fmt.Errorf("%v", r))
				_, _ = models.MarkRunCompleted(context.Background(), run.ID, models.RunStatusFailed)
			}
		}()
		if err := executeRun(bgCtx, logger, run, input); err != nil {
			config.LogError(logger, "reconciliationWorkflow.go", "StartReconciliation", "background run failed", run.RunNumber, err)
		}
	}()
	return run, nil
}

// executeRun does the load/match/persist cycle for a created run. On any
// failure the run is left in Failed state rather than stuck Running.
func executeRun(ctx context.Context, logger *logrus.Logger, run *models.ReconciliationRun, input ReconciliationInput) error {
	ctx, span := tracer.Start(ctx, "executeRun")
	defer span.End()

	// Best-effort lock so overlapping triggers don't chew through the same
	// window twice. Losing the lock is not fatal; runs are independent rows.
	var lock *redislock.Lock
	if locker := config.GetRedisLock(); locker != nil {
		var err error
		lock, err = locker.Obtain(ctx, "lock:reconciliation", 5*time.Minute, nil)
		if err == redislock.ErrNotObtained {
			logger.WithFields(logrus.Fields{
				"field":      "executeRun",
				"run_number": run.RunNumber,
			}).Warn("another reconciliation holds the lock; proceeding anyway")
			lock = nil
		} else if err != nil {
			logger.WithFields(logrus.Fields{
				"field":      "executeRun",
				"run_number": run.RunNumber,
			}).Warn("error obtaining redis lock; proceeding without it: " + err.Error())
			lock = nil
		}
	}
	defer func() {
		if lock != nil {
			_ = lock.Release(ctx)
		}
	}()

	appRecords, gatewayRecords, err := loadRunInputs(ctx, input.FromDate, input.ToDate)
	if err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "executeRun", "loading run inputs", run.RunNumber, err)
		_, _ = models.MarkRunCompleted(ctx, run.ID, models.RunStatusFailed)
		return err
	}

	engine := reconcile.NewEngine()
	result, err := engine.Match(appRecords, gatewayRecords, input.Tolerance)
	if err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "executeRun", "matching", run.RunNumber, err)
		_, _ = models.MarkRunCompleted(ctx, run.ID, models.RunStatusFailed)
		return err
	}

	if _, err := models.SaveRunResults(ctx, run.ID, result); err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "executeRun", "persisting run results", run.RunNumber, err)
		return err
	}

	logger.WithFields(logrus.Fields{
		"field":             "executeRun",
		"run_number":        run.RunNumber,
		"matched":           len(result.Pairs),
		"unmatched_app":     len(result.UnmatchedApp),
		"unmatched_gateway": len(result.UnmatchedGateway),
	}).Info("reconciliation run completed")
	return nil
}

package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/members_backend/config"
	"github.com/mmdatafocus/members_backend/reconcile"
	"github.com/mmdatafocus/members_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const statsRedisKey = "ReconciliationStats"

// ReconciliationRun is the persisted history of one matching execution.
// Once completed the row is immutable; deletion is a cascading soft delete.
type ReconciliationRun struct {
	ID                    int             `gorm:"primary_key" json:"id"`
	RunNumber             string          `gorm:"size:64;uniqueIndex;not null" json:"run_number"`
	Status                RunStatus       `gorm:"type:enum('Running','Success','Failed');default:'Running';index" json:"status"`
	TotalMatched          int             `gorm:"not null;default:0" json:"total_matched"`
	TotalUnmatchedApp     int             `gorm:"not null;default:0" json:"total_unmatched_app"`
	TotalUnmatchedGateway int             `gorm:"not null;default:0" json:"total_unmatched_gateway"`
	AmountPercent         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount_percent"`
	AmountAbsolute        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount_absolute"`
	DateDays              int             `gorm:"not null;default:0" json:"date_days"`
	FuzzyThreshold        int             `gorm:"not null;default:0" json:"fuzzy_threshold"`
	TriggeredBy           string          `gorm:"size:100" json:"triggered_by"`
	StartedAt             time.Time       `gorm:"not null" json:"started_at"`
	CompletedAt           *time.Time      `json:"completed_at"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt             gorm.DeletedAt  `gorm:"index" json:"-"`
}

// ReconciliationItem is one input record persisted under a run, carrying
// its final reconciliation status. Items are written once, in bulk, inside
// the run's transaction and never updated afterwards.
type ReconciliationItem struct {
	ID              int             `gorm:"primary_key" json:"id"`
	RunId           int             `gorm:"index;not null" json:"run_id"`
	Source          ItemSource      `gorm:"type:enum('app','gateway');not null" json:"source"`
	TransactionId   string          `gorm:"size:255" json:"transaction_id"`
	Reference       string          `gorm:"size:255" json:"reference"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency        string          `gorm:"size:10" json:"currency"`
	TransactionDate *time.Time      `json:"transaction_date"`
	Status          ItemStatus      `gorm:"type:enum('matched','unmatched_app','unmatched_gateway');index" json:"status"`
	MatchRef        *string         `gorm:"size:64;index" json:"match_ref"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	DeletedAt       gorm.DeletedAt  `gorm:"index" json:"-"`
}

// NewRunNumber returns an opaque run identifier that sorts by creation time.
func NewRunNumber(now time.Time) string {
	suffix := uuid.NewString()[:8]
	return "RCN-" + now.UTC().Format("20060102-150405") + "-" + suffix
}

// CreateRun opens a new run in Running state with its tolerance snapshot.
func CreateRun(ctx context.Context, tolerance reconcile.ToleranceConfig, triggeredBy string) (*ReconciliationRun, error) {
	if err := tolerance.Validate(); err != nil {
		return nil, err
	}

	db := config.GetDB()
	now := time.Now().UTC()
	run := ReconciliationRun{
		RunNumber:      NewRunNumber(now),
		Status:         RunStatusRunning,
		AmountPercent:  tolerance.AmountPercent,
		AmountAbsolute: tolerance.AmountAbsolute,
		DateDays:       tolerance.DateDays,
		FuzzyThreshold: tolerance.FuzzyThreshold,
		TriggeredBy:    triggeredBy,
		StartedAt:      now,
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// Tolerance reconstructs the tolerance snapshot persisted on the run.
func (run ReconciliationRun) Tolerance() reconcile.ToleranceConfig {
	return reconcile.ToleranceConfig{
		AmountPercent:  run.AmountPercent,
		AmountAbsolute: run.AmountAbsolute,
		DateDays:       run.DateDays,
		FuzzyThreshold: run.FuzzyThreshold,
	}
}

func itemFromRecord(runId int, source ItemSource, record reconcile.Record, status ItemStatus, matchRef *string) ReconciliationItem {
	return ReconciliationItem{
		RunId:           runId,
		Source:          source,
		TransactionId:   record.TransactionId,
		Reference:       record.Reference,
		Amount:          record.Amount,
		Currency:        record.Currency,
		TransactionDate: record.Date,
		Status:          status,
		MatchRef:        matchRef,
	}
}

// ItemsFromMatchResult flattens a match result into the item rows of a run.
// Each matched pair becomes two items sharing the pair's match reference.
func ItemsFromMatchResult(runId int, result reconcile.MatchResult) []ReconciliationItem {
	items := make([]ReconciliationItem, 0, 2*len(result.Pairs)+len(result.UnmatchedApp)+len(result.UnmatchedGateway))
	for _, pair := range result.Pairs {
		matchRef := pair.MatchRef
		items = append(items, itemFromRecord(runId, ItemSourceApp, pair.App, ItemStatusMatched, &matchRef))
		items = append(items, itemFromRecord(runId, ItemSourceGateway, pair.Gateway, ItemStatusMatched, &matchRef))
	}
	for _, record := range result.UnmatchedApp {
		items = append(items, itemFromRecord(runId, ItemSourceApp, record, ItemStatusUnmatchedApp, nil))
	}
	for _, record := range result.UnmatchedGateway {
		items = append(items, itemFromRecord(runId, ItemSourceGateway, record, ItemStatusUnmatchedGateway, nil))
	}
	return items
}

// SaveRunResults persists the items of a run and completes it, atomically.
// Either the full item set becomes visible and the run ends in Success, or
// nothing is written and the run is marked Failed.
func SaveRunResults(ctx context.Context, runId int, result reconcile.MatchResult) (*ReconciliationRun, error) {
	db := config.GetDB()

	var run *ReconciliationRun
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items := ItemsFromMatchResult(runId, result)
		if len(items) > 0 {
			if err := tx.CreateInBatches(items, 500).Error; err != nil {
				return err
			}
		}
		var txErr error
		run, txErr = markRunCompleted(tx, ctx, runId, RunStatusSuccess)
		return txErr
	})
	if err != nil {
		// Leave an auditable Failed row rather than a stale Running one.
		if failed, failErr := MarkRunCompleted(ctx, runId, RunStatusFailed); failErr == nil {
			run = failed
		}
		return run, err
	}

	// Stats cache is stale after every completed run.
	_ = config.RemoveRedisKey(statsRedisKey)
	return run, nil
}

// MarkRunCompleted transitions a Running run to a terminal status, deriving
// the aggregate counters from the persisted items. Terminal runs reject
// further transitions.
func MarkRunCompleted(ctx context.Context, runId int, status RunStatus) (*ReconciliationRun, error) {
	db := config.GetDB()
	var run *ReconciliationRun
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		run, txErr = markRunCompleted(tx, ctx, runId, status)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	_ = config.RemoveRedisKey(statsRedisKey)
	return run, nil
}

func markRunCompleted(tx *gorm.DB, ctx context.Context, runId int, status RunStatus) (*ReconciliationRun, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("invalid terminal status %q", status)
	}

	// Lock the row so two concurrent completions cannot both pass the
	// terminal check; completed_at is written exactly once.
	var run ReconciliationRun
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", runId).
		Take(&run).Error; err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, errors.New("reconciliation run has already completed")
	}

	// Counters are derived from the persisted items at completion time,
	// not maintained incrementally, so they cannot drift.
	type statusCount struct {
		Status ItemStatus
		Total  int
	}
	var counts []statusCount
	if err := tx.WithContext(ctx).Model(&ReconciliationItem{}).
		Select("status, COUNT(*) AS total").
		Where("run_id = ?", runId).
		Group("status").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	var matchedItems, unmatchedApp, unmatchedGateway int
	for _, c := range counts {
		switch c.Status {
		case ItemStatusMatched:
			matchedItems = c.Total
		case ItemStatusUnmatchedApp:
			unmatchedApp = c.Total
		case ItemStatusUnmatchedGateway:
			unmatchedGateway = c.Total
		}
	}

	now := time.Now().UTC()
	run.Status = status
	run.TotalMatched = matchedItems / 2 // two items per matched pair
	run.TotalUnmatchedApp = unmatchedApp
	run.TotalUnmatchedGateway = unmatchedGateway
	run.CompletedAt = &now
	if err := tx.WithContext(ctx).Model(&ReconciliationRun{}).
		Where("id = ?", runId).
		Updates(map[string]interface{}{
			"status":                  run.Status,
			"total_matched":           run.TotalMatched,
			"total_unmatched_app":     run.TotalUnmatchedApp,
			"total_unmatched_gateway": run.TotalUnmatchedGateway,
			"completed_at":            run.CompletedAt,
		}).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func GetRunById(ctx context.Context, id int) (*ReconciliationRun, error) {
	db := config.GetDB()
	var run ReconciliationRun
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &run, nil
}

// PaginateRuns lists runs newest first.
func PaginateRuns(ctx context.Context, limit int, offset int) ([]*ReconciliationRun, int64, error) {
	db := config.GetDB()
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := db.WithContext(ctx).Model(&ReconciliationRun{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runs []*ReconciliationRun
	if err := db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error; err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// GetRunItems returns a run's items, optionally filtered by status.
func GetRunItems(ctx context.Context, runId int, status *ItemStatus) ([]*ReconciliationItem, error) {
	if err := utils.ValidateResourceId[ReconciliationRun](ctx, runId); err != nil {
		return nil, err
	}
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("run_id = ?", runId)
	if status != nil {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	var items []*ReconciliationItem
	if err := dbCtx.Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// DeleteRun soft-deletes a run and all of its items in one transaction.
func DeleteRun(ctx context.Context, runId int) (bool, error) {
	db := config.GetDB()

	run, err := GetRunById(ctx, runId)
	if err != nil {
		return false, err
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", run.ID).Delete(&ReconciliationItem{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(run).Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	_ = config.RemoveRedisKey(statsRedisKey)
	return true, nil
}

// RunStats aggregates the historical run ledger.
type RunStats struct {
	TotalRuns             int        `json:"total_runs"`
	SuccessRuns           int        `json:"success_runs"`
	FailedRuns            int        `json:"failed_runs"`
	TotalMatched          int        `json:"total_matched"`
	TotalUnmatchedApp     int        `json:"total_unmatched_app"`
	TotalUnmatchedGateway int        `json:"total_unmatched_gateway"`
	LastCompletedAt       *time.Time `json:"last_completed_at"`
}

// GetRunStats returns overall stats across runs, cached in Redis.
func GetRunStats(ctx context.Context) (*RunStats, error) {
	var stats RunStats
	exists, err := config.GetRedisObject(statsRedisKey, &stats)
	if err != nil {
		return nil, err
	}
	if exists {
		return &stats, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(`
		SELECT
			COUNT(*) AS total_runs,
			COALESCE(SUM(status = 'Success'), 0) AS success_runs,
			COALESCE(SUM(status = 'Failed'), 0) AS failed_runs,
			COALESCE(SUM(total_matched), 0) AS total_matched,
			COALESCE(SUM(total_unmatched_app), 0) AS total_unmatched_app,
			COALESCE(SUM(total_unmatched_gateway), 0) AS total_unmatched_gateway,
			MAX(completed_at) AS last_completed_at
		FROM reconciliation_runs
		WHERE deleted_at IS NULL
	`).Scan(&stats).Error; err != nil {
		return nil, err
	}

	if err := config.SetRedisObject(statsRedisKey, &stats, 10*time.Minute); err != nil {
		return nil, err
	}
	return &stats, nil
}

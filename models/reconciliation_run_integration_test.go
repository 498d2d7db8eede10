package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/members_backend/config"
	"github.com/mmdatafocus/members_backend/models"
	"github.com/mmdatafocus/members_backend/reconcile"
	"github.com/mmdatafocus/members_backend/workflow"
	"github.com/shopspring/decimal"
)

func setupIntegration(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "members_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	return context.Background()
}

func TestRunLifecycle_SaveResultsDerivesCounters(t *testing.T) {
	ctx := setupIntegration(t)

	tolerance := reconcile.DefaultTolerance()
	run, err := models.CreateRun(ctx, tolerance, "tester")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.Status != models.RunStatusRunning {
		t.Fatalf("new run status = %q", run.Status)
	}
	if !strings.HasPrefix(run.RunNumber, "RCN-") {
		t.Fatalf("run number = %q", run.RunNumber)
	}

	result := reconcile.MatchResult{
		Pairs: []reconcile.MatchedPair{
			{
				App:      reconcile.Record{Reference: "INV-1", Amount: decimal.RequireFromString("10")},
				Gateway:  reconcile.Record{Reference: "INV-1", Amount: decimal.RequireFromString("10")},
				MatchRef: "mr-1",
				Rule:     reconcile.MatchRuleReference,
			},
		},
		UnmatchedApp: []reconcile.Record{
			{Reference: "LONELY", Amount: decimal.RequireFromString("5")},
		},
		UnmatchedGateway: []reconcile.Record{
			{Reference: "STRAY-1", Amount: decimal.RequireFromString("7")},
			{Reference: "STRAY-2", Amount: decimal.RequireFromString("8")},
		},
	}

	saved, err := models.SaveRunResults(ctx, run.ID, result)
	if err != nil {
		t.Fatalf("SaveRunResults: %v", err)
	}
	if saved.Status != models.RunStatusSuccess {
		t.Fatalf("status = %q", saved.Status)
	}
	if saved.TotalMatched != 1 || saved.TotalUnmatchedApp != 1 || saved.TotalUnmatchedGateway != 2 {
		t.Fatalf("counters = %d/%d/%d", saved.TotalMatched, saved.TotalUnmatchedApp, saved.TotalUnmatchedGateway)
	}
	if saved.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}

	// A terminal run must reject further transitions.
	if _, err := models.MarkRunCompleted(ctx, run.ID, models.RunStatusFailed); err == nil {
		t.Fatal("expected error completing an already-terminal run")
	}

	// Matched items share the pair's match ref; one per side.
	matched := models.ItemStatusMatched
	items, err := models.GetRunItems(ctx, run.ID, &matched)
	if err != nil {
		t.Fatalf("GetRunItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("matched items = %d", len(items))
	}
	if items[0].MatchRef == nil || items[1].MatchRef == nil || *items[0].MatchRef != *items[1].MatchRef {
		t.Fatalf("matched items must share a match ref: %+v %+v", items[0], items[1])
	}
	if items[0].Source == items[1].Source {
		t.Fatalf("matched items must come from both sides: %q %q", items[0].Source, items[1].Source)
	}
}

func TestMarkRunCompleted_OnlyOneCompletionWins(t *testing.T) {
	ctx := setupIntegration(t)

	run, err := models.CreateRun(ctx, reconcile.DefaultTolerance(), "tester")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	// Race two completions; the row lock must let exactly one through.
	statuses := []models.RunStatus{models.RunStatusSuccess, models.RunStatusFailed}
	errs := make(chan error, len(statuses))
	var wg sync.WaitGroup
	for _, status := range statuses {
		wg.Add(1)
		go func(status models.RunStatus) {
			defer wg.Done()
			_, err := models.MarkRunCompleted(ctx, run.ID, status)
			errs <- err
		}(status)
	}
	wg.Wait()
	close(errs)

	failures := 0
	for err := range errs {
		if err != nil {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one losing completion, got %d failures", failures)
	}

	final, err := models.GetRunById(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRunById: %v", err)
	}
	if !final.Status.IsTerminal() {
		t.Fatalf("final status = %q", final.Status)
	}
	if final.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}
}

func TestRunDeletion_CascadesToItems(t *testing.T) {
	ctx := setupIntegration(t)

	run, err := models.CreateRun(ctx, reconcile.DefaultTolerance(), "tester")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	result := reconcile.MatchResult{
		UnmatchedApp: []reconcile.Record{
			{Reference: "A", Amount: decimal.RequireFromString("1")},
			{Reference: "B", Amount: decimal.RequireFromString("2")},
		},
	}
	if _, err := models.SaveRunResults(ctx, run.ID, result); err != nil {
		t.Fatalf("SaveRunResults: %v", err)
	}

	deleted, err := models.DeleteRun(ctx, run.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteRun: deleted=%v err=%v", deleted, err)
	}

	if _, err := models.GetRunById(ctx, run.ID); err == nil {
		t.Fatal("expected deleted run to be invisible")
	}
	if _, err := models.GetRunItems(ctx, run.ID, nil); err == nil {
		t.Fatal("expected items lookup to fail for a deleted run")
	}

	// Soft delete: the rows must still exist with deleted_at set.
	db := config.GetDB()
	var rawCount int64
	if err := db.Unscoped().Model(&models.ReconciliationItem{}).
		Where("run_id = ? AND deleted_at IS NOT NULL", run.ID).
		Count(&rawCount).Error; err != nil {
		t.Fatalf("unscoped count: %v", err)
	}
	if rawCount != 2 {
		t.Fatalf("expected 2 soft-deleted items, got %d", rawCount)
	}

	if _, err := models.DeleteRun(ctx, run.ID); err == nil {
		t.Fatal("expected error deleting an already-deleted run")
	}
}

func TestRunStats_AggregatesAcrossRuns(t *testing.T) {
	ctx := setupIntegration(t)

	for i := 0; i < 2; i++ {
		run, err := models.CreateRun(ctx, reconcile.DefaultTolerance(), "tester")
		if err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
		result := reconcile.MatchResult{
			Pairs: []reconcile.MatchedPair{{
				App:      reconcile.Record{Reference: "X", Amount: decimal.RequireFromString("1")},
				Gateway:  reconcile.Record{Reference: "X", Amount: decimal.RequireFromString("1")},
				MatchRef: fmt.Sprintf("mr-%d", i),
				Rule:     reconcile.MatchRuleReference,
			}},
		}
		if _, err := models.SaveRunResults(ctx, run.ID, result); err != nil {
			t.Fatalf("SaveRunResults: %v", err)
		}
	}
	failedRun, err := models.CreateRun(ctx, reconcile.DefaultTolerance(), "tester")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if _, err := models.MarkRunCompleted(ctx, failedRun.ID, models.RunStatusFailed); err != nil {
		t.Fatalf("MarkRunCompleted: %v", err)
	}

	stats, err := models.GetRunStats(ctx)
	if err != nil {
		t.Fatalf("GetRunStats: %v", err)
	}
	if stats.TotalRuns != 3 || stats.SuccessRuns != 2 || stats.FailedRuns != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.TotalMatched != 2 {
		t.Fatalf("total matched = %d", stats.TotalMatched)
	}
	if stats.LastCompletedAt == nil {
		t.Fatal("expected last completed timestamp")
	}

	runs, total, err := models.PaginateRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("PaginateRuns: %v", err)
	}
	if total != 3 || len(runs) != 2 {
		t.Fatalf("pagination: total=%d page=%d", total, len(runs))
	}
	if runs[0].ID < runs[1].ID {
		t.Fatal("runs must be newest first")
	}
}

func TestDiscrepancyDetectorsAndHeal(t *testing.T) {
	ctx := setupIntegration(t)
	db := config.GetDB()

	paidAt := time.Now().UTC()
	payments := []models.Payment{
		{TransactionId: "tx-ok", Amount: decimal.RequireFromString("100"), Status: models.PaymentStatusPaid, PaidAt: &paidAt},
		{TransactionId: "tx-amt", Amount: decimal.RequireFromString("90"), Status: models.PaymentStatusPaid, PaidAt: &paidAt},
		{TransactionId: "tx-status", Amount: decimal.RequireFromString("50"), Status: models.PaymentStatusPaid, PaidAt: &paidAt},
		{TransactionId: "tx-pending", Amount: decimal.RequireFromString("60"), Status: models.PaymentStatusPending},
	}
	for i := range payments {
		if err := db.Create(&payments[i]).Error; err != nil {
			t.Fatalf("create payment: %v", err)
		}
	}

	donations := []models.Donation{
		{DonorName: "ok", Amount: decimal.RequireFromString("100"), Status: models.DonationStatusPaid, PaymentId: payments[0].ID},
		{DonorName: "amount drift", Amount: decimal.RequireFromString("100"), Status: models.DonationStatusPaid, PaymentId: payments[1].ID},
		{DonorName: "stale status", Amount: decimal.RequireFromString("50"), Status: models.DonationStatusPending, PaymentId: payments[2].ID},
		{DonorName: "no payment", Amount: decimal.RequireFromString("10"), Status: models.DonationStatusPaid},
		{DonorName: "pending payment", Amount: decimal.RequireFromString("60"), Status: models.DonationStatusFailed, PaymentId: payments[3].ID},
	}
	for i := range donations {
		if err := db.Create(&donations[i]).Error; err != nil {
			t.Fatalf("create donation: %v", err)
		}
	}
	// Pending donations are out of detector scope.
	if err := db.Model(&models.Donation{}).Where("id = ?", donations[2].ID).
		Update("status", models.DonationStatusPending).Error; err != nil {
		t.Fatalf("reset status: %v", err)
	}

	report, err := models.DetectDonationDiscrepancies(ctx)
	if err != nil {
		t.Fatalf("DetectDonationDiscrepancies: %v", err)
	}
	if len(report.MissingPayments) != 1 {
		t.Fatalf("missing payments = %d", len(report.MissingPayments))
	}
	if len(report.AmountMismatches) != 1 {
		t.Fatalf("amount mismatches = %d", len(report.AmountMismatches))
	}
	// donation 5 (Failed) vs pending payment is a status mismatch too.
	if len(report.StatusMismatches) != 1 {
		t.Fatalf("status mismatches = %d: %+v", len(report.StatusMismatches), report.StatusMismatches)
	}

	// Auto-heal: a pending payment is not authoritative, so nothing changes.
	changed, err := models.ReconcileDonationPayment(ctx, donations[4].ID)
	if err != nil || changed {
		t.Fatalf("heal against pending payment: changed=%v err=%v", changed, err)
	}

	// Flip the stale-status donation back into scope and heal it.
	if err := db.Model(&models.Donation{}).Where("id = ?", donations[2].ID).
		Update("status", models.DonationStatusFailed).Error; err != nil {
		t.Fatalf("set stale status: %v", err)
	}
	changed, err = models.ReconcileDonationPayment(ctx, donations[2].ID)
	if err != nil || !changed {
		t.Fatalf("heal: changed=%v err=%v", changed, err)
	}
	// Idempotent: second call is a no-op.
	changed, err = models.ReconcileDonationPayment(ctx, donations[2].ID)
	if err != nil || changed {
		t.Fatalf("second heal: changed=%v err=%v", changed, err)
	}
}

func TestEventOrderDetector_FulfilmentMismatch(t *testing.T) {
	ctx := setupIntegration(t)
	db := config.GetDB()

	paidAt := time.Now().UTC()
	payment := models.Payment{TransactionId: "tx-ord", Amount: decimal.RequireFromString("30"), Status: models.PaymentStatusPaid, PaidAt: &paidAt}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}

	orders := []models.EventOrder{
		{OrderNumber: "ORD-1", Amount: decimal.RequireFromString("30"), Status: models.EventOrderStatusPaid, PaymentId: payment.ID, Quantity: 3, TicketsIssued: 3, OrderDate: paidAt},
		{OrderNumber: "ORD-2", Amount: decimal.RequireFromString("30"), Status: models.EventOrderStatusPaid, PaymentId: payment.ID, Quantity: 2, TicketsIssued: 1, OrderDate: paidAt},
		{OrderNumber: "ORD-3", Amount: decimal.RequireFromString("30"), Status: models.EventOrderStatusCancelled, PaymentId: payment.ID, Quantity: 1, TicketsIssued: 0, OrderDate: paidAt},
	}
	for i := range orders {
		if err := db.Create(&orders[i]).Error; err != nil {
			t.Fatalf("create order: %v", err)
		}
	}

	report, err := models.DetectEventOrderDiscrepancies(ctx)
	if err != nil {
		t.Fatalf("DetectEventOrderDiscrepancies: %v", err)
	}
	if len(report.FulfilmentMismatches) != 1 || report.FulfilmentMismatches[0].Order.OrderNumber != "ORD-2" {
		t.Fatalf("fulfilment mismatches = %+v", report.FulfilmentMismatches)
	}

	// Cancelled orders are never touched by auto-heal.
	changed, err := models.ReconcileEventOrderPayment(ctx, orders[2].ID)
	if err != nil || changed {
		t.Fatalf("heal cancelled order: changed=%v err=%v", changed, err)
	}
}

func TestStartReconciliation_SyncEndToEnd(t *testing.T) {
	ctx := setupIntegration(t)
	db := config.GetDB()
	logger := config.GetLogger()

	paidAt := time.Now().UTC()
	appRows := []models.Payment{
		{TransactionId: "tx-1", Reference: "INV-1", Amount: decimal.RequireFromString("100"), Status: models.PaymentStatusPaid, PaidAt: &paidAt},
		{Reference: "INV-2", Amount: decimal.RequireFromString("200"), Status: models.PaymentStatusPaid, PaidAt: &paidAt},
		{Reference: "INV-GONE", Amount: decimal.RequireFromString("300"), Status: models.PaymentStatusPaid, PaidAt: &paidAt},
	}
	for i := range appRows {
		if err := db.Create(&appRows[i]).Error; err != nil {
			t.Fatalf("create payment: %v", err)
		}
	}
	gatewayRows := []models.GatewayTransaction{
		{TransactionId: "tx-1", Reference: "other", Amount: decimal.RequireFromString("105"), TransactionDate: &paidAt},
		{Reference: "INV-2", Amount: decimal.RequireFromString("200"), TransactionDate: &paidAt},
		{Reference: "UNKNOWN", Amount: decimal.RequireFromString("7"), TransactionDate: &paidAt},
	}
	for i := range gatewayRows {
		if err := db.Create(&gatewayRows[i]).Error; err != nil {
			t.Fatalf("create gateway transaction: %v", err)
		}
	}

	input := workflow.ReconciliationInput{
		FromDate:  paidAt.Add(-time.Hour),
		ToDate:    paidAt.Add(time.Hour),
		Tolerance: reconcile.DefaultTolerance(),
		Sync:      true,
	}
	run, err := workflow.StartReconciliation(ctx, logger, input)
	if err != nil {
		t.Fatalf("StartReconciliation: %v", err)
	}
	if run.Status != models.RunStatusSuccess {
		t.Fatalf("run status = %q", run.Status)
	}
	if run.TotalMatched != 2 || run.TotalUnmatchedApp != 1 || run.TotalUnmatchedGateway != 1 {
		t.Fatalf("counters = %d/%d/%d", run.TotalMatched, run.TotalUnmatchedApp, run.TotalUnmatchedGateway)
	}

	// Dry run over the same window must not create another run row.
	dry, err := workflow.DryRunReconciliation(ctx, logger, input)
	if err != nil {
		t.Fatalf("DryRunReconciliation: %v", err)
	}
	if dry.Matched != 2 {
		t.Fatalf("dry run matched = %d", dry.Matched)
	}
	_, total, err := models.PaginateRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("PaginateRuns: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 run after dry run, got %d", total)
	}

	content, filename, err := models.ExportRunItemsCsv(ctx, run.ID, nil)
	if err != nil {
		t.Fatalf("ExportRunItemsCsv: %v", err)
	}
	if filename != fmt.Sprintf("reconciliation_%s.csv", run.RunNumber) {
		t.Fatalf("filename = %q", filename)
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) != 7 { // header + 6 items
		t.Fatalf("csv lines = %d:\n%s", len(lines), content)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("members-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("members-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=members_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}

package corebank

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newCreditFixture(t *testing.T) *CreditEngine {
	t.Helper()
	storage := newTestStorage(t)
	return NewCreditEngine(storage, &SequentialIDGenerator{Prefix: "credit"}, NewFixedClock(testNow))
}

func openTestCreditLine(t *testing.T, engine *CreditEngine, tenant TenantID, accountID string) *CreditAccount {
	t.Helper()
	acct, err := engine.OpenCreditLine(tenant, accountID, "cust-1", "USD", CreditLineState{
		GraceDays:         21,
		StatementCycleDay: 1,
		MinPercentage:     decimal.NewFromFloat(0.02),
		MinFloor:          NewMoney(2500, "USD"),
		CashAdvanceFee:    NewMoney(1000, "USD"),
		OverlimitFee:      NewMoney(3500, "USD"),
		LateFee:           NewMoney(3900, "USD"),
		OverlimitPolicy:   OverlimitReject,
		AnnualRate:        decimal.NewFromFloat(0.24),
	})
	if err != nil {
		t.Fatalf("OpenCreditLine: %v", err)
	}
	return acct
}

// S4: a statement paid in full by its due date, with no cash-advance or
// balance-transfer activity, preserves the grace period — cycle-2
// purchases accrue no interest before the next due date.
func TestCreditGracePreservedScenarioS4(t *testing.T) {
	engine := newCreditFixture(t)
	const tenant TenantID = "tenant-a"
	const accountID = "credit-1"
	openTestCreditLine(t, engine, tenant, accountID)

	cycle1Day := testNow
	if _, err := engine.RecordTransaction(tenant, accountID, "entry-1", NewMoney(10000, "USD"), CategoryPurchase, "store-1", false, cycle1Day); err != nil {
		t.Fatalf("RecordTransaction cycle 1: %v", err)
	}

	statementDate := cycle1Day.AddDate(0, 1, 0)
	statement1, err := engine.GenerateStatement(tenant, accountID, statementDate, nil)
	if err != nil {
		t.Fatalf("GenerateStatement 1: %v", err)
	}
	if statement1.CurrentBalance.Minor != 10000 {
		t.Fatalf("expected statement balance 10000, got %d", statement1.CurrentBalance.Minor)
	}

	payDate := statement1.DueDate.AddDate(0, 0, -1)
	alloc, err := engine.AllocatePayment(tenant, accountID, NewMoney(10000, "USD"), payDate)
	if err != nil {
		t.Fatalf("AllocatePayment: %v", err)
	}
	if err := engine.ApplyPayment(tenant, accountID, alloc, payDate); err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}

	acctAfterPayment, err := engine.GetCreditAccount(tenant, accountID)
	if err != nil {
		t.Fatalf("GetCreditAccount: %v", err)
	}
	if !acctAfterPayment.CurrentBalance.IsZero() {
		t.Fatalf("expected zero balance after paying statement in full, got %d", acctAfterPayment.CurrentBalance.Minor)
	}

	cycle2Day := statementDate.AddDate(0, 0, 5)
	if _, err := engine.RecordTransaction(tenant, accountID, "entry-2", NewMoney(25000, "USD"), CategoryPurchase, "store-2", false, cycle2Day); err != nil {
		t.Fatalf("RecordTransaction cycle 2: %v", err)
	}

	beforeDueDate := statement1.DueDate.AddDate(0, 0, -1)
	accrued, err := engine.AccrueDailyInterest(tenant, accountID, beforeDueDate)
	if err != nil {
		t.Fatalf("AccrueDailyInterest: %v", err)
	}
	if !accrued.IsZero() {
		t.Fatalf("expected no interest accrued on cycle-2 purchase before due date, got %d", accrued.Minor)
	}
}

func TestCreditCashAdvanceBreaksGraceEligibility(t *testing.T) {
	engine := newCreditFixture(t)
	const tenant TenantID = "tenant-a"
	const accountID = "credit-1"
	openTestCreditLine(t, engine, tenant, accountID)

	tx, err := engine.RecordTransaction(tenant, accountID, "entry-1", NewMoney(5000, "USD"), CategoryCashAdvance, "atm", false, testNow)
	if err != nil {
		t.Fatalf("RecordTransaction: %v", err)
	}
	if tx.GraceEligible {
		t.Fatal("expected cash advance to never be grace-eligible")
	}

	acct, err := engine.GetCreditAccount(tenant, accountID)
	if err != nil {
		t.Fatalf("GetCreditAccount: %v", err)
	}
	if !acct.State.CashAdvanceThisCycle {
		t.Fatal("expected cash advance to flag the current cycle")
	}
}

func TestCreditAllocatePaymentOrdersFeesInterestPrincipal(t *testing.T) {
	engine := newCreditFixture(t)
	const tenant TenantID = "tenant-a"
	const accountID = "credit-1"
	// LateFee zeroed; no late fee is assessed here, so the only fee
	// outstanding is the CategoryFee transaction below.
	if _, err := engine.OpenCreditLine(tenant, accountID, "cust-1", "USD", CreditLineState{
		GraceDays:         21,
		StatementCycleDay: 1,
		MinPercentage:     decimal.NewFromFloat(0.02),
		MinFloor:          NewMoney(2500, "USD"),
		CashAdvanceFee:    NewMoney(1000, "USD"),
		OverlimitFee:      NewMoney(3500, "USD"),
		LateFee:           NewMoney(0, "USD"),
		OverlimitPolicy:   OverlimitReject,
		AnnualRate:        decimal.NewFromFloat(0.24),
	}); err != nil {
		t.Fatalf("OpenCreditLine: %v", err)
	}

	now := testNow
	if _, err := engine.RecordTransaction(tenant, accountID, "entry-fee", NewMoney(1500, "USD"), CategoryFee, "", false, now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("record fee: %v", err)
	}
	if _, err := engine.RecordTransaction(tenant, accountID, "entry-interest", NewMoney(1000, "USD"), CategoryInterest, "", false, now.Add(-24*time.Hour)); err != nil {
		t.Fatalf("record interest: %v", err)
	}
	if _, err := engine.RecordTransaction(tenant, accountID, "entry-purchase", NewMoney(5000, "USD"), CategoryPurchase, "store", false, now); err != nil {
		t.Fatalf("record purchase: %v", err)
	}

	alloc, err := engine.AllocatePayment(tenant, accountID, NewMoney(3000, "USD"), now)
	if err != nil {
		t.Fatalf("AllocatePayment: %v", err)
	}
	if alloc.Fees.Minor != 1500 {
		t.Fatalf("expected fees 1500, got %d", alloc.Fees.Minor)
	}
	if alloc.Interest.Minor != 1000 {
		t.Fatalf("expected interest 1000, got %d", alloc.Interest.Minor)
	}
	if alloc.Principal.Minor != 500 {
		t.Fatalf("expected principal 500, got %d", alloc.Principal.Minor)
	}
}

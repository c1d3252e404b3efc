package corebank

import (
	"testing"

	"github.com/shopspring/decimal"
)

func newLoanFixture(t *testing.T) *LoanEngine {
	t.Helper()
	storage := newTestStorage(t)
	return NewLoanEngine(storage, &SequentialIDGenerator{Prefix: "loan"}, NewFixedClock(testNow))
}

// S3 / invariant 7: an equal-installment loan's scheduled payments are
// equal within rounding, the final balance is zero, and the sum of
// payments minus the sum of interest equals the principal to within one
// minor unit.
func TestLoanEqualInstallmentScheduleScenarioS3(t *testing.T) {
	engine := newLoanFixture(t)
	loan, err := engine.OriginateLoan("tenant-a", "cust-1", "personal-loan", NewMoney(1000000, "USD"),
		decimal.NewFromFloat(0.06), 12, 12, testNow, AmortizationEqualInstallment, LoanPolicy{
			GraceDays: 10, PrepaymentAllowed: true, LateFeeFlat: NewMoney(2500, "USD"),
		})
	if err != nil {
		t.Fatalf("OriginateLoan: %v", err)
	}

	schedule, err := engine.GenerateSchedule(loan)
	if err != nil {
		t.Fatalf("GenerateSchedule: %v", err)
	}
	if len(schedule) != 12 {
		t.Fatalf("expected 12 scheduled payments, got %d", len(schedule))
	}

	first := schedule[0].Payment.Minor
	for i, entry := range schedule[:len(schedule)-1] {
		if diff := entry.Payment.Minor - first; diff > 1 || diff < -1 {
			t.Fatalf("payment %d differs from first payment by more than a minor unit: %d vs %d", i, entry.Payment.Minor, first)
		}
	}

	last := schedule[len(schedule)-1]
	if last.RemainingBalance.Minor != 0 {
		t.Fatalf("expected final balance 0, got %d", last.RemainingBalance.Minor)
	}

	var totalPayments, totalInterest int64
	for _, entry := range schedule {
		totalPayments += entry.Payment.Minor
		totalInterest += entry.Interest.Minor
	}
	diff := totalPayments - totalInterest - loan.Principal.Minor
	if diff > 1 || diff < -1 {
		t.Fatalf("expected sum(payments)-sum(interest) within 1 minor unit of principal, got diff %d", diff)
	}
}

func TestLoanAllocatePaymentOrdersFeesInterestPrincipal(t *testing.T) {
	engine := newLoanFixture(t)
	loan, err := engine.OriginateLoan("tenant-a", "cust-1", "personal-loan", NewMoney(100000, "USD"),
		decimal.NewFromFloat(0.12), 12, 12, testNow, AmortizationEqualInstallment, LoanPolicy{
			GraceDays: 5, LateFeeFlat: NewMoney(1500, "USD"),
		})
	if err != nil {
		t.Fatalf("OriginateLoan: %v", err)
	}
	if err := engine.MarkDisbursed("tenant-a", loan.ID, testNow); err != nil {
		t.Fatalf("MarkDisbursed: %v", err)
	}
	loan, err = engine.GetLoan("tenant-a", loan.ID)
	if err != nil {
		t.Fatalf("GetLoan: %v", err)
	}
	loan.LateFeeAccumulator = NewMoney(1500, "USD")
	loan.AccruedInterest = NewMoney(1000, "USD")
	if err := engine.save("tenant-a", loan); err != nil {
		t.Fatalf("save: %v", err)
	}

	alloc, err := engine.AllocatePayment("tenant-a", loan.ID, NewMoney(5000, "USD"), testNow)
	if err != nil {
		t.Fatalf("AllocatePayment: %v", err)
	}
	if alloc.Fees.Minor != 1500 {
		t.Fatalf("expected fees allocation 1500, got %d", alloc.Fees.Minor)
	}
	if alloc.Interest.Minor != 1000 {
		t.Fatalf("expected interest allocation 1000, got %d", alloc.Interest.Minor)
	}
	if alloc.Principal.Minor != 2500 {
		t.Fatalf("expected principal allocation 2500, got %d", alloc.Principal.Minor)
	}
}

func TestLoanPrepaymentNotAllowedRejectsEarlyPayoff(t *testing.T) {
	engine := newLoanFixture(t)
	loan, err := engine.OriginateLoan("tenant-a", "cust-1", "personal-loan", NewMoney(100000, "USD"),
		decimal.NewFromFloat(0.12), 12, 12, testNow, AmortizationEqualInstallment, LoanPolicy{
			GraceDays: 5, PrepaymentAllowed: false,
		})
	if err != nil {
		t.Fatalf("OriginateLoan: %v", err)
	}
	if err := engine.MarkDisbursed("tenant-a", loan.ID, testNow); err != nil {
		t.Fatalf("MarkDisbursed: %v", err)
	}

	if _, err := engine.AllocatePayment("tenant-a", loan.ID, loan.Principal, testNow); err == nil {
		t.Fatal("expected full early payoff to be rejected when prepayment is not allowed")
	}
}

func TestLoanRecomputeDelinquencyTransitionsToDefaulted(t *testing.T) {
	engine := newLoanFixture(t)
	loan, err := engine.OriginateLoan("tenant-a", "cust-1", "personal-loan", NewMoney(100000, "USD"),
		decimal.NewFromFloat(0.12), 12, 12, testNow, AmortizationEqualInstallment, LoanPolicy{GraceDays: 5})
	if err != nil {
		t.Fatalf("OriginateLoan: %v", err)
	}
	if err := engine.MarkDisbursed("tenant-a", loan.ID, testNow); err != nil {
		t.Fatalf("MarkDisbursed: %v", err)
	}

	farFuture := testNow.AddDate(0, 5, 0)
	bucket, err := engine.RecomputeDelinquency("tenant-a", loan.ID, farFuture)
	if err != nil {
		t.Fatalf("RecomputeDelinquency: %v", err)
	}
	if bucket != Delinquency90Plus {
		t.Fatalf("expected 90+ bucket, got %s", bucket)
	}
	loan, err = engine.GetLoan("tenant-a", loan.ID)
	if err != nil {
		t.Fatalf("GetLoan: %v", err)
	}
	if loan.State != LoanDefaulted {
		t.Fatalf("expected loan to transition to defaulted, got %s", loan.State)
	}
}

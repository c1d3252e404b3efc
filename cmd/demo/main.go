// Command demo exercises a corebank.Engine end to end: chart-of-accounts
// setup, a deposit, a loan origination and payment, a credit line with one
// purchase, and a look at the resulting trial balance and audit trail. Grounded on the teacher's cmd/demo/main.go walkthrough shape.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ahmed-com/corebank"
)

func main() {
	fmt.Println("Corebank Engine Demo")
	fmt.Println("====================")

	dbFile := "demo_corebank.db"
	os.Remove(dbFile)

	cfg := &corebank.Config{
		TenantIsolation:         corebank.IsolationSharedTable,
		EncryptionProvider:      corebank.EncryptionChaCha20Poly1305,
		KeyMaterial:             "demo-key-material-not-for-production",
		DayCountConvention:      corebank.DayCountActual365,
		DefaultGraceDays:        21,
		StatementCycleDayPolicy: corebank.CyclePolicyLastDayOfMonth,
		ClockSource:             "system",
		DBPath:                  dbFile,
	}

	engine, err := corebank.NewEngine(cfg)
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()
	defer os.Remove(dbFile)

	const tenant corebank.TenantID = "demo-bank"
	const actor = "demo-operator"

	fmt.Println("\nStep 1: Opening chart of accounts")
	cash, err := engine.CreateAccount(tenant, "bank-books", "cash", "USD", corebank.AccountAsset, corebank.AccountLimits{})
	if err != nil {
		log.Fatalf("create cash account: %v", err)
	}
	customer, err := engine.CreateAccount(tenant, "cust-001", "checking", "USD", corebank.AccountLiability, corebank.AccountLimits{})
	if err != nil {
		log.Fatalf("create customer account: %v", err)
	}
	loanReceivable, err := engine.CreateAccount(tenant, "bank-books", "loan-receivable", "USD", corebank.AccountAsset, corebank.AccountLimits{})
	if err != nil {
		log.Fatalf("create loan receivable account: %v", err)
	}
	interestIncome, err := engine.CreateAccount(tenant, "bank-books", "interest-income", "USD", corebank.AccountRevenue, corebank.AccountLimits{})
	if err != nil {
		log.Fatalf("create interest income account: %v", err)
	}
	feeIncome, err := engine.CreateAccount(tenant, "bank-books", "fee-income", "USD", corebank.AccountRevenue, corebank.AccountLimits{})
	if err != nil {
		log.Fatalf("create fee income account: %v", err)
	}
	creditReceivable, err := engine.CreateAccount(tenant, "cust-002", "credit-card", "USD", corebank.AccountAsset, corebank.AccountLimits{})
	if err != nil {
		log.Fatalf("create credit receivable account: %v", err)
	}
	merchantClearing, err := engine.CreateAccount(tenant, "bank-books", "merchant-clearing", "USD", corebank.AccountLiability, corebank.AccountLimits{})
	if err != nil {
		log.Fatalf("create merchant clearing account: %v", err)
	}
	fmt.Println("chart of accounts ready")

	fmt.Println("\nStep 2: Depositing funds")
	depositEntry, err := engine.Processor().Deposit(tenant, customer.ID, cash.ID, corebank.NewMoney(250000, "USD"), "initial deposit", "client-ref-deposit-1", actor)
	if err != nil {
		log.Fatalf("deposit failed: %v", err)
	}
	fmt.Printf("deposit posted: entry %s\n", depositEntry.ID)

	fmt.Println("\nStep 3: Originating and disbursing a loan")
	loan, err := engine.Loans().OriginateLoan(tenant, "cust-001", "personal-loan", corebank.NewMoney(1000000, "USD"),
		decimal.NewFromFloat(0.12), 12, 12, time.Now().AddDate(0, 1, 0),
		corebank.AmortizationEqualInstallment, corebank.LoanPolicy{
			GraceDays:         10,
			PrepaymentAllowed: true,
			PrepaymentRate:    decimal.NewFromFloat(0.01),
			LateFeeFlat:       corebank.NewMoney(2500, "USD"),
		})
	if err != nil {
		log.Fatalf("originate loan: %v", err)
	}
	schedule, err := engine.Loans().GenerateSchedule(loan)
	if err != nil {
		log.Fatalf("generate schedule: %v", err)
	}
	fmt.Printf("loan %s originated, %d scheduled payments\n", loan.ID, len(schedule))

	if _, err := engine.Processor().LoanDisburse(tenant, loan.ID, loanReceivable.ID, customer.ID, loan.Principal, "client-ref-disburse-1", actor); err != nil {
		log.Fatalf("disburse loan: %v", err)
	}
	fmt.Println("loan disbursed to customer checking account")

	fmt.Println("\nStep 4: Making a loan payment")
	firstInstallment := schedule[0].Payment
	_, alloc, err := engine.Processor().LoanPayment(tenant, loan.ID, customer.ID, loanReceivable.ID, interestIncome.ID, feeIncome.ID, firstInstallment, "client-ref-payment-1", actor)
	if err != nil {
		log.Fatalf("loan payment: %v", err)
	}
	fmt.Printf("payment allocated: fees=%d interest=%d principal=%d (minor units)\n",
		alloc.Fees.Minor, alloc.Interest.Minor, alloc.Principal.Minor)

	fmt.Println("\nStep 5: Opening a revolving credit line and recording a purchase")
	if _, err := engine.Credit().OpenCreditLine(tenant, creditReceivable.ID, "cust-002", "USD", corebank.CreditLineState{
		GraceDays:         21,
		StatementCycleDay: time.Now().Day(),
		MinPercentage:     decimal.NewFromFloat(0.02),
		MinFloor:          corebank.NewMoney(2500, "USD"),
		CashAdvanceFee:    corebank.NewMoney(1000, "USD"),
		OverlimitFee:      corebank.NewMoney(3500, "USD"),
		LateFee:           corebank.NewMoney(3900, "USD"),
		OverlimitPolicy:   corebank.OverlimitReject,
		AnnualRate:        decimal.NewFromFloat(0.24),
		GracePeriodActive: true,
	}); err != nil {
		log.Fatalf("open credit line: %v", err)
	}

	if _, err := engine.Processor().Charge(tenant, creditReceivable.ID, merchantClearing.ID, corebank.NewMoney(8000, "USD"),
		corebank.CategoryPurchase, "grocery purchase", "Corner Market", "client-ref-charge-1", actor); err != nil {
		log.Fatalf("charge: %v", err)
	}
	fmt.Println("credit purchase posted")

	fmt.Println("\nStep 6: Generating a trial balance")
	balances, err := engine.TrialBalance(tenant, "USD")
	if err != nil {
		log.Fatalf("trial balance: %v", err)
	}
	fmt.Println("\n   Account                              Kind          Balance")
	fmt.Println("   ======================================================")
	net := corebank.NewMoney(0, "USD")
	for _, b := range balances {
		fmt.Printf("   %-36s %-12s %10.2f\n", b.AccountID, b.Kind, float64(b.Balance.Minor)/100)
		var addErr error
		if b.Kind.DebitNormal() {
			net, addErr = net.Add(b.Balance)
		} else {
			net, addErr = net.Sub(b.Balance)
		}
		if addErr != nil {
			log.Fatalf("trial balance net: %v", addErr)
		}
	}
	fmt.Println("   ======================================================")
	fmt.Printf("   Net (should be zero): %.2f\n", float64(net.Minor)/100)

	fmt.Println("\nStep 7: Verifying the audit trail")
	ok, brokenAt, err := engine.Audit().Verify(tenant, 1, 0)
	if err != nil {
		log.Fatalf("audit verify: %v", err)
	}
	if ok {
		fmt.Println("audit chain intact")
	} else {
		fmt.Printf("audit chain broken at sequence %d\n", *brokenAt)
	}

	fmt.Println("\nDemo completed.")
}

package corebank

import "testing"

func newProcessorFixture(t *testing.T) (*Engine, *FixedClock) {
	t.Helper()
	return newTestEngine(t, testNow)
}

func TestProcessorDepositIdempotentReplay(t *testing.T) {
	engine, _ := newProcessorFixture(t)
	cash, err := engine.CreateAccount("tenant-a", "bank", "cash", "USD", AccountAsset, AccountLimits{})
	if err != nil {
		t.Fatalf("create cash: %v", err)
	}
	customer, err := engine.CreateAccount("tenant-a", "cust-1", "checking", "USD", AccountLiability, AccountLimits{})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}

	first, err := engine.Processor().Deposit("tenant-a", customer.ID, cash.ID, NewMoney(10000, "USD"), "deposit", "client-ref-1", "teller")
	if err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	second, err := engine.Processor().Deposit("tenant-a", customer.ID, cash.ID, NewMoney(10000, "USD"), "deposit", "client-ref-1", "teller")
	if err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected idempotent replay to return same entry, got %s vs %s", first.ID, second.ID)
	}

	bal, err := engine.Balance("tenant-a", customer.ID, "USD")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Minor != 10000 {
		t.Fatalf("expected balance 10000 after idempotent replay, got %d", bal.Minor)
	}
}

func TestProcessorWithdrawRejectsOverdraft(t *testing.T) {
	engine, _ := newProcessorFixture(t)
	cash, _ := engine.CreateAccount("tenant-a", "bank", "cash", "USD", AccountAsset, AccountLimits{})
	customer, _ := engine.CreateAccount("tenant-a", "cust-1", "checking", "USD", AccountLiability, AccountLimits{})

	if _, err := engine.Processor().Deposit("tenant-a", customer.ID, cash.ID, NewMoney(5000, "USD"), "deposit", "client-ref-dep", "teller"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Processor().Withdraw("tenant-a", customer.ID, cash.ID, NewMoney(10000, "USD"), "withdrawal", "client-ref-wd", "teller"); err == nil {
		t.Fatal("expected overdraft withdrawal to be rejected")
	}
}

func TestProcessorWithdrawRejectsOnFrozenAccount(t *testing.T) {
	engine, _ := newProcessorFixture(t)
	cash, _ := engine.CreateAccount("tenant-a", "bank", "cash", "USD", AccountAsset, AccountLimits{})
	customer, _ := engine.CreateAccount("tenant-a", "cust-1", "checking", "USD", AccountLiability, AccountLimits{})
	if _, err := engine.Processor().Deposit("tenant-a", customer.ID, cash.ID, NewMoney(5000, "USD"), "deposit", "client-ref-dep", "teller"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Accounts().SetStatus("tenant-a", customer.ID, AccountStatusFrozen); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := engine.Processor().Withdraw("tenant-a", customer.ID, cash.ID, NewMoney(100, "USD"), "withdrawal", "client-ref-wd2", "teller"); err == nil {
		t.Fatal("expected withdrawal on frozen account to be rejected")
	}
}

func TestProcessorSingleTransactionLimit(t *testing.T) {
	engine, _ := newProcessorFixture(t)
	cash, _ := engine.CreateAccount("tenant-a", "bank", "cash", "USD", AccountAsset, AccountLimits{})
	limit := NewMoney(5000, "USD")
	customer, err := engine.CreateAccount("tenant-a", "cust-1", "checking", "USD", AccountLiability, AccountLimits{SingleTransactionLimit: &limit})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	if _, err := engine.Processor().Deposit("tenant-a", customer.ID, cash.ID, NewMoney(9000, "USD"), "deposit", "client-ref-over", "teller"); err == nil {
		t.Fatal("expected deposit exceeding single-transaction limit to be rejected")
	}
	if _, err := engine.Processor().Deposit("tenant-a", customer.ID, cash.ID, NewMoney(4000, "USD"), "deposit", "client-ref-under", "teller"); err != nil {
		t.Fatalf("expected deposit within limit to succeed: %v", err)
	}
}

// S2: a cross-currency transfer routes both legs through the FX clearing
// account so each currency balances independently on the one entry.
func TestProcessorCrossCurrencyTransferScenarioS2(t *testing.T) {
	engine, _ := newProcessorFixture(t)
	usdAccount, _ := engine.CreateAccount("tenant-a", "cust-1", "checking-usd", "USD", AccountLiability, AccountLimits{})
	eurAccount, _ := engine.CreateAccount("tenant-a", "cust-1", "checking-eur", "EUR", AccountLiability, AccountLimits{})
	fxClearing, _ := engine.CreateAccount("tenant-a", "bank", "fx-clearing", "USD", AccountLiability, AccountLimits{})
	cash, _ := engine.CreateAccount("tenant-a", "bank", "cash", "USD", AccountAsset, AccountLimits{})

	if _, err := engine.Processor().Deposit("tenant-a", usdAccount.ID, cash.ID, NewMoney(100000, "USD"), "seed", "client-ref-seed", "teller"); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	entry, err := engine.Processor().Transfer("tenant-a", usdAccount.ID, eurAccount.ID, NewMoney(100000, "USD"), NewMoney(85000, "EUR"), fxClearing.ID, "fx transfer", "client-ref-fx", "teller")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if len(entry.Lines) != 4 {
		t.Fatalf("expected 4-line cross-currency entry, got %d", len(entry.Lines))
	}

	usdBal, err := engine.Balance("tenant-a", usdAccount.ID, "USD")
	if err != nil {
		t.Fatalf("Balance usd: %v", err)
	}
	if usdBal.Minor != 0 {
		t.Fatalf("expected usd account balance 0 after transfer, got %d", usdBal.Minor)
	}
	eurBal, err := engine.Balance("tenant-a", eurAccount.ID, "EUR")
	if err != nil {
		t.Fatalf("Balance eur: %v", err)
	}
	if eurBal.Minor != 85000 {
		t.Fatalf("expected eur account balance 85000, got %d", eurBal.Minor)
	}
}

// S5: repeated deposits under the spend-structuring pattern all post
// independently and each publishes its own TRANSACTION_POSTED event; core
// correctness does not depend on any compliance subscriber reacting.
func TestProcessorStructuringPatternAllPostIndependently(t *testing.T) {
	engine, _ := newProcessorFixture(t)
	cash, _ := engine.CreateAccount("tenant-a", "bank", "cash", "USD", AccountAsset, AccountLimits{})
	customer, _ := engine.CreateAccount("tenant-a", "cust-1", "checking", "USD", AccountLiability, AccountLimits{})

	var postedEvents int
	engine.Events().Subscribe("TRANSACTION_POSTED", func(DomainEvent) { postedEvents++ })

	amounts := []int64{980000, 950000, 490000}
	for i, amount := range amounts {
		if _, err := engine.Processor().Deposit("tenant-a", customer.ID, cash.ID, NewMoney(amount, "USD"), "deposit", refFor(i), "teller"); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}
	if postedEvents != 3 {
		t.Fatalf("expected 3 TRANSACTION_POSTED events, got %d", postedEvents)
	}

	bal, err := engine.Balance("tenant-a", customer.ID, "USD")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	var total int64
	for _, a := range amounts {
		total += a
	}
	if bal.Minor != total {
		t.Fatalf("expected balance %d, got %d", total, bal.Minor)
	}
}

func TestProcessorTenantIsolationRejectsEmptyTenant(t *testing.T) {
	engine, _ := newProcessorFixture(t)
	cash, _ := engine.CreateAccount("tenant-a", "bank", "cash", "USD", AccountAsset, AccountLimits{})
	customer, _ := engine.CreateAccount("tenant-a", "cust-1", "checking", "USD", AccountLiability, AccountLimits{})

	if _, err := engine.Processor().Deposit("", customer.ID, cash.ID, NewMoney(100, "USD"), "deposit", "client-ref-noop", "teller"); err == nil {
		t.Fatal("expected deposit with empty tenant to be rejected")
	}
}

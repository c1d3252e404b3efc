package corebank

import "testing"

func newLedgerFixture(t *testing.T) (*Ledger, *AccountBook, *AuditChain) {
	t.Helper()
	storage := newTestStorage(t)
	clock := NewFixedClock(testNow)
	ids := &SequentialIDGenerator{Prefix: "e"}
	audit := NewAuditChain(storage, clock)
	accounts := NewAccountBook(storage, ids, clock)
	events := NewDomainEventBus(NewLogger())
	ledger := NewLedger(storage, accounts, audit, events, ids, clock)
	return ledger, accounts, audit
}

// S1: a deposit posts a single balanced entry, balances reflect the
// debit-normal/credit-normal sign convention, and replaying under the same
// client reference is a no-op that returns the same entry.
func TestLedgerDepositScenarioS1(t *testing.T) {
	ledger, accounts, _ := newLedgerFixture(t)
	cash, err := accounts.CreateAccount("tenant-a", "bank", "cash", "USD", AccountAsset, AccountLimits{})
	if err != nil {
		t.Fatalf("create cash account: %v", err)
	}
	customer, err := accounts.CreateAccount("tenant-a", "cust-1", "checking", "USD", AccountLiability, AccountLimits{})
	if err != nil {
		t.Fatalf("create customer account: %v", err)
	}

	entry := &JournalEntry{
		Reference:   "ref-deposit-1",
		Description: "deposit",
		Lines: []JournalEntryLine{
			{AccountID: cash.ID, Debit: NewMoney(10000, "USD")},
			{AccountID: customer.ID, Credit: NewMoney(10000, "USD")},
		},
	}
	posted, err := ledger.Post("tenant-a", entry, "teller-1")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	cashBal, err := ledger.Balance("tenant-a", cash.ID, "USD", testNow)
	if err != nil {
		t.Fatalf("Balance cash: %v", err)
	}
	if cashBal.Minor != 10000 {
		t.Fatalf("expected cash balance 10000, got %d", cashBal.Minor)
	}
	custBal, err := ledger.Balance("tenant-a", customer.ID, "USD", testNow)
	if err != nil {
		t.Fatalf("Balance customer: %v", err)
	}
	if custBal.Minor != 10000 {
		t.Fatalf("expected customer balance 10000, got %d", custBal.Minor)
	}

	rows, err := ledger.TrialBalance("tenant-a", "USD", testNow)
	if err != nil {
		t.Fatalf("TrialBalance: %v", err)
	}
	net := int64(0)
	for _, row := range rows {
		if row.Kind.DebitNormal() {
			net += row.Balance.Minor
		} else {
			net -= row.Balance.Minor
		}
	}
	if net != 0 {
		t.Fatalf("expected trial balance net zero, got %d", net)
	}

	replay := &JournalEntry{
		Reference:   "ref-deposit-1",
		Description: "deposit",
		Lines: []JournalEntryLine{
			{AccountID: cash.ID, Debit: NewMoney(10000, "USD")},
			{AccountID: customer.ID, Credit: NewMoney(10000, "USD")},
		},
	}
	replayed, err := ledger.Post("tenant-a", replay, "teller-1")
	if err != nil {
		t.Fatalf("replay Post: %v", err)
	}
	if replayed.ID != posted.ID {
		t.Fatalf("expected replay to return original entry id %s, got %s", posted.ID, replayed.ID)
	}

	cashBalAfter, err := ledger.Balance("tenant-a", cash.ID, "USD", testNow)
	if err != nil {
		t.Fatalf("Balance cash after replay: %v", err)
	}
	if cashBalAfter.Minor != 10000 {
		t.Fatalf("replay must not duplicate side effects, got cash balance %d", cashBalAfter.Minor)
	}
}

func TestLedgerRejectsUnbalancedEntry(t *testing.T) {
	ledger, accounts, _ := newLedgerFixture(t)
	cash, _ := accounts.CreateAccount("tenant-a", "bank", "cash", "USD", AccountAsset, AccountLimits{})
	customer, _ := accounts.CreateAccount("tenant-a", "cust-1", "checking", "USD", AccountLiability, AccountLimits{})

	entry := &JournalEntry{
		Reference: "ref-bad",
		Lines: []JournalEntryLine{
			{AccountID: cash.ID, Debit: NewMoney(10000, "USD")},
			{AccountID: customer.ID, Credit: NewMoney(9000, "USD")},
		},
	}
	if _, err := ledger.Post("tenant-a", entry, "teller-1"); err == nil {
		t.Fatal("expected unbalanced entry to be rejected")
	}
}

// Invariant 3: journal posting sequences are contiguous within a tenant.
func TestLedgerSequencesContiguous(t *testing.T) {
	ledger, accounts, _ := newLedgerFixture(t)
	cash, _ := accounts.CreateAccount("tenant-a", "bank", "cash", "USD", AccountAsset, AccountLimits{})
	customer, _ := accounts.CreateAccount("tenant-a", "cust-1", "checking", "USD", AccountLiability, AccountLimits{})

	var sequences []int64
	for i := 0; i < 5; i++ {
		entry := &JournalEntry{
			Reference: refFor(i),
			Lines: []JournalEntryLine{
				{AccountID: cash.ID, Debit: NewMoney(100, "USD")},
				{AccountID: customer.ID, Credit: NewMoney(100, "USD")},
			},
		}
		posted, err := ledger.Post("tenant-a", entry, "teller-1")
		if err != nil {
			t.Fatalf("Post %d: %v", i, err)
		}
		sequences = append(sequences, posted.PostingSequence)
	}
	for i, seq := range sequences {
		if seq != int64(i+1) {
			t.Fatalf("expected contiguous sequence %d at index %d, got %d", i+1, i, seq)
		}
	}
}

// Invariant 10: trial balance stays zero after a reverse.
func TestLedgerTrialBalanceZeroAfterReverse(t *testing.T) {
	ledger, accounts, _ := newLedgerFixture(t)
	cash, _ := accounts.CreateAccount("tenant-a", "bank", "cash", "USD", AccountAsset, AccountLimits{})
	customer, _ := accounts.CreateAccount("tenant-a", "cust-1", "checking", "USD", AccountLiability, AccountLimits{})

	entry := &JournalEntry{
		Reference: "ref-reverse-me",
		Lines: []JournalEntryLine{
			{AccountID: cash.ID, Debit: NewMoney(5000, "USD")},
			{AccountID: customer.ID, Credit: NewMoney(5000, "USD")},
		},
	}
	posted, err := ledger.Post("tenant-a", entry, "teller-1")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if _, err := ledger.Reverse("tenant-a", posted.ID, "customer disputed", "teller-1"); err != nil {
		t.Fatalf("Reverse: %v", err)
	}

	rows, err := ledger.TrialBalance("tenant-a", "USD", testNow)
	if err != nil {
		t.Fatalf("TrialBalance: %v", err)
	}
	net := int64(0)
	for _, row := range rows {
		if row.Kind.DebitNormal() {
			net += row.Balance.Minor
		} else {
			net -= row.Balance.Minor
		}
	}
	if net != 0 {
		t.Fatalf("expected trial balance net zero after reverse, got %d", net)
	}
}

func refFor(i int) string {
	const letters = "abcdefghij"
	return "ref-seq-" + string(letters[i])
}

package corebank

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TransactionProcessor composes domain-level operations into exactly one
// balanced journal entry each, per spec.md §4.5. Grounded on the teacher's
// high-level engine.go methods (CreateTransaction/PostTransaction),
// generalized into the deposit/withdraw/transfer/charge/loan_*/credit_*/
// interest_accrual/fee vocabulary and given idempotency, limits, and
// event publication the teacher's engine.go never had.
type TransactionProcessor struct {
	storage      *TenantStorage
	ledger       *Ledger
	accounts     *AccountBook
	events       *DomainEventBus
	ids          IDGenerator
	clock        Clock
	loanEngine   *LoanEngine
	creditEngine *CreditEngine

	sf singleflight.Group

	mu        sync.Mutex
	accountMu map[string]*sync.Mutex
}

// NewTransactionProcessor wires a processor. loanEngine/creditEngine may be
// nil if those product lines aren't enabled for a deployment; operations
// that need them return an internal error if called without one wired.
func NewTransactionProcessor(storage *TenantStorage, ledger *Ledger, accounts *AccountBook, events *DomainEventBus, ids IDGenerator, clock Clock, loanEngine *LoanEngine, creditEngine *CreditEngine) *TransactionProcessor {
	return &TransactionProcessor{
		storage:      storage,
		ledger:       ledger,
		accounts:     accounts,
		events:       events,
		ids:          ids,
		clock:        clock,
		loanEngine:   loanEngine,
		creditEngine: creditEngine,
		accountMu:    make(map[string]*sync.Mutex),
	}
}

func (p *TransactionProcessor) mutexFor(key string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.accountMu[key]
	if !ok {
		m = &sync.Mutex{}
		p.accountMu[key] = m
	}
	return m
}

// lockAccounts acquires the named accounts' mutexes in sorted order
// (deterministic across calls) so two-account operations like transfer
// never deadlock against each other. Returns an unlock function.
func (p *TransactionProcessor) lockAccounts(tenant TenantID, ids ...string) func() {
	keys := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		k := string(tenant) + "/" + id
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	sort.Strings(keys)
	locks := make([]*sync.Mutex, len(keys))
	for i, k := range keys {
		locks[i] = p.mutexFor(k)
	}
	for _, l := range locks {
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

func (p *TransactionProcessor) resolveReference(clientReference string) string {
	if clientReference != "" {
		return clientReference
	}
	return p.ids.NewID()
}

// execute publishes TRANSACTION_CREATED, runs build under a singleflight
// keyed on (tenant, reference) so concurrent replays of the same
// client_reference collapse into one attempt, then publishes
// TRANSACTION_POSTED or TRANSACTION_FAILED. Persisted idempotency (safe
// across process restarts) is Ledger.Post's job; singleflight only
// collapses concurrent in-process callers.
func (p *TransactionProcessor) execute(tenant TenantID, opKind, reference, actor string, build func() (*JournalEntry, error)) (*JournalEntry, error) {
	p.events.Publish(tenant, DomainEvent{
		Kind: "TRANSACTION_CREATED", EntityKind: "journal_entry", EntityID: reference,
		Timestamp: p.clock.Now(), Payload: map[string]string{"operation": opKind, "reference": reference},
	})

	key := string(tenant) + "/" + reference
	v, err, _ := p.sf.Do(key, func() (any, error) {
		return build()
	})
	if err != nil {
		p.events.Publish(tenant, DomainEvent{
			Kind: "TRANSACTION_FAILED", EntityKind: "journal_entry", EntityID: reference,
			Timestamp: p.clock.Now(), Payload: map[string]string{"operation": opKind, "reference": reference, "error": err.Error()},
		})
		return nil, err
	}
	entry := v.(*JournalEntry)
	p.events.Publish(tenant, DomainEvent{
		Kind: "TRANSACTION_POSTED", EntityKind: "journal_entry", EntityID: entry.ID,
		Timestamp: p.clock.Now(), Payload: map[string]string{"operation": opKind, "reference": reference},
	})
	return entry, nil
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func monthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// windowSum recomputes the total moved through accountID in [start, end] by
// summing posted lines — always correct, always rebuildable from the
// ledger, per the Design Notes' requirement for such caches; this
// implementation simply never caches rather than risk an invalidation bug.
func (p *TransactionProcessor) windowSum(tenant TenantID, accountID string, currency Currency, start, end time.Time) (MoneyValue, error) {
	lines, err := p.ledger.Transactions(tenant, accountID, start, end)
	if err != nil {
		return MoneyValue{}, err
	}
	total := MoneyValue{Currency: currency}
	for _, line := range lines {
		amt := line.Debit
		if !line.Credit.IsZero() {
			amt = line.Credit
		}
		if amt.Currency != currency {
			continue
		}
		total, _ = total.Add(amt)
	}
	return total, nil
}

func (p *TransactionProcessor) checkLimits(tenant TenantID, acct *Account, amount MoneyValue, op string) error {
	if acct.Limits.SingleTransactionLimit != nil {
		if cmp, err := amount.Compare(*acct.Limits.SingleTransactionLimit); err != nil {
			return err
		} else if cmp > 0 {
			return policyErr(op, "single-transaction-limit", "amount exceeds single-transaction limit")
		}
	}
	now := p.clock.Now()
	if acct.Limits.DailyLimit != nil {
		sum, err := p.windowSum(tenant, acct.ID, amount.Currency, dayStart(now), now)
		if err != nil {
			return err
		}
		total, err := sum.Add(amount)
		if err != nil {
			return err
		}
		if cmp, _ := total.Compare(*acct.Limits.DailyLimit); cmp > 0 {
			return policyErr(op, "daily-limit", "amount would exceed daily limit")
		}
	}
	if acct.Limits.MonthlyLimit != nil {
		sum, err := p.windowSum(tenant, acct.ID, amount.Currency, monthStart(now), now)
		if err != nil {
			return err
		}
		total, err := sum.Add(amount)
		if err != nil {
			return err
		}
		if cmp, _ := total.Compare(*acct.Limits.MonthlyLimit); cmp > 0 {
			return policyErr(op, "monthly-limit", "amount would exceed monthly limit")
		}
	}
	return nil
}

// Deposit debits cashAccountID and credits customerAccountID.
func (p *TransactionProcessor) Deposit(tenant TenantID, customerAccountID, cashAccountID string, amount MoneyValue, sourceDescription, clientReference, actor string) (*JournalEntry, error) {
	reference := p.resolveReference(clientReference)
	return p.execute(tenant, "deposit", reference, actor, func() (*JournalEntry, error) {
		unlock := p.lockAccounts(tenant, customerAccountID, cashAccountID)
		defer unlock()

		acct, err := p.accounts.GetAccount(tenant, customerAccountID)
		if err != nil {
			return nil, err
		}
		if err := acct.RequireOperable("TransactionProcessor.Deposit"); err != nil {
			return nil, err
		}
		if err := p.checkLimits(tenant, acct, amount, "TransactionProcessor.Deposit"); err != nil {
			return nil, err
		}

		entry := &JournalEntry{
			Reference:   reference,
			Description: sourceDescription,
			Lines: []JournalEntryLine{
				{AccountID: cashAccountID, Description: sourceDescription, Debit: amount},
				{AccountID: customerAccountID, Description: sourceDescription, Credit: amount},
			},
		}
		return p.ledger.Post(tenant, entry, actor)
	})
}

// Withdraw debits customerAccountID and credits cashAccountID, enforcing
// minimum-balance/overdraft policy.
func (p *TransactionProcessor) Withdraw(tenant TenantID, customerAccountID, cashAccountID string, amount MoneyValue, destinationDescription, clientReference, actor string) (*JournalEntry, error) {
	reference := p.resolveReference(clientReference)
	return p.execute(tenant, "withdraw", reference, actor, func() (*JournalEntry, error) {
		unlock := p.lockAccounts(tenant, customerAccountID, cashAccountID)
		defer unlock()

		acct, err := p.accounts.GetAccount(tenant, customerAccountID)
		if err != nil {
			return nil, err
		}
		if err := acct.RequireOperable("TransactionProcessor.Withdraw"); err != nil {
			return nil, err
		}
		if err := p.checkLimits(tenant, acct, amount, "TransactionProcessor.Withdraw"); err != nil {
			return nil, err
		}

		balance, err := p.ledger.Balance(tenant, customerAccountID, amount.Currency, time.Time{})
		if err != nil {
			return nil, err
		}
		projected, err := balance.Sub(amount)
		if err != nil {
			return nil, err
		}
		if acct.Limits.MinimumBalance != nil {
			if cmp, _ := projected.Compare(*acct.Limits.MinimumBalance); cmp < 0 {
				return nil, policyErr("TransactionProcessor.Withdraw", "minimum-balance", "withdrawal would breach minimum balance")
			}
		} else if acct.Limits.OverdraftLimit != nil {
			if cmp, _ := projected.Negate().Compare(*acct.Limits.OverdraftLimit); cmp > 0 {
				return nil, policyErr("TransactionProcessor.Withdraw", "overdraft-limit", "withdrawal would exceed overdraft limit")
			}
		} else if projected.Minor < 0 {
			return nil, policyErr("TransactionProcessor.Withdraw", "insufficient-funds", "withdrawal would overdraw account")
		}

		entry := &JournalEntry{
			Reference:   reference,
			Description: destinationDescription,
			Lines: []JournalEntryLine{
				{AccountID: customerAccountID, Description: destinationDescription, Debit: amount},
				{AccountID: cashAccountID, Description: destinationDescription, Credit: amount},
			},
		}
		return p.ledger.Post(tenant, entry, actor)
	})
}

// Transfer debits fromAccountID fromAmount and credits toAccountID
// toAmount. Same-currency transfers require fromAmount == toAmount and
// post as a simple two-line entry. Cross-currency transfers route both
// legs through fxClearingAccountID so each currency balances independently
// on the one entry, per spec.md §3's multi-currency invariant; net FX
// gain/loss recognition against that clearing position is a downstream
// treasury reconciliation, not a core responsibility (see DESIGN.md).
func (p *TransactionProcessor) Transfer(tenant TenantID, fromAccountID, toAccountID string, fromAmount, toAmount MoneyValue, fxClearingAccountID, description, clientReference, actor string) (*JournalEntry, error) {
	reference := p.resolveReference(clientReference)
	return p.execute(tenant, "transfer", reference, actor, func() (*JournalEntry, error) {
		unlock := p.lockAccounts(tenant, fromAccountID, toAccountID)
		defer unlock()

		fromAcct, err := p.accounts.GetAccount(tenant, fromAccountID)
		if err != nil {
			return nil, err
		}
		if err := fromAcct.RequireOperable("TransactionProcessor.Transfer"); err != nil {
			return nil, err
		}
		toAcct, err := p.accounts.GetAccount(tenant, toAccountID)
		if err != nil {
			return nil, err
		}
		if err := toAcct.RequireOperable("TransactionProcessor.Transfer"); err != nil {
			return nil, err
		}
		if err := p.checkLimits(tenant, fromAcct, fromAmount, "TransactionProcessor.Transfer"); err != nil {
			return nil, err
		}

		var lines []JournalEntryLine
		if fromAmount.Currency == toAmount.Currency {
			if !fromAmount.Equal(toAmount) {
				return nil, validationErr("TransactionProcessor.Transfer", "same-currency transfer requires equal amounts", nil)
			}
			lines = []JournalEntryLine{
				{AccountID: fromAccountID, Description: description, Debit: fromAmount},
				{AccountID: toAccountID, Description: description, Credit: toAmount},
			}
		} else {
			if fxClearingAccountID == "" {
				return nil, validationErr("TransactionProcessor.Transfer", "cross-currency transfer requires an FX clearing account", nil)
			}
			lines = []JournalEntryLine{
				{AccountID: fromAccountID, Description: description, Debit: fromAmount},
				{AccountID: fxClearingAccountID, Description: description, Credit: fromAmount},
				{AccountID: fxClearingAccountID, Description: description, Debit: toAmount},
				{AccountID: toAccountID, Description: description, Credit: toAmount},
			}
		}

		entry := &JournalEntry{Reference: reference, Description: description, Lines: lines}
		return p.ledger.Post(tenant, entry, actor)
	})
}

// Charge debits creditAccountID (the receivable) and credits
// clearingAccountID, then records CreditTransaction metadata via the
// wired CreditEngine.
func (p *TransactionProcessor) Charge(tenant TenantID, creditAccountID, clearingAccountID string, amount MoneyValue, category CreditCategory, description, merchant, clientReference, actor string) (*JournalEntry, error) {
	reference := p.resolveReference(clientReference)
	return p.execute(tenant, "charge", reference, actor, func() (*JournalEntry, error) {
		if p.creditEngine == nil {
			return nil, internalErr("TransactionProcessor.Charge", "no credit engine wired", nil)
		}
		unlock := p.lockAccounts(tenant, creditAccountID)
		defer unlock()

		acct, err := p.accounts.GetAccount(tenant, creditAccountID)
		if err != nil {
			return nil, err
		}
		if err := acct.RequireOperable("TransactionProcessor.Charge"); err != nil {
			return nil, err
		}

		balance, err := p.ledger.Balance(tenant, creditAccountID, amount.Currency, time.Time{})
		if err != nil {
			return nil, err
		}
		projected, err := balance.Add(amount)
		if err != nil {
			return nil, err
		}
		overlimit := false
		if acct.Limits.CreditLimit != nil {
			if cmp, _ := projected.Compare(*acct.Limits.CreditLimit); cmp > 0 {
				if !p.creditEngine.AllowOverlimit(tenant, creditAccountID) {
					return nil, policyErr("TransactionProcessor.Charge", "credit-limit", "charge would exceed credit limit")
				}
				overlimit = true
			}
		}

		entry := &JournalEntry{
			Reference:   reference,
			Description: description,
			Lines: []JournalEntryLine{
				{AccountID: creditAccountID, Description: description, Debit: amount},
				{AccountID: clearingAccountID, Description: description, Credit: amount},
			},
		}
		posted, err := p.ledger.Post(tenant, entry, actor)
		if err != nil {
			return nil, err
		}
		if posted.ID != entry.ID {
			return posted, nil // replay of an already-posted reference
		}
		if _, err := p.creditEngine.RecordTransaction(tenant, creditAccountID, posted.ID, amount, category, merchant, overlimit, p.clock.Now()); err != nil {
			return posted, committedUnauditedErr("TransactionProcessor.Charge", "charge posted but credit-transaction record failed", err)
		}
		return posted, nil
	})
}

// LoanDisburse debits loanReceivableAccountID and credits targetAccountID,
// then marks the loan disbursed.
func (p *TransactionProcessor) LoanDisburse(tenant TenantID, loanID, loanReceivableAccountID, targetAccountID string, amount MoneyValue, clientReference, actor string) (*JournalEntry, error) {
	reference := p.resolveReference(clientReference)
	return p.execute(tenant, "loan_disburse", reference, actor, func() (*JournalEntry, error) {
		if p.loanEngine == nil {
			return nil, internalErr("TransactionProcessor.LoanDisburse", "no loan engine wired", nil)
		}
		unlock := p.lockAccounts(tenant, targetAccountID)
		defer unlock()

		loan, err := p.loanEngine.GetLoan(tenant, loanID)
		if err != nil {
			return nil, err
		}
		if loan.State != LoanOriginated {
			return nil, policyErr("TransactionProcessor.LoanDisburse", "loan-not-disburseable", "loan "+loanID+" is in state "+string(loan.State))
		}
		targetAcct, err := p.accounts.GetAccount(tenant, targetAccountID)
		if err != nil {
			return nil, err
		}
		if err := targetAcct.RequireOperable("TransactionProcessor.LoanDisburse"); err != nil {
			return nil, err
		}

		entry := &JournalEntry{
			Reference:   reference,
			Description: "loan disbursement " + loanID,
			Lines: []JournalEntryLine{
				{AccountID: loanReceivableAccountID, Description: "loan disbursement", Debit: amount},
				{AccountID: targetAccountID, Description: "loan disbursement", Credit: amount},
			},
		}
		posted, err := p.ledger.Post(tenant, entry, actor)
		if err != nil {
			return nil, err
		}
		if err := p.loanEngine.MarkDisbursed(tenant, loanID, p.clock.Now()); err != nil {
			return posted, committedUnauditedErr("TransactionProcessor.LoanDisburse", "disbursement posted but loan state update failed", err)
		}
		return posted, nil
	})
}

// LoanPayment allocates amount via the LoanEngine (fees, interest,
// principal, overpayment order) and posts the resulting split entry.
func (p *TransactionProcessor) LoanPayment(tenant TenantID, loanID, sourceAccountID, loanReceivableAccountID, interestIncomeAccountID, feeIncomeAccountID string, amount MoneyValue, clientReference, actor string) (*JournalEntry, *PaymentAllocation, error) {
	reference := p.resolveReference(clientReference)
	var allocation *PaymentAllocation
	entry, err := p.execute(tenant, "loan_payment", reference, actor, func() (*JournalEntry, error) {
		if p.loanEngine == nil {
			return nil, internalErr("TransactionProcessor.LoanPayment", "no loan engine wired", nil)
		}
		unlock := p.lockAccounts(tenant, sourceAccountID)
		defer unlock()

		alloc, err := p.loanEngine.AllocatePayment(tenant, loanID, amount, p.clock.Now())
		if err != nil {
			return nil, err
		}
		allocation = alloc

		lines := []JournalEntryLine{{AccountID: sourceAccountID, Description: "loan payment", Debit: amount}}
		if !alloc.Fees.IsZero() {
			lines = append(lines, JournalEntryLine{AccountID: feeIncomeAccountID, Description: "late fee", Credit: alloc.Fees})
		}
		if !alloc.Interest.IsZero() {
			lines = append(lines, JournalEntryLine{AccountID: interestIncomeAccountID, Description: "interest", Credit: alloc.Interest})
		}
		principal := alloc.Principal
		if !alloc.Overpayment.IsZero() {
			if principal, err = principal.Add(alloc.Overpayment); err != nil {
				return nil, err
			}
		}
		if !principal.IsZero() {
			lines = append(lines, JournalEntryLine{AccountID: loanReceivableAccountID, Description: "principal", Credit: principal})
		}

		entry := &JournalEntry{Reference: reference, Description: "loan payment " + loanID, Lines: lines}
		posted, err := p.ledger.Post(tenant, entry, actor)
		if err != nil {
			return nil, err
		}
		if posted.ID != entry.ID {
			return posted, nil // replay of an already-posted reference
		}
		if err := p.loanEngine.ApplyPayment(tenant, loanID, alloc, p.clock.Now()); err != nil {
			return posted, committedUnauditedErr("TransactionProcessor.LoanPayment", "payment posted but loan state update failed", err)
		}
		return posted, nil
	})
	return entry, allocation, err
}

// CreditPayment allocates amount via the CreditEngine and posts the
// resulting split entry against creditAccountID.
func (p *TransactionProcessor) CreditPayment(tenant TenantID, creditAccountID, sourceAccountID, interestIncomeAccountID, feeIncomeAccountID string, amount MoneyValue, clientReference, actor string) (*JournalEntry, *PaymentAllocation, error) {
	reference := p.resolveReference(clientReference)
	var allocation *PaymentAllocation
	entry, err := p.execute(tenant, "credit_payment", reference, actor, func() (*JournalEntry, error) {
		if p.creditEngine == nil {
			return nil, internalErr("TransactionProcessor.CreditPayment", "no credit engine wired", nil)
		}
		unlock := p.lockAccounts(tenant, creditAccountID)
		defer unlock()

		alloc, err := p.creditEngine.AllocatePayment(tenant, creditAccountID, amount, p.clock.Now())
		if err != nil {
			return nil, err
		}
		allocation = alloc

		lines := []JournalEntryLine{{AccountID: sourceAccountID, Description: "credit payment", Debit: amount}}
		if !alloc.Fees.IsZero() {
			lines = append(lines, JournalEntryLine{AccountID: feeIncomeAccountID, Description: "fees", Credit: alloc.Fees})
		}
		if !alloc.Interest.IsZero() {
			lines = append(lines, JournalEntryLine{AccountID: interestIncomeAccountID, Description: "interest", Credit: alloc.Interest})
		}
		principal := alloc.Principal
		if !alloc.Overpayment.IsZero() {
			if principal, err = principal.Add(alloc.Overpayment); err != nil {
				return nil, err
			}
		}
		if !principal.IsZero() {
			lines = append(lines, JournalEntryLine{AccountID: creditAccountID, Description: "principal", Credit: principal})
		}

		entry := &JournalEntry{Reference: reference, Description: "credit payment " + creditAccountID, Lines: lines}
		posted, err := p.ledger.Post(tenant, entry, actor)
		if err != nil {
			return nil, err
		}
		if posted.ID != entry.ID {
			return posted, nil // replay of an already-posted reference
		}
		if err := p.creditEngine.ApplyPayment(tenant, creditAccountID, alloc, p.clock.Now()); err != nil {
			return posted, committedUnauditedErr("TransactionProcessor.CreditPayment", "payment posted but credit-line state update failed", err)
		}
		return posted, nil
	})
	return entry, allocation, err
}

// InterestAccrual debits interestReceivableOrExpenseAccountID and credits
// interestIncomeOrAccruedAccountID — the direction is a product-config
// choice left to the caller, not hardcoded here.
func (p *TransactionProcessor) InterestAccrual(tenant TenantID, interestReceivableOrExpenseAccountID, interestIncomeOrAccruedAccountID string, amount MoneyValue, clientReference, actor string) (*JournalEntry, error) {
	reference := p.resolveReference(clientReference)
	return p.execute(tenant, "interest_accrual", reference, actor, func() (*JournalEntry, error) {
		entry := &JournalEntry{
			Reference:   reference,
			Description: "interest accrual",
			Lines: []JournalEntryLine{
				{AccountID: interestReceivableOrExpenseAccountID, Description: "interest accrual", Debit: amount},
				{AccountID: interestIncomeOrAccruedAccountID, Description: "interest accrual", Credit: amount},
			},
		}
		return p.ledger.Post(tenant, entry, actor)
	})
}

// Fee debits accountID and credits feeIncomeAccountID.
func (p *TransactionProcessor) Fee(tenant TenantID, accountID, feeIncomeAccountID string, amount MoneyValue, reason, clientReference, actor string) (*JournalEntry, error) {
	reference := p.resolveReference(clientReference)
	return p.execute(tenant, "fee", reference, actor, func() (*JournalEntry, error) {
		unlock := p.lockAccounts(tenant, accountID)
		defer unlock()
		acct, err := p.accounts.GetAccount(tenant, accountID)
		if err != nil {
			return nil, err
		}
		if err := acct.RequireOperable("TransactionProcessor.Fee"); err != nil {
			return nil, err
		}
		entry := &JournalEntry{
			Reference:   reference,
			Description: reason,
			Lines: []JournalEntryLine{
				{AccountID: accountID, Description: reason, Debit: amount},
				{AccountID: feeIncomeAccountID, Description: reason, Credit: amount},
			},
		}
		return p.ledger.Post(tenant, entry, actor)
	})
}

// Reverse undoes a previously posted entry via the ledger.
func (p *TransactionProcessor) Reverse(tenant TenantID, entryID, reason, actor string) (*JournalEntry, error) {
	return p.ledger.Reverse(tenant, entryID, reason, actor)
}

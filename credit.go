package corebank

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CreditCategory tags one credit-account transaction line, per spec.md §3.
type CreditCategory string

const (
	CategoryPurchase        CreditCategory = "purchase"
	CategoryCashAdvance     CreditCategory = "cash-advance"
	CategoryBalanceTransfer CreditCategory = "balance-transfer"
	CategoryFee             CreditCategory = "fee"
	CategoryPayment         CreditCategory = "payment"
	CategoryInterest        CreditCategory = "interest"
	CategoryReversal        CreditCategory = "reversal"
)

// StatementStatus is a CreditStatement's lifecycle flag.
type StatementStatus string

const (
	StatementCurrent     StatementStatus = "current"
	StatementPaidMinimum StatementStatus = "paid-minimum"
	StatementPaidFull    StatementStatus = "paid-full"
	StatementOverdue     StatementStatus = "overdue"
)

// OverlimitPolicy selects what happens when a charge would push the
// balance above the credit limit — a deterministic product setting, per
// spec.md §4.7.
type OverlimitPolicy string

const (
	OverlimitReject        OverlimitPolicy = "reject"
	OverlimitAcceptWithFee OverlimitPolicy = "accept_with_fee"
)

// CreditLineState is the per-account revolving-credit policy and cycle
// tracking of spec.md §3.
type CreditLineState struct {
	GraceDays         int
	StatementCycleDay int
	MinPercentage     decimal.Decimal
	MinFloor          MoneyValue
	CashAdvanceFee    MoneyValue
	OverlimitFee      MoneyValue
	LateFee           MoneyValue
	OverlimitPolicy   OverlimitPolicy
	AnnualRate        decimal.Decimal

	NextStatementDate        time.Time
	GracePeriodActive        bool
	PreviousPaidInFullOnTime bool
	CashAdvanceThisCycle     bool
}

func (c *CreditLineState) toRecord() map[string]any {
	return map[string]any{
		"grace_days":                    int64(c.GraceDays),
		"statement_cycle_day":           int64(c.StatementCycleDay),
		"min_percentage":                c.MinPercentage.String(),
		"min_floor":                     moneyToRecord(&c.MinFloor),
		"cash_advance_fee":              moneyToRecord(&c.CashAdvanceFee),
		"overlimit_fee":                 moneyToRecord(&c.OverlimitFee),
		"late_fee":                      moneyToRecord(&c.LateFee),
		"overlimit_policy":              string(c.OverlimitPolicy),
		"annual_rate":                   c.AnnualRate.String(),
		"next_statement_date":           c.NextStatementDate,
		"grace_period_active":           c.GracePeriodActive,
		"previous_paid_in_full_on_time": c.PreviousPaidInFullOnTime,
		"cash_advance_this_cycle":       c.CashAdvanceThisCycle,
	}
}

func creditLineStateFromRecord(raw map[string]any) CreditLineState {
	minPct, _ := decimal.NewFromString(strOf(raw["min_percentage"]))
	rate, _ := decimal.NewFromString(strOf(raw["annual_rate"]))
	c := CreditLineState{
		GraceDays:                int(toInt64(raw["grace_days"])),
		StatementCycleDay:        int(toInt64(raw["statement_cycle_day"])),
		MinPercentage:            minPct,
		OverlimitPolicy:          OverlimitPolicy(strOf(raw["overlimit_policy"])),
		AnnualRate:               rate,
		GracePeriodActive:        boolOf(raw["grace_period_active"]),
		PreviousPaidInFullOnTime: boolOf(raw["previous_paid_in_full_on_time"]),
		CashAdvanceThisCycle:     boolOf(raw["cash_advance_this_cycle"]),
	}
	if t, ok := raw["next_statement_date"].(time.Time); ok {
		c.NextStatementDate = t
	}
	if m := moneyFromRecord(raw["min_floor"]); m != nil {
		c.MinFloor = *m
	}
	if m := moneyFromRecord(raw["cash_advance_fee"]); m != nil {
		c.CashAdvanceFee = *m
	}
	if m := moneyFromRecord(raw["overlimit_fee"]); m != nil {
		c.OverlimitFee = *m
	}
	if m := moneyFromRecord(raw["late_fee"]); m != nil {
		c.LateFee = *m
	}
	return c
}

func strOf(v any) string { s, _ := v.(string); return s }
func boolOf(v any) bool  { b, _ := v.(bool); return b }

// CreditAccount is a revolving-credit account's aggregate: the AccountBook
// entry for it carries CreditLimit in Account.Limits; this record carries
// the rest of spec.md §3's CreditLineState plus running balance fields.
type CreditAccount struct {
	AccountID  string
	CustomerID string // PII
	State      CreditLineState

	CurrentBalance MoneyValue
}

func (c *CreditAccount) ToRecord() Record {
	rec := Record{
		"id":              c.AccountID,
		"customer_id":     c.CustomerID,
		"current_balance": moneyToRecord(&c.CurrentBalance),
	}
	for k, v := range c.State.toRecord() {
		rec["state_"+k] = v
	}
	return rec
}

func creditAccountFromRecord(rec Record) *CreditAccount {
	raw := make(map[string]any)
	const prefix = "state_"
	for k, v := range rec {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			raw[k[len(prefix):]] = v
		}
	}
	c := &CreditAccount{
		AccountID:  recString(rec, "id"),
		CustomerID: recString(rec, "customer_id"),
		State:      creditLineStateFromRecord(raw),
	}
	if m := moneyFromRecord(rec["current_balance"]); m != nil {
		c.CurrentBalance = *m
	}
	return c
}

// CreditTransaction is one line on a credit account, per spec.md §3.
type CreditTransaction struct {
	ID              string
	AccountID       string
	JournalEntryID  string
	Amount          MoneyValue
	Category        CreditCategory
	Merchant        string
	PostedAt        time.Time
	GraceEligible   bool
	InterestFrom    time.Time
	AccruedInterest MoneyValue
	Overlimit       bool
}

func (t *CreditTransaction) ToRecord() Record {
	return Record{
		"id":               t.ID,
		"account_id":       t.AccountID,
		"journal_entry_id": t.JournalEntryID,
		"amount":           moneyToRecord(&t.Amount),
		"category":         string(t.Category),
		"merchant":         t.Merchant,
		"posted_at":        t.PostedAt,
		"grace_eligible":   t.GraceEligible,
		"interest_from":    t.InterestFrom,
		"accrued_interest": moneyToRecord(&t.AccruedInterest),
		"overlimit":        t.Overlimit,
	}
}

func creditTransactionFromRecord(rec Record) *CreditTransaction {
	t := &CreditTransaction{
		ID:             recString(rec, "id"),
		AccountID:      recString(rec, "account_id"),
		JournalEntryID: recString(rec, "journal_entry_id"),
		Category:       CreditCategory(recString(rec, "category")),
		Merchant:       recString(rec, "merchant"),
		PostedAt:       recTime(rec, "posted_at"),
		GraceEligible:  recBool(rec, "grace_eligible"),
		InterestFrom:   recTime(rec, "interest_from"),
		Overlimit:      recBool(rec, "overlimit"),
	}
	if m := moneyFromRecord(rec["amount"]); m != nil {
		t.Amount = *m
	}
	if m := moneyFromRecord(rec["accrued_interest"]); m != nil {
		t.AccruedInterest = *m
	}
	return t
}

// CreditStatement is one billing cycle's summary, per spec.md §3.
type CreditStatement struct {
	ID                string
	AccountID         string
	StatementDate     time.Time
	DueDate           time.Time
	PreviousBalance   MoneyValue
	NewCharges        MoneyValue
	PaymentsCredits   MoneyValue
	InterestCharged   MoneyValue
	FeesCharged       MoneyValue
	CurrentBalance    MoneyValue
	MinimumPaymentDue MoneyValue
	PaidAmount        MoneyValue
	PaidDate          time.Time
	Status            StatementStatus
}

func (s *CreditStatement) ToRecord() Record {
	return Record{
		"id":                  s.ID,
		"account_id":          s.AccountID,
		"statement_date":      s.StatementDate,
		"due_date":            s.DueDate,
		"previous_balance":    moneyToRecord(&s.PreviousBalance),
		"new_charges":         moneyToRecord(&s.NewCharges),
		"payments_credits":    moneyToRecord(&s.PaymentsCredits),
		"interest_charged":    moneyToRecord(&s.InterestCharged),
		"fees_charged":        moneyToRecord(&s.FeesCharged),
		"current_balance":     moneyToRecord(&s.CurrentBalance),
		"minimum_payment_due": moneyToRecord(&s.MinimumPaymentDue),
		"paid_amount":         moneyToRecord(&s.PaidAmount),
		"paid_date":           s.PaidDate,
		"status":              string(s.Status),
	}
}

func creditStatementFromRecord(rec Record) *CreditStatement {
	s := &CreditStatement{
		ID:            recString(rec, "id"),
		AccountID:     recString(rec, "account_id"),
		StatementDate: recTime(rec, "statement_date"),
		DueDate:       recTime(rec, "due_date"),
		PaidDate:      recTime(rec, "paid_date"),
		Status:        StatementStatus(recString(rec, "status")),
	}
	if m := moneyFromRecord(rec["previous_balance"]); m != nil {
		s.PreviousBalance = *m
	}
	if m := moneyFromRecord(rec["new_charges"]); m != nil {
		s.NewCharges = *m
	}
	if m := moneyFromRecord(rec["payments_credits"]); m != nil {
		s.PaymentsCredits = *m
	}
	if m := moneyFromRecord(rec["interest_charged"]); m != nil {
		s.InterestCharged = *m
	}
	if m := moneyFromRecord(rec["fees_charged"]); m != nil {
		s.FeesCharged = *m
	}
	if m := moneyFromRecord(rec["current_balance"]); m != nil {
		s.CurrentBalance = *m
	}
	if m := moneyFromRecord(rec["minimum_payment_due"]); m != nil {
		s.MinimumPaymentDue = *m
	}
	if m := moneyFromRecord(rec["paid_amount"]); m != nil {
		s.PaidAmount = *m
	}
	return s
}

// CreditEngine is spec.md §4.7: statement cycles, grace periods, minimum
// payment, payment allocation, cash advances, overlimit policy. Grounded
// on the same accrual_service.go per-cycle loop idiom as LoanEngine,
// generalized to a revolving (rather than amortizing) balance.
type CreditEngine struct {
	storage *TenantStorage
	ids     IDGenerator
	clock   Clock
}

// NewCreditEngine constructs a CreditEngine.
func NewCreditEngine(storage *TenantStorage, ids IDGenerator, clock Clock) *CreditEngine {
	return &CreditEngine{storage: storage, ids: ids, clock: clock}
}

// nextStatementDueDate estimates the due date of the statement that will
// close the cycle containing now, for accounts that haven't had a real
// statement yet. GenerateStatement overwrites this estimate with the
// actual due date once the first cycle closes.
func nextStatementDueDate(now time.Time, cycleDay, graceDays int) time.Time {
	if cycleDay < 1 {
		cycleDay = 1
	}
	candidate := time.Date(now.Year(), now.Month(), cycleDay, 0, 0, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 1, 0)
	}
	return candidate.AddDate(0, 0, graceDays)
}

// OpenCreditLine persists a new revolving credit account's state. The
// account itself (with its CreditLimit) is created separately via
// AccountBook.CreateAccount; accountID must reference it.
func (e *CreditEngine) OpenCreditLine(tenant TenantID, accountID, customerID string, currency Currency, state CreditLineState) (*CreditAccount, error) {
	if accountID == "" || customerID == "" {
		return nil, validationErr("CreditEngine.OpenCreditLine", "account_id and customer_id required", nil)
	}
	state.GracePeriodActive = true
	state.PreviousPaidInFullOnTime = true
	state.NextStatementDate = nextStatementDueDate(e.clock.Now(), state.StatementCycleDay, state.GraceDays)
	acct := &CreditAccount{
		AccountID:      accountID,
		CustomerID:     customerID,
		State:          state,
		CurrentBalance: MoneyValue{Currency: currency},
	}
	if err := e.storage.Save(tenant, TableCreditLines, accountID, acct.ToRecord()); err != nil {
		return nil, err
	}
	return acct, nil
}

// GetCreditAccount loads a credit line's revolving state.
func (e *CreditEngine) GetCreditAccount(tenant TenantID, accountID string) (*CreditAccount, error) {
	rec, err := e.storage.Load(tenant, TableCreditLines, accountID)
	if err != nil {
		return nil, err
	}
	return creditAccountFromRecord(rec), nil
}

func (e *CreditEngine) save(tenant TenantID, acct *CreditAccount) error {
	return e.storage.Save(tenant, TableCreditLines, acct.AccountID, acct.ToRecord())
}

// AllowOverlimit reports whether a charge that would exceed accountID's
// credit limit is accepted rather than rejected. An accepted charge is
// recorded with its Overlimit flag set; no overlimit fee is posted, and
// CreditLineState.OverlimitFee is stored but not charged.
func (e *CreditEngine) AllowOverlimit(tenant TenantID, accountID string) bool {
	acct, err := e.GetCreditAccount(tenant, accountID)
	if err != nil {
		return false
	}
	return acct.State.OverlimitPolicy == OverlimitAcceptWithFee
}

// RecordTransaction appends a CreditTransaction line and updates the
// account's running balance and current-cycle grace tracking. Called by
// TransactionProcessor.Charge immediately after the journal entry posts.
func (e *CreditEngine) RecordTransaction(tenant TenantID, accountID, journalEntryID string, amount MoneyValue, category CreditCategory, merchant string, overlimit bool, now time.Time) (*CreditTransaction, error) {
	acct, err := e.GetCreditAccount(tenant, accountID)
	if err != nil {
		return nil, err
	}

	graceEligible := category == CategoryPurchase && acct.State.GracePeriodActive
	interestFrom := now
	if graceEligible {
		interestFrom = acct.State.NextStatementDate
	}
	if category == CategoryCashAdvance || category == CategoryBalanceTransfer {
		graceEligible = false
		interestFrom = now
		acct.State.CashAdvanceThisCycle = true
	}

	tx := &CreditTransaction{
		ID:              e.ids.NewID(),
		AccountID:       accountID,
		JournalEntryID:  journalEntryID,
		Amount:          amount,
		Category:        category,
		Merchant:        merchant,
		PostedAt:        now,
		GraceEligible:   graceEligible,
		InterestFrom:    interestFrom,
		AccruedInterest: MoneyValue{Currency: amount.Currency},
		Overlimit:       overlimit,
	}
	if err := e.storage.Save(tenant, TableCreditTransactions, tx.ID, tx.ToRecord()); err != nil {
		return nil, err
	}

	acct.CurrentBalance, err = acct.CurrentBalance.Add(amount)
	if err != nil {
		return nil, err
	}
	if err := e.save(tenant, acct); err != nil {
		return nil, err
	}
	return tx, nil
}

// AccrueDailyInterest posts one day's interest for every interest-bearing
// transaction whose interest_from has arrived, returning the total to post
// via TransactionProcessor.InterestAccrual — spec.md §4.7's daily
// calculation, batched as a single amount per cycle per day.
func (e *CreditEngine) AccrueDailyInterest(tenant TenantID, accountID string, now time.Time) (MoneyValue, error) {
	acct, err := e.GetCreditAccount(tenant, accountID)
	if err != nil {
		return MoneyValue{}, err
	}
	cur := acct.CurrentBalance.Currency
	total := MoneyValue{Currency: cur}
	if acct.State.AnnualRate.IsZero() {
		return total, nil
	}
	dailyRate := acct.State.AnnualRate.Div(decimal.NewFromInt(365))

	recs, err := e.storage.Query(tenant, TableCreditTransactions, func(rec Record) bool {
		return recString(rec, "account_id") == accountID
	})
	if err != nil {
		return MoneyValue{}, err
	}
	for _, rec := range recs {
		tx := creditTransactionFromRecord(rec)
		if tx.Category == CategoryPayment || tx.Category == CategoryInterest || tx.Category == CategoryReversal {
			continue
		}
		if now.Before(tx.InterestFrom) {
			continue
		}
		daily := tx.Amount.MulRat(dailyRate)
		tx.AccruedInterest, err = tx.AccruedInterest.Add(daily)
		if err != nil {
			return MoneyValue{}, err
		}
		if err := e.storage.Save(tenant, TableCreditTransactions, tx.ID, tx.ToRecord()); err != nil {
			return MoneyValue{}, err
		}
		total, err = total.Add(daily)
		if err != nil {
			return MoneyValue{}, err
		}
	}
	return total, nil
}

// GenerateStatement closes the current cycle: sums categorized
// transactions since the last statement, computes the new balance,
// due date, and minimum payment, and determines whether the next cycle's
// grace period is active.
func (e *CreditEngine) GenerateStatement(tenant TenantID, accountID string, statementDate time.Time, previousStatement *CreditStatement) (*CreditStatement, error) {
	acct, err := e.GetCreditAccount(tenant, accountID)
	if err != nil {
		return nil, err
	}
	cur := acct.CurrentBalance.Currency
	previousBalance := MoneyValue{Currency: cur}
	if previousStatement != nil {
		previousBalance = previousStatement.CurrentBalance
	}

	since := time.Time{}
	if previousStatement != nil {
		since = previousStatement.StatementDate
	}
	recs, err := e.storage.Query(tenant, TableCreditTransactions, func(rec Record) bool {
		if recString(rec, "account_id") != accountID {
			return false
		}
		postedAt := recTime(rec, "posted_at")
		return (since.IsZero() || postedAt.After(since)) && !postedAt.After(statementDate)
	})
	if err != nil {
		return nil, err
	}

	dueDate := statementDate.AddDate(0, 0, acct.State.GraceDays)

	newCharges := MoneyValue{Currency: cur}
	paymentsCredits := MoneyValue{Currency: cur}
	interestCharged := MoneyValue{Currency: cur}
	feesCharged := MoneyValue{Currency: cur}
	for _, rec := range recs {
		tx := creditTransactionFromRecord(rec)
		switch tx.Category {
		case CategoryPayment, CategoryReversal:
			paymentsCredits, err = paymentsCredits.Add(tx.Amount)
		case CategoryInterest:
			interestCharged, err = interestCharged.Add(tx.Amount)
		case CategoryFee:
			feesCharged, err = feesCharged.Add(tx.Amount)
		default:
			newCharges, err = newCharges.Add(tx.Amount)
		}
		if err != nil {
			return nil, err
		}
		if tx.GraceEligible && !tx.InterestFrom.Equal(dueDate) {
			tx.InterestFrom = dueDate
			if err := e.storage.Save(tenant, TableCreditTransactions, tx.ID, tx.ToRecord()); err != nil {
				return nil, err
			}
		}
	}

	currentBalance, err := previousBalance.Add(newCharges)
	if err != nil {
		return nil, err
	}
	currentBalance, err = currentBalance.Add(interestCharged)
	if err != nil {
		return nil, err
	}
	currentBalance, err = currentBalance.Add(feesCharged)
	if err != nil {
		return nil, err
	}
	currentBalance, err = currentBalance.Sub(paymentsCredits)
	if err != nil {
		return nil, err
	}

	minPayment := currentBalance.MulRat(acct.State.MinPercentage)
	if c, _ := minPayment.Compare(acct.State.MinFloor); c < 0 {
		minPayment = acct.State.MinFloor
	}
	if c, _ := minPayment.Compare(currentBalance); c > 0 {
		minPayment = currentBalance
	}

	statement := &CreditStatement{
		ID:                e.ids.NewID(),
		AccountID:         accountID,
		StatementDate:     statementDate,
		DueDate:           dueDate,
		PreviousBalance:   previousBalance,
		NewCharges:        newCharges,
		PaymentsCredits:   paymentsCredits,
		InterestCharged:   interestCharged,
		FeesCharged:       feesCharged,
		CurrentBalance:    currentBalance,
		MinimumPaymentDue: minPayment,
		Status:            StatementCurrent,
	}
	if err := e.storage.Save(tenant, TableCreditStatements, statement.ID, statement.ToRecord()); err != nil {
		return nil, err
	}

	acct.State.GracePeriodActive = acct.State.PreviousPaidInFullOnTime && !acct.State.CashAdvanceThisCycle
	acct.State.CashAdvanceThisCycle = false
	acct.State.NextStatementDate = dueDate
	if err := e.save(tenant, acct); err != nil {
		return nil, err
	}

	return statement, nil
}

// AllocatePayment splits amount across outstanding late fees, other fees,
// interest, and then principal by rate (highest-rate category first) —
// spec.md §4.7's ordering. This implementation carries a single blended
// rate per account (acct.State.AnnualRate), the documented single-category
// simplification the spec permits when a product has only one rate.
func (e *CreditEngine) AllocatePayment(tenant TenantID, accountID string, amount MoneyValue, now time.Time) (*PaymentAllocation, error) {
	acct, err := e.GetCreditAccount(tenant, accountID)
	if err != nil {
		return nil, err
	}

	lateFeeOutstanding, otherFeeOutstanding, interestOutstanding, err := e.outstandingByCategory(tenant, accountID)
	if err != nil {
		return nil, err
	}

	remaining := amount
	lateFees, err := Min(remaining, lateFeeOutstanding)
	if err != nil {
		return nil, err
	}
	remaining, _ = remaining.Sub(lateFees)

	otherFees, err := Min(remaining, otherFeeOutstanding)
	if err != nil {
		return nil, err
	}
	remaining, _ = remaining.Sub(otherFees)

	totalFees, err := lateFees.Add(otherFees)
	if err != nil {
		return nil, err
	}

	interest, err := Min(remaining, interestOutstanding)
	if err != nil {
		return nil, err
	}
	remaining, _ = remaining.Sub(interest)

	principalOutstanding, err := acct.CurrentBalance.Sub(lateFeeOutstanding)
	if err != nil {
		return nil, err
	}
	principalOutstanding, err = principalOutstanding.Sub(otherFeeOutstanding)
	if err != nil {
		return nil, err
	}
	principalOutstanding, err = principalOutstanding.Sub(interestOutstanding)
	if err != nil {
		return nil, err
	}
	if principalOutstanding.Minor < 0 {
		principalOutstanding = MoneyValue{Currency: principalOutstanding.Currency}
	}

	principal, err := Min(remaining, principalOutstanding)
	if err != nil {
		return nil, err
	}
	overpayment, err := remaining.Sub(principal)
	if err != nil {
		return nil, err
	}

	return &PaymentAllocation{Fees: totalFees, Interest: interest, Principal: principal, Overpayment: overpayment}, nil
}

// outstandingByCategory sums transaction lines by category — a simplified
// FIFO-free view since CreditTransaction records don't carry a paid flag.
// Late fees assessed by AssessLateFee are FEE lines and are counted in
// otherFees; lateFees is returned as zero.
func (e *CreditEngine) outstandingByCategory(tenant TenantID, accountID string) (lateFees, otherFees, interest MoneyValue, err error) {
	acct, err := e.GetCreditAccount(tenant, accountID)
	if err != nil {
		return
	}
	cur := acct.CurrentBalance.Currency
	lateFees, otherFees, interest = MoneyValue{Currency: cur}, MoneyValue{Currency: cur}, MoneyValue{Currency: cur}

	recs, qerr := e.storage.Query(tenant, TableCreditTransactions, func(rec Record) bool {
		return recString(rec, "account_id") == accountID
	})
	if qerr != nil {
		err = qerr
		return
	}
	txs := make([]*CreditTransaction, 0, len(recs))
	for _, rec := range recs {
		txs = append(txs, creditTransactionFromRecord(rec))
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].PostedAt.Before(txs[j].PostedAt) })

	for _, tx := range txs {
		switch tx.Category {
		case CategoryFee:
			otherFees, err = otherFees.Add(tx.Amount)
		case CategoryInterest:
			interest, err = interest.Add(tx.Amount)
		}
		if err != nil {
			return
		}
	}
	return
}

// ApplyPayment commits an allocation already computed by AllocatePayment
// and rolls it into the account's balance and grace-period bookkeeping.
func (e *CreditEngine) ApplyPayment(tenant TenantID, accountID string, alloc *PaymentAllocation, now time.Time) error {
	acct, err := e.GetCreditAccount(tenant, accountID)
	if err != nil {
		return err
	}
	paid, err := alloc.Fees.Add(alloc.Interest)
	if err != nil {
		return err
	}
	paid, err = paid.Add(alloc.Principal)
	if err != nil {
		return err
	}
	paid, err = paid.Add(alloc.Overpayment)
	if err != nil {
		return err
	}
	acct.CurrentBalance, err = acct.CurrentBalance.Sub(paid)
	if err != nil {
		return err
	}
	if acct.CurrentBalance.IsZero() {
		acct.State.PreviousPaidInFullOnTime = now.Before(acct.State.NextStatementDate) || now.Equal(acct.State.NextStatementDate)
	}
	return e.save(tenant, acct)
}

// AssessLateFee marks an overdue statement and adds the policy's late fee
// as a FEE transaction, once per cycle.
func (e *CreditEngine) AssessLateFee(tenant TenantID, statement *CreditStatement, now time.Time) (*CreditStatement, error) {
	if statement.Status == StatementOverdue {
		return statement, nil
	}
	if !now.After(statement.DueDate) {
		return statement, nil
	}
	acct, err := e.GetCreditAccount(tenant, statement.AccountID)
	if err != nil {
		return nil, err
	}
	tx := &CreditTransaction{
		ID:           e.ids.NewID(),
		AccountID:    statement.AccountID,
		Amount:       acct.State.LateFee,
		Category:     CategoryFee,
		PostedAt:     now,
		InterestFrom: now,
	}
	if err := e.storage.Save(tenant, TableCreditTransactions, tx.ID, tx.ToRecord()); err != nil {
		return nil, err
	}
	acct.CurrentBalance, err = acct.CurrentBalance.Add(acct.State.LateFee)
	if err != nil {
		return nil, err
	}
	acct.State.PreviousPaidInFullOnTime = false
	if err := e.save(tenant, acct); err != nil {
		return nil, err
	}
	statement.Status = StatementOverdue
	statement.FeesCharged, err = statement.FeesCharged.Add(acct.State.LateFee)
	if err != nil {
		return nil, err
	}
	if err := e.storage.Save(tenant, TableCreditStatements, statement.ID, statement.ToRecord()); err != nil {
		return nil, err
	}
	return statement, nil
}

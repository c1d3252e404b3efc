package corebank

import (
	"time"

	"github.com/shopspring/decimal"
)

// QueryAPI is the read-side surface over the ledger, audit chain, and the
// loan/credit engines — grounded on the teacher's QueryAPI, but built on
// the tenant-scoped collaborators instead of the teacher's single-tenant
// storage + PostingEngine.
type QueryAPI struct {
	ledger *Ledger
	audit  *AuditChain
	loans  *LoanEngine
	credit *CreditEngine
}

// NewQueryAPI wires a QueryAPI over an Engine's collaborators.
func NewQueryAPI(e *Engine) *QueryAPI {
	return &QueryAPI{ledger: e.ledger, audit: e.audit, loans: e.loans, credit: e.credit}
}

// AccountBalance returns an account's balance as of asOf.
func (q *QueryAPI) AccountBalance(tenant TenantID, accountID string, currency Currency, asOf time.Time) (MoneyValue, error) {
	return q.ledger.Balance(tenant, accountID, currency, asOf)
}

// TransactionHistory returns the posted ledger lines touching accountID
// between start and end.
func (q *QueryAPI) TransactionHistory(tenant TenantID, accountID string, start, end time.Time) ([]JournalEntryLine, error) {
	return q.ledger.Transactions(tenant, accountID, start, end)
}

// TrialBalance returns every account's balance in currency as of asOf; the
// sum across debit-normal and credit-normal accounts must net to zero per
// the double-entry invariant.
func (q *QueryAPI) TrialBalance(tenant TenantID, currency Currency, asOf time.Time) ([]AccountBalance, error) {
	return q.ledger.TrialBalance(tenant, currency, asOf)
}

// TrialBalanceNet sums a trial balance into a single signed figure —
// debit-normal balances positive, credit-normal balances negated — which
// should equal zero for a consistent ledger.
func (q *QueryAPI) TrialBalanceNet(tenant TenantID, currency Currency, asOf time.Time) (MoneyValue, error) {
	rows, err := q.ledger.TrialBalance(tenant, currency, asOf)
	if err != nil {
		return MoneyValue{}, err
	}
	net := NewMoney(0, currency)
	for _, row := range rows {
		var err error
		if row.Kind.DebitNormal() {
			net, err = net.Add(row.Balance)
		} else {
			net, err = net.Sub(row.Balance)
		}
		if err != nil {
			return MoneyValue{}, err
		}
	}
	return net, nil
}

// JournalEntry returns a posted or reversed entry by ID.
func (q *QueryAPI) JournalEntry(tenant TenantID, id string) (*JournalEntry, error) {
	return q.ledger.GetEntry(tenant, id)
}

// AuditRecord returns a single audit record by sequence number.
func (q *QueryAPI) AuditRecord(tenant TenantID, seq int64) (*AuditRecord, error) {
	return q.audit.Get(tenant, seq)
}

// AuditRange returns the audit records in [from, to].
func (q *QueryAPI) AuditRange(tenant TenantID, from, to int64) ([]*AuditRecord, error) {
	return q.audit.Range(tenant, from, to)
}

// AuditVerify re-hashes the audit chain in [from, to] and reports whether
// it is intact; on tamper it also returns the first broken sequence.
func (q *QueryAPI) AuditVerify(tenant TenantID, from, to int64) (bool, *int64, error) {
	return q.audit.Verify(tenant, from, to)
}

// LoanSchedule regenerates a loan's amortization schedule on demand — the
// schedule is never persisted, per the loan engine's design.
func (q *QueryAPI) LoanSchedule(tenant TenantID, loanID string) ([]ScheduleEntry, error) {
	loan, err := q.loans.GetLoan(tenant, loanID)
	if err != nil {
		return nil, err
	}
	return q.loans.GenerateSchedule(loan)
}

// LoanPayoffQuote returns the advisory amount due to close out a loan as
// of now, including any prepayment penalty.
func (q *QueryAPI) LoanPayoffQuote(tenant TenantID, loanID string, now time.Time) (MoneyValue, error) {
	return q.loans.QuotePayoff(tenant, loanID, now)
}

// LoanDelinquency recomputes and returns a loan's current delinquency
// bucket as of now, persisting the recomputed state.
func (q *QueryAPI) LoanDelinquency(tenant TenantID, loanID string, now time.Time) (DelinquencyBucket, error) {
	return q.loans.RecomputeDelinquency(tenant, loanID, now)
}

// CreditAccountSummary returns a credit account's current state.
func (q *QueryAPI) CreditAccountSummary(tenant TenantID, accountID string) (*CreditAccount, error) {
	return q.credit.GetCreditAccount(tenant, accountID)
}

// CreditStatementPreview generates the statement that closes accountID's
// current cycle as of statementDate. It calls GenerateStatement directly,
// so the statement is persisted and the account's cycle state is updated.
func (q *QueryAPI) CreditStatementPreview(tenant TenantID, accountID string, statementDate time.Time, previous *CreditStatement) (*CreditStatement, error) {
	return q.credit.GenerateStatement(tenant, accountID, statementDate, previous)
}

// EffectiveAPR converts a credit account's nominal annual rate into an
// effective annual rate compounded daily, for disclosure purposes.
func (q *QueryAPI) EffectiveAPR(annualRate decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	daily := annualRate.Div(decimal.NewFromInt(365))
	return one.Add(daily).Pow(decimal.NewFromInt(365)).Sub(one)
}

package corebank

import "time"

// AccountKind mirrors the teacher's AccountType enum (accounting.go),
// renamed to the spec's vocabulary: asset/liability/equity/revenue/expense.
type AccountKind string

const (
	AccountAsset     AccountKind = "asset"
	AccountLiability AccountKind = "liability"
	AccountEquity    AccountKind = "equity"
	AccountRevenue   AccountKind = "revenue"
	AccountExpense   AccountKind = "expense"
)

// DebitNormal reports whether this kind's balance increases with debits
// (asset, expense) rather than credits (liability, equity, revenue).
func (k AccountKind) DebitNormal() bool {
	return k == AccountAsset || k == AccountExpense
}

// AccountStatus gates whether an account may be posted to.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
	AccountStatusClosed AccountStatus = "closed"
)

// AccountLimits is the optional per-account policy configuration the
// processor enforces. Nil fields mean "no limit"; this is new relative to
// the teacher, which has no limit enforcement at all.
type AccountLimits struct {
	DailyLimit             *MoneyValue
	MonthlyLimit           *MoneyValue
	SingleTransactionLimit *MoneyValue
	MinimumBalance         *MoneyValue
	CreditLimit            *MoneyValue
	OverdraftLimit         *MoneyValue
}

// Account is the ledger's unit of balance attribution. Balances are never
// stored on it — they're always derived by the Ledger from posted lines.
type Account struct {
	ID         string
	CustomerID string // PII — encrypted at rest by TenantStorage
	ProductRef string
	Currency   Currency
	Kind       AccountKind
	Status     AccountStatus
	CreatedAt  time.Time
	Limits     AccountLimits
}

func (a *Account) ToRecord() Record {
	return Record{
		"id":          a.ID,
		"customer_id": a.CustomerID,
		"product_ref": a.ProductRef,
		"currency":    string(a.Currency),
		"kind":        string(a.Kind),
		"status":      string(a.Status),
		"created_at":  a.CreatedAt,
		"limits": map[string]any{
			"daily_limit":              moneyToRecord(a.Limits.DailyLimit),
			"monthly_limit":            moneyToRecord(a.Limits.MonthlyLimit),
			"single_transaction_limit": moneyToRecord(a.Limits.SingleTransactionLimit),
			"minimum_balance":          moneyToRecord(a.Limits.MinimumBalance),
			"credit_limit":             moneyToRecord(a.Limits.CreditLimit),
			"overdraft_limit":          moneyToRecord(a.Limits.OverdraftLimit),
		},
	}
}

func accountFromRecord(rec Record) *Account {
	a := &Account{
		ID:         recString(rec, "id"),
		CustomerID: recString(rec, "customer_id"),
		ProductRef: recString(rec, "product_ref"),
		Currency:   Currency(recString(rec, "currency")),
		Kind:       AccountKind(recString(rec, "kind")),
		Status:     AccountStatus(recString(rec, "status")),
		CreatedAt:  recTime(rec, "created_at"),
	}
	if limits, ok := rec["limits"].(map[string]any); ok {
		a.Limits = AccountLimits{
			DailyLimit:             moneyFromRecord(limits["daily_limit"]),
			MonthlyLimit:           moneyFromRecord(limits["monthly_limit"]),
			SingleTransactionLimit: moneyFromRecord(limits["single_transaction_limit"]),
			MinimumBalance:         moneyFromRecord(limits["minimum_balance"]),
			CreditLimit:            moneyFromRecord(limits["credit_limit"]),
			OverdraftLimit:         moneyFromRecord(limits["overdraft_limit"]),
		}
	}
	return a
}

// AccountBook is the account half of spec.md §4.2/§4.5: creation, lookup,
// status transitions. Balance derivation lives on Ledger, which treats
// accounts as read-mostly reference data (Design Notes' "ChartOfAccount
// read-mostly, cached; invalidated on explicit update").
type AccountBook struct {
	storage *TenantStorage
	ids     IDGenerator
	clock   Clock
}

// NewAccountBook constructs an AccountBook.
func NewAccountBook(storage *TenantStorage, ids IDGenerator, clock Clock) *AccountBook {
	return &AccountBook{storage: storage, ids: ids, clock: clock}
}

// CreateAccount persists a new account in the active state.
func (b *AccountBook) CreateAccount(tenant TenantID, customerID, productRef string, currency Currency, kind AccountKind, limits AccountLimits) (*Account, error) {
	if customerID == "" {
		return nil, validationErr("AccountBook.CreateAccount", "customer_id required", nil)
	}
	switch kind {
	case AccountAsset, AccountLiability, AccountEquity, AccountRevenue, AccountExpense:
	default:
		return nil, validationErr("AccountBook.CreateAccount", "unknown account kind: "+string(kind), nil)
	}
	acct := &Account{
		ID:         b.ids.NewID(),
		CustomerID: customerID,
		ProductRef: productRef,
		Currency:   currency,
		Kind:       kind,
		Status:     AccountStatusActive,
		CreatedAt:  b.clock.Now(),
		Limits:     limits,
	}
	if err := b.storage.Save(tenant, TableAccounts, acct.ID, acct.ToRecord()); err != nil {
		return nil, err
	}
	return acct, nil
}

// GetAccount loads an account by id.
func (b *AccountBook) GetAccount(tenant TenantID, id string) (*Account, error) {
	rec, err := b.storage.Load(tenant, TableAccounts, id)
	if err != nil {
		return nil, err
	}
	return accountFromRecord(rec), nil
}

// SetStatus transitions an account's lifecycle flag. Balance effects never
// flow through here — only through posted journal entries.
func (b *AccountBook) SetStatus(tenant TenantID, id string, status AccountStatus) error {
	acct, err := b.GetAccount(tenant, id)
	if err != nil {
		return err
	}
	acct.Status = status
	return b.storage.Save(tenant, TableAccounts, acct.ID, acct.ToRecord())
}

// RequireOperable returns a policy-violation error if the account cannot be
// posted to (frozen or closed), per spec.md §4.5 step 1.
func (a *Account) RequireOperable(op string) error {
	if a.Status != AccountStatusActive {
		return policyErr(op, "account-not-operable", "account "+a.ID+" is "+string(a.Status))
	}
	return nil
}

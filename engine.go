package corebank

// Engine is the main entry point for the core: it wires storage, the
// ledger, the audit chain, the event bus, and the loan/credit engines into
// one handle, the way the teacher's AccountingEngine wires Storage/
// EventStore/PostingEngine/QueryAPI together in engine.go.
type Engine struct {
	cfg *Config

	storage  *TenantStorage
	keys     *KeyManager
	audit    *AuditChain
	events   *DomainEventBus
	accounts *AccountBook
	ledger   *Ledger
	loans    *LoanEngine
	credit   *CreditEngine

	processor *TransactionProcessor

	ids   IDGenerator
	clock Clock
}

// NewEngine wires every collaborator from cfg, opening (or creating) the
// bbolt database at cfg.DBPath.
func NewEngine(cfg *Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	keys := NewKeyManager(cfg.KeyMaterial)
	storage, err := NewTenantStorage(cfg.DBPath, keys)
	if err != nil {
		return nil, err
	}

	var clock Clock = SystemClock()
	var ids IDGenerator = UUIDGenerator()

	events := NewDomainEventBus(NewLogger())
	audit := NewAuditChain(storage, clock)
	accounts := NewAccountBook(storage, ids, clock)
	ledger := NewLedger(storage, accounts, audit, events, ids, clock)
	loans := NewLoanEngine(storage, ids, clock)
	credit := NewCreditEngine(storage, ids, clock)
	processor := NewTransactionProcessor(storage, ledger, accounts, events, ids, clock, loans, credit)

	return &Engine{
		cfg:       cfg,
		storage:   storage,
		keys:      keys,
		audit:     audit,
		events:    events,
		accounts:  accounts,
		ledger:    ledger,
		loans:     loans,
		credit:    credit,
		processor: processor,
		ids:       ids,
		clock:     clock,
	}, nil
}

// NewEngineForTest wires an Engine over an already-constructed storage with
// an injected clock/id generator, for deterministic tests — bypassing
// NewEngine's cfg-driven construction while keeping the same wiring order.
func NewEngineForTest(storage *TenantStorage, clock Clock, ids IDGenerator) *Engine {
	events := NewDomainEventBus(NewLogger())
	audit := NewAuditChain(storage, clock)
	accounts := NewAccountBook(storage, ids, clock)
	ledger := NewLedger(storage, accounts, audit, events, ids, clock)
	loans := NewLoanEngine(storage, ids, clock)
	credit := NewCreditEngine(storage, ids, clock)
	processor := NewTransactionProcessor(storage, ledger, accounts, events, ids, clock, loans, credit)
	return &Engine{
		storage: storage, audit: audit, events: events, accounts: accounts,
		ledger: ledger, loans: loans, credit: credit, processor: processor,
		ids: ids, clock: clock,
	}
}

// Close releases the engine's storage handle.
func (e *Engine) Close() error { return e.storage.Close() }

// Accounts returns the account book.
func (e *Engine) Accounts() *AccountBook { return e.accounts }

// Ledger returns the double-entry ledger.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// Audit returns the hash-chained audit log.
func (e *Engine) Audit() *AuditChain { return e.audit }

// Events returns the domain event bus, for subscriber registration.
func (e *Engine) Events() *DomainEventBus { return e.events }

// Loans returns the loan engine.
func (e *Engine) Loans() *LoanEngine { return e.loans }

// Credit returns the credit engine.
func (e *Engine) Credit() *CreditEngine { return e.credit }

// Processor returns the transaction processor — the main surface callers
// use to move money.
func (e *Engine) Processor() *TransactionProcessor { return e.processor }

// Storage returns the tenant-scoped storage, for administrative operations
// (key rotation, raw queries) that don't belong on any one engine.
func (e *Engine) Storage() *TenantStorage { return e.storage }

// CreateAccount is a convenience delegate to Accounts().CreateAccount,
// mirroring the teacher's flattened AccountingEngine.CreateAccount surface.
func (e *Engine) CreateAccount(tenant TenantID, customerID, productRef string, currency Currency, kind AccountKind, limits AccountLimits) (*Account, error) {
	return e.accounts.CreateAccount(tenant, customerID, productRef, currency, kind, limits)
}

// Balance is a convenience delegate to Ledger().Balance.
func (e *Engine) Balance(tenant TenantID, accountID string, currency Currency) (MoneyValue, error) {
	return e.ledger.Balance(tenant, accountID, currency, e.clock.Now())
}

// TrialBalance is a convenience delegate to Ledger().TrialBalance.
func (e *Engine) TrialBalance(tenant TenantID, currency Currency) ([]AccountBalance, error) {
	return e.ledger.TrialBalance(tenant, currency, e.clock.Now())
}

package corebank

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// EntryState is a JournalEntry's lifecycle flag.
type EntryState string

const (
	EntryPending  EntryState = "pending"
	EntryPosted   EntryState = "posted"
	EntryReversed EntryState = "reversed"
)

// JournalEntryLine is one side of a balanced posting: renamed from the
// teacher's Entry (accounting.go) to the spec's vocabulary. Exactly one of
// Debit, Credit is nonzero.
type JournalEntryLine struct {
	AccountID   string
	Description string
	Debit       MoneyValue
	Credit      MoneyValue
	Sequence    int64 // inherited from the parent entry at post time
}

// JournalEntry is the atomic, balanced unit of posting — the teacher's
// Transaction (accounting.go), renamed and generalized: idempotent on
// Reference, hash-chain-audited on post, immutable once posted.
type JournalEntry struct {
	ID              string
	Reference       string
	Description     string
	State           EntryState
	Lines           []JournalEntryLine
	Reverses        string
	PostedAt        time.Time
	PostingSequence int64
}

func (e *JournalEntry) ToRecord() Record {
	return Record{
		"id":               e.ID,
		"reference":        e.Reference,
		"description":      e.Description,
		"state":            string(e.State),
		"reverses":         e.Reverses,
		"posted_at":        e.PostedAt,
		"posting_sequence": e.PostingSequence,
	}
}

func entryFromRecord(rec Record) *JournalEntry {
	return &JournalEntry{
		ID:              recString(rec, "id"),
		Reference:       recString(rec, "reference"),
		Description:     recString(rec, "description"),
		State:           EntryState(recString(rec, "state")),
		Reverses:        recString(rec, "reverses"),
		PostedAt:        recTime(rec, "posted_at"),
		PostingSequence: recInt64(rec, "posting_sequence"),
	}
}

func lineToRecord(entry *JournalEntry, lineNo int, line JournalEntryLine) Record {
	cur := line.Debit.Currency
	if cur == "" {
		cur = line.Credit.Currency
	}
	return Record{
		"entry_id":    entry.ID,
		"line_no":     int64(lineNo),
		"account_id":  line.AccountID,
		"description": line.Description,
		"currency":    string(cur),
		"debit":       line.Debit.Minor,
		"credit":      line.Credit.Minor,
		"sequence":    line.Sequence,
		"posted_at":   entry.PostedAt,
		"state":       string(entry.State),
	}
}

func lineFromRecord(rec Record) JournalEntryLine {
	cur := Currency(recString(rec, "currency"))
	return JournalEntryLine{
		AccountID:   recString(rec, "account_id"),
		Description: recString(rec, "description"),
		Debit:       MoneyValue{Minor: recInt64(rec, "debit"), Currency: cur},
		Credit:      MoneyValue{Minor: recInt64(rec, "credit"), Currency: cur},
		Sequence:    recInt64(rec, "sequence"),
	}
}

func referenceIndexKey(reference string) string { return "journal_ref:" + reference }

// validateBalance checks spec.md §3's JournalEntry invariants: at least two
// lines, each with exactly one nonzero side, and debits=credits per
// currency.
func validateBalance(op string, lines []JournalEntryLine) error {
	if len(lines) < 2 {
		return validationErr(op, "entry must have at least 2 lines", nil)
	}
	type totals struct{ debit, credit int64 }
	sums := map[Currency]*totals{}
	for i, line := range lines {
		debitCur, creditCur := line.Debit.Currency, line.Credit.Currency
		if !line.Debit.IsZero() && !line.Credit.IsZero() {
			return validationErr(op, fmt.Sprintf("line %d: both debit and credit nonzero", i), nil)
		}
		cur := debitCur
		if line.Debit.IsZero() {
			cur = creditCur
		}
		if cur == "" {
			return validationErr(op, fmt.Sprintf("line %d: no currency", i), nil)
		}
		t, ok := sums[cur]
		if !ok {
			t = &totals{}
			sums[cur] = t
		}
		t.debit += line.Debit.Minor
		t.credit += line.Credit.Minor
	}
	for cur, t := range sums {
		if t.debit != t.credit {
			return validationErr(op, fmt.Sprintf("currency %s: debits %d != credits %d", cur, t.debit, t.credit), nil)
		}
	}
	return nil
}

// AccountBalance is one row of a trial balance.
type AccountBalance struct {
	AccountID string
	Kind      AccountKind
	Balance   MoneyValue
}

// Ledger is the double-entry core of spec.md §4.4, grounded on the
// teacher's accounting.go (Transaction/Entry) and posting_engine.go
// (balance validation, sign convention). Posting is a per-tenant critical
// section; the global trial-balance invariant holds because every post
// either commits one fully-balanced entry or has no effect.
type Ledger struct {
	storage  *TenantStorage
	accounts *AccountBook
	audit    *AuditChain
	events   *DomainEventBus
	ids      IDGenerator
	clock    Clock

	mu     sync.Mutex
	postMu map[TenantID]*sync.Mutex
}

// NewLedger constructs a Ledger over the given collaborators. events may be
// nil if no domain-event subscribers are wired yet.
func NewLedger(storage *TenantStorage, accounts *AccountBook, audit *AuditChain, events *DomainEventBus, ids IDGenerator, clock Clock) *Ledger {
	return &Ledger{
		storage:  storage,
		accounts: accounts,
		audit:    audit,
		events:   events,
		ids:      ids,
		clock:    clock,
		postMu:   make(map[TenantID]*sync.Mutex),
	}
}

func (l *Ledger) lockFor(tenant TenantID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.postMu[tenant]
	if !ok {
		m = &sync.Mutex{}
		l.postMu[tenant] = m
	}
	return m
}

func (l *Ledger) lookupReference(tenant TenantID, reference string) (string, bool, error) {
	rec, err := l.storage.Load(tenant, TableIdempotency, referenceIndexKey(reference))
	if err != nil {
		if cerr, ok := err.(*Error); ok && cerr.Kind == KindNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return recString(rec, "entry_id"), true, nil
}

func (l *Ledger) nextSequenceTx(tx *StorageTx, tenant TenantID) (int64, error) {
	rec, err := tx.Load(tenant, TableSequences, "posting_sequence")
	var current int64
	if err != nil {
		cerr, ok := err.(*Error)
		if !ok || cerr.Kind != KindNotFound {
			return 0, err
		}
		current = 0
	} else {
		current = recInt64(rec, "value")
	}
	next := current + 1
	if err := tx.Save(tenant, TableSequences, "posting_sequence", Record{"value": next}); err != nil {
		return 0, err
	}
	return next, nil
}

// Post validates, sequences, and durably posts entry, appending an audit
// record. Idempotent on entry.Reference: a second Post with a reference
// already posted returns the original entry and performs no writes.
func (l *Ledger) Post(tenant TenantID, entry *JournalEntry, actor string) (*JournalEntry, error) {
	if tenant == "" {
		return nil, tenantIsolationErr("Ledger.Post", "no tenant in context")
	}
	if entry.Reference == "" {
		return nil, validationErr("Ledger.Post", "reference required", nil)
	}
	if err := validateBalance("Ledger.Post", entry.Lines); err != nil {
		return nil, err
	}

	lock := l.lockFor(tenant)
	lock.Lock()
	defer lock.Unlock()

	if existingID, ok, err := l.lookupReference(tenant, entry.Reference); err != nil {
		return nil, err
	} else if ok {
		return l.GetEntry(tenant, existingID)
	}

	tx, err := l.storage.Begin(tenant)
	if err != nil {
		return nil, err
	}

	seq, err := l.nextSequenceTx(tx, tenant)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	entry.ID = l.ids.NewID()
	entry.State = EntryPosted
	entry.PostedAt = l.clock.Now()
	entry.PostingSequence = seq
	for i := range entry.Lines {
		entry.Lines[i].Sequence = seq
	}

	if err := tx.Save(tenant, TableJournalEntries, entry.ID, entry.ToRecord()); err != nil {
		tx.Rollback()
		return nil, err
	}
	for i, line := range entry.Lines {
		key := fmt.Sprintf("%s_%04d", entry.ID, i)
		if err := tx.Save(tenant, TableJournalLines, key, lineToRecord(entry, i, line)); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Save(tenant, TableIdempotency, referenceIndexKey(entry.Reference), Record{"entry_id": entry.ID}); err != nil {
		tx.Rollback()
		return nil, err
	}

	details := map[string]string{"reference": entry.Reference}
	if _, err := l.audit.AppendWithTx(tx, tenant, "journal-posted", "journal_entry", entry.ID, actor, details); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if l.events != nil {
		l.events.Publish(tenant, DomainEvent{
			Kind:       "JOURNAL_POSTED",
			EntityKind: "journal_entry",
			EntityID:   entry.ID,
			Timestamp:  entry.PostedAt,
			Payload:    map[string]string{"reference": entry.Reference},
		})
	}

	return entry, nil
}

// GetEntry loads an entry and its lines, ordered by line number.
func (l *Ledger) GetEntry(tenant TenantID, id string) (*JournalEntry, error) {
	rec, err := l.storage.Load(tenant, TableJournalEntries, id)
	if err != nil {
		return nil, err
	}
	entry := entryFromRecord(rec)
	lineRecs, err := l.storage.Query(tenant, TableJournalLines, func(r Record) bool {
		return recString(r, "entry_id") == id
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(lineRecs, func(i, j int) bool {
		return recInt64(lineRecs[i], "line_no") < recInt64(lineRecs[j], "line_no")
	})
	for _, r := range lineRecs {
		entry.Lines = append(entry.Lines, lineFromRecord(r))
	}
	return entry, nil
}

// Reverse posts the inverse of entryID (debit/credit swapped on each line),
// links it via Reverses, and marks the original reversed. Refuses to
// reverse an entry that is not currently posted.
func (l *Ledger) Reverse(tenant TenantID, entryID, reason, actor string) (*JournalEntry, error) {
	original, err := l.GetEntry(tenant, entryID)
	if err != nil {
		return nil, err
	}
	if original.State == EntryReversed {
		return nil, conflictErr("Ledger.Reverse", "entry "+entryID+" already reversed")
	}
	if original.State != EntryPosted {
		return nil, validationErr("Ledger.Reverse", "entry "+entryID+" is not posted", nil)
	}

	reversalLines := make([]JournalEntryLine, len(original.Lines))
	for i, line := range original.Lines {
		reversalLines[i] = JournalEntryLine{
			AccountID:   line.AccountID,
			Description: "reversal: " + line.Description,
			Debit:       line.Credit,
			Credit:      line.Debit,
		}
	}
	reversal := &JournalEntry{
		Reference:   "reversal-" + l.ids.NewID(),
		Description: "reversal of " + entryID + ": " + reason,
		Lines:       reversalLines,
		Reverses:    entryID,
	}
	posted, err := l.Post(tenant, reversal, actor)
	if err != nil {
		return nil, err
	}

	original.State = EntryReversed
	if err := l.storage.Save(tenant, TableJournalEntries, original.ID, original.ToRecord()); err != nil {
		return posted, committedUnauditedErr("Ledger.Reverse", "reversal posted but original entry state update failed", err)
	}
	return posted, nil
}

// Balance derives an account's balance in currency, honoring the account
// kind's sign convention, restricted to lines posted at or before asOf (the
// zero time means "no restriction").
func (l *Ledger) Balance(tenant TenantID, accountID string, currency Currency, asOf time.Time) (MoneyValue, error) {
	acct, err := l.accounts.GetAccount(tenant, accountID)
	if err != nil {
		return MoneyValue{}, err
	}
	lineRecs, err := l.storage.Query(tenant, TableJournalLines, func(rec Record) bool {
		if recString(rec, "account_id") != accountID {
			return false
		}
		if recString(rec, "currency") != string(currency) {
			return false
		}
		if !asOf.IsZero() && recTime(rec, "posted_at").After(asOf) {
			return false
		}
		return true
	})
	if err != nil {
		return MoneyValue{}, err
	}
	var debitSum, creditSum int64
	for _, rec := range lineRecs {
		debitSum += recInt64(rec, "debit")
		creditSum += recInt64(rec, "credit")
	}
	var minor int64
	if acct.Kind.DebitNormal() {
		minor = debitSum - creditSum
	} else {
		minor = creditSum - debitSum
	}
	return MoneyValue{Minor: minor, Currency: currency}, nil
}

// Transactions returns accountID's posted lines in [start, end] (zero times
// mean unbounded), ordered by posting sequence.
func (l *Ledger) Transactions(tenant TenantID, accountID string, start, end time.Time) ([]JournalEntryLine, error) {
	lineRecs, err := l.storage.Query(tenant, TableJournalLines, func(rec Record) bool {
		if recString(rec, "account_id") != accountID {
			return false
		}
		postedAt := recTime(rec, "posted_at")
		if !start.IsZero() && postedAt.Before(start) {
			return false
		}
		if !end.IsZero() && postedAt.After(end) {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	out := make([]JournalEntryLine, 0, len(lineRecs))
	for _, rec := range lineRecs {
		out = append(out, lineFromRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// TrialBalance returns every account's signed balance in currency as of
// asOf. Balances follow each account's sign convention, so by Post's
// balance invariant the debit-normal balances minus the credit-normal
// balances net to zero; the plain sum of Balance values does not.
func (l *Ledger) TrialBalance(tenant TenantID, currency Currency, asOf time.Time) ([]AccountBalance, error) {
	acctRecs, err := l.storage.Query(tenant, TableAccounts, func(rec Record) bool {
		return recString(rec, "currency") == string(currency)
	})
	if err != nil {
		return nil, err
	}
	out := make([]AccountBalance, 0, len(acctRecs))
	for _, rec := range acctRecs {
		acct := accountFromRecord(rec)
		bal, err := l.Balance(tenant, acct.ID, currency, asOf)
		if err != nil {
			return nil, err
		}
		out = append(out, AccountBalance{AccountID: acct.ID, Kind: acct.Kind, Balance: bal})
	}
	return out, nil
}

package corebank

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
)

// genesisHash is the fixed previous_hash a tenant's first audit record
// chains from.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000000000000000"

// AuditRecord is one entry in a tenant's hash-chained, append-only audit
// log. Hash covers (sequence, timestamp, event_kind, subject, actor,
// details, prev_hash) — everything except itself.
type AuditRecord struct {
	Tenant      TenantID
	Sequence    int64
	Timestamp   int64 // UnixNano, so hashing is exact regardless of monotonic-reading noise
	EventKind   string
	SubjectKind string
	SubjectID   string
	Actor       string
	Details     map[string]string
	PrevHash    string
	Hash        string
}

func (r *AuditRecord) ToRecord() Record {
	details := make(map[string]any, len(r.Details))
	for k, v := range r.Details {
		details[k] = v
	}
	return Record{
		"tenant":       string(r.Tenant),
		"sequence":     r.Sequence,
		"timestamp":    r.Timestamp,
		"event_kind":   r.EventKind,
		"subject_kind": r.SubjectKind,
		"subject_id":   r.SubjectID,
		"actor":        r.Actor,
		"details":      details,
		"prev_hash":    r.PrevHash,
		"hash":         r.Hash,
	}
}

func auditFromRecord(rec Record) *AuditRecord {
	return &AuditRecord{
		Tenant:      TenantID(recString(rec, "tenant")),
		Sequence:    recInt64(rec, "sequence"),
		Timestamp:   recInt64(rec, "timestamp"),
		EventKind:   recString(rec, "event_kind"),
		SubjectKind: recString(rec, "subject_kind"),
		SubjectID:   recString(rec, "subject_id"),
		Actor:       recString(rec, "actor"),
		Details:     recStringMap(rec, "details"),
		PrevHash:    recString(rec, "prev_hash"),
		Hash:        recString(rec, "hash"),
	}
}

func auditKey(seq int64) string {
	return fmt.Sprintf("%020d", seq)
}

func computeAuditHash(r *AuditRecord) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%s|%s|%s|%s|", r.Tenant, r.Sequence, r.Timestamp, r.EventKind, r.SubjectKind, r.SubjectID, r.Actor)
	keys := make([]string, 0, len(r.Details))
	for k := range r.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s|", k, r.Details[k])
	}
	fmt.Fprintf(h, "%s", r.PrevHash)
	return hex.EncodeToString(h.Sum(nil))
}

type tailState struct {
	seq  int64
	hash string
}

// AuditChain is the append-only, hash-linked event log of spec.md §4.3.
// Append itself holds no per-tenant ordering lock — callers that append
// concurrently for the same tenant must serialize themselves, the way
// Ledger.Post/Reverse already do via their own per-tenant postMu before
// calling AppendWithTx. The teacher's event_store.go appends a
// JournalEvent with no hash-linking at all; this component is new, built
// in that file's append/range/replay idiom plus real chaining.
type AuditChain struct {
	storage *TenantStorage
	clock   Clock

	mu       sync.Mutex // guards tails and poisoned below
	tails    map[TenantID]*tailState
	poisoned map[TenantID]bool
}

// NewAuditChain constructs an AuditChain over storage, using clock for
// record timestamps.
func NewAuditChain(storage *TenantStorage, clock Clock) *AuditChain {
	return &AuditChain{
		storage:  storage,
		clock:    clock,
		tails:    make(map[TenantID]*tailState),
		poisoned: make(map[TenantID]bool),
	}
}

func (a *AuditChain) getTail(tenant TenantID) (*tailState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tails[tenant]
	return t, ok
}

func (a *AuditChain) setTail(tenant TenantID, seq int64, hash string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tails[tenant] = &tailState{seq: seq, hash: hash}
}

// IsPoisoned reports whether tenant's chain has been marked broken.
func (a *AuditChain) IsPoisoned(tenant TenantID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.poisoned[tenant]
}

// MarkPoisoned refuses further appends for tenant until ClearPoisoned is
// called by an operator, per the audit-poisoned error kind's fatal-until-
// cleared policy.
func (a *AuditChain) MarkPoisoned(tenant TenantID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.poisoned[tenant] = true
}

// ClearPoisoned re-enables appends after an operator has remediated the
// chain (e.g. rebuilt the tail from the ledger).
func (a *AuditChain) ClearPoisoned(tenant TenantID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.poisoned, tenant)
}

func (a *AuditChain) resolveTail(tenant TenantID) (int64, string, error) {
	if t, ok := a.getTail(tenant); ok {
		return t.seq, t.hash, nil
	}
	recs, err := a.storage.Query(tenant, TableAuditRecords, nil)
	if err != nil {
		return 0, "", err
	}
	if len(recs) == 0 {
		return 0, genesisHash, nil
	}
	var latest *AuditRecord
	for _, rec := range recs {
		ar := auditFromRecord(rec)
		if latest == nil || ar.Sequence > latest.Sequence {
			latest = ar
		}
	}
	a.setTail(tenant, latest.Sequence, latest.Hash)
	return latest.Sequence, latest.Hash, nil
}

// Append adds one record to tenant's chain, assigning the next sequence
// number and linking it to the current tail hash. Refuses to append if the
// chain is poisoned.
func (a *AuditChain) Append(tenant TenantID, eventKind, subjectKind, subjectID, actor string, details map[string]string) (*AuditRecord, error) {
	if tenant == "" {
		return nil, tenantIsolationErr("AuditChain.Append", "no tenant in context")
	}
	if a.IsPoisoned(tenant) {
		return nil, auditPoisonedErr("AuditChain.Append", "chain poisoned for tenant "+string(tenant))
	}

	seq, prevHash, err := a.resolveTail(tenant)
	if err != nil {
		return nil, err
	}

	rec := &AuditRecord{
		Tenant:      tenant,
		Sequence:    seq + 1,
		Timestamp:   a.clock.Now().UnixNano(),
		EventKind:   eventKind,
		SubjectKind: subjectKind,
		SubjectID:   subjectID,
		Actor:       actor,
		Details:     details,
		PrevHash:    prevHash,
	}
	rec.Hash = computeAuditHash(rec)

	if err := a.storage.Save(tenant, TableAuditRecords, auditKey(rec.Sequence), rec.ToRecord()); err != nil {
		return nil, transientErr("AuditChain.Append", "", "persisting audit record", err)
	}
	a.setTail(tenant, rec.Sequence, rec.Hash)
	return rec, nil
}

// AppendWithTx appends within an already-open StorageTx, so the audit
// record becomes durable atomically with whatever else the caller is
// saving (e.g. Ledger.post's entry + lines). The caller must hold the
// tenant's append ordering discipline itself (Ledger already serializes
// post per tenant).
func (a *AuditChain) AppendWithTx(tx *StorageTx, tenant TenantID, eventKind, subjectKind, subjectID, actor string, details map[string]string) (*AuditRecord, error) {
	if tenant == "" {
		return nil, tenantIsolationErr("AuditChain.AppendWithTx", "no tenant in context")
	}
	if a.IsPoisoned(tenant) {
		return nil, auditPoisonedErr("AuditChain.AppendWithTx", "chain poisoned for tenant "+string(tenant))
	}
	seq, prevHash, err := a.resolveTail(tenant)
	if err != nil {
		return nil, err
	}
	rec := &AuditRecord{
		Tenant:      tenant,
		Sequence:    seq + 1,
		Timestamp:   a.clock.Now().UnixNano(),
		EventKind:   eventKind,
		SubjectKind: subjectKind,
		SubjectID:   subjectID,
		Actor:       actor,
		Details:     details,
		PrevHash:    prevHash,
	}
	rec.Hash = computeAuditHash(rec)
	if err := tx.Save(tenant, TableAuditRecords, auditKey(rec.Sequence), rec.ToRecord()); err != nil {
		return nil, err
	}
	a.setTail(tenant, rec.Sequence, rec.Hash)
	return rec, nil
}

// Get returns the record at seq.
func (a *AuditChain) Get(tenant TenantID, seq int64) (*AuditRecord, error) {
	rec, err := a.storage.Load(tenant, TableAuditRecords, auditKey(seq))
	if err != nil {
		return nil, err
	}
	return auditFromRecord(rec), nil
}

// Range returns records [from, to] in sequence order, stopping early if the
// chain doesn't extend that far.
func (a *AuditChain) Range(tenant TenantID, from, to int64) ([]*AuditRecord, error) {
	if tenant == "" {
		return nil, tenantIsolationErr("AuditChain.Range", "no tenant in context")
	}
	var out []*AuditRecord
	for seq := from; seq <= to; seq++ {
		rec, err := a.Get(tenant, seq)
		if err != nil {
			if cerr, ok := err.(*Error); ok && cerr.Kind == KindNotFound {
				break
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Verify recomputes every hash in [from, to] (from<=0 means 1, to<=0 means
// the current tail) and checks it against the stored hash and its
// predecessor's hash. Returns (true, nil) if the chain is intact, or
// (false, &firstBrokenSequence) at the first mismatch.
func (a *AuditChain) Verify(tenant TenantID, from, to int64) (bool, *int64, error) {
	if tenant == "" {
		return false, nil, tenantIsolationErr("AuditChain.Verify", "no tenant in context")
	}
	if from <= 0 {
		from = 1
	}
	if to <= 0 {
		seq, _, err := a.resolveTail(tenant)
		if err != nil {
			return false, nil, err
		}
		to = seq
	}

	prevHash := genesisHash
	if from > 1 {
		prior, err := a.Get(tenant, from-1)
		if err != nil {
			return false, nil, err
		}
		prevHash = prior.Hash
	}

	for seq := from; seq <= to; seq++ {
		rec, err := a.Get(tenant, seq)
		if err != nil {
			broken := seq
			return false, &broken, nil
		}
		if rec.PrevHash != prevHash {
			broken := seq
			return false, &broken, nil
		}
		if computeAuditHash(rec) != rec.Hash {
			broken := seq
			return false, &broken, nil
		}
		prevHash = rec.Hash
	}
	return true, nil, nil
}

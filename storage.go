package corebank

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// Table names a record bucket. One bucket per entity kind, shared across
// tenants with a tenant-prefixed key — the "shared table with tenant tag"
// isolation strategy (spec's default; schema/database-per-tenant strategies
// route to a different TenantStorage instance at deployment time rather
// than changing this API).
type Table string

const (
	TableAccounts           Table = "accounts"
	TableJournalEntries     Table = "journal_entries"
	TableJournalLines       Table = "journal_lines"
	TableAuditRecords       Table = "audit_records"
	TableLoans              Table = "loans"
	TableCreditLines        Table = "credit_lines"
	TableCreditStatements   Table = "credit_statements"
	TableCreditTransactions Table = "credit_transactions"
	TableSequences          Table = "sequences"
	TableIdempotency        Table = "idempotency"
)

var allTables = []Table{
	TableAccounts, TableJournalEntries, TableJournalLines, TableAuditRecords,
	TableLoans, TableCreditLines, TableCreditStatements, TableCreditTransactions,
	TableSequences, TableIdempotency,
}

// FieldSpec is a compile-time registration of one record field: its name
// and whether it carries PII. Registered once per table below rather than
// discovered by reflection, per the Design Notes' "runtime reflection for
// PII field lists → compile-time registration tables".
type FieldSpec struct {
	Name string
	PII  bool
}

// piiRegistry maps table to its field specs. Tables absent here, or with no
// PII-flagged fields, are stored and returned verbatim.
var piiRegistry = map[Table][]FieldSpec{
	TableAccounts: {
		{Name: "id"}, {Name: "customer_id", PII: true}, {Name: "product_ref"},
		{Name: "currency"}, {Name: "kind"}, {Name: "status"}, {Name: "created_at"},
	},
	TableLoans: {
		{Name: "id"}, {Name: "customer_id", PII: true}, {Name: "product_ref"},
	},
	TableCreditLines: {
		{Name: "id"}, {Name: "customer_id", PII: true},
	},
}

// Record is the generic wire shape every entity marshals to/from: a flat
// string-keyed map. Domain types implement explicit ToRecord/FromRecord
// conversions (see accounts.go, ledger.go, audit.go, loan.go, credit.go) —
// this boundary is crossed by hand-written code, never reflection.
type Record map[string]any

// boltBackend is the concrete storage backend: a single bbolt database with
// one bucket per Table, grounded on the teacher's storage.go bucket layout.
type boltBackend struct {
	db *bbolt.DB
}

func openBoltBackend(path string) (*boltBackend, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, internalErr("openBoltBackend", "opening bbolt database", err)
	}
	b := &boltBackend{db: db}
	if err := b.initBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *boltBackend) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, t := range allTables {
			if _, err := tx.CreateBucketIfNotExists([]byte(t)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *boltBackend) Close() error { return b.db.Close() }

// recordKey namespaces a record id under its tenant within a shared bucket.
func recordKey(tenant TenantID, id string) []byte {
	return append([]byte(string(tenant)+"\x00"), id...)
}

func tenantPrefix(tenant TenantID) []byte {
	return []byte(string(tenant) + "\x00")
}

// TenantStorage is the tenant-wrapper-wraps-PII-wrapper-wraps-concrete-
// backend storage trait the Design Notes call for, collapsed into one type
// since both wrappers share the same encode/decode path. Every method
// refuses an empty tenant (spec's tenant-isolation requirement); there is
// no cross-tenant capability, so every call is scoped to one tenant.
type TenantStorage struct {
	backend *boltBackend
	keys    *KeyManager
}

// NewTenantStorage opens (creating if absent) a bbolt-backed store at path,
// using keys for PII field envelope encryption.
func NewTenantStorage(path string, keys *KeyManager) (*TenantStorage, error) {
	backend, err := openBoltBackend(path)
	if err != nil {
		return nil, err
	}
	return &TenantStorage{backend: backend, keys: keys}, nil
}

func (s *TenantStorage) Close() error { return s.backend.Close() }

func (s *TenantStorage) encode(tenant TenantID, table Table, rec Record) ([]byte, error) {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	for _, spec := range piiRegistry[table] {
		if !spec.PII {
			continue
		}
		raw, ok := out[spec.Name]
		if !ok {
			continue
		}
		str, ok := raw.(string)
		if !ok || str == "" {
			continue
		}
		enc, err := s.keys.Encrypt(tenant, str)
		if err != nil {
			return nil, err
		}
		out[spec.Name] = enc
	}
	data, err := msgpack.Marshal(out)
	if err != nil {
		return nil, internalErr("TenantStorage.encode", "marshaling record", err)
	}
	return data, nil
}

// decode unmarshals a stored record and transparently decrypts any field
// carrying the ENC: prefix, regardless of whether it's currently registered
// as PII — this lets a field be de-registered without breaking decode of
// already-encrypted history.
func (s *TenantStorage) decode(tenant TenantID, data []byte) (Record, error) {
	var rec Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, internalErr("TenantStorage.decode", "unmarshaling record", err)
	}
	for k, v := range rec {
		str, ok := v.(string)
		if !ok || !IsEncrypted(str) {
			continue
		}
		plain, err := s.keys.Decrypt(tenant, str)
		if err != nil {
			return nil, err
		}
		rec[k] = plain
	}
	return rec, nil
}

// Save upserts rec under (tenant, table, id).
func (s *TenantStorage) Save(tenant TenantID, table Table, id string, rec Record) error {
	if tenant == "" {
		return tenantIsolationErr("TenantStorage.Save", "no tenant in context")
	}
	data, err := s.encode(tenant, table, rec)
	if err != nil {
		return err
	}
	return s.backend.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return internalErr("TenantStorage.Save", "unknown table "+string(table), nil)
		}
		return b.Put(recordKey(tenant, id), data)
	})
}

// Load fetches a record by id, scoped to tenant.
func (s *TenantStorage) Load(tenant TenantID, table Table, id string) (Record, error) {
	if tenant == "" {
		return nil, tenantIsolationErr("TenantStorage.Load", "no tenant in context")
	}
	var data []byte
	err := s.backend.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return internalErr("TenantStorage.Load", "unknown table "+string(table), nil)
		}
		v := b.Get(recordKey(tenant, id))
		if v == nil {
			return notFoundErr("TenantStorage.Load", string(table)+"/"+id)
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.decode(tenant, data)
}

// Delete removes a record by id, scoped to tenant.
func (s *TenantStorage) Delete(tenant TenantID, table Table, id string) error {
	if tenant == "" {
		return tenantIsolationErr("TenantStorage.Delete", "no tenant in context")
	}
	return s.backend.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return internalErr("TenantStorage.Delete", "unknown table "+string(table), nil)
		}
		return b.Delete(recordKey(tenant, id))
	})
}

// Query scans every record in table under tenant and returns those for
// which filter returns true (or all, if filter is nil). Filters that
// inspect a PII field run against the already-decrypted Record, per the
// spec's requirement that such filters not rely on an index.
func (s *TenantStorage) Query(tenant TenantID, table Table, filter func(Record) bool) ([]Record, error) {
	if tenant == "" {
		return nil, tenantIsolationErr("TenantStorage.Query", "no tenant in context")
	}
	var results []Record
	err := s.backend.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return internalErr("TenantStorage.Query", "unknown table "+string(table), nil)
		}
		prefix := tenantPrefix(tenant)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			rec, err := s.decode(tenant, v)
			if err != nil {
				return err
			}
			if filter == nil || filter(rec) {
				results = append(results, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// StorageTx groups several saves into one atomic bbolt transaction — the
// primitive Ledger.post needs to make entry+lines+sequence-advance durable
// together.
type StorageTx struct {
	tx *bbolt.Tx
	s  *TenantStorage
}

// Begin starts a writable transaction scoped to tenant.
func (s *TenantStorage) Begin(tenant TenantID) (*StorageTx, error) {
	if tenant == "" {
		return nil, tenantIsolationErr("TenantStorage.Begin", "no tenant in context")
	}
	btx, err := s.backend.db.Begin(true)
	if err != nil {
		return nil, transientErr("TenantStorage.Begin", "", "beginning transaction", err)
	}
	return &StorageTx{tx: btx, s: s}, nil
}

func (t *StorageTx) Save(tenant TenantID, table Table, id string, rec Record) error {
	data, err := t.s.encode(tenant, table, rec)
	if err != nil {
		return err
	}
	b := t.tx.Bucket([]byte(table))
	if b == nil {
		return internalErr("StorageTx.Save", "unknown table "+string(table), nil)
	}
	return b.Put(recordKey(tenant, id), data)
}

func (t *StorageTx) Load(tenant TenantID, table Table, id string) (Record, error) {
	b := t.tx.Bucket([]byte(table))
	if b == nil {
		return nil, internalErr("StorageTx.Load", "unknown table "+string(table), nil)
	}
	v := b.Get(recordKey(tenant, id))
	if v == nil {
		return nil, notFoundErr("StorageTx.Load", string(table)+"/"+id)
	}
	return t.s.decode(tenant, append([]byte(nil), v...))
}

// Commit finalizes the transaction. A failure here after some Saves were
// buffered leaves no effect visible — bbolt's commit is all-or-nothing.
func (t *StorageTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return transientErr("StorageTx.Commit", "", "committing transaction", err)
	}
	return nil
}

// Rollback discards the transaction. Safe to call after a failed Save.
func (t *StorageTx) Rollback() error { return t.tx.Rollback() }

// RotationReport summarizes a RotateKeys bulk operation.
type RotationReport struct {
	RotatedRecords int
	RotatedFields  int
	Errors         []error
}

// RotateKeys advances tenant's key generation and re-encrypts every PII
// field across every registered table under the new generation. It is
// restartable: a second run advances the generation again and re-encrypts
// every record again, including those the first run already re-saved,
// which is safe since each ciphertext carries its own generation.
func (s *TenantStorage) RotateKeys(tenant TenantID) (*RotationReport, error) {
	if tenant == "" {
		return nil, tenantIsolationErr("TenantStorage.RotateKeys", "no tenant in context")
	}
	report := &RotationReport{}
	s.keys.Rotate(tenant)
	for table, specs := range piiRegistry {
		piiCount := 0
		for _, spec := range specs {
			if spec.PII {
				piiCount++
			}
		}
		if piiCount == 0 {
			continue
		}
		recs, err := s.Query(tenant, table, nil)
		if err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}
		for _, rec := range recs {
			id, _ := rec["id"].(string)
			if id == "" {
				continue
			}
			if err := s.Save(tenant, table, id, rec); err != nil {
				report.Errors = append(report.Errors, err)
				continue
			}
			report.RotatedRecords++
			report.RotatedFields += piiCount
		}
	}
	return report, nil
}

package corebank

import (
	"bytes"
	"testing"
)

func TestStoragePIIFieldEncryptedAtRest(t *testing.T) {
	storage := newTestStorage(t)
	rec := Record{"id": "acct-1", "customer_id": "alice-doe", "currency": "USD"}
	if err := storage.Save("tenant-a", TableAccounts, "acct-1", rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := storage.backend.db.Begin(false)
	if err != nil {
		t.Fatalf("begin raw view: %v", err)
	}
	defer raw.Rollback()
	b := raw.Bucket([]byte(TableAccounts))
	v := b.Get(recordKey("tenant-a", "acct-1"))
	if v == nil {
		t.Fatal("expected a stored value for acct-1")
	}
	if bytes.Contains(v, []byte("alice-doe")) {
		t.Fatal("expected customer_id to be encrypted at rest, found plaintext in the stored bytes")
	}
	if !bytes.Contains(v, []byte(encPrefix)) {
		t.Fatal("expected the stored bytes to carry the encrypted-value prefix")
	}

	loaded, err := storage.Load("tenant-a", TableAccounts, "acct-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded["customer_id"] != "alice-doe" {
		t.Fatalf("expected decrypted customer_id alice-doe, got %v", loaded["customer_id"])
	}
}

func TestStorageTenantIsolationAcrossQueryAndLoad(t *testing.T) {
	storage := newTestStorage(t)
	if err := storage.Save("tenant-a", TableAccounts, "acct-1", Record{"id": "acct-1", "customer_id": "alice", "currency": "USD"}); err != nil {
		t.Fatalf("Save tenant-a: %v", err)
	}
	if err := storage.Save("tenant-b", TableAccounts, "acct-1", Record{"id": "acct-1", "customer_id": "bob", "currency": "USD"}); err != nil {
		t.Fatalf("Save tenant-b: %v", err)
	}

	got, err := storage.Load("tenant-b", TableAccounts, "acct-1")
	if err != nil {
		t.Fatalf("Load tenant-b: %v", err)
	}
	if got["customer_id"] != "bob" {
		t.Fatalf("expected tenant-b's own record, got customer_id %v", got["customer_id"])
	}

	recs, err := storage.Query("tenant-a", TableAccounts, nil)
	if err != nil {
		t.Fatalf("Query tenant-a: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected tenant-a to see exactly its own 1 record, got %d", len(recs))
	}

	if _, err := storage.Load("", TableAccounts, "acct-1"); err == nil {
		t.Fatal("expected Load with empty tenant to be rejected")
	}
}

func TestStorageQueryFilterRunsOnDecryptedRecord(t *testing.T) {
	storage := newTestStorage(t)
	if err := storage.Save("tenant-a", TableAccounts, "acct-1", Record{"id": "acct-1", "customer_id": "alice", "currency": "USD"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := storage.Save("tenant-a", TableAccounts, "acct-2", Record{"id": "acct-2", "customer_id": "bob", "currency": "USD"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	recs, err := storage.Query("tenant-a", TableAccounts, func(r Record) bool {
		return r["customer_id"] == "alice"
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 1 || recs[0]["id"] != "acct-1" {
		t.Fatalf("expected filter to match decrypted plaintext customer_id, got %+v", recs)
	}
}

func TestStorageRotateKeysReencryptsAndOldCiphertextStillDecodable(t *testing.T) {
	storage := newTestStorage(t)
	if err := storage.Save("tenant-a", TableAccounts, "acct-1", Record{"id": "acct-1", "customer_id": "alice", "currency": "USD"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	report, err := storage.RotateKeys("tenant-a")
	if err != nil {
		t.Fatalf("RotateKeys: %v", err)
	}
	if report.RotatedRecords != 1 {
		t.Fatalf("expected 1 rotated record, got %d", report.RotatedRecords)
	}
	if len(report.Errors) != 0 {
		t.Fatalf("expected no rotation errors, got %v", report.Errors)
	}

	got, err := storage.Load("tenant-a", TableAccounts, "acct-1")
	if err != nil {
		t.Fatalf("Load after rotation: %v", err)
	}
	if got["customer_id"] != "alice" {
		t.Fatalf("expected customer_id still readable after rotation, got %v", got["customer_id"])
	}
}

func TestStorageTransactionCommitsAllOrNothing(t *testing.T) {
	storage := newTestStorage(t)
	tx, err := storage.Begin("tenant-a")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Save("tenant-a", TableAccounts, "acct-1", Record{"id": "acct-1", "customer_id": "alice", "currency": "USD"}); err != nil {
		t.Fatalf("tx Save: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := storage.Load("tenant-a", TableAccounts, "acct-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got["customer_id"] != "alice" {
		t.Fatalf("expected committed record visible, got %v", got["customer_id"])
	}
}

func TestStorageTransactionRollbackLeavesNoEffect(t *testing.T) {
	storage := newTestStorage(t)
	tx, err := storage.Begin("tenant-a")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Save("tenant-a", TableAccounts, "acct-1", Record{"id": "acct-1", "customer_id": "alice", "currency": "USD"}); err != nil {
		t.Fatalf("tx Save: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if _, err := storage.Load("tenant-a", TableAccounts, "acct-1"); err == nil {
		t.Fatal("expected rolled-back save to leave no visible record")
	}
}

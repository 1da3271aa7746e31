// Package cryptox implements the authenticated-encryption primitives for the
// POS offline queue: sealing transaction payloads on the terminal, unsealing
// them in the reconciliation worker, and wrapping device keys under the
// server-side master key.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/villagecompute/posoffline/internal/common"
	"golang.org/x/crypto/argon2"
)

// KeySize is the device key length in bytes (AES-256).
const KeySize = 32

// IVSize is the AES-GCM nonce length in bytes.
const IVSize = 12

// Seal encrypts plaintext with AES-256-GCM under key. A fresh random 12-byte
// IV is generated on every call; the IV is returned separately and must be
// stored alongside the ciphertext. Seal is a pure function of its inputs plus
// the generated IV and has no other side effects.
func Seal(plaintext, key []byte) (ciphertext, iv []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	iv = make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("iv generation: %w", err)
	}

	ciphertext = aead.Seal(nil, iv, plaintext, nil)
	return ciphertext, iv, nil
}

// Unseal decrypts ciphertext produced by Seal. It fails closed: any tag
// mismatch, wrong key, or malformed input yields common.ErrDecryptionFailed
// and never partial plaintext.
func Unseal(ciphertext, iv, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(iv) != aead.NonceSize() {
		return nil, common.ErrDecryptionFailed
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, common.ErrDecryptionFailed
	}
	return plaintext, nil
}

// WrapKey encrypts a raw device key under the server master key for
// persistence in the key registry. The result is iv‖ciphertext in a single
// blob; raw device keys never reach durable storage.
func WrapKey(rawKey, masterKey []byte) ([]byte, error) {
	ciphertext, iv, err := Seal(rawKey, masterKey)
	if err != nil {
		return nil, err
	}
	return append(iv, ciphertext...), nil
}

// UnwrapKey reverses WrapKey. A blob shorter than one IV or failing
// authentication yields common.ErrDecryptionFailed.
func UnwrapKey(blob, masterKey []byte) ([]byte, error) {
	if len(blob) <= IVSize {
		return nil, common.ErrDecryptionFailed
	}
	return Unseal(blob[IVSize:], blob[:IVSize], masterKey)
}

// KeyFingerprint returns the SHA-256 hex digest of key material. The registry
// stores fingerprints so a device key can be identified without ever holding
// the raw key in a queryable column.
func KeyFingerprint(key []byte) string {
	hash := sha256.Sum256(key)
	return hex.EncodeToString(hash[:])
}

// HashPairingCode hashes a short-lived pairing code with argon2id for at-rest
// storage. Codes are low-entropy, so a memory-hard hash is used instead of a
// plain digest.
func HashPairingCode(code string, salt []byte) string {
	x := argon2.IDKey([]byte(code), salt, 1, 64*1024, 4, 32)
	return hex.EncodeToString(x)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher init: %w", err)
	}
	return cipher.NewGCM(block)
}

// Package keyvault encrypts provider API keys at rest with AES-256-GCM.
// Stored records are "ivhex:cipherhex"; the nonce travels with the
// ciphertext so records are self-describing.
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// ErrDecryptFailed indicates a record that could not be decrypted: tampered
// ciphertext, wrong master key, or a malformed stored value. Callers must
// treat it as non-retryable and surface only a generic message.
var ErrDecryptFailed = errors.New("keyvault: decrypt failed")

// ErrMissingMasterKey indicates the vault was constructed without a secret.
var ErrMissingMasterKey = errors.New("keyvault: missing master key")

const nonceSize = 12

// Vault performs authenticated encryption of short secrets.
type Vault struct {
	aead cipher.AEAD
}

// hkdfInfo binds derived keys to this use so the same master secret cannot
// be reused for another purpose with an identical key.
const hkdfInfo = "tokenguard api key encryption v1"

// New derives an AES-256 key from the master secret and constructs a Vault.
func New(masterKey string) (*Vault, error) {
	if strings.TrimSpace(masterKey) == "" {
		return nil, ErrMissingMasterKey
	}

	keyReader := hkdf.New(sha256.New, []byte(masterKey), nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, errRead := io.ReadFull(keyReader, key); errRead != nil {
		return nil, fmt.Errorf("keyvault: derive key: %w", errRead)
	}

	block, errCipher := aes.NewCipher(key)
	if errCipher != nil {
		return nil, fmt.Errorf("keyvault: init cipher: %w", errCipher)
	}
	aead, errGCM := cipher.NewGCMWithNonceSize(block, nonceSize)
	if errGCM != nil {
		return nil, fmt.Errorf("keyvault: init gcm: %w", errGCM)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals the plaintext under a fresh random nonce and returns the
// storable record.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if v == nil || v.aead == nil {
		return "", ErrMissingMasterKey
	}

	nonce := make([]byte, nonceSize)
	if _, errRand := rand.Read(nonce); errRand != nil {
		return "", fmt.Errorf("keyvault: nonce: %w", errRand)
	}

	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt opens a stored record. Any failure collapses to ErrDecryptFailed;
// cipher internals are never exposed to callers.
func (v *Vault) Decrypt(record string) (string, error) {
	if v == nil || v.aead == nil {
		return "", ErrMissingMasterKey
	}

	ivHex, cipherHex, found := strings.Cut(record, ":")
	if !found {
		return "", ErrDecryptFailed
	}
	nonce, errIV := hex.DecodeString(ivHex)
	if errIV != nil || len(nonce) != nonceSize {
		return "", ErrDecryptFailed
	}
	sealed, errCipher := hex.DecodeString(cipherHex)
	if errCipher != nil {
		return "", ErrDecryptFailed
	}

	plaintext, errOpen := v.aead.Open(nil, nonce, sealed, nil)
	if errOpen != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

// KeyHint returns the plaintext suffix stored for display alongside the
// ciphertext.
func KeyHint(plaintext string) string {
	if len(plaintext) <= 4 {
		return plaintext
	}
	return plaintext[len(plaintext)-4:]
}

// Package vault encrypts tenant credentials at rest.
//
// Ciphertexts use AES-256-GCM with a key derived from the master key via
// PBKDF2-SHA256. The wire form is "aev1:" + base64(nonce || ciphertext),
// where the GCM tag is appended to the ciphertext. Values without the
// envelope prefix are treated as plaintext by EncryptIfNeeded, which lets
// operators migrate stored credentials lazily.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

const (
	// envelopePrefix marks a value as vault-encrypted.
	envelopePrefix = "aev1:"

	// kdfIterations matches the derivation cost used across deployments.
	// Changing it invalidates every stored ciphertext.
	kdfIterations = 480000

	kdfSalt   = "ai-admin-salt-v1"
	keyLength = 32
)

// Vault performs symmetric encryption of credential strings.
type Vault struct {
	aead cipher.AEAD
}

// New derives the data key from the master key and prepares the cipher.
// The master key must be non-empty; there is no unencrypted fallback mode.
func New(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, apperrors.NewConfigError("vault master key is empty")
	}

	key := pbkdf2.Key([]byte(masterKey), []byte(kdfSalt), kdfIterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("failed to init cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("failed to init gcm", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext into the envelope form. A fresh random nonce is
// drawn per call, so encrypting the same value twice yields distinct
// ciphertexts.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", apperrors.NewInternalErrorWithCause("failed to generate nonce", err)
	}

	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	payload := append(nonce, sealed...)

	return envelopePrefix + base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt opens an envelope produced by Encrypt. Tampered or truncated
// ciphertexts fail authentication and return an error; the error never
// carries ciphertext or key material.
func (v *Vault) Decrypt(envelope string) (string, error) {
	if !IsEnvelope(envelope) {
		return "", apperrors.NewInvalidInputError("value is not vault-encrypted")
	}

	payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(envelope, envelopePrefix))
	if err != nil {
		return "", apperrors.NewInvalidInputError("malformed vault envelope")
	}

	nonceSize := v.aead.NonceSize()
	if len(payload) < nonceSize+v.aead.Overhead() {
		return "", apperrors.NewInvalidInputError("vault envelope too short")
	}

	plaintext, err := v.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return "", apperrors.NewUnauthorizedError("vault decryption failed")
	}

	return string(plaintext), nil
}

// EncryptIfNeeded seals the value unless it already carries the envelope
// prefix. Used when persisting credentials that may arrive either freshly
// entered or already encrypted.
func (v *Vault) EncryptIfNeeded(value string) (string, error) {
	if value == "" || IsEnvelope(value) {
		return value, nil
	}
	return v.Encrypt(value)
}

// DecryptIfNeeded opens the value when it carries the envelope prefix and
// returns it unchanged otherwise. Lets readers tolerate legacy plaintext
// rows during migration.
func (v *Vault) DecryptIfNeeded(value string) (string, error) {
	if !IsEnvelope(value) {
		return value, nil
	}
	return v.Decrypt(value)
}

// IsEnvelope reports whether the value looks like a vault ciphertext.
func IsEnvelope(value string) bool {
	return strings.HasPrefix(value, envelopePrefix)
}

// GenerateMasterKey returns a random 32-byte key in base64 form, suitable
// for bootstrapping a new deployment.
func GenerateMasterKey() (string, error) {
	raw := make([]byte, keyLength)
	if _, err := rand.Read(raw); err != nil {
		return "", apperrors.NewInternalErrorWithCause("failed to generate master key", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

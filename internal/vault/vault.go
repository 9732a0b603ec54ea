// Package vault stores API credentials encrypted with AES-256-GCM.
//
// The ciphertext lives in the config document as "iv:authTag:ciphertext"
// (all hex); the 32-byte key is hex-encoded in a sibling file readable only
// by the owner. The key file is written once and never rewritten -- losing
// it makes the stored token unrecoverable by design of the format.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/devark-ai/devark/internal/config"
)

const (
	tokenKey     = "token"
	secretPrefix = "secret:"
	keyBytes     = 32
	ivBytes      = 16
	minTokenLen  = 10
)

// ErrTokenTooShort rejects empty or suspiciously short tokens before any
// config write happens.
var ErrTokenTooShort = errors.New("token must be at least 10 characters")

// Vault encrypts and decrypts the API token.
type Vault struct {
	cfg     *config.Store
	keyPath string
}

// New creates a vault over the given config store. An empty keyPath uses the
// default ~/.devark/.key location.
func New(cfg *config.Store, keyPath string) *Vault {
	if keyPath == "" {
		keyPath = config.KeyPath()
	}
	return &Vault{cfg: cfg, keyPath: keyPath}
}

// StoreToken encrypts plaintext and writes it into the config document.
// A fresh random IV is generated per call, so two encryptions of the same
// token never produce the same ciphertext.
func (v *Vault) StoreToken(plaintext string) error {
	return v.store(tokenKey, plaintext)
}

// StoreSecret encrypts a named credential, such as a provider API key
// referenced by apiKeyRef.
func (v *Vault) StoreSecret(ref, plaintext string) error {
	return v.store(secretPrefix+ref, plaintext)
}

// GetSecret decrypts a named credential.
func (v *Vault) GetSecret(ref string) (string, bool) {
	return v.get(secretPrefix + ref)
}

// ClearSecret removes a named credential.
func (v *Vault) ClearSecret(ref string) error {
	return v.cfg.Delete(secretPrefix + ref)
}

func (v *Vault) store(field, plaintext string) error {
	if len(plaintext) < minTokenLen {
		return ErrTokenTooShort
	}

	key, err := v.loadOrCreateKey()
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}

	iv := make([]byte, ivBytes)
	if _, err := rand.Read(iv); err != nil {
		return err
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, ivBytes)
	if err != nil {
		return err
	}

	// Seal appends the auth tag to the ciphertext; split it back out to
	// match the iv:authTag:ciphertext wire format.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	encoded := fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	)
	return v.cfg.Set(field, encoded)
}

// GetToken decrypts and returns the stored token. Returns empty-and-false
// when the config or key is missing, the stored value is malformed, or
// authentication fails.
func (v *Vault) GetToken() (string, bool) {
	return v.get(tokenKey)
}

func (v *Vault) get(field string) (string, bool) {
	encoded := v.cfg.GetString(field, "")
	if encoded == "" {
		return "", false
	}

	key, err := v.readKey()
	if err != nil {
		return "", false
	}

	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", false
	}
	iv, err1 := hex.DecodeString(parts[0])
	tag, err2 := hex.DecodeString(parts[1])
	ciphertext, err3 := hex.DecodeString(parts[2])
	if err1 != nil || err2 != nil || err3 != nil || len(iv) != ivBytes {
		return "", false
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", false
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivBytes)
	if err != nil || len(tag) != gcm.Overhead() {
		return "", false
	}

	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", false
	}
	return string(plaintext), true
}

// HasToken reports whether a decryptable token is stored.
func (v *Vault) HasToken() bool {
	_, ok := v.GetToken()
	return ok
}

// ClearToken removes the token field, preserving all other config fields.
func (v *Vault) ClearToken() error {
	return v.cfg.Delete(tokenKey)
}

// loadOrCreateKey returns the key material, creating the key file on first
// use. An existing key file is never rewritten.
func (v *Vault) loadOrCreateKey() ([]byte, error) {
	if key, err := v.readKey(); err == nil {
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	raw := make([]byte, keyBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	encoded := hex.EncodeToString(raw)

	if err := os.MkdirAll(filepath.Dir(v.keyPath), 0o700); err != nil {
		return nil, err
	}
	// O_EXCL guards against a concurrent first write clobbering the key.
	f, err := os.OpenFile(v.keyPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o400)
	if err != nil {
		if os.IsExist(err) {
			return v.readKey()
		}
		return nil, err
	}
	if _, err := f.WriteString(encoded); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	log.Info().Str("path", v.keyPath).Msg("Created encryption key file")
	return raw, nil
}

// readKey reads and decodes the key file without creating it.
func (v *Vault) readKey() ([]byte, error) {
	raw, err := os.ReadFile(v.keyPath)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("key file corrupt: %w", err)
	}
	if len(key) != keyBytes {
		return nil, fmt.Errorf("key file has %d bytes, want %d", len(key), keyBytes)
	}
	return key, nil
}

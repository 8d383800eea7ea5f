package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const keySize = 32

// Keyring holds the per-installation HMAC key. The key never leaves the
// device; only the derived device id and signatures are transmitted.
type Keyring struct {
	key []byte
}

// LoadOrCreateKey reads the device key, generating and persisting a fresh
// 256-bit key with owner-only permissions on first use.
func LoadOrCreateKey(path string) (*Keyring, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		key, decodeErr := hex.DecodeString(string(raw))
		if decodeErr != nil || len(key) != keySize {
			return nil, fmt.Errorf("device key file %s is corrupt", path)
		}
		return &Keyring{key: key}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read device key %s: %w", path, err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate device key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("write device key %s: %w", path, err)
	}

	return &Keyring{key: key}, nil
}

// DeviceID derives a stable public identifier from the private key.
func (k *Keyring) DeviceID() string {
	mac := hmac.New(sha256.New, k.key)
	mac.Write([]byte("device-id"))
	return hex.EncodeToString(mac.Sum(nil))[:16]
}

func (k *Keyring) sign(payload []byte) string {
	mac := hmac.New(sha256.New, k.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

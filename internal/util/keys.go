package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes derived from the application secret
const (
	KeyPurposeTracking  = "guest-tracking"
	KeyPurposeRateLimit = "rate-limit-marker"
)

// DeriveKey expands the application secret into a 32-byte key bound to one purpose
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("application secret is empty")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, []byte(ServiceName), []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive %s key: %w", purpose, err)
	}
	return key, nil
}

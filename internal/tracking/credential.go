package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultCredentialTTL is how long a guest tracking credential stays valid
const DefaultCredentialTTL = 90 * 24 * time.Hour

var (
	ErrInvalidCredential = errors.New("invalid tracking credential")
	ErrExpiredCredential = errors.New("tracking credential expired")
)

// Claims identify the single order a guest credential grants access to
type Claims struct {
	OrderNumber string `json:"o"`
	Email       string `json:"e"`
	ExpiresAt   int64  `json:"x"`
}

// Expiry returns the expiry instant
func (c Claims) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0).UTC()
}

// Matches reports whether the claims cover the given order
func (c Claims) Matches(orderNumber, email string) bool {
	return c.OrderNumber == orderNumber && strings.EqualFold(c.Email, email)
}

// Signer issues and verifies guest tracking credentials
type Signer struct {
	key []byte
	ttl time.Duration
}

// NewSigner creates a signer; key should be derived for this purpose only
func NewSigner(key []byte, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	return &Signer{key: key, ttl: ttl}
}

// Issue creates a credential for an order number and e-mail
func (s *Signer) Issue(orderNumber, email string, now time.Time) (string, time.Time, error) {
	claims := Claims{
		OrderNumber: orderNumber,
		Email:       strings.ToLower(email),
		ExpiresAt:   now.Add(s.ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to encode claims: %w", err)
	}

	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + s.sign(body), claims.Expiry(), nil
}

// Verify checks the signature and expiry of a credential
func (s *Signer) Verify(token string, now time.Time) (*Claims, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok || body == "" || sig == "" {
		return nil, ErrInvalidCredential
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(body))) {
		return nil, ErrInvalidCredential
	}

	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, ErrInvalidCredential
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.OrderNumber == "" {
		return nil, ErrInvalidCredential
	}
	if !now.Before(claims.Expiry()) {
		return nil, ErrExpiredCredential
	}
	return &claims, nil
}

func (s *Signer) sign(body string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

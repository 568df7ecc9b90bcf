package ratelimit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CookieName carries the signed marker on the client
const CookieName = "fp_marker"

// CookieStore keeps the marker in a signed cookie of the current request.
// It is request-scoped: build one per request.
type CookieStore struct {
	key    []byte
	req    *http.Request
	w      http.ResponseWriter
	secure bool
}

// NewCookieStore binds a store to one request/response pair
func NewCookieStore(key []byte, req *http.Request, w http.ResponseWriter, secure bool) *CookieStore {
	return &CookieStore{key: key, req: req, w: w, secure: secure}
}

// Get returns the marker for key if the cookie is present, signed and about the same key
func (s *CookieStore) Get(_ context.Context, key string) (*time.Time, error) {
	c, err := s.req.Cookie(CookieName)
	if err != nil {
		return nil, nil
	}

	parts := strings.Split(c.Value, ".")
	if len(parts) != 3 {
		return nil, nil
	}
	if !hmac.Equal([]byte(parts[2]), []byte(s.sign(parts[0], parts[1]))) {
		return nil, nil
	}
	if parts[0] != key {
		return nil, nil
	}

	unix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, nil
	}
	t := time.Unix(unix, 0).UTC()
	return &t, nil
}

// Set writes a fresh marker cookie that expires with the window
func (s *CookieStore) Set(_ context.Context, key string, t time.Time, ttl time.Duration) error {
	ts := strconv.FormatInt(t.Unix(), 10)
	http.SetCookie(s.w, &http.Cookie{
		Name:     CookieName,
		Value:    key + "." + ts + "." + s.sign(key, ts),
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (s *CookieStore) sign(key, ts string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(key + "|" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}

package redisclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront-orders/internal/models"

	"github.com/go-redis/redis/v8"
)

// sessionKey never stores the raw bearer token
func sessionKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "session:" + hex.EncodeToString(sum[:])
}

// GetSession returns the cached identity for token, nil on a miss
func (c *Client) GetSession(ctx context.Context, token string) (*models.Identity, error) {
	raw, err := c.rdb.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session cache: %w", err)
	}

	var identity models.Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return nil, fmt.Errorf("failed to decode cached session: %w", err)
	}
	return &identity, nil
}

// SetSession caches a resolved identity for ttl
func (c *Client) SetSession(ctx context.Context, token string, identity *models.Identity, ttl time.Duration) error {
	raw, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return c.rdb.Set(ctx, sessionKey(token), raw, ttl).Err()
}

// MarkerStore keeps rate-limit markers server-side
type MarkerStore struct {
	client *Client
	prefix string
}

// NewMarkerStore creates a marker store whose keys share prefix
func NewMarkerStore(client *Client, prefix string) *MarkerStore {
	return &MarkerStore{client: client, prefix: prefix}
}

// Get returns the last marker for key, nil when absent or expired
func (m *MarkerStore) Get(ctx context.Context, key string) (*time.Time, error) {
	ms, err := m.client.rdb.Get(ctx, m.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rate-limit marker: %w", err)
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}

// Set records a marker that expires after ttl
func (m *MarkerStore) Set(ctx context.Context, key string, t time.Time, ttl time.Duration) error {
	return m.client.rdb.Set(ctx, m.prefix+key, t.UnixMilli(), ttl).Err()
}

package api

import (
	"context"
	"time"

	"storefront-orders/internal/models"
	"storefront-orders/internal/util"

	"go.uber.org/zap"
)

type sessionCache interface {
	GetSession(ctx context.Context, token string) (*models.Identity, error)
	SetSession(ctx context.Context, token string, identity *models.Identity, ttl time.Duration) error
}

type sessionBackend interface {
	ResolveSession(ctx context.Context, token string) (*models.Identity, error)
}

// IdentityResolver turns a bearer token into an identity, consulting the
// Redis session cache before the commerce backend
type IdentityResolver struct {
	cache   sessionCache
	backend sessionBackend
	ttl     time.Duration
}

// NewIdentityResolver creates a resolver; cache may be nil
func NewIdentityResolver(cache sessionCache, backend sessionBackend, ttl time.Duration) *IdentityResolver {
	return &IdentityResolver{cache: cache, backend: backend, ttl: ttl}
}

// Resolve returns the identity behind token
func (r *IdentityResolver) Resolve(ctx context.Context, token string) (*models.Identity, error) {
	ctx, span := util.StartSpan(ctx, "IdentityResolver.Resolve")
	defer span.End()

	if r.cache != nil {
		identity, err := r.cache.GetSession(ctx, token)
		if err != nil {
			util.LoggerFrom(ctx).Warn("Session cache unavailable", zap.Error(err))
		} else if identity != nil {
			return identity, nil
		}
	}

	identity, err := r.backend.ResolveSession(ctx, token)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	if r.cache != nil && r.ttl > 0 {
		if err := r.cache.SetSession(ctx, token, identity, r.ttl); err != nil {
			util.LoggerFrom(ctx).Warn("Failed to cache session", zap.Error(err))
		}
	}
	return identity, nil
}

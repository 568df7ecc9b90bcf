package api

import (
	"context"
	"testing"
	"time"

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/models"
	"storefront-orders/internal/redisclient"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingBackend struct{ calls int }

func (b *countingBackend) ResolveSession(_ context.Context, token string) (*models.Identity, error) {
	b.calls++
	if token != "valid" {
		return nil, apperror.New(apperror.KindUnauthorized, "session is invalid or expired")
	}
	return &models.Identity{CustomerID: "cust-1", Email: "ada@example.com", Role: models.RoleCustomer}, nil
}

func TestIdentityResolverCachesSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer client.Close()

	backend := &countingBackend{}
	resolver := NewIdentityResolver(client, backend, time.Minute)
	ctx := context.Background()

	identity, err := resolver.Resolve(ctx, "valid")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", identity.CustomerID)

	identity, err = resolver.Resolve(ctx, "valid")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", identity.Email)
	assert.Equal(t, 1, backend.calls)

	mr.FastForward(2 * time.Minute)
	_, err = resolver.Resolve(ctx, "valid")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.calls)

	_, err = resolver.Resolve(ctx, "bogus")
	assert.True(t, apperror.IsKind(err, apperror.KindUnauthorized))
}

func TestIdentityResolverWithoutCache(t *testing.T) {
	backend := &countingBackend{}
	resolver := NewIdentityResolver(nil, backend, time.Minute)

	_, err := resolver.Resolve(context.Background(), "valid")
	require.NoError(t, err)
	_, err = resolver.Resolve(context.Background(), "valid")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.calls)
}

package api

import (
	"context"
	"time"

	"github.com/zjrosen/relay/internal/cachemanager"
	"github.com/zjrosen/relay/internal/orchestration/client"
)

// NewAvailabilityCache checks provider binaries through a short-lived
// cache so status polling does not walk PATH on every request.
func NewAvailabilityCache(
	providers map[client.ClientType]client.ProviderConfig,
	ttl time.Duration,
) *cachemanager.ReadThroughCache[client.ClientType, client.Availability] {
	cache := cachemanager.NewInMemoryCacheManager[client.ClientType, client.Availability](
		"provider-availability", ttl, cachemanager.DefaultCleanupInterval)

	return cachemanager.NewReadThroughCache[client.ClientType, client.Availability](cache, ttl,
		func(_ context.Context, t client.ClientType) (client.Availability, error) {
			p, err := client.NewProvider(t, providers[t])
			if err != nil {
				return client.Availability{}, err
			}
			return client.CheckAvailable(p), nil
		})
}

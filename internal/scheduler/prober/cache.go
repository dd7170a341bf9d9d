package prober

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ft54482/owl-workshop/internal/scheduler/domain"
)

// CachedProber memoizes probe results per worker for a short TTL, so a
// burst of allocation attempts does not re-probe the same worker. The
// monitor loop should keep using the raw prober underneath.
type CachedProber struct {
	inner Prober
	cache *gocache.Cache
}

func NewCachedProber(inner Prober, ttl time.Duration) *CachedProber {
	return &CachedProber{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (p *CachedProber) Probe(ctx context.Context, worker *domain.Worker) bool {
	if cached, ok := p.cache.Get(worker.ID); ok {
		return cached.(bool)
	}
	reachable := p.inner.Probe(ctx, worker)
	p.cache.SetDefault(worker.ID, reachable)
	return reachable
}

// Package resolver serves the redirect hot path: cache first, then the
// link store behind a circuit breaker. Resolution never waits on click
// recording.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cliply/cliply/internal/links"
	"github.com/cliply/cliply/internal/metrics"
	"github.com/cliply/cliply/pkg/circuitbreaker"
)

// Cache is the read-through cache keyed by short identifier.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Store is the subset of the link repository the resolver needs.
type Store interface {
	GetByID(ctx context.Context, id string) (*links.Link, error)
}

type Resolver struct {
	store   Store
	cache   Cache
	breaker *circuitbreaker.CircuitBreaker

	cacheTTL      time.Duration
	lookupTimeout time.Duration
}

func New(store Store, cache Cache, cacheTTL time.Duration) *Resolver {
	return &Resolver{
		store:         store,
		cache:         cache,
		breaker:       circuitbreaker.New(5, 10*time.Second),
		cacheTTL:      cacheTTL,
		lookupTimeout: 500 * time.Millisecond,
	}
}

// Resolve returns the destination URL for a short identifier. A transient
// store failure is retried once with a short timeout before a generic
// failure surfaces; cache failures degrade to store lookups.
func (r *Resolver) Resolve(ctx context.Context, id string) (string, error) {
	dest, ok, err := r.cache.Get(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("id", id).Msg("cache get failed")
	} else if ok {
		metrics.CacheHit.Inc()
		return dest, nil
	}
	metrics.CacheMiss.Inc()

	link, err := r.lookup(ctx, id)
	if err != nil && errors.Is(err, links.ErrStorageUnavailable) {
		link, err = r.lookup(ctx, id)
	}
	if err != nil {
		return "", err
	}

	if err := r.cache.Set(ctx, id, link.Destination, r.cacheTTL); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("cache set failed")
	}
	return link.Destination, nil
}

// Invalidate drops an identifier from the cache. Called on delete so the
// removed link stops resolving.
func (r *Resolver) Invalidate(ctx context.Context, id string) {
	if err := r.cache.Delete(ctx, id); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("cache invalidate failed")
	}
}

func (r *Resolver) lookup(ctx context.Context, id string) (*links.Link, error) {
	var link *links.Link
	err := r.breaker.Call(func() error {
		cctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
		defer cancel()

		l, err := r.store.GetByID(cctx, id)
		if err != nil {
			// A miss is an answer, not a store failure
			if errors.Is(err, links.ErrNotFound) {
				link = nil
				return nil
			}
			return err
		}
		link = l
		return nil
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return nil, fmt.Errorf("lookup %s: %w", id, links.ErrStorageUnavailable)
		}
		return nil, err
	}
	if link == nil {
		return nil, links.ErrNotFound
	}
	return link, nil
}

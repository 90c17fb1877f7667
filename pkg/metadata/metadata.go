// Package metadata implements the metadata memoizer (C9): a lazy,
// per-entity cache of attribute/relationship/option-set descriptors
// backed by a fixed-size LRU, with single-flight coalescing so
// concurrent callers asking about the same entity share one
// metadata-service round trip.
package metadata

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/solventis/dataverse-access-core/pkg/contracts"
	"github.com/solventis/dataverse-access-core/pkg/metrics"
)

const defaultCacheSize = 256

// Fetcher retrieves an entity's descriptor from the Service. Supplied
// by the transport adapter; the memoizer never talks to the Service
// wire format itself.
type Fetcher func(ctx context.Context, logicalName string) (*contracts.EntityDescriptor, error)

// Memoizer is the concrete MetadataService implementation.
type Memoizer struct {
	fetch   Fetcher
	cache   *lru.Cache[string, *contracts.EntityDescriptor]
	flight  singleflight.Group
	metrics *metrics.SqlMetrics
}

var _ contracts.MetadataService = (*Memoizer)(nil)

// New builds a Memoizer with the given cache capacity (0 uses the
// default). fetch is called at most once per entity per cache
// generation, even under concurrent callers.
func New(fetch Fetcher, cacheSize int, m *metrics.SqlMetrics) *Memoizer {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, *contracts.EntityDescriptor](cacheSize)
	if err != nil {
		// Only non-nil for a non-positive size, already guarded above.
		panic(fmt.Sprintf("metadata: invalid cache size %d: %v", cacheSize, err))
	}
	return &Memoizer{fetch: fetch, cache: cache, metrics: m}
}

// Entity returns the cached descriptor for logicalName, fetching and
// populating the cache on a miss.
func (m *Memoizer) Entity(ctx context.Context, logicalName string) (*contracts.EntityDescriptor, error) {
	if desc, ok := m.cache.Get(logicalName); ok {
		m.recordCache("hit")
		return desc, nil
	}
	m.recordCache("miss")

	v, err, _ := m.flight.Do(logicalName, func() (any, error) {
		desc, err := m.fetch(ctx, logicalName)
		if err != nil {
			return nil, err
		}
		m.cache.Add(logicalName, desc)
		return desc, nil
	})
	if err != nil {
		return nil, contracts.WrapError(contracts.CodeNotFound, "metadata lookup failed for "+logicalName, err)
	}
	return v.(*contracts.EntityDescriptor), nil
}

// Attribute returns one attribute descriptor from the owning entity's
// cached metadata.
func (m *Memoizer) Attribute(ctx context.Context, entityLogicalName, attrName string) (*contracts.AttributeDescriptor, error) {
	entity, err := m.Entity(ctx, entityLogicalName)
	if err != nil {
		return nil, err
	}
	attr, ok := entity.Attributes[attrName]
	if !ok {
		return nil, contracts.NewError(contracts.CodeNotFound, "unknown attribute "+attrName+" on "+entityLogicalName)
	}
	return &attr, nil
}

// InvalidateAll drops every cached entity descriptor.
func (m *Memoizer) InvalidateAll() {
	m.cache.Purge()
}

// InvalidateEntity drops one entity's cached descriptor, forcing the
// next Entity call to re-fetch it.
func (m *Memoizer) InvalidateEntity(logicalName string) {
	m.cache.Remove(logicalName)
}

func (m *Memoizer) recordCache(result string) {
	if m.metrics == nil {
		return
	}
	m.metrics.MetadataCacheHit.WithLabelValues(result).Inc()
}

// Package hotcache implements spec.md §4.4's hot byte cache: a Redis-backed
// cache of canonical document bytes and ETags, keyed by entity type and id,
// sitting in front of the authoritative store on the read fast path. It
// also keeps a parallel, element-level sub-key scheme for submodel-element
// sub-resource reads, indexed per submodel so a whole-submodel write can
// invalidate every cached element without a cluster-wide key scan.
package hotcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultTTL bounds how long a cache entry survives without an explicit
// invalidation, guarding against a missed invalidation message leaving a
// stale entry alive indefinitely.
const DefaultTTL = 10 * time.Minute

// Entry is the cached projection of a store.Record: just enough to answer
// a fast-path GET without touching the authoritative store.
type Entry struct {
	DocBytes []byte
	ETag     string
}

// Cache wraps a Redis client with the key schema and Get/Set/Invalidate
// operations spec.md §4.4 requires.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps rdb with ttl (DefaultTTL if zero).
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func key(entityType, id string) string {
	return fmt.Sprintf("titan:hot:%s:%s", entityType, id)
}

func elementKey(submodelID, idShortPath string) string {
	return fmt.Sprintf("titan:hot:submodel:%s:element:%s", submodelID, idShortPath)
}

func elementIndexKey(submodelID string) string {
	return fmt.Sprintf("titan:hot:submodel:%s:element-index", submodelID)
}

// Get returns the cached entry for entityType/id, or found=false on a
// cache miss. A Redis error is reported rather than silently treated as a
// miss, so callers can distinguish "fall through to the store" (miss)
// from "the cache itself is degraded" (error), per spec.md §4.4's
// requirement that cache failures never silently serve stale data.
func (c *Cache) Get(ctx context.Context, entityType, id string) (*Entry, bool, error) {
	return c.getHash(ctx, key(entityType, id))
}

// Set stores entityType/id's current bytes and etag, refreshing the TTL.
func (c *Cache) Set(ctx context.Context, entityType, id string, entry Entry) error {
	return c.setHash(ctx, key(entityType, id), entry)
}

// Invalidate drops entityType/id's cache entry, called both on local
// writes and on receipt of a remote internal/invalidation message.
func (c *Cache) Invalidate(ctx context.Context, entityType, id string) error {
	if err := c.rdb.Del(ctx, key(entityType, id)).Err(); err != nil {
		return fmt.Errorf("hotcache: invalidate: %w", err)
	}
	return nil
}

// GetElement returns the cached entry for one submodel-element sub-resource
// (submodelID, idShortPath), or found=false on a miss.
func (c *Cache) GetElement(ctx context.Context, submodelID, idShortPath string) (*Entry, bool, error) {
	return c.getHash(ctx, elementKey(submodelID, idShortPath))
}

// SetElement stores the rendered bytes for one element sub-resource and
// records idShortPath in submodelID's element index, so
// InvalidateSubmodelElements can find it later without a key scan.
func (c *Cache) SetElement(ctx context.Context, submodelID, idShortPath string, entry Entry) error {
	k := elementKey(submodelID, idShortPath)
	idx := elementIndexKey(submodelID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, k, "doc", entry.DocBytes, "etag", entry.ETag)
	pipe.Expire(ctx, k, c.ttl)
	pipe.SAdd(ctx, idx, idShortPath)
	pipe.Expire(ctx, idx, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hotcache: set element: %w", err)
	}
	return nil
}

// InvalidateElement drops the cache entry for a single element sub-resource.
func (c *Cache) InvalidateElement(ctx context.Context, submodelID, idShortPath string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, elementKey(submodelID, idShortPath))
	pipe.SRem(ctx, elementIndexKey(submodelID), idShortPath)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hotcache: invalidate element: %w", err)
	}
	return nil
}

// InvalidateSubmodelElements drops every cached element sub-key recorded
// against submodelID's element index (spec.md §4.4's
// invalidate_submodel_elements operation), called whenever a whole-submodel
// write may have touched elements the per-element cache still holds stale
// copies of.
func (c *Cache) InvalidateSubmodelElements(ctx context.Context, submodelID string) error {
	idx := elementIndexKey(submodelID)
	paths, err := c.rdb.SMembers(ctx, idx).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("hotcache: invalidate submodel elements: %w", err)
	}
	keys := make([]string, 0, len(paths)+1)
	for _, p := range paths {
		keys = append(keys, elementKey(submodelID, p))
	}
	keys = append(keys, idx)
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("hotcache: invalidate submodel elements: %w", err)
	}
	return nil
}

// InvalidateAll drops every hot cache entry this instance holds, entity and
// element alike. Used when the invalidation bus delivers an "all" scope
// message (invalidation.Bus.PublishAll).
func (c *Cache) InvalidateAll(ctx context.Context) error {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, "titan:hot:*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("hotcache: invalidate all: scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("hotcache: invalidate all: %w", err)
	}
	return nil
}

func (c *Cache) getHash(ctx context.Context, k string) (*Entry, bool, error) {
	vals, err := c.rdb.HGetAll(ctx, k).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("hotcache: get: %w", err)
	}
	if len(vals) == 0 {
		return nil, false, nil
	}
	return &Entry{DocBytes: []byte(vals["doc"]), ETag: vals["etag"]}, true, nil
}

func (c *Cache) setHash(ctx context.Context, k string, entry Entry) error {
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, k, "doc", entry.DocBytes, "etag", entry.ETag)
	pipe.Expire(ctx, k, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hotcache: set: %w", err)
	}
	return nil
}

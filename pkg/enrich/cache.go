package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheTTL = 24 * time.Hour

// CachedCallerName wraps a CallerNameService with a Redis read-through
// cache. CNAM records change rarely; a day of staleness is acceptable.
type CachedCallerName struct {
	inner  CallerNameService
	client *redis.Client
}

func NewCachedCallerName(inner CallerNameService, client *redis.Client) *CachedCallerName {
	return &CachedCallerName{inner: inner, client: client}
}

func (c *CachedCallerName) Lookup(ctx context.Context, tenantID, number string) (*CallerName, error) {
	key := "callflow:cnam:" + number

	var cached CallerName

	if ok, err := cacheGet(ctx, c.client, key, &cached); err == nil && ok {
		return &cached, nil
	}

	record, err := c.inner.Lookup(ctx, tenantID, number)
	if err != nil || record == nil {
		return record, err
	}

	cacheSet(ctx, c.client, key, record)

	return record, nil
}

// CachedCarrier wraps a CarrierService the same way.
type CachedCarrier struct {
	inner  CarrierService
	client *redis.Client
}

func NewCachedCarrier(inner CarrierService, client *redis.Client) *CachedCarrier {
	return &CachedCarrier{inner: inner, client: client}
}

func (c *CachedCarrier) Lookup(ctx context.Context, tenantID, number string) (*Carrier, error) {
	key := "callflow:carrier:" + number

	var cached Carrier

	if ok, err := cacheGet(ctx, c.client, key, &cached); err == nil && ok {
		return &cached, nil
	}

	record, err := c.inner.Lookup(ctx, tenantID, number)
	if err != nil || record == nil {
		return record, err
	}

	cacheSet(ctx, c.client, key, record)

	return record, nil
}

func cacheGet(ctx context.Context, client *redis.Client, key string, out any) (bool, error) {
	payload, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return false, err
	}

	return true, nil
}

func cacheSet(ctx context.Context, client *redis.Client, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}

	// cache write failures are invisible: the next lookup just misses
	client.Set(ctx, key, payload, cacheTTL)
}

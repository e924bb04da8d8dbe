// Package cache adds a Redis read-aside layer in front of any DeviceStore.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
)

// CacheClient is the subset of Redis operations the decorator needs.
type CacheClient interface {
	// Get decodes the value into dest, or returns an error on a miss.
	Get(ctx context.Context, key string, dest any) error
	// MGet returns one raw JSON entry per key, nil for misses.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// CachedDeviceStore serves reads from the cache when it can and invalidates on
// every write, so a change of subscription or token takes effect immediately.
type CachedDeviceStore struct {
	realStore dispatch.DeviceStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedDeviceStore(realStore dispatch.DeviceStore, cache CacheClient, ttl time.Duration) *CachedDeviceStore {
	return &CachedDeviceStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- Reads ---

func (s *CachedDeviceStore) Get(ctx context.Context, playerID string) (*dispatch.Device, error) {
	key := cacheKey(playerID)

	var cached dispatch.Device
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.Get(ctx, playerID)
	if err != nil {
		return nil, err
	}
	// Caching is best effort; a Redis outage degrades to store reads.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

func (s *CachedDeviceStore) GetMany(ctx context.Context, playerIDs []string) (map[string]*dispatch.Device, error) {
	found := make(map[string]*dispatch.Device, len(playerIDs))
	if len(playerIDs) == 0 {
		return found, nil
	}

	keys := make([]string, len(playerIDs))
	for i, id := range playerIDs {
		keys[i] = cacheKey(id)
	}

	misses := playerIDs
	if raw, err := s.cache.MGet(ctx, keys...); err == nil && len(raw) == len(playerIDs) {
		misses = nil
		for i, entry := range raw {
			var d dispatch.Device
			if entry == nil || json.Unmarshal(entry, &d) != nil {
				misses = append(misses, playerIDs[i])
				continue
			}
			found[playerIDs[i]] = &d
		}
	}
	if len(misses) == 0 {
		return found, nil
	}

	fresh, err := s.realStore.GetMany(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, d := range fresh {
		found[id] = d
		_ = s.cache.Set(ctx, cacheKey(id), d, s.ttl)
	}
	return found, nil
}

// --- Writes ---

func (s *CachedDeviceStore) Save(ctx context.Context, device *dispatch.Device) error {
	if err := s.realStore.Save(ctx, device); err != nil {
		return err
	}
	return s.invalidate(ctx, device.PlayerID)
}

func (s *CachedDeviceStore) Delete(ctx context.Context, playerID string) error {
	if err := s.realStore.Delete(ctx, playerID); err != nil {
		return err
	}
	return s.invalidate(ctx, playerID)
}

func (s *CachedDeviceStore) invalidate(ctx context.Context, playerID string) error {
	if err := s.cache.Del(ctx, cacheKey(playerID)); err != nil {
		return errors.Join(errors.New("device saved but cache invalidation failed"), err)
	}
	return nil
}

func cacheKey(playerID string) string {
	return "push:device:" + playerID
}

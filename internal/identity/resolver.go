package identity

import (
	"context"

	"go.uber.org/zap"
)

// ResolvedPair is one (device_uuid, sensor_uuid, sensor_id) tuple, as
// returned by Q-RESOLVE-BATCH.
type ResolvedPair struct {
	DeviceUUID string
	SensorUUID string
	SensorID   int64
}

// Repository is the persistence contract the resolver needs: Q-RESOLVE and
// Q-RESOLVE-BATCH. Implemented by internal/repository.Repository; declared
// locally to avoid a dependency cycle.
type Repository interface {
	ResolveSensorID(ctx context.Context, deviceUUID, sensorUUID string) (int64, bool, error)
	ResolveSensorIDBatch(ctx context.Context, pairs []Key) ([]ResolvedPair, error)
}

// Resolver translates (device_uuid, sensor_uuid) pairs to internal sensor
// ids, consulting the bounded cache before falling back to persistence.
type Resolver struct {
	cache *Cache
	repo  Repository
	log   *zap.SugaredLogger
}

func NewResolver(cache *Cache, repo Repository, log *zap.SugaredLogger) *Resolver {
	return &Resolver{cache: cache, repo: repo, log: log}
}

// Resolve returns the sensor id for a single pair, or ok=false if no sensor
// matches.
func (r *Resolver) Resolve(ctx context.Context, deviceUUID, sensorUUID string) (int64, bool, error) {
	key := NormalizeKey(deviceUUID, sensorUUID)
	if id, hit := r.cache.Get(key); hit {
		return id, true, nil
	}

	id, found, err := r.repo.ResolveSensorID(ctx, key.DeviceUUID, key.SensorUUID)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}
	r.cache.Put(key, id)
	return id, true, nil
}

// ResolveBatch partitions pairs into cache hits and misses, issues a single
// batch query for the misses, and falls back to per-key resolution if the
// batch query fails.
func (r *Resolver) ResolveBatch(ctx context.Context, pairs []Key) (map[Key]int64, error) {
	result := make(map[Key]int64, len(pairs))
	var misses []Key

	for _, p := range pairs {
		key := NormalizeKey(p.DeviceUUID, p.SensorUUID)
		if id, hit := r.cache.Get(key); hit {
			result[key] = id
			continue
		}
		misses = append(misses, key)
	}

	if len(misses) == 0 {
		return result, nil
	}

	resolved, err := r.repo.ResolveSensorIDBatch(ctx, misses)
	if err != nil {
		if r.log != nil {
			r.log.Warnw("batch resolve failed, falling back to per-key resolution", "error", err, "miss_count", len(misses))
		}
		for _, key := range misses {
			id, found, err := r.repo.ResolveSensorID(ctx, key.DeviceUUID, key.SensorUUID)
			if err != nil || !found {
				continue
			}
			r.cache.Put(key, id)
			result[key] = id
		}
		return result, nil
	}

	for _, pair := range resolved {
		key := NormalizeKey(pair.DeviceUUID, pair.SensorUUID)
		r.cache.Put(key, pair.SensorID)
		result[key] = pair.SensorID
	}
	return result, nil
}

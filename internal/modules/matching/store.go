// README: Matching store backed by Redis GEO; implements the pending request index.
package matching

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"errand/internal/types"
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) Add(ctx context.Context, id types.ID, serviceType string, at types.Point) error {
	return s.redis.GeoAdd(ctx, pendingKey(serviceType), &redis.GeoLocation{
		Name:      string(id),
		Longitude: at.Lng,
		Latitude:  at.Lat,
	}).Err()
}

func (s *Store) Remove(ctx context.Context, id types.ID, serviceType string) error {
	return s.redis.ZRem(ctx, pendingKey(serviceType), string(id)).Err()
}

// Reset drops the index for the given service types.
func (s *Store) Reset(ctx context.Context, serviceTypes []string) error {
	if len(serviceTypes) == 0 {
		return nil
	}
	keys := make([]string, len(serviceTypes))
	for i, st := range serviceTypes {
		keys[i] = pendingKey(st)
	}
	return s.redis.Del(ctx, keys...).Err()
}

func (s *Store) Nearby(ctx context.Context, serviceTypes []string, at types.Point, radiusKm float64, limit int) ([]types.ID, error) {
	hits, err := s.NearbyHits(ctx, serviceTypes, at, radiusKm, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids, nil
}

// NearbyHits searches every service type in one pipeline and merges the
// results nearest first.
func (s *Store) NearbyHits(ctx context.Context, serviceTypes []string, at types.Point, radiusKm float64, limit int) ([]Hit, error) {
	pipe := s.redis.Pipeline()
	cmds := make([]*redis.GeoSearchLocationCmd, len(serviceTypes))
	for i, st := range serviceTypes {
		cmds[i] = pipe.GeoSearchLocation(ctx, pendingKey(st), &redis.GeoSearchLocationQuery{
			GeoSearchQuery: redis.GeoSearchQuery{
				Longitude:  at.Lng,
				Latitude:   at.Lat,
				Radius:     radiusKm,
				RadiusUnit: "km",
				Sort:       "ASC",
				Count:      limit,
			},
			WithDist: true,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("matching: geo search: %w", err)
	}

	lists := make([][]Hit, 0, len(cmds))
	for _, cmd := range cmds {
		locs, err := cmd.Result()
		if err != nil && err != redis.Nil {
			return nil, err
		}
		hits := make([]Hit, len(locs))
		for i, l := range locs {
			hits[i] = Hit{ID: types.ID(l.Name), DistanceKm: l.Dist}
		}
		lists = append(lists, hits)
	}
	return mergeHits(lists, limit), nil
}

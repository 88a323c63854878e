// README: Geo index of pending requests, one Redis GEO set per service type.
package matching

import (
	"sort"

	"errand/internal/types"
)

const pendingKeyPrefix = "pending_requests:"

func pendingKey(serviceType string) string {
	return pendingKeyPrefix + serviceType
}

// Hit is one index member with its distance from the search centre.
type Hit struct {
	ID         types.ID
	DistanceKm float64
}

// mergeHits merges per-type result lists into one list ordered by distance,
// dropping duplicate ids and truncating to limit.
func mergeHits(lists [][]Hit, limit int) []Hit {
	seen := make(map[types.ID]struct{})
	var out []Hit
	for _, l := range lists {
		for _, h := range l {
			if _, ok := seen[h.ID]; ok {
				continue
			}
			seen[h.ID] = struct{}{}
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

package matching

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"

	"errand/internal/types"
)

func TestMergeHitsOrdersByDistance(t *testing.T) {
	got := mergeHits([][]Hit{
		{{ID: "a", DistanceKm: 0.4}, {ID: "c", DistanceKm: 2.1}},
		{{ID: "b", DistanceKm: 1.2}, {ID: "a", DistanceKm: 0.4}},
	}, 0)
	want := []types.ID{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d hits, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("hit %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestMergeHitsLimit(t *testing.T) {
	got := mergeHits([][]Hit{
		{{ID: "a", DistanceKm: 3}, {ID: "b", DistanceKm: 1}},
		{{ID: "c", DistanceKm: 2}},
	}, 2)
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("unexpected hits %+v", got)
	}
}

// Integration test; set ERRAND_TEST_REDIS_ADDR to run it.
func TestStoreNearby(t *testing.T) {
	addr := os.Getenv("ERRAND_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ERRAND_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	store := NewStore(client)
	if err := store.Reset(ctx, []string{"ride", "delivery"}); err != nil {
		t.Fatalf("reset: %v", err)
	}

	centre := types.Point{Lat: 13.7563, Lng: 100.5018}
	mustAdd := func(id types.ID, st string, p types.Point) {
		t.Helper()
		if err := store.Add(ctx, id, st, p); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	mustAdd("near-ride", "ride", types.Point{Lat: 13.7570, Lng: 100.5020})
	mustAdd("mid-delivery", "delivery", types.Point{Lat: 13.7650, Lng: 100.5100})
	mustAdd("far-ride", "ride", types.Point{Lat: 14.3500, Lng: 100.5600})

	ids, err := store.Nearby(ctx, []string{"ride", "delivery"}, centre, 5, 10)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(ids) != 2 || ids[0] != "near-ride" || ids[1] != "mid-delivery" {
		t.Fatalf("unexpected ids %v", ids)
	}

	if err := store.Remove(ctx, "near-ride", "ride"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ids, err = store.Nearby(ctx, []string{"ride"}, centre, 5, 10)
	if err != nil {
		t.Fatalf("nearby after remove: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no ride hits, got %v", ids)
	}
}

package tracking

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGenerateFormat(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC) }
	g := NewGenerator(WithClock(clock), WithRandom(bytes.NewReader([]byte{0, 1, 31, 32, 63, 200})))

	id, err := g.Generate("RID")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// 0->0, 1->1, 31->Z, 32&31=0->0, 63&31=31->Z, 200&31=8->8
	if id != "RID-260309-01Z0Z8" {
		t.Fatalf("unexpected id %q", id)
	}
	if !Valid(id) {
		t.Fatalf("generated id %q does not validate", id)
	}
}

func TestGenerateUsesLocation(t *testing.T) {
	bangkok := time.FixedZone("ICT", 7*3600)
	clock := func() time.Time { return time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC) }
	g := NewGenerator(WithClock(clock), WithLocation(bangkok))

	id, err := g.Generate("DEL")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(id, "DEL-260310-") {
		t.Fatalf("expected next-day date in ICT, got %q", id)
	}
}

func TestGenerateRejectsBadPrefix(t *testing.T) {
	g := NewGenerator()
	if _, err := g.Generate("RIDE"); !errors.Is(err, ErrUnknownPrefix) {
		t.Fatalf("expected ErrUnknownPrefix, got %v", err)
	}
}

func TestGenerateRandomReaderFailure(t *testing.T) {
	g := NewGenerator(WithRandom(bytes.NewReader(nil)))
	if _, err := g.Generate("SHP"); err == nil {
		t.Fatal("expected error from exhausted random reader")
	}
}

func TestGenerateDistinct(t *testing.T) {
	g := NewGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id, err := g.Generate("QUE")
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !Valid(id) {
			t.Fatalf("invalid id %q", id)
		}
		seen[id] = true
	}
	// 30 bits of entropy per day; 200 draws colliding would indicate a broken reader.
	if len(seen) < 199 {
		t.Fatalf("too many collisions: %d distinct of 200", len(seen))
	}
}

func TestValid(t *testing.T) {
	cases := map[string]bool{
		"RID-260309-01Z0Z8": true,
		"RID-260309-01Z0Z":  false,
		"RID-26O309-01Z0Z8": false,
		"RID-260309-01Z0ZI": false,
		"RID_260309-01Z0Z8": false,
	}
	for id, want := range cases {
		if got := Valid(id); got != want {
			t.Errorf("Valid(%q) = %v, want %v", id, got, want)
		}
	}
}

// README: Human-readable tracking IDs: <PREFIX>-<YYMMDD>-<6 Crockford base32 chars>.
package tracking

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"
)

// crockford is Crockford's base32 alphabet (no I, L, O, U).
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const suffixLen = 6

// ErrTrackingIDTaken is returned by stores when the unique index rejects a generated id.
// Callers regenerate and retry.
var ErrTrackingIDTaken = errors.New("tracking id already taken")

var ErrUnknownPrefix = errors.New("unknown service type prefix")

type Generator struct {
	now    func() time.Time
	random io.Reader
	loc    *time.Location
}

type Option func(*Generator)

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func WithRandom(r io.Reader) Option {
	return func(g *Generator) { g.random = r }
}

// WithLocation sets the zone used for the date segment. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(g *Generator) { g.loc = loc }
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{now: time.Now, random: rand.Reader, loc: time.UTC}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a fresh id for the given three-letter prefix.
func (g *Generator) Generate(prefix string) (string, error) {
	if len(prefix) != 3 {
		return "", fmt.Errorf("%w: %q", ErrUnknownPrefix, prefix)
	}
	var buf [suffixLen]byte
	if _, err := io.ReadFull(g.random, buf[:]); err != nil {
		return "", fmt.Errorf("tracking: read random: %w", err)
	}
	suffix := make([]byte, suffixLen)
	for i, b := range buf {
		suffix[i] = crockford[b&0x1f]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, g.now().In(g.loc).Format("060102"), suffix), nil
}

// Valid reports whether id has the tracking id shape.
func Valid(id string) bool {
	if len(id) != 3+1+6+1+suffixLen || id[3] != '-' || id[10] != '-' {
		return false
	}
	for _, c := range id[4:10] {
		if c < '0' || c > '9' {
			return false
		}
	}
	for _, c := range id[11:] {
		if !isCrockford(byte(c)) {
			return false
		}
	}
	return true
}

func isCrockford(c byte) bool {
	for i := 0; i < len(crockford); i++ {
		if crockford[i] == c {
			return true
		}
	}
	return false
}

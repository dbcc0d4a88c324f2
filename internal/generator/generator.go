// Package generator produces a population of independent synthetic
// transactions from the samplers in the distribution package.
package generator

import (
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/spendguard/internal/distribution"
	"github.com/opensource-finance/spendguard/internal/domain"
)

// MaxDistance caps the km travelled between two purchases.
const MaxDistance = 25.0

// Record is a generated transaction plus the movement draws behind it.
type Record struct {
	domain.Transaction

	Mode      distribution.TransportMode `json:"mode"`
	ModeSpeed float64                    `json:"modeSpeed"` // km/min
}

// Generator draws records from a single seedable source.
// It is not safe for concurrent use.
type Generator struct {
	rng *rand.Rand
	now func() time.Time
	loc *time.Location
}

// Option configures a Generator.
type Option func(*Generator)

// WithSeed makes the output reproducible.
func WithSeed(seed int64) Option {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewSource(seed))
	}
}

// WithClock overrides the reference time used for recent dates.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// WithLocation sets the zone wall-clock hours are generated in.
func WithLocation(loc *time.Location) Option {
	return func(g *Generator) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// New creates a Generator. Without WithSeed the source is seeded from the clock.
func New(opts ...Option) *Generator {
	g := &Generator{
		now: time.Now,
		loc: time.Local,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return g
}

// Next draws one record.
func (g *Generator) Next() Record {
	r := g.rng

	vc := distribution.SampleVendorCategory(r)

	date := distribution.SampleRecentDate(r, g.now().In(g.loc))
	ts, hour := wallClock(r, date, g.loc)

	gap := distribution.SampleGapMinutes(r)
	mode := distribution.SampleTransportMode(r)
	speed := distribution.SampleSpeedForMode(r, mode)
	distance := math.Min(speed*gap, MaxDistance)

	amount := distribution.SampleAmount(r, vc.Category, hour)

	return Record{
		Transaction: domain.Transaction{
			ID:               uuid.Must(uuid.NewRandomFromReader(r)).String(),
			Amount:           amount,
			Timestamp:        ts,
			Category:         vc.Category,
			Vendor:           vc.Vendor,
			DistanceFromLast: distance,
			TimeSinceLast:    gap,
		},
		Mode:      mode,
		ModeSpeed: speed,
	}
}

// maxWallClockDraws bounds the redraws for a day with no valid hours.
const maxWallClockDraws = 32

// wallClock draws a time of day on date in loc and returns it with the
// hour it actually lands on. Wall-clock hours skipped by a DST transition
// are redrawn.
func wallClock(r *rand.Rand, date time.Time, loc *time.Location) (time.Time, int) {
	var ts time.Time
	for i := 0; i < maxWallClockDraws; i++ {
		hour, minute := distribution.SampleHourMinute(r, date.Weekday())
		ts = time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc)
		if ts.Hour() == hour {
			return ts, hour
		}
	}
	return ts, ts.Hour()
}

// Generate draws n records. A non-positive n yields an empty slice.
func (g *Generator) Generate(n int) []Record {
	if n <= 0 {
		return []Record{}
	}
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.Next())
	}
	return out
}

// Transactions strips the movement draws.
func Transactions(records []Record) []domain.Transaction {
	out := make([]domain.Transaction, len(records))
	for i := range records {
		out[i] = records[i].Transaction
	}
	return out
}

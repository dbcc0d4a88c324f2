// Package distribution holds the conditional samplers behind the synthetic
// transaction generator. Every sampler is pure: it reads only its arguments
// and the random source it is handed.
package distribution

import (
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

// VendorCategory is one entry of the vendor catalog.
type VendorCategory struct {
	Vendor   string
	Category string
}

// Categories
const (
	CategoryTransport     = "Transport"
	CategoryRetail        = "Retail"
	CategoryFood          = "Food"
	CategoryEducation     = "Education"
	CategoryBooks         = "Books"
	CategoryEntertainment = "Entertainment"
	CategoryFitness       = "Fitness"
	CategoryUtilities     = "Utilities"
	CategoryBills         = "Bills"
	CategoryRent          = "Rent"
)

// Catalog is the fixed vendor/category enumeration.
var Catalog = []VendorCategory{
	{"Uber", CategoryTransport},
	{"Lyft", CategoryTransport},
	{"Amazon", CategoryRetail},
	{"Walmart", CategoryRetail},
	{"Starbucks", CategoryFood},
	{"Chipotle", CategoryFood},
	{"McDonald's", CategoryFood},
	{"Tuition", CategoryEducation},
	{"Campus Bookstore", CategoryBooks},
	{"Local Bar", CategoryEntertainment},
	{"Gym", CategoryFitness},
	{"Electric Company", CategoryUtilities},
	{"Water Supplier", CategoryUtilities},
	{"Internet Provider", CategoryBills},
	{"Phone Carrier", CategoryBills},
	{"Landlord", CategoryRent},
	{"Property Management", CategoryRent},
}

// Relative hour-of-day weights, normalized at init.
var (
	weekdayHourWeights = []float64{
		0.005, 0.005, 0.005, 0.005, 0.01, 0.02, 0.04, 0.08, 0.1, 0.12,
		0.13, 0.14, 0.14, 0.12, 0.08, 0.06, 0.04, 0.04, 0.04, 0.04,
		0.03, 0.02, 0.01, 0.005,
	}
	weekendHourWeights = []float64{
		0.005, 0.005, 0.005, 0.005, 0.01, 0.02, 0.04, 0.06, 0.08, 0.1,
		0.12, 0.13, 0.13, 0.1, 0.08, 0.06, 0.04, 0.04, 0.04, 0.05,
		0.05, 0.04, 0.015, 0.01,
	}

	// WeekdayHourTable and WeekendHourTable each sum to 1.0.
	WeekdayHourTable = normalize(weekdayHourWeights)
	WeekendHourTable = normalize(weekendHourWeights)
)

// amountBucket is a closed range picked with probability Weight.
type amountBucket struct {
	Min, Max float64
	Weight   float64
}

var (
	lateNightBuckets = []amountBucket{
		{1, 100, 0.9},
		{101, 300, 0.1},
	}
	daytimeBuckets = []amountBucket{
		{1, 500, 0.70},
		{501, 1000, 0.15},
		{1001, 2000, 0.10},
		{2001, 5000, 0.04},
		{5001, 12000, 0.01},
	}
	tuitionBuckets = []amountBucket{
		{5000, 8000, 0.8},   // in-state
		{15000, 25000, 0.2}, // out-of-state
	}
)

// TransportMode is how the spender moved between purchases.
type TransportMode string

const (
	Walking TransportMode = "Walking"
	Biking  TransportMode = "Biking"
	Driving TransportMode = "Driving"
)

var (
	transportModes   = []TransportMode{Walking, Biking, Driving}
	transportWeights = []float64{0.6, 0.3, 0.1}

	// per-minute speed ranges in km/min
	modeSpeeds = map[TransportMode][2]float64{
		Walking: {0.067, 0.1},
		Biking:  {0.25, 0.42},
		Driving: {0.5, 0.83},
	}
)

// Gap model constants in minutes.
const (
	ShortGapMean = 60.0
	LongGapMean  = 720.0
	MaxGap       = 1440.0
)

// RecentDays is the look-back window of SampleRecentDate.
const RecentDays = 7

// SampleVendorCategory picks a catalog entry uniformly.
func SampleVendorCategory(r *rand.Rand) VendorCategory {
	return Catalog[r.Intn(len(Catalog))]
}

// SampleHourMinute draws an hour from the weekday or Friday/Saturday table
// and a uniform minute.
func SampleHourMinute(r *rand.Rand, day time.Weekday) (hour, minute int) {
	table := WeekdayHourTable
	if day == time.Friday || day == time.Saturday {
		table = WeekendHourTable
	}
	return weightedIndex(r, table), r.Intn(60)
}

// SampleAmount draws a category- and hour-conditioned amount rounded to cents.
func SampleAmount(r *rand.Rand, category string, hour int) float64 {
	daytime := hour >= 8 && hour <= 20

	var v float64
	switch category {
	case CategoryEducation:
		if daytime {
			v = sampleBucket(r, tuitionBuckets)
		} else {
			v = uniform(r, 1, 300)
		}
	case CategoryRent:
		if daytime {
			v = uniform(r, 500, 1800)
		} else {
			v = uniform(r, 50, 300)
		}
	case CategoryUtilities, CategoryBills:
		v = uniform(r, 50, 300)
	default:
		if hour < 6 || hour > 22 {
			v = sampleBucket(r, lateNightBuckets)
		} else {
			v = sampleBucket(r, daytimeBuckets)
		}
	}

	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// SampleTransportMode picks Walking, Biking or Driving.
func SampleTransportMode(r *rand.Rand) TransportMode {
	return transportModes[weightedIndex(r, transportWeights)]
}

// SampleSpeedForMode draws a per-minute speed in km/min for the mode.
// Unknown modes fall back to walking speed.
func SampleSpeedForMode(r *rand.Rand, mode TransportMode) float64 {
	rng, ok := modeSpeeds[mode]
	if !ok {
		rng = modeSpeeds[Walking]
	}
	return uniform(r, rng[0], rng[1])
}

// SpeedRange returns the km/min bounds used for mode.
func SpeedRange(mode TransportMode) (lo, hi float64) {
	rng := modeSpeeds[mode]
	return rng[0], rng[1]
}

// SampleGapMinutes mixes a "quick successive purchase" gap with a "next day"
// gap, capped at one day and rounded to whole minutes.
func SampleGapMinutes(r *rand.Rand) float64 {
	gap := r.ExpFloat64()*ShortGapMean + r.ExpFloat64()*LongGapMean
	return math.Round(math.Min(gap, MaxGap))
}

// SampleRecentDate returns now shifted back by 0..6 whole days.
func SampleRecentDate(r *rand.Rand, now time.Time) time.Time {
	return now.AddDate(0, 0, -r.Intn(RecentDays))
}

func uniform(r *rand.Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

func sampleBucket(r *rand.Rand, buckets []amountBucket) float64 {
	weights := make([]float64, len(buckets))
	for i, b := range buckets {
		weights[i] = b.Weight
	}
	b := buckets[weightedIndex(r, weights)]
	return uniform(r, b.Min, b.Max)
}

// weightedIndex draws an index proportionally to weights.
func weightedIndex(r *rand.Rand, weights []float64) int {
	var total float64
	for _, w := range weights {
		total += w
	}

	x := r.Float64() * total
	for i, w := range weights {
		if x < w {
			return i
		}
		x -= w
	}
	return len(weights) - 1
}

func normalize(weights []float64) []float64 {
	var total float64
	for _, w := range weights {
		total += w
	}
	out := make([]float64, len(weights))
	for i, w := range weights {
		out[i] = w / total
	}
	return out
}

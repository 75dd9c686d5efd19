package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
)

// Trend directions.
const (
	TrendIncreasing   = "increasing"
	TrendDecreasing   = "decreasing"
	TrendStable       = "stable"
	TrendInsufficient = "insufficient_data"
)

// stableFraction is the share of the mean per day under which a slope is
// reported as stable.
const stableFraction = 0.01

// Point is one observation in a series.
type Point struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// Summary holds descriptive statistics of a sample.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
	P90    float64 `json:"p90"`
}

// Describe computes a Summary. StdDev is the sample standard deviation and
// is zero for fewer than two values.
func Describe(values []float64) Summary {
	n := len(values)
	if n == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mean := lo.Sum(sorted) / float64(n)
	var ss float64
	for _, v := range sorted {
		ss += (v - mean) * (v - mean)
	}
	std := 0.0
	if n > 1 {
		std = math.Sqrt(ss / float64(n-1))
	}
	return Summary{
		Count:  n,
		Mean:   mean,
		Median: percentile(sorted, 50),
		StdDev: std,
		Min:    sorted[0],
		Max:    sorted[n-1],
		P25:    percentile(sorted, 25),
		P75:    percentile(sorted, 75),
		P90:    percentile(sorted, 90),
	}
}

// percentile interpolates linearly between closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	below, above := int(math.Floor(rank)), int(math.Ceil(rank))
	frac := rank - float64(below)
	return sorted[below] + (sorted[above]-sorted[below])*frac
}

// Trend is a least-squares line through a series, x measured in days since
// the first point.
type Trend struct {
	Direction   string  `json:"direction"`
	SlopePerDay float64 `json:"slope_per_day"`
	Intercept   float64 `json:"intercept"`
	RSquared    float64 `json:"r_squared"`
	Points      int     `json:"points"`
}

// LinearTrend fits y = intercept + slope*x over points.
func LinearTrend(points []Point) Trend {
	n := len(points)
	if n < 2 {
		return Trend{Direction: TrendInsufficient, Points: n}
	}
	start := points[0].At
	for _, p := range points {
		if p.At.Before(start) {
			start = p.At
		}
	}
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range points {
		xs[i] = p.At.Sub(start).Hours() / 24
		ys[i] = p.Value
	}
	mx, my := lo.Sum(xs)/float64(n), lo.Sum(ys)/float64(n)

	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 {
		return Trend{Direction: TrendInsufficient, Points: n, Intercept: my}
	}
	slope := sxy / sxx
	t := Trend{SlopePerDay: slope, Intercept: my - slope*mx, Points: n, RSquared: 1}
	if syy > 0 {
		t.RSquared = (sxy * sxy) / (sxx * syy)
	}
	switch {
	case math.Abs(slope) < stableFraction*math.Abs(my):
		t.Direction = TrendStable
	case slope > 0:
		t.Direction = TrendIncreasing
	case slope < 0:
		t.Direction = TrendDecreasing
	default:
		t.Direction = TrendStable
	}
	return t
}

// MovingAverage returns the trailing mean over window values. The first
// window-1 entries average what is available so far.
func MovingAverage(values []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		out[i] = sum / float64(min(i+1, window))
	}
	return out
}

// DailyMean is the mean of a series over one calendar day.
type DailyMean struct {
	Day   string  `json:"day"`
	Mean  float64 `json:"mean"`
	Count int     `json:"count"`
}

// DailyMeans buckets points by UTC day, ordered by day.
func DailyMeans(points []Point) []DailyMean {
	groups := lo.GroupBy(points, func(p Point) string { return p.At.UTC().Format("2006-01-02") })
	days := lo.Keys(groups)
	sort.Strings(days)
	out := make([]DailyMean, 0, len(days))
	for _, d := range days {
		vals := lo.Map(groups[d], func(p Point, _ int) float64 { return p.Value })
		out = append(out, DailyMean{Day: d, Mean: lo.Sum(vals) / float64(len(vals)), Count: len(vals)})
	}
	return out
}

// Pearson returns the correlation coefficient of xs and ys and false when it
// is undefined: fewer than three pairs or zero variance on either side.
func Pearson(xs, ys []float64) (float64, bool) {
	n := len(xs)
	if n != len(ys) || n < 3 {
		return 0, false
	}
	mx, my := lo.Sum(xs)/float64(n), lo.Sum(ys)/float64(n)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, false
	}
	return sxy / math.Sqrt(sxx*syy), true
}

// Strength labels the magnitude of a correlation coefficient.
func Strength(r float64) string {
	switch a := math.Abs(r); {
	case a >= 0.7:
		return "strong"
	case a >= 0.4:
		return "moderate"
	case a >= 0.2:
		return "weak"
	default:
		return "none"
	}
}

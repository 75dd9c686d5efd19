package analytics

import (
	"math"
	"testing"
	"time"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestDescribe(t *testing.T) {
	s := Describe([]float64{4, 1, 3, 2, 5})
	if s.Count != 5 || s.Mean != 3 || s.Median != 3 || s.Min != 1 || s.Max != 5 {
		t.Errorf("unexpected summary %+v", s)
	}
	if !near(s.StdDev, math.Sqrt(2.5)) {
		t.Errorf("expected sample std dev sqrt(2.5), got %v", s.StdDev)
	}
	if s.P25 != 2 || s.P75 != 4 || !near(s.P90, 4.6) {
		t.Errorf("unexpected percentiles %+v", s)
	}

	if s := Describe(nil); s.Count != 0 || s.Mean != 0 {
		t.Errorf("expected zero summary, got %+v", s)
	}
	if s := Describe([]float64{7}); s.StdDev != 0 || s.Median != 7 || s.P90 != 7 {
		t.Errorf("single value summary wrong: %+v", s)
	}
}

func series(start time.Time, vals ...float64) []Point {
	out := make([]Point, len(vals))
	for i, v := range vals {
		out[i] = Point{At: start.AddDate(0, 0, i), Value: v}
	}
	return out
}

func TestLinearTrend(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		vals []float64
		dir  string
	}{
		{"rising", []float64{100, 102, 104, 106}, TrendIncreasing},
		{"falling", []float64{90, 85, 80, 75}, TrendDecreasing},
		{"flat within 1%", []float64{100, 100.2, 100.1, 100.3}, TrendStable},
		{"single", []float64{70}, TrendInsufficient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := LinearTrend(series(start, tt.vals...))
			if tr.Direction != tt.dir {
				t.Errorf("expected %s, got %+v", tt.dir, tr)
			}
		})
	}

	tr := LinearTrend(series(start, 100, 102, 104, 106))
	if !near(tr.SlopePerDay, 2) || !near(tr.Intercept, 100) || !near(tr.RSquared, 1) {
		t.Errorf("expected exact fit, got %+v", tr)
	}

	same := []Point{{At: start, Value: 1}, {At: start, Value: 3}}
	if tr := LinearTrend(same); tr.Direction != TrendInsufficient {
		t.Errorf("points at one instant cannot form a trend, got %+v", tr)
	}
}

func TestMovingAverage(t *testing.T) {
	got := MovingAverage([]float64{2, 4, 6, 8}, 2)
	want := []float64{2, 3, 5, 7}
	for i := range want {
		if !near(got[i], want[i]) {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if got := MovingAverage([]float64{5}, 0); got[0] != 5 {
		t.Errorf("window below one should act as one, got %v", got)
	}
}

func TestDailyMeans(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	pts := []Point{
		{At: day.Add(26 * time.Hour), Value: 10},
		{At: day.Add(8 * time.Hour), Value: 60},
		{At: day.Add(20 * time.Hour), Value: 80},
	}
	got := DailyMeans(pts)
	if len(got) != 2 || got[0].Day != "2026-03-02" || got[0].Mean != 70 || got[0].Count != 2 || got[1].Mean != 10 {
		t.Errorf("unexpected daily means %+v", got)
	}
}

func TestPearson(t *testing.T) {
	r, ok := Pearson([]float64{1, 2, 3, 4}, []float64{2, 4, 6, 8})
	if !ok || !near(r, 1) {
		t.Errorf("expected perfect correlation, got %v %v", r, ok)
	}
	r, ok = Pearson([]float64{1, 2, 3, 4}, []float64{8, 6, 4, 2})
	if !ok || !near(r, -1) || Strength(r) != "strong" {
		t.Errorf("expected strong negative correlation, got %v", r)
	}
	if _, ok := Pearson([]float64{1, 2}, []float64{1, 2}); ok {
		t.Error("two pairs should be insufficient")
	}
	if _, ok := Pearson([]float64{1, 1, 1}, []float64{1, 2, 3}); ok {
		t.Error("zero variance should be undefined")
	}
	if Strength(0.1) != "none" || Strength(-0.5) != "moderate" || Strength(0.3) != "weak" {
		t.Error("unexpected strength labels")
	}
}

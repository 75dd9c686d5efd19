// Package analytics computes descriptive statistics, trends and
// correlations over a user's health data, symptom logs and dose history.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/healthmate/healthmate/internal/domain/healthdata"
	"github.com/healthmate/healthmate/internal/domain/medication"
	"github.com/healthmate/healthmate/internal/platform/apperr"
)

const (
	DefaultDays          = 30
	MaxDays              = 365
	DefaultWindow        = 7
	DefaultWeeks         = 8
	maxSymptomSample     = 5000
	symptomPageSize      = 500
	maxMedications       = 100
	dashboardTopSymptoms = 5
)

// HealthSource is the read side of the health data service.
type HealthSource interface {
	Series(ctx context.Context, userID, metric string, from, to time.Time) ([]*healthdata.HealthData, error)
	ListSymptoms(ctx context.Context, userID string, from, to time.Time, limit, offset int) ([]*healthdata.SymptomLog, int, error)
}

// MedicationSource is the read side of the medication service.
type MedicationSource interface {
	ListByUser(ctx context.Context, userID, status string, limit, offset int) ([]*medication.EnhancedMedication, int, error)
	ListDoses(ctx context.Context, medicationID uuid.UUID, from, to time.Time) ([]*medication.DoseLog, error)
}

type MetricSummary struct {
	MetricType string      `json:"metric_type"`
	Unit       string      `json:"unit"`
	Days       int         `json:"days"`
	Stats      Summary     `json:"stats"`
	Daily      []DailyMean `json:"daily"`
}

type TrendReport struct {
	MetricType    string      `json:"metric_type"`
	Days          int         `json:"days"`
	Window        int         `json:"window"`
	Trend         Trend       `json:"trend"`
	Daily         []DailyMean `json:"daily"`
	MovingAverage []float64   `json:"moving_average"`
}

type CorrelationReport struct {
	MetricA     string   `json:"metric_a"`
	MetricB     string   `json:"metric_b"`
	Days        int      `json:"days"`
	PairedDays  int      `json:"paired_days"`
	Coefficient *float64 `json:"coefficient"`
	Strength    string   `json:"strength"`
}

type SymptomFrequency struct {
	Symptom     string    `json:"symptom"`
	Count       int       `json:"count"`
	AvgSeverity float64   `json:"avg_severity"`
	MaxSeverity int       `json:"max_severity"`
	LastLogged  time.Time `json:"last_logged"`
}

type WeeklyAdherence struct {
	WeekStart string  `json:"week_start"`
	Total     int     `json:"total"`
	Adherent  int     `json:"adherent"`
	Rate      float64 `json:"rate"`
}

// MetricOverview is one metric tile on the dashboard.
type MetricOverview struct {
	MetricType string  `json:"metric_type"`
	Unit       string  `json:"unit"`
	Latest     float64 `json:"latest"`
	Stats      Summary `json:"stats"`
	Direction  string  `json:"direction"`
}

type Dashboard struct {
	UserID           string             `json:"user_id"`
	Days             int                `json:"days"`
	GeneratedAt      time.Time          `json:"generated_at"`
	Metrics          []MetricOverview   `json:"metrics"`
	TopSymptoms      []SymptomFrequency `json:"top_symptoms"`
	Adherence        []WeeklyAdherence  `json:"adherence"`
	OverallAdherence *float64           `json:"overall_adherence"`
}

type Service struct {
	health HealthSource
	meds   MedicationSource
	cache  Cache
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(health HealthSource, meds MedicationSource, logger zerolog.Logger) *Service {
	return &Service{health: health, meds: meds, ttl: DefaultCacheTTL, logger: logger, now: time.Now}
}

// SetCache enables result caching with the given TTL.
func (s *Service) SetCache(c Cache, ttl time.Duration) {
	s.cache = c
	if ttl > 0 {
		s.ttl = ttl
	}
}

func checkMetric(field, metric string) error {
	if healthdata.CanonicalUnit(metric) == "" {
		return apperr.ValidationField(field, fmt.Sprintf("unsupported metric type: %s", metric))
	}
	return nil
}

func checkDays(days int) (int, error) {
	if days == 0 {
		return DefaultDays, nil
	}
	if days < 1 || days > MaxDays {
		return 0, apperr.ValidationField("days", fmt.Sprintf("must be between 1 and %d", MaxDays))
	}
	return days, nil
}

func (s *Service) points(ctx context.Context, userID, metric string, days int) ([]Point, error) {
	now := s.now()
	data, err := s.health.Series(ctx, userID, metric, now.AddDate(0, 0, -days), now)
	if err != nil {
		return nil, err
	}
	out := lo.Map(data, func(d *healthdata.HealthData, _ int) Point { return Point{At: d.RecordedAt, Value: d.Value} })
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func values(points []Point) []float64 {
	return lo.Map(points, func(p Point, _ int) float64 { return p.Value })
}

func (s *Service) Summary(ctx context.Context, userID, metric string, days int) (*MetricSummary, error) {
	if err := checkMetric("metric_type", metric); err != nil {
		return nil, err
	}
	days, err := checkDays(days)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, cacheKey("summary", userID, metric, days), func() (*MetricSummary, error) {
		pts, err := s.points(ctx, userID, metric, days)
		if err != nil {
			return nil, err
		}
		return &MetricSummary{
			MetricType: metric,
			Unit:       healthdata.CanonicalUnit(metric),
			Days:       days,
			Stats:      Describe(values(pts)),
			Daily:      DailyMeans(pts),
		}, nil
	})
}

// Trend fits a regression through raw readings and smooths the daily means
// with a trailing moving average of window days.
func (s *Service) Trend(ctx context.Context, userID, metric string, days, window int) (*TrendReport, error) {
	if err := checkMetric("metric_type", metric); err != nil {
		return nil, err
	}
	days, err := checkDays(days)
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		window = DefaultWindow
	}
	key := cacheKey("trend", userID, fmt.Sprintf("%s:%d", metric, window), days)
	return cached(ctx, s, key, func() (*TrendReport, error) {
		pts, err := s.points(ctx, userID, metric, days)
		if err != nil {
			return nil, err
		}
		daily := DailyMeans(pts)
		return &TrendReport{
			MetricType:    metric,
			Days:          days,
			Window:        window,
			Trend:         LinearTrend(pts),
			Daily:         daily,
			MovingAverage: MovingAverage(lo.Map(daily, func(d DailyMean, _ int) float64 { return d.Mean }), window),
		}, nil
	})
}

// Correlation pairs the daily means of two metrics on days where both have
// readings.
func (s *Service) Correlation(ctx context.Context, userID, metricA, metricB string, days int) (*CorrelationReport, error) {
	if err := checkMetric("metric_a", metricA); err != nil {
		return nil, err
	}
	if err := checkMetric("metric_b", metricB); err != nil {
		return nil, err
	}
	if metricA == metricB {
		return nil, apperr.ValidationField("metric_b", "must differ from metric_a")
	}
	days, err := checkDays(days)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, cacheKey("correlation", userID, metricA+"|"+metricB, days), func() (*CorrelationReport, error) {
		a, err := s.points(ctx, userID, metricA, days)
		if err != nil {
			return nil, err
		}
		b, err := s.points(ctx, userID, metricB, days)
		if err != nil {
			return nil, err
		}
		byDay := lo.SliceToMap(DailyMeans(b), func(d DailyMean) (string, float64) { return d.Day, d.Mean })
		var xs, ys []float64
		for _, d := range DailyMeans(a) {
			if v, ok := byDay[d.Day]; ok {
				xs = append(xs, d.Mean)
				ys = append(ys, v)
			}
		}
		rep := &CorrelationReport{MetricA: metricA, MetricB: metricB, Days: days, PairedDays: len(xs), Strength: TrendInsufficient}
		if r, ok := Pearson(xs, ys); ok {
			rep.Coefficient = &r
			rep.Strength = Strength(r)
		}
		return rep, nil
	})
}

func (s *Service) symptoms(ctx context.Context, userID string, days int) ([]*healthdata.SymptomLog, error) {
	now := s.now()
	from := now.AddDate(0, 0, -days)
	var all []*healthdata.SymptomLog
	for offset := 0; offset < maxSymptomSample; offset += symptomPageSize {
		page, total, err := s.health.ListSymptoms(ctx, userID, from, now, symptomPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < symptomPageSize || len(all) >= total {
			break
		}
	}
	return all, nil
}

// Symptoms ranks logged symptoms by frequency, then by average severity.
func (s *Service) Symptoms(ctx context.Context, userID string, days int) ([]SymptomFrequency, error) {
	days, err := checkDays(days)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, cacheKey("symptoms", userID, "", days), func() ([]SymptomFrequency, error) {
		logs, err := s.symptoms(ctx, userID, days)
		if err != nil {
			return nil, err
		}
		return symptomFrequencies(logs), nil
	})
}

func symptomFrequencies(logs []*healthdata.SymptomLog) []SymptomFrequency {
	groups := lo.GroupBy(logs, func(l *healthdata.SymptomLog) string { return l.Symptom })
	out := make([]SymptomFrequency, 0, len(groups))
	for name, ls := range groups {
		f := SymptomFrequency{Symptom: name, Count: len(ls)}
		sum := 0
		for _, l := range ls {
			sum += l.Severity
			f.MaxSeverity = max(f.MaxSeverity, l.Severity)
			if l.LoggedAt.After(f.LastLogged) {
				f.LastLogged = l.LoggedAt
			}
		}
		f.AvgSeverity = float64(sum) / float64(len(ls))
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].AvgSeverity != out[j].AvgSeverity {
			return out[i].AvgSeverity > out[j].AvgSeverity
		}
		return out[i].Symptom < out[j].Symptom
	})
	return out
}

// AdherenceTrend buckets the user's dose logs across all medications into
// weeks starting on Monday, oldest first. Weeks without logs are included
// with a zero total.
func (s *Service) AdherenceTrend(ctx context.Context, userID string, weeks int) ([]WeeklyAdherence, error) {
	if weeks <= 0 {
		weeks = DefaultWeeks
	}
	if weeks > 52 {
		return nil, apperr.ValidationField("weeks", "must be at most 52")
	}
	now := s.now().UTC()
	start := weekStart(now).AddDate(0, 0, -7*(weeks-1))

	meds, _, err := s.meds.ListByUser(ctx, userID, "", maxMedications, 0)
	if err != nil {
		return nil, err
	}
	buckets := make([]WeeklyAdherence, weeks)
	for i := range buckets {
		buckets[i].WeekStart = start.AddDate(0, 0, 7*i).Format("2006-01-02")
	}
	for _, m := range meds {
		logs, err := s.meds.ListDoses(ctx, m.ID, start, now)
		if err != nil {
			return nil, err
		}
		for _, l := range logs {
			i := int(l.ScheduledAt.UTC().Sub(start).Hours() / (24 * 7))
			if i < 0 || i >= weeks {
				continue
			}
			buckets[i].Total++
			if l.Status == medication.DoseTaken || l.Status == medication.DoseLate {
				buckets[i].Adherent++
			}
		}
	}
	for i := range buckets {
		if buckets[i].Total > 0 {
			buckets[i].Rate = float64(buckets[i].Adherent) / float64(buckets[i].Total)
		}
	}
	return buckets, nil
}

func weekStart(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// Dashboard combines per-metric overviews, top symptoms and adherence into
// one payload. Metrics without readings in the window are omitted.
func (s *Service) Dashboard(ctx context.Context, userID string, days int) (*Dashboard, error) {
	days, err := checkDays(days)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, cacheKey("dashboard", userID, "", days), func() (*Dashboard, error) {
		d := &Dashboard{UserID: userID, Days: days, GeneratedAt: s.now().UTC()}
		for _, metric := range healthdata.MetricTypes() {
			pts, err := s.points(ctx, userID, metric, days)
			if err != nil {
				return nil, err
			}
			if len(pts) == 0 {
				continue
			}
			d.Metrics = append(d.Metrics, MetricOverview{
				MetricType: metric,
				Unit:       healthdata.CanonicalUnit(metric),
				Latest:     pts[len(pts)-1].Value,
				Stats:      Describe(values(pts)),
				Direction:  LinearTrend(pts).Direction,
			})
		}

		logs, err := s.symptoms(ctx, userID, days)
		if err != nil {
			return nil, err
		}
		freq := symptomFrequencies(logs)
		d.TopSymptoms = freq[:min(len(freq), dashboardTopSymptoms)]

		weeks := max(1, (days+6)/7)
		d.Adherence, err = s.AdherenceTrend(ctx, userID, min(weeks, 52))
		if err != nil {
			return nil, err
		}
		total := lo.SumBy(d.Adherence, func(w WeeklyAdherence) int { return w.Total })
		if total > 0 {
			rate := float64(lo.SumBy(d.Adherence, func(w WeeklyAdherence) int { return w.Adherent })) / float64(total)
			d.OverallAdherence = &rate
		}
		return d, nil
	})
}

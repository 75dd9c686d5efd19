package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/healthmate/healthmate/internal/platform/apperr"
)

// Fact is one loaded record. Well-known health fields are lifted into
// columns; the full record is kept in Payload.
type Fact struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	JobName    string         `gorm:"type:varchar(128);not null;index"`
	UserID     string         `gorm:"type:varchar(128);index:idx_fact_user_metric,priority:1"`
	MetricType string         `gorm:"type:varchar(64);index:idx_fact_user_metric,priority:2"`
	Value      *float64       `gorm:"type:double precision"`
	Unit       string         `gorm:"type:varchar(32)"`
	RecordedAt *time.Time     `gorm:"index:idx_fact_user_metric,priority:3"`
	Payload    datatypes.JSON `gorm:"type:jsonb"`
	LoadedAt   time.Time      `gorm:"autoCreateTime"`
}

func (Fact) TableName() string { return "warehouse_fact" }

// DailyMetric aggregates a user's facts for one metric and calendar day (UTC).
type DailyMetric struct {
	UserID     string    `gorm:"type:varchar(128);primaryKey" json:"user_id"`
	MetricType string    `gorm:"type:varchar(64);primaryKey" json:"metric_type"`
	Day        time.Time `gorm:"type:date;primaryKey" json:"day"`
	Count      int64     `json:"count"`
	Mean       float64   `json:"mean"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (DailyMetric) TableName() string { return "warehouse_daily_metric" }

// DataWarehouseManager stores pipeline output in the analytics warehouse.
type DataWarehouseManager struct {
	db        *gorm.DB
	batchSize int
}

// OpenWarehouse connects to the warehouse database with gorm.
func OpenWarehouse(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening warehouse: %w", err)
	}
	return gdb, nil
}

func NewDataWarehouseManager(gdb *gorm.DB) *DataWarehouseManager {
	return &DataWarehouseManager{db: gdb, batchSize: 200}
}

// Migrate creates or updates the warehouse tables.
func (w *DataWarehouseManager) Migrate(ctx context.Context) error {
	return w.db.WithContext(ctx).AutoMigrate(&Fact{}, &DailyMetric{})
}

// factNamespace seeds deterministic fact IDs so reloading a record is a
// no-op.
var factNamespace = uuid.MustParse("4f0c7d0e-3c52-4b8e-9a55-5b7f2f1d9c10")

func factID(job string, rec Record, payload []byte) uuid.UUID {
	if id, ok := rec["id"]; ok && present(id) {
		return uuid.NewSHA1(factNamespace, []byte(job+"\x00"+fmt.Sprint(id)))
	}
	return uuid.NewSHA1(factNamespace, append([]byte(job+"\x00"), payload...))
}

func toFact(job string, rec Record) (Fact, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return Fact{}, err
	}
	f := Fact{
		ID:         factID(job, rec, payload),
		JobName:    job,
		UserID:     stringField(rec, "user_id"),
		MetricType: stringField(rec, "metric_type"),
		Unit:       stringField(rec, "unit"),
		Payload:    datatypes.JSON(payload),
	}
	if v, ok := toFloat(rec["value"]); ok {
		f.Value = &v
	}
	if ts, ok := toTime(rec["recorded_at"]); ok {
		ts = ts.UTC()
		f.RecordedAt = &ts
	}
	return f, nil
}

func stringField(rec Record, key string) string {
	if v, ok := rec[key].(string); ok {
		return v
	}
	return ""
}

type dayKey struct {
	user, metric string
	day          time.Time
}

// Load inserts records as facts, skipping ones already loaded, and refreshes
// the daily aggregates they touch.
func (w *DataWarehouseManager) Load(ctx context.Context, job *ETLJobConfig, records []Record) (int, error) {
	facts := make([]Fact, 0, len(records))
	for _, rec := range records {
		f, err := toFact(job.Name, rec)
		if err != nil {
			return 0, apperr.Pipeline(job.Name, "encoding fact", err)
		}
		facts = append(facts, f)
	}
	if len(facts) == 0 {
		return 0, nil
	}

	res := w.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(facts, w.batchSize)
	if res.Error != nil {
		return 0, apperr.Database("warehouse load", res.Error)
	}

	days := lo.Uniq(lo.FilterMap(facts, func(f Fact, _ int) (dayKey, bool) {
		if f.UserID == "" || f.MetricType == "" || f.Value == nil || f.RecordedAt == nil {
			return dayKey{}, false
		}
		return dayKey{f.UserID, f.MetricType, truncateDay(*f.RecordedAt)}, true
	}))
	for _, d := range days {
		if err := w.AggregateDaily(ctx, d.user, d.metric, d.day); err != nil {
			return int(res.RowsAffected), err
		}
	}
	return int(res.RowsAffected), nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AggregateDaily recomputes the aggregate row for (userID, metric, day).
func (w *DataWarehouseManager) AggregateDaily(ctx context.Context, userID, metric string, day time.Time) error {
	start := truncateDay(day)
	err := w.db.WithContext(ctx).Exec(`
		INSERT INTO warehouse_daily_metric (user_id, metric_type, day, count, mean, min, max, updated_at)
		SELECT user_id, metric_type, CAST(? AS date), COUNT(*), AVG(value), MIN(value), MAX(value), NOW()
		FROM warehouse_fact
		WHERE user_id = ? AND metric_type = ? AND value IS NOT NULL AND recorded_at >= ? AND recorded_at < ?
		GROUP BY user_id, metric_type
		ON CONFLICT (user_id, metric_type, day) DO UPDATE SET
			count = EXCLUDED.count, mean = EXCLUDED.mean, min = EXCLUDED.min, max = EXCLUDED.max,
			updated_at = EXCLUDED.updated_at`,
		start, userID, metric, start, start.AddDate(0, 0, 1)).Error
	if err != nil {
		return apperr.Database("warehouse aggregate", err)
	}
	return nil
}

// QueryDaily returns aggregates for [from, to] ordered by day. An empty metric
// matches all metrics.
func (w *DataWarehouseManager) QueryDaily(ctx context.Context, userID, metric string, from, to time.Time) ([]DailyMetric, error) {
	q := w.db.WithContext(ctx).Where("user_id = ? AND day >= ? AND day <= ?", userID, truncateDay(from), truncateDay(to))
	if metric != "" {
		q = q.Where("metric_type = ?", metric)
	}
	var out []DailyMetric
	if err := q.Order("day, metric_type").Find(&out).Error; err != nil {
		return nil, apperr.Database("warehouse query", err)
	}
	return out, nil
}

package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/healthmate/healthmate/internal/platform/apperr"
)

const (
	ModeBatch     = "batch"
	ModeStreaming = "streaming"

	TargetWarehouse = "warehouse"
	TargetKafka     = "kafka"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

const (
	DefaultBatchSize       = 500
	DefaultMinQualityScore = 0.5
)

// JobSpec is the part of a job definition stored as JSON in etl_job.config.
type JobSpec struct {
	Schema      Schema `json:"schema" yaml:"schema"`
	Transforms  []Rule `json:"transforms,omitempty" yaml:"transforms,omitempty"`
	DropOnError bool   `json:"drop_on_error,omitempty" yaml:"drop_on_error,omitempty"`
	// TimestampColumn drives the incremental watermark of table extracts.
	TimestampColumn string `json:"timestamp_column,omitempty" yaml:"timestamp_column,omitempty"`
}

// ETLJobConfig describes a scheduled extract-transform-load job.
type ETLJobConfig struct {
	ID               uuid.UUID  `json:"id" yaml:"-"`
	Name             string     `json:"name" yaml:"name"`
	Mode             string     `json:"mode" yaml:"mode"`
	SourceTable      string     `json:"source_table,omitempty" yaml:"source_table,omitempty"`
	Target           string     `json:"target" yaml:"target"`
	Spec             JobSpec    `json:"config" yaml:"config"`
	BatchSize        int        `json:"batch_size" yaml:"batch_size"`
	MinQualityScore  float64    `json:"min_quality_score" yaml:"min_quality_score"`
	ScheduleInterval Duration   `json:"schedule_interval" yaml:"schedule_interval"`
	KafkaTopic       string     `json:"kafka_topic,omitempty" yaml:"kafka_topic,omitempty"`
	Enabled          bool       `json:"enabled" yaml:"enabled"`
	Watermark        *time.Time `json:"watermark,omitempty" yaml:"-"`
	WatermarkID      string     `json:"watermark_id,omitempty" yaml:"-"`
	CreatedAt        time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt        time.Time  `json:"updated_at" yaml:"-"`
}

// cursor is where the next run resumes. A watermark stored without an id
// resumes after every row at that timestamp.
func (j *ETLJobConfig) cursor() Cursor {
	if j.Watermark == nil {
		return Cursor{ID: minID}
	}
	if j.WatermarkID == "" {
		return Cursor{At: *j.Watermark, ID: maxID}
	}
	return Cursor{At: *j.Watermark, ID: j.WatermarkID}
}

// sourceTables are the tables a batch job may extract from.
var sourceTables = map[string]string{
	"health_data":         "recorded_at",
	"symptom_log":         "logged_at",
	"medication_dose_log": "scheduled_at",
}

// ApplyDefaults fills zero-valued settings.
func (j *ETLJobConfig) ApplyDefaults() {
	if j.Mode == "" {
		j.Mode = ModeBatch
	}
	if j.Target == "" {
		j.Target = TargetWarehouse
	}
	if j.BatchSize <= 0 {
		j.BatchSize = DefaultBatchSize
	}
	if j.MinQualityScore == 0 {
		j.MinQualityScore = DefaultMinQualityScore
	}
	if j.Spec.TimestampColumn == "" {
		j.Spec.TimestampColumn = sourceTables[j.SourceTable]
	}
}

func (j *ETLJobConfig) Validate() error {
	if j.Name == "" {
		return apperr.ValidationField("name", "is required")
	}
	switch j.Mode {
	case ModeBatch:
		if _, ok := sourceTables[j.SourceTable]; !ok {
			return apperr.ValidationField("source_table", fmt.Sprintf("unsupported source table %q", j.SourceTable))
		}
	case ModeStreaming:
		if j.KafkaTopic == "" {
			return apperr.ValidationField("kafka_topic", "is required for streaming jobs")
		}
	default:
		return apperr.ValidationField("mode", "must be batch or streaming")
	}
	switch j.Target {
	case TargetWarehouse:
	case TargetKafka:
		if j.KafkaTopic == "" {
			return apperr.ValidationField("kafka_topic", "is required for kafka targets")
		}
	default:
		return apperr.ValidationField("target", "must be warehouse or kafka")
	}
	if j.MinQualityScore < 0 || j.MinQualityScore > 1 {
		return apperr.ValidationField("min_quality_score", "must be between 0 and 1")
	}
	if j.ScheduleInterval < 0 {
		return apperr.ValidationField("schedule_interval", "must not be negative")
	}
	if _, err := NewDataTransformer(j.Spec.Transforms, j.Spec.DropOnError); err != nil {
		return apperr.ValidationField("config.transforms", err.Error())
	}
	return nil
}

// JobRun is one execution of a job.
type JobRun struct {
	ID               uuid.UUID  `json:"id"`
	JobID            uuid.UUID  `json:"job_id"`
	Status           string     `json:"status"`
	RecordsExtracted int        `json:"records_extracted"`
	RecordsLoaded    int        `json:"records_loaded"`
	RecordsDropped   int        `json:"records_dropped"`
	QualityScore     *float64   `json:"quality_score,omitempty"`
	QualityLevel     *string    `json:"quality_level,omitempty"`
	Error            *string    `json:"error,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// Duration reads and writes as a Go duration string ("15m", "1h").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1h\": %w", err)
	}
	return d.parse(s)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type jobsFile struct {
	Jobs []ETLJobConfig `yaml:"jobs"`
}

// LoadJobsFile reads job definitions from a YAML file of the form
//
//	jobs:
//	  - name: health-data-daily
//	    source_table: health_data
//	    schedule_interval: 1h
func LoadJobsFile(path string) ([]ETLJobConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading jobs file: %w", err)
	}
	return ParseJobs(raw)
}

// ParseJobs decodes and validates YAML job definitions.
func ParseJobs(raw []byte) ([]ETLJobConfig, error) {
	var f jobsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing jobs file: %w", err)
	}
	seen := make(map[string]bool, len(f.Jobs))
	for i := range f.Jobs {
		j := &f.Jobs[i]
		j.ApplyDefaults()
		if err := j.Validate(); err != nil {
			return nil, fmt.Errorf("job %d (%s): %w", i, j.Name, err)
		}
		if seen[j.Name] {
			return nil, fmt.Errorf("job %q defined twice", j.Name)
		}
		seen[j.Name] = true
	}
	return f.Jobs, nil
}

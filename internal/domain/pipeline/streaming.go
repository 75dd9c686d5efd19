package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/metrics"
	"github.com/healthmate/healthmate/internal/platform/websocket"
)

// MessageReader is the consumer side of *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter is the producer side of *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader builds a consumer-group reader for topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// NewKafkaWriter builds a writer; each message names its own topic.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

// KafkaPublisher writes records as JSON messages keyed by user_id. It is the
// loader for jobs targeting kafka.
type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(records))
	for _, rec := range records {
		value, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Topic: topic, Key: []byte(stringField(rec, "user_id")), Value: value})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return apperr.External("kafka", 0, err)
	}
	return nil
}

func (p *KafkaPublisher) Load(ctx context.Context, job *ETLJobConfig, records []Record) (int, error) {
	if err := p.Publish(ctx, job.KafkaTopic, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// HealthDataFeed forwards newly recorded readings to a Kafka topic so
// streaming jobs can consume them. It satisfies websocket.Publisher and is
// fanned out next to the dashboard hub.
type HealthDataFeed struct {
	publisher *KafkaPublisher
	topic     string
}

func NewHealthDataFeed(p *KafkaPublisher, topic string) *HealthDataFeed {
	return &HealthDataFeed{publisher: p, topic: topic}
}

func (f *HealthDataFeed) Publish(ctx context.Context, ev websocket.Event) error {
	if ev.Type != "health_data.created" || len(ev.Data) == 0 {
		return nil
	}
	rec := Record{}
	if err := json.Unmarshal(ev.Data, &rec); err != nil {
		return err
	}
	for _, col := range excludedColumns {
		delete(rec, col)
	}
	return f.publisher.Publish(ctx, f.topic, []Record{rec})
}

const (
	DefaultMicroBatchSize = 100
	DefaultFlushInterval  = 5 * time.Second
)

// StreamingDataProcessor consumes a topic in micro-batches. Each batch is
// validated, transformed and loaded before its offsets are committed, so a
// crash replays at most one batch.
type StreamingDataProcessor struct {
	job           *ETLJobConfig
	reader        MessageReader
	loader        Loader
	validator     *DataValidator
	transformer   *DataTransformer
	batchSize     int
	flushInterval time.Duration
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

func NewStreamingDataProcessor(job *ETLJobConfig, reader MessageReader, loader Loader,
	m *metrics.Metrics, logger zerolog.Logger) (*StreamingDataProcessor, error) {
	if job.Mode != ModeStreaming {
		return nil, apperr.ValidationField("mode", "streaming processor needs a streaming job")
	}
	tr, err := NewDataTransformer(job.Spec.Transforms, job.Spec.DropOnError)
	if err != nil {
		return nil, apperr.Pipeline(job.Name, "invalid transforms", err)
	}
	size := job.BatchSize
	if size <= 0 || size > 10*DefaultMicroBatchSize {
		size = DefaultMicroBatchSize
	}
	return &StreamingDataProcessor{
		job:           job,
		reader:        reader,
		loader:        loader,
		validator:     NewDataValidator(),
		transformer:   tr,
		batchSize:     size,
		flushInterval: DefaultFlushInterval,
		metrics:       m,
		logger:        logger.With().Str("job", job.Name).Logger(),
	}, nil
}

// SetFlushInterval bounds how long a partial batch waits for more messages.
func (p *StreamingDataProcessor) SetFlushInterval(d time.Duration) {
	if d > 0 {
		p.flushInterval = d
	}
}

// Run consumes until ctx is cancelled or the reader fails.
func (p *StreamingDataProcessor) Run(ctx context.Context) error {
	p.logger.Info().Int("batch_size", p.batchSize).Dur("flush_interval", p.flushInterval).Msg("streaming job started")
	defer func() { p.logger.Info().Msg("streaming job stopped") }()
	for {
		batch, err := p.fetchBatch(ctx)
		if len(batch) > 0 {
			if perr := p.process(ctx, batch); perr != nil {
				return perr
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperr.Pipeline(p.job.Name, "reading from kafka", err)
		}
	}
}

// fetchBatch collects up to batchSize messages or whatever arrived within
// the flush interval.
func (p *StreamingDataProcessor) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.flushInterval)
	defer cancel()

	var batch []kafka.Message
	for len(batch) < p.batchSize {
		msg, err := p.reader.FetchMessage(fetchCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return batch, nil
			}
			return batch, err
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

// process loads one micro-batch and commits it. Batches below the job's
// minimum quality are committed without loading so a poison batch cannot
// stall the consumer.
func (p *StreamingDataProcessor) process(ctx context.Context, batch []kafka.Message) error {
	records := make([]Record, 0, len(batch))
	undecodable := 0
	for _, m := range batch {
		rec := Record{}
		if err := json.Unmarshal(m.Value, &rec); err != nil {
			undecodable++
			continue
		}
		records = append(records, rec)
	}
	p.metrics.PipelineRecords(p.job.Name, "extracted", len(batch))
	if undecodable > 0 {
		p.metrics.PipelineRecords(p.job.Name, "dropped", undecodable)
		p.logger.Warn().Int("count", undecodable).Msg("dropping undecodable messages")
	}

	if len(records) > 0 {
		report := p.validator.Validate(records, p.job.Spec.Schema)
		p.metrics.PipelineQuality(p.job.Name, report.OverallScore)
		if report.OverallScore < p.job.MinQualityScore {
			p.metrics.PipelineRecords(p.job.Name, "rejected", len(records))
			p.logger.Error().Float64("score", report.OverallScore).Str("level", report.Level).
				Int("records", len(records)).Int("issues", report.IssueCount).Msg("micro-batch below minimum quality, skipping")
		} else {
			res := p.transformer.Transform(records)
			p.metrics.PipelineRecords(p.job.Name, "dropped", res.Dropped)
			n, err := p.loader.Load(ctx, p.job, res.Records)
			p.metrics.PipelineRecords(p.job.Name, "loaded", n)
			if err != nil {
				// Offsets stay uncommitted; the batch is redelivered.
				return apperr.Pipeline(p.job.Name, fmt.Sprintf("loading micro-batch of %d", len(res.Records)), err)
			}
		}
	}

	if err := p.reader.CommitMessages(context.WithoutCancel(ctx), batch...); err != nil {
		return apperr.Pipeline(p.job.Name, "committing offsets", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/healthmate/healthmate/internal/config"
	"github.com/healthmate/healthmate/internal/domain/analytics"
	"github.com/healthmate/healthmate/internal/domain/backup"
	"github.com/healthmate/healthmate/internal/domain/compliance"
	"github.com/healthmate/healthmate/internal/domain/conversation"
	"github.com/healthmate/healthmate/internal/domain/healthdata"
	"github.com/healthmate/healthmate/internal/domain/medication"
	"github.com/healthmate/healthmate/internal/domain/notification"
	"github.com/healthmate/healthmate/internal/domain/pipeline"
	"github.com/healthmate/healthmate/internal/domain/profile"
	"github.com/healthmate/healthmate/internal/platform/apiclient"
	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/auth"
	"github.com/healthmate/healthmate/internal/platform/blobstore"
	"github.com/healthmate/healthmate/internal/platform/db"
	"github.com/healthmate/healthmate/internal/platform/fieldcrypt"
	"github.com/healthmate/healthmate/internal/platform/metrics"
	"github.com/healthmate/healthmate/internal/platform/middleware"
	"github.com/healthmate/healthmate/internal/platform/webhook"
	"github.com/healthmate/healthmate/internal/platform/websocket"
)

const (
	schedulerTick       = time.Minute
	dispatchInterval    = 30 * time.Second
	requestTimeout      = 30 * time.Second
	shutdownTimeout     = 10 * time.Second
	maxStreamingJobs    = 100
	defaultBodyLimit    = "1M"
	bulkBodyLimit       = "10M"
	streamFlushInterval = 5 * time.Second
)

// fanout publishes an event to every publisher, returning the first error.
type fanout []websocket.Publisher

func (f fanout) Publish(ctx context.Context, ev websocket.Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// app holds every wired service. Nothing is started until serve runs it.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	pool    *pgxpool.Pool
	metrics *metrics.Metrics

	hub       *websocket.Hub
	webhooks  *webhook.Manager
	kafka     *kafka.Writer
	profiles  *profile.Service
	meds      *medication.Service
	health    *healthdata.Service
	convos    *conversation.Service
	notifier  *notification.Service
	jobs      pipeline.JobRepository
	batch     *pipeline.BatchDataProcessor
	loaders   map[string]pipeline.Loader
	pipeline  *pipeline.Service
	analytics *analytics.Service
	compl     *compliance.Service
	backup    *backup.Backup

	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Env)

	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	logger.Info().Msg("connected to database")

	crypt, err := fieldcrypt.NewService(cfg.FieldEncryptionKey, logger)
	if err != nil {
		return err
	}

	a.hub = websocket.NewHub(logger)
	a.webhooks = webhook.NewManager(webhook.NewPGStore(pool),
		webhook.WithMaxRetries(cfg.WebhookMaxRetries),
		webhook.WithMetrics(a.metrics),
		webhook.WithLogger(logger.With().Str("component", "webhook").Logger()),
	)

	profileRepo := profile.NewRepoPG(pool)
	a.profiles = profile.NewService(profileRepo)
	a.convos = conversation.NewService(conversation.NewRepoPG(pool, crypt))

	notifyOpts := []notification.Option{
		notification.WithDefaultQuietHours(cfg.QuietHoursStart, cfg.QuietHoursEnd),
		notification.WithEventPublisher(a.hub),
		notification.WithWebhooks(a.webhooks),
		notification.WithMetrics(a.metrics),
		notification.WithLogger(logger.With().Str("component", "notification").Logger()),
	}
	for _, s := range a.senders() {
		notifyOpts = append(notifyOpts, notification.WithSender(s))
	}
	a.notifier = notification.NewService(notification.NewRepoPG(pool), profileRepo, notifyOpts...)

	a.meds = medication.NewService(medication.NewMedicationRepoPG(pool), medication.NewDoseLogRepoPG(pool, crypt), profileRepo, logger)
	a.meds.SetNotifier(a.notifier)

	a.health = healthdata.NewService(healthdata.NewRepoPG(pool, crypt), healthdata.NewSymptomRepoPG(pool, crypt), logger)
	a.health.SetAlerter(a.notifier)
	events := fanout{a.hub}

	if err := a.wirePipeline(ctx); err != nil {
		return err
	}
	if a.kafka != nil {
		events = append(events, pipeline.NewHealthDataFeed(pipeline.NewKafkaPublisher(a.kafka), cfg.KafkaTopic))
	}
	a.health.SetPublisher(events)

	a.analytics = analytics.NewService(a.health, a.meds, logger.With().Str("component", "analytics").Logger())
	if cfg.RedisURL != "" {
		client, err := analytics.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.analytics.SetCache(analytics.NewRedisCache(client), analytics.DefaultCacheTTL)
		logger.Info().Msg("analytics cache enabled")
	}

	a.compl = compliance.NewService(a.meds, profileRepo, logger.With().Str("component", "compliance").Logger())

	store, err := a.backupStore(ctx)
	if err != nil {
		return err
	}
	a.backup = backup.New(backup.NewRunRepoPG(pool), backup.NewPGExporter(pool), store, cfg.BackupBucket,
		a.metrics, logger.With().Str("component", "backup").Logger())
	a.backup.SetPrefix(cfg.BackupPrefix)
	return nil
}

// senders builds a provider per configured credential.
func (a *app) senders() []notification.Sender {
	cfg := a.cfg
	pc := notification.ProviderConfig{RateLimit: cfg.ExternalAPIRateLimit, RateWindow: cfg.ExternalAPIWindow}
	opts := []apiclient.Option{apiclient.WithMetrics(a.metrics), apiclient.WithLogger(a.logger)}

	var out []notification.Sender
	if cfg.SendGridAPIKey != "" {
		c := apiclient.New(notification.SendGridClientConfig(cfg.SendGridAPIKey, pc), opts...)
		out = append(out, notification.NewSendGridSender(c, cfg.EmailFrom))
	}
	if cfg.TwilioAccountSID != "" {
		c := apiclient.New(notification.TwilioClientConfig(cfg.TwilioAccountSID, cfg.TwilioAuthToken, pc), opts...)
		out = append(out, notification.NewTwilioSender(c, cfg.TwilioAccountSID, cfg.TwilioFromNumber))
	}
	if cfg.FCMServerKey != "" {
		c := apiclient.New(notification.FCMClientConfig(cfg.FCMServerKey, pc), opts...)
		out = append(out, notification.NewFCMSender(c))
	}
	if len(out) == 0 {
		a.logger.Warn().Msg("no notification providers configured, deliveries will fail")
	}
	return out
}

func (a *app) wirePipeline(ctx context.Context) error {
	cfg := a.cfg
	dsn := cfg.WarehouseDatabaseURL
	if dsn == "" {
		dsn = cfg.DatabaseURL
	}
	gdb, err := pipeline.OpenWarehouse(dsn)
	if err != nil {
		return err
	}
	if sqlDB, err := gdb.DB(); err == nil {
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
	}
	warehouse := pipeline.NewDataWarehouseManager(gdb)
	if err := warehouse.Migrate(ctx); err != nil {
		return err
	}

	a.loaders = map[string]pipeline.Loader{pipeline.TargetWarehouse: warehouse}
	if cfg.StreamingEnabled() {
		a.kafka = pipeline.NewKafkaWriter(cfg.KafkaBrokers)
		a.closers = append(a.closers, func() { _ = a.kafka.Close() })
		a.loaders[pipeline.TargetKafka] = pipeline.NewKafkaPublisher(a.kafka)
	}

	a.jobs = pipeline.NewJobRepoPG(a.pool)
	a.batch = pipeline.NewBatchDataProcessor(a.jobs, pipeline.NewTableExtractor(a.pool), a.loaders,
		a.metrics, a.logger.With().Str("component", "etl").Logger())
	a.pipeline = pipeline.NewService(a.jobs, a.batch, a.health, a.logger)

	if cfg.ETLJobsFile != "" {
		defs, err := pipeline.LoadJobsFile(cfg.ETLJobsFile)
		if err != nil {
			return err
		}
		if _, err := a.pipeline.SyncJobs(ctx, defs); err != nil {
			return err
		}
		a.logger.Info().Int("jobs", len(defs)).Str("file", cfg.ETLJobsFile).Msg("etl jobs synced")
	}
	return nil
}

func (a *app) backupStore(ctx context.Context) (blobstore.Store, error) {
	if a.cfg.BackupBucket == "" {
		a.logger.Warn().Msg("BACKUP_BUCKET not set, backups are kept in memory")
		return blobstore.NewMemoryStore(), nil
	}
	client, err := blobstore.NewS3Client(ctx, a.cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	return blobstore.NewS3Store(client, a.cfg.BackupBucket), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// streamingProcessors builds a consumer for every enabled streaming job.
func (a *app) streamingProcessors(ctx context.Context) ([]*pipeline.StreamingDataProcessor, error) {
	if !a.cfg.StreamingEnabled() {
		return nil, nil
	}
	jobs, _, err := a.jobs.List(ctx, maxStreamingJobs, 0)
	if err != nil {
		return nil, err
	}
	var out []*pipeline.StreamingDataProcessor
	for _, j := range jobs {
		if j.Mode != pipeline.ModeStreaming || !j.Enabled {
			continue
		}
		loader, ok := a.loaders[j.Target]
		if !ok {
			a.logger.Warn().Str("job", j.Name).Str("target", j.Target).Msg("no loader for streaming job target")
			continue
		}
		topic := j.KafkaTopic
		if topic == "" {
			topic = a.cfg.KafkaTopic
		}
		reader := pipeline.NewKafkaReader(a.cfg.KafkaBrokers, topic, a.cfg.KafkaGroupID+"-"+j.Name)
		p, err := pipeline.NewStreamingDataProcessor(j, reader, loader, a.metrics, a.logger)
		if err != nil {
			_ = reader.Close()
			return nil, err
		}
		p.SetFlushInterval(streamFlushInterval)
		out = append(out, p)
	}
	return out, nil
}

func (a *app) router() *echo.Echo {
	cfg := a.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(a.logger)

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{
		HSTS:           !cfg.IsDev(),
		FrameAncestors: cfg.CORSOrigins,
	}))
	e.Use(a.metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(defaultBodyLimit, bulkBodyLimit))
	e.Use(middleware.RequestTimeout(requestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(a.pool))
	e.GET("/metrics", a.metrics.Handler())

	jwtCfg := auth.JWTConfig{Issuer: cfg.AuthIssuer, Audience: cfg.AuthAudience, JWKSURL: cfg.AuthJWKSURL}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	authMW := auth.JWTMiddleware(jwtCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}
	websocket.NewHandler(a.hub, cfg.CORSOrigins).RegisterRoutes(e, authMW)

	api := e.Group("/api/v1", authMW, middleware.RateLimit(middleware.RateLimitConfig{
		Requests: cfg.RateLimitRequests,
		Window:   cfg.RateLimitWindow,
	}))
	profile.NewHandler(a.profiles).RegisterRoutes(api)
	medication.NewHandler(a.meds).RegisterRoutes(api)
	healthdata.NewHandler(a.health).RegisterRoutes(api)
	conversation.NewHandler(a.convos).RegisterRoutes(api)
	notification.NewHandler(a.notifier).RegisterRoutes(api)
	analytics.NewHandler(a.analytics).RegisterRoutes(api)
	compliance.NewHandler(a.compl).RegisterRoutes(api)
	pipeline.NewHandler(a.pipeline).RegisterRoutes(api)
	webhook.NewHandler(a.webhooks).RegisterRoutes(api)
	backup.NewHandler(a.backup).RegisterRoutes(api)
	return e
}

func runServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		startupLogger := newLogger(os.Getenv("ENV"))
		startupLogger.Error().Err(err).Msg("startup failed")
		return err
	}
	defer a.Close()
	logger := a.logger

	streams, err := a.streamingProcessors(ctx)
	if err != nil {
		return err
	}

	scheduler := pipeline.NewScheduler(a.jobs, a.batch, schedulerTick, logger.With().Str("component", "scheduler").Logger())
	workers := []func(context.Context){
		scheduler.Run,
		func(ctx context.Context) { a.notifier.RunDispatcher(ctx, dispatchInterval) },
		func(ctx context.Context) { a.compl.RunChecker(ctx, compliance.DefaultCheckInterval) },
		func(ctx context.Context) { a.backup.RunWorker(ctx, a.cfg.BackupInterval) },
	}
	for _, p := range streams {
		p := p
		workers = append(workers, func(ctx context.Context) {
			if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("streaming processor stopped")
			}
		})
	}
	done := make(chan struct{}, len(workers))
	for _, w := range workers {
		w := w
		go func() {
			w(ctx)
			done <- struct{}{}
		}()
	}

	e := a.router()
	go func() {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	for range workers {
		<-done
	}
	scheduler.Wait()
	a.webhooks.Wait()
	logger.Info().Msg("server stopped")
	return nil
}

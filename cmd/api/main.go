package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keyrush/locksmith-dispatch/cmd/mainconfig"
	"github.com/keyrush/locksmith-dispatch/internal/audit"
	appconfig "github.com/keyrush/locksmith-dispatch/internal/config"
	"github.com/keyrush/locksmith-dispatch/internal/dispatch"
	"github.com/keyrush/locksmith-dispatch/internal/geocode"
	"github.com/keyrush/locksmith-dispatch/internal/httpapi"
	"github.com/keyrush/locksmith-dispatch/internal/jobs"
	"github.com/keyrush/locksmith-dispatch/internal/locks"
	"github.com/keyrush/locksmith-dispatch/internal/messaging"
	"github.com/keyrush/locksmith-dispatch/internal/notify"
	"github.com/keyrush/locksmith-dispatch/internal/observability/metrics"
	"github.com/keyrush/locksmith-dispatch/internal/payments"
	"github.com/keyrush/locksmith-dispatch/internal/photos"
	"github.com/keyrush/locksmith-dispatch/internal/providers"
	"github.com/keyrush/locksmith-dispatch/internal/sessions"
	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting locksmith-dispatch API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	// Postgres
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	sqlDB := stdlib.OpenDBFromPool(pool)
	auditSvc := audit.NewService(sqlDB)

	// Redis (assignment locks)
	redisClient := locks.BuildClient(ctx, locks.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		TLS:      cfg.RedisTLS,
	}, logger, !cfg.IsDev())
	lockSvc := locks.NewService(redisClient, logger)

	// Metrics
	registry := prometheus.NewRegistry()
	smsMetrics := metrics.NewSMSMetrics(registry)
	dispatchMetrics := metrics.NewDispatchMetrics(registry)
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	// AWS clients (S3 photos, SQS dispatch queue, SES alerts)
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	// SMS
	msgStore := messaging.NewStore(pool)
	var smsClient messaging.SMSClient
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		smsClient = messaging.NewTwilioClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger)
	} else {
		logger.Warn("no SMS gateway credentials; outbound SMS will only be logged")
	}
	sender := messaging.NewService(smsClient, msgStore, cfg.TwilioFromNumber, logger, smsMetrics)

	// Ops alert email
	var emailSender notify.EmailSender
	switch cfg.EmailProvider {
	case "ses":
		if s := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger); s != nil {
			emailSender = s
		}
	case "sendgrid":
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			emailSender = s
		}
	default:
		emailSender = notify.NewStubEmailSender(logger)
	}
	notifySvc := notify.NewService(emailSender, cfg.OpsAlertEmail, logger)

	// Payments
	paySvc := payments.NewService(cfg.StripeSecretKey, logger)
	eventStore := payments.NewEventStore(pool)
	payWebhook := payments.NewWebhookHandler(cfg.StripeWebhookSecret, eventStore, auditSvc, paymentMetrics, logger)

	// Photos
	s3Client := s3.NewFromConfig(awsCfg)
	photoStore := photos.NewStore(s3Client, s3.NewPresignClient(s3Client), cfg.S3Bucket, cfg.S3PhotoPrefix, cfg.MaxPhotoBytes, logger)
	photoRepo := photos.NewRepository(pool)

	// Repositories
	locksmithRepo := providers.NewRepository(pool)
	jobRepo := jobs.NewRepository(pool)
	sessionRepo := sessions.NewRepository(pool)
	offerRepo := dispatch.NewOfferRepository(pool)

	// Dispatch queue: SQS in deployments, in-process channel in dev
	var dispatchQueue *dispatch.Queue
	var memQueue *dispatch.MemoryQueue
	if cfg.UseMemoryQueue {
		logger.Info("using in-memory dispatch queue")
		memQueue = dispatch.NewMemoryQueue(64)
		dispatchQueue = dispatch.NewQueue(memQueue)
	} else {
		if cfg.DispatchQueueURL == "" {
			logger.Error("DISPATCH_QUEUE_URL is required without USE_MEMORY_QUEUE")
			os.Exit(1)
		}
		dispatchQueue = dispatch.NewQueue(dispatch.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.DispatchQueueURL))
	}

	// Dispatch engine
	engine := dispatch.NewEngine(dispatch.EngineOptions{
		Offers:      offerRepo,
		Jobs:        jobRepo,
		Sessions:    sessionRepo,
		Directory:   locksmithRepo,
		Sender:      sender,
		Locker:      lockSvc,
		Alerts:      notifySvc,
		Audit:       auditSvc,
		Metrics:     dispatchMetrics,
		Logger:      logger,
		WaveSize:    cfg.WaveSize,
		WaveDelay:   cfg.WaveDelay,
		FrontendURL: cfg.FrontendURL,
	})

	// Jobs
	jobFactory := jobs.NewFactory(jobRepo, logger)
	jobAdmin := jobs.NewAdminService(jobRepo, locksmithRepo, engine, dispatchQueue, paySvc, sender, auditSvc, logger).
		WithAlerts(notifySvc)

	// Customer funnel
	sessionEngine := sessions.NewEngine(sessions.EngineOptions{
		Repo:         sessionRepo,
		Geocoder:     geocode.NewClient(cfg.GoogleMapsAPIKey, logger),
		Payments:     paySvc,
		Sender:       sender,
		Jobs:         jobFactory,
		Broadcaster:  engine,
		Dispatch:     dispatchQueue,
		Audit:        auditSvc,
		Logger:       logger,
		ServiceAreas: cfg.ServiceAreas,
		Deposits:     cfg.DepositAmounts(),
		Dev:          cfg.IsDev(),
	})

	// HTTP surface
	var redisPinger httpapi.Pinger
	if redisClient != nil {
		redisPinger = lockSvc
	}
	router := httpapi.New(&httpapi.Config{
		Logger:          logger,
		Sessions:        httpapi.NewSessionHandler(sessionEngine, offerRepo, locksmithRepo, photoStore, photoRepo, cfg.S3Bucket, logger),
		Locksmiths:      httpapi.NewLocksmithHandler(locksmithRepo, auditSvc, logger),
		Jobs:            httpapi.NewJobHandler(jobRepo, jobAdmin, offerRepo, logger),
		Console:         httpapi.NewConsoleHandler(sessionRepo, msgStore, auditSvc, registry, logger),
		SMSWebhook:      httpapi.NewSMSWebhookHandler(engine, locksmithRepo, sender, auditSvc, smsMetrics, cfg.TwilioAuthToken, cfg.BaseURL+"/webhooks/sms", logger),
		Health:          httpapi.NewHealthHandler(pool, redisPinger),
		PaymentsWebhook: payWebhook.Handle,
		MetricsHandler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	// With the memory queue the consumer and the sweeper run in-process;
	// with SQS the dispatch-worker binary owns them.
	workCtx, stopWork := context.WithCancel(ctx)
	defer stopWork()
	var worker *dispatch.Worker
	if memQueue != nil {
		worker = dispatch.NewWorker(engine, memQueue, logger, dispatch.WithWorkerCount(cfg.WorkerCount))
		worker.Start(workCtx)
		sweeper := dispatch.NewSweeper(engine, offerRepo, sessionEngine, cfg.OfferSweepInterval, cfg.SessionAbandonAfter, logger)
		go sweeper.Run(workCtx)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	stopWork()
	if worker != nil {
		worker.Wait()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

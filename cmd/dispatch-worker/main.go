package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/keyrush/locksmith-dispatch/cmd/mainconfig"
	"github.com/keyrush/locksmith-dispatch/internal/audit"
	appconfig "github.com/keyrush/locksmith-dispatch/internal/config"
	"github.com/keyrush/locksmith-dispatch/internal/dispatch"
	"github.com/keyrush/locksmith-dispatch/internal/jobs"
	"github.com/keyrush/locksmith-dispatch/internal/locks"
	"github.com/keyrush/locksmith-dispatch/internal/messaging"
	"github.com/keyrush/locksmith-dispatch/internal/notify"
	"github.com/keyrush/locksmith-dispatch/internal/observability/metrics"
	"github.com/keyrush/locksmith-dispatch/internal/payments"
	"github.com/keyrush/locksmith-dispatch/internal/providers"
	"github.com/keyrush/locksmith-dispatch/internal/sessions"
	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.UseMemoryQueue {
		logger.Error("dispatch-worker requires SQS; the memory queue runs inside the API process")
		os.Exit(1)
	}
	if cfg.DispatchQueueURL == "" {
		logger.Error("DISPATCH_QUEUE_URL is required")
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	auditSvc := audit.NewService(stdlib.OpenDBFromPool(pool))

	redisClient := locks.BuildClient(ctx, locks.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		TLS:      cfg.RedisTLS,
	}, logger, !cfg.IsDev())
	lockSvc := locks.NewService(redisClient, logger)

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	queue := dispatch.NewSQSQueue(sqs.NewFromConfig(awsConfig), cfg.DispatchQueueURL)

	registry := metrics.NewDispatchMetrics(nil)
	smsMetrics := metrics.NewSMSMetrics(nil)

	msgStore := messaging.NewStore(pool)
	var smsClient messaging.SMSClient
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		smsClient = messaging.NewTwilioClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger)
	}
	sender := messaging.NewService(smsClient, msgStore, cfg.TwilioFromNumber, logger, smsMetrics)

	var emailSender notify.EmailSender
	if cfg.EmailProvider == "sendgrid" {
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			emailSender = s
		}
	}
	notifySvc := notify.NewService(emailSender, cfg.OpsAlertEmail, logger)

	offerRepo := dispatch.NewOfferRepository(pool)
	sessionRepo := sessions.NewRepository(pool)

	engine := dispatch.NewEngine(dispatch.EngineOptions{
		Offers:      offerRepo,
		Jobs:        jobs.NewRepository(pool),
		Sessions:    sessionRepo,
		Directory:   providers.NewRepository(pool),
		Sender:      sender,
		Locker:      lockSvc,
		Alerts:      notifySvc,
		Audit:       auditSvc,
		Metrics:     registry,
		Logger:      logger,
		WaveSize:    cfg.WaveSize,
		WaveDelay:   cfg.WaveDelay,
		FrontendURL: cfg.FrontendURL,
	})

	sessionEngine := sessions.NewEngine(sessions.EngineOptions{
		Repo:         sessionRepo,
		Payments:     payments.NewService(cfg.StripeSecretKey, logger),
		Sender:       sender,
		Audit:        auditSvc,
		Logger:       logger,
		ServiceAreas: cfg.ServiceAreas,
		Deposits:     cfg.DepositAmounts(),
		Dev:          cfg.IsDev(),
	})

	worker := dispatch.NewWorker(engine, queue, logger, dispatch.WithWorkerCount(cfg.WorkerCount))
	sweeper := dispatch.NewSweeper(engine, offerRepo, sessionEngine, cfg.OfferSweepInterval, cfg.SessionAbandonAfter, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	worker.Start(runCtx)
	go sweeper.Run(runCtx)
	logger.Info("dispatch worker started", "workers", cfg.WorkerCount, "queue", cfg.DispatchQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down dispatch worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("dispatch worker stopped")
	case <-doneCtx.Done():
		logger.Error("dispatch worker shutdown timed out", "error", doneCtx.Err())
	}
}

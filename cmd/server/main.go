// Command server runs the tag verification service: the scan decision
// pipeline, certificate lifecycle lookups, and factory tag issuance behind
// one HTTP listener. Wiring lives here; business logic stays in internal
// services.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	abusemetrics "skern/internal/abuse/metrics"
	abuseservice "skern/internal/abuse/service"
	devicestore "skern/internal/abuse/store/device"
	velocitystore "skern/internal/abuse/store/velocity"
	"skern/internal/audit"
	certhandler "skern/internal/certificate/handler"
	certservice "skern/internal/certificate/service"
	certstore "skern/internal/certificate/store"
	"skern/internal/platform/config"
	"skern/internal/platform/httpserver"
	"skern/internal/platform/logger"
	platformpostgres "skern/internal/platform/postgres"
	platformredis "skern/internal/platform/redis"
	"skern/internal/retention"
	taghandler "skern/internal/tag/handler"
	tagservice "skern/internal/tag/service"
	tagstore "skern/internal/tag/store"
	httptransport "skern/internal/transport/http"
	"skern/internal/verification/challenge"
	"skern/internal/verification/device"
	"skern/internal/verification/geo"
	"skern/internal/verification/geometry"
	verifhandler "skern/internal/verification/handler"
	verifmetrics "skern/internal/verification/metrics"
	"skern/internal/verification/risk"
	verifservice "skern/internal/verification/service"
	challengestore "skern/internal/verification/store/challenge"
	resultstore "skern/internal/verification/store/result"
	"skern/pkg/platform/tx"
)

// resultStorage is what main needs from a result store: the pipeline's view
// plus the retention purge.
type resultStorage interface {
	verifservice.ResultStore
	retention.ResultPurger
}

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthChecks := map[string]func() error{}

	// Persistence. Without a DSN everything runs in memory, which is how
	// local development and the test environment operate.
	var (
		db     *sql.DB
		runner tx.Runner = tx.PassthroughRunner{}
	)

	var (
		certStore     certservice.Store
		resultStore   resultStorage
		deviceStore   abuseservice.DeviceStore
		velocityStore abuseservice.VelocityStore
		tagStoreImpl  tagservice.TagStore
	)
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if err := platformpostgres.EnsureSchema(ctx, db); err != nil {
			return err
		}
		runner = tx.NewSQLRunner(db)
		certStore = certstore.NewPostgres(db)
		resultStore = resultstore.NewPostgres(db)
		deviceStore = devicestore.NewPostgres(db)
		velocityStore = velocitystore.NewPostgres(db)
		tagStoreImpl = tagstore.NewPostgres(db)
		healthChecks["postgres"] = func() error { return db.Ping() }
		log.Info("postgres connected")
	} else {
		certStore = certstore.NewMemory()
		resultStore = resultstore.New()
		deviceStore = devicestore.New()
		velocityStore = velocitystore.New()
		tagStoreImpl = tagstore.NewMemory()
		log.Warn("no postgres DSN configured, using in-memory stores")
	}

	// Pending challenges live in Redis when available so suspended scans
	// survive a restart; otherwise they are held in memory.
	var challengeStore verifservice.ChallengeStore
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		challengeStore, err = challengestore.NewRedis(redisClient)
		if err != nil {
			return err
		}
		healthChecks["redis"] = func() error { return redisClient.Health(context.Background()) }
		log.Info("redis connected")
	} else {
		challengeStore = challengestore.New()
		log.Warn("no redis URL configured, pending challenges held in memory")
	}

	// Fraud audit trail. Without brokers events are dropped, not buffered.
	var auditor audit.Publisher = audit.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher, err := audit.NewKafkaPublisher(cfg.Kafka, audit.WithLogger(log))
		if err != nil {
			return err
		}
		defer kafkaPublisher.Close()
		auditor = kafkaPublisher
		log.Info("kafka audit publisher started", "topic", cfg.Kafka.Topic)
	} else {
		log.Warn("no kafka brokers configured, audit events disabled")
	}

	verificationMetrics := verifmetrics.New()
	abuseMetrics := abusemetrics.New()

	certSvc, err := certservice.New(certStore, certservice.WithLogger(log))
	if err != nil {
		return err
	}
	abuseSvc, err := abuseservice.New(deviceStore, velocityStore, cfg.Abuse,
		abuseservice.WithLogger(log),
		abuseservice.WithMetrics(abuseMetrics),
	)
	if err != nil {
		return err
	}
	tagSvc, err := tagservice.New(certSvc, tagStoreImpl, cfg.Issuance,
		tagservice.WithLogger(log),
		tagservice.WithAuditPublisher(auditor),
	)
	if err != nil {
		return err
	}

	geometryEngine, err := geometry.New(cfg.Geometry, geometry.WithLogger(log))
	if err != nil {
		return err
	}
	scorer, err := risk.NewScorer(cfg.Risk)
	if err != nil {
		return err
	}
	signer, err := challenge.NewTokenSigner(cfg.Challenge.SigningKey, cfg.Challenge.ResumeTokenTTL)
	if err != nil {
		return err
	}

	verifier, err := verifservice.New(cfg, verifservice.Deps{
		Geometry:     geometryEngine,
		Scorer:       scorer,
		Geo:          geo.NewValidator(cfg.Geo),
		Devices:      device.NewService(true),
		Signer:       signer,
		Certificates: certSvc,
		Abuse:        abuseSvc,
		Results:      resultStore,
		Challenges:   challengeStore,
		Runner:       runner,
	},
		verifservice.WithLogger(log),
		verifservice.WithMetrics(verificationMetrics),
		verifservice.WithAuditPublisher(auditor),
	)
	if err != nil {
		return err
	}

	purger, err := retention.New(resultStore, abuseSvc, cfg.Retention,
		retention.WithLogger(log),
		retention.WithAuditPublisher(auditor),
		retention.WithMetrics(verificationMetrics),
	)
	if err != nil {
		return err
	}
	go purger.Run(ctx)

	router := httptransport.NewRouter(httptransport.Deps{
		Verification: verifhandler.New(verifier, log),
		Certificates: certhandler.New(certSvc, log),
		Tags:         taghandler.New(tagSvc, log),
		IssuerToken:  cfg.Issuance.APIToken,
		Logger:       log,
		HealthChecks: healthChecks,
	})

	srv := httpserver.New(cfg.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

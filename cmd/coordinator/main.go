// Main coordinator service: batch-processing state machine, worker
// dispatch, chain selection, and scoreboard update (spec.md §1).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mina-uptime/coordinator/internal/alerting"
	"github.com/mina-uptime/coordinator/internal/batchstate"
	"github.com/mina-uptime/coordinator/internal/clock"
	"github.com/mina-uptime/coordinator/internal/coordinator"
	"github.com/mina-uptime/coordinator/internal/dispatcher"
	coordlog "github.com/mina-uptime/coordinator/internal/log"
	"github.com/mina-uptime/coordinator/internal/resultdb"
	"github.com/mina-uptime/coordinator/internal/submissionstore"
	"github.com/mina-uptime/coordinator/pkg/config"
)

func main() {
	logger := coordlog.New()
	logger.Info().Msg("starting uptime coordinator")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	coordlog.SetLevel(logger, cfg.String("log_level"))

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	db := resultdb.New(pool)
	if err := db.Bootstrap(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap schema")
	}

	store, err := buildSubmissionStore(context.Background(), cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build submission store")
	}
	if c, ok := store.(interface{ Close() }); ok {
		defer c.Close()
	}

	clk := clock.System{}
	notifier := alerting.New(cfg.WebhookURL())

	dispatch, err := buildDispatcher(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build worker dispatcher")
	}
	dispatch = dispatcher.NewAlarmDispatcher(dispatch, notifier, clk, cfg.AlarmLowerLimit(), cfg.AlarmUpperLimit(), logger)

	checkpoint, err := buildCheckpointStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open local checkpoint store")
	}
	if checkpoint != nil {
		defer checkpoint.Close()
	}

	coord := coordinator.New(store, db, dispatch, checkpoint, clk, coordinator.Config{
		SurveyInterval:                cfg.SurveyInterval(),
		MiniBatchNumber:               cfg.MiniBatchNumber(),
		RetryCount:                    cfg.RetryCount(),
		UptimeDaysForScore:            cfg.UptimeDaysForScore(),
		ChainSelectorPercentageThresh: cfg.ChainSelectorPercentageThreshold(),
		MirrorSubmissions:             cfg.SubmissionStorage == config.StorageCassandra,
		IgnoreApplicationStatus:       cfg.IgnoreApplicationStatus(),
		ContactListURL:                cfg.ContactListURL(),
	}, logger)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddress(),
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info().Str("address", cfg.MetricsAddress()).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	healthServer := &http.Server{
		Addr:    cfg.HealthAddress(),
		Handler: http.HandlerFunc(healthCheckHandler(coord)),
	}
	go func() {
		logger.Info().Str("address", cfg.HealthAddress()).Msg("starting health check server")
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health check server error")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- coord.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errChan:
		if err != nil {
			logger.Error().Err(err).Msg("coordinator stopped with error")
		}
	}

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("health server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}

func buildSubmissionStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (submissionstore.Store, error) {
	switch cfg.SubmissionStorage {
	case config.StoragePostgres:
		return submissionstore.NewPostgresStore(pool), nil
	case config.StorageCassandra:
		var sigV4 *submissionstore.SigV4Config
		if cfg.CassandraUsername() == "" {
			sigV4 = &submissionstore.SigV4Config{
				RoleARN:         cfg.AWSRoleARN(),
				RoleSessionName: cfg.AWSRoleSessionName(),
				WebIdentityFile: cfg.AWSWebIdentityTokenFile(),
				AccessKeyID:     cfg.AWSAccessKeyID(),
				SecretAccessKey: cfg.AWSSecretAccessKey(),
			}
		}
		return submissionstore.NewCassandraStore(ctx, submissionstore.CassandraConfig{
			Host:       cfg.CassandraHost(),
			Port:       cfg.CassandraPort(),
			Keyspace:   cfg.AWSKeyspace(),
			Username:   cfg.CassandraUsername(),
			Password:   cfg.CassandraPassword(),
			SigV4:      sigV4,
			CACertFile: cfg.SSLCertfile(),
		}, logger)
	default:
		return nil, fmt.Errorf("unknown submission storage %q", cfg.SubmissionStorage)
	}
}

func buildDispatcher(cfg *config.Config, logger zerolog.Logger) (dispatcher.Dispatcher, error) {
	switch cfg.Dispatcher {
	case config.DispatcherProcesses:
		return dispatcher.NewProcessDispatcher(cfg.WorkerBinaryPath(), logger), nil
	case config.DispatcherPods:
		return dispatcher.NewPodDispatcher(cfg.KubernetesNamespace(), cfg.WorkerImage(), cfg.WorkerTag(), logger)
	default:
		return nil, fmt.Errorf("unknown dispatcher variant %q", cfg.Dispatcher)
	}
}

// buildCheckpointStore opens the local BoltDB checkpoint only in the
// process-dispatcher (TEST_ENV=1) deployment mode -- the pods dispatcher
// runs in Kubernetes where Postgres's bot_logs table is the only durable
// state across restarts (SPEC_FULL.md's DOMAIN STACK note on bbolt usage).
func buildCheckpointStore(cfg *config.Config) (*batchstate.CheckpointStore, error) {
	if cfg.Dispatcher != config.DispatcherProcesses {
		return nil, nil
	}
	return batchstate.NewCheckpointStore(cfg.CheckpointPath())
}

func healthCheckHandler(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !coord.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "unhealthy")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "healthy")
	}
}


package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"orderflow/internal/api"
	"orderflow/internal/config"
	"orderflow/internal/deadletter"
	"orderflow/internal/gateway"
	"orderflow/internal/journal"
	"orderflow/internal/metrics"
	"orderflow/internal/persister"
	"orderflow/internal/storage"
	"orderflow/internal/stream"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// RunGateway runs the ingest API with the publish/ack gateway behind it.
func (a *App) RunGateway(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := metrics.NewRegistry()

	var jrnl *journal.Journal
	if a.Config.Gateway.JournalDir != "" {
		j, err := journal.Open(a.Config.Gateway.JournalDir)
		if err != nil {
			return fmt.Errorf("open publish journal: %w", err)
		}
		defer j.Close()
		jrnl = j
	} else {
		a.Logger.Warn().Msg("gateway.journal_dir not configured; publish journal disabled")
	}

	producer, err := gateway.NewProducer(a.Config.Kafka.Bootstrap)
	if err != nil {
		return err
	}
	defer producer.Close()

	// Untyped nil keeps the interfaces nil when the journal is disabled.
	var gw *gateway.Gateway
	var srv *api.Server
	if jrnl != nil {
		gw = gateway.New(producer, a.Config.Kafka.TopicRaw, a.Config.Gateway.AckTimeout, jrnl, reg, a.Logger)
		srv = api.New(gw, jrnl, reg, a.Config.Gateway.RecentLimit, a.Logger)
	} else {
		gw = gateway.New(producer, a.Config.Kafka.TopicRaw, a.Config.Gateway.AckTimeout, nil, reg, a.Logger)
		srv = api.New(gw, nil, reg, a.Config.Gateway.RecentLimit, a.Logger)
	}

	a.Logger.Info().Str("topic", a.Config.Kafka.TopicRaw).Msg("starting ingest gateway")
	err = srv.ListenAndServe(ctx, a.Config.Gateway.ListenAddr)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("gateway terminated with error")
		return err
	}
	a.Logger.Info().Msg("ingest gateway stopped")
	return nil
}

// RunStage runs the stream processing stage.
func (a *App) RunStage(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.Config.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the stage")
	}
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	store := storage.NewStore(pool)
	defer store.Close()

	table, err := a.Config.RateTable()
	if err != nil {
		return err
	}

	consumer, err := stream.NewConsumer(a.Config.Kafka.Bootstrap, a.Config.Kafka.GroupID, a.Config.Kafka.TopicRaw)
	if err != nil {
		return err
	}
	defer consumer.Close()

	producer, err := stream.NewProducer(a.Config.Kafka.Bootstrap)
	if err != nil {
		return err
	}
	defer producer.Close()

	dlq, err := a.newDeadLetterSink()
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	go a.serveStageHTTP(ctx, reg)

	pers := persister.New(store, a.Logger)
	stage := stream.New(consumer, producer, pers, dlq, table, stream.Options{
		TopicOut:    a.Config.Kafka.TopicEnriched,
		MaxAttempts: a.Config.Stage.MaxAttempts,
		PollTimeout: a.Config.Stage.PollTimeout,
		Threshold:   a.Config.Threshold(),
	}, reg, a.Logger)

	a.Logger.Info().
		Str("topic_in", a.Config.Kafka.TopicRaw).
		Str("topic_out", a.Config.Kafka.TopicEnriched).
		Msg("starting stream stage")
	err = stage.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("stage terminated with error")
		return err
	}
	a.Logger.Info().Msg("stream stage stopped")
	return nil
}

func (a *App) newDeadLetterSink() (deadletter.Sink, error) {
	var sinks []deadletter.Sink
	if a.Config.Stage.DeadLetterSink == "file" || a.Config.Stage.DeadLetterSink == "both" {
		fs, err := deadletter.NewFileSink(a.Config.Stage.DeadLetterDir, "orders.jsonl")
		if err != nil {
			return nil, fmt.Errorf("init dead letter file sink: %w", err)
		}
		sinks = append(sinks, fs)
	}
	if a.Config.Stage.DeadLetterSink == "kafka" || a.Config.Stage.DeadLetterSink == "both" {
		sinks = append(sinks, deadletter.NewKafkaSink(a.Config.Kafka.Bootstrap, a.Config.Kafka.TopicDeadLetter))
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return deadletter.NewMultiSink(sinks...), nil
}

func (a *App) serveStageHTTP(ctx context.Context, reg *metrics.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{
		Addr:              a.Config.Stage.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.Logger.Error().Err(err).Msg("stage http server failed")
	}
}

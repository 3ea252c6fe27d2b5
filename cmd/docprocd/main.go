package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/veritas-ed/docproc/internal/common"
	"github.com/veritas-ed/docproc/internal/export"
	"github.com/veritas-ed/docproc/internal/ingest"
	"github.com/veritas-ed/docproc/internal/repository"
	"github.com/veritas-ed/docproc/internal/server"
	"github.com/veritas-ed/docproc/internal/status"
	"github.com/veritas-ed/docproc/internal/storage"
	"github.com/veritas-ed/docproc/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Job store: Postgres in deployment, SQLite for local runs.
	var jobs repository.JobRepository
	if strings.HasPrefix(cfg.Database.DSN, "postgres://") || strings.HasPrefix(cfg.Database.DSN, "postgresql://") {
		pool, err := repository.Open(ctx, cfg.Database, log)
		if err != nil {
			log.Error("opening database", "err", err)
			os.Exit(1)
		}
		defer repository.Close(pool, log)
		if err := repository.HealthCheck(ctx, pool, cfg.Database.DialTimeout, log); err != nil {
			log.Error("database health check failed", "err", err)
			os.Exit(1)
		}
		jobs = repository.NewJobRepository(pool, log)
	} else {
		repo, db, err := repository.OpenSQLite(ctx, cfg.Database.DSN, log)
		if err != nil {
			log.Error("opening sqlite store", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		jobs = repo
	}

	// Object store
	client, err := storage.NewMinIOClient(cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.UseSSL)
	if err != nil {
		log.Error("initializing object store client", "err", err)
		os.Exit(1)
	}
	results := storage.NewMinIOStore(client, cfg.Storage.Bucket, log)
	if err := results.EnsureBucket(ctx); err != nil {
		log.Error("ensuring bucket", "err", err)
		os.Exit(1)
	}

	// Optional progress mirror
	var tracker *status.Tracker
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		tracker = status.NewTracker(rdb, cfg.Redis.StatusTTL, log)
		log.Info("status tracker enabled", "addr", cfg.Redis.Addr)
	}

	handler := webhook.NewHandler(jobs, results, tracker, log, webhook.Options{
		ResultPrefix:      cfg.Storage.ResultPrefix,
		DedupeMinChars:    cfg.Webhook.DedupeMinChars,
		MarkFailedOnError: cfg.Webhook.MarkFailedOnError,
	})
	exporter := export.NewService(jobs, log)

	// Optional queue ingress next to the HTTP push endpoint.
	if cfg.Queue.URL != "" {
		consumer, err := ingest.NewConsumer(cfg.Queue.URL, cfg.Queue.Queue, handler, log)
		if err != nil {
			log.Error("starting queue consumer", "err", err)
			os.Exit(1)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("queue consumer stopped", "err", err)
			}
		}()
	}

	// gRPC health endpoint for platform probes.
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)
	go func() {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			log.Error("grpc listen failed", "addr", cfg.Server.GRPCAddr, "err", err)
			return
		}
		log.Info("grpc health serving", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("grpc serve failed", "err", err)
		}
	}()

	router := server.NewRouter(handler, exporter, tracker, log)
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Info("http serving", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http serve failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	grpcServer.GracefulStop()
	log.Info("stopped")
}

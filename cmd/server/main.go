// Command squadcal-server starts the SquadCal gRPC server.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	pb "github.com/and161185/squadcal/api/squadcal/v1"
	"github.com/and161185/squadcal/internal/config"
	"github.com/and161185/squadcal/internal/limiter"
	"github.com/and161185/squadcal/internal/maintenance"
	"github.com/and161185/squadcal/internal/metrics"
	"github.com/and161185/squadcal/internal/migrate"
	"github.com/and161185/squadcal/internal/repository/postgres"
	grpcserver "github.com/and161185/squadcal/internal/server/grpc"
	"github.com/and161185/squadcal/internal/server/ops"
	"github.com/and161185/squadcal/internal/service"
	"github.com/and161185/squadcal/internal/userdir"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownGrace = 5 * time.Second

// main loads configuration, runs migrations, and serves gRPC plus the ops endpoints.
func main() {
	cfg, err := config.Load(config.Source{Args: os.Args[1:]})
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger := newLogger(cfg.Dev)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("opsAddr", cfg.OpsAddr),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(dev bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func run(cfg config.Config, logger *zap.Logger) error {
	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	applied, err := migrate.Up(ctx, cfg.DSN, logger)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", zap.Int64("version", applied))

	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = userdir.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
	}

	m := metrics.New()

	// Repositories
	userRepo := postgres.NewUserRepo(db)
	threadRepo := postgres.NewThreadRepo(db)
	msgRepo := postgres.NewMessageRepo(db)
	entryRepo := postgres.NewEntryRepo(db)

	users := userdir.New(userRepo, rdb, cfg.UserCacheTTL, logger.Named("userdir")).Observe(m)

	loginLim := limiter.NewLockout(db.Pool, limiter.LoginConfig{
		Window: cfg.Login.Window, MaxFails: cfg.Login.MaxFails, BlockFor: cfg.Login.BlockFor,
	})
	ratePool := limiter.NewRatePool(limiter.RateConfig{RPS: cfg.Rate.RPS, Burst: cfg.Rate.Burst})

	// Services
	key := []byte(cfg.JWTKey)
	svc := grpcserver.Services{
		Auth:      service.NewAuthService(userRepo, key, cfg.AccessTTL, loginLim, logger.Named("auth")),
		Directory: service.NewDirectoryService(threadRepo, users, logger.Named("directory")),
		Messages:  service.NewMessageService(msgRepo, threadRepo, users, cfg.MaxFetchLimit, logger.Named("messages")),
		Entries:   service.NewEntryService(entryRepo, threadRepo, logger.Named("entries")),
		Threads:   service.NewThreadService(threadRepo, logger.Named("threads")),
	}
	app := grpcserver.New(svc, key, m, logger)

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.MetricsUnary(m),
			app.AuthUnary(),
			grpcserver.RateLimitUnary(ratePool, m),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return err
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("serving without TLS")
	}
	s := grpc.NewServer(opts...)
	pb.RegisterSquadCalServer(s, app)

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Dev {
		reflection.Register(s)
	}

	checks := map[string]ops.Check{"postgres": db.Ping}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	opsSrv := &http.Server{
		Addr: cfg.OpsAddr,
		Handler: ops.NewRouter(ops.Config{
			Metrics: m.Handler(),
			Checks:  checks,
			Version: version,
			Log:     logger.Named("ops"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sched, err := maintenance.New(cfg.MaintenanceCron, logger.Named("maintenance"),
		maintenance.LimiterJobs(loginLim, ratePool, cfg.Login.Retain, cfg.Rate.Idle, logger)...)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLSCert != ""))
		errCh <- s.Serve(lis)
	}()
	go func() {
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go sched.Run(ctx)

	// Wait for stop
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	hs.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = opsSrv.Shutdown(shutdownCtx)

	// graceful shutdown
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.Stop()
	}
	return serveErr
}

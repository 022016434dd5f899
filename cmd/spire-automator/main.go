package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/spire-automator/internal/engine"
	"github.com/noah-isme/spire-automator/internal/handler"
	"github.com/noah-isme/spire-automator/internal/portal/gateway"
	"github.com/noah-isme/spire-automator/internal/portal/memory"
	"github.com/noah-isme/spire-automator/internal/repository"
	"github.com/noah-isme/spire-automator/internal/service"
	"github.com/noah-isme/spire-automator/pkg/cache"
	"github.com/noah-isme/spire-automator/pkg/config"
	"github.com/noah-isme/spire-automator/pkg/database"
	"github.com/noah-isme/spire-automator/pkg/logger"
	"github.com/noah-isme/spire-automator/pkg/mailer"
	"github.com/noah-isme/spire-automator/pkg/storage"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			log.Fatalf("token: %v", err)
		}
		return
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Error("automator exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	metrics := service.NewMetricsService()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("snapshot cache unavailable, continuing without it", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	plans := service.NewPlanService(nil, logger.Named(logr, "plans"))
	portal, err := newPortal(cfg, plans, metrics, logr)
	if err != nil {
		return err
	}

	cacheSvc := newCacheService(cfg, redisClient, metrics, logr)
	status := service.NewStatusService(cfg.Mode, cacheSvc, cfg.Snapshots.CacheTTL, logger.Named(logr, "status"))

	ledger, err := newLedger(ctx, cfg, db, metrics, logr)
	if err != nil {
		return err
	}

	exports, err := newExports(cfg, logr)
	if err != nil {
		return err
	}

	mail, err := mailer.New(cfg.Notify, logger.Named(logr, "mailer"))
	if err != nil {
		return err
	}
	notifier := service.NewNotificationService(mail, cfg.Notify, logger.Named(logr, "notify"))

	var server *http.Server
	if cfg.Status.Enabled {
		server = startStatusServer(cfg, status, ledger, exports, metrics, logr)
	}

	automator := service.NewAutomatorService(*cfg, service.AutomatorDeps{
		Portal:   portal,
		Plans:    plans,
		Ledger:   ledger,
		Status:   status,
		Metrics:  metrics,
		Exports:  exports,
		Notifier: notifier,
	}, logger.Named(logr, "automator"))

	report, runErr := automator.Run(ctx)
	if report != nil {
		for _, exp := range report.Exports {
			logr.Info("export written", zap.String("path", exp.RelativePath), zap.String("url", exp.URL))
		}
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Warn("status server shutdown", zap.Error(err))
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func newPortal(cfg *config.Config, plans *service.PlanService, metrics *service.MetricsService, logr *zap.Logger) (engine.Portal, error) {
	switch cfg.Portal.Driver {
	case config.PortalDriverMemory:
		fixture, err := plans.LoadFixture(cfg.Portal.FixtureFile)
		if err != nil {
			return nil, err
		}
		logr.Info("using in-memory portal", zap.String("fixture", cfg.Portal.FixtureFile))
		return memory.New(fixture)
	case config.PortalDriverHTTP, "":
		return gateway.New(gateway.Config{
			BaseURL:  cfg.Portal.BaseURL,
			Username: cfg.Portal.Username,
			Password: cfg.Portal.Password,
			Term:     cfg.Portal.Term,
			Timeout:  cfg.Portal.Timeout,
		},
			gateway.WithLogger(logger.Named(logr, "portal")),
			gateway.WithRequestObserver(metrics.ObservePortalRequest),
		)
	default:
		return nil, fmt.Errorf("unknown portal driver %q", cfg.Portal.Driver)
	}
}

func newCacheService(cfg *config.Config, client *redis.Client, metrics *service.MetricsService, logr *zap.Logger) *service.CacheService {
	if client == nil {
		return service.NewCacheService(nil, metrics, cfg.Snapshots.CacheTTL, logr, false)
	}
	repo := repository.NewSnapshotCacheRepository(client, "spire", logger.Named(logr, "cache"))
	return service.NewCacheService(repo, metrics, cfg.Snapshots.CacheTTL, logr, true)
}

func newLedger(ctx context.Context, cfg *config.Config, db *sqlx.DB, metrics *service.MetricsService, logr *zap.Logger) (*service.LedgerService, error) {
	if db == nil {
		return nil, nil
	}
	repo := repository.NewRunRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("prepare ledger schema: %w", err)
	}
	return service.NewLedgerService(repo, cfg.Ledger, metrics, logger.Named(logr, "ledger")), nil
}

func newExports(cfg *config.Config, logr *zap.Logger) (*service.ExportService, error) {
	if cfg.Export.Dir == "" {
		return nil, nil
	}
	store, err := storage.NewLocalStorage(cfg.Export.Dir)
	if err != nil {
		return nil, fmt.Errorf("prepare export dir: %w", err)
	}
	var signer *storage.DownloadSigner
	if cfg.Status.JWTSecret != "" {
		signer = storage.NewDownloadSigner(cfg.Status.JWTSecret, cfg.Export.LinkTTL)
	}
	exports := service.NewExportService(store, signer, cfg.Export.Formats, logger.Named(logr, "exports"))
	if removed, err := exports.Cleanup(cfg.Export.Retention); err != nil {
		logr.Warn("export cleanup failed", zap.Error(err))
	} else if removed > 0 {
		logr.Info("expired exports removed", zap.Int("count", removed))
	}
	return exports, nil
}

func startStatusServer(cfg *config.Config, status *service.StatusService, ledger *service.LedgerService, exports *service.ExportService, metrics *service.MetricsService, logr *zap.Logger) *http.Server {
	var attempts handler.AttemptLister
	if ledger != nil {
		attempts = ledger
	}
	var downloads handler.DownloadOpener
	if exports != nil {
		downloads = exports
	}

	router := handler.NewRouter(handler.RouterConfig{
		Status:         handler.NewStatusHandler(status, attempts, downloads),
		Metrics:        handler.NewMetricsHandler(metrics, cfg.Mode),
		MetricsService: metrics,
		Tokens:         service.NewTokenService(cfg.Status.JWTSecret, cfg.Status.JWTIssuer),
		AllowedOrigins: cfg.Status.AllowedOrigins,
		Logger:         logr,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Status.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("status server starting", "addr", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("status server failed", zap.Error(err))
		}
	}()
	return server
}

func issueToken(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: spire-automator token <subject> [ttl]")
	}
	ttl := 24 * time.Hour
	if len(args) > 1 {
		parsed, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid ttl %q: %w", args[1], err)
		}
		ttl = parsed
	}
	tokens := service.NewTokenService(cfg.Status.JWTSecret, cfg.Status.JWTIssuer)
	if !tokens.Enabled() {
		return errors.New("STATUS_JWT_SECRET is not set")
	}
	token, expiresAt, err := tokens.Issue(args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n# expires %s\n", token, expiresAt.Format(time.RFC3339))
	return nil
}

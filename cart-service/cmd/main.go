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

	"github.com/emart/emart-cart/cart-service/internal/cache"
	"github.com/emart/emart-cart/cart-service/internal/config"
	carthttp "github.com/emart/emart-cart/cart-service/internal/http"
	"github.com/emart/emart-cart/cart-service/internal/migration"
	"github.com/emart/emart-cart/cart-service/internal/poller"
	"github.com/emart/emart-cart/cart-service/internal/repository"
	"github.com/emart/emart-cart/cart-service/internal/service"
	"github.com/emart/emart-cart/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	log := logger.Must(cfg.App.Env)
	zap.ReplaceGlobals(log)

	// run owns every connection, so its deferred cleanup has finished
	// before the process exits
	if err := run(cfg, log); err != nil {
		log.Error("cart service stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("cart service stopped")
	_ = log.Sync()
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.JWT.Secret == "" {
		return errors.New("JWT_SECRET must be set")
	}

	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoDB.URI, cfg.MongoDB.Database)
	if err != nil {
		return fmt.Errorf("mongodb connection failed: %w", err)
	}
	defer func() { _ = mongoDB.Client().Disconnect(context.Background()) }()
	log.Info("connected to mongodb", zap.String("database", cfg.MongoDB.Database))

	if cfg.Migration.RunOnStartup {
		runner := migration.NewRunner(mongoDB, log.Named("migration"))
		if err := runMigrations(ctx, runner, log); err != nil {
			return err
		}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

	repo := repository.NewMongoRepository(mongoDB)
	cartCache := cache.NewRedisCache(redisClient, cfg.Redis.TTL)
	carts := service.NewCartService(repo, cartCache, log.Named("service"))

	router := carthttp.NewRouter(
		carthttp.RouterConfig{
			ServiceName:    cfg.App.Name,
			JWTSecret:      cfg.JWT.Secret,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
		},
		carthttp.NewCartHandler(carts, cfg.Server.RequestTimeout, log.Named("http")),
		carthttp.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]carthttp.Pinger{
			"mongodb": repo,
			"redis":   cartCache,
		}),
		log.Named("http"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("cart service listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if len(cfg.Kafka.Brokers) > 0 {
		p := poller.NewPoller(carts, log.Named("poller"), cfg.Kafka.Brokers...)
		g.Go(func() error {
			defer p.Close()
			p.Run(gctx)
			return nil
		})
	} else {
		log.Info("KAFKA_BROKERS not set, checkout poller disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down cart service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

type migrator interface {
	Run(ctx context.Context) error
	Status(ctx context.Context) (*migration.Report, error)
}

// runMigrations brings the cart store up to date before traffic is served.
// A lock held by another instance is not fatal; that instance is migrating.
func runMigrations(ctx context.Context, m migrator, log *zap.Logger) error {
	err := m.Run(ctx)
	switch {
	case errors.Is(err, migration.ErrLockHeld):
		log.Warn("migrations skipped, another instance holds the lock")
	case err != nil:
		return fmt.Errorf("migrations failed: %w", err)
	}

	report, err := m.Status(ctx)
	if err != nil {
		log.Warn("could not read migration status", zap.Error(err))
		return nil
	}
	if report.Pending() {
		log.Warn("cart store has migrations that are not executed")
	}
	return nil
}

// Command matrixd runs the matrix ledger behind its HTTP API, with the
// royalty scheduler and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/bitfsorg/libmatrix-go/api"
	"github.com/bitfsorg/libmatrix-go/config"
	"github.com/bitfsorg/libmatrix-go/contract"
	"github.com/bitfsorg/libmatrix-go/ledger"
	"github.com/bitfsorg/libmatrix-go/logging"
	"github.com/bitfsorg/libmatrix-go/metrics"
	"github.com/bitfsorg/libmatrix-go/oracle"
	"github.com/bitfsorg/libmatrix-go/payout"
	"github.com/bitfsorg/libmatrix-go/scheduler"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "matrixd:", err)
		os.Exit(1)
	}
}

func run() error {
	dataDir := flag.String("datadir", config.DefaultDataDir(), "data directory")
	configPath := flag.String("config", "", "config file (default <datadir>/config)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the environment is read")
	initOnly := flag.Bool("init", false, "write a default config file and exit")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", *envFile, err)
	}
	path := *configPath
	if path == "" {
		path = config.ConfigPath(*dataDir)
	}

	if *initOnly {
		cfg := config.DefaultConfig()
		cfg.DataDir = *dataDir
		if err := config.SaveConfig(path, cfg); err != nil {
			return err
		}
		fmt.Println("wrote", path)
		return nil
	}

	cfg, err := loadConfig(path, *dataDir)
	if err != nil {
		return err
	}
	env := config.EnvMap(os.Environ())
	if err := config.ApplyEnv(&cfg, env); err != nil {
		return err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	feedCfg, err := oracle.ResolveConfig(cfg.FeedConfig(), env, cfg.Network)
	if err != nil {
		return err
	}
	feed, closeFeed, err := oracle.Open(ctx, feedCfg)
	if err != nil {
		return err
	}
	defer closeFeed()

	params, err := cfg.ContractParams(oracle.NewUSDCostTable(feed, oracle.DefaultUSDPrices))
	if err != nil {
		return err
	}
	collector, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	opts := []contract.Option{contract.WithLogger(log), contract.WithObserver(collector)}
	if cfg.PayoutURL != "" {
		payer, err := payout.Dial(cfg.PayoutConfig(), log)
		if err != nil {
			return err
		}
		opts = append(opts, contract.WithPayer(payer))
	}
	c, err := contract.New(store, params, opts...)
	if err != nil {
		return err
	}
	collector.Sync(c.Stats())

	sched, err := scheduler.New(c, cfg.DistributeInterval, log)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb = redis.NewClient(ropts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.NewRouter(c, api.Options{
			Logger:       log,
			Gatherer:     prometheus.DefaultGatherer,
			AllowOrigins: cfg.AllowOrigins,
			RateLimit:    cfg.RateLimit,
			Redis:        rdb,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("matrixd: listening on %s (%s, %s store)", cfg.ListenAddr, cfg.Network, cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	}

	log.Info("matrixd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadConfig reads path, falling back to defaults when it does not exist.
func loadConfig(path, dataDir string) (config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, config.ErrConfigNotFound) {
		cfg = config.DefaultConfig()
		cfg.DataDir = dataDir
		return cfg, nil
	}
	return cfg, err
}

func openStore(cfg config.Config) (ledger.Store, error) {
	if cfg.Store == "postgres" {
		return ledger.OpenPostgresStore(cfg.DSN)
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return ledger.OpenBoltStore(filepath.Join(cfg.DataDir, "matrix.db"))
}

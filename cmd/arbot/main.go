// arbot runs the cross-exchange arbitrage engine: websocket market
// data in, spatial and triangular detection, risk checks, and paper or
// live execution, with Prometheus metrics and a control API on the
// side.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/arbot-io/arbot/internal/alerts"
	"github.com/arbot-io/arbot/internal/api"
	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/connector"
	"github.com/arbot-io/arbot/internal/db"
	"github.com/arbot-io/arbot/internal/detector"
	"github.com/arbot-io/arbot/internal/execution"
	"github.com/arbot-io/arbot/internal/ledger"
	"github.com/arbot-io/arbot/internal/market"
	"github.com/arbot-io/arbot/internal/metrics"
	"github.com/arbot-io/arbot/internal/models"
	"github.com/arbot-io/arbot/internal/pipeline"
	"github.com/arbot-io/arbot/internal/risk"
)

var configPath = flag.String("config", "", "path to config file (default: ./configs/config.yaml)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	log.Info().
		Str("version", cfg.App.Version).
		Str("mode", cfg.Execution.Mode).
		Msg("Starting arbot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel, cfg); err != nil {
		log.Error().Err(err).Msg("Fatal error")
		os.Exit(1)
	}
	log.Info().Msg("Shutdown complete")
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config) error {
	store := config.NewStore(cfg, *configPath)
	state := market.NewState(cfg.Market.StaleThreshold(),
		time.Duration(cfg.Market.MaxLatencyMS)*time.Millisecond)

	fees := takerFees(cfg)

	// durable store, optional
	var database *db.DB
	var tradeStore ledger.TradeStore
	var signalStore pipeline.SignalStore
	if cfg.Database.Enabled {
		var err error
		database, err = db.New(ctx, cfg.Database, log.Logger)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		tradeStore = database
		signalStore = database
	}

	// redis market mirror, optional
	var cache *market.RedisCache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = market.NewRedisCache(client, cfg.Market.StaleThreshold(), log.Logger)
		if err := cache.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer client.Close()
	}

	books := make(chan *models.OrderBook, 1024)
	registry, err := connector.NewRegistry(cfg.Exchanges, books)
	if err != nil {
		return fmt.Errorf("connectors: %w", err)
	}

	spatial := detector.NewSpatialDetector(state, cfg.Detector.Spatial,
		cfg.Detector.SignalTTL(), fees, log.Logger)
	tri, err := detector.NewTriangularDetector(state, cfg.Detector.Triangular,
		cfg.Detector.SignalTTL(), fees, log.Logger)
	if err != nil {
		return err
	}

	mode := models.ExecutionMode(cfg.Execution.Mode)
	initialCapital := decimal.NewFromFloat(cfg.Execution.InitialCapitalUSD)

	var executor execution.Executor
	if mode == models.ModeLive {
		gateways := buildGateways(cfg)
		executor = execution.NewLiveExecutor(gateways, cfg.Execution, log.Logger)
	} else {
		sim := execution.NewFillSimulator(cfg.Execution.Slippage, fees)
		executor = execution.NewPaperExecutor(state, sim, enabledExchanges(cfg), initialCapital, log.Logger)
	}

	equity := initialCapital.Mul(decimal.NewFromInt(int64(len(enabledExchanges(cfg)))))
	riskMgr := risk.NewManager(cfg.Risk, mode, state, equity, log.Logger)

	alerter, err := buildAlerter(cfg)
	if err != nil {
		return err
	}

	pipe := pipeline.New(pipeline.Options{
		ConfigStore: store,
		Registry:    registry,
		State:       state,
		Cache:       cache,
		Spatial:     spatial,
		Triangular:  tri,
		Queue:       detector.NewQueue(cfg.Detector.QueueSize),
		Risk:        riskMgr,
		Executor:    executor,
		Ledger:      ledger.New(tradeStore, log.Logger),
		Alerter:     alerter,
		Signals:     signalStore,
		Books:       books,
		Fees:        fees,
		Log:         log.Logger,
	})

	apiServer := api.NewServer(cfg.API.Host, cfg.API.Port, pipe, log.Logger)

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort, log.Logger)
	}

	// SIGINT/SIGTERM trigger the same graceful path as POST /stop
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipe.Run(gctx) })
	g.Go(func() error { return apiServer.Start() })
	if metricsServer != nil {
		g.Go(func() error { return metricsServer.Start() })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API shutdown failed")
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Metrics shutdown failed")
			}
		}
		return nil
	})

	err = g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// takerFees collects per-exchange taker fees for detectors and the
// fill simulator.
func takerFees(cfg *config.Config) map[string]decimal.Decimal {
	fees := make(map[string]decimal.Decimal)
	for name, ex := range cfg.Exchanges {
		if ex.Enabled {
			fees[name] = decimal.NewFromFloat(ex.TakerFee)
		}
	}
	return fees
}

func enabledExchanges(cfg *config.Config) []string {
	var names []string
	for name, ex := range cfg.Exchanges {
		if ex.Enabled {
			names = append(names, name)
		}
	}
	return names
}

// buildGateways constructs live order gateways, each behind its own
// REST circuit breaker.
func buildGateways(cfg *config.Config) map[string]execution.Gateway {
	gateways := make(map[string]execution.Gateway)
	for name, ex := range cfg.Exchanges {
		if !ex.Enabled {
			continue
		}
		breaker := connector.NewTransportBreaker(name, log.Logger)
		switch name {
		case "binance":
			gateways[name] = execution.NewBinanceGateway(ex, breaker, log.Logger)
		case "bybit":
			gateways[name] = execution.NewBybitGateway(ex, breaker, log.Logger)
		case "okx":
			gateways[name] = execution.NewOKXGateway(ex, breaker, log.Logger)
		}
	}
	return gateways
}

func buildAlerter(cfg *config.Config) (*alerts.Manager, error) {
	throttle := time.Duration(cfg.Alerts.ThrottleSeconds) * time.Second
	sinks := []alerts.Alerter{alerts.NewLogAlerter(log.Logger)}

	if cfg.Alerts.Enabled && cfg.Alerts.TelegramToken != "" {
		tg, err := alerts.NewTelegramAlerter(cfg.Alerts.TelegramToken,
			cfg.Alerts.TelegramChatID, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sinks = append(sinks, tg)
	}
	return alerts.NewManager(throttle, log.Logger, sinks...), nil
}

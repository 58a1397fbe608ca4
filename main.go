package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futures-trading-bot/config"
	"futures-trading-bot/internal/api"
	"futures-trading-bot/internal/binance"
	"futures-trading-bot/internal/bot"
	"futures-trading-bot/internal/circuit"
	"futures-trading-bot/internal/database"
	"futures-trading-bot/internal/logging"
	"futures-trading-bot/internal/market"
	"futures-trading-bot/internal/notification"
	"futures-trading-bot/internal/position"
	"futures-trading-bot/internal/risk"
	"futures-trading-bot/internal/strategy"
	"futures-trading-bot/internal/vault"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	sampleConfig := flag.Bool("sample-config", false, "write a sample config file and exit")
	flag.Parse()

	if *sampleConfig {
		if err := config.GenerateSampleConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write sample config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("sample config written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LoggingConfig)
	logger.Info().Str("config", *configPath).Msg("configuration loaded")

	// Exchange credentials, optionally out of Vault.
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize vault client")
	}
	creds, err := vaultClient.LoadCredentials(context.Background(), vault.Credentials{
		APIKey:    cfg.BinanceConfig.APIKey,
		SecretKey: cfg.BinanceConfig.SecretKey,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load exchange credentials")
	}
	if creds.APIKey == "" && !cfg.TradingConfig.DryRun {
		logger.Fatal().Msg("no exchange credentials configured")
	}

	client := binance.NewClient(creds.APIKey, creds.SecretKey, cfg.BinanceConfig.BaseURL, logger)

	// Market data: shared cache fed by the kline stream.
	cache := market.NewCache(cfg.StrategyConfig.CandleLimit * 2)
	stream := binance.NewKlineStream(
		cfg.BinanceConfig.StreamURL,
		cfg.TradingConfig.Symbols,
		[]string{cfg.StrategyConfig.TrendInterval, cfg.StrategyConfig.EntryInterval},
		cache.UpdateCandle,
		logger,
	)

	// Position persistence: JSON state file, mirrored to Redis when enabled.
	var store position.Store = position.NewFileStore(cfg.PositionConfig.StateFile)
	if cfg.RedisConfig.Enabled {
		redisStore, err := position.NewRedisStore(
			cfg.RedisConfig.Address, cfg.RedisConfig.Password, cfg.RedisConfig.DB, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, continuing with file store only")
		} else {
			defer redisStore.Close()
			store = position.NewTeeStore(store, redisStore, logger)
		}
	}

	ledger := position.NewLedger(store, logger)
	notifier := notification.NewManager(cfg.NotificationConfig, logger)
	signalEngine := strategy.NewEngine(cfg.StrategyConfig, logger)
	riskEngine := risk.NewEngine(cfg.RiskConfig, logger)
	breaker := circuit.New(cfg.BreakerConfig, logger)

	// Optional trade journal.
	var journal *database.Journal
	if cfg.DatabaseConfig.Enabled && cfg.DatabaseConfig.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		journal, err = database.NewJournal(ctx, cfg.DatabaseConfig.DSN, logger)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("trade journal unavailable, continuing without it")
			journal = nil
		} else {
			defer journal.Close()
		}
	}

	tradingBot := bot.New(cfg, client, cache, signalEngine, riskEngine, ledger,
		breaker, notifier, journal, stream, logger)

	if err := tradingBot.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start bot")
	}

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(cfg.ServerConfig, tradingBot, journal, logger)
		server.Start()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
		if err := server.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("error shutting down status server")
		}
		cancel()
	}

	tradingBot.Stop()
	logger.Info().Msg("shutdown complete")
}

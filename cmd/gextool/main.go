package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Dellyyty/gex-tool/internal/config"
	"github.com/Dellyyty/gex-tool/internal/dashboard"
	"github.com/Dellyyty/gex-tool/internal/gex"
	"github.com/Dellyyty/gex-tool/internal/logger"
	"github.com/Dellyyty/gex-tool/internal/models"
	"github.com/Dellyyty/gex-tool/internal/schwab"
	"github.com/Dellyyty/gex-tool/internal/secrets"
	"github.com/Dellyyty/gex-tool/internal/telegram"
	"github.com/Dellyyty/gex-tool/internal/tokencache"
	"github.com/Dellyyty/gex-tool/internal/yahoo"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

// chainSource is either the brokerage fetcher or the free-tier client.
type chainSource interface {
	Fetch(ctx context.Context) (*models.Chain, error)
}

func main() {
	flag.Parse()

	// Local .env overrides are optional; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	logger.Info("Configuration loaded from %s", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	source := buildSource(ctx, cfg)

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		telegramClient.ListenForCommands(ctx)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	holder := dashboard.NewHolder(cfg.Server.CacheTTL)
	if cfg.Server.Enabled {
		srv := dashboard.NewServer(cfg.Server.ListenAddr, holder, cfg.Market.StrikeIncrement)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("Dashboard server stopped: %v", err)
			}
		}()
	}

	engine := gex.New(gex.Config{
		AggregateDTE:       cfg.GEX.AggregateDTE,
		ExpiryColumns:      cfg.GEX.ExpiryColumns,
		ContractMultiplier: cfg.GEX.ContractMultiplier,
	})

	logger.Info("Starting refresh loop (source: %s, interval: %v, columns: %d, aggregate: 0-%d DTE)",
		cfg.Market.DataSource,
		cfg.Market.RefreshInterval,
		cfg.GEX.ExpiryColumns,
		cfg.GEX.AggregateDTE,
	)

	ticker := time.NewTicker(cfg.Market.RefreshInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	var lastFlip float64

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Refresh cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	logger.Debug("Running initial refresh cycle")
	handleCycleResult(runRefreshCycle(ctx, source, engine, holder, telegramClient, cfg, &lastFlip))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled refresh cycle")
			handleCycleResult(runRefreshCycle(ctx, source, engine, holder, telegramClient, cfg, &lastFlip))
		}
	}
}

// buildSource wires the configured chain source. The Schwab path also
// owns credential plumbing: token cache, external seed, persistence of
// rotated refresh tokens.
func buildSource(ctx context.Context, cfg *config.Config) chainSource {
	if cfg.Market.DataSource == "yahoo" {
		logger.Info("Using Yahoo Finance source for %s (Black-Scholes Greeks)", cfg.Market.YahooSymbol)
		return yahoo.NewClient(cfg.Market.YahooSymbol, cfg.Market.MaxDTE, cfg.Schwab.Timeout)
	}

	cache, err := tokencache.New(cfg.Storage.TokenCachePath)
	if err != nil {
		logger.Fatal("Failed to open token cache: %v", err)
	}

	bridge, err := secrets.NewBridge(ctx, secrets.Config{
		Region:          cfg.Secrets.Region,
		Bucket:          cfg.Secrets.Bucket,
		Key:             cfg.Secrets.Key,
		AccessKeyID:     cfg.Secrets.AccessKeyID,
		SecretAccessKey: cfg.Secrets.SecretAccessKey,
	})
	if err != nil {
		logger.Fatal("Failed to initialize secret store bridge: %v", err)
	}
	bridge.SeedIfEmpty(ctx, cache)

	// The cached bundle wins over config: it carries rotated refresh
	// tokens from previous runs.
	refreshToken := cfg.Schwab.RefreshToken
	opts := []schwab.Option{
		schwab.WithRateLimit(cfg.Schwab.RateLimitPerMinute),
		schwab.WithTokenUpdateFunc(func(u schwab.TokenUpdate) {
			err := cache.Save(&tokencache.Bundle{
				AccessTokenIssuedAt:  u.IssuedAt,
				RefreshTokenIssuedAt: u.IssuedAt,
				AccessToken:          u.AccessToken,
				RefreshToken:         u.RefreshToken,
				IDToken:              u.IDToken,
				ExpiresIn:            u.ExpiresIn,
				TokenType:            u.TokenType,
				Scope:                u.Scope,
			})
			if err != nil {
				logger.Warn("Failed to persist renewed tokens: %v", err)
			}
		}),
	}

	bundle, err := cache.Load()
	if err != nil {
		logger.Warn("Token cache unreadable, falling back to configured refresh token: %v", err)
	}
	if bundle != nil {
		if bundle.RefreshToken != "" {
			refreshToken = bundle.RefreshToken
		}
		// Seed the cached access token when it is still comfortably valid,
		// saving one renewal at startup.
		expiry := bundle.AccessTokenIssuedAt.Add(time.Duration(bundle.ExpiresIn)*time.Second - time.Minute)
		if bundle.AccessToken != "" && time.Now().Before(expiry) {
			opts = append(opts, schwab.WithAccessToken(bundle.AccessToken, expiry))
		}
	}

	client, err := schwab.NewClient(ctx, cfg.Schwab.AppKey, cfg.Schwab.AppSecret, refreshToken, cfg.Schwab.Timeout, opts...)
	if err != nil {
		var renewalErr *schwab.RenewalError
		switch {
		case errors.Is(err, schwab.ErrNotConfigured):
			logger.Fatal("Schwab credentials are missing or placeholders; set schwab.app_key, schwab.app_secret and schwab.refresh_token (or stage a bundle in the secret store): %v", err)
		case errors.As(err, &renewalErr):
			logger.Fatal("Schwab rejected the refresh token at startup; re-authenticate and update it: %v", err)
		default:
			logger.Fatal("Failed to initialize Schwab client: %v", err)
		}
	}

	logger.Info("Using Schwab source for %s", cfg.Market.Symbol)
	return schwab.NewFetcher(client, cfg.Market.Symbol, cfg.Market.MaxDTE, cfg.Schwab.StrikeCount)
}

func runRefreshCycle(
	ctx context.Context,
	source chainSource,
	engine *gex.Engine,
	holder *dashboard.Holder,
	telegramClient *telegram.Client,
	cfg *config.Config,
	lastFlip *float64,
) error {
	startTime := time.Now()
	logger.Debug("Fetching option chain")

	chain, err := source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch option chain: %w", err)
	}
	if chain.Empty() {
		logger.Warn("Chain for %s came back empty, keeping previous report", chain.Symbol)
		return nil
	}

	contracts := gex.FilterStrikes(
		chain.Contracts,
		chain.SpotPrice,
		cfg.Market.StrikeIncrement,
		cfg.Market.StrikesAboveATM,
		cfg.Market.StrikesBelowATM,
	)

	surface, gexByStrike, netContracts := engine.Aggregate(contracts, chain.SpotPrice)
	report := gex.NewReport(chain.Symbol, chain.SpotPrice, chain.Source, surface, gexByStrike, netContracts)
	holder.Set(report)

	logger.Info("Refresh cycle completed in %v: %d contracts, %d strikes, %d expiration columns, spot %.2f",
		time.Since(startTime), len(contracts), len(surface.Rows), len(surface.Expirations), chain.SpotPrice)

	// Notify when the zero-gamma flip migrates to a different strike
	// band; small drift inside one increment is noise.
	if flip, ok := gex.ZeroGammaFlip(gexByStrike, chain.SpotPrice); ok {
		if telegramClient != nil && math.Abs(flip-*lastFlip) >= cfg.Market.StrikeIncrement {
			if sendErr := telegramClient.SendSnapshot(report); sendErr != nil {
				logger.Warn("Failed to send snapshot to Telegram: %v", sendErr)
			}
		}
		*lastFlip = flip
	}

	return nil
}

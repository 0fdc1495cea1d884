package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vreff/BitThetix/api"
	"github.com/vreff/BitThetix/internal/config"
	"github.com/vreff/BitThetix/pkg/market"
	"github.com/vreff/BitThetix/pkg/models"
	"github.com/vreff/BitThetix/pkg/notify"
	"github.com/vreff/BitThetix/pkg/orders"
	"github.com/vreff/BitThetix/pkg/pyth"
	"github.com/vreff/BitThetix/pkg/stacks"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bitthetix",
		Short: "Headless client for the BitThetix synthetic-asset exchange",
		Long:  `Maintains live market data and order tracking for the BitThetix smart contract and serves both to a web front-end over a local HTTP API`,
		Run:   runClient,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, args []string) {
	// Local .env files carry credentials during development.
	_ = godotenv.Load()

	// Initialize logger
	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Chain and price-service clients
	stacksClient := stacks.NewClient(cfg.Stacks.CoreAPIURL, logger)
	contract := stacks.NewContract(
		stacksClient,
		cfg.Stacks.ContractAddress,
		cfg.Stacks.ContractName,
		cfg.Stacks.FeedContractName,
		logger,
	)
	benchmarks := pyth.NewBenchmarkClient(cfg.Pyth.BenchmarkURL, logger)

	// Market data aggregator
	aggregator := market.NewAggregator(contract, benchmarks, logger)
	aggregator.SetThrottleWindow(time.Duration(cfg.Trading.ThrottleWindowSeconds) * time.Second)

	// Order lifecycle tracker
	notifications := notify.NewCenter(logger)
	sbtcContractID := cfg.Stacks.ContractAddress + "." + cfg.Stacks.SBTCContractName
	tracker := orders.NewTracker(
		stacksClient,
		contract.ID(),
		sbtcContractID,
		notifications,
		time.Duration(cfg.Trading.PollIntervalSeconds)*time.Second,
		logger,
	)

	address := cfg.Trading.Address
	tracker.SetOnOrderCompleted(func(models.Order) {
		aggregator.RefreshAllBalances(ctx, address)
	})

	wallet := orders.NewBridgeWallet(
		cfg.Wallet.BridgeURL,
		cfg.Wallet.BridgeToken,
		contract.ID(),
		cfg.Stacks.SponsorAddress,
		sbtcContractID+"::sbtc",
		stacksClient,
		logger,
	)

	// Initial state: assets wholesale, then derived per-asset data.
	if err := aggregator.LoadAssets(ctx); err != nil {
		logger.WithError(err).Warn("Initial asset load failed, continuing with empty set")
	}
	aggregator.RefreshAllBalances(ctx, address)
	aggregator.LoadReferences(ctx)

	if address != "" {
		tracker.Reconcile(ctx, address)
	}
	tracker.Start(ctx)

	// Streaming price subscription
	stream := pyth.NewStreamClient(cfg.Pyth.HermesWSURL, logger)
	if err := stream.Connect(ctx); err != nil {
		logger.WithError(err).Error("Failed to connect to price stream")
	} else if err := stream.Subscribe(aggregator.FeedIDs(), aggregator.ApplyTick); err != nil {
		logger.WithError(err).Error("Failed to subscribe to price stream")
	}

	// Start API server
	apiServer := api.NewServer(
		aggregator,
		tracker,
		wallet,
		notifications,
		logger,
		fmt.Sprintf("%d", cfg.Server.Port),
		cfg.Server.AuthSecret,
		address,
	)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("BitThetix client is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	// Graceful shutdown
	tracker.Stop()
	stream.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("API server shutdown failed")
	}
	cancel()

	logger.Info("BitThetix client stopped")
}

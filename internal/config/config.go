package config

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/vreff/BitThetix/pkg/secrets"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Stacks  StacksConfig  `mapstructure:"stacks"`
	Pyth    PythConfig    `mapstructure:"pyth"`
	Wallet  WalletConfig  `mapstructure:"wallet"`
	Trading TradingConfig `mapstructure:"trading"`
	Logging LoggingConfig `mapstructure:"logging"`
	GCP     GCPConfig     `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	AuthSecret string `mapstructure:"auth_secret"`
}

type StacksConfig struct {
	CoreAPIURL       string `mapstructure:"core_api_url"`
	ContractAddress  string `mapstructure:"contract_address"`
	ContractName     string `mapstructure:"contract_name"`
	FeedContractName string `mapstructure:"feed_contract_name"`
	SBTCContractName string `mapstructure:"sbtc_contract_name"`
	SponsorAddress   string `mapstructure:"sponsor_address"`
}

type PythConfig struct {
	BenchmarkURL string `mapstructure:"benchmark_url"`
	HermesWSURL  string `mapstructure:"hermes_ws_url"`
}

type WalletConfig struct {
	BridgeURL   string `mapstructure:"bridge_url"`
	BridgeToken string `mapstructure:"bridge_token"`
}

type TradingConfig struct {
	// Address is the user principal whose balances and orders the
	// session tracks.
	Address string `mapstructure:"address"`
	// PollIntervalSeconds drives order and transaction status polling.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	// ThrottleWindowSeconds bounds tick application for unfocused assets.
	ThrottleWindowSeconds int `mapstructure:"throttle_window_seconds"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/bitthetix")
	}

	// Read environment variables
	v.SetEnvPrefix("BITTHETIX")
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if set
	overrideFromEnv(&config)

	// Load secrets from GCP if enabled
	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.auth_secret", "")

	// Stacks defaults (mocknet)
	v.SetDefault("stacks.core_api_url", "http://localhost:3999")
	v.SetDefault("stacks.contract_address", "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM")
	v.SetDefault("stacks.contract_name", "bitthetix")
	v.SetDefault("stacks.feed_contract_name", "mock-price-feed")
	v.SetDefault("stacks.sbtc_contract_name", "sbtc")
	v.SetDefault("stacks.sponsor_address", "")

	// Pyth defaults
	v.SetDefault("pyth.benchmark_url", "https://benchmarks.pyth.network/v1/shims/tradingview/history")
	v.SetDefault("pyth.hermes_ws_url", "wss://hermes.pyth.network/ws")

	// Wallet bridge defaults
	v.SetDefault("wallet.bridge_url", "http://localhost:3998/contract-call")
	v.SetDefault("wallet.bridge_token", "")

	// Trading defaults
	v.SetDefault("trading.address", "")
	v.SetDefault("trading.poll_interval_seconds", 5)
	v.SetDefault("trading.throttle_window_seconds", 5)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// GCP defaults
	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	// Secret name defaults
	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.api_auth_secret", secretNames.APIAuthSecret)
	v.SetDefault("gcp.secret_names.wallet_bridge_token", secretNames.WalletBridgeToken)
}

func overrideFromEnv(config *Config) {
	if coreURL := os.Getenv("STACKS_CORE_API_URL"); coreURL != "" {
		config.Stacks.CoreAPIURL = coreURL
	}
	if address := os.Getenv("BITTHETIX_ADDRESS"); address != "" {
		config.Trading.Address = address
	}
	if token := os.Getenv("WALLET_BRIDGE_TOKEN"); token != "" {
		config.Wallet.BridgeToken = token
	}
	if secret := os.Getenv("BITTHETIX_API_AUTH_SECRET"); secret != "" {
		config.Server.AuthSecret = secret
	}

	// GCP configuration from environment
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	// Only load secrets if they're not already set
	if config.Server.AuthSecret == "" {
		config.Server.AuthSecret = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.APIAuthSecret, "")
	}
	if config.Wallet.BridgeToken == "" {
		config.Wallet.BridgeToken = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.WalletBridgeToken, "")
	}

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}

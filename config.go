package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/walletmux/walletmux/pkg/log"
)

// Mode selects how the node resolves accounts and whether it signs
// transactions locally.
type Mode string

const (
	// ModeFixed impersonates a single address without signing; the
	// upstream node is expected to accept unsigned transactions.
	ModeFixed Mode = "fixed"
	// ModeHDWallet derives accounts from a mnemonic and signs locally.
	ModeHDWallet Mode = "hd-wallet"
	// ModeLocalKeys loads explicit private keys and signs locally.
	ModeLocalKeys Mode = "local-keys"
)

const (
	configDirPathEnv     = "WALLETMUX_CONFIG_DIR_PATH"
	defaultConfigDirPath = "."
)

// Config is the full node configuration, read from environment
// variables (optionally seeded from a .env file).
type Config struct {
	Mode        string `env:"WALLETMUX_MODE" env-default:"hd-wallet" validate:"oneof=fixed hd-wallet local-keys"`
	UpstreamURL string `env:"WALLETMUX_UPSTREAM_URL" validate:"required,uri"`
	ChainID     uint64 `env:"WALLETMUX_CHAIN_ID" env-default:"0"`

	ListenHost  string `env:"WALLETMUX_LISTEN_HOST" env-default:"127.0.0.1"`
	ListenPort  int    `env:"WALLETMUX_LISTEN_PORT" env-default:"8545" validate:"min=0,max=65535"`
	MetricsPort int    `env:"WALLETMUX_METRICS_PORT" env-default:"4242" validate:"min=0,max=65535"`

	// Fixed mode.
	Address string `env:"WALLETMUX_ADDRESS" env-default:""`

	// HD wallet mode.
	Mnemonic       string `env:"WALLETMUX_MNEMONIC" env-default:""`
	DerivationPath string `env:"WALLETMUX_DERIVATION_PATH" env-default:"m/44'/60'/0'/0/"`
	InitialIndex   uint32 `env:"WALLETMUX_INITIAL_INDEX" env-default:"0"`
	AccountCount   uint32 `env:"WALLETMUX_ACCOUNT_COUNT" env-default:"10" validate:"min=1"`
	Passphrase     string `env:"WALLETMUX_PASSPHRASE" env-default:""`

	// Local keys mode. Comma-separated hex private keys.
	PrivateKeys string `env:"WALLETMUX_PRIVATE_KEYS" env-default:""`

	// Transaction defaults.
	GasPriceWei   uint64 `env:"WALLETMUX_GAS_PRICE" env-default:"0"`
	GasLimit      uint64 `env:"WALLETMUX_GAS_LIMIT" env-default:"0"`
	GasMultiplier string `env:"WALLETMUX_GAS_MULTIPLIER" env-default:"1"`

	// Call history. Empty URL disables the store.
	HistoryDatabaseURL string `env:"WALLETMUX_HISTORY_DATABASE_URL" env-default:""`

	Log log.Config
}

// LoadConfig builds configuration from environment variables and fails
// fast on anything structurally wrong, before the server starts.
func LoadConfig(logger log.Logger) (*Config, error) {
	logger = logger.WithName("config")

	configDirPath := os.Getenv(configDirPathEnv)
	if configDirPath == "" {
		configDirPath = defaultConfigDirPath
	}

	configDotEnvPath := filepath.Join(configDirPath, ".env")
	if err := godotenv.Load(configDotEnvPath); err != nil {
		logger.Debug(".env file not found", "path", configDotEnvPath)
	} else {
		logger.Info("loaded .env file", "path", configDotEnvPath)
	}

	config := &Config{}
	if err := cleanenv.ReadEnv(config); err != nil {
		return nil, errors.Wrap(err, "failed to read environment")
	}

	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if err := config.validateMode(); err != nil {
		return nil, err
	}
	if _, err := config.GasMultiplierDecimal(); err != nil {
		return nil, err
	}

	logger.Info("configuration loaded",
		"mode", config.Mode,
		"upstream", config.UpstreamURL,
		"chainID", config.ChainID,
	)
	return config, nil
}

// validateMode checks the mode-specific wallet parameters.
func (c *Config) validateMode() error {
	switch Mode(c.Mode) {
	case ModeFixed:
		if !common.IsHexAddress(c.Address) {
			return errors.Errorf("fixed mode requires a valid WALLETMUX_ADDRESS, got %q", c.Address)
		}
	case ModeHDWallet:
		if c.Mnemonic == "" {
			return errors.New("hd-wallet mode requires WALLETMUX_MNEMONIC")
		}
	case ModeLocalKeys:
		if len(c.PrivateKeyList()) == 0 {
			return errors.New("local-keys mode requires WALLETMUX_PRIVATE_KEYS")
		}
	}
	return nil
}

// PrivateKeyList splits the comma-separated private key setting.
func (c *Config) PrivateKeyList() []string {
	if c.PrivateKeys == "" {
		return nil
	}
	parts := strings.Split(c.PrivateKeys, ",")
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}

// GasMultiplierDecimal parses the gas safety margin multiplier.
func (c *Config) GasMultiplierDecimal() (decimal.Decimal, error) {
	multiplier, err := decimal.NewFromString(c.GasMultiplier)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "invalid WALLETMUX_GAS_MULTIPLIER %q", c.GasMultiplier)
	}
	if multiplier.LessThanOrEqual(decimal.Zero) {
		return decimal.Decimal{}, errors.Errorf("WALLETMUX_GAS_MULTIPLIER must be positive, got %s", c.GasMultiplier)
	}
	return multiplier, nil
}

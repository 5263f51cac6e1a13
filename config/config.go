package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

type Config struct {
	ListenAddress   string `toml:"ListenAddress"`
	EVMEndpoint     string `toml:"EVMEndpoint"`
	ChainID         int64  `toml:"ChainID"`
	DataDir         string `toml:"DataDir"`
	CustodyKeyPath  string `toml:"CustodyKeyPath"`
	AdminAddress    string `toml:"AdminAddress"`
	FeeRecipient    string `toml:"FeeRecipient"`
	PercentFee      uint64 `toml:"PercentFee"`
	FlatFee         string `toml:"FlatFee"`
	LogPath         string `toml:"LogPath"`
	RateLimitPerSec int    `toml:"RateLimitPerSec"`
}

// Load reads the configuration from the given path, writing a commented
// default file when none exists.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if writeErr := writeDefault(path, cfg); writeErr != nil {
			return nil, writeErr
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ListenAddress:   ":8645",
		EVMEndpoint:     "http://127.0.0.1:8545",
		ChainID:         1,
		DataDir:         "./giftvault-data",
		CustodyKeyPath:  "./custody.key",
		RateLimitPerSec: 20,
	}
}

func applyDefaults(cfg *Config) {
	defaults := defaultConfig()
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = defaults.ListenAddress
	}
	if strings.TrimSpace(cfg.EVMEndpoint) == "" {
		cfg.EVMEndpoint = defaults.EVMEndpoint
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = defaults.ChainID
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaults.DataDir
	}
	if strings.TrimSpace(cfg.CustodyKeyPath) == "" {
		cfg.CustodyKeyPath = defaults.CustodyKeyPath
	}
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = defaults.RateLimitPerSec
	}
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	if c.ChainID <= 0 {
		return fmt.Errorf("config: ChainID must be positive, got %d", c.ChainID)
	}
	if !ethcommon.IsHexAddress(c.FeeRecipient) {
		return fmt.Errorf("config: FeeRecipient %q is not a hex address", c.FeeRecipient)
	}
	if !ethcommon.IsHexAddress(c.AdminAddress) {
		return fmt.Errorf("config: AdminAddress %q is not a hex address", c.AdminAddress)
	}
	if c.PercentFee > 100 {
		return fmt.Errorf("config: PercentFee must be at most 100, got %d", c.PercentFee)
	}
	if strings.TrimSpace(c.FlatFee) != "" {
		if _, ok := c.FlatFeeWei(); !ok {
			return fmt.Errorf("config: FlatFee %q is not a decimal integer", c.FlatFee)
		}
	}
	return nil
}

// FlatFeeWei parses the flat fee as a base-10 integer in wei. An empty field
// means zero.
func (c *Config) FlatFeeWei() (*big.Int, bool) {
	s := strings.TrimSpace(c.FlatFee)
	if s == "" {
		return big.NewInt(0), true
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

// FeeRecipientAddress returns the parsed fee recipient.
func (c *Config) FeeRecipientAddress() ethcommon.Address {
	return ethcommon.HexToAddress(c.FeeRecipient)
}

// AdminAddr returns the parsed admin address.
func (c *Config) AdminAddr() ethcommon.Address {
	return ethcommon.HexToAddress(c.AdminAddress)
}

func writeDefault(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

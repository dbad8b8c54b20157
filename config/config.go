package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"matchvault/native/fees"
)

type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	DataDir        string `toml:"DataDir"`
	ServiceName    string `toml:"ServiceName"`
	Environment    string `toml:"Environment"`
	FeeTreasury    string `toml:"FeeTreasury"`
	PlatformFeeBps uint32 `toml:"PlatformFeeBps"`
	RecordBond     int64  `toml:"RecordBond"`
}

// Load reads the configuration from the given path, writing a commented
// default file when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
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

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./matchvault-data"
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "matchvaultd"
	}
}

// Validate checks the fee and treasury settings before the node starts.
func (cfg *Config) Validate() error {
	if _, err := cfg.Treasury(); err != nil {
		return err
	}
	if cfg.PlatformFeeBps > fees.BpsDenominator {
		return fmt.Errorf("config: PlatformFeeBps %d exceeds %d", cfg.PlatformFeeBps, fees.BpsDenominator)
	}
	if cfg.RecordBond < 0 {
		return fmt.Errorf("config: RecordBond must be non-negative")
	}
	return nil
}

// Treasury decodes the configured fee treasury address.
func (cfg *Config) Treasury() ([20]byte, error) {
	var treasury [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(cfg.FeeTreasury), "0x")
	if trimmed == "" {
		return treasury, fmt.Errorf("config: FeeTreasury is required")
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return treasury, fmt.Errorf("config: invalid FeeTreasury: %w", err)
	}
	if len(decoded) != len(treasury) {
		return treasury, fmt.Errorf("config: FeeTreasury must be %d bytes", len(treasury))
	}
	copy(treasury[:], decoded)
	if treasury == ([20]byte{}) {
		return treasury, fmt.Errorf("config: FeeTreasury must not be the zero address")
	}
	return treasury, nil
}

// FeePolicy builds the process-wide settlement policy from the configuration.
func (cfg *Config) FeePolicy() (fees.Policy, error) {
	treasury, err := cfg.Treasury()
	if err != nil {
		return fees.Policy{}, err
	}
	policy := fees.Policy{Treasury: treasury, FeeBps: cfg.PlatformFeeBps}
	if err := policy.Validate(); err != nil {
		return fees.Policy{}, err
	}
	return policy, nil
}

// Bond returns the configured record-creation bond.
func (cfg *Config) Bond() *big.Int {
	if cfg.RecordBond <= 0 {
		return big.NewInt(0)
	}
	return big.NewInt(cfg.RecordBond)
}

// createDefault creates and saves a default configuration file. The treasury
// is intentionally left empty so a fresh install fails loudly until one is
// configured.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     ":8545",
		DataDir:        "./matchvault-data",
		ServiceName:    "matchvaultd",
		Environment:    "local",
		PlatformFeeBps: fees.DefaultPlatformFeeBps,
		RecordBond:     0,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, fmt.Errorf("config: wrote default config to %s; set FeeTreasury and restart", path)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

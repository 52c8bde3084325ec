package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	nativecommon "fundchain/native/common"
	"fundchain/native/fund"
)

// Asset describes one allow-listed deposit asset.
type Asset struct {
	Symbol   string `toml:"Symbol"`
	FeedID   string `toml:"FeedID"`
	Decimals uint8  `toml:"Decimals"`
}

// Quota mirrors the per-address submission limits enforced by the gateway.
// Zero limits disable the corresponding check.
type Quota struct {
	MaxRequestsPerEpoch uint32 `toml:"MaxRequestsPerEpoch"`
	MaxValuePerEpoch    string `toml:"MaxValuePerEpoch"`
	EpochBlocks         uint32 `toml:"EpochBlocks"`
}

// Config is the on-disk configuration of the fund module. Amount-typed fields
// are decimal strings so operators never deal with raw base units.
type Config struct {
	ClaimToken             string  `toml:"ClaimToken"`
	EvaluationPeriodBlocks uint64  `toml:"EvaluationPeriodBlocks"`
	ManagementFeeWeight    string  `toml:"ManagementFeeWeight"`
	MaxSingleWithdrawal    string  `toml:"MaxSingleWithdrawal"`
	MaxRequestsPerBatch    uint32  `toml:"MaxRequestsPerBatch"`
	Treasury               string  `toml:"Treasury"`
	ManagementTreasury     string  `toml:"ManagementTreasury"`
	Quota                  Quota   `toml:"Quota"`
	Assets                 []Asset `toml:"Assets"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	defaults := fund.DefaultParams()
	if strings.TrimSpace(cfg.ClaimToken) == "" {
		cfg.ClaimToken = defaults.ClaimToken
	}
	if cfg.EvaluationPeriodBlocks == 0 {
		cfg.EvaluationPeriodBlocks = defaults.EvaluationPeriodBlocks
	}
	if strings.TrimSpace(cfg.ManagementFeeWeight) == "" {
		cfg.ManagementFeeWeight = defaults.ManagementFeeWeight.String()
	}
	if strings.TrimSpace(cfg.MaxSingleWithdrawal) == "" {
		cfg.MaxSingleWithdrawal = defaults.MaxSingleWithdrawal.String()
	}
	if cfg.MaxRequestsPerBatch == 0 {
		cfg.MaxRequestsPerBatch = defaults.MaxRequestsPerBatch
	}
	if cfg.Assets == nil {
		cfg.Assets = []Asset{}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
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

// Params converts the on-disk representation into the runtime parameter set.
func (c *Config) Params() (fund.Params, error) {
	params := fund.DefaultParams()
	params.ClaimToken = strings.ToUpper(strings.TrimSpace(c.ClaimToken))
	params.EvaluationPeriodBlocks = c.EvaluationPeriodBlocks
	params.MaxRequestsPerBatch = c.MaxRequestsPerBatch

	fee, err := fund.ParseValue(c.ManagementFeeWeight, fund.TokenDecimals)
	if err != nil {
		return fund.Params{}, fmt.Errorf("invalid ManagementFeeWeight: %w", err)
	}
	params.ManagementFeeWeight = fee

	maxWithdrawal, err := fund.ParseValue(c.MaxSingleWithdrawal, fund.TokenDecimals)
	if err != nil {
		return fund.Params{}, fmt.Errorf("invalid MaxSingleWithdrawal: %w", err)
	}
	params.MaxSingleWithdrawal = maxWithdrawal

	if params.Treasury, err = parseAddress(c.Treasury); err != nil {
		return fund.Params{}, fmt.Errorf("invalid Treasury: %w", err)
	}
	if params.ManagementTreasury, err = parseAddress(c.ManagementTreasury); err != nil {
		return fund.Params{}, fmt.Errorf("invalid ManagementTreasury: %w", err)
	}

	quota := nativecommon.Quota{
		MaxRequestsPerEpoch: c.Quota.MaxRequestsPerEpoch,
		EpochBlocks:         c.Quota.EpochBlocks,
	}
	if trimmed := strings.TrimSpace(c.Quota.MaxValuePerEpoch); trimmed != "" {
		valueCap, err := fund.ParseValue(trimmed, fund.TokenDecimals)
		if err != nil {
			return fund.Params{}, fmt.Errorf("invalid Quota.MaxValuePerEpoch: %w", err)
		}
		quota.MaxValuePerEpoch = valueCap.Amount
	}
	params.RequestQuota = quota

	if err := params.Validate(); err != nil {
		return fund.Params{}, err
	}
	return params, nil
}

// AssetConfigs converts the configured asset entries into listing requests.
func (c *Config) AssetConfigs() []fund.AssetConfig {
	configs := make([]fund.AssetConfig, 0, len(c.Assets))
	for _, asset := range c.Assets {
		configs = append(configs, fund.AssetConfig{
			Symbol:   asset.Symbol,
			Decimals: asset.Decimals,
			FeedID:   asset.FeedID,
		})
	}
	return configs
}

// parseAddress decodes a 20-byte hex address with an optional 0x prefix. An
// empty string maps to the zero address, which disables the destination.
func parseAddress(s string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if trimmed == "" {
		return addr, nil
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, err
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("address must be %d bytes, got %d", len(addr), len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}

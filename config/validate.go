package config

import (
	"fmt"
	"strings"
)

// ValidateConfig rejects configurations the fund module cannot run with
// before any state is touched.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if _, err := cfg.Params(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	seen := make(map[string]bool, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: asset symbol required")
		}
		if strings.TrimSpace(asset.FeedID) == "" {
			return fmt.Errorf("config: asset %s missing feed id", symbol)
		}
		if seen[symbol] {
			return fmt.Errorf("config: duplicate asset %s", symbol)
		}
		seen[symbol] = true
	}
	return nil
}

package fund

import (
	"fmt"
	"strings"
	"sync"
)

// ValuationOracle resolves the latest price for a configured feed. Prices are
// read synchronously inside the processing step that needs them and are never
// cached across batches.
type ValuationOracle interface {
	LatestPrice(feedID string) (Value, error)
}

// StaticOracle is a governance-maintained price table keyed by feed
// identifier. It backs deployments where prices are pushed on-chain by an
// authorised reporter rather than pulled from an external aggregator.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]Value
}

// NewStaticOracle constructs an empty price table.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[string]Value)}
}

// SetPrice records the latest observation for a feed, replacing any previous
// value. The price keeps the scale it was reported at.
func (o *StaticOracle) SetPrice(feedID string, price Value) error {
	if o == nil {
		return ErrNilOracle
	}
	trimmed := strings.TrimSpace(feedID)
	if trimmed == "" {
		return fmt.Errorf("fund: oracle feed id required")
	}
	if price.IsZero() {
		return ErrAmountNotPositive
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[trimmed] = price.Clone()
	return nil
}

// LatestPrice implements ValuationOracle.
func (o *StaticOracle) LatestPrice(feedID string) (Value, error) {
	if o == nil {
		return Value{}, ErrNilOracle
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[strings.TrimSpace(feedID)]
	if !ok {
		return Value{}, fmt.Errorf("%w: feed %s", ErrPriceUnavailable, feedID)
	}
	return price.Clone(), nil
}

package common

import (
	"errors"
	"math"
	"math/big"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaValueCapExceeded = errors.New("quota value cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the usage counters recorded for an address inside the
// current quota epoch.
type QuotaNow struct {
	ReqCount  uint32
	ValueUsed *big.Int
	EpochID   uint64
}

// Quota defines the per-address limits a module enforces within one epoch. A
// zero limit disables the corresponding check.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxValuePerEpoch    *big.Int
	EpochBlocks         uint32
}

// Epoch maps a block height onto a quota epoch identifier.
func (q Quota) Epoch(block uint64) uint64 {
	if q.EpochBlocks == 0 {
		return 0
	}
	return block / uint64(q.EpochBlocks)
}

// CheckQuota verifies whether the additional request and value usage fit
// within the configured quota. The returned QuotaNow reflects the updated
// counters when the quota is not exceeded; on denial the previous counters
// are returned unchanged.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addValue *big.Int) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}
	if next.ValueUsed == nil {
		next.ValueUsed = big.NewInt(0)
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addValue != nil && addValue.Sign() > 0 {
		next.ValueUsed = new(big.Int).Add(next.ValueUsed, addValue)
	}
	if q.MaxValuePerEpoch != nil && q.MaxValuePerEpoch.Sign() > 0 && next.ValueUsed.Cmp(q.MaxValuePerEpoch) > 0 {
		return prev, ErrQuotaValueCapExceeded
	}

	return next, nil
}

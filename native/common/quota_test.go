package common

import (
	"errors"
	"math/big"
	"testing"
)

func TestCheckQuotaRequestLimit(t *testing.T) {
	q := Quota{MaxRequestsPerEpoch: 10}
	prev := QuotaNow{EpochID: 1}

	next, err := CheckQuota(q, 1, prev, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ReqCount != 10 {
		t.Fatalf("unexpected request count: %d", next.ReqCount)
	}

	denied, err := CheckQuota(q, 1, next, 1, nil)
	if !errors.Is(err, ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
	if denied.ReqCount != next.ReqCount || denied.EpochID != next.EpochID {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 2, next, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.EpochID != 2 || rollover.ReqCount != 1 {
		t.Fatalf("unexpected state after rollover: %+v", rollover)
	}
}

func TestCheckQuotaValueCap(t *testing.T) {
	q := Quota{MaxValuePerEpoch: big.NewInt(1000)}
	prev := QuotaNow{EpochID: 5}

	next, err := CheckQuota(q, 5, prev, 0, big.NewInt(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ValueUsed.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected value used: %s", next.ValueUsed)
	}

	_, err = CheckQuota(q, 5, next, 0, big.NewInt(1))
	if !errors.Is(err, ErrQuotaValueCapExceeded) {
		t.Fatalf("expected ErrQuotaValueCapExceeded, got %v", err)
	}

	rollover, err := CheckQuota(q, 6, next, 0, big.NewInt(500))
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.ValueUsed.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected value used after rollover: %s", rollover.ValueUsed)
	}
}

func TestQuotaEpoch(t *testing.T) {
	q := Quota{EpochBlocks: 100}
	if got := q.Epoch(0); got != 0 {
		t.Fatalf("unexpected epoch for block 0: %d", got)
	}
	if got := q.Epoch(199); got != 1 {
		t.Fatalf("unexpected epoch for block 199: %d", got)
	}
	unbounded := Quota{}
	if got := unbounded.Epoch(12345); got != 0 {
		t.Fatalf("expected zero epoch when epoch blocks unset, got %d", got)
	}
}

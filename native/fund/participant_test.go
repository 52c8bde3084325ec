package fund

import (
	"testing"
)

func TestParticipantRegistryMembership(t *testing.T) {
	store := newMockStorage()
	governor := testAddr(0xA0)
	store.grantRole(RoleGovernanceExecutor, governor)
	registry := NewParticipantRegistry(store)

	poolA := NewReferralPool("alpha", mustValue(t, "0.1", 18))
	poolB := NewReferralPool("beta", mustValue(t, "0.05", 18))

	if err := registry.Register(testAddr(0x01), poolA); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := registry.Register(governor, poolA); err != nil {
		t.Fatalf("register poolA: %v", err)
	}
	if err := registry.Register(governor, poolA); err != ErrParticipantExists {
		t.Fatalf("expected ErrParticipantExists, got %v", err)
	}
	if err := registry.Register(governor, poolB); err != nil {
		t.Fatalf("register poolB: %v", err)
	}

	listed := registry.List()
	if len(listed) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(listed))
	}
	if listed[0].Address() != poolA.Address() || listed[1].Address() != poolB.Address() {
		t.Fatalf("expected insertion order to be preserved")
	}

	if err := registry.Remove(governor, poolA.Address()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := registry.Get(poolA.Address()); ok {
		t.Fatalf("expected poolA removed")
	}
	if err := registry.Remove(governor, poolA.Address()); err != ErrIncentiveNotFound {
		t.Fatalf("expected ErrIncentiveNotFound, got %v", err)
	}
	if remaining := registry.List(); len(remaining) != 1 || remaining[0].Address() != poolB.Address() {
		t.Fatalf("unexpected remaining participants")
	}
}

func TestResolveIncentive(t *testing.T) {
	store := newMockStorage()
	governor := testAddr(0xA0)
	store.grantRole(RoleGovernanceExecutor, governor)
	registry := NewParticipantRegistry(store)

	pool := NewReferralPool("alpha", mustValue(t, "0.1", 18))
	if err := registry.Register(governor, pool); err != nil {
		t.Fatalf("register: %v", err)
	}
	enrolled := testAddr(0x11)
	pool.Enroll(enrolled)

	if _, resolution := registry.resolveIncentive([20]byte{}, enrolled); resolution != incentiveNotApplicable {
		t.Fatalf("expected zero incentive to be not applicable")
	}
	if _, resolution := registry.resolveIncentive(testAddr(0xFF), enrolled); resolution != incentiveNotFound {
		t.Fatalf("expected unknown incentive to resolve not found")
	}
	if _, resolution := registry.resolveIncentive(pool.Address(), testAddr(0x22)); resolution != incentiveNotQualified {
		t.Fatalf("expected unenrolled user to resolve not qualified")
	}
	participant, resolution := registry.resolveIncentive(pool.Address(), enrolled)
	if resolution != incentiveValid || participant == nil {
		t.Fatalf("expected enrolled user to resolve valid")
	}
}

func TestReferralPoolWeightGatedOnGain(t *testing.T) {
	pool := NewReferralPool("alpha", mustValue(t, "0.1", 18))
	supply := mustValue(t, "100", 18)

	weight, err := pool.DilutionWeight(supply, mustValue(t, "1.5", 18))
	if err != nil {
		t.Fatalf("dilution weight: %v", err)
	}
	if weight.String() != "0.1" {
		t.Fatalf("expected full weight on gain, got %s", weight)
	}

	for _, rf := range []string{"1", "0.5"} {
		weight, err := pool.DilutionWeight(supply, mustValue(t, rf, 18))
		if err != nil {
			t.Fatalf("dilution weight at rf %s: %v", rf, err)
		}
		if !weight.IsZero() {
			t.Fatalf("expected zero weight at rf %s, got %s", rf, weight)
		}
	}
}

func TestReferralPoolAccounting(t *testing.T) {
	pool := NewReferralPool("alpha", mustValue(t, "0.1", 18))
	user := testAddr(0x11)

	if err := pool.RecordDirectDeposit(user, mustValue(t, "25", 18)); err != nil {
		t.Fatalf("record direct deposit: %v", err)
	}
	if err := pool.RecordDisbursement(mustValue(t, "3", 18)); err != nil {
		t.Fatalf("record disbursement: %v", err)
	}
	direct, disbursed := pool.Totals()
	if direct.String() != "25" || disbursed.String() != "3" {
		t.Fatalf("unexpected totals direct=%s disbursed=%s", direct, disbursed)
	}
}

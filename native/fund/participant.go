package fund

import (
	"sync"
)

// DilutionParticipant is the capability implemented by incentive modules that
// take a share of period-end supply growth. The ledger queries each
// registered participant for its dilution weight during reconciliation and
// notifies it of direct deposits and disbursements; the gateway consults it
// to validate incentive references on incoming requests.
type DilutionParticipant interface {
	Address() [20]byte
	DilutionWeight(periodBeginningSupply, returnsFactor Value) (Value, error)
	RecordDirectDeposit(user [20]byte, amount Value) error
	RecordDisbursement(amount Value) error
	UserQualifies(user [20]byte) bool
}

// ParticipantRegistry is the insertion-ordered set of registered dilution
// participants. Membership changes are gated on the governance-executor role
// and mirrored into storage so the set stays inspectable; the implementations
// themselves are re-registered by the host at startup.
type ParticipantRegistry struct {
	mu           sync.RWMutex
	store        Storage
	participants map[[20]byte]DilutionParticipant
	order        [][20]byte
}

// NewParticipantRegistry constructs a registry backed by the provided store.
func NewParticipantRegistry(store Storage) *ParticipantRegistry {
	return &ParticipantRegistry{
		store:        store,
		participants: make(map[[20]byte]DilutionParticipant),
	}
}

// Register adds a participant to the set. Duplicate registrations fail with
// ErrParticipantExists.
func (r *ParticipantRegistry) Register(caller [20]byte, p DilutionParticipant) error {
	if r == nil || r.store == nil {
		return ErrNilState
	}
	if p == nil {
		return ErrRequestNotFound
	}
	if !r.store.HasRole(RoleGovernanceExecutor, caller[:]) {
		return ErrUnauthorized
	}
	addr := p.Address()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.participants[addr]; exists {
		return ErrParticipantExists
	}
	if err := r.store.KVPut(participantKey(addr), true); err != nil {
		return err
	}
	if err := r.store.KVAppend(participantIndexKey, addr[:]); err != nil {
		return err
	}
	r.participants[addr] = p
	r.order = append(r.order, addr)
	return nil
}

// Remove drops a participant from the active set. The storage index keeps the
// historical entry; only the membership flag is cleared.
func (r *ParticipantRegistry) Remove(caller, addr [20]byte) error {
	if r == nil || r.store == nil {
		return ErrNilState
	}
	if !r.store.HasRole(RoleGovernanceExecutor, caller[:]) {
		return ErrUnauthorized
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.participants[addr]; !exists {
		return ErrIncentiveNotFound
	}
	if err := r.store.KVPut(participantKey(addr), false); err != nil {
		return err
	}
	delete(r.participants, addr)
	for i, member := range r.order {
		if member == addr {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get resolves a participant by address.
func (r *ParticipantRegistry) Get(addr [20]byte) (DilutionParticipant, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[addr]
	return p, ok
}

// List returns the active participants in insertion order.
func (r *ParticipantRegistry) List() []DilutionParticipant {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DilutionParticipant, 0, len(r.order))
	for _, addr := range r.order {
		if p, ok := r.participants[addr]; ok {
			out = append(out, p)
		}
	}
	return out
}

// incentiveResolution classifies an incentive reference at settlement time.
type incentiveResolution uint8

const (
	incentiveNotApplicable incentiveResolution = iota
	incentiveValid
	incentiveNotFound
	incentiveNotQualified
)

func (r *ParticipantRegistry) resolveIncentive(incentive, user [20]byte) (DilutionParticipant, incentiveResolution) {
	if incentive == ([20]byte{}) {
		return nil, incentiveNotApplicable
	}
	p, ok := r.Get(incentive)
	if !ok {
		return nil, incentiveNotFound
	}
	if !p.UserQualifies(user) {
		return nil, incentiveNotQualified
	}
	return p, incentiveValid
}

// ReferralPool is the reference dilution participant: an enrolment-gated pool
// whose weight applies only when the evaluation period closed with a gain.
// Claim tokens minted for referred deposits accumulate in the pool's custody
// address for later distribution by the pool operator.
type ReferralPool struct {
	mu             sync.Mutex
	addr           [20]byte
	weight         Value
	enrolled       map[[20]byte]bool
	directDeposits Value
	disbursed      Value
}

// NewReferralPool derives the pool's custody address from its name and fixes
// its gain-gated dilution weight, expressed as a fraction at TokenDecimals.
func NewReferralPool(name string, weight Value) *ReferralPool {
	return &ReferralPool{
		addr:           ModuleAddress("referral/" + name),
		weight:         weight.Rescale(TokenDecimals),
		enrolled:       make(map[[20]byte]bool),
		directDeposits: ZeroValue(TokenDecimals),
		disbursed:      ZeroValue(TokenDecimals),
	}
}

// Enroll marks a user as qualifying for the pool's incentive.
func (p *ReferralPool) Enroll(user [20]byte) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enrolled[user] = true
}

// Address implements DilutionParticipant.
func (p *ReferralPool) Address() [20]byte {
	if p == nil {
		return [20]byte{}
	}
	return p.addr
}

// UserQualifies implements DilutionParticipant.
func (p *ReferralPool) UserQualifies(user [20]byte) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enrolled[user]
}

// DilutionWeight implements DilutionParticipant. The weight is return-gated:
// a flat or losing period contributes exactly zero.
func (p *ReferralPool) DilutionWeight(periodBeginningSupply, returnsFactor Value) (Value, error) {
	if p == nil {
		return ZeroValue(TokenDecimals), nil
	}
	if returnsFactor.Cmp(OneValue(TokenDecimals)) <= 0 {
		return ZeroValue(TokenDecimals), nil
	}
	return p.weight.Clone(), nil
}

// RecordDirectDeposit implements DilutionParticipant.
func (p *ReferralPool) RecordDirectDeposit(user [20]byte, amount Value) error {
	if p == nil {
		return ErrNilState
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.directDeposits = p.directDeposits.Add(amount)
	return nil
}

// RecordDisbursement implements DilutionParticipant.
func (p *ReferralPool) RecordDisbursement(amount Value) error {
	if p == nil {
		return ErrNilState
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disbursed = p.disbursed.Add(amount)
	return nil
}

// Totals reports the cumulative direct deposits and disbursements credited to
// the pool, primarily for inspection and testing.
func (p *ReferralPool) Totals() (directDeposits, disbursed Value) {
	if p == nil {
		return ZeroValue(TokenDecimals), ZeroValue(TokenDecimals)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.directDeposits.Clone(), p.disbursed.Clone()
}

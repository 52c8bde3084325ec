package fund

import (
	"fmt"
	"math/big"
	"sync"

	"fundchain/core/events"
	"fundchain/observability/metrics"
)

// Ledger tracks assets-under-management, the theoretical claim-token supply
// implied by realised returns, and the snapshot taken at the beginning of
// each evaluation period. It owns the claim tokens minted during supply
// rebases until they are disbursed at a period boundary.
//
// Every mutating operation is serialised behind the ledger mutex: the
// execution environment this module was designed for guarantees whole-call
// atomicity, and a multi-threaded host must preserve that.
type Ledger struct {
	mu       sync.Mutex
	store    Storage
	tokens   TokenLedger
	registry *ParticipantRegistry
	emitter  events.Emitter
	metrics  *metrics.FundMetrics
	params   Params
	gateway  [20]byte
	addr     [20]byte
}

// NewLedger constructs an accounting ledger bound to the provided state,
// token capability and participant registry.
func NewLedger(store Storage, tokens TokenLedger, registry *ParticipantRegistry, params Params) *Ledger {
	return &Ledger{
		store:    store,
		tokens:   tokens,
		registry: registry,
		emitter:  events.NoopEmitter{},
		params:   params,
		addr:     ModuleAddress("ledger"),
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetMetrics wires the optional prometheus surface.
func (l *Ledger) SetMetrics(m *metrics.FundMetrics) {
	if l == nil {
		return
	}
	l.metrics = m
}

// SetGateway fixes the identity allowed to report settlement batches.
func (l *Ledger) SetGateway(addr [20]byte) {
	if l == nil {
		return
	}
	l.gateway = addr
}

// Address returns the ledger's module custody address.
func (l *Ledger) Address() [20]byte {
	if l == nil {
		return [20]byte{}
	}
	return l.addr
}

func (l *Ledger) emit(event events.Event) {
	if l == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(event)
}

func (l *Ledger) loadState() (*AccountingState, error) {
	if l == nil || l.store == nil {
		return nil, ErrNilState
	}
	var stored storedAccountingState
	ok, err := l.store.KVGet(accountingKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrGenesisMissing
	}
	return fromStoredAccountingState(&stored)
}

func (l *Ledger) saveState(state *AccountingState) error {
	if l == nil || l.store == nil {
		return ErrNilState
	}
	if state.PeriodBeginningAum.IsZero() {
		return ErrAumNotPositive
	}
	return l.store.KVPut(accountingKey, toStoredAccountingState(state))
}

// InitGenesis seeds the accounting snapshot at fund creation. The initial AUM
// must be positive; the initial supply is the claim-token amount minted by
// the genesis process and must match the token ledger.
func (l *Ledger) InitGenesis(initialAum, initialSupply Value) error {
	if l == nil || l.store == nil {
		return ErrNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var stored storedAccountingState
	ok, err := l.store.KVGet(accountingKey, &stored)
	if err != nil {
		return err
	}
	if ok {
		return ErrGenesisExists
	}
	if initialAum.IsZero() {
		return ErrAumNotPositive
	}
	if initialSupply.IsZero() {
		return ErrSupplyZero
	}
	if l.tokens == nil {
		return ErrNilTokens
	}
	minted, err := l.tokens.TotalSupply(l.params.ClaimToken)
	if err != nil {
		return err
	}
	if minted.Cmp(initialSupply.Rescale(TokenDecimals).Amount) != 0 {
		return fmt.Errorf("%w: ledger holds %s", ErrSupplyMismatch, minted)
	}
	state := &AccountingState{
		AumValue:              initialAum.Rescale(TokenDecimals),
		PeriodBeginningBlock:  l.store.BlockHeight(),
		PeriodBeginningAum:    initialAum.Rescale(TokenDecimals),
		PeriodBeginningSupply: initialSupply.Rescale(TokenDecimals),
		TheoreticalSupply:     initialSupply.Rescale(TokenDecimals),
	}
	return l.saveState(state)
}

// State returns a copy of the accounting snapshot for inspection.
func (l *Ledger) State() (*AccountingState, error) {
	if l == nil {
		return nil, ErrNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	state, err := l.loadState()
	if err != nil {
		return nil, err
	}
	return state.Clone(), nil
}

// FundTokenPrice computes the claim-token price as AUM divided by the actual
// circulating supply. The genesis invariant keeps supply positive, so the
// zero-supply branch is a defect guard rather than a reachable state.
func (l *Ledger) FundTokenPrice() (Value, error) {
	if l == nil {
		return Value{}, ErrNilState
	}
	if l.tokens == nil {
		return Value{}, ErrNilTokens
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokenPriceLocked()
}

func (l *Ledger) tokenPriceLocked() (Value, error) {
	state, err := l.loadState()
	if err != nil {
		return Value{}, err
	}
	supply, err := l.tokens.TotalSupply(l.params.ClaimToken)
	if err != nil {
		return Value{}, err
	}
	if supply.Sign() == 0 {
		return Value{}, ErrSupplyZero
	}
	return state.AumValue.Div(NewValue(supply, TokenDecimals))
}

// RecordDeposits applies an aggregated deposit batch to the snapshot. The
// four tracked figures all grow so that mid-period flows do not read as
// returns at the next AUM recording. Only the gateway may call this.
func (l *Ledger) RecordDeposits(caller [20]byte, depositValue, amountMinted Value) error {
	if l == nil {
		return ErrNilState
	}
	if caller != l.gateway || l.gateway == ([20]byte{}) {
		return ErrUnauthorized
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	state, err := l.loadState()
	if err != nil {
		return err
	}
	state.AumValue = state.AumValue.Add(depositValue)
	state.PeriodBeginningAum = state.PeriodBeginningAum.Add(depositValue)
	state.PeriodBeginningSupply = state.PeriodBeginningSupply.Add(amountMinted)
	state.TheoreticalSupply = state.TheoreticalSupply.Add(amountMinted)
	return l.saveState(state)
}

// RecordWithdrawals applies an aggregated withdrawal batch to the snapshot,
// mirroring RecordDeposits. Only the gateway may call this.
func (l *Ledger) RecordWithdrawals(caller [20]byte, withdrawValue, amountBurned Value) error {
	if l == nil {
		return ErrNilState
	}
	if caller != l.gateway || l.gateway == ([20]byte{}) {
		return ErrUnauthorized
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	state, err := l.loadState()
	if err != nil {
		return err
	}
	if state.AumValue, err = state.AumValue.Sub(withdrawValue); err != nil {
		return fmt.Errorf("fund: aum underflow on withdrawal: %w", err)
	}
	if state.PeriodBeginningAum, err = state.PeriodBeginningAum.Sub(withdrawValue); err != nil {
		return fmt.Errorf("fund: period aum underflow on withdrawal: %w", err)
	}
	if state.PeriodBeginningSupply, err = state.PeriodBeginningSupply.Sub(amountBurned); err != nil {
		return fmt.Errorf("fund: period supply underflow on withdrawal: %w", err)
	}
	if state.TheoreticalSupply, err = state.TheoreticalSupply.Sub(amountBurned); err != nil {
		return fmt.Errorf("fund: theoretical supply underflow on withdrawal: %w", err)
	}
	return l.saveState(state)
}

type participantWeight struct {
	participant DilutionParticipant
	weight      Value
}

// RecordAumValue runs the periodic reconciliation against an externally
// reported valuation: it recomputes the theoretical supply under the
// dilution-adjusted returns formula, rebases the actual supply towards it
// (never burning below the period's starting supply), and, once the
// evaluation period has matured, resets the snapshot and disburses the
// accumulated claim tokens to participants by weight. Restricted to the
// task-runner role.
func (l *Ledger) RecordAumValue(caller [20]byte, newAum Value) error {
	if l == nil || l.store == nil {
		return ErrNilState
	}
	if l.tokens == nil {
		return ErrNilTokens
	}
	if !l.store.HasRole(RoleTaskRunner, caller[:]) {
		return ErrUnauthorized
	}
	if newAum.IsZero() {
		return ErrAumNotPositive
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.loadState()
	if err != nil {
		return err
	}
	newAum = newAum.Rescale(TokenDecimals)

	returnsFactor, err := newAum.Div(state.PeriodBeginningAum)
	if err != nil {
		return err
	}

	one := OneValue(TokenDecimals)
	weights := make([]participantWeight, 0)
	totalWeight := l.params.ManagementFeeWeight.Rescale(TokenDecimals)
	if l.registry != nil {
		for _, p := range l.registry.List() {
			w, err := p.DilutionWeight(state.PeriodBeginningSupply.Clone(), returnsFactor.Clone())
			if err != nil {
				return fmt.Errorf("fund: dilution weight query failed: %w", err)
			}
			w = w.Rescale(TokenDecimals)
			weights = append(weights, participantWeight{participant: p, weight: w})
			totalWeight = totalWeight.Add(w)
		}
	}
	if totalWeight.Cmp(one) >= 0 {
		return fmt.Errorf("fund: total dilution weight %s not below 1", totalWeight)
	}

	// theoretical = pbs × rf / (rf × (1 − w) + w). The algebraic form keeps
	// every intermediate non-negative even when returns are below 1.
	retained, err := one.Sub(totalWeight)
	if err != nil {
		return err
	}
	denominator := returnsFactor.Mul(retained).Add(totalWeight)
	theoretical, err := state.PeriodBeginningSupply.Mul(returnsFactor).Div(denominator)
	if err != nil {
		return err
	}

	minted, burned, err := l.rebaseSupplyLocked(state, theoretical)
	if err != nil {
		return err
	}

	state.AumValue = newAum
	state.TheoreticalSupply = theoretical

	l.emit(events.FundSupplyRebased{
		AumValue:          cloneBigInt(newAum.Amount),
		TheoreticalSupply: cloneBigInt(theoretical.Amount),
		Minted:            minted,
		Burned:            burned,
	})
	l.metrics.SetAumValue(newAum.Float64())
	l.metrics.SetTheoreticalSupply(theoretical.Float64())
	if price, err := l.tokenPriceLocked(); err == nil {
		l.metrics.SetTokenPrice(price.Float64())
	}

	height := l.store.BlockHeight()
	if height-state.PeriodBeginningBlock < l.params.EvaluationPeriodBlocks {
		return l.saveState(state)
	}

	supplyNow, err := l.tokens.TotalSupply(l.params.ClaimToken)
	if err != nil {
		return err
	}
	state.PeriodBeginningBlock = height
	state.PeriodBeginningAum = newAum.Clone()
	state.PeriodBeginningSupply = NewValue(cloneBigInt(supplyNow), TokenDecimals)
	state.TheoreticalSupply = NewValue(cloneBigInt(supplyNow), TokenDecimals)
	if err := l.saveState(state); err != nil {
		return err
	}
	if err := l.disburseLocked(weights, totalWeight); err != nil {
		return err
	}
	l.emit(events.FundPeriodReset{
		Block:    height,
		AumValue: cloneBigInt(newAum.Amount),
		Supply:   cloneBigInt(supplyNow),
	})
	return nil
}

// rebaseSupplyLocked mints or burns ledger-held claim tokens to move actual
// supply to the theoretical target, flooring burns at the period's starting
// supply so oracle noise cannot eat into the period baseline.
func (l *Ledger) rebaseSupplyLocked(state *AccountingState, theoretical Value) (minted, burned *big.Int, err error) {
	minted = big.NewInt(0)
	burned = big.NewInt(0)
	supplyInt, err := l.tokens.TotalSupply(l.params.ClaimToken)
	if err != nil {
		return nil, nil, err
	}
	supply := NewValue(cloneBigInt(supplyInt), TokenDecimals)
	target := theoretical.Clone()
	if target.Cmp(state.PeriodBeginningSupply) < 0 {
		target = state.PeriodBeginningSupply.Clone()
	}
	switch supply.Cmp(target) {
	case -1:
		diff, err := target.Sub(supply)
		if err != nil {
			return nil, nil, err
		}
		if err := l.tokens.Mint(l.params.ClaimToken, l.addr, cloneBigInt(diff.Amount)); err != nil {
			return nil, nil, err
		}
		minted = cloneBigInt(diff.Amount)
	case 1:
		diff, err := supply.Sub(target)
		if err != nil {
			return nil, nil, err
		}
		// Burns come out of the ledger's own balance only.
		balance, err := l.tokens.BalanceOf(l.params.ClaimToken, l.addr)
		if err != nil {
			return nil, nil, err
		}
		burnAmount := cloneBigInt(diff.Amount)
		if burnAmount.Cmp(balance) > 0 {
			burnAmount = cloneBigInt(balance)
		}
		if burnAmount.Sign() > 0 {
			if err := l.tokens.Burn(l.params.ClaimToken, l.addr, burnAmount); err != nil {
				return nil, nil, err
			}
			burned = burnAmount
		}
	}
	return minted, burned, nil
}

// disburseLocked pays the ledger's accumulated claim-token balance out to
// each participant by its weight fraction; the remainder, including all
// rounding dust, goes to the management treasury.
func (l *Ledger) disburseLocked(weights []participantWeight, totalWeight Value) error {
	balance, err := l.tokens.BalanceOf(l.params.ClaimToken, l.addr)
	if err != nil {
		return err
	}
	if balance.Sign() == 0 {
		return nil
	}
	if !totalWeight.IsZero() {
		for _, pw := range weights {
			if pw.weight.IsZero() {
				continue
			}
			share := new(big.Int).Mul(balance, pw.weight.Amount)
			share.Quo(share, totalWeight.Rescale(TokenDecimals).Amount)
			if share.Sign() == 0 {
				continue
			}
			recipient := pw.participant.Address()
			if err := l.tokens.Transfer(l.params.ClaimToken, l.addr, recipient, share); err != nil {
				return err
			}
			if err := pw.participant.RecordDisbursement(NewValue(cloneBigInt(share), TokenDecimals)); err != nil {
				return err
			}
			l.emit(events.FundDisbursement{Participant: recipient, Amount: cloneBigInt(share)})
			l.metrics.IncDisbursement()
		}
	}
	remaining, err := l.tokens.BalanceOf(l.params.ClaimToken, l.addr)
	if err != nil {
		return err
	}
	if remaining.Sign() > 0 && l.params.ManagementTreasury != ([20]byte{}) {
		if err := l.tokens.Transfer(l.params.ClaimToken, l.addr, l.params.ManagementTreasury, remaining); err != nil {
			return err
		}
	}
	return nil
}

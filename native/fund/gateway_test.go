package fund

import (
	"errors"
	"math/big"
	"testing"

	"fundchain/core/events"
	nativecommon "fundchain/native/common"
)

type gatewayFixture struct {
	store    *mockStorage
	tokens   *mockTokenLedger
	oracle   *StaticOracle
	ledger   *Ledger
	registry *ParticipantRegistry
	gateway  *Gateway
	emitter  *capturingEmitter
	params   Params
	governor [20]byte
	runner   [20]byte
	user     [20]byte
}

func newGatewayFixture(t *testing.T, mutate func(*Params)) *gatewayFixture {
	t.Helper()
	params := DefaultParams()
	params.Treasury = testAddr(0xD1)
	params.ManagementTreasury = testAddr(0xD2)
	if mutate != nil {
		mutate(&params)
	}
	if err := params.Validate(); err != nil {
		t.Fatalf("params: %v", err)
	}

	f := &gatewayFixture{
		store:    newMockStorage(),
		tokens:   newMockTokenLedger(),
		oracle:   NewStaticOracle(),
		emitter:  &capturingEmitter{},
		params:   params,
		governor: testAddr(0xA0),
		runner:   testAddr(0x99),
		user:     testAddr(0x11),
	}
	f.store.grantRole(RoleGovernanceExecutor, f.governor)
	f.store.grantRole(RoleTaskRunner, f.runner)
	f.store.grantRole(RoleTokenHolder, f.user)

	f.registry = NewParticipantRegistry(f.store)
	f.ledger = NewLedger(f.store, f.tokens, f.registry, params)
	f.gateway = NewGateway(f.store, f.tokens, f.oracle, f.ledger, f.registry, params)
	f.gateway.SetEmitter(f.emitter)

	if err := f.oracle.SetPrice("usdc-usd", mustValue(t, "1", 18)); err != nil {
		t.Fatalf("seed oracle: %v", err)
	}
	seedGenesis(t, f.tokens, f.ledger, params, "100", "100")
	if err := f.gateway.ListAssets(f.governor, []string{"USDC"}, []string{"usdc-usd"}, []uint8{6}); err != nil {
		t.Fatalf("list asset: %v", err)
	}
	return f
}

// fundUser mints USDC to an address and approves the gateway escrow.
func (f *gatewayFixture) fundUser(t *testing.T, addr [20]byte, amount *big.Int) {
	t.Helper()
	if err := f.tokens.Mint("USDC", addr, amount); err != nil {
		t.Fatalf("mint usdc: %v", err)
	}
	if err := f.tokens.Approve("USDC", addr, f.gateway.Address(), amount); err != nil {
		t.Fatalf("approve usdc: %v", err)
	}
}

func usdc(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

func claims(t *testing.T, n string) *big.Int {
	return mustValue(t, n, TokenDecimals).Amount
}

func TestRequestDepositValidation(t *testing.T) {
	f := newGatewayFixture(t, nil)
	f.fundUser(t, f.user, usdc(1000))
	deadline := uint64(100)

	if _, err := f.gateway.RequestDeposit(testAddr(0x22), "USDC", usdc(10), nil, deadline, [20]byte{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without holder role, got %v", err)
	}
	if _, err := f.gateway.RequestDeposit(f.user, "USDC", big.NewInt(0), nil, deadline, [20]byte{}); !errors.Is(err, ErrAmountNotPositive) {
		t.Fatalf("expected ErrAmountNotPositive, got %v", err)
	}
	if _, err := f.gateway.RequestDeposit(f.user, "WETH", usdc(10), nil, deadline, [20]byte{}); !errors.Is(err, ErrAssetNotAllowed) {
		t.Fatalf("expected ErrAssetNotAllowed, got %v", err)
	}

	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(10), nil, deadline, [20]byte{}); err != nil {
		t.Fatalf("request deposit: %v", err)
	}
	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(10), nil, deadline, [20]byte{}); !errors.Is(err, ErrRequestPending) {
		t.Fatalf("expected ErrRequestPending, got %v", err)
	}
}

func TestRequestsRejectedWhilePaused(t *testing.T) {
	f := newGatewayFixture(t, nil)
	f.fundUser(t, f.user, usdc(1000))
	f.gateway.SetPauses(&staticPauses{paused: map[string]bool{"fund": true}})

	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(10), nil, 100, [20]byte{}); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused on deposit, got %v", err)
	}
	if _, err := f.gateway.RequestWithdrawal(f.user, "USDC", claims(t, "1"), nil, 100, [20]byte{}); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused on withdrawal, got %v", err)
	}
}

func TestDepositLifecycle(t *testing.T) {
	f := newGatewayFixture(t, nil)
	f.fundUser(t, f.user, usdc(1000))

	accessor, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(500), claims(t, "499"), 100, [20]byte{})
	if err != nil {
		t.Fatalf("request deposit: %v", err)
	}
	if accessor.Kind != KindDeposit || accessor.Slot != 0 {
		t.Fatalf("unexpected accessor %+v", accessor)
	}
	escrow, _ := f.tokens.BalanceOf("USDC", f.gateway.Address())
	if escrow.Cmp(usdc(500)) != 0 {
		t.Fatalf("expected escrow 500 USDC, got %s", escrow)
	}

	processed, err := f.gateway.ProcessDeposits(f.runner, "USDC", 0)
	if err != nil {
		t.Fatalf("process deposits: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed, got %d", processed)
	}

	request, _, err := f.gateway.UserRequestByIndex(f.user, 0)
	if err != nil {
		t.Fatalf("lookup request: %v", err)
	}
	if request.Status != StatusSuccessful {
		t.Fatalf("expected successful settlement, got %v", request.Status)
	}
	if request.ComputedAmountOut.Cmp(claims(t, "500")) != 0 {
		t.Fatalf("unexpected amount out %s", request.ComputedAmountOut)
	}

	userClaims, _ := f.tokens.BalanceOf(f.params.ClaimToken, f.user)
	if userClaims.Cmp(claims(t, "500")) != 0 {
		t.Fatalf("expected 500 claim tokens, got %s", userClaims)
	}
	treasury, _ := f.tokens.BalanceOf("USDC", f.params.Treasury)
	if treasury.Cmp(usdc(500)) != 0 {
		t.Fatalf("expected 500 USDC in treasury, got %s", treasury)
	}

	// A deposit at the prevailing price must not move the token price.
	price, err := f.ledger.FundTokenPrice()
	if err != nil {
		t.Fatalf("token price: %v", err)
	}
	if price.String() != "1" {
		t.Fatalf("expected stable price 1, got %s", price)
	}
	state, err := f.ledger.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.AumValue.String() != "600" {
		t.Fatalf("expected aum 600, got %s", state.AumValue)
	}
	if len(f.emitter.byType(events.TypeFundDepositsProcessed)) != 1 {
		t.Fatalf("expected one batch summary event")
	}
}

func TestDepositFailureReclaim(t *testing.T) {
	f := newGatewayFixture(t, nil)
	f.fundUser(t, f.user, usdc(1000))

	// Minimum output above the achievable amount forces a settlement failure.
	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(500), claims(t, "600"), 100, [20]byte{}); err != nil {
		t.Fatalf("request deposit: %v", err)
	}
	if _, err := f.gateway.ProcessDeposits(f.runner, "USDC", 0); err != nil {
		t.Fatalf("process deposits: %v", err)
	}
	request, _, err := f.gateway.UserRequestByIndex(f.user, 0)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if request.Status != StatusInsufficientOutput {
		t.Fatalf("expected insufficient output, got %v", request.Status)
	}

	// Escrow stays with the gateway until explicitly reclaimed.
	before, _ := f.tokens.BalanceOf("USDC", f.user)
	if err := f.gateway.ReclaimFailedRequests(f.user, []uint64{0}); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	after, _ := f.tokens.BalanceOf("USDC", f.user)
	if new(big.Int).Sub(after, before).Cmp(usdc(500)) != 0 {
		t.Fatalf("expected 500 USDC refunded")
	}
	if err := f.gateway.ReclaimFailedRequests(f.user, []uint64{0}); !errors.Is(err, ErrNotReclaimable) {
		t.Fatalf("expected ErrNotReclaimable on second reclaim, got %v", err)
	}
}

func TestDepositExpiry(t *testing.T) {
	f := newGatewayFixture(t, nil)
	f.fundUser(t, f.user, usdc(1000))

	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(100), nil, 5, [20]byte{}); err != nil {
		t.Fatalf("request deposit: %v", err)
	}
	f.store.setHeight(6)
	if _, err := f.gateway.ProcessDeposits(f.runner, "USDC", 0); err != nil {
		t.Fatalf("process deposits: %v", err)
	}
	request, _, err := f.gateway.UserRequestByIndex(f.user, 0)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if request.Status != StatusExpired {
		t.Fatalf("expected expired, got %v", request.Status)
	}
	// Nothing settled, nothing minted.
	supply, _ := f.tokens.TotalSupply(f.params.ClaimToken)
	if supply.Cmp(claims(t, "100")) != 0 {
		t.Fatalf("expected untouched supply, got %s", supply)
	}
}

func TestDepositIncentiveRouting(t *testing.T) {
	f := newGatewayFixture(t, nil)
	f.fundUser(t, f.user, usdc(1000))

	pool := NewReferralPool("alpha", mustValue(t, "0.1", TokenDecimals))
	if err := f.registry.Register(f.governor, pool); err != nil {
		t.Fatalf("register pool: %v", err)
	}

	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(100), nil, 100, testAddr(0xFE)); !errors.Is(err, ErrIncentiveNotFound) {
		t.Fatalf("expected ErrIncentiveNotFound, got %v", err)
	}
	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(100), nil, 100, pool.Address()); !errors.Is(err, ErrIncentiveNotEarned) {
		t.Fatalf("expected ErrIncentiveNotEarned before enrolment, got %v", err)
	}

	pool.Enroll(f.user)
	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(100), nil, 100, pool.Address()); err != nil {
		t.Fatalf("request with incentive: %v", err)
	}
	if _, err := f.gateway.ProcessDeposits(f.runner, "USDC", 0); err != nil {
		t.Fatalf("process: %v", err)
	}

	// Minted claims accrue to the pool, credited against the referred user.
	poolClaims, _ := f.tokens.BalanceOf(f.params.ClaimToken, pool.Address())
	if poolClaims.Cmp(claims(t, "100")) != 0 {
		t.Fatalf("expected pool to hold minted claims, got %s", poolClaims)
	}
	userClaims, _ := f.tokens.BalanceOf(f.params.ClaimToken, f.user)
	if userClaims.Sign() != 0 {
		t.Fatalf("expected no direct mint to user, got %s", userClaims)
	}
	direct, _ := pool.Totals()
	if direct.String() != "100" {
		t.Fatalf("expected direct deposit recorded, got %s", direct)
	}
}

func TestDepositIncentiveRevalidatedAtSettlement(t *testing.T) {
	f := newGatewayFixture(t, nil)
	f.fundUser(t, f.user, usdc(1000))

	pool := NewReferralPool("alpha", mustValue(t, "0.1", TokenDecimals))
	if err := f.registry.Register(f.governor, pool); err != nil {
		t.Fatalf("register pool: %v", err)
	}
	pool.Enroll(f.user)
	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(100), nil, 100, pool.Address()); err != nil {
		t.Fatalf("request: %v", err)
	}

	// The pool disappears between submission and settlement.
	if err := f.registry.Remove(f.governor, pool.Address()); err != nil {
		t.Fatalf("remove pool: %v", err)
	}
	if _, err := f.gateway.ProcessDeposits(f.runner, "USDC", 0); err != nil {
		t.Fatalf("process: %v", err)
	}
	request, _, err := f.gateway.UserRequestByIndex(f.user, 0)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if request.Status != StatusIncentiveNotFound {
		t.Fatalf("expected incentive_not_found, got %v", request.Status)
	}
}

func TestCancelRequest(t *testing.T) {
	f := newGatewayFixture(t, nil)
	f.fundUser(t, f.user, usdc(1000))

	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(100), nil, 100, [20]byte{}); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := f.gateway.CancelRequest(f.user); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	balance, _ := f.tokens.BalanceOf("USDC", f.user)
	if balance.Cmp(usdc(1000)) != 0 {
		t.Fatalf("expected full refund, got %s", balance)
	}
	request, _, err := f.gateway.UserRequestByIndex(f.user, 0)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if request.Status != StatusCancelled || !request.Reclaimed {
		t.Fatalf("expected cancelled+reclaimed, got %+v", request)
	}
	if err := f.gateway.CancelRequest(f.user); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}

	// A cancelled request no longer blocks new submissions.
	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(100), nil, 100, [20]byte{}); err != nil {
		t.Fatalf("request after cancel: %v", err)
	}
}

func TestWithdrawalLifecycle(t *testing.T) {
	f := newGatewayFixture(t, nil)
	f.fundUser(t, f.user, usdc(1000))

	// Establish a claim position through a settled deposit first.
	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(500), nil, 100, [20]byte{}); err != nil {
		t.Fatalf("request deposit: %v", err)
	}
	if _, err := f.gateway.ProcessDeposits(f.runner, "USDC", 0); err != nil {
		t.Fatalf("process deposits: %v", err)
	}

	if err := f.tokens.Approve(f.params.ClaimToken, f.user, f.gateway.Address(), claims(t, "200")); err != nil {
		t.Fatalf("approve claims: %v", err)
	}
	if err := f.tokens.Approve("USDC", f.params.Treasury, f.gateway.Address(), usdc(1000)); err != nil {
		t.Fatalf("approve treasury: %v", err)
	}

	if _, err := f.gateway.RequestWithdrawal(f.user, "USDC", claims(t, "200"), usdc(199), 100, [20]byte{}); err != nil {
		t.Fatalf("request withdrawal: %v", err)
	}
	processed, err := f.gateway.ProcessWithdrawals(f.runner, "USDC", 0)
	if err != nil {
		t.Fatalf("process withdrawals: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed, got %d", processed)
	}

	userUSDC, _ := f.tokens.BalanceOf("USDC", f.user)
	if userUSDC.Cmp(usdc(700)) != 0 {
		t.Fatalf("expected 700 USDC after withdrawal, got %s", userUSDC)
	}
	userClaims, _ := f.tokens.BalanceOf(f.params.ClaimToken, f.user)
	if userClaims.Cmp(claims(t, "300")) != 0 {
		t.Fatalf("expected 300 claims left, got %s", userClaims)
	}
	supply, _ := f.tokens.TotalSupply(f.params.ClaimToken)
	if supply.Cmp(claims(t, "400")) != 0 {
		t.Fatalf("expected supply 400 after burn, got %s", supply)
	}

	state, err := f.ledger.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.AumValue.String() != "400" {
		t.Fatalf("expected aum 400, got %s", state.AumValue)
	}
	price, err := f.ledger.FundTokenPrice()
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price.String() != "1" {
		t.Fatalf("expected stable price through withdrawal, got %s", price)
	}
}

func TestWithdrawalCeilingHaltsBatch(t *testing.T) {
	f := newGatewayFixture(t, nil)
	f.fundUser(t, f.user, usdc(1000))
	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(500), nil, 100, [20]byte{}); err != nil {
		t.Fatalf("request deposit: %v", err)
	}
	if _, err := f.gateway.ProcessDeposits(f.runner, "USDC", 0); err != nil {
		t.Fatalf("process deposits: %v", err)
	}
	if err := f.tokens.Approve(f.params.ClaimToken, f.user, f.gateway.Address(), claims(t, "200")); err != nil {
		t.Fatalf("approve claims: %v", err)
	}
	// Treasury only pre-approves 100 USDC; the 200-claim request exceeds it.
	if err := f.tokens.Approve("USDC", f.params.Treasury, f.gateway.Address(), usdc(100)); err != nil {
		t.Fatalf("approve treasury: %v", err)
	}

	if _, err := f.gateway.RequestWithdrawal(f.user, "USDC", claims(t, "200"), nil, 100, [20]byte{}); err != nil {
		t.Fatalf("request withdrawal: %v", err)
	}
	processed, err := f.gateway.ProcessWithdrawals(f.runner, "USDC", 0)
	if err != nil {
		t.Fatalf("process withdrawals: %v", err)
	}
	if processed != 0 {
		t.Fatalf("expected halt before settling, got %d processed", processed)
	}
	request, _, err := f.gateway.UserRequestByIndex(f.user, 1)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if request.Status != StatusPending {
		t.Fatalf("expected request left pending, got %v", request.Status)
	}
	summaries := f.emitter.byType(events.TypeFundWithdrawalsProcessed)
	if len(summaries) != 1 || summaries[0].Attributes["halted"] != "true" {
		t.Fatalf("expected halted batch summary")
	}

	// Raising the ceiling lets the same request settle on the next pass.
	if err := f.tokens.Approve("USDC", f.params.Treasury, f.gateway.Address(), usdc(500)); err != nil {
		t.Fatalf("raise ceiling: %v", err)
	}
	processed, err = f.gateway.ProcessWithdrawals(f.runner, "USDC", 0)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected settlement on second pass, got %d", processed)
	}
	request, _, err = f.gateway.UserRequestByIndex(f.user, 1)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if request.Status != StatusSuccessful {
		t.Fatalf("expected successful settlement, got %v", request.Status)
	}
}

func TestWithdrawalRequestCeiling(t *testing.T) {
	f := newGatewayFixture(t, func(p *Params) {
		p.MaxSingleWithdrawal = mustValue(t, "100", TokenDecimals)
	})
	f.fundUser(t, f.user, usdc(1000))

	if _, err := f.gateway.RequestWithdrawal(f.user, "USDC", claims(t, "200"), nil, 100, [20]byte{}); !errors.Is(err, ErrAmountTooLarge) {
		t.Fatalf("expected ErrAmountTooLarge, got %v", err)
	}
	// An over-limit attempt must leave no trace.
	count, err := f.gateway.UserRequestCount(f.user)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no recorded request, got %d", count)
	}
}

func TestWithdrawalCapEnforcedAtSettlement(t *testing.T) {
	f := newGatewayFixture(t, nil)
	second := testAddr(0x12)
	f.store.grantRole(RoleTokenHolder, second)
	f.fundUser(t, f.user, usdc(500))
	f.fundUser(t, second, usdc(100))

	// Settle deposits so both holders have claims to withdraw.
	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(500), nil, 100, [20]byte{}); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if _, err := f.gateway.RequestDeposit(second, "USDC", usdc(100), nil, 100, [20]byte{}); err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	if _, err := f.gateway.ProcessDeposits(f.runner, "USDC", 0); err != nil {
		t.Fatalf("process deposits: %v", err)
	}
	if err := f.tokens.Approve(f.params.ClaimToken, f.user, f.gateway.Address(), claims(t, "200")); err != nil {
		t.Fatalf("approve claims: %v", err)
	}
	if err := f.tokens.Approve(f.params.ClaimToken, second, f.gateway.Address(), claims(t, "50")); err != nil {
		t.Fatalf("approve claims: %v", err)
	}
	if err := f.tokens.Approve("USDC", f.params.Treasury, f.gateway.Address(), usdc(600)); err != nil {
		t.Fatalf("approve treasury: %v", err)
	}

	// Both withdrawals are queued under the original ceiling.
	if _, err := f.gateway.RequestWithdrawal(f.user, "USDC", claims(t, "200"), nil, 100, [20]byte{}); err != nil {
		t.Fatalf("first withdrawal: %v", err)
	}
	if _, err := f.gateway.RequestWithdrawal(second, "USDC", claims(t, "50"), nil, 100, [20]byte{}); err != nil {
		t.Fatalf("second withdrawal: %v", err)
	}

	// Governance lowers the ceiling below the queued head before settlement.
	lowered := f.params
	lowered.MaxSingleWithdrawal = mustValue(t, "100", TokenDecimals)
	restricted := NewGateway(f.store, f.tokens, f.oracle, f.ledger, f.registry, lowered)

	processed, err := restricted.ProcessWithdrawals(f.runner, "USDC", 0)
	if err != nil {
		t.Fatalf("process withdrawals: %v", err)
	}
	if processed != 2 {
		t.Fatalf("expected over-limit head to fail without blocking the batch, got %d processed", processed)
	}

	over, _, err := f.gateway.UserRequestByIndex(f.user, 1)
	if err != nil {
		t.Fatalf("lookup over-limit request: %v", err)
	}
	if over.Status != StatusAmountTooLarge {
		t.Fatalf("expected amount_too_large at settlement, got %v", over.Status)
	}
	settled, _, err := f.gateway.UserRequestByIndex(second, 1)
	if err != nil {
		t.Fatalf("lookup settled request: %v", err)
	}
	if settled.Status != StatusSuccessful {
		t.Fatalf("expected tail settled, got %v", settled.Status)
	}
	secondUSDC, _ := f.tokens.BalanceOf("USDC", second)
	if secondUSDC.Cmp(usdc(50)) != 0 {
		t.Fatalf("expected 50 USDC paid out, got %s", secondUSDC)
	}

	// The failed escrow stays with the gateway until reclaimed.
	if err := f.gateway.ReclaimFailedRequests(f.user, []uint64{1}); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	userClaims, _ := f.tokens.BalanceOf(f.params.ClaimToken, f.user)
	if userClaims.Cmp(claims(t, "500")) != 0 {
		t.Fatalf("expected escrow returned, got %s", userClaims)
	}
}

func TestProcessDepositsSkipsCancelledEntries(t *testing.T) {
	f := newGatewayFixture(t, nil)
	second := testAddr(0x12)
	f.store.grantRole(RoleTokenHolder, second)
	f.fundUser(t, f.user, usdc(100))
	f.fundUser(t, second, usdc(100))

	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(100), nil, 100, [20]byte{}); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := f.gateway.RequestDeposit(second, "USDC", usdc(100), nil, 100, [20]byte{}); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if err := f.gateway.CancelRequest(f.user); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	cancelled, _, err := f.gateway.UserRequestByIndex(f.user, 0)
	if err != nil {
		t.Fatalf("lookup cancelled: %v", err)
	}
	updatedAt := cancelled.BlockUpdated

	// A cancelled entry still inside the queue window is popped untouched.
	f.store.setHeight(3)
	processed, err := f.gateway.ProcessDeposits(f.runner, "USDC", 0)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if processed != 2 {
		t.Fatalf("expected cancelled entry counted as popped, got %d", processed)
	}

	cancelled, _, err = f.gateway.UserRequestByIndex(f.user, 0)
	if err != nil {
		t.Fatalf("relookup cancelled: %v", err)
	}
	if cancelled.Status != StatusCancelled || !cancelled.Reclaimed {
		t.Fatalf("expected cancelled entry untouched, got %+v", cancelled)
	}
	if cancelled.BlockUpdated != updatedAt {
		t.Fatalf("expected no re-evaluation, BlockUpdated moved to %d", cancelled.BlockUpdated)
	}
	userClaims, _ := f.tokens.BalanceOf(f.params.ClaimToken, f.user)
	if userClaims.Sign() != 0 {
		t.Fatalf("expected nothing minted for cancelled entry, got %s", userClaims)
	}
	userUSDC, _ := f.tokens.BalanceOf("USDC", f.user)
	if userUSDC.Cmp(usdc(100)) != 0 {
		t.Fatalf("expected cancel refund preserved, got %s", userUSDC)
	}

	// Only the live request produced a settlement.
	tail, _, err := f.gateway.UserRequestByIndex(second, 0)
	if err != nil {
		t.Fatalf("lookup tail: %v", err)
	}
	if tail.Status != StatusSuccessful {
		t.Fatalf("expected tail settled, got %v", tail.Status)
	}
	if len(f.emitter.byType(events.TypeFundRequestSettled)) != 1 {
		t.Fatalf("expected exactly one settlement event")
	}
}

func TestRequestQuota(t *testing.T) {
	f := newGatewayFixture(t, func(p *Params) {
		p.RequestQuota = nativecommon.Quota{MaxRequestsPerEpoch: 1, EpochBlocks: 100}
	})
	f.fundUser(t, f.user, usdc(1000))

	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(10), nil, 200, [20]byte{}); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := f.gateway.CancelRequest(f.user); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Cancelling frees the pending slot but not the consumed quota.
	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(10), nil, 200, [20]byte{}); !errors.Is(err, nativecommon.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected quota rejection, got %v", err)
	}

	f.store.setHeight(100)
	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(10), nil, 200, [20]byte{}); err != nil {
		t.Fatalf("request in next epoch: %v", err)
	}
}

func TestAssetListing(t *testing.T) {
	f := newGatewayFixture(t, nil)

	if err := f.gateway.ListAssets(f.user, []string{"WETH"}, []string{"weth-usd"}, []uint8{18}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.gateway.ListAssets(f.governor, []string{"WETH", "WBTC"}, []string{"weth-usd"}, []uint8{18, 8}); !errors.Is(err, ErrInvalidArrayLengths) {
		t.Fatalf("expected ErrInvalidArrayLengths, got %v", err)
	}
	if err := f.gateway.ListAssets(f.governor, []string{"USDC"}, []string{"usdc-usd"}, []uint8{6}); !errors.Is(err, ErrAssetExists) {
		t.Fatalf("expected ErrAssetExists, got %v", err)
	}
	if err := f.gateway.ListAssets(f.governor, []string{"weth"}, []string{"weth-usd"}, []uint8{18}); err != nil {
		t.Fatalf("list weth: %v", err)
	}

	assets, err := f.gateway.Assets()
	if err != nil {
		t.Fatalf("assets: %v", err)
	}
	if len(assets) != 2 || assets[0].Symbol != "USDC" || assets[1].Symbol != "WETH" {
		t.Fatalf("unexpected asset list %+v", assets)
	}

	if err := f.gateway.DelistAsset(f.governor, "USDC"); err != nil {
		t.Fatalf("delist: %v", err)
	}
	f.fundUser(t, f.user, usdc(10))
	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(10), nil, 100, [20]byte{}); !errors.Is(err, ErrAssetNotAllowed) {
		t.Fatalf("expected ErrAssetNotAllowed after delist, got %v", err)
	}
	// Relisting restores the asset.
	if err := f.gateway.ListAssets(f.governor, []string{"USDC"}, []string{"usdc-usd"}, []uint8{6}); err != nil {
		t.Fatalf("relist: %v", err)
	}
}

func TestProcessDepositsFIFOWithBatchLimit(t *testing.T) {
	f := newGatewayFixture(t, nil)
	second := testAddr(0x12)
	f.store.grantRole(RoleTokenHolder, second)
	f.fundUser(t, f.user, usdc(100))
	f.fundUser(t, second, usdc(100))

	if _, err := f.gateway.RequestDeposit(f.user, "USDC", usdc(100), nil, 100, [20]byte{}); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := f.gateway.RequestDeposit(second, "USDC", usdc(100), nil, 100, [20]byte{}); err != nil {
		t.Fatalf("second request: %v", err)
	}

	processed, err := f.gateway.ProcessDeposits(f.runner, "USDC", 1)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected batch limit respected, got %d", processed)
	}
	first, _, err := f.gateway.UserRequestByIndex(f.user, 0)
	if err != nil {
		t.Fatalf("lookup first: %v", err)
	}
	if first.Status != StatusSuccessful {
		t.Fatalf("expected head settled, got %v", first.Status)
	}
	tail, _, err := f.gateway.UserRequestByIndex(second, 0)
	if err != nil {
		t.Fatalf("lookup second: %v", err)
	}
	if tail.Status != StatusPending {
		t.Fatalf("expected tail pending, got %v", tail.Status)
	}

	if _, err := f.gateway.ProcessDeposits(f.user, "USDC", 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-runner, got %v", err)
	}
}

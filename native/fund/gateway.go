package fund

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"fundchain/core/events"
	nativecommon "fundchain/native/common"
	"fundchain/observability/metrics"
)

const moduleName = "fund"

// Gateway accepts deposit and withdrawal intents, escrows the funds backing
// them, and settles bounded batches against a per-batch pricing snapshot on a
// later, task-runner-triggered pass. Settlement failures are recorded on the
// individual request and never abort a batch.
type Gateway struct {
	mu       sync.Mutex
	store    Storage
	tokens   TokenLedger
	oracle   ValuationOracle
	ledger   *Ledger
	registry *ParticipantRegistry
	emitter  events.Emitter
	metrics  *metrics.FundMetrics
	pauses   nativecommon.PauseView
	params   Params
	addr     [20]byte
}

// NewGateway wires a redemption gateway to its collaborators and registers
// its custody address as the ledger's authorised settlement reporter.
func NewGateway(store Storage, tokens TokenLedger, oracle ValuationOracle, ledger *Ledger, registry *ParticipantRegistry, params Params) *Gateway {
	g := &Gateway{
		store:    store,
		tokens:   tokens,
		oracle:   oracle,
		ledger:   ledger,
		registry: registry,
		emitter:  events.NoopEmitter{},
		params:   params,
		addr:     ModuleAddress("gateway"),
	}
	if ledger != nil {
		ledger.SetGateway(g.addr)
	}
	return g
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (g *Gateway) SetEmitter(emitter events.Emitter) {
	if g == nil {
		return
	}
	if emitter == nil {
		g.emitter = events.NoopEmitter{}
		return
	}
	g.emitter = emitter
}

// SetMetrics wires the optional prometheus surface.
func (g *Gateway) SetMetrics(m *metrics.FundMetrics) {
	if g == nil {
		return
	}
	g.metrics = m
}

// SetPauses configures the governance pause view consulted on submissions.
func (g *Gateway) SetPauses(p nativecommon.PauseView) {
	if g == nil {
		return
	}
	g.pauses = p
}

// Address returns the gateway's escrow custody address.
func (g *Gateway) Address() [20]byte {
	if g == nil {
		return [20]byte{}
	}
	return g.addr
}

func (g *Gateway) emit(event events.Event) {
	if g == nil || g.emitter == nil {
		return
	}
	g.emitter.Emit(event)
}

// ListAssets adds the supplied assets to the allow-list, pairing each symbol
// with its oracle feed. Restricted to the governance-executor role. The
// parallel slices must agree in length.
func (g *Gateway) ListAssets(caller [20]byte, symbols, feedIDs []string, decimals []uint8) error {
	if g == nil || g.store == nil {
		return ErrNilState
	}
	if !g.store.HasRole(RoleGovernanceExecutor, caller[:]) {
		return ErrUnauthorized
	}
	if len(symbols) != len(feedIDs) || len(symbols) != len(decimals) {
		return ErrInvalidArrayLengths
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range symbols {
		cfg, err := sanitizeAssetConfig(&AssetConfig{Symbol: symbols[i], Decimals: decimals[i], FeedID: feedIDs[i]})
		if err != nil {
			return err
		}
		var existing storedAssetListing
		ok, err := g.store.KVGet(assetKey(cfg.Symbol), &existing)
		if err != nil {
			return err
		}
		if ok && existing.Allowed {
			return fmt.Errorf("%w: %s", ErrAssetExists, cfg.Symbol)
		}
		listing := storedAssetListing{Symbol: cfg.Symbol, Decimals: cfg.Decimals, FeedID: cfg.FeedID, Allowed: true}
		if err := g.store.KVPut(assetKey(cfg.Symbol), listing); err != nil {
			return err
		}
		if !ok {
			if err := g.store.KVAppend(assetIndexKey, []byte(cfg.Symbol)); err != nil {
				return err
			}
		}
		g.emit(events.FundAssetListed{Asset: cfg.Symbol, FeedID: cfg.FeedID, Decimals: cfg.Decimals})
	}
	return nil
}

// DelistAsset removes an asset from the allow-list. Queued requests for the
// asset remain processable; only new submissions are rejected.
func (g *Gateway) DelistAsset(caller [20]byte, symbol string) error {
	if g == nil || g.store == nil {
		return ErrNilState
	}
	if !g.store.HasRole(RoleGovernanceExecutor, caller[:]) {
		return ErrUnauthorized
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cfg, err := sanitizeAssetConfig(&AssetConfig{Symbol: symbol, FeedID: "-"})
	if err != nil {
		return err
	}
	var listing storedAssetListing
	ok, err := g.store.KVGet(assetKey(cfg.Symbol), &listing)
	if err != nil {
		return err
	}
	if !ok || !listing.Allowed {
		return fmt.Errorf("%w: %s", ErrAssetNotAllowed, cfg.Symbol)
	}
	listing.Allowed = false
	if err := g.store.KVPut(assetKey(cfg.Symbol), listing); err != nil {
		return err
	}
	g.emit(events.FundAssetDelisted{Asset: cfg.Symbol})
	return nil
}

// Assets returns the allow-listed assets in listing order.
func (g *Gateway) Assets() ([]AssetConfig, error) {
	if g == nil || g.store == nil {
		return nil, ErrNilState
	}
	var raw [][]byte
	if err := g.store.KVGetList(assetIndexKey, &raw); err != nil {
		return nil, err
	}
	configs := make([]AssetConfig, 0, len(raw))
	for _, symbol := range raw {
		var listing storedAssetListing
		ok, err := g.store.KVGet(assetKey(string(symbol)), &listing)
		if err != nil {
			return nil, err
		}
		if !ok || !listing.Allowed {
			continue
		}
		configs = append(configs, AssetConfig{Symbol: listing.Symbol, Decimals: listing.Decimals, FeedID: listing.FeedID})
	}
	return configs, nil
}

func (g *Gateway) assetConfig(symbol string) (*AssetConfig, error) {
	cfg, err := sanitizeAssetConfig(&AssetConfig{Symbol: symbol, FeedID: "-"})
	if err != nil {
		return nil, err
	}
	var listing storedAssetListing
	ok, err := g.store.KVGet(assetKey(cfg.Symbol), &listing)
	if err != nil {
		return nil, err
	}
	if !ok || !listing.Allowed {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotAllowed, symbol)
	}
	return &AssetConfig{Symbol: listing.Symbol, Decimals: listing.Decimals, FeedID: listing.FeedID}, nil
}

// RequestDeposit escrows amountIn of the asset with the gateway and enqueues
// a deposit intent. No pricing happens here: the settlement rate is locked in
// by the batch that eventually processes the request.
func (g *Gateway) RequestDeposit(caller [20]byte, asset string, amountIn, minAmountOut *big.Int, blockDeadline uint64, incentive [20]byte) (Accessor, error) {
	if g == nil || g.store == nil {
		return Accessor{}, ErrNilState
	}
	if g.tokens == nil {
		return Accessor{}, ErrNilTokens
	}
	if err := nativecommon.Guard(g.pauses, moduleName); err != nil {
		return Accessor{}, err
	}
	if !g.store.HasRole(RoleTokenHolder, caller[:]) {
		return Accessor{}, ErrUnauthorized
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return Accessor{}, ErrAmountNotPositive
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cfg, err := g.assetConfig(asset)
	if err != nil {
		return Accessor{}, err
	}
	if err := g.ensureNoPendingLocked(caller); err != nil {
		return Accessor{}, err
	}
	if err := g.consumeQuotaLocked(caller, nil); err != nil {
		return Accessor{}, err
	}
	if err := g.validateIncentiveLocked(incentive, caller); err != nil {
		return Accessor{}, err
	}
	if err := g.tokens.TransferFrom(cfg.Symbol, g.addr, caller, g.addr, amountIn); err != nil {
		return Accessor{}, err
	}
	return g.enqueueLocked(caller, cfg.Symbol, KindDeposit, amountIn, minAmountOut, blockDeadline, incentive)
}

// ProcessDeposits settles up to maxToProcess queued deposit intents for the
// asset against a single pricing snapshot taken at the top of the call.
// Restricted to the task-runner role. Every reached entry is popped whatever
// its outcome; failed escrows stay with the gateway for later reclaim.
func (g *Gateway) ProcessDeposits(caller [20]byte, asset string, maxToProcess uint32) (uint32, error) {
	if g == nil || g.store == nil {
		return 0, ErrNilState
	}
	if g.tokens == nil {
		return 0, ErrNilTokens
	}
	if g.oracle == nil {
		return 0, ErrNilOracle
	}
	if !g.store.HasRole(RoleTaskRunner, caller[:]) {
		return 0, ErrUnauthorized
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cfg, err := g.assetConfig(asset)
	if err != nil {
		return 0, err
	}
	if maxToProcess == 0 {
		maxToProcess = g.params.MaxRequestsPerBatch
	}
	assetPrice, err := g.oracle.LatestPrice(cfg.FeedID)
	if err != nil {
		return 0, err
	}
	tokenPrice, err := g.ledger.FundTokenPrice()
	if err != nil {
		return 0, err
	}

	queue := NewQueue(g.store, cfg.Symbol, KindDeposit)
	height := g.store.BlockHeight()
	settledIn := big.NewInt(0)
	minted := ZeroValue(TokenDecimals)
	var processed uint32

	for i := uint32(0); i < maxToProcess; i++ {
		request, slot, err := queue.Front()
		if err == ErrQueueEmpty {
			break
		}
		if err != nil {
			return processed, err
		}
		if request.Status.Terminal() {
			if err := queue.Pop(); err != nil {
				return processed, err
			}
			processed++
			continue
		}

		status := StatusSuccessful
		amountOut := ZeroValue(TokenDecimals)
		switch {
		case height > request.BlockDeadline:
			status = StatusExpired
		default:
			out, computeErr := depositAmountOut(request.AmountIn, cfg.Decimals, assetPrice, tokenPrice)
			switch {
			case computeErr != nil:
				status = StatusUnhandled
			case out.Cmp(NewValue(request.MinAmountOut, TokenDecimals)) < 0:
				status = StatusInsufficientOutput
			default:
				participant, resolution := g.registry.resolveIncentive(request.Incentive, request.Requester)
				switch resolution {
				case incentiveNotApplicable:
					if err := g.tokens.Mint(g.params.ClaimToken, request.Requester, cloneBigInt(out.Amount)); err != nil {
						return processed, err
					}
					amountOut = out
				case incentiveValid:
					if err := g.tokens.Mint(g.params.ClaimToken, participant.Address(), cloneBigInt(out.Amount)); err != nil {
						return processed, err
					}
					if err := participant.RecordDirectDeposit(request.Requester, out.Clone()); err != nil {
						return processed, err
					}
					amountOut = out
				case incentiveNotFound:
					status = StatusIncentiveNotFound
				case incentiveNotQualified:
					status = StatusIncentiveNotQualified
				default:
					status = StatusUnhandled
				}
			}
		}

		if status == StatusSuccessful {
			settledIn.Add(settledIn, request.AmountIn)
			minted = minted.Add(amountOut)
			request.ComputedAmountOut = cloneBigInt(amountOut.Amount)
		}
		request.Status = status
		request.BlockUpdated = height
		if err := queue.Update(slot, request); err != nil {
			return processed, err
		}
		if err := queue.Pop(); err != nil {
			return processed, err
		}
		processed++
		g.emit(events.FundRequestSettled{
			Asset:     cfg.Symbol,
			Kind:      KindDeposit.String(),
			Slot:      slot,
			Requester: request.Requester,
			Status:    status.String(),
			AmountOut: cloneBigInt(request.ComputedAmountOut),
		})
		g.metrics.ObserveRequestSettled(KindDeposit.String(), status.String())
	}

	if settledIn.Sign() > 0 {
		if err := g.tokens.Transfer(cfg.Symbol, g.addr, g.params.Treasury, settledIn); err != nil {
			return processed, err
		}
		depositValue := NewValue(cloneBigInt(settledIn), cfg.Decimals).Mul(assetPrice).Rescale(TokenDecimals)
		if err := g.ledger.RecordDeposits(g.addr, depositValue, minted); err != nil {
			return processed, err
		}
	}
	g.emit(events.FundDepositsProcessed{
		Asset:         cfg.Symbol,
		Processed:     processed,
		SettledAmount: settledIn,
		MintedAmount:  cloneBigInt(minted.Amount),
	})
	g.metrics.ObserveBatch(KindDeposit.String())
	return processed, nil
}

// depositAmountOut prices a deposit: amountIn at the asset's scale times the
// asset price, divided by the claim-token price, carried at TokenDecimals.
func depositAmountOut(amountIn *big.Int, assetDecimals uint8, assetPrice, tokenPrice Value) (Value, error) {
	value := NewValue(cloneBigInt(amountIn), assetDecimals).Rescale(TokenDecimals).Mul(assetPrice)
	return value.Div(tokenPrice.Rescale(TokenDecimals))
}

// CancelRequest cancels the caller's latest request while it is still
// pending and returns the escrowed funds. Earlier requests are intentionally
// not cancellable: the narrow window avoids reordering races with the queue.
func (g *Gateway) CancelRequest(caller [20]byte) error {
	if g == nil || g.store == nil {
		return ErrNilState
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	accessor, ok, err := g.latestAccessorLocked(caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRequestNotFound
	}
	queue := NewQueue(g.store, accessor.Asset, accessor.Kind)
	request, found, err := queue.Get(accessor.Slot)
	if err != nil {
		return err
	}
	if !found {
		return ErrRequestNotFound
	}
	if request.Requester != caller {
		return ErrNotRequester
	}
	if request.Status != StatusPending {
		return ErrNotCancellable
	}
	if err := g.refundEscrowLocked(accessor.Asset, request); err != nil {
		return err
	}
	request.Status = StatusCancelled
	request.BlockUpdated = g.store.BlockHeight()
	request.Reclaimed = true
	if err := queue.Update(accessor.Slot, request); err != nil {
		return err
	}
	g.emit(events.FundRequestCancelled{
		Asset:     accessor.Asset,
		Kind:      accessor.Kind.String(),
		Slot:      accessor.Slot,
		Requester: caller,
		AmountIn:  cloneBigInt(request.AmountIn),
	})
	return nil
}

// ReclaimFailedRequests returns the escrow behind the caller's failed
// requests, addressed by positions in their request history. Refunds are
// explicit: settlement failures never trigger automatic repayment.
func (g *Gateway) ReclaimFailedRequests(caller [20]byte, indices []uint64) error {
	if g == nil || g.store == nil {
		return ErrNilState
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	accessors, err := g.historyLocked(caller)
	if err != nil {
		return err
	}
	for _, index := range indices {
		if index >= uint64(len(accessors)) {
			return ErrRequestNotFound
		}
		accessor := accessors[index]
		queue := NewQueue(g.store, accessor.Asset, accessor.Kind)
		request, found, err := queue.Get(accessor.Slot)
		if err != nil {
			return err
		}
		if !found {
			return ErrRequestNotFound
		}
		if request.Requester != caller {
			return ErrNotRequester
		}
		if !request.Status.Failed() || request.Reclaimed {
			return ErrNotReclaimable
		}
		if err := g.refundEscrowLocked(accessor.Asset, request); err != nil {
			return err
		}
		request.Reclaimed = true
		request.BlockUpdated = g.store.BlockHeight()
		if err := queue.Update(accessor.Slot, request); err != nil {
			return err
		}
		g.emit(events.FundRequestReclaimed{
			Asset:     accessor.Asset,
			Kind:      accessor.Kind.String(),
			Slot:      accessor.Slot,
			Requester: caller,
			AmountIn:  cloneBigInt(request.AmountIn),
		})
	}
	return nil
}

func (g *Gateway) refundEscrowLocked(asset string, request *Request) error {
	switch request.Kind {
	case KindDeposit:
		return g.tokens.Transfer(asset, g.addr, request.Requester, cloneBigInt(request.AmountIn))
	case KindWithdrawal:
		return g.tokens.Transfer(g.params.ClaimToken, g.addr, request.Requester, cloneBigInt(request.AmountIn))
	default:
		return fmt.Errorf("fund: invalid request kind %d", request.Kind)
	}
}

// UserRequestCount reports how many requests an address has ever submitted.
func (g *Gateway) UserRequestCount(user [20]byte) (uint64, error) {
	if g == nil || g.store == nil {
		return 0, ErrNilState
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	accessors, err := g.historyLocked(user)
	if err != nil {
		return 0, err
	}
	return uint64(len(accessors)), nil
}

// UserRequestByIndex looks a request up by position in the user's append-only
// history.
func (g *Gateway) UserRequestByIndex(user [20]byte, index uint64) (*Request, Accessor, error) {
	if g == nil || g.store == nil {
		return nil, Accessor{}, ErrNilState
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	accessors, err := g.historyLocked(user)
	if err != nil {
		return nil, Accessor{}, err
	}
	if index >= uint64(len(accessors)) {
		return nil, Accessor{}, ErrRequestNotFound
	}
	accessor := accessors[index]
	request, err := g.requestByAccessorLocked(accessor)
	if err != nil {
		return nil, Accessor{}, err
	}
	return request, accessor, nil
}

// UserRequestByAccessor looks a request up by its queue coordinates.
func (g *Gateway) UserRequestByAccessor(accessor Accessor) (*Request, error) {
	if g == nil || g.store == nil {
		return nil, ErrNilState
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requestByAccessorLocked(accessor)
}

func (g *Gateway) requestByAccessorLocked(accessor Accessor) (*Request, error) {
	queue := NewQueue(g.store, accessor.Asset, accessor.Kind)
	request, found, err := queue.Get(accessor.Slot)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrRequestNotFound
	}
	return request, nil
}

// ensureNoPendingLocked enforces the one-pending-request rule using only the
// caller's most recent accessor, a deliberate O(1) check.
func (g *Gateway) ensureNoPendingLocked(caller [20]byte) error {
	accessor, ok, err := g.latestAccessorLocked(caller)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	request, err := g.requestByAccessorLocked(accessor)
	if err != nil {
		return err
	}
	if request.Status == StatusPending {
		return ErrRequestPending
	}
	return nil
}

func (g *Gateway) validateIncentiveLocked(incentive, caller [20]byte) error {
	if incentive == ([20]byte{}) {
		return nil
	}
	_, resolution := g.registry.resolveIncentive(incentive, caller)
	switch resolution {
	case incentiveValid:
		return nil
	case incentiveNotFound:
		return ErrIncentiveNotFound
	default:
		return ErrIncentiveNotEarned
	}
}

func (g *Gateway) consumeQuotaLocked(caller [20]byte, addValue *big.Int) error {
	quota := g.params.RequestQuota
	if quota.MaxRequestsPerEpoch == 0 && quota.MaxValuePerEpoch == nil {
		return nil
	}
	var stored storedQuota
	if _, err := g.store.KVGet(userQuotaKey(caller), &stored); err != nil {
		return err
	}
	used, err := parseBigInt(stored.ValueUsed)
	if err != nil {
		return err
	}
	prev := nativecommon.QuotaNow{ReqCount: stored.ReqCount, ValueUsed: used, EpochID: stored.EpochID}
	next, err := nativecommon.CheckQuota(quota, quota.Epoch(g.store.BlockHeight()), prev, 1, addValue)
	if err != nil {
		return err
	}
	return g.store.KVPut(userQuotaKey(caller), storedQuota{
		ReqCount:  next.ReqCount,
		ValueUsed: bigIntString(next.ValueUsed),
		EpochID:   next.EpochID,
	})
}

func (g *Gateway) enqueueLocked(caller [20]byte, asset string, kind RequestKind, amountIn, minAmountOut *big.Int, blockDeadline uint64, incentive [20]byte) (Accessor, error) {
	height := g.store.BlockHeight()
	request := &Request{
		Requester:      caller,
		Asset:          asset,
		Kind:           kind,
		AmountIn:       cloneBigInt(amountIn),
		MinAmountOut:   cloneBigInt(minAmountOut),
		BlockDeadline:  blockDeadline,
		Incentive:      incentive,
		Status:         StatusPending,
		BlockSubmitted: height,
	}
	queue := NewQueue(g.store, asset, kind)
	slot, err := queue.Push(request)
	if err != nil {
		return Accessor{}, err
	}
	accessor := Accessor{Asset: asset, Kind: kind, Slot: slot}
	if err := g.store.KVPut(userLatestKey(caller), storedAccessor{Asset: asset, Kind: uint8(kind), Slot: slot}); err != nil {
		return Accessor{}, err
	}
	encoded, err := rlp.EncodeToBytes(storedAccessor{Asset: asset, Kind: uint8(kind), Slot: slot})
	if err != nil {
		return Accessor{}, err
	}
	if err := g.store.KVAppend(userHistoryKey(caller), encoded); err != nil {
		return Accessor{}, err
	}
	g.emit(events.FundRequestSubmitted{
		Asset:        asset,
		Kind:         kind.String(),
		Slot:         slot,
		Requester:    caller,
		AmountIn:     cloneBigInt(amountIn),
		MinAmountOut: cloneBigInt(minAmountOut),
		Deadline:     blockDeadline,
		Incentive:    incentive,
	})
	g.metrics.ObserveRequestSubmitted(kind.String())
	return accessor, nil
}

func (g *Gateway) latestAccessorLocked(caller [20]byte) (Accessor, bool, error) {
	var stored storedAccessor
	ok, err := g.store.KVGet(userLatestKey(caller), &stored)
	if err != nil {
		return Accessor{}, false, err
	}
	if !ok {
		return Accessor{}, false, nil
	}
	kind := RequestKind(stored.Kind)
	if !kind.Valid() {
		return Accessor{}, false, fmt.Errorf("fund: invalid accessor kind %d", stored.Kind)
	}
	return Accessor{Asset: stored.Asset, Kind: kind, Slot: stored.Slot}, true, nil
}

func (g *Gateway) historyLocked(caller [20]byte) ([]Accessor, error) {
	var raw [][]byte
	if err := g.store.KVGetList(userHistoryKey(caller), &raw); err != nil {
		return nil, err
	}
	accessors := make([]Accessor, 0, len(raw))
	for _, encoded := range raw {
		if len(encoded) == 0 {
			continue
		}
		var stored storedAccessor
		if err := rlp.DecodeBytes(encoded, &stored); err != nil {
			return nil, err
		}
		kind := RequestKind(stored.Kind)
		if !kind.Valid() {
			continue
		}
		accessors = append(accessors, Accessor{Asset: stored.Asset, Kind: kind, Slot: stored.Slot})
	}
	return accessors, nil
}

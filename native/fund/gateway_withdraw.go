package fund

import (
	"math/big"

	"fundchain/core/events"
	nativecommon "fundchain/native/common"
)

// RequestWithdrawal escrows amountIn claim tokens with the gateway and
// enqueues a withdrawal intent targeting the given asset. The single-request
// ceiling is enforced here, before any state mutation or asset movement, and
// again at settlement against the ceiling in force at that time.
func (g *Gateway) RequestWithdrawal(caller [20]byte, asset string, amountIn, minAmountOut *big.Int, blockDeadline uint64, incentive [20]byte) (Accessor, error) {
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
	if NewValue(cloneBigInt(amountIn), TokenDecimals).Cmp(g.params.MaxSingleWithdrawal) > 0 {
		return Accessor{}, ErrAmountTooLarge
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
	if err := g.consumeQuotaLocked(caller, amountIn); err != nil {
		return Accessor{}, err
	}
	if err := g.validateIncentiveLocked(incentive, caller); err != nil {
		return Accessor{}, err
	}
	if err := g.tokens.TransferFrom(g.params.ClaimToken, g.addr, caller, g.addr, amountIn); err != nil {
		return Accessor{}, err
	}
	return g.enqueueLocked(caller, cfg.Symbol, KindWithdrawal, amountIn, minAmountOut, blockDeadline, incentive)
}

// ProcessWithdrawals settles up to maxToProcess queued withdrawal intents
// against a single pricing snapshot. Unlike deposits, the batch is bounded by
// the treasury's pre-approved ceiling for the asset: once the next settlement
// would exceed it, processing stops early and the remaining requests stay
// pending for a future call. Restricted to the task-runner role.
func (g *Gateway) ProcessWithdrawals(caller [20]byte, asset string, maxToProcess uint32) (uint32, error) {
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
	withdrawable, err := g.treasuryWithdrawableLocked(cfg.Symbol)
	if err != nil {
		return 0, err
	}

	queue := NewQueue(g.store, cfg.Symbol, KindWithdrawal)
	height := g.store.BlockHeight()
	burned := big.NewInt(0)
	settledOut := big.NewInt(0)
	halted := false
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
		amountOut := ZeroValue(cfg.Decimals)
		settle := false
		switch {
		case height > request.BlockDeadline:
			status = StatusExpired
		case NewValue(cloneBigInt(request.AmountIn), TokenDecimals).Cmp(g.params.MaxSingleWithdrawal) > 0:
			// Re-check against the current ceiling: it may have been lowered
			// after the request was queued.
			status = StatusAmountTooLarge
		default:
			out, computeErr := withdrawalAmountOut(request.AmountIn, cfg.Decimals, assetPrice, tokenPrice)
			switch {
			case computeErr != nil:
				status = StatusUnhandled
			case out.Cmp(NewValue(request.MinAmountOut, cfg.Decimals)) < 0:
				status = StatusInsufficientOutput
			default:
				_, resolution := g.registry.resolveIncentive(request.Incentive, request.Requester)
				switch resolution {
				case incentiveNotApplicable, incentiveValid:
					projected := new(big.Int).Add(settledOut, out.Amount)
					if projected.Cmp(withdrawable) > 0 {
						halted = true
					} else {
						settle = true
						amountOut = out
					}
				case incentiveNotFound:
					status = StatusIncentiveNotFound
				case incentiveNotQualified:
					status = StatusIncentiveNotQualified
				default:
					status = StatusUnhandled
				}
			}
		}
		if halted {
			// Backpressure, not a failure: the head request stays pending.
			break
		}

		if settle {
			if err := g.tokens.Burn(g.params.ClaimToken, g.addr, cloneBigInt(request.AmountIn)); err != nil {
				return processed, err
			}
			if err := g.tokens.TransferFrom(cfg.Symbol, g.addr, g.params.Treasury, request.Requester, cloneBigInt(amountOut.Amount)); err != nil {
				return processed, err
			}
			burned.Add(burned, request.AmountIn)
			settledOut.Add(settledOut, amountOut.Amount)
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
			Kind:      KindWithdrawal.String(),
			Slot:      slot,
			Requester: request.Requester,
			Status:    status.String(),
			AmountOut: cloneBigInt(request.ComputedAmountOut),
		})
		g.metrics.ObserveRequestSettled(KindWithdrawal.String(), status.String())
	}

	if burned.Sign() > 0 {
		withdrawValue := NewValue(cloneBigInt(settledOut), cfg.Decimals).Rescale(TokenDecimals).Mul(assetPrice)
		if err := g.ledger.RecordWithdrawals(g.addr, withdrawValue, NewValue(cloneBigInt(burned), TokenDecimals)); err != nil {
			return processed, err
		}
	}
	g.emit(events.FundWithdrawalsProcessed{
		Asset:         cfg.Symbol,
		Processed:     processed,
		BurnedAmount:  burned,
		SettledAmount: settledOut,
		Halted:        halted,
	})
	g.metrics.ObserveBatch(KindWithdrawal.String())
	return processed, nil
}

// treasuryWithdrawableLocked computes the batch ceiling: the smaller of the
// treasury's allowance towards the gateway and its live balance.
func (g *Gateway) treasuryWithdrawableLocked(asset string) (*big.Int, error) {
	allowance, err := g.tokens.Allowance(asset, g.params.Treasury, g.addr)
	if err != nil {
		return nil, err
	}
	balance, err := g.tokens.BalanceOf(asset, g.params.Treasury)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(balance) < 0 {
		return cloneBigInt(allowance), nil
	}
	return cloneBigInt(balance), nil
}

// withdrawalAmountOut prices a withdrawal: amountIn claim tokens times the
// claim-token price, divided by the asset price, rescaled to the asset's
// base units.
func withdrawalAmountOut(amountIn *big.Int, assetDecimals uint8, assetPrice, tokenPrice Value) (Value, error) {
	value := NewValue(cloneBigInt(amountIn), TokenDecimals).Mul(tokenPrice.Rescale(TokenDecimals))
	out, err := value.Div(assetPrice.Rescale(TokenDecimals))
	if err != nil {
		return Value{}, err
	}
	return out.Rescale(assetDecimals), nil
}

package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"fundchain/core/types"
)

const (
	TypeFundRequestSubmitted     = "fund.request.submitted"
	TypeFundRequestCancelled     = "fund.request.cancelled"
	TypeFundRequestSettled       = "fund.request.settled"
	TypeFundRequestReclaimed     = "fund.request.reclaimed"
	TypeFundDepositsProcessed    = "fund.deposits.processed"
	TypeFundWithdrawalsProcessed = "fund.withdrawals.processed"
	TypeFundSupplyRebased        = "fund.supply.rebased"
	TypeFundPeriodReset          = "fund.period.reset"
	TypeFundDisbursement         = "fund.disbursement"
	TypeFundAssetListed          = "fund.asset.listed"
	TypeFundAssetDelisted        = "fund.asset.delisted"
)

// FundRequestSubmitted is emitted when a deposit or withdrawal intent enters
// an asset queue.
type FundRequestSubmitted struct {
	Asset        string
	Kind         string
	Slot         uint64
	Requester    [20]byte
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Deadline     uint64
	Incentive    [20]byte
}

func (FundRequestSubmitted) EventType() string { return TypeFundRequestSubmitted }

func (e FundRequestSubmitted) Event() *types.Event {
	attrs := map[string]string{
		"asset":        e.Asset,
		"kind":         e.Kind,
		"slot":         strconv.FormatUint(e.Slot, 10),
		"requester":    hex.EncodeToString(e.Requester[:]),
		"amountIn":     formatAmount(e.AmountIn),
		"minAmountOut": formatAmount(e.MinAmountOut),
		"deadline":     strconv.FormatUint(e.Deadline, 10),
	}
	if e.Incentive != ([20]byte{}) {
		attrs["incentive"] = hex.EncodeToString(e.Incentive[:])
	}
	return &types.Event{Type: TypeFundRequestSubmitted, Attributes: attrs}
}

// FundRequestCancelled is emitted when a requester withdraws their own pending
// request and the escrowed funds are returned.
type FundRequestCancelled struct {
	Asset     string
	Kind      string
	Slot      uint64
	Requester [20]byte
	AmountIn  *big.Int
}

func (FundRequestCancelled) EventType() string { return TypeFundRequestCancelled }

func (e FundRequestCancelled) Event() *types.Event {
	return &types.Event{
		Type: TypeFundRequestCancelled,
		Attributes: map[string]string{
			"asset":     e.Asset,
			"kind":      e.Kind,
			"slot":      strconv.FormatUint(e.Slot, 10),
			"requester": hex.EncodeToString(e.Requester[:]),
			"amountIn":  formatAmount(e.AmountIn),
		},
	}
}

// FundRequestSettled is emitted once per request when a processing pass moves
// it out of the pending state.
type FundRequestSettled struct {
	Asset     string
	Kind      string
	Slot      uint64
	Requester [20]byte
	Status    string
	AmountOut *big.Int
}

func (FundRequestSettled) EventType() string { return TypeFundRequestSettled }

func (e FundRequestSettled) Event() *types.Event {
	return &types.Event{
		Type: TypeFundRequestSettled,
		Attributes: map[string]string{
			"asset":     e.Asset,
			"kind":      e.Kind,
			"slot":      strconv.FormatUint(e.Slot, 10),
			"requester": hex.EncodeToString(e.Requester[:]),
			"status":    e.Status,
			"amountOut": formatAmount(e.AmountOut),
		},
	}
}

// FundRequestReclaimed is emitted when the escrow backing a failed request is
// returned to the requester.
type FundRequestReclaimed struct {
	Asset     string
	Kind      string
	Slot      uint64
	Requester [20]byte
	AmountIn  *big.Int
}

func (FundRequestReclaimed) EventType() string { return TypeFundRequestReclaimed }

func (e FundRequestReclaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeFundRequestReclaimed,
		Attributes: map[string]string{
			"asset":     e.Asset,
			"kind":      e.Kind,
			"slot":      strconv.FormatUint(e.Slot, 10),
			"requester": hex.EncodeToString(e.Requester[:]),
			"amountIn":  formatAmount(e.AmountIn),
		},
	}
}

// FundDepositsProcessed summarises a deposit settlement batch.
type FundDepositsProcessed struct {
	Asset         string
	Processed     uint32
	SettledAmount *big.Int
	MintedAmount  *big.Int
}

func (FundDepositsProcessed) EventType() string { return TypeFundDepositsProcessed }

func (e FundDepositsProcessed) Event() *types.Event {
	return &types.Event{
		Type: TypeFundDepositsProcessed,
		Attributes: map[string]string{
			"asset":         e.Asset,
			"processed":     strconv.FormatUint(uint64(e.Processed), 10),
			"settledAmount": formatAmount(e.SettledAmount),
			"mintedAmount":  formatAmount(e.MintedAmount),
		},
	}
}

// FundWithdrawalsProcessed summarises a withdrawal settlement batch. Halted
// reports whether the treasury ceiling stopped the batch early.
type FundWithdrawalsProcessed struct {
	Asset         string
	Processed     uint32
	BurnedAmount  *big.Int
	SettledAmount *big.Int
	Halted        bool
}

func (FundWithdrawalsProcessed) EventType() string { return TypeFundWithdrawalsProcessed }

func (e FundWithdrawalsProcessed) Event() *types.Event {
	return &types.Event{
		Type: TypeFundWithdrawalsProcessed,
		Attributes: map[string]string{
			"asset":         e.Asset,
			"processed":     strconv.FormatUint(uint64(e.Processed), 10),
			"burnedAmount":  formatAmount(e.BurnedAmount),
			"settledAmount": formatAmount(e.SettledAmount),
			"halted":        strconv.FormatBool(e.Halted),
		},
	}
}

// FundSupplyRebased is emitted after an AUM recording adjusts circulating
// supply towards the theoretical supply.
type FundSupplyRebased struct {
	AumValue          *big.Int
	TheoreticalSupply *big.Int
	Minted            *big.Int
	Burned            *big.Int
}

func (FundSupplyRebased) EventType() string { return TypeFundSupplyRebased }

func (e FundSupplyRebased) Event() *types.Event {
	return &types.Event{
		Type: TypeFundSupplyRebased,
		Attributes: map[string]string{
			"aumValue":          formatAmount(e.AumValue),
			"theoreticalSupply": formatAmount(e.TheoreticalSupply),
			"minted":            formatAmount(e.Minted),
			"burned":            formatAmount(e.Burned),
		},
	}
}

// FundPeriodReset is emitted when an evaluation period matures and the
// accounting snapshot is reinitialised.
type FundPeriodReset struct {
	Block    uint64
	AumValue *big.Int
	Supply   *big.Int
}

func (FundPeriodReset) EventType() string { return TypeFundPeriodReset }

func (e FundPeriodReset) Event() *types.Event {
	return &types.Event{
		Type: TypeFundPeriodReset,
		Attributes: map[string]string{
			"block":    strconv.FormatUint(e.Block, 10),
			"aumValue": formatAmount(e.AumValue),
			"supply":   formatAmount(e.Supply),
		},
	}
}

// FundDisbursement is emitted for every participant share paid out at a
// period boundary.
type FundDisbursement struct {
	Participant [20]byte
	Amount      *big.Int
}

func (FundDisbursement) EventType() string { return TypeFundDisbursement }

func (e FundDisbursement) Event() *types.Event {
	return &types.Event{
		Type: TypeFundDisbursement,
		Attributes: map[string]string{
			"participant": hex.EncodeToString(e.Participant[:]),
			"amount":      formatAmount(e.Amount),
		},
	}
}

// FundAssetListed is emitted when governance adds an asset to the allow-list.
type FundAssetListed struct {
	Asset    string
	FeedID   string
	Decimals uint8
}

func (FundAssetListed) EventType() string { return TypeFundAssetListed }

func (e FundAssetListed) Event() *types.Event {
	return &types.Event{
		Type: TypeFundAssetListed,
		Attributes: map[string]string{
			"asset":    e.Asset,
			"feedId":   e.FeedID,
			"decimals": strconv.FormatUint(uint64(e.Decimals), 10),
		},
	}
}

// FundAssetDelisted is emitted when governance removes an asset from the
// allow-list.
type FundAssetDelisted struct {
	Asset string
}

func (FundAssetDelisted) EventType() string { return TypeFundAssetDelisted }

func (e FundAssetDelisted) Event() *types.Event {
	return &types.Event{
		Type: TypeFundAssetDelisted,
		Attributes: map[string]string{"asset": e.Asset},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

package fund

import (
	"fmt"
	"math/big"
	"strings"
)

// RequestKind distinguishes the two intent queues kept per asset.
type RequestKind uint8

const (
	KindDeposit RequestKind = iota
	KindWithdrawal
)

// Valid reports whether the kind value is within the supported range.
func (k RequestKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal:
		return true
	default:
		return false
	}
}

func (k RequestKind) String() string {
	switch k {
	case KindDeposit:
		return "deposit"
	case KindWithdrawal:
		return "withdrawal"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// RequestStatus tracks the lifecycle of a queued intent. Pending is the only
// non-terminal state: a request leaves it exactly once, either through the
// batch processor or through a requester-initiated cancellation.
type RequestStatus uint8

const (
	StatusPending RequestStatus = iota
	StatusCancelled
	StatusSuccessful
	StatusAmountTooLarge
	StatusExpired
	StatusInsufficientOutput
	StatusIncentiveNotFound
	StatusIncentiveNotQualified
	StatusUnhandled
)

// Valid reports whether the status value is within the supported range.
func (s RequestStatus) Valid() bool {
	return s <= StatusUnhandled
}

// Terminal reports whether the status is final. Every non-pending status is.
func (s RequestStatus) Terminal() bool {
	return s != StatusPending
}

// Failed reports whether the status represents a settlement failure whose
// escrow remains reclaimable by the requester.
func (s RequestStatus) Failed() bool {
	switch s {
	case StatusAmountTooLarge, StatusExpired, StatusInsufficientOutput,
		StatusIncentiveNotFound, StatusIncentiveNotQualified, StatusUnhandled:
		return true
	default:
		return false
	}
}

func (s RequestStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCancelled:
		return "cancelled"
	case StatusSuccessful:
		return "successful"
	case StatusAmountTooLarge:
		return "amount_too_large"
	case StatusExpired:
		return "expired"
	case StatusInsufficientOutput:
		return "insufficient_output"
	case StatusIncentiveNotFound:
		return "incentive_not_found"
	case StatusIncentiveNotQualified:
		return "incentive_not_qualified"
	case StatusUnhandled:
		return "unhandled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Request is a queued deposit or withdrawal intent. AmountIn is denominated
// in the asset's base units for deposits and in claim-token units for
// withdrawals; MinAmountOut uses the opposite denomination. Pricing is
// deferred to the processing pass, so no rate is recorded at submission time.
type Request struct {
	Requester         [20]byte
	Asset             string
	Kind              RequestKind
	AmountIn          *big.Int
	MinAmountOut      *big.Int
	BlockDeadline     uint64
	Incentive         [20]byte
	Status            RequestStatus
	BlockSubmitted    uint64
	BlockUpdated      uint64
	ComputedAmountOut *big.Int
	Reclaimed         bool
}

// Clone returns a deep copy so callers can mutate the result without touching
// the stored instance.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	clone.AmountIn = cloneBigInt(r.AmountIn)
	clone.MinAmountOut = cloneBigInt(r.MinAmountOut)
	clone.ComputedAmountOut = cloneBigInt(r.ComputedAmountOut)
	return &clone
}

type storedRequest struct {
	Requester         [20]byte
	Asset             string
	Kind              uint8
	AmountIn          string
	MinAmountOut      string
	BlockDeadline     uint64
	Incentive         [20]byte
	Status            uint8
	BlockSubmitted    uint64
	BlockUpdated      uint64
	ComputedAmountOut string
	Reclaimed         bool
}

func toStoredRequest(r *Request) storedRequest {
	if r == nil {
		return storedRequest{}
	}
	return storedRequest{
		Requester:         r.Requester,
		Asset:             strings.TrimSpace(r.Asset),
		Kind:              uint8(r.Kind),
		AmountIn:          bigIntString(r.AmountIn),
		MinAmountOut:      bigIntString(r.MinAmountOut),
		BlockDeadline:     r.BlockDeadline,
		Incentive:         r.Incentive,
		Status:            uint8(r.Status),
		BlockSubmitted:    r.BlockSubmitted,
		BlockUpdated:      r.BlockUpdated,
		ComputedAmountOut: bigIntString(r.ComputedAmountOut),
		Reclaimed:         r.Reclaimed,
	}
}

func fromStoredRequest(stored *storedRequest) (*Request, error) {
	if stored == nil {
		return nil, fmt.Errorf("fund: nil stored request")
	}
	amountIn, err := parseBigInt(stored.AmountIn)
	if err != nil {
		return nil, fmt.Errorf("fund: invalid amountIn: %w", err)
	}
	minOut, err := parseBigInt(stored.MinAmountOut)
	if err != nil {
		return nil, fmt.Errorf("fund: invalid minAmountOut: %w", err)
	}
	computedOut, err := parseBigInt(stored.ComputedAmountOut)
	if err != nil {
		return nil, fmt.Errorf("fund: invalid computedAmountOut: %w", err)
	}
	status := RequestStatus(stored.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("fund: invalid request status %d", stored.Status)
	}
	kind := RequestKind(stored.Kind)
	if !kind.Valid() {
		return nil, fmt.Errorf("fund: invalid request kind %d", stored.Kind)
	}
	return &Request{
		Requester:         stored.Requester,
		Asset:             stored.Asset,
		Kind:              kind,
		AmountIn:          amountIn,
		MinAmountOut:      minOut,
		BlockDeadline:     stored.BlockDeadline,
		Incentive:         stored.Incentive,
		Status:            status,
		BlockSubmitted:    stored.BlockSubmitted,
		BlockUpdated:      stored.BlockUpdated,
		ComputedAmountOut: computedOut,
		Reclaimed:         stored.Reclaimed,
	}, nil
}

// Accessor locates a request inside a specific per-asset queue. Accessors are
// appended to a per-user history index that is never pruned, so the full
// request history of an address stays queryable.
type Accessor struct {
	Asset string
	Kind  RequestKind
	Slot  uint64
}

type storedAccessor struct {
	Asset string
	Kind  uint8
	Slot  uint64
}

// AssetConfig describes an allow-listed asset: its canonical symbol, base
// unit scale and the oracle feed it is priced against.
type AssetConfig struct {
	Symbol   string
	Decimals uint8
	FeedID   string
}

func sanitizeAssetConfig(cfg *AssetConfig) (*AssetConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("fund: nil asset config")
	}
	symbol := strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("fund: asset symbol required")
	}
	feed := strings.TrimSpace(cfg.FeedID)
	if feed == "" {
		return nil, fmt.Errorf("fund: oracle feed id required")
	}
	return &AssetConfig{Symbol: symbol, Decimals: cfg.Decimals, FeedID: feed}, nil
}

type storedAssetListing struct {
	Symbol   string
	Decimals uint8
	FeedID   string
	Allowed  bool
}

// AccountingState is the singleton snapshot backing the claim-token price and
// the period reconciliation logic. All figures carry TokenDecimals scale.
type AccountingState struct {
	AumValue              Value
	PeriodBeginningBlock  uint64
	PeriodBeginningAum    Value
	PeriodBeginningSupply Value
	TheoreticalSupply     Value
}

// Clone returns a deep copy of the accounting snapshot.
func (s *AccountingState) Clone() *AccountingState {
	if s == nil {
		return nil
	}
	return &AccountingState{
		AumValue:              s.AumValue.Clone(),
		PeriodBeginningBlock:  s.PeriodBeginningBlock,
		PeriodBeginningAum:    s.PeriodBeginningAum.Clone(),
		PeriodBeginningSupply: s.PeriodBeginningSupply.Clone(),
		TheoreticalSupply:     s.TheoreticalSupply.Clone(),
	}
}

type storedAccountingState struct {
	AumValue              string
	PeriodBeginningBlock  uint64
	PeriodBeginningAum    string
	PeriodBeginningSupply string
	TheoreticalSupply     string
}

func toStoredAccountingState(s *AccountingState) storedAccountingState {
	if s == nil {
		return storedAccountingState{}
	}
	return storedAccountingState{
		AumValue:              bigIntString(s.AumValue.Amount),
		PeriodBeginningBlock:  s.PeriodBeginningBlock,
		PeriodBeginningAum:    bigIntString(s.PeriodBeginningAum.Amount),
		PeriodBeginningSupply: bigIntString(s.PeriodBeginningSupply.Amount),
		TheoreticalSupply:     bigIntString(s.TheoreticalSupply.Amount),
	}
}

func fromStoredAccountingState(stored *storedAccountingState) (*AccountingState, error) {
	if stored == nil {
		return nil, fmt.Errorf("fund: nil stored accounting state")
	}
	aum, err := parseBigInt(stored.AumValue)
	if err != nil {
		return nil, fmt.Errorf("fund: invalid aum value: %w", err)
	}
	beginningAum, err := parseBigInt(stored.PeriodBeginningAum)
	if err != nil {
		return nil, fmt.Errorf("fund: invalid period beginning aum: %w", err)
	}
	beginningSupply, err := parseBigInt(stored.PeriodBeginningSupply)
	if err != nil {
		return nil, fmt.Errorf("fund: invalid period beginning supply: %w", err)
	}
	theoretical, err := parseBigInt(stored.TheoreticalSupply)
	if err != nil {
		return nil, fmt.Errorf("fund: invalid theoretical supply: %w", err)
	}
	return &AccountingState{
		AumValue:              NewValue(aum, TokenDecimals),
		PeriodBeginningBlock:  stored.PeriodBeginningBlock,
		PeriodBeginningAum:    NewValue(beginningAum, TokenDecimals),
		PeriodBeginningSupply: NewValue(beginningSupply, TokenDecimals),
		TheoreticalSupply:     NewValue(theoretical, TokenDecimals),
	}, nil
}

type queueMeta struct {
	ReadIndex  uint64
	WriteIndex uint64
}

type storedQuota struct {
	ReqCount  uint32
	ValueUsed string
	EpochID   uint64
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func bigIntString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBigInt(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	if v.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	return v, nil
}

package fund

import "errors"

var (
	ErrUnauthorized        = errors.New("fund: unauthorized")
	ErrAssetNotAllowed     = errors.New("fund: asset not allowed")
	ErrAssetExists         = errors.New("fund: asset already listed")
	ErrInvalidArrayLengths = errors.New("fund: array lengths mismatch")
	ErrAmountTooLarge      = errors.New("fund: amount exceeds single withdrawal ceiling")
	ErrAmountNotPositive   = errors.New("fund: amount must be positive")
	ErrQueueEmpty          = errors.New("fund: request queue empty")
	ErrRequestPending      = errors.New("fund: requester already has a pending request")
	ErrRequestNotFound     = errors.New("fund: request not found")
	ErrNotRequester        = errors.New("fund: caller is not the requester")
	ErrNotCancellable      = errors.New("fund: request is not cancellable")
	ErrNotReclaimable      = errors.New("fund: request is not reclaimable")
	ErrIncentiveNotFound   = errors.New("fund: incentive participant not registered")
	ErrIncentiveNotEarned  = errors.New("fund: caller does not qualify for incentive")
	ErrParticipantExists   = errors.New("fund: participant already registered")
	ErrAumNotPositive      = errors.New("fund: aum value must be positive")
	ErrSupplyZero          = errors.New("fund: token supply is zero")
	ErrSupplyMismatch      = errors.New("fund: initial supply does not match token ledger")
	ErrDivisionByZero      = errors.New("fund: division by zero value")
	ErrValueUnderflow      = errors.New("fund: value subtraction underflow")
	ErrNegativeAmount      = errors.New("fund: negative amount")
	ErrNilState            = errors.New("fund: state not configured")
	ErrNilTokens           = errors.New("fund: token ledger not configured")
	ErrNilOracle           = errors.New("fund: valuation oracle not configured")
	ErrPriceUnavailable    = errors.New("fund: price unavailable")
	ErrGenesisExists       = errors.New("fund: accounting state already initialised")
	ErrGenesisMissing      = errors.New("fund: accounting state not initialised")
)

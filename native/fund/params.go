package fund

import (
	"fmt"
	"strings"

	nativecommon "fundchain/native/common"
)

// Params bundles the governance-tunable knobs of the fund module.
type Params struct {
	// ClaimToken is the symbol of the fungible claim on fund AUM.
	ClaimToken string
	// EvaluationPeriodBlocks is the block-count window over which theoretical
	// supply accrues before disbursement.
	EvaluationPeriodBlocks uint64
	// ManagementFeeWeight is the fixed dilution weight of the management
	// entity, a fraction at TokenDecimals. It applies every period regardless
	// of returns.
	ManagementFeeWeight Value
	// MaxSingleWithdrawal caps the claim-token amount of one withdrawal
	// request, enforced at request time.
	MaxSingleWithdrawal Value
	// MaxRequestsPerBatch bounds a processing pass when the caller does not
	// supply an explicit batch size.
	MaxRequestsPerBatch uint32
	// RequestQuota rate-limits request submissions per address.
	RequestQuota nativecommon.Quota
	// Treasury holds the fund's settled assets.
	Treasury [20]byte
	// ManagementTreasury receives the undisbursed remainder at period end.
	ManagementTreasury [20]byte
}

// DefaultParams returns a conservative parameter set used when governance has
// not configured the module yet.
func DefaultParams() Params {
	maxWithdrawal, _ := ParseValue("1000000", TokenDecimals)
	return Params{
		ClaimToken:             "FUND",
		EvaluationPeriodBlocks: 40_320,
		ManagementFeeWeight:    ZeroValue(TokenDecimals),
		MaxSingleWithdrawal:    maxWithdrawal,
		MaxRequestsPerBatch:    64,
	}
}

// Validate rejects parameter combinations the accounting formulas cannot
// support.
func (p Params) Validate() error {
	if strings.TrimSpace(p.ClaimToken) == "" {
		return fmt.Errorf("fund: claim token symbol required")
	}
	if p.EvaluationPeriodBlocks == 0 {
		return fmt.Errorf("fund: evaluation period must be positive")
	}
	if p.ManagementFeeWeight.Cmp(OneValue(TokenDecimals)) >= 0 {
		return fmt.Errorf("fund: management fee weight must be below 1")
	}
	if p.MaxSingleWithdrawal.IsZero() {
		return fmt.Errorf("fund: max single withdrawal must be positive")
	}
	if p.MaxRequestsPerBatch == 0 {
		return fmt.Errorf("fund: max requests per batch must be positive")
	}
	return nil
}

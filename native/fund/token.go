package fund

import "math/big"

// TokenLedger is the trusted fungible-token capability the fund module moves
// value through. Implementations are expected to enforce balance and
// allowance checks; the fund module treats failures as call-aborting errors.
type TokenLedger interface {
	BalanceOf(symbol string, addr [20]byte) (*big.Int, error)
	TotalSupply(symbol string) (*big.Int, error)
	Transfer(symbol string, from, to [20]byte, amount *big.Int) error
	TransferFrom(symbol string, spender, owner, to [20]byte, amount *big.Int) error
	Approve(symbol string, owner, spender [20]byte, amount *big.Int) error
	Allowance(symbol string, owner, spender [20]byte) (*big.Int, error)
	Mint(symbol string, to [20]byte, amount *big.Int) error
	Burn(symbol string, from [20]byte, amount *big.Int) error
}

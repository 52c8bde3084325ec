package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

var (
	ErrInvalidAmount         = errors.New("bank: invalid amount")
	ErrInvalidSymbol         = errors.New("bank: invalid token symbol")
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrNilState              = errors.New("bank: state not initialised")
)

var (
	balancePrefix   = []byte("bank/balance/")
	supplyPrefix    = []byte("bank/supply/")
	allowancePrefix = []byte("bank/allowance/")
)

// Storage is the narrow state surface the ledger persists through.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger is a persistent multi-token fungible ledger with ERC-20 style
// allowance semantics. Balances and supplies are stored as decimal strings so
// the records survive serialisation format changes. Holding a *Ledger grants
// mint and burn authority; hosts hand modules the interface they need.
type Ledger struct {
	mu    sync.Mutex
	store Storage
}

// NewLedger binds a token ledger to the provided store.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

// BalanceOf returns the balance of addr for the given token.
func (l *Ledger) BalanceOf(symbol string, addr [20]byte) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, ErrNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAmount(balanceKey(symbol, addr))
}

// TotalSupply returns the circulating supply of the given token.
func (l *Ledger) TotalSupply(symbol string) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, ErrNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAmount(supplyKey(symbol))
}

// Transfer moves amount from one holder to another.
func (l *Ledger) Transfer(symbol string, from, to [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(symbol, from, to, amount)
}

// TransferFrom moves amount from owner to a destination on behalf of spender,
// consuming the spender's allowance unless the spender is the owner.
func (l *Ledger) TransferFrom(symbol string, spender, owner, to [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilState
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if spender != owner {
		allowance, err := l.readAmount(allowanceKey(symbol, owner, spender))
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s", ErrInsufficientAllowance, symbol)
		}
		allowance.Sub(allowance, amount)
		if err := l.writeAmount(allowanceKey(symbol, owner, spender), allowance); err != nil {
			return err
		}
	}
	return l.transferLocked(symbol, owner, to, amount)
}

// Approve sets the spender's allowance over the owner's balance, replacing any
// previous value.
func (l *Ledger) Approve(symbol string, owner, spender [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilState
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeAmount(allowanceKey(symbol, owner, spender), amount)
}

// Allowance returns the spender's remaining allowance over the owner's
// balance.
func (l *Ledger) Allowance(symbol string, owner, spender [20]byte) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, ErrNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAmount(allowanceKey(symbol, owner, spender))
}

// Mint creates amount new tokens for the recipient.
func (l *Ledger) Mint(symbol string, to [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilState
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.readAmount(balanceKey(symbol, to))
	if err != nil {
		return err
	}
	if err := l.writeAmount(balanceKey(symbol, to), balance.Add(balance, amount)); err != nil {
		return err
	}
	supply, err := l.readAmount(supplyKey(symbol))
	if err != nil {
		return err
	}
	return l.writeAmount(supplyKey(symbol), supply.Add(supply, amount))
}

// Burn destroys amount tokens from the holder's balance.
func (l *Ledger) Burn(symbol string, from [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilState
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.readAmount(balanceKey(symbol, from))
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, symbol)
	}
	if err := l.writeAmount(balanceKey(symbol, from), balance.Sub(balance, amount)); err != nil {
		return err
	}
	supply, err := l.readAmount(supplyKey(symbol))
	if err != nil {
		return err
	}
	if supply.Cmp(amount) < 0 {
		return fmt.Errorf("%w: supply below burn", ErrInsufficientBalance)
	}
	return l.writeAmount(supplyKey(symbol), supply.Sub(supply, amount))
}

func (l *Ledger) transferLocked(symbol string, from, to [20]byte, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	balance, err := l.readAmount(balanceKey(symbol, from))
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, symbol)
	}
	if err := l.writeAmount(balanceKey(symbol, from), balance.Sub(balance, amount)); err != nil {
		return err
	}
	dest, err := l.readAmount(balanceKey(symbol, to))
	if err != nil {
		return err
	}
	return l.writeAmount(balanceKey(symbol, to), dest.Add(dest, amount))
}

func (l *Ledger) readAmount(key []byte) (*big.Int, error) {
	var stored string
	ok, err := l.store.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok || strings.TrimSpace(stored) == "" {
		return big.NewInt(0), nil
	}
	amount, valid := new(big.Int).SetString(stored, 10)
	if !valid || amount.Sign() < 0 {
		return nil, fmt.Errorf("bank: corrupt amount record %q", stored)
	}
	return amount, nil
}

func (l *Ledger) writeAmount(key []byte, amount *big.Int) error {
	return l.store.KVPut(key, amount.String())
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func balanceKey(symbol string, addr [20]byte) []byte {
	key := append(append([]byte{}, balancePrefix...), normalizeSymbol(symbol)...)
	key = append(key, '/')
	return append(key, addr[:]...)
}

func supplyKey(symbol string) []byte {
	return append(append([]byte{}, supplyPrefix...), normalizeSymbol(symbol)...)
}

func allowanceKey(symbol string, owner, spender [20]byte) []byte {
	key := append(append([]byte{}, allowancePrefix...), normalizeSymbol(symbol)...)
	key = append(key, '/')
	key = append(key, owner[:]...)
	key = append(key, '/')
	return append(key, spender[:]...)
}

package fund

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"fundchain/core/events"
	"fundchain/core/types"
)

type mockStorage struct {
	kv     map[string][]byte
	lists  map[string][][]byte
	roles  map[string]map[[20]byte]bool
	height uint64
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		kv:    make(map[string][]byte),
		lists: make(map[string][][]byte),
		roles: make(map[string]map[[20]byte]bool),
	}
}

func (m *mockStorage) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *mockStorage) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = encoded
	return nil
}

func (m *mockStorage) KVAppend(key []byte, value []byte) error {
	m.lists[string(key)] = append(m.lists[string(key)], append([]byte(nil), value...))
	return nil
}

func (m *mockStorage) KVGetList(key []byte, out interface{}) error {
	dest, ok := out.(*[][]byte)
	if !ok {
		return fmt.Errorf("unsupported list target %T", out)
	}
	entries := m.lists[string(key)]
	copied := make([][]byte, len(entries))
	for i, entry := range entries {
		copied[i] = append([]byte(nil), entry...)
	}
	*dest = copied
	return nil
}

func (m *mockStorage) HasRole(role string, addr []byte) bool {
	members, ok := m.roles[role]
	if !ok {
		return false
	}
	var key [20]byte
	copy(key[:], addr)
	return members[key]
}

func (m *mockStorage) grantRole(role string, addr [20]byte) {
	if m.roles[role] == nil {
		m.roles[role] = make(map[[20]byte]bool)
	}
	m.roles[role][addr] = true
}

func (m *mockStorage) BlockHeight() uint64 { return m.height }

func (m *mockStorage) setHeight(h uint64) { m.height = h }

type mockTokenLedger struct {
	balances   map[string]map[[20]byte]*big.Int
	allowances map[string]map[[20]byte]map[[20]byte]*big.Int
	supply     map[string]*big.Int
}

func newMockTokenLedger() *mockTokenLedger {
	return &mockTokenLedger{
		balances:   make(map[string]map[[20]byte]*big.Int),
		allowances: make(map[string]map[[20]byte]map[[20]byte]*big.Int),
		supply:     make(map[string]*big.Int),
	}
}

func (m *mockTokenLedger) balance(symbol string, addr [20]byte) *big.Int {
	if m.balances[symbol] == nil {
		m.balances[symbol] = make(map[[20]byte]*big.Int)
	}
	if m.balances[symbol][addr] == nil {
		m.balances[symbol][addr] = big.NewInt(0)
	}
	return m.balances[symbol][addr]
}

func (m *mockTokenLedger) allowance(symbol string, owner, spender [20]byte) *big.Int {
	if m.allowances[symbol] == nil {
		m.allowances[symbol] = make(map[[20]byte]map[[20]byte]*big.Int)
	}
	if m.allowances[symbol][owner] == nil {
		m.allowances[symbol][owner] = make(map[[20]byte]*big.Int)
	}
	if m.allowances[symbol][owner][spender] == nil {
		m.allowances[symbol][owner][spender] = big.NewInt(0)
	}
	return m.allowances[symbol][owner][spender]
}

func (m *mockTokenLedger) BalanceOf(symbol string, addr [20]byte) (*big.Int, error) {
	return new(big.Int).Set(m.balance(symbol, addr)), nil
}

func (m *mockTokenLedger) TotalSupply(symbol string) (*big.Int, error) {
	if m.supply[symbol] == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(m.supply[symbol]), nil
}

func (m *mockTokenLedger) Transfer(symbol string, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: invalid amount")
	}
	balance := m.balance(symbol, from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("token: insufficient %s balance", symbol)
	}
	balance.Sub(balance, amount)
	m.balance(symbol, to).Add(m.balance(symbol, to), amount)
	return nil
}

func (m *mockTokenLedger) TransferFrom(symbol string, spender, owner, to [20]byte, amount *big.Int) error {
	if spender != owner {
		allowance := m.allowance(symbol, owner, spender)
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("token: insufficient %s allowance", symbol)
		}
		allowance.Sub(allowance, amount)
	}
	return m.Transfer(symbol, owner, to, amount)
}

func (m *mockTokenLedger) Approve(symbol string, owner, spender [20]byte, amount *big.Int) error {
	if m.allowances[symbol] == nil {
		m.allowances[symbol] = make(map[[20]byte]map[[20]byte]*big.Int)
	}
	if m.allowances[symbol][owner] == nil {
		m.allowances[symbol][owner] = make(map[[20]byte]*big.Int)
	}
	m.allowances[symbol][owner][spender] = new(big.Int).Set(amount)
	return nil
}

func (m *mockTokenLedger) Allowance(symbol string, owner, spender [20]byte) (*big.Int, error) {
	return new(big.Int).Set(m.allowance(symbol, owner, spender)), nil
}

func (m *mockTokenLedger) Mint(symbol string, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: invalid amount")
	}
	m.balance(symbol, to).Add(m.balance(symbol, to), amount)
	if m.supply[symbol] == nil {
		m.supply[symbol] = big.NewInt(0)
	}
	m.supply[symbol].Add(m.supply[symbol], amount)
	return nil
}

func (m *mockTokenLedger) Burn(symbol string, from [20]byte, amount *big.Int) error {
	balance := m.balance(symbol, from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("token: insufficient %s balance to burn", symbol)
	}
	balance.Sub(balance, amount)
	m.supply[symbol].Sub(m.supply[symbol], amount)
	return nil
}

type capturingEmitter struct {
	events []*types.Event
}

func (c *capturingEmitter) Emit(event events.Event) {
	if typed, ok := event.(interface{ Event() *types.Event }); ok {
		c.events = append(c.events, typed.Event())
	}
}

func (c *capturingEmitter) byType(eventType string) []*types.Event {
	var matched []*types.Event
	for _, evt := range c.events {
		if evt != nil && evt.Type == eventType {
			matched = append(matched, evt)
		}
	}
	return matched
}

type staticPauses struct {
	paused map[string]bool
}

func (s *staticPauses) IsPaused(module string) bool { return s.paused[module] }

func testAddr(b byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = b
	}
	return addr
}

func mustValue(t interface{ Fatalf(string, ...interface{}) }, s string, decimals uint8) Value {
	v, err := ParseValue(s, decimals)
	if err != nil {
		t.Fatalf("parse value %q: %v", s, err)
	}
	return v
}

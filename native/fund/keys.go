package fund

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	accountingKey        = []byte("fund/accounting")
	assetPrefix          = []byte("fund/asset/")
	assetIndexKey        = []byte("fund/asset/index")
	queueMetaPrefix      = []byte("fund/queue/meta/")
	queueSlotPrefix      = []byte("fund/queue/slot/")
	userHistoryPrefix    = []byte("fund/requests/history/")
	userLatestPrefix     = []byte("fund/requests/latest/")
	userQuotaPrefix      = []byte("fund/quota/")
	participantIndexKey  = []byte("fund/participants/index")
	participantKeyPrefix = []byte("fund/participants/")
)

// Storage abstracts the subset of state-manager functionality the fund module
// relies on. Values passed to KVPut are serialised by the backing store;
// KVAppend/KVGetList operate on raw byte entries.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	HasRole(role string, addr []byte) bool
	BlockHeight() uint64
}

// Roles consumed by the fund module. Membership management lives with the
// governance process and is out of scope here.
const (
	RoleTaskRunner         = "ROLE_TASK_RUNNER"
	RoleGovernanceExecutor = "ROLE_GOVERNANCE_EXECUTOR"
	RoleTokenHolder        = "ROLE_TOKEN_HOLDER"
)

// ModuleAddress derives the deterministic custody address for a named module
// account, e.g. the gateway escrow or the ledger's disbursement pool.
func ModuleAddress(name string) [20]byte {
	hash := ethcrypto.Keccak256([]byte("fund/module/"), []byte(name))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

func assetKey(symbol string) []byte {
	return append(append([]byte{}, assetPrefix...), symbol...)
}

func queueKeySuffix(asset string, kind RequestKind) []byte {
	suffix := make([]byte, 0, len(asset)+2)
	suffix = append(suffix, asset...)
	suffix = append(suffix, '/', byte('0')+byte(kind))
	return suffix
}

func queueMetaKey(asset string, kind RequestKind) []byte {
	return append(append([]byte{}, queueMetaPrefix...), queueKeySuffix(asset, kind)...)
}

func queueSlotKey(asset string, kind RequestKind, slot uint64) []byte {
	buf := append(append([]byte{}, queueSlotPrefix...), queueKeySuffix(asset, kind)...)
	buf = append(buf, '/')
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], slot)
	return append(buf, idx[:]...)
}

func userHistoryKey(addr [20]byte) []byte {
	return append(append([]byte{}, userHistoryPrefix...), addr[:]...)
}

func userLatestKey(addr [20]byte) []byte {
	return append(append([]byte{}, userLatestPrefix...), addr[:]...)
}

func userQuotaKey(addr [20]byte) []byte {
	return append(append([]byte{}, userQuotaPrefix...), addr[:]...)
}

func participantKey(addr [20]byte) []byte {
	return append(append([]byte{}, participantKeyPrefix...), addr[:]...)
}

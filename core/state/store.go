package state

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"fundchain/storage"
)

var (
	heightKey  = []byte("state/height")
	rolePrefix = []byte("state/roles/")
)

// Store is the durable state backend handed to the native modules. Structured
// values are serialised with RLP; list keys hold an RLP-encoded slice of raw
// entries that only ever grows. The store also keeps the role table and the
// block height the host advances between batches.
type Store struct {
	mu     sync.RWMutex
	db     storage.Database
	height uint64
}

// NewStore opens a store over the provided database and restores the last
// persisted block height.
func NewStore(db storage.Database) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("state: nil database")
	}
	s := &Store{db: db}
	raw, ok, err := db.Get(heightKey)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := rlp.DecodeBytes(raw, &s.height); err != nil {
			return nil, fmt.Errorf("state: corrupt height record: %w", err)
		}
	}
	return s, nil
}

// KVGet decodes the value stored under key into out. It reports false when the
// key has never been written.
func (s *Store) KVGet(key []byte, out interface{}) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("state: store not initialised")
	}
	raw, ok, err := s.db.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut serialises value and stores it under key, replacing any previous
// entry.
func (s *Store) KVPut(key []byte, value interface{}) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("state: store not initialised")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return s.db.Put(key, encoded)
}

// KVAppend appends a raw entry to the list stored under key.
func (s *Store) KVAppend(key []byte, value []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("state: store not initialised")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries [][]byte
	raw, ok, err := s.db.Get(key)
	if err != nil {
		return err
	}
	if ok {
		if err := rlp.DecodeBytes(raw, &entries); err != nil {
			return fmt.Errorf("state: corrupt list %q: %w", key, err)
		}
	}
	entries = append(entries, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(entries)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded)
}

// KVGetList decodes the list stored under key into out. A missing key leaves
// out untouched so callers observe an empty list.
func (s *Store) KVGetList(key []byte, out interface{}) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("state: store not initialised")
	}
	raw, ok, err := s.db.Get(key)
	if err != nil || !ok {
		return err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return fmt.Errorf("state: decode list %q: %w", key, err)
	}
	return nil
}

// HasRole reports whether addr holds the named role.
func (s *Store) HasRole(role string, addr []byte) bool {
	if s == nil || s.db == nil {
		return false
	}
	var member bool
	ok, err := s.KVGet(roleKey(role, addr), &member)
	if err != nil || !ok {
		return false
	}
	return member
}

// SetRole grants or revokes a role for addr.
func (s *Store) SetRole(role string, addr []byte, member bool) error {
	return s.KVPut(roleKey(role, addr), member)
}

// BlockHeight returns the height state reads and writes are attributed to.
func (s *Store) BlockHeight() uint64 {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

// SetBlockHeight persists the height the host is processing. Heights only move
// forward.
func (s *Store) SetBlockHeight(height uint64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("state: store not initialised")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if height < s.height {
		return fmt.Errorf("state: height %d behind current %d", height, s.height)
	}
	encoded, err := rlp.EncodeToBytes(height)
	if err != nil {
		return err
	}
	if err := s.db.Put(heightKey, encoded); err != nil {
		return err
	}
	s.height = height
	return nil
}

func roleKey(role string, addr []byte) []byte {
	key := append(append([]byte{}, rolePrefix...), role...)
	key = append(key, '/')
	return append(key, addr...)
}

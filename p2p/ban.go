package p2p

import (
	"encoding/binary"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"

	"github.com/shardline-network/node/log"
)

// BanStore persists banned node identities across restarts (spec.md §4.5:
// bans survive a node restart). The in-memory Registry.banned set is the
// hot path consulted on every Add; BanStore is the durable backing it is
// loaded from at startup and written through on every Ban/Unban.
type BanStore interface {
	Load() ([]NodeID, error)
	Put(id NodeID) error
	Delete(id NodeID) error
	Close() error
}

var banKeyPrefix = []byte("ban/")

func banKey(id NodeID) []byte {
	key := make([]byte, len(banKeyPrefix)+8)
	copy(key, banKeyPrefix)
	binary.BigEndian.PutUint64(key[len(banKeyPrefix):], uint64(id))
	return key
}

// LevelDBBanStore is a goleveldb-backed BanStore, following the
// teacher-adjacent pack's leveldb wrapper idiom (klaytn's
// storage/database/leveldb_database.go): recover-on-corruption open, a
// contextual logger, and a thin typed wrapper rather than exposing the
// raw *leveldb.DB to callers.
type LevelDBBanStore struct {
	db  *leveldb.DB
	log log.Logger
}

// NewLevelDBBanStore opens (or creates) a ban store at path.
func NewLevelDBBanStore(path string) (*LevelDBBanStore, error) {
	logger := log.New("component", "ban-store", "path", path)
	db, err := leveldb.OpenFile(path, nil)
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		logger.Warn("ban store corrupted, recovering")
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, &LocalError{Err: err}
	}
	return &LevelDBBanStore{db: db, log: logger}, nil
}

// Load returns every currently-banned NodeID.
func (s *LevelDBBanStore) Load() ([]NodeID, error) {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	var ids []NodeID
	for iter.Next() {
		key := iter.Key()
		if len(key) != len(banKeyPrefix)+8 {
			continue
		}
		ids = append(ids, NodeID(binary.BigEndian.Uint64(key[len(banKeyPrefix):])))
	}
	if err := iter.Error(); err != nil {
		return nil, &LocalError{Err: err}
	}
	return ids, nil
}

func (s *LevelDBBanStore) Put(id NodeID) error {
	if err := s.db.Put(banKey(id), []byte{1}, nil); err != nil {
		return &LocalError{Err: err}
	}
	return nil
}

func (s *LevelDBBanStore) Delete(id NodeID) error {
	if err := s.db.Delete(banKey(id), nil); err != nil {
		return &LocalError{Err: err}
	}
	return nil
}

func (s *LevelDBBanStore) Close() error { return s.db.Close() }

// MemoryBanStore is an in-process BanStore used by tests and by nodes run
// without persistence configured.
type MemoryBanStore struct {
	mu  sync.Mutex
	ids map[NodeID]bool
}

func NewMemoryBanStore() *MemoryBanStore {
	return &MemoryBanStore{ids: make(map[NodeID]bool)}
}

func (s *MemoryBanStore) Load() ([]NodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]NodeID, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryBanStore) Put(id NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = true
	return nil
}

func (s *MemoryBanStore) Delete(id NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
	return nil
}

func (s *MemoryBanStore) Close() error { return nil }

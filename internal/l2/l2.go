// Package l2 implements the persistent second-tier cache from spec §4.4: a
// disk-backed, byte-budgeted store with LRU eviction by last-access time,
// surviving process restarts. The backing engine is an embedded ordered
// key/value store (github.com/dgraph-io/badger/v4, grounded on
// tomtom215-cartographus's badger-backed session and WAL stores) rather
// than the teacher's own storage layer, since vaultaire has no embedded KV
// engine of its own. LRU bookkeeping mirrors internal/l1's
// container/list + map[string]*list.Element pattern, rebuilt in memory at
// Open from persisted metadata so eviction order survives a restart.
package l2

import (
	"container/list"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/cachetypes"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/clock"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/keymatch"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/retrypolicy"
)

var (
	prefixData = []byte("d:")
	prefixMeta = []byte("m:")
)

// meta is the persisted bookkeeping record for one L2 entry. The payload
// itself lives under a sibling "d:" key; TTL expiry is delegated to
// badger's native per-entry TTL rather than tracked here.
type meta struct {
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	Tag        string    `json:"tag,omitempty"`
	DataType   string    `json:"data_type"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
}

type metaEntry struct {
	meta
}

// Store is the disk-backed L2 tier.
type Store struct {
	mu        sync.Mutex
	db        *badger.DB
	path      string
	budget    int64
	usedBytes int64
	items     map[string]*list.Element // front = most recently used
	lru       *list.List
	clock     clock.Clock
	logger    *zap.Logger
	retry     retrypolicy.Policy
	stats     cachetypes.TierStats
}

// Open opens (or recreates, on schema mismatch) the L2 store rooted at
// path, bounded by budgetBytes. badger's own LOCK file enforces the
// single-writer-process invariant from spec §5.
func Open(path string, budgetBytes int64, c clock.Clock, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = clock.New()
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := openWithSchemaCheck(path, opts, logger)
	if err != nil {
		return nil, cachetypes.NewError(cachetypes.KindPersistenceIO, "l2.Open", "", err)
	}

	s := &Store{
		db:     db,
		path:   path,
		budget: budgetBytes,
		items:  make(map[string]*list.Element),
		lru:    list.New(),
		clock:  c,
		logger: logger,
		retry:  retrypolicy.Default(logger),
	}

	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, cachetypes.NewError(cachetypes.KindPersistenceCorr, "l2.Open", "", err)
	}
	return s, nil
}

// Close flushes and closes the underlying store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// rebuildIndex scans persisted metadata at open and reconstructs the
// in-memory LRU ordering from stored LastAccess timestamps, oldest first.
func (s *Store) rebuildIndex() error {
	var metas []meta
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefixMeta); it.ValidForPrefix(prefixMeta); it.Next() {
			var m meta
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return err
			}
			metas = append(metas, m)
		}
		return nil
	})
	if err != nil {
		return err
	}

	sortMetasByLastAccess(metas)
	for _, m := range metas {
		elem := s.lru.PushFront(&metaEntry{meta: m})
		s.items[m.Key] = elem
		s.usedBytes += m.Size
	}
	return nil
}

func sortMetasByLastAccess(metas []meta) {
	for i := 1; i < len(metas); i++ {
		for j := i; j > 0 && metas[j].LastAccess.Before(metas[j-1].LastAccess); j-- {
			metas[j], metas[j-1] = metas[j-1], metas[j]
		}
	}
}

// Hit carries a retrieved value plus the metadata the Coordinator needs to
// promote it into L1 honoring the original tag and remaining TTL.
type Hit struct {
	Value        []byte
	Tag          string
	DataType     cachetypes.DataType
	RemainingTTL time.Duration // 0 if the entry has no expiry
}

// Get returns the value for key, promoting it to most-recently-used. A
// badger ErrKeyNotFound (including TTL expiry, which badger enforces
// natively) is treated as an ordinary miss.
func (s *Store) Get(key string) ([]byte, bool, error) {
	hit, ok, err := s.GetEntry(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return hit.Value, true, nil
}

// GetEntry is like Get but also returns the entry's tag, data type, and
// remaining TTL, for the Coordinator's L2-hit promotion path (spec §4.5:
// "promote the entry to L1 (honoring its remaining TTL and tag)").
func (s *Store) GetEntry(key string) (Hit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		s.stats.Misses++
		return Hit{}, false, nil
	}

	var hit Hit
	err := s.retry.Execute("l2.Get", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(dataKey(key))
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			hit.Value = value
			if exp := item.ExpiresAt(); exp > 0 {
				remaining := time.Until(time.Unix(int64(exp), 0))
				if remaining < 0 {
					remaining = 0
				}
				hit.RemainingTTL = remaining
			}
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		// TTL expiry happened under badger's nose; drop the stale index entry.
		s.removeElementLocked(elem)
		s.stats.Misses++
		return Hit{}, false, nil
	}
	if err != nil {
		s.stats.Errors++
		return Hit{}, false, cachetypes.NewError(cachetypes.KindPersistenceIO, "l2.Get", key, err)
	}

	m := elem.Value.(*metaEntry)
	hit.Tag = m.Tag
	hit.DataType = cachetypes.DataType(m.DataType)
	m.LastAccess = s.clock.WallClock()
	s.lru.MoveToFront(elem)
	if err := s.persistMetaLocked(m.meta); err != nil {
		s.logger.Warn("l2 failed to persist updated last_access", zap.String("key", key), zap.Error(err))
	}

	s.stats.Hits++
	return hit, true, nil
}

// Set writes key/value with the given TTL (0 = no expiry), evicting LRU
// entries as needed to respect the byte budget.
func (s *Store) Set(key string, value []byte, ttl time.Duration, tag string, dataType cachetypes.DataType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := int64(len(value))
	wall := s.clock.WallClock()

	if elem, ok := s.items[key]; ok {
		old := elem.Value.(*metaEntry)
		s.usedBytes -= old.Size
	}

	m := meta{
		Key:        key,
		Size:       size,
		Tag:        tag,
		DataType:   string(dataType),
		CreatedAt:  wall,
		LastAccess: wall,
	}

	err := s.retry.Execute("l2.Set", func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			dataEntry := badger.NewEntry(dataKey(key), value)
			if ttl > 0 {
				dataEntry = dataEntry.WithTTL(ttl)
			}
			if err := txn.SetEntry(dataEntry); err != nil {
				return err
			}
			metaBytes, err := json.Marshal(m)
			if err != nil {
				return err
			}
			metaEntryBadger := badger.NewEntry(metaKey(key), metaBytes)
			if ttl > 0 {
				metaEntryBadger = metaEntryBadger.WithTTL(ttl)
			}
			return txn.SetEntry(metaEntryBadger)
		})
	})
	if err != nil {
		s.stats.Errors++
		return cachetypes.NewError(classifyWriteError(err), "l2.Set", key, err)
	}

	if elem, ok := s.items[key]; ok {
		elem.Value = &metaEntry{meta: m}
		s.lru.MoveToFront(elem)
	} else {
		elem := s.lru.PushFront(&metaEntry{meta: m})
		s.items[key] = elem
	}
	s.usedBytes += size
	s.stats.Sets++

	s.evictToBudgetLocked()
	return nil
}

// Delete removes key if present. Best-effort: a missing key is not an
// error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return nil
	}
	if err := s.deleteKeysLocked(key); err != nil {
		return cachetypes.NewError(cachetypes.KindPersistenceIO, "l2.Delete", key, err)
	}
	s.removeElementLocked(elem)
	s.stats.Deletes++
	return nil
}

// DeleteMatching removes every entry whose key matches the colon-segmented
// pattern and returns the count removed.
func (s *Store) DeleteMatching(pattern string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete []string
	for key := range s.items {
		if keymatch.Match(pattern, key) {
			toDelete = append(toDelete, key)
		}
	}

	removed := 0
	for _, key := range toDelete {
		if err := s.deleteKeysLocked(key); err != nil {
			return removed, cachetypes.NewError(cachetypes.KindPersistenceIO, "l2.DeleteMatching", key, err)
		}
		s.removeElementLocked(s.items[key])
		removed++
	}
	s.stats.Deletes += int64(removed)
	return removed, nil
}

// Clear removes every entry from the store.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DropPrefix(prefixData, prefixMeta); err != nil {
		return cachetypes.NewError(cachetypes.KindPersistenceIO, "l2.Clear", "", err)
	}
	s.items = make(map[string]*list.Element)
	s.lru = list.New()
	s.usedBytes = 0
	return nil
}

// SizeBytes returns current byte usage.
func (s *Store) SizeBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedBytes
}

// Len returns the number of indexed entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Stats returns a snapshot of the hit/miss/eviction counters.
func (s *Store) Stats() cachetypes.TierStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// RunValueLogGC reclaims space from badger's value log. No read or write
// path of this module calls it; it runs only when a caller invokes it.
func (s *Store) RunValueLogGC(ratio float64) error {
	err := s.db.RunValueLogGC(ratio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return cachetypes.NewError(cachetypes.KindPersistenceIO, "l2.RunValueLogGC", "", err)
	}
	return nil
}

// --- internal helpers (caller must hold s.mu unless noted) ---

func (s *Store) persistMetaLocked(m meta) error {
	metaBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(m.Key), metaBytes)
	})
}

func (s *Store) deleteKeysLocked(key string) error {
	return s.retry.Execute("l2.delete", func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Delete(dataKey(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Delete(metaKey(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return nil
		})
	})
}

func (s *Store) evictToBudgetLocked() {
	for s.usedBytes > s.budget && s.lru.Len() > 0 {
		back := s.lru.Back()
		m := back.Value.(*metaEntry)
		if err := s.deleteKeysLocked(m.Key); err != nil {
			s.logger.Warn("l2 eviction delete failed", zap.String("key", m.Key), zap.Error(err))
			break
		}
		s.removeElementLocked(back)
		s.stats.Evictions++
	}
}

func (s *Store) removeElementLocked(elem *list.Element) {
	m := elem.Value.(*metaEntry)
	s.usedBytes -= m.Size
	delete(s.items, m.Key)
	s.lru.Remove(elem)
}

func dataKey(key string) []byte {
	return append(append([]byte{}, prefixData...), []byte(key)...)
}

func metaKey(key string) []byte {
	return append(append([]byte{}, prefixMeta...), []byte(key)...)
}

// classifyWriteError maps a badger write failure onto the cache's own
// PersistenceError kinds. badger has no single "disk full" sentinel, so
// quota exhaustion is detected by message content, matching how the
// teacher's own drivers classify opaque backend errors in
// internal/drivers/retry.go.
func classifyWriteError(err error) cachetypes.ErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no space"), strings.Contains(msg, "disk quota"), strings.Contains(msg, "database is full"):
		return cachetypes.KindPersistenceQuota
	case strings.Contains(msg, "checksum"), strings.Contains(msg, "corrupt"), strings.Contains(msg, "bad magic"):
		return cachetypes.KindPersistenceCorr
	default:
		return cachetypes.KindPersistenceIO
	}
}

// Package store implements the rule-file store (spec.md §4.E) and the
// process-wide active-program cell (spec.md §4.F).
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// RuleFile is a persisted rule-file record, matching
// original_source/shared/src/model.rs's RuleFile struct.
type RuleFile struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

var (
	// ErrNotFound is returned by Request/Update/Delete for an unknown id.
	ErrNotFound = errors.New("store: rule file not found")
	// ErrLocked names a failure to acquire the store's exclusive lock.
	// Store methods take a sync.Mutex, which blocks rather than fails, so
	// none of them returns it.
	ErrLocked = errors.New("store: failed to acquire store lock")
)

var nextIDKey = []byte{0xff} // reserved key, sorts after every 0x01-prefixed record key

// Store is an indexed collection of rule-file records keyed by an
// auto-assigned, monotonically increasing int64 id (spec.md §4.E).
// Backed by an embedded goleveldb database — the pack's closest analogue
// to the original's embedded rusqlite connection (see DESIGN.md).
//
// Guarded by an exclusive lock over the duration of each CRUD call, per
// spec.md §5: calls are short, so a single mutex (rather than a
// reader/writer lock) is the direct idiomatic translation.
type Store struct {
	mu sync.Mutex
	db *leveldb.DB
}

// Open opens (creating if absent) a goleveldb database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(id int64) []byte {
	var b [9]byte
	b[0] = 0x01 // record namespace, distinct from nextIDKey's 0xff prefix
	binary.BigEndian.PutUint64(b[1:], uint64(id))
	return b[:]
}

// Create inserts a new rule-file record and returns its assigned id.
func (s *Store) Create(name, content string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.allocID()
	if err != nil {
		return 0, err
	}
	rec := RuleFile{ID: id, Name: name, Content: content}
	if err := s.put(rec); err != nil {
		return 0, err
	}
	return id, nil
}

// List returns every record currently in the store, ordered by id.
func (s *Store) List() ([]RuleFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []RuleFile
	iter := s.db.NewIterator(util.BytesPrefix([]byte{0x01}), nil)
	defer iter.Release()
	for iter.Next() {
		var rec RuleFile
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("store: corrupt record: %w", err)
		}
		out = append(out, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// Request fetches the full record for id.
func (s *Store) Request(id int64) (RuleFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

// Update replaces the content of an existing record.
func (s *Store) Update(id int64, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(id)
	if err != nil {
		return err
	}
	rec.Content = content
	return s.put(rec)
}

// Delete removes a record. Ids are never reused after deletion.
func (s *Store) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(id); err != nil {
		return err
	}
	if err := s.db.Delete(recordKey(id), nil); err != nil {
		return fmt.Errorf("store: delete %d: %w", id, err)
	}
	return nil
}

func (s *Store) get(id int64) (RuleFile, error) {
	raw, err := s.db.Get(recordKey(id), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return RuleFile{}, ErrNotFound
		}
		return RuleFile{}, fmt.Errorf("store: get %d: %w", id, err)
	}
	var rec RuleFile
	if err := json.Unmarshal(raw, &rec); err != nil {
		return RuleFile{}, fmt.Errorf("store: corrupt record %d: %w", id, err)
	}
	return rec, nil
}

func (s *Store) put(rec RuleFile) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode record %d: %w", rec.ID, err)
	}
	if err := s.db.Put(recordKey(rec.ID), raw, nil); err != nil {
		return fmt.Errorf("store: put %d: %w", rec.ID, err)
	}
	return nil
}

// allocID returns the next monotonic id and persists the updated
// counter. Must be called with s.mu held.
func (s *Store) allocID() (int64, error) {
	var next int64
	raw, err := s.db.Get(nextIDKey, nil)
	switch {
	case err == nil:
		next = int64(binary.BigEndian.Uint64(raw))
	case errors.Is(err, leveldb.ErrNotFound):
		next = 1
	default:
		return 0, fmt.Errorf("store: read id counter: %w", err)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(next+1))
	if err := s.db.Put(nextIDKey, buf[:], nil); err != nil {
		return 0, fmt.Errorf("store: advance id counter: %w", err)
	}
	return next, nil
}

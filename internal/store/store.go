// Package store keeps enrolled templates in process memory.
package store

import (
	"hash/fnv"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/example/palm-pay/internal/features"
)

// Record is an enrolled template. It is never mutated after Put; a
// re-registration replaces the whole record.
type Record struct {
	TemplateID          features.TemplateID
	UserID              string
	EncryptedCredential []byte
	RegisteredAt        time.Time
	Features            features.FeatureVector
}

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	records map[features.TemplateID]*Record
}

// TemplateStore is a sharded in-memory registry keyed by TemplateID.
// Writes to different shards proceed in parallel; a write and a read of the
// same key are serialised by the shard lock. Snapshot holds every shard's
// read lock while it copies, so it briefly blocks all writers.
type TemplateStore struct {
	shards [shardCount]*shard
}

// New creates an empty TemplateStore.
func New() *TemplateStore {
	s := &TemplateStore{}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[features.TemplateID]*Record)}
	}
	return s
}

func (s *TemplateStore) shardFor(id features.TemplateID) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

// Put upserts rec under rec.TemplateID and reports whether an existing
// record was replaced. The stored record is a private copy.
func (s *TemplateStore) Put(rec Record) (replaced bool) {
	rec.EncryptedCredential = slices.Clone(rec.EncryptedCredential)
	sh := s.shardFor(rec.TemplateID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, replaced = sh.records[rec.TemplateID]
	sh.records[rec.TemplateID] = &rec
	return replaced
}

// Get returns a copy of the record stored under id.
func (s *TemplateStore) Get(id features.TemplateID) (Record, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	rec, ok := sh.records[id]
	sh.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Len returns the number of stored records.
func (s *TemplateStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.records)
		sh.mu.RUnlock()
	}
	return n
}

// Snapshot captures the store at a single point in time. Every shard is
// read-locked, in index order, for the duration of the copy, so no
// concurrent Put is partially visible.
func (s *TemplateStore) Snapshot() Snapshot {
	for _, sh := range s.shards {
		sh.mu.RLock()
	}
	var recs []*Record
	for _, sh := range s.shards {
		for _, r := range sh.records {
			recs = append(recs, r)
		}
	}
	for _, sh := range s.shards {
		sh.mu.RUnlock()
	}

	slices.SortFunc(recs, func(a, b *Record) int {
		switch {
		case a.TemplateID < b.TemplateID:
			return -1
		case a.TemplateID > b.TemplateID:
			return 1
		}
		return 0
	})
	return Snapshot{records: recs}
}

// Snapshot is an immutable view of the store ordered by TemplateID.
type Snapshot struct {
	records []*Record
}

// Len returns the number of records in the snapshot.
func (s Snapshot) Len() int { return len(s.records) }

// All yields every record. It can be ranged over any number of times.
func (s Snapshot) All() iter.Seq2[features.TemplateID, Record] {
	return func(yield func(features.TemplateID, Record) bool) {
		for _, r := range s.records {
			if !yield(r.TemplateID, r.clone()) {
				return
			}
		}
	}
}

func (r *Record) clone() Record {
	c := *r
	c.EncryptedCredential = slices.Clone(r.EncryptedCredential)
	return c
}

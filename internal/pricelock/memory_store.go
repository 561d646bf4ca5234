package pricelock

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type shard struct {
	mu    sync.Mutex
	locks map[string]*Lock
}

// MemoryStore is a process-local sharded Store. A sweep holds one shard at
// a time, so lookups on other shards never wait for it.
type MemoryStore struct {
	shards [shardCount]*shard
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{locks: make(map[string]*Lock)}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) Put(_ context.Context, l Lock) (Lock, error) {
	key := l.Subject.Key()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if prev, ok := sh.locks[key]; ok {
		l.Version = prev.Version + 1
	} else {
		l.Version = 1
	}
	stored := l
	sh.locks[key] = &stored
	return l, nil
}

func (s *MemoryStore) Consume(_ context.Context, key, claimedMinor string, now time.Time) (Lock, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l, found := sh.locks[key]
	var snapshot Lock
	if found {
		snapshot = *l
	}
	evict, err := consumeCheck(&snapshot, found, claimedMinor, now)
	if evict {
		delete(sh.locks, key)
	}
	if err != nil {
		return Lock{}, err
	}
	l.Used = true
	return *l, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Lock, bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l, ok := sh.locks[key]
	if !ok {
		return Lock{}, false, nil
	}
	return *l, true, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, Stats, error) {
	evicted := 0
	var stats Stats
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, l := range sh.locks {
			if l.Expired(now) || l.Used {
				delete(sh.locks, key)
				evicted++
				continue
			}
			tally(&stats, l, now)
		}
		sh.mu.Unlock()
	}
	return evicted, stats, nil
}

func (s *MemoryStore) Stats(_ context.Context, now time.Time) (Stats, error) {
	var stats Stats
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, l := range sh.locks {
			tally(&stats, l, now)
		}
		sh.mu.Unlock()
	}
	return stats, nil
}

func tally(stats *Stats, l *Lock, now time.Time) {
	stats.Total++
	switch {
	case l.Expired(now):
		stats.Expired++
	case l.Used:
		stats.Used++
	default:
		stats.Active++
	}
}

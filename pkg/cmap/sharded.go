package cmap

import (
	"encoding/binary"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShardCount is used when New is given a count that is not a power
// of two.
const DefaultShardCount = 16

// KeyEncoder turns a key into the bytes hashed to pick its shard.
type KeyEncoder[K comparable] func(K) []byte

// Map is a map split over independently locked shards.
type Map[K comparable, V any] struct {
	shards []shard[K, V]
	mask   uint64
	encode KeyEncoder[K]
}

type shard[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// New returns a Map with shardCount shards.
func New[K comparable, V any](shardCount int, encode KeyEncoder[K]) *Map[K, V] {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		shardCount = DefaultShardCount
	}
	m := &Map[K, V]{
		shards: make([]shard[K, V], shardCount),
		mask:   uint64(shardCount - 1),
		encode: encode,
	}
	for i := range m.shards {
		m.shards[i].items = make(map[K]V)
	}
	return m
}

// Uint64Key encodes slot-like keys big endian.
func Uint64Key[K ~uint64](k K) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(k))
	return b[:]
}

func (m *Map[K, V]) shardFor(key K) *shard[K, V] {
	return &m.shards[murmur3.Sum64(m.encode(key))&m.mask]
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok
}

// Update replaces the value under key with fn(old, exists) while holding
// the shard lock, and returns the new value.
func (m *Map[K, V]) Update(key K, fn func(old V, exists bool) V) V {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.items[key]
	v := fn(old, ok)
	s.items[key] = v
	return v
}

// Delete removes key and returns what it held.
func (m *Map[K, V]) Delete(key K) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	v, ok := s.items[key]
	delete(s.items, key)
	s.mu.Unlock()
	return v, ok
}

// Len counts entries shard by shard, so it is approximate under writes.
func (m *Map[K, V]) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

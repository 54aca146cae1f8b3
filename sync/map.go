package sync

import (
	"sync"

	"golang.org/x/exp/maps"
)

type Map[K comparable, V any] interface {
	Set(key K, data V)
	Get(key K) (data V, ok bool)
	GetOrInit(key K, init func() V) (data V, isNew bool)
	GetMap() map[K]V
	Delete(key K) (data V, ok bool)
	Len() int
}

func NewMap[K comparable, V any]() Map[K, V] {
	return &sMap[K, V]{
		data: make(map[K]V),
	}
}

type sMap[K comparable, V any] struct {
	data   map[K]V
	rwLock sync.RWMutex
}

func (s *sMap[K, V]) Set(key K, data V) {
	s.rwLock.Lock()
	defer s.rwLock.Unlock()
	s.data[key] = data
}

func (s *sMap[K, V]) Get(key K) (data V, ok bool) {
	s.rwLock.RLock()
	defer s.rwLock.RUnlock()
	data, ok = s.data[key]
	return
}

func (s *sMap[K, V]) GetOrInit(key K, init func() V) (V, bool) {
	s.rwLock.Lock()
	defer s.rwLock.Unlock()
	data, ok := s.data[key]
	if !ok {
		data = init()
		s.data[key] = data
	}
	return data, !ok
}

// GetMap returns a snapshot, changes to it are not reflected in the map.
func (s *sMap[K, V]) GetMap() map[K]V {
	s.rwLock.RLock()
	defer s.rwLock.RUnlock()
	return maps.Clone(s.data)
}

// Delete removes the key and returns what was stored under it.
func (s *sMap[K, V]) Delete(key K) (data V, ok bool) {
	s.rwLock.Lock()
	defer s.rwLock.Unlock()
	data, ok = s.data[key]
	if ok {
		delete(s.data, key)
	}
	return
}

func (s *sMap[K, V]) Len() int {
	s.rwLock.RLock()
	defer s.rwLock.RUnlock()
	return len(s.data)
}

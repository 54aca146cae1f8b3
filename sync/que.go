package sync

import (
	"sync"

	log "github.com/iidesho/bragi/sbragi"
)

// Que is an unbounded FIFO that signals consumers through HasData instead of blocking
// producers. Push never blocks, which lets transports hand off events from their own
// goroutines.
type Que[T any] interface {
	Push(data T) bool
	Pop() (data T, ok bool)
	HasData() <-chan struct{}
	Close()
	Closed() <-chan struct{}
}

func NewQue[T any]() Que[T] {
	return &que[T]{
		signal: make(chan struct{}),
		closed: make(chan struct{}),
	}
}

type que[T any] struct {
	signal   chan struct{}
	closed   chan struct{}
	data     []T
	rwLock   sync.RWMutex
	has      bool
	isClosed bool
}

// Push appends data, it returns false once the que is closed.
func (s *que[T]) Push(data T) bool {
	s.rwLock.Lock()
	defer s.rwLock.Unlock()
	if s.isClosed {
		return false
	}
	s.data = append(s.data, data)
	if !s.has {
		s.has = true
		close(s.signal)
	}
	return true
}

func (s *que[T]) Pop() (data T, ok bool) {
	s.rwLock.Lock()
	defer s.rwLock.Unlock()
	if len(s.data) == 0 {
		return
	}
	data, ok = s.data[0], true
	var zero T
	s.data[0] = zero
	s.data = s.data[1:]
	if len(s.data) == 0 {
		s.has = false
		s.signal = make(chan struct{})
	} else {
		log.Trace("popped que", "left", len(s.data))
	}
	return
}

func (s *que[T]) HasData() <-chan struct{} {
	s.rwLock.RLock()
	defer s.rwLock.RUnlock()
	return s.signal
}

// Close drops everything still queued and stops accepting new data.
func (s *que[T]) Close() {
	s.rwLock.Lock()
	defer s.rwLock.Unlock()
	if s.isClosed {
		return
	}
	s.isClosed = true
	s.data = nil
	if s.has {
		s.has = false
		s.signal = make(chan struct{})
	}
	close(s.closed)
}

// Closed is done once Close has been called, HasData never fires after that.
func (s *que[T]) Closed() <-chan struct{} {
	return s.closed
}

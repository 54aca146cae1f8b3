package consumer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/esbridge/mergedcontext"
	"github.com/iidesho/esbridge/metrics"
	"github.com/iidesho/esbridge/result"
	"github.com/iidesho/esbridge/stream"
	"github.com/iidesho/esbridge/stream/event/store"
	gsync "github.com/iidesho/esbridge/sync"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	log = sbragi.WithLocalScope(sbragi.LevelInfo)

	metricsLock sync.Mutex
	eventCount  *prometheus.CounterVec
)

type State int32

const (
	CatchingUp State = iota
	Live
	Closed
)

func (s State) String() string {
	switch s {
	case CatchingUp:
		return "catching_up"
	case Live:
		return "live"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Hooks are called by the subscription worker, one at a time and in the order the transport
// produced them.
type Hooks struct {
	// Deliver handles one event. A returned error is reported through Error.
	Deliver     func(e store.ReadEvent) error
	LiveStarted func()
	Error       func(err error)
	Close       func(reason error)
}

// Register attaches the transport listener. It must only call the handlers it is given.
type Register func(ctx context.Context, h store.Handlers) (store.Subscription, error)

type kind int

const (
	eventItem kind = iota
	liveItem
	errorItem
	closedItem
)

type item struct {
	kind  kind
	event store.ReadEvent
	err   error
}

// Subscription is a registered listener together with the worker that runs its callbacks.
type Subscription struct {
	name   string
	state  atomic.Int32
	hooks  Hooks
	sub    store.Subscription
	que    gsync.Que[item]
	ctx    context.Context
	cancel context.CancelFunc
	conn   *stream.Conn
	once   sync.Once
	done   chan struct{}
	reason error
}

// Start registers a listener with the transport and runs its callbacks on a dedicated worker.
// The subscription ends when it is closed, when ctx is done or when conn is disconnected.
func Start(ctx context.Context, conn *stream.Conn, name string, catchUp bool, hooks Hooks, register Register) (*Subscription, error) {
	if hooks.Deliver == nil {
		return nil, result.Precondition("subscription %s has no event handler", name)
	}
	mctx, cancel := mergedcontext.MergeContexts(ctx, conn.Context())
	s := &Subscription{
		name:   name,
		hooks:  hooks,
		que:    gsync.NewQue[item](),
		ctx:    mctx,
		cancel: cancel,
		conn:   conn,
		done:   make(chan struct{}),
	}
	if catchUp {
		s.state.Store(int32(CatchingUp))
	} else {
		s.state.Store(int32(Live))
	}
	sub, err := register(mctx, store.Handlers{
		Event: func(e store.ReadEvent) {
			s.que.Push(item{kind: eventItem, event: e})
		},
		LiveStarted: func() {
			s.que.Push(item{kind: liveItem})
		},
		Error: func(err error) {
			s.que.Push(item{kind: errorItem, err: err})
		},
		Closed: func(reason error) {
			s.que.Push(item{kind: closedItem, err: reason})
		},
	})
	if err != nil {
		cancel()
		s.que.Close()
		return nil, result.Classify(err)
	}
	s.sub = sub
	go s.run()
	log.Debug("subscribed", "subscription", name, "catch_up", catchUp)
	return s, nil
}

func (s *Subscription) Name() string {
	return s.name
}

func (s *Subscription) State() State {
	return State(s.state.Load())
}

// Done is closed once the subscription is closed and its close callback returned.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Reason is why the subscription closed, nil while open or after an explicit Close.
func (s *Subscription) Reason() error {
	select {
	case <-s.done:
		return s.reason
	default:
		return nil
	}
}

// Close releases the transport listener. Events not yet dispatched are dropped. Calling Close
// more than once has no further effect.
func (s *Subscription) Close() error {
	s.finish(nil)
	return nil
}

func (s *Subscription) finish(reason error) {
	s.once.Do(func() {
		s.state.Store(int32(Closed))
		s.reason = reason
		err := s.sub.Close()
		log.WithError(err).Debug("closed subscription", "subscription", s.name, "reason", reason)
		s.cancel()
		// Closing the que drops what is still queued and ends the worker.
		s.que.Close()
	})
}

func (s *Subscription) run() {
	defer func() {
		if s.hooks.Close != nil {
			s.hooks.Close(s.reason)
		}
		close(s.done)
	}()
	for {
		select {
		case <-s.que.Closed():
			return
		case <-s.ctx.Done():
			s.finish(s.closeReason())
			return
		case <-s.que.HasData():
			for s.State() != Closed {
				it, ok := s.que.Pop()
				if !ok {
					break
				}
				s.handle(it)
			}
		}
	}
}

func (s *Subscription) closeReason() error {
	if s.conn.Context().Err() != nil {
		return result.Classify(store.ErrClosed)
	}
	if err := s.ctx.Err(); err != nil {
		return result.Classify(err)
	}
	return nil
}

func (s *Subscription) handle(it item) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := fmt.Errorf("panic in subscription %s: %v", s.name, r)
		log.WithError(err).Error("recovered subscription callback")
		s.report(err)
	}()
	switch it.kind {
	case eventItem:
		log.Trace("delivering event", "subscription", s.name, "stream", it.event.Stream, "number", it.event.Number)
		if err := s.hooks.Deliver(it.event); err != nil {
			s.report(err)
			return
		}
		if count := loadMetrics(); count != nil {
			count.WithLabelValues(s.name).Inc()
		}
	case liveItem:
		if !s.state.CompareAndSwap(int32(CatchingUp), int32(Live)) {
			return
		}
		log.Debug("subscription is live", "subscription", s.name)
		if s.hooks.LiveStarted != nil {
			s.hooks.LiveStarted()
		}
	case errorItem:
		s.report(it.err)
	case closedItem:
		if it.err != nil {
			log.WithError(it.err).Warning("subscription dropped by transport", "subscription", s.name)
			it.err = result.Classify(it.err)
		}
		s.finish(it.err)
	}
}

func (s *Subscription) report(err error) {
	err = result.Classify(err)
	if s.hooks.Error == nil {
		log.WithError(err).Warning("unhandled subscription error", "subscription", s.name)
		return
	}
	s.hooks.Error(err)
}

func loadMetrics() *prometheus.CounterVec {
	metricsLock.Lock()
	defer metricsLock.Unlock()
	if eventCount != nil || !metrics.Enabled() {
		return eventCount
	}
	count, err := metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "esbridge_subscription_event_count",
		Help: "events delivered per subscription",
	}, []string{"subscription"}))
	if log.WithError(err).Error("registering subscription event count") {
		return nil
	}
	eventCount = count
	return eventCount
}

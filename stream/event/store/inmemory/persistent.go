package inmemory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/iidesho/esbridge/stream/event/store"
	gsync "github.com/iidesho/esbridge/sync"
	"github.com/pkg/errors"
)

type groupKey struct {
	stream string
	group  string
}

type message struct {
	event   store.ReadEvent
	retries int
}

type inflight struct {
	message
	consumer *consumer
	deadline time.Time
}

// group is the server side cursor of a persistent subscription. All of its state is guarded by
// the client lock.
type group struct {
	key       groupKey
	settings  store.GroupSettings
	cursor    uint64
	retry     []message
	inflight  map[uuid.UUID]*inflight
	parked    []store.ReadEvent
	consumers []*consumer
	rr        int
	wake      chan struct{}
	stop      chan struct{}
}

func (g *group) signal() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *group) timeout() time.Duration {
	if g.settings.MessageTimeout <= 0 {
		return store.DefaultGroupSettings().MessageTimeout
	}
	return g.settings.MessageTimeout
}

func (g *group) pick(e store.ReadEvent) *consumer {
	if len(g.consumers) == 0 {
		return nil
	}
	switch g.settings.Strategy {
	case store.DispatchToSingle:
		for _, c := range g.consumers {
			if c.hasCapacity() {
				return c
			}
		}
		return nil
	case store.Pinned:
		h := fnv.New32a()
		h.Write([]byte(e.Original().Stream))
		c := g.consumers[int(h.Sum32()%uint32(len(g.consumers)))]
		if !c.hasCapacity() {
			return nil
		}
		return c
	}
	for i := range g.consumers {
		c := g.consumers[(g.rr+i)%len(g.consumers)]
		if c.hasCapacity() {
			g.rr = (g.rr + i + 1) % len(g.consumers)
			return c
		}
	}
	return nil
}

func (g *group) send(c *consumer, m message, now time.Time) {
	e := m.event
	e.RetryCount = m.retries
	g.inflight[e.Id] = &inflight{
		message:  m,
		consumer: c,
		deadline: now.Add(g.timeout()),
	}
	c.inflight++
	c.que.Push(e)
}

// requeue schedules a redelivery, or parks the event once it ran out of retries.
func (g *group) requeue(m message) {
	m.retries++
	if m.retries > g.settings.MaxRetryCount {
		log.Warning("parking event", "stream", g.key.stream, "group", g.key.group, "id", m.event.Id, "retries", m.retries-1)
		g.parked = append(g.parked, m.event)
		return
	}
	g.retry = append(g.retry, m)
}

type consumer struct {
	client   *Client
	group    *group
	que      gsync.Que[store.ReadEvent]
	buffer   int
	inflight int
	h        store.Handlers
	stop     chan struct{}
	reason   error
	once     sync.Once
}

func (c *consumer) hasCapacity() bool {
	return c.inflight < c.buffer
}

func (c *consumer) shutdown(reason error) {
	c.once.Do(func() {
		c.reason = reason
		close(c.stop)
	})
}

func (c *consumer) run(ctx context.Context) {
	defer func() {
		c.que.Close()
		if c.h.Closed != nil {
			c.h.Closed(c.reason)
		}
	}()
	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			c.client.detach(c)
			c.shutdown(ctx.Err())
			return
		case <-c.client.ctx.Done():
			c.shutdown(store.ErrClosed)
			return
		case <-c.que.HasData():
			e, ok := c.que.Pop()
			if !ok {
				continue
			}
			c.h.Event(e)
		}
	}
}

func (c *consumer) Ack(ids ...uuid.UUID) error {
	return c.client.settle(c, ids, func(g *group, m message) {})
}

func (c *consumer) Nack(action store.NackAction, reason string, ids ...uuid.UUID) error {
	return c.client.settle(c, ids, func(g *group, m message) {
		log.Debug("nacked event", "group", g.key.group, "id", m.event.Id, "action", action, "reason", reason)
		switch action {
		case store.NackPark:
			g.parked = append(g.parked, m.event)
		case store.NackRetry:
			g.requeue(m)
		}
	})
}

func (c *consumer) Close() error {
	c.client.detach(c)
	c.shutdown(nil)
	return nil
}

func (c *Client) settle(pc *consumer, ids []uuid.UUID, fn func(g *group, m message)) error {
	select {
	case <-pc.stop:
		return errors.Wrap(store.ErrClosed, "persistent subscription is closed")
	default:
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	g := pc.group
	for _, id := range ids {
		m, ok := g.inflight[id]
		if !ok || m.consumer != pc {
			log.Debug("settling unknown event", "group", g.key.group, "id", id)
			continue
		}
		delete(g.inflight, id)
		pc.inflight--
		fn(g, m.message)
	}
	g.signal()
	return nil
}

// detach removes a consumer from its group, its unsettled events are handed to the others.
func (c *Client) detach(pc *consumer) {
	c.lock.Lock()
	defer c.lock.Unlock()
	g := pc.group
	for i, o := range g.consumers {
		if o == pc {
			g.consumers = append(g.consumers[:i], g.consumers[i+1:]...)
			break
		}
	}
	var back []message
	for id, m := range g.inflight {
		if m.consumer != pc {
			continue
		}
		delete(g.inflight, id)
		back = append(back, m.message)
	}
	pc.inflight = 0
	g.retry = append(back, g.retry...)
	g.signal()
}

func (c *Client) CreatePersistentSubscription(
	ctx context.Context,
	stream, name string,
	settings store.GroupSettings,
	opts store.CallOptions,
) error {
	if err := c.check(ctx, opts); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	key := groupKey{stream: stream, group: name}
	if _, ok := c.groups[key]; ok {
		return errors.Wrapf(store.ErrGroupExists, "%s on %s", name, stream)
	}
	g := &group{
		key:      key,
		settings: settings,
		inflight: make(map[uuid.UUID]*inflight),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	if settings.StartFrom != nil {
		g.cursor = *settings.StartFrom
	} else if s := c.streams[stream]; s != nil {
		g.cursor = uint64(len(s.records))
	}
	c.groups[key] = g
	go c.dispatcher(g)
	log.Info("created persistent subscription group", "stream", stream, "group", name)
	return nil
}

func (c *Client) UpdatePersistentSubscription(
	ctx context.Context,
	stream, name string,
	settings store.GroupSettings,
	opts store.CallOptions,
) error {
	if err := c.check(ctx, opts); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	g, ok := c.groups[groupKey{stream: stream, group: name}]
	if !ok {
		return errors.Wrapf(store.ErrGroupNotFound, "%s on %s", name, stream)
	}
	g.settings = settings
	g.signal()
	log.Info("updated persistent subscription group", "stream", stream, "group", name)
	return nil
}

func (c *Client) DeletePersistentSubscription(
	ctx context.Context,
	stream, name string,
	opts store.CallOptions,
) error {
	if err := c.check(ctx, opts); err != nil {
		return err
	}
	c.lock.Lock()
	key := groupKey{stream: stream, group: name}
	g, ok := c.groups[key]
	if !ok {
		c.lock.Unlock()
		return errors.Wrapf(store.ErrGroupNotFound, "%s on %s", name, stream)
	}
	delete(c.groups, key)
	close(g.stop)
	consumers := g.consumers
	g.consumers = nil
	c.lock.Unlock()
	for _, pc := range consumers {
		pc.shutdown(store.ErrGroupDeleted)
	}
	log.Info("deleted persistent subscription group", "stream", stream, "group", name)
	return nil
}

func (c *Client) ConnectToPersistentSubscription(
	ctx context.Context,
	stream, name string,
	bufferSize int,
	opts store.CallOptions,
	h store.Handlers,
) (store.PersistentSubscription, error) {
	if err := c.check(ctx, opts); err != nil {
		return nil, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	g, ok := c.groups[groupKey{stream: stream, group: name}]
	if !ok {
		return nil, errors.Wrapf(store.ErrGroupNotFound, "%s on %s", name, stream)
	}
	if bufferSize <= 0 {
		bufferSize = g.settings.BufferSize
	}
	if bufferSize <= 0 {
		bufferSize = store.DefaultGroupSettings().BufferSize
	}
	pc := &consumer{
		client: c,
		group:  g,
		que:    gsync.NewQue[store.ReadEvent](),
		buffer: bufferSize,
		h:      h,
		stop:   make(chan struct{}),
	}
	g.consumers = append(g.consumers, pc)
	go pc.run(ctx)
	g.signal()
	log.Debug("connected to persistent subscription group", "stream", stream, "group", name)
	return pc, nil
}

// Parked returns the events a group gave up on.
func (c *Client) Parked(stream, name string) []store.ReadEvent {
	c.lock.RLock()
	defer c.lock.RUnlock()
	g, ok := c.groups[groupKey{stream: stream, group: name}]
	if !ok {
		return nil
	}
	return append([]store.ReadEvent(nil), g.parked...)
}

func (c *Client) dispatcher(g *group) {
	for {
		c.lock.Lock()
		next := c.dispatch(g, time.Now())
		changed := c.signal
		c.lock.Unlock()
		var timer *time.Timer
		var expired <-chan time.Time
		if !next.IsZero() {
			timer = time.NewTimer(time.Until(next))
			expired = timer.C
		}
		select {
		case <-g.stop:
		case <-c.ctx.Done():
		case <-changed:
		case <-g.wake:
		case <-expired:
		}
		if timer != nil {
			timer.Stop()
		}
		select {
		case <-g.stop:
			return
		case <-c.ctx.Done():
			return
		default:
		}
	}
}

// dispatch hands out what it can and returns the earliest inflight deadline. The caller must
// hold the write lock.
func (c *Client) dispatch(g *group, now time.Time) (next time.Time) {
	for id, m := range g.inflight {
		if now.Before(m.deadline) {
			continue
		}
		delete(g.inflight, id)
		m.consumer.inflight--
		log.Debug("event timed out", "group", g.key.group, "id", id, "retries", m.retries)
		g.requeue(m.message)
	}
	for len(g.retry) > 0 {
		pc := g.pick(g.retry[0].event)
		if pc == nil {
			break
		}
		m := g.retry[0]
		g.retry = g.retry[1:]
		g.send(pc, m, now)
	}
	if s := c.streams[g.key.stream]; s != nil && !s.tombstoned && len(g.retry) == 0 {
		if g.cursor < s.truncateBefore {
			g.cursor = s.truncateBefore
		}
		for g.cursor < uint64(len(s.records)) {
			e := c.readRecord(s.records[g.cursor], g.settings.ResolveLinks)
			pc := g.pick(e)
			if pc == nil {
				break
			}
			g.cursor++
			g.send(pc, message{event: e}, now)
		}
	}
	for _, m := range g.inflight {
		if next.IsZero() || m.deadline.Before(next) {
			next = m.deadline
		}
	}
	return
}

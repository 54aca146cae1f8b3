package eventstore

import (
	"context"
	"errors"
	"sync"

	"github.com/EventStore/EventStore-Client-Go/esdb"
	"github.com/gofrs/uuid"
	"github.com/iidesho/esbridge/stream/event/store"
	gsync "github.com/iidesho/esbridge/sync"
	perrors "github.com/pkg/errors"
)

type subscription struct {
	cancel context.CancelFunc
	once   sync.Once
	closed chan struct{}
	close  func() error
}

func newSubscription(cancel context.CancelFunc) *subscription {
	return &subscription{
		cancel: cancel,
		closed: make(chan struct{}),
	}
}

func (s *subscription) Close() (err error) {
	s.once.Do(func() {
		close(s.closed)
		s.cancel()
		if s.close != nil {
			err = s.close()
		}
	})
	return
}

// reason decides why a receive loop ended.
func (c *Client) reason(ctx context.Context, s *subscription, dropped error) error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	if c.ctx.Err() != nil {
		return store.ErrClosed
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return mapError(dropped)
}

func (c *Client) SubscribeToStream(
	ctx context.Context,
	stream string,
	from *uint64,
	opts store.SubscribeOptions,
	h store.Handlers,
) (store.Subscription, error) {
	// Live starts once the event that was last at subscription time is delivered.
	target := int64(-1)
	if opts.CatchUp {
		cur, err := c.version(ctx, stream, opts.CallOptions)
		if err != nil {
			return nil, err
		}
		target = cur
	}
	subCtx, cancel := context.WithCancel(ctx)
	esSub, err := c.c.SubscribeToStream(subCtx, stream, esdb.SubscribeToStreamOptions{
		From:           subscribeFrom(from),
		ResolveLinkTos: opts.ResolveLinks,
		Authenticated:  credentials(opts.Credentials),
	})
	if err != nil {
		cancel()
		return nil, mapError(err)
	}
	sub := newSubscription(cancel)
	sub.close = esSub.Close
	live := target < 0 || (from != nil && int64(*from) > target)
	go c.receive(subCtx, sub, h, opts.CatchUp, live, esSub.Recv, func(e store.ReadEvent) bool {
		return int64(e.Original().Number) >= target
	})
	log.Debug("subscribed to stream", "stream", stream, "catch_up", opts.CatchUp)
	return sub, nil
}

func (c *Client) SubscribeToAll(
	ctx context.Context,
	from *store.Position,
	opts store.SubscribeOptions,
	h store.Handlers,
) (store.Subscription, error) {
	var target *store.Position
	if opts.CatchUp {
		last, err := c.ReadAll(ctx, store.EndPosition, 1, store.Backwards, store.ReadOptions{CallOptions: opts.CallOptions})
		if err != nil {
			return nil, err
		}
		if len(last.Events) > 0 {
			target = last.Events[0].Original().Position
		}
	}
	start, err := c.allStart(ctx, from, opts.CallOptions)
	if err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	esSub, err := c.c.SubscribeToAll(subCtx, esdb.SubscribeToAllOptions{
		From:           start,
		ResolveLinkTos: opts.ResolveLinks,
		Authenticated:  credentials(opts.Credentials),
	})
	if err != nil {
		cancel()
		return nil, mapError(err)
	}
	sub := newSubscription(cancel)
	sub.close = esSub.Close
	live := target == nil || (from != nil && target.Less(*from))
	go c.receive(subCtx, sub, h, opts.CatchUp, live, esSub.Recv, func(e store.ReadEvent) bool {
		p := e.Original().Position
		return p != nil && !p.Less(*target)
	})
	log.Debug("subscribed to all", "catch_up", opts.CatchUp)
	return sub, nil
}

// allStart finds the exclusive start that makes from inclusive, the position of the event just
// before it.
func (c *Client) allStart(ctx context.Context, from *store.Position, opts store.CallOptions) (esdb.AllPosition, error) {
	if from == nil {
		return esdb.End{}, nil
	}
	if *from == store.StartPosition {
		return esdb.Start{}, nil
	}
	before, err := c.ReadAll(ctx, *from, 2, store.Backwards, store.ReadOptions{CallOptions: opts})
	if err != nil {
		return nil, err
	}
	for _, e := range before.Events {
		p := e.Original().Position
		if p != nil && p.Less(*from) {
			return allPosition(*p), nil
		}
	}
	return esdb.Start{}, nil
}

func (c *Client) receive(
	ctx context.Context,
	sub *subscription,
	h store.Handlers,
	catchUp, live bool,
	recv func() *esdb.SubscriptionEvent,
	caughtUp func(store.ReadEvent) bool,
) {
	var dropped error
	defer func() {
		reason := c.reason(ctx, sub, dropped)
		sub.Close()
		if h.Closed != nil {
			h.Closed(reason)
		}
	}()
	started := !catchUp
	liveStarted := func() {
		started = true
		if h.LiveStarted != nil {
			h.LiveStarted()
		}
	}
	if !started && live {
		liveStarted()
	}
	for {
		ev := recv()
		if ev == nil {
			dropped = errors.New("subscription ended without reason")
			return
		}
		if ev.SubscriptionDropped != nil {
			dropped = ev.SubscriptionDropped.Error
			log.WithError(dropped).Warning("subscription dropped")
			return
		}
		if ev.EventAppeared == nil {
			continue
		}
		e := convert(ev.EventAppeared)
		h.Event(e)
		if !started && caughtUp(e) {
			liveStarted()
		}
	}
}

func (c *Client) CreatePersistentSubscription(
	ctx context.Context,
	stream, group string,
	settings store.GroupSettings,
	opts store.CallOptions,
) error {
	esSettings := subscriptionSettings(settings)
	err := c.c.CreatePersistentSubscription(ctx, stream, group, esdb.PersistentStreamSubscriptionOptions{
		Settings:      &esSettings,
		From:          groupStart(settings.StartFrom),
		Authenticated: credentials(opts.Credentials),
	})
	if err != nil {
		return mapGroupError(err)
	}
	log.Info("created persistent subscription group", "stream", stream, "group", group)
	return nil
}

func (c *Client) UpdatePersistentSubscription(
	ctx context.Context,
	stream, group string,
	settings store.GroupSettings,
	opts store.CallOptions,
) error {
	esSettings := subscriptionSettings(settings)
	err := c.c.UpdatePersistentStreamSubscription(ctx, stream, group, esdb.PersistentStreamSubscriptionOptions{
		Settings:      &esSettings,
		From:          groupStart(settings.StartFrom),
		Authenticated: credentials(opts.Credentials),
	})
	if err != nil {
		return mapGroupError(err)
	}
	log.Info("updated persistent subscription group", "stream", stream, "group", group)
	return nil
}

func (c *Client) DeletePersistentSubscription(
	ctx context.Context,
	stream, group string,
	opts store.CallOptions,
) error {
	err := c.c.DeletePersistentSubscription(ctx, stream, group, esdb.DeletePersistentSubscriptionOptions{
		Authenticated: credentials(opts.Credentials),
	})
	if err != nil {
		return mapGroupError(err)
	}
	log.Info("deleted persistent subscription group", "stream", stream, "group", group)
	return nil
}

type persistent struct {
	*subscription
	sub *esdb.PersistentSubscription
	// pending keeps what the server sent so acks can refer back to it by id.
	pending gsync.Map[uuid.UUID, *esdb.ResolvedEvent]
}

func (p *persistent) take(ids []uuid.UUID) []*esdb.ResolvedEvent {
	events := make([]*esdb.ResolvedEvent, 0, len(ids))
	for _, id := range ids {
		e, ok := p.pending.Delete(id)
		if !ok {
			log.Debug("settling unknown event", "id", id)
			continue
		}
		events = append(events, e)
	}
	return events
}

func (p *persistent) Ack(ids ...uuid.UUID) error {
	events := p.take(ids)
	if len(events) == 0 {
		return nil
	}
	return mapError(p.sub.Ack(events...))
}

func (p *persistent) Nack(action store.NackAction, reason string, ids ...uuid.UUID) error {
	events := p.take(ids)
	if len(events) == 0 {
		return nil
	}
	return mapError(p.sub.Nack(reason, nackAction(action), events...))
}

func (c *Client) ConnectToPersistentSubscription(
	ctx context.Context,
	stream, group string,
	bufferSize int,
	opts store.CallOptions,
	h store.Handlers,
) (store.PersistentSubscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	esSub, err := c.c.ConnectToPersistentSubscription(subCtx, stream, group, esdb.ConnectToPersistentSubscriptionOptions{
		BatchSize:     batchSize(bufferSize),
		Authenticated: credentials(opts.Credentials),
	})
	if err != nil {
		cancel()
		return nil, mapGroupError(err)
	}
	p := &persistent{
		subscription: newSubscription(cancel),
		sub:          esSub,
		pending:      gsync.NewMap[uuid.UUID, *esdb.ResolvedEvent](),
	}
	p.close = esSub.Close
	go func() {
		var dropped error
		defer func() {
			reason := c.reason(subCtx, p.subscription, dropped)
			p.Close()
			if h.Closed != nil {
				h.Closed(reason)
			}
		}()
		for {
			ev := esSub.Recv()
			if ev == nil {
				dropped = perrors.New("persistent subscription ended without reason")
				return
			}
			if ev.SubscriptionDropped != nil {
				dropped = ev.SubscriptionDropped.Error
				log.WithError(dropped).Warning("persistent subscription dropped", "stream", stream, "group", group)
				return
			}
			if ev.EventAppeared == nil {
				continue
			}
			e := convert(ev.EventAppeared)
			p.pending.Set(e.Id, ev.EventAppeared)
			h.Event(e)
		}
	}()
	log.Debug("connected to persistent subscription group", "stream", stream, "group", group)
	return p, nil
}

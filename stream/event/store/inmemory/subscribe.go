package inmemory

import (
	"context"
	"sync"

	"github.com/iidesho/esbridge/stream/event/store"
	"github.com/pkg/errors"
)

type subscription struct {
	stop chan struct{}
	once sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.stop)
	})
	return nil
}

// poll returns everything available after the subscription cursor together with the signal
// that fires on the next change.
type poll func() ([]store.ReadEvent, <-chan struct{}, error)

// SubscribeToStream delivers events from from (inclusive), or only new events when from is nil.
func (c *Client) SubscribeToStream(
	ctx context.Context,
	stream string,
	from *uint64,
	opts store.SubscribeOptions,
	h store.Handlers,
) (store.Subscription, error) {
	if err := c.check(ctx, opts.CallOptions); err != nil {
		return nil, err
	}
	c.lock.RLock()
	var next uint64
	if from != nil {
		next = *from
	} else if s := c.streams[stream]; s != nil {
		next = uint64(len(s.records))
	}
	c.lock.RUnlock()
	sub := &subscription{stop: make(chan struct{})}
	go c.run(ctx, sub, opts.CatchUp, h, func() ([]store.ReadEvent, <-chan struct{}, error) {
		c.lock.RLock()
		defer c.lock.RUnlock()
		s := c.streams[stream]
		if s == nil {
			return nil, c.signal, nil
		}
		if s.tombstoned {
			return nil, nil, errors.Wrap(store.ErrStreamDeleted, stream)
		}
		if next < s.truncateBefore {
			next = s.truncateBefore
		}
		var events []store.ReadEvent
		for ; next < uint64(len(s.records)); next++ {
			events = append(events, c.readRecord(s.records[next], opts.ResolveLinks))
		}
		observe(&readCount, stream, len(events))
		return events, c.signal, nil
	})
	log.Debug("subscribed to stream", "stream", stream, "from", from, "catch_up", opts.CatchUp)
	return sub, nil
}

// SubscribeToAll delivers the global log from from (inclusive), or only new events when from is
// nil.
func (c *Client) SubscribeToAll(
	ctx context.Context,
	from *store.Position,
	opts store.SubscribeOptions,
	h store.Handlers,
) (store.Subscription, error) {
	if err := c.check(ctx, opts.CallOptions); err != nil {
		return nil, err
	}
	c.lock.RLock()
	next := uint64(len(c.all))
	if from != nil {
		next = from.Commit
	}
	c.lock.RUnlock()
	sub := &subscription{stop: make(chan struct{})}
	go c.run(ctx, sub, opts.CatchUp, h, func() ([]store.ReadEvent, <-chan struct{}, error) {
		c.lock.RLock()
		defer c.lock.RUnlock()
		var events []store.ReadEvent
		for ; next < uint64(len(c.all)); next++ {
			events = append(events, c.readRecord(c.all[next], opts.ResolveLinks))
		}
		observe(&readCount, "$all", len(events))
		return events, c.signal, nil
	})
	log.Debug("subscribed to all", "from", from, "catch_up", opts.CatchUp)
	return sub, nil
}

func (c *Client) run(
	ctx context.Context,
	sub *subscription,
	catchUp bool,
	h store.Handlers,
	next poll,
) {
	var reason error
	defer func() {
		if h.Closed != nil {
			h.Closed(reason)
		}
	}()
	for {
		events, changed, err := next()
		if err != nil {
			log.WithError(err).Warning("dropping subscription")
			reason = err
			return
		}
		for _, e := range events {
			select {
			case <-sub.stop:
				return
			default:
			}
			h.Event(e)
		}
		if catchUp {
			catchUp = false
			if h.LiveStarted != nil {
				h.LiveStarted()
			}
		}
		select {
		case <-sub.stop:
			return
		case <-ctx.Done():
			reason = ctx.Err()
			return
		case <-c.ctx.Done():
			reason = store.ErrClosed
			return
		case <-changed:
		}
	}
}

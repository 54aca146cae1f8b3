package consumer

import (
	"context"

	"github.com/iidesho/esbridge/result"
	"github.com/iidesho/esbridge/stream"
	"github.com/iidesho/esbridge/stream/event"
	"github.com/iidesho/esbridge/stream/event/store"
)

// Handlers are the callbacks of a subscription. Only OnEvent is required.
type Handlers[DT, MT any] struct {
	// Where is given the decoded envelope, the payload of rejected events is never decoded.
	Where         func(event.Info[MT]) bool
	OnEvent       func(e event.ReadEvent[DT, MT])
	OnLiveStarted func()
	OnError       func(err error)
	OnClose       func(reason error)
}

// Options of a stream subscription. With From set the subscription catches up from that event
// number (inclusive) before it turns live, without it only new events are delivered.
type Options[DT, MT any] struct {
	stream.Options
	From *uint64
	Handlers[DT, MT]
}

// AllOptions of a subscription to the global log. Options.Stream is ignored.
type AllOptions[DT, MT any] struct {
	stream.Options
	FromPosition *store.Position
	Handlers[DT, MT]
}

func (h Handlers[DT, MT]) hooks(conn *stream.Conn, o stream.Options, after func(store.ReadEvent) bool) Hooks {
	return Hooks{
		Deliver: func(e store.ReadEvent) error {
			if !after(e) {
				log.Trace("dropping redelivered event", "stream", e.Stream, "number", e.Number)
				return nil
			}
			ev, ok, err := stream.Decode[DT, MT](conn, o, e, h.Where)
			if err != nil || !ok {
				return err
			}
			h.OnEvent(ev)
			return nil
		},
		LiveStarted: h.OnLiveStarted,
		Error:       h.OnError,
		Close:       h.OnClose,
	}
}

func (h Handlers[DT, MT]) check(conn *stream.Conn, o stream.Options) error {
	if h.OnEvent == nil {
		return result.Precondition("event handler is required")
	}
	return conn.CheckFormats(o)
}

// Subscribe attaches a live or catch-up subscription to a stream. Every event is delivered at
// most once and in stream order, the catch-up backlog strictly before live events.
func Subscribe[DT, MT any](ctx context.Context, conn *stream.Conn, o Options[DT, MT]) (*Subscription, error) {
	if o.Stream == "" {
		return nil, result.Precondition("stream name is required")
	}
	if err := o.check(conn, o.Options); err != nil {
		return nil, err
	}
	var last *uint64
	after := func(e store.ReadEvent) bool {
		n := e.Original().Number
		if last != nil && n <= *last {
			return false
		}
		last = &n
		return true
	}
	catchUp := o.From != nil
	return Start(ctx, conn, o.Stream, catchUp, o.hooks(conn, o.Options, after),
		func(ctx context.Context, h store.Handlers) (store.Subscription, error) {
			return conn.Transport().SubscribeToStream(ctx, o.Stream, o.From, store.SubscribeOptions{
				ReadOptions: conn.ReadOptions(o.Options),
				CatchUp:     catchUp,
			}, h)
		})
}

// SubscribeAll attaches a live or catch-up subscription to the global log.
func SubscribeAll[DT, MT any](ctx context.Context, conn *stream.Conn, o AllOptions[DT, MT]) (*Subscription, error) {
	if err := o.check(conn, o.Options); err != nil {
		return nil, err
	}
	var last *store.Position
	after := func(e store.ReadEvent) bool {
		p := e.Original().Position
		if p == nil {
			return true
		}
		if last != nil && !last.Less(*p) {
			return false
		}
		last = p
		return true
	}
	catchUp := o.FromPosition != nil
	return Start(ctx, conn, "$all", catchUp, o.hooks(conn, o.Options, after),
		func(ctx context.Context, h store.Handlers) (store.Subscription, error) {
			return conn.Transport().SubscribeToAll(ctx, o.FromPosition, store.SubscribeOptions{
				ReadOptions: conn.ReadOptions(o.Options),
				CatchUp:     catchUp,
			}, h)
		})
}

package competing

import (
	"context"
	"errors"

	"github.com/gofrs/uuid"
	"github.com/iidesho/esbridge/result"
	"github.com/iidesho/esbridge/stream"
	"github.com/iidesho/esbridge/stream/consumer"
	"github.com/iidesho/esbridge/stream/event"
	"github.com/iidesho/esbridge/stream/event/store"
)

// Options of a listener attached to a group. Options.Stream names the stream of the group.
type Options[DT, MT any] struct {
	stream.Options
	Group string
	// BufferSize bounds the unacknowledged events held by this listener, 0 uses the group
	// setting.
	BufferSize int
	// AutoAck acknowledges every event as soon as OnEvent returns. Without it the caller acks
	// through the subscription before the group message timeout.
	AutoAck bool
	// Where rejected events are acknowledged without being decoded.
	Where   func(event.Info[MT]) bool
	OnEvent func(e event.ReadEvent[DT, MT])
	OnError func(err error)
	OnClose func(reason error)
}

// Subscription is a listener competing with the other listeners of its group.
type Subscription struct {
	*consumer.Subscription
	ps store.PersistentSubscription
}

// Ack settles events by id, they will not be redelivered.
func (s *Subscription) Ack(ids ...uuid.UUID) error {
	if err := s.ps.Ack(ids...); err != nil {
		return result.Classify(err)
	}
	return nil
}

// Nack settles events negatively, action decides if they are parked, retried or skipped.
func (s *Subscription) Nack(action store.NackAction, reason string, ids ...uuid.UUID) error {
	if err := s.ps.Nack(action, reason, ids...); err != nil {
		return result.Classify(err)
	}
	return nil
}

func Subscribe[DT, MT any](ctx context.Context, conn *stream.Conn, o Options[DT, MT]) (*Subscription, error) {
	g := GroupOptions{Stream: o.Stream, Group: o.Group}
	if err := g.check(false); err != nil {
		return nil, err
	}
	if o.OnEvent == nil {
		return nil, result.Precondition("event handler is required")
	}
	if o.BufferSize < 0 {
		return nil, result.Precondition("buffer size can not be negative, got %d", o.BufferSize)
	}
	if err := conn.CheckFormats(o.Options); err != nil {
		return nil, err
	}
	s := &Subscription{}
	hooks := consumer.Hooks{
		Deliver: func(e store.ReadEvent) error {
			ev, ok, err := stream.Decode[DT, MT](conn, o.Options, e, o.Where)
			if err != nil {
				log.WithError(err).Warning("parking undecodable event", "group", o.Group, "id", e.Id)
				return errors.Join(err, s.ps.Nack(store.NackPark, err.Error(), e.Id))
			}
			if !ok {
				return s.ps.Ack(e.Id)
			}
			o.OnEvent(ev)
			if o.AutoAck {
				return s.ps.Ack(e.Id)
			}
			return nil
		},
		Error: o.OnError,
		Close: o.OnClose,
	}
	name := o.Stream + "::" + o.Group
	sub, err := consumer.Start(ctx, conn, name, false, hooks,
		func(ctx context.Context, h store.Handlers) (store.Subscription, error) {
			ps, err := conn.Transport().ConnectToPersistentSubscription(ctx, o.Stream, o.Group, o.BufferSize, conn.CallOptions(o.Options), h)
			if err != nil {
				return nil, err
			}
			s.ps = ps
			return ps, nil
		})
	if err != nil {
		return nil, err
	}
	s.Subscription = sub
	return s, nil
}

package stream

import (
	"context"

	"github.com/iidesho/esbridge/result"
	"github.com/iidesho/esbridge/stream/event"
	"github.com/iidesho/esbridge/stream/event/store"
)

// Write appends events atomically under the expected version of o. The returned version is the
// number of the last written event.
func Write[DT, MT any](
	ctx context.Context,
	conn *Conn,
	o Options,
	events ...event.Event[DT, MT],
) (*result.Result[store.WriteResult], error) {
	if err := requireStream(o); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, result.Precondition("no events to write to %s", o.Stream)
	}
	se, err := encodeAll(conn, o, events)
	if err != nil {
		return nil, err
	}
	return result.Go(ctx, "write", func(ctx context.Context) (store.WriteResult, error) {
		return conn.t.Append(ctx, o.Stream, o.Expected(), se, conn.CallOptions(o))
	}, result.Identity[store.WriteResult]), nil
}

// Delete removes a stream. A soft deleted stream can be written to again, a hard deleted one
// can not.
func Delete(ctx context.Context, conn *Conn, o Options, hard bool) (*result.Result[store.DeleteResult], error) {
	if err := requireStream(o); err != nil {
		return nil, err
	}
	return result.Go(ctx, "delete_stream", func(ctx context.Context) (store.DeleteResult, error) {
		return conn.t.DeleteStream(ctx, o.Stream, o.Expected(), hard, conn.CallOptions(o))
	}, result.Identity[store.DeleteResult]), nil
}

package inmemory

import (
	"context"

	"github.com/iidesho/esbridge/stream/event/store"
	"github.com/pkg/errors"
)

// readRecord converts a record, following it when it is a link and links are resolved. Links
// to events that are gone are returned as the link itself. The caller must hold the lock.
func (c *Client) readRecord(r *record, resolveLinks bool) store.ReadEvent {
	e := r.read()
	if !resolveLinks || r.Type != store.LinkEventType {
		return e
	}
	stream, number, ok := store.ParseLink(r.Data)
	if !ok {
		return e
	}
	target, ok := c.streams[stream].get(number)
	if !ok {
		return e
	}
	resolved := target.read()
	resolved.Link = &e
	return resolved
}

func (c *Client) ReadStream(
	ctx context.Context,
	stream string,
	from store.StreamRevision,
	count uint64,
	direction store.Direction,
	opts store.ReadOptions,
) (slice store.StreamSlice, err error) {
	if err = c.check(ctx, opts.CallOptions); err != nil {
		return
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	s := c.streams[stream]
	if s != nil && s.tombstoned {
		err = errors.Wrap(store.ErrStreamDeleted, stream)
		return
	}
	visible := s.visible()
	if len(visible) == 0 {
		err = errors.Wrap(store.ErrStreamNotFound, stream)
		return
	}
	first, last := visible[0].number, visible[len(visible)-1].number
	slice = store.StreamSlice{
		Stream:             stream,
		Direction:          direction,
		Last:               last,
		LastCommitPosition: c.lastPosition().Commit,
	}
	if direction == store.Backwards {
		n := int64(last)
		if !from.End && from.Number < last {
			n = int64(from.Number)
		}
		slice.From = uint64(n)
		for ; n >= int64(first) && uint64(len(slice.Events)) < count; n-- {
			slice.Events = append(slice.Events, c.readRecord(s.records[n], opts.ResolveLinks))
		}
		slice.IsEnd = n < int64(first)
		if !slice.IsEnd {
			slice.Next = uint64(n)
		}
	} else {
		n := from.Number
		if from.End {
			n = last
		}
		if n < first {
			n = first
		}
		slice.From = n
		for ; n <= last && uint64(len(slice.Events)) < count; n++ {
			slice.Events = append(slice.Events, c.readRecord(s.records[n], opts.ResolveLinks))
		}
		slice.Next = n
		slice.IsEnd = n > last
	}
	observe(&readCount, stream, len(slice.Events))
	return
}

// ReadAll reads the global log. Positions are inclusive in both directions.
func (c *Client) ReadAll(
	ctx context.Context,
	from store.Position,
	count uint64,
	direction store.Direction,
	opts store.ReadOptions,
) (slice store.AllSlice, err error) {
	if err = c.check(ctx, opts.CallOptions); err != nil {
		return
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	slice = store.AllSlice{
		Direction: direction,
		From:      from,
	}
	if len(c.all) == 0 {
		slice.IsEnd = true
		return
	}
	last := uint64(len(c.all) - 1)
	if direction == store.Backwards {
		n := int64(last)
		if from.Commit < last {
			n = int64(from.Commit)
		}
		for ; n >= 0 && uint64(len(slice.Events)) < count; n-- {
			slice.Events = append(slice.Events, c.readRecord(c.all[n], opts.ResolveLinks))
		}
		slice.IsEnd = n < 0
		if !slice.IsEnd {
			slice.Next = c.all[n].position
		}
	} else {
		n := from.Commit
		for ; n <= last && uint64(len(slice.Events)) < count; n++ {
			slice.Events = append(slice.Events, c.readRecord(c.all[n], opts.ResolveLinks))
		}
		slice.Next = store.Position{Commit: n, Prepare: n}
		slice.IsEnd = n > last
	}
	observe(&readCount, "$all", len(slice.Events))
	return
}

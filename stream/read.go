package stream

import (
	"context"
	"math"

	"github.com/iidesho/esbridge/result"
	"github.com/iidesho/esbridge/stream/event"
	"github.com/iidesho/esbridge/stream/event/store"
)

// ReadOptions select a window of a stream. A positive Count reads forwards from Start, or from
// the first event when Start is nil. A negative Count reads backwards from Start, or from the
// last event.
type ReadOptions[MT any] struct {
	Options
	Start *uint64
	Count int64
	Where func(event.Info[MT]) bool
}

// Page is the paging metadata of a read. Fetched counts events before filtering.
type Page struct {
	Stream             string          `json:"stream"`
	Direction          store.Direction `json:"direction"`
	From               uint64          `json:"from"`
	Next               uint64          `json:"next"`
	Last               uint64          `json:"last"`
	IsEnd              bool            `json:"is_end"`
	LastCommitPosition uint64          `json:"last_commit_position"`
	Fetched            int             `json:"fetched"`
}

type Slice[DT, MT any] struct {
	Page
	Events []event.ReadEvent[DT, MT] `json:"events"`
}

func magnitude(count int64) uint64 {
	if count == math.MinInt64 {
		return uint64(math.MaxInt64) + 1
	}
	if count < 0 {
		return uint64(-count)
	}
	return uint64(count)
}

func direction(count int64) store.Direction {
	if count < 0 {
		return store.Backwards
	}
	return store.Forwards
}

func streamWindow(start *uint64, count int64) store.StreamRevision {
	switch {
	case start != nil:
		return store.Revision(*start)
	case count > 0:
		return store.StreamStart
	}
	return store.StreamEnd
}

// Read reads one window of a stream with a single request, filtered events do not cause more
// events to be fetched.
func Read[DT, MT any](ctx context.Context, conn *Conn, o ReadOptions[MT]) (*result.Result[Slice[DT, MT]], error) {
	if err := requireStream(o.Options); err != nil {
		return nil, err
	}
	if o.Count == 0 {
		return nil, result.Precondition("read count can not be 0")
	}
	if err := conn.CheckFormats(o.Options); err != nil {
		return nil, err
	}
	from := streamWindow(o.Start, o.Count)
	return result.Go(ctx, "read_stream", func(ctx context.Context) (store.StreamSlice, error) {
		return conn.t.ReadStream(
			ctx,
			o.Stream,
			from,
			magnitude(o.Count),
			direction(o.Count),
			conn.ReadOptions(o.Options),
		)
	}, func(s store.StreamSlice) (out Slice[DT, MT], err error) {
		out.Page = Page{
			Stream:             s.Stream,
			Direction:          s.Direction,
			From:               s.From,
			Next:               s.Next,
			Last:               s.Last,
			IsEnd:              s.IsEnd,
			LastCommitPosition: s.LastCommitPosition,
			Fetched:            len(s.Events),
		}
		out.Events, err = decodeAll[DT, MT](conn, o.Options, s.Events, o.Where)
		return
	}), nil
}

// AllReadOptions select a window of the global log, Start nil means the first or the last
// position depending on the sign of Count. Options.Stream is ignored.
type AllReadOptions[MT any] struct {
	Options
	Start *store.Position
	Count int64
	Where func(event.Info[MT]) bool
}

type AllSlice[DT, MT any] struct {
	Direction store.Direction           `json:"direction"`
	From      store.Position            `json:"from"`
	Next      store.Position            `json:"next"`
	IsEnd     bool                      `json:"is_end"`
	Fetched   int                       `json:"fetched"`
	Events    []event.ReadEvent[DT, MT] `json:"events"`
}

func ReadAll[DT, MT any](ctx context.Context, conn *Conn, o AllReadOptions[MT]) (*result.Result[AllSlice[DT, MT]], error) {
	if o.Count == 0 {
		return nil, result.Precondition("read count can not be 0")
	}
	if err := conn.CheckFormats(o.Options); err != nil {
		return nil, err
	}
	from := store.StartPosition
	switch {
	case o.Start != nil:
		from = *o.Start
	case o.Count < 0:
		from = store.EndPosition
	}
	return result.Go(ctx, "read_all", func(ctx context.Context) (store.AllSlice, error) {
		return conn.t.ReadAll(ctx, from, magnitude(o.Count), direction(o.Count), conn.ReadOptions(o.Options))
	}, func(s store.AllSlice) (out AllSlice[DT, MT], err error) {
		out = AllSlice[DT, MT]{
			Direction: s.Direction,
			From:      s.From,
			Next:      s.Next,
			IsEnd:     s.IsEnd,
			Fetched:   len(s.Events),
		}
		out.Events, err = decodeAll[DT, MT](conn, o.Options, s.Events, o.Where)
		return
	}), nil
}

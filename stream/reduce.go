package stream

import (
	"context"

	"github.com/iidesho/esbridge/result"
	"github.com/iidesho/esbridge/stream/event"
)

type ReduceOptions[MT any] struct {
	Options
	// Start defaults to the first event.
	Start     *uint64
	BatchSize int64
	Where     func(event.Info[MT]) bool
}

// Reduction is the folded value together with the paging metadata of the last read.
type Reduction[A any] struct {
	Value A    `json:"value"`
	Last  Page `json:"last"`
}

// Reduce folds fn over a whole stream, reading it forwards in batches. The batch size does not
// change the outcome.
func Reduce[DT, MT, A any](
	ctx context.Context,
	conn *Conn,
	o ReduceOptions[MT],
	init A,
	fn func(acc A, e event.ReadEvent[DT, MT]) A,
) (*result.Result[Reduction[A]], error) {
	if err := requireStream(o.Options); err != nil {
		return nil, err
	}
	if o.BatchSize < 0 {
		return nil, result.Precondition("batch size must be positive, got %d", o.BatchSize)
	}
	if o.BatchSize == 0 {
		o.BatchSize = BATCH_SIZE
	}
	if err := conn.CheckFormats(o.Options); err != nil {
		return nil, err
	}
	return result.Go(ctx, "reduce_stream", func(ctx context.Context) (red Reduction[A], err error) {
		red.Value = init
		var start uint64
		if o.Start != nil {
			start = *o.Start
		}
		for {
			r, err := Read[DT, MT](ctx, conn, ReadOptions[MT]{
				Options: o.Options,
				Start:   &start,
				Count:   o.BatchSize,
				Where:   o.Where,
			})
			if err != nil {
				return red, err
			}
			batch, err := r.AwaitContext(ctx)
			if err != nil {
				return red, err
			}
			for _, e := range batch.Events {
				red.Value = fn(red.Value, e)
			}
			red.Last = batch.Page
			log.Trace("reduced batch", "stream", o.Stream, "from", start, "fetched", batch.Fetched)
			if batch.IsEnd || int64(batch.Fetched) < o.BatchSize {
				return red, nil
			}
			start = batch.Next
		}
	}, result.Identity[Reduction[A]]), nil
}

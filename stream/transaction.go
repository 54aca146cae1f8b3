package stream

import (
	"context"
	"sync/atomic"

	"github.com/iidesho/esbridge/result"
	"github.com/iidesho/esbridge/stream/event"
	"github.com/iidesho/esbridge/stream/event/store"
)

// Transaction is a multi call write to one stream. Written events stay invisible until Commit.
// A transaction is not safe for concurrent writes.
type Transaction[DT, MT any] struct {
	Id     uint64
	Stream string

	conn   *Conn
	o      Options
	closed atomic.Bool
}

// StartTransaction checks the expected version of o and opens a transaction on its stream.
func StartTransaction[DT, MT any](ctx context.Context, conn *Conn, o Options) (*result.Result[*Transaction[DT, MT]], error) {
	if err := requireStream(o); err != nil {
		return nil, err
	}
	if err := conn.CheckFormats(o); err != nil {
		return nil, err
	}
	return result.Go(ctx, "start_transaction", func(ctx context.Context) (uint64, error) {
		return conn.t.StartTransaction(ctx, o.Stream, o.Expected(), conn.CallOptions(o))
	}, func(id uint64) (*Transaction[DT, MT], error) {
		return &Transaction[DT, MT]{
			Id:     id,
			Stream: o.Stream,
			conn:   conn,
			o:      o,
		}, nil
	}), nil
}

// ResumeTransaction attaches to an open transaction of this connection. o supplies formats and
// credentials, its stream is taken from the transaction.
func ResumeTransaction[DT, MT any](ctx context.Context, conn *Conn, id uint64, o Options) (*result.Result[*Transaction[DT, MT]], error) {
	if err := conn.CheckFormats(o); err != nil {
		return nil, err
	}
	return result.Go(ctx, "resume_transaction", func(ctx context.Context) (string, error) {
		return conn.t.ResumeTransaction(ctx, id, conn.CallOptions(o))
	}, func(stream string) (*Transaction[DT, MT], error) {
		o.Stream = stream
		return &Transaction[DT, MT]{
			Id:     id,
			Stream: stream,
			conn:   conn,
			o:      o,
		}, nil
	}), nil
}

func (tx *Transaction[DT, MT]) Closed() bool {
	return tx.closed.Load()
}

// Write adds events to the transaction without committing them. A failed write closes the
// transaction.
func (tx *Transaction[DT, MT]) Write(ctx context.Context, events ...event.Event[DT, MT]) (*result.Result[struct{}], error) {
	if tx.closed.Load() {
		return nil, result.Precondition("transaction %d is closed", tx.Id)
	}
	se, err := encodeAll(tx.conn, tx.o, events)
	if err != nil {
		return nil, err
	}
	return result.Go(ctx, "transaction_write", func(ctx context.Context) (struct{}, error) {
		err := tx.conn.t.TransactionWrite(ctx, tx.Id, se, tx.conn.CallOptions(tx.o))
		if err != nil {
			tx.closed.Store(true)
		}
		return struct{}{}, err
	}, result.Identity[struct{}]), nil
}

// Commit makes every written event visible at once. The transaction is closed afterwards,
// whatever the outcome.
func (tx *Transaction[DT, MT]) Commit(ctx context.Context) (*result.Result[store.WriteResult], error) {
	if !tx.closed.CompareAndSwap(false, true) {
		return nil, result.Precondition("transaction %d is closed", tx.Id)
	}
	return result.Go(ctx, "commit_transaction", func(ctx context.Context) (store.WriteResult, error) {
		return tx.conn.t.CommitTransaction(ctx, tx.Id, tx.conn.CallOptions(tx.o))
	}, result.Identity[store.WriteResult]), nil
}

package eventstore

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"

	"github.com/EventStore/EventStore-Client-Go/esdb"
	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/esbridge/stream/event/store"
	perrors "github.com/pkg/errors"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

// Client is the transport over an EventStoreDB gRPC connection. The gRPC protocol has no
// transactions, they are buffered here and committed as one atomic append.
type Client struct {
	c      *esdb.Client
	ctx    context.Context
	cancel context.CancelFunc

	lock sync.Mutex
	txs  map[uint64]*transaction
	txId uint64
}

type transaction struct {
	stream   string
	expected store.ExpectedVersion
	events   []store.Event
	closed   bool
}

// NewClient connects to the endpoint, e.g. "esdb://localhost:2113?tls=false". The client picks
// its node once, so requireLeader applies to the whole connection and the per call
// ReadOptions.RequireLeader flag is not looked at.
func NewClient(ctx context.Context, connectionString string, requireLeader bool) (c *Client, err error) {
	settings, err := esdb.ParseConnectionString(connectionString)
	if err != nil {
		return
	}
	if requireLeader {
		settings.NodePreference = esdb.NodePreference_Leader
	}
	esClient, err := esdb.NewClient(settings)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c = &Client{
		c:      esClient,
		ctx:    ctx,
		cancel: cancel,
		txs:    make(map[uint64]*transaction),
	}
	log.Info("connected to eventstore")
	return
}

func (c *Client) Close() error {
	c.cancel()
	return c.c.Close()
}

func (c *Client) Append(
	ctx context.Context,
	stream string,
	expected store.ExpectedVersion,
	events []store.Event,
	opts store.CallOptions,
) (res store.WriteResult, err error) {
	data := make([]esdb.EventData, len(events))
	for i, e := range events {
		data[i] = esdb.EventData{
			EventID:     e.Id,
			EventType:   e.Type,
			ContentType: contentType(e.ContentType),
			Data:        e.Data,
			Metadata:    e.Metadata,
		}
	}
	log.Trace("writing events", "stream", stream, "number of events", len(data))
	wr, err := c.c.AppendToStream(ctx, stream, esdb.AppendToStreamOptions{
		ExpectedRevision: expectedRevision(expected),
		Authenticated:    credentials(opts.Credentials),
	}, data...)
	if err != nil {
		err = mapError(err)
		return
	}
	res = store.WriteResult{
		NextExpectedVersion: int64(wr.NextExpectedVersion),
		Position: store.Position{
			Commit:  wr.CommitPosition,
			Prepare: wr.PreparePosition,
		},
	}
	return
}

func (c *Client) read(
	ctx context.Context,
	stream string,
	from esdb.StreamPosition,
	count uint64,
	direction store.Direction,
	opts store.ReadOptions,
) (events []store.ReadEvent, err error) {
	rs, err := c.c.ReadStream(ctx, stream, esdb.ReadStreamOptions{
		Direction:      esDirection(direction),
		From:           from,
		ResolveLinkTos: opts.ResolveLinks,
		Authenticated:  credentials(opts.Credentials),
	}, count)
	if err != nil {
		return nil, mapError(err)
	}
	defer rs.Close()
	for {
		e, err := rs.Recv()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, mapError(err)
		}
		events = append(events, convert(e))
	}
}

// end returns the last event of a stream.
func (c *Client) end(ctx context.Context, stream string, opts store.ReadOptions) (e store.ReadEvent, err error) {
	events, err := c.read(ctx, stream, esdb.End{}, 1, store.Backwards, opts)
	if err != nil {
		return
	}
	if len(events) == 0 {
		err = perrors.Wrap(store.ErrStreamNotFound, stream)
		return
	}
	return events[0], nil
}

// ReadStream reads one event more than asked for, it only tells where the next page starts.
func (c *Client) ReadStream(
	ctx context.Context,
	stream string,
	from store.StreamRevision,
	count uint64,
	direction store.Direction,
	opts store.ReadOptions,
) (slice store.StreamSlice, err error) {
	last, err := c.end(ctx, stream, opts)
	if err != nil {
		return
	}
	events, err := c.read(ctx, stream, streamPosition(from), peek(count), direction, opts)
	if err != nil {
		return
	}
	slice = store.StreamSlice{
		Stream:    stream,
		Direction: direction,
		From:      from.Number,
		Last:      last.Original().Number,
		IsEnd:     uint64(len(events)) <= count,
	}
	if last.Position != nil {
		slice.LastCommitPosition = last.Position.Commit
	}
	if from.End {
		slice.From = slice.Last
	}
	if !slice.IsEnd {
		slice.Next = events[count].Original().Number
		events = events[:count]
	} else if direction == store.Forwards {
		slice.Next = slice.Last + 1
	}
	slice.Events = events
	return
}

func (c *Client) ReadAll(
	ctx context.Context,
	from store.Position,
	count uint64,
	direction store.Direction,
	opts store.ReadOptions,
) (slice store.AllSlice, err error) {
	rs, err := c.c.ReadAll(ctx, esdb.ReadAllOptions{
		Direction:      esDirection(direction),
		From:           allPosition(from),
		ResolveLinkTos: opts.ResolveLinks,
		Authenticated:  credentials(opts.Credentials),
	}, peek(count))
	if err != nil {
		err = mapError(err)
		return
	}
	defer rs.Close()
	slice = store.AllSlice{
		Direction: direction,
		From:      from,
	}
	for {
		e, rerr := rs.Recv()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			err = mapError(rerr)
			return
		}
		slice.Events = append(slice.Events, convert(e))
	}
	slice.IsEnd = uint64(len(slice.Events)) <= count
	if !slice.IsEnd {
		slice.Next = *slice.Events[count].Original().Position
		slice.Events = slice.Events[:count]
	}
	return
}

func (c *Client) DeleteStream(
	ctx context.Context,
	stream string,
	expected store.ExpectedVersion,
	hard bool,
	opts store.CallOptions,
) (res store.DeleteResult, err error) {
	var dr *esdb.DeleteResult
	if hard {
		dr, err = c.c.TombstoneStream(ctx, stream, esdb.TombstoneStreamOptions{
			ExpectedRevision: expectedRevision(expected),
			Authenticated:    credentials(opts.Credentials),
		})
	} else {
		dr, err = c.c.DeleteStream(ctx, stream, esdb.DeleteStreamOptions{
			ExpectedRevision: expectedRevision(expected),
			Authenticated:    credentials(opts.Credentials),
		})
	}
	if err != nil {
		err = mapError(err)
		return
	}
	log.Info("deleted stream", "stream", stream, "hard", hard)
	res.Position = store.Position{
		Commit:  dr.Position.Commit,
		Prepare: dr.Position.Prepare,
	}
	return
}

// SetStreamMetadata writes the raw metadata document to the metadata stream of stream.
func (c *Client) SetStreamMetadata(
	ctx context.Context,
	stream string,
	expected store.ExpectedVersion,
	data []byte,
	opts store.CallOptions,
) (store.WriteResult, error) {
	return c.Append(ctx, store.MetadataStream(stream), expected, []store.Event{{
		Id:          newId(),
		Type:        store.MetadataEventType,
		ContentType: "application/json",
		Data:        data,
	}}, opts)
}

func (c *Client) GetStreamMetadata(
	ctx context.Context,
	stream string,
	opts store.CallOptions,
) (res store.StreamMetadataResult, err error) {
	res = store.StreamMetadataResult{
		Stream:      stream,
		MetaVersion: -1,
	}
	e, err := c.end(ctx, store.MetadataStream(stream), store.ReadOptions{CallOptions: opts})
	switch {
	case errors.Is(err, store.ErrStreamNotFound):
		return res, nil
	case errors.Is(err, store.ErrStreamDeleted):
		res.Deleted = true
		return res, nil
	case err != nil:
		return
	}
	res.MetaVersion = int64(e.Number)
	res.Data = e.Data
	return
}

// version returns the current version of stream, -1 when it does not exist.
func (c *Client) version(ctx context.Context, stream string, opts store.CallOptions) (int64, error) {
	e, err := c.end(ctx, stream, store.ReadOptions{CallOptions: opts})
	if errors.Is(err, store.ErrStreamNotFound) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return int64(e.Original().Number), nil
}

func (c *Client) StartTransaction(
	ctx context.Context,
	stream string,
	expected store.ExpectedVersion,
	opts store.CallOptions,
) (id uint64, err error) {
	cur, err := c.version(ctx, stream, opts)
	if err != nil {
		return
	}
	if !expected.Matches(cur) {
		err = perrors.Wrapf(
			store.ErrWrongExpectedVersion,
			"stream %s is at %d, expected %d",
			stream,
			cur,
			expected,
		)
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.txId++
	id = c.txId
	c.txs[id] = &transaction{
		stream:   stream,
		expected: expected,
	}
	return
}

func (c *Client) transaction(id uint64) (*transaction, error) {
	tx, ok := c.txs[id]
	if !ok {
		return nil, perrors.Wrapf(store.ErrTransactionNotFound, "transaction %d", id)
	}
	if tx.closed {
		return nil, perrors.Wrapf(store.ErrTransactionClosed, "transaction %d", id)
	}
	return tx, nil
}

func (c *Client) ResumeTransaction(_ context.Context, id uint64, _ store.CallOptions) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	tx, err := c.transaction(id)
	if err != nil {
		return "", err
	}
	return tx.stream, nil
}

func (c *Client) TransactionWrite(_ context.Context, id uint64, events []store.Event, _ store.CallOptions) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	tx, err := c.transaction(id)
	if err != nil {
		return err
	}
	tx.events = append(tx.events, events...)
	return nil
}

func (c *Client) CommitTransaction(
	ctx context.Context,
	id uint64,
	opts store.CallOptions,
) (store.WriteResult, error) {
	c.lock.Lock()
	tx, err := c.transaction(id)
	if err != nil {
		c.lock.Unlock()
		return store.WriteResult{}, err
	}
	tx.closed = true
	events := tx.events
	tx.events = nil
	c.lock.Unlock()
	return c.Append(ctx, tx.stream, tx.expected, events, opts)
}

func peek(count uint64) uint64 {
	if count == math.MaxUint64 {
		return count
	}
	return count + 1
}

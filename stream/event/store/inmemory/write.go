package inmemory

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/iidesho/esbridge/stream/event/store"
	"github.com/pkg/errors"
)

type transaction struct {
	stream   string
	expected store.ExpectedVersion
	events   []store.Event
	closed   bool
}

func (c *Client) Append(
	ctx context.Context,
	stream string,
	expected store.ExpectedVersion,
	events []store.Event,
	opts store.CallOptions,
) (store.WriteResult, error) {
	if err := c.check(ctx, opts); err != nil {
		return store.WriteResult{}, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.append(stream, expected, events)
}

// append writes events atomically. The caller must hold the write lock.
func (c *Client) append(
	stream string,
	expected store.ExpectedVersion,
	events []store.Event,
) (res store.WriteResult, err error) {
	if !expected.Valid() {
		err = errors.Errorf("invalid expected version %d", expected)
		return
	}
	s := c.streams[stream]
	if s != nil && s.tombstoned {
		err = errors.Wrap(store.ErrStreamDeleted, stream)
		return
	}
	cur := s.version()
	if !expected.Matches(cur) {
		err = errors.Wrapf(
			store.ErrWrongExpectedVersion,
			"stream %s is at %d, expected %d",
			stream,
			cur,
			expected,
		)
		return
	}
	if len(events) == 0 {
		return store.WriteResult{NextExpectedVersion: cur, Position: c.lastPosition()}, nil
	}
	if s == nil {
		s = &streamData{}
		c.streams[stream] = s
	}
	s.deleted = false
	now := time.Now()
	var last *record
	for _, e := range events {
		if e.Id.IsNil() {
			e.Id, err = uuid.NewV4()
			if err != nil {
				return
			}
		}
		pos := uint64(len(c.all))
		last = &record{
			Event:    e,
			stream:   stream,
			number:   uint64(len(s.records)),
			position: store.Position{Commit: pos, Prepare: pos},
			created:  now,
		}
		s.records = append(s.records, last)
		c.all = append(c.all, last)
	}
	observe(&writeCount, stream, len(events))
	c.notify()
	log.Trace("appended events", "stream", stream, "amount", len(events), "version", last.number)
	return store.WriteResult{
		NextExpectedVersion: int64(last.number),
		Position:            last.position,
	}, nil
}

func (c *Client) DeleteStream(
	ctx context.Context,
	stream string,
	expected store.ExpectedVersion,
	hard bool,
	opts store.CallOptions,
) (res store.DeleteResult, err error) {
	if err = c.check(ctx, opts); err != nil {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	s := c.streams[stream]
	if s != nil && s.tombstoned {
		err = errors.Wrap(store.ErrStreamDeleted, stream)
		return
	}
	cur := s.version()
	if cur < 0 && !hard {
		err = errors.Wrap(store.ErrStreamNotFound, stream)
		return
	}
	if !expected.Matches(cur) {
		err = errors.Wrapf(
			store.ErrWrongExpectedVersion,
			"stream %s is at %d, expected %d",
			stream,
			cur,
			expected,
		)
		return
	}
	if s == nil {
		s = &streamData{}
		c.streams[stream] = s
	}
	if hard {
		s.tombstoned = true
	} else {
		s.deleted = true
		s.truncateBefore = uint64(len(s.records))
	}
	c.notify()
	log.Info("deleted stream", "stream", stream, "hard", hard)
	res.Position = c.lastPosition()
	return
}

func (c *Client) SetStreamMetadata(
	ctx context.Context,
	stream string,
	expected store.ExpectedVersion,
	data []byte,
	opts store.CallOptions,
) (res store.WriteResult, err error) {
	if err = c.check(ctx, opts); err != nil {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if s := c.streams[stream]; s != nil && s.tombstoned {
		err = errors.Wrap(store.ErrStreamDeleted, stream)
		return
	}
	return c.append(store.MetadataStream(stream), expected, []store.Event{{
		Type:        store.MetadataEventType,
		ContentType: "application/json",
		Data:        data,
	}})
}

func (c *Client) GetStreamMetadata(
	ctx context.Context,
	stream string,
	opts store.CallOptions,
) (res store.StreamMetadataResult, err error) {
	if err = c.check(ctx, opts); err != nil {
		return
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	res = store.StreamMetadataResult{
		Stream:      stream,
		MetaVersion: -1,
	}
	if s := c.streams[stream]; s != nil && s.tombstoned {
		res.Deleted = true
		return
	}
	visible := c.streams[store.MetadataStream(stream)].visible()
	if len(visible) == 0 {
		return
	}
	last := visible[len(visible)-1]
	res.MetaVersion = int64(last.number)
	res.Data = last.Data
	return
}

func (c *Client) StartTransaction(
	ctx context.Context,
	stream string,
	expected store.ExpectedVersion,
	opts store.CallOptions,
) (id uint64, err error) {
	if err = c.check(ctx, opts); err != nil {
		return
	}
	if !expected.Valid() {
		err = errors.Errorf("invalid expected version %d", expected)
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	s := c.streams[stream]
	if s != nil && s.tombstoned {
		err = errors.Wrap(store.ErrStreamDeleted, stream)
		return
	}
	if cur := s.version(); !expected.Matches(cur) {
		err = errors.Wrapf(
			store.ErrWrongExpectedVersion,
			"stream %s is at %d, expected %d",
			stream,
			cur,
			expected,
		)
		return
	}
	c.txId++
	id = c.txId
	c.txs[id] = &transaction{
		stream:   stream,
		expected: expected,
	}
	log.Debug("started transaction", "stream", stream, "id", id)
	return
}

// transaction returns an open transaction. The caller must hold the lock.
func (c *Client) transaction(id uint64) (*transaction, error) {
	tx, ok := c.txs[id]
	if !ok {
		return nil, errors.Wrapf(store.ErrTransactionNotFound, "transaction %d", id)
	}
	if tx.closed {
		return nil, errors.Wrapf(store.ErrTransactionClosed, "transaction %d", id)
	}
	return tx, nil
}

func (c *Client) ResumeTransaction(
	ctx context.Context,
	id uint64,
	opts store.CallOptions,
) (string, error) {
	if err := c.check(ctx, opts); err != nil {
		return "", err
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	tx, err := c.transaction(id)
	if err != nil {
		return "", err
	}
	return tx.stream, nil
}

func (c *Client) TransactionWrite(
	ctx context.Context,
	id uint64,
	events []store.Event,
	opts store.CallOptions,
) error {
	if err := c.check(ctx, opts); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	tx, err := c.transaction(id)
	if err != nil {
		return err
	}
	tx.events = append(tx.events, events...)
	return nil
}

// CommitTransaction appends every written event at once. The transaction is closed whether or
// not the append succeeds.
func (c *Client) CommitTransaction(
	ctx context.Context,
	id uint64,
	opts store.CallOptions,
) (store.WriteResult, error) {
	if err := c.check(ctx, opts); err != nil {
		return store.WriteResult{}, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	tx, err := c.transaction(id)
	if err != nil {
		return store.WriteResult{}, err
	}
	tx.closed = true
	events := tx.events
	tx.events = nil
	res, err := c.append(tx.stream, tx.expected, events)
	log.Debug("committed transaction", "stream", tx.stream, "id", id, "success", err == nil)
	return res, err
}

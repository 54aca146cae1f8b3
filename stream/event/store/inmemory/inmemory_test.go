package inmemory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/iidesho/esbridge/metrics"
	"github.com/iidesho/esbridge/stream/event/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	c   *Client
	ctx context.Context
)

const STREAM_NAME = "TestStoreAndStream_" + "inmem"

func events(types ...string) []store.Event {
	out := make([]store.Event, len(types))
	for i, t := range types {
		out[i] = store.Event{
			Id:   uuid.Must(uuid.NewV7()),
			Type: t,
			Data: []byte(t),
		}
	}
	return out
}

func TestInit(t *testing.T) {
	metrics.Init()
	var err error
	ctx = context.Background()
	c, err = Init(ctx, "test")
	if err != nil {
		t.Fatal(err)
	}
}

func TestAppendNumbersInOrder(t *testing.T) {
	res, err := c.Append(ctx, STREAM_NAME, store.NoStream, events("a", "b", "c"), store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.NextExpectedVersion != 2 {
		t.Fatal("unexpected next expected version", res.NextExpectedVersion)
	}
	res, err = c.Append(ctx, STREAM_NAME, store.Version(2), events("d"), store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.NextExpectedVersion != 3 {
		t.Fatal("unexpected next expected version", res.NextExpectedVersion)
	}
	slice, err := c.ReadStream(ctx, STREAM_NAME, store.StreamStart, 10, store.Forwards, store.ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(slice.Events) != 4 {
		t.Fatal("unexpected amount of events", len(slice.Events))
	}
	for i, e := range slice.Events {
		if e.Number != uint64(i) {
			t.Fatal("event out of order", i, e.Number)
		}
		if e.Position == nil {
			t.Fatal("missing position")
		}
	}
	if !slice.IsEnd || slice.Last != 3 || slice.Next != 4 {
		t.Fatal("unexpected paging", slice.IsEnd, slice.Last, slice.Next)
	}
	if v := testutil.ToFloat64(writeCount.WithLabelValues(STREAM_NAME)); v != 4 {
		t.Fatal("unexpected write count", v)
	}
}

func TestWrongExpectedVersion(t *testing.T) {
	_, err := c.Append(ctx, STREAM_NAME, store.Version(1), events("e"), store.CallOptions{})
	if !errors.Is(err, store.ErrWrongExpectedVersion) {
		t.Fatal("expected wrong expected version", err)
	}
	_, err = c.Append(ctx, STREAM_NAME, store.NoStream, events("e"), store.CallOptions{})
	if !errors.Is(err, store.ErrWrongExpectedVersion) {
		t.Fatal("expected wrong expected version for no stream", err)
	}
	_, err = c.Append(ctx, "missing_stream", store.StreamExists, events("e"), store.CallOptions{})
	if !errors.Is(err, store.ErrWrongExpectedVersion) {
		t.Fatal("expected wrong expected version for stream exists", err)
	}
}

func TestReadBackwards(t *testing.T) {
	slice, err := c.ReadStream(ctx, STREAM_NAME, store.StreamEnd, 3, store.Backwards, store.ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(slice.Events) != 3 || slice.Events[0].Number != 3 || slice.Events[2].Number != 1 {
		t.Fatal("unexpected backward window", slice.Events)
	}
	if slice.IsEnd || slice.Next != 0 {
		t.Fatal("unexpected backward paging", slice.IsEnd, slice.Next)
	}
	slice, err = c.ReadStream(ctx, STREAM_NAME, store.Revision(0), 3, store.Backwards, store.ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(slice.Events) != 1 || !slice.IsEnd {
		t.Fatal("backward read from 0 should end", len(slice.Events), slice.IsEnd)
	}
}

func TestReadMissingStream(t *testing.T) {
	_, err := c.ReadStream(ctx, "missing_stream", store.StreamStart, 1, store.Forwards, store.ReadOptions{})
	if !errors.Is(err, store.ErrStreamNotFound) {
		t.Fatal("expected stream not found", err)
	}
}

func TestReadAll(t *testing.T) {
	slice, err := c.ReadAll(ctx, store.StartPosition, 2, store.Forwards, store.ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(slice.Events) != 2 || slice.IsEnd {
		t.Fatal("unexpected all window", len(slice.Events), slice.IsEnd)
	}
	next, err := c.ReadAll(ctx, slice.Next, 100, store.Forwards, store.ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !next.IsEnd {
		t.Fatal("expected end of all")
	}
	if !slice.Events[1].Position.Less(*next.Events[0].Position) {
		t.Fatal("positions not increasing across pages")
	}
	back, err := c.ReadAll(ctx, store.EndPosition, 1, store.Backwards, store.ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if back.Events[0].Id != next.Events[len(next.Events)-1].Id {
		t.Fatal("backward all read did not start at the last event")
	}
}

func TestLinkResolution(t *testing.T) {
	_, err := c.Append(ctx, "links", store.Any, []store.Event{{
		Id:   uuid.Must(uuid.NewV7()),
		Type: store.LinkEventType,
		Data: store.LinkData(STREAM_NAME, 1),
	}}, store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	slice, err := c.ReadStream(ctx, "links", store.StreamStart, 1, store.Forwards, store.ReadOptions{ResolveLinks: true})
	if err != nil {
		t.Fatal(err)
	}
	e := slice.Events[0]
	if e.Stream != STREAM_NAME || e.Number != 1 || e.Link == nil || e.Link.Stream != "links" {
		t.Fatal("link not resolved", e)
	}
	if e.Original().Stream != "links" {
		t.Fatal("original should be the link")
	}
	slice, err = c.ReadStream(ctx, "links", store.StreamStart, 1, store.Forwards, store.ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if slice.Events[0].Type != store.LinkEventType {
		t.Fatal("link resolved without asking")
	}
}

func TestSoftDelete(t *testing.T) {
	stream := "soft_delete"
	_, err := c.Append(ctx, stream, store.NoStream, events("a", "b"), store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.DeleteStream(ctx, stream, store.Version(0), false, store.CallOptions{})
	if !errors.Is(err, store.ErrWrongExpectedVersion) {
		t.Fatal("delete ignored expected version", err)
	}
	_, err = c.DeleteStream(ctx, stream, store.Version(1), false, store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.ReadStream(ctx, stream, store.StreamStart, 10, store.Forwards, store.ReadOptions{})
	if !errors.Is(err, store.ErrStreamNotFound) {
		t.Fatal("soft deleted stream still readable", err)
	}
	_, err = c.DeleteStream(ctx, stream, store.Any, false, store.CallOptions{})
	if !errors.Is(err, store.ErrStreamNotFound) {
		t.Fatal("deleting a deleted stream should fail with not found", err)
	}
	res, err := c.Append(ctx, stream, store.NoStream, events("c"), store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.NextExpectedVersion != 2 {
		t.Fatal("numbering did not continue after soft delete", res.NextExpectedVersion)
	}
	slice, err := c.ReadStream(ctx, stream, store.StreamStart, 10, store.Forwards, store.ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(slice.Events) != 1 || slice.Events[0].Number != 2 {
		t.Fatal("old events visible after soft delete", slice.Events)
	}
}

func TestHardDelete(t *testing.T) {
	stream := "hard_delete"
	_, err := c.Append(ctx, stream, store.NoStream, events("a"), store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.DeleteStream(ctx, stream, store.Any, true, store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Append(ctx, stream, store.Any, events("b"), store.CallOptions{})
	if !errors.Is(err, store.ErrStreamDeleted) {
		t.Fatal("tombstoned stream accepted a write", err)
	}
	_, err = c.ReadStream(ctx, stream, store.StreamStart, 1, store.Forwards, store.ReadOptions{})
	if !errors.Is(err, store.ErrStreamDeleted) {
		t.Fatal("tombstoned stream readable", err)
	}
}

func TestStreamMetadata(t *testing.T) {
	meta, err := c.GetStreamMetadata(ctx, STREAM_NAME, store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if meta.MetaVersion != -1 || meta.Data != nil {
		t.Fatal("unexpected empty metadata", meta)
	}
	_, err = c.SetStreamMetadata(ctx, STREAM_NAME, store.NoStream, []byte(`{"$maxCount":5}`), store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.SetStreamMetadata(ctx, STREAM_NAME, store.NoStream, []byte(`{}`), store.CallOptions{})
	if !errors.Is(err, store.ErrWrongExpectedVersion) {
		t.Fatal("metadata ignored expected version", err)
	}
	meta, err = c.GetStreamMetadata(ctx, STREAM_NAME, store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if meta.MetaVersion != 0 || string(meta.Data) != `{"$maxCount":5}` {
		t.Fatal("unexpected metadata", meta.MetaVersion, string(meta.Data))
	}
}

func TestTransaction(t *testing.T) {
	stream := "transaction"
	id, err := c.StartTransaction(ctx, stream, store.NoStream, store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	err = c.TransactionWrite(ctx, id, events("a", "b"), store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.ReadStream(ctx, stream, store.StreamStart, 10, store.Forwards, store.ReadOptions{})
	if !errors.Is(err, store.ErrStreamNotFound) {
		t.Fatal("uncommitted events are visible", err)
	}
	resumed, err := c.ResumeTransaction(ctx, id, store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if resumed != stream {
		t.Fatal("resumed wrong stream", resumed)
	}
	res, err := c.CommitTransaction(ctx, id, store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.NextExpectedVersion != 1 {
		t.Fatal("unexpected version after commit", res.NextExpectedVersion)
	}
	_, err = c.ResumeTransaction(ctx, id, store.CallOptions{})
	if !errors.Is(err, store.ErrTransactionClosed) {
		t.Fatal("resumed a committed transaction", err)
	}
	err = c.TransactionWrite(ctx, id, events("c"), store.CallOptions{})
	if !errors.Is(err, store.ErrTransactionClosed) {
		t.Fatal("wrote to a committed transaction", err)
	}
	_, err = c.ResumeTransaction(ctx, id+100, store.CallOptions{})
	if !errors.Is(err, store.ErrTransactionNotFound) {
		t.Fatal("resumed an unknown transaction", err)
	}
	_, err = c.StartTransaction(ctx, stream, store.NoStream, store.CallOptions{})
	if !errors.Is(err, store.ErrWrongExpectedVersion) {
		t.Fatal("transaction start ignored expected version", err)
	}
}

type collector struct {
	lock   sync.Mutex
	events []store.ReadEvent
	live   chan struct{}
	closed chan error
	got    chan struct{}
}

func newCollector() *collector {
	return &collector{
		live:   make(chan struct{}),
		closed: make(chan error, 1),
		got:    make(chan struct{}, 100),
	}
}

func (col *collector) handlers() store.Handlers {
	return store.Handlers{
		Event: func(e store.ReadEvent) {
			col.lock.Lock()
			col.events = append(col.events, e)
			col.lock.Unlock()
			col.got <- struct{}{}
		},
		LiveStarted: func() { close(col.live) },
		Closed:      func(err error) { col.closed <- err },
	}
}

func (col *collector) wait(t *testing.T, n int) []store.ReadEvent {
	for {
		col.lock.Lock()
		if len(col.events) >= n {
			out := append([]store.ReadEvent(nil), col.events...)
			col.lock.Unlock()
			return out
		}
		col.lock.Unlock()
		select {
		case <-col.got:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events", n)
		}
	}
}

func TestCatchUpSubscription(t *testing.T) {
	stream := "catch_up"
	_, err := c.Append(ctx, stream, store.NoStream, events("a", "b", "c"), store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	col := newCollector()
	from := uint64(1)
	sub, err := c.SubscribeToStream(ctx, stream, &from, store.SubscribeOptions{CatchUp: true}, col.handlers())
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-col.live:
	case <-time.After(2 * time.Second):
		t.Fatal("live never started")
	}
	if got := col.wait(t, 2); len(got) != 2 {
		t.Fatal("unexpected catch up events", len(got))
	}
	_, err = c.Append(ctx, stream, store.Version(2), events("d"), store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	got := col.wait(t, 3)
	for i, e := range got {
		if e.Number != uint64(i+1) {
			t.Fatal("unexpected delivery order", i, e.Number)
		}
	}
	err = sub.Close()
	if err != nil {
		t.Fatal(err)
	}
	select {
	case err = <-col.closed:
		if err != nil {
			t.Fatal("explicit close reported a reason", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("closed handler never ran")
	}
}

func TestSubscribeAllLiveOnly(t *testing.T) {
	col := newCollector()
	sub, err := c.SubscribeToAll(ctx, nil, store.SubscribeOptions{}, col.handlers())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	_, err = c.Append(ctx, "all_live", store.Any, events("x"), store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	got := col.wait(t, 1)
	if got[0].Stream != "all_live" || got[0].Type != "x" {
		t.Fatal("live subscription delivered history", got[0])
	}
}

func TestPersistentManualAck(t *testing.T) {
	stream := "persistent"
	settings := store.DefaultGroupSettings()
	settings.StartFrom = new(uint64)
	settings.MessageTimeout = 100 * time.Millisecond
	settings.MaxRetryCount = 1
	err := c.CreatePersistentSubscription(ctx, stream, "group", settings, store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	err = c.CreatePersistentSubscription(ctx, stream, "group", settings, store.CallOptions{})
	if !errors.Is(err, store.ErrGroupExists) {
		t.Fatal("created group twice", err)
	}
	_, err = c.Append(ctx, stream, store.NoStream, events("acked", "ignored"), store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	col := newCollector()
	var ps store.PersistentSubscription
	h := col.handlers()
	deliveries := map[string]int{}
	var lock sync.Mutex
	ready := make(chan struct{})
	event := h.Event
	h.Event = func(e store.ReadEvent) {
		<-ready
		lock.Lock()
		deliveries[e.Type]++
		lock.Unlock()
		if e.Type == "acked" {
			ps.Ack(e.Id)
		}
		event(e)
	}
	ps, err = c.ConnectToPersistentSubscription(ctx, stream, "group", 0, store.CallOptions{}, h)
	if err != nil {
		t.Fatal(err)
	}
	close(ready)
	col.wait(t, 3)
	time.Sleep(400 * time.Millisecond)
	lock.Lock()
	acked, ignored := deliveries["acked"], deliveries["ignored"]
	lock.Unlock()
	if acked != 1 {
		t.Fatal("acked event was redelivered", acked)
	}
	if ignored != 2 {
		t.Fatal("unacked event should be delivered until parked", ignored)
	}
	parked := c.Parked(stream, "group")
	if len(parked) != 1 || parked[0].Type != "ignored" {
		t.Fatal("unacked event was not parked", parked)
	}
	err = c.DeletePersistentSubscription(ctx, stream, "group", store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case err = <-col.closed:
		if !errors.Is(err, store.ErrGroupDeleted) {
			t.Fatal("unexpected close reason", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener not closed with group")
	}
}

func TestPersistentRoundRobin(t *testing.T) {
	stream := "competing"
	settings := store.DefaultGroupSettings()
	settings.StartFrom = new(uint64)
	err := c.CreatePersistentSubscription(ctx, stream, "group", settings, store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	cols := []*collector{newCollector(), newCollector()}
	for _, col := range cols {
		var ps store.PersistentSubscription
		h := col.handlers()
		event := h.Event
		h.Event = func(e store.ReadEvent) {
			event(e)
			ps.Ack(e.Id)
		}
		ps, err = c.ConnectToPersistentSubscription(ctx, stream, "group", 1, store.CallOptions{}, h)
		if err != nil {
			t.Fatal(err)
		}
		defer ps.Close()
	}
	_, err = c.Append(ctx, stream, store.NoStream, events("1", "2", "3", "4"), store.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		cols[0].lock.Lock()
		a := len(cols[0].events)
		cols[0].lock.Unlock()
		cols[1].lock.Lock()
		b := len(cols[1].events)
		cols[1].lock.Unlock()
		if a+b == 4 {
			if a == 0 || b == 0 {
				t.Fatal("events not distributed", a, b)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("not all events delivered", a, b)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAuthentication(t *testing.T) {
	secured, err := Init(ctx, "secured", WithUser("admin", "changeit"))
	if err != nil {
		t.Fatal(err)
	}
	defer secured.Close()
	_, err = secured.Append(ctx, "s", store.Any, events("a"), store.CallOptions{})
	if !errors.Is(err, store.ErrNotAuthenticated) {
		t.Fatal("write without credentials accepted", err)
	}
	_, err = secured.Append(ctx, "s", store.Any, events("a"), store.CallOptions{
		Credentials: &store.Credentials{Login: "admin", Password: "wrong"},
	})
	if !errors.Is(err, store.ErrNotAuthenticated) {
		t.Fatal("write with wrong password accepted", err)
	}
	_, err = secured.Append(ctx, "s", store.Any, events("a"), store.CallOptions{
		Credentials: &store.Credentials{Login: "admin", Password: "changeit"},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestTeardown(t *testing.T) {
	col := newCollector()
	_, err := c.SubscribeToStream(ctx, STREAM_NAME, nil, store.SubscribeOptions{}, col.handlers())
	if err != nil {
		t.Fatal(err)
	}
	err = c.Close()
	if err != nil {
		t.Fatal(err)
	}
	select {
	case err = <-col.closed:
		if !errors.Is(err, store.ErrClosed) {
			t.Fatal("unexpected close reason", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed with the connection")
	}
	_, err = c.Append(ctx, STREAM_NAME, store.Any, events("late"), store.CallOptions{})
	if !errors.Is(err, store.ErrClosed) {
		t.Fatal("closed client accepted a write", err)
	}
}

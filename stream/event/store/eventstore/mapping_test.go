package eventstore

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/EventStore/EventStore-Client-Go/esdb"
	"github.com/gofrs/uuid"
	"github.com/iidesho/esbridge/result"
	"github.com/iidesho/esbridge/stream/event/store"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestExpectedRevision(t *testing.T) {
	if _, ok := expectedRevision(store.Any).(esdb.Any); !ok {
		t.Error("any not mapped")
	}
	if _, ok := expectedRevision(store.NoStream).(esdb.NoStream); !ok {
		t.Error("no stream not mapped")
	}
	if _, ok := expectedRevision(store.StreamExists).(esdb.StreamExists); !ok {
		t.Error("stream exists not mapped")
	}
	if r, ok := expectedRevision(store.Version(4)).(esdb.StreamRevision); !ok || r.Value != 4 {
		t.Error("version not mapped", r)
	}
}

func TestSubscribeFromIsInclusive(t *testing.T) {
	if _, ok := subscribeFrom(nil).(esdb.End); !ok {
		t.Error("nil should subscribe from end")
	}
	zero := uint64(0)
	if _, ok := subscribeFrom(&zero).(esdb.Start); !ok {
		t.Error("zero should subscribe from start")
	}
	five := uint64(5)
	if r, ok := subscribeFrom(&five).(esdb.StreamRevision); !ok || r.Value != 4 {
		t.Error("subscription start not shifted", r)
	}
	if r, ok := groupStart(&five).(esdb.StreamRevision); !ok || r.Value != 5 {
		t.Error("group start should not be shifted", r)
	}
}

func TestAllPosition(t *testing.T) {
	if _, ok := allPosition(store.StartPosition).(esdb.Start); !ok {
		t.Error("start not mapped")
	}
	if _, ok := allPosition(store.EndPosition).(esdb.End); !ok {
		t.Error("end not mapped")
	}
	p, ok := allPosition(store.Position{Commit: 10, Prepare: 9}).(esdb.Position)
	if !ok || p.Commit != 10 || p.Prepare != 9 {
		t.Error("position not mapped", p)
	}
}

func TestConvertResolvesLinks(t *testing.T) {
	target := &esdb.RecordedEvent{
		EventID:     uuid.Must(uuid.NewV7()),
		EventType:   "created",
		StreamID:    "target",
		EventNumber: 3,
		CreatedDate: time.Now(),
		Data:        []byte("data"),
	}
	link := &esdb.RecordedEvent{
		EventID:     uuid.Must(uuid.NewV7()),
		EventType:   store.LinkEventType,
		StreamID:    "links",
		EventNumber: 0,
		Data:        store.LinkData("target", 3),
	}
	e := convert(&esdb.ResolvedEvent{Event: target, Link: link})
	if e.Stream != "target" || e.Number != 3 || e.Link == nil || e.Link.Stream != "links" {
		t.Fatal("link not kept below resolved event", e)
	}
	e = convert(&esdb.ResolvedEvent{Link: link})
	if e.Type != store.LinkEventType || e.Link != nil {
		t.Fatal("unresolved link not returned as is", e)
	}
}

func TestSettings(t *testing.T) {
	s := store.DefaultGroupSettings()
	s.Strategy = store.Pinned
	s.MessageTimeout = 2 * time.Second
	s.MaxRetryCount = 3
	s.ResolveLinks = true
	es := subscriptionSettings(s)
	if es.NamedConsumerStrategy != esdb.ConsumerStrategy_Pinned {
		t.Error("strategy not mapped", es.NamedConsumerStrategy)
	}
	if es.MessageTimeoutInMs != 2000 || es.MaxRetryCount != 3 || !es.ResolveLinkTos {
		t.Error("settings not mapped", es)
	}
	if subscriptionSettings(store.GroupSettings{}).NamedConsumerStrategy != esdb.ConsumerStrategy_RoundRobin {
		t.Error("round robin is not the default strategy")
	}
	if nackAction(store.NackPark) != esdb.Nack_Park ||
		nackAction(store.NackSkip) != esdb.Nack_Skip ||
		nackAction(store.NackRetry) != esdb.Nack_Retry {
		t.Error("nack action not mapped")
	}
	if batchSize(0) != uint32(store.DefaultGroupSettings().BufferSize) || batchSize(3) != 3 {
		t.Error("batch size not mapped")
	}
}

func TestMapError(t *testing.T) {
	if mapError(nil) != nil {
		t.Fatal("nil error mapped")
	}
	tests := []struct {
		name string
		err  error
		want error
		kind result.Kind
	}{
		{
			name: "wrong expected revision",
			err:  fmt.Errorf("%w, reason: %s", esdb.ErrWrongExpectedStreamRevision, "expected 1"),
			want: store.ErrWrongExpectedVersion,
			kind: result.WrongExpectedVersion,
		},
		{
			name: "stream not found",
			err:  esdb.ErrStreamNotFound,
			want: store.ErrStreamNotFound,
			kind: result.StreamNotFound,
		},
		{
			name: "stream deleted",
			err:  fmt.Errorf("read: %w", &esdb.StreamDeletedError{StreamName: "gone"}),
			want: store.ErrStreamDeleted,
			kind: result.StreamNotFound,
		},
		{
			name: "permission denied",
			err:  fmt.Errorf("failed to perform delete, details: %w", esdb.ErrPermissionDenied),
			want: store.ErrAccessDenied,
			kind: result.NotAuthenticated,
		},
		{
			name: "unauthenticated",
			err:  fmt.Errorf("could not construct append operation. Reason: %w", status.Error(codes.Unauthenticated, "bad login")),
			want: store.ErrNotAuthenticated,
			kind: result.NotAuthenticated,
		},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			err := mapError(test.err)
			if !errors.Is(err, test.want) {
				t.Fatalf("got %v, want %v", err, test.want)
			}
			if k := result.KindOf(err); k != test.kind {
				t.Fatalf("got kind %s, want %s", k, test.kind)
			}
		})
	}
	other := errors.New("connection refused")
	if mapError(other) != other {
		t.Fatal("unknown error changed")
	}
	if result.KindOf(mapError(status.Error(codes.Unavailable, "down"))) != result.Other {
		t.Fatal("unavailable should stay other")
	}
}

func TestMapGroupError(t *testing.T) {
	exists := esdb.PersistentSubscriptionFailedCreationError(status.Error(codes.AlreadyExists, "group exists"))
	if !errors.Is(mapGroupError(exists), store.ErrGroupExists) {
		t.Fatal("existing group not mapped", mapGroupError(exists))
	}
	missing := esdb.PersistentSubscriptionDeletionFailedError(status.Error(codes.NotFound, "no group"))
	if !errors.Is(mapGroupError(missing), store.ErrGroupNotFound) {
		t.Fatal("missing group not mapped", mapGroupError(missing))
	}
	denied := esdb.PersistentSubscriptionFailedToInitClientError(fmt.Errorf("%w", esdb.ErrPermissionDenied))
	if !errors.Is(mapGroupError(denied), store.ErrAccessDenied) {
		t.Fatal("denied group call not mapped", mapGroupError(denied))
	}
}

func TestContentType(t *testing.T) {
	if contentType("application/json") != esdb.JsonContentType {
		t.Error("json not mapped")
	}
	if contentType("") != esdb.BinaryContentType {
		t.Error("default not binary")
	}
}

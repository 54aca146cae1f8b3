package eventstore

import (
	"errors"

	"github.com/EventStore/EventStore-Client-Go/esdb"
	"github.com/gofrs/uuid"
	"github.com/iidesho/esbridge/stream/event/store"
	perrors "github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newId() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

func expectedRevision(v store.ExpectedVersion) esdb.ExpectedRevision {
	switch v {
	case store.Any:
		return esdb.Any{}
	case store.NoStream:
		return esdb.NoStream{}
	case store.StreamExists:
		return esdb.StreamExists{}
	}
	return esdb.Revision(uint64(v))
}

func streamPosition(r store.StreamRevision) esdb.StreamPosition {
	if r.End {
		return esdb.End{}
	}
	if r.Number == 0 {
		return esdb.Start{}
	}
	return esdb.Revision(r.Number)
}

// subscribeFrom translates an inclusive start into the exclusive start subscriptions take.
func subscribeFrom(from *uint64) esdb.StreamPosition {
	switch {
	case from == nil:
		return esdb.End{}
	case *from == 0:
		return esdb.Start{}
	}
	return esdb.Revision(*from - 1)
}

// groupStart is inclusive on both sides.
func groupStart(from *uint64) esdb.StreamPosition {
	switch {
	case from == nil:
		return esdb.End{}
	case *from == 0:
		return esdb.Start{}
	}
	return esdb.Revision(*from)
}

func allPosition(p store.Position) esdb.AllPosition {
	switch p {
	case store.StartPosition:
		return esdb.Start{}
	case store.EndPosition:
		return esdb.End{}
	}
	return esdb.Position{
		Commit:  p.Commit,
		Prepare: p.Prepare,
	}
}

func esDirection(d store.Direction) esdb.Direction {
	if d == store.Backwards {
		return esdb.Backwards
	}
	return esdb.Forwards
}

func contentType(ct string) esdb.ContentType {
	if ct == "application/json" {
		return esdb.JsonContentType
	}
	return esdb.BinaryContentType
}

func credentials(c *store.Credentials) *esdb.Credentials {
	if c == nil {
		return nil
	}
	return &esdb.Credentials{
		Login:    c.Login,
		Password: c.Password,
	}
}

func consumerStrategy(s store.ConsumerStrategy) esdb.ConsumerStrategy {
	switch s {
	case store.DispatchToSingle:
		return esdb.ConsumerStrategy_DispatchToSingle
	case store.Pinned:
		return esdb.ConsumerStrategy_Pinned
	}
	return esdb.ConsumerStrategy_RoundRobin
}

func subscriptionSettings(s store.GroupSettings) esdb.SubscriptionSettings {
	settings := esdb.SubscriptionSettingsDefault()
	settings.ResolveLinkTos = s.ResolveLinks
	settings.NamedConsumerStrategy = consumerStrategy(s.Strategy)
	if s.MessageTimeout > 0 {
		settings.MessageTimeoutInMs = int32(s.MessageTimeout.Milliseconds())
	}
	if s.MaxRetryCount > 0 {
		settings.MaxRetryCount = int32(s.MaxRetryCount)
	}
	return settings
}

func nackAction(a store.NackAction) esdb.Nack_Action {
	switch a {
	case store.NackPark:
		return esdb.Nack_Park
	case store.NackSkip:
		return esdb.Nack_Skip
	}
	return esdb.Nack_Retry
}

// batchSize is how many unacknowledged events the server may push to one listener.
func batchSize(bufferSize int) uint32 {
	if bufferSize <= 0 {
		bufferSize = store.DefaultGroupSettings().BufferSize
	}
	return uint32(bufferSize)
}

func recorded(r *esdb.RecordedEvent) store.ReadEvent {
	return store.ReadEvent{
		Event: store.Event{
			Id:          r.EventID,
			Type:        r.EventType,
			ContentType: r.ContentType,
			Data:        r.Data,
			Metadata:    r.UserMetadata,
		},
		Stream: r.StreamID,
		Number: r.EventNumber,
		Position: &store.Position{
			Commit:  r.Position.Commit,
			Prepare: r.Position.Prepare,
		},
		Created: r.CreatedDate,
	}
}

// convert keeps the resolved event on top and the link below it. Links that could not be
// resolved are returned as is.
func convert(e *esdb.ResolvedEvent) store.ReadEvent {
	if e.Event == nil {
		return recorded(e.Link)
	}
	out := recorded(e.Event)
	if e.Link != nil {
		link := recorded(e.Link)
		out.Link = &link
	}
	return out
}

// grpcCode digs the gRPC status out of a wrapped client error.
func grpcCode(err error) codes.Code {
	var se interface{ GRPCStatus() *status.Status }
	if errors.As(err, &se) {
		return se.GRPCStatus().Code()
	}
	return codes.Unknown
}

// mapError turns client errors into store sentinels, the original message is kept.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var deleted *esdb.StreamDeletedError
	switch {
	case errors.Is(err, esdb.ErrWrongExpectedStreamRevision):
		return perrors.Wrap(store.ErrWrongExpectedVersion, err.Error())
	case errors.Is(err, esdb.ErrStreamNotFound):
		return perrors.Wrap(store.ErrStreamNotFound, err.Error())
	case errors.As(err, &deleted):
		return perrors.Wrap(store.ErrStreamDeleted, err.Error())
	case errors.Is(err, esdb.ErrPermissionDenied):
		return perrors.Wrap(store.ErrAccessDenied, err.Error())
	}
	switch grpcCode(err) {
	case codes.Unauthenticated:
		return perrors.Wrap(store.ErrNotAuthenticated, err.Error())
	case codes.PermissionDenied:
		return perrors.Wrap(store.ErrAccessDenied, err.Error())
	case codes.NotFound:
		return perrors.Wrap(store.ErrStreamNotFound, err.Error())
	}
	return err
}

// mapGroupError is mapError for persistent subscription group calls.
func mapGroupError(err error) error {
	switch grpcCode(err) {
	case codes.AlreadyExists:
		return perrors.Wrap(store.ErrGroupExists, err.Error())
	case codes.NotFound:
		return perrors.Wrap(store.ErrGroupNotFound, err.Error())
	}
	return mapError(err)
}

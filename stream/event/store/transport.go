package store

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid"
)

var (
	ErrWrongExpectedVersion = errors.New("wrong expected version")
	ErrStreamNotFound       = errors.New("stream not found")
	ErrStreamDeleted        = errors.New("stream is deleted")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrAccessDenied         = errors.New("access denied")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrTransactionClosed    = errors.New("transaction is closed")
	ErrGroupExists          = errors.New("persistent subscription group already exists")
	ErrGroupNotFound        = errors.New("persistent subscription group not found")
	ErrGroupDeleted         = errors.New("persistent subscription group was deleted")
	ErrClosed               = errors.New("connection is closed")
)

// Handlers is the listener a subscription registers with the transport. Transports call the
// handlers from their own goroutines; they must not block for long.
type Handlers struct {
	Event       func(e ReadEvent)
	LiveStarted func()
	Error       func(err error)
	Closed      func(reason error)
}

type SubscribeOptions struct {
	ReadOptions
	// CatchUp marks From as a historical start point. LiveStarted is only called for catch-up
	// subscriptions.
	CatchUp bool
}

// Subscription is the transport side of a registered listener.
type Subscription interface {
	Close() error
}

type ConsumerStrategy string

const (
	RoundRobin       ConsumerStrategy = "RoundRobin"
	DispatchToSingle ConsumerStrategy = "DispatchToSingle"
	Pinned           ConsumerStrategy = "Pinned"
)

type GroupSettings struct {
	// StartFrom is inclusive, nil starts at the end of the stream.
	StartFrom      *uint64
	ResolveLinks   bool
	MessageTimeout time.Duration
	MaxRetryCount  int
	BufferSize     int
	Strategy       ConsumerStrategy
}

func DefaultGroupSettings() GroupSettings {
	return GroupSettings{
		MessageTimeout: 30 * time.Second,
		MaxRetryCount:  10,
		BufferSize:     10,
		Strategy:       RoundRobin,
	}
}

type NackAction string

const (
	NackPark  NackAction = "park"
	NackRetry NackAction = "retry"
	NackSkip  NackAction = "skip"
)

// PersistentSubscription is a listener attached to a persistent subscription group.
type PersistentSubscription interface {
	Ack(ids ...uuid.UUID) error
	Nack(action NackAction, reason string, ids ...uuid.UUID) error
	Close() error
}

// Transport is the capability the adapter consumes. Every call either completes once or
// registers a listener.
type Transport interface {
	Append(ctx context.Context, stream string, expected ExpectedVersion, events []Event, opts CallOptions) (WriteResult, error)
	ReadStream(ctx context.Context, stream string, from StreamRevision, count uint64, direction Direction, opts ReadOptions) (StreamSlice, error)
	ReadAll(ctx context.Context, from Position, count uint64, direction Direction, opts ReadOptions) (AllSlice, error)
	DeleteStream(ctx context.Context, stream string, expected ExpectedVersion, hard bool, opts CallOptions) (DeleteResult, error)

	SetStreamMetadata(ctx context.Context, stream string, expected ExpectedVersion, data []byte, opts CallOptions) (WriteResult, error)
	GetStreamMetadata(ctx context.Context, stream string, opts CallOptions) (StreamMetadataResult, error)

	StartTransaction(ctx context.Context, stream string, expected ExpectedVersion, opts CallOptions) (uint64, error)
	ResumeTransaction(ctx context.Context, id uint64, opts CallOptions) (string, error)
	TransactionWrite(ctx context.Context, id uint64, events []Event, opts CallOptions) error
	CommitTransaction(ctx context.Context, id uint64, opts CallOptions) (WriteResult, error)

	SubscribeToStream(ctx context.Context, stream string, from *uint64, opts SubscribeOptions, h Handlers) (Subscription, error)
	SubscribeToAll(ctx context.Context, from *Position, opts SubscribeOptions, h Handlers) (Subscription, error)

	CreatePersistentSubscription(ctx context.Context, stream, group string, settings GroupSettings, opts CallOptions) error
	UpdatePersistentSubscription(ctx context.Context, stream, group string, settings GroupSettings, opts CallOptions) error
	DeletePersistentSubscription(ctx context.Context, stream, group string, opts CallOptions) error
	ConnectToPersistentSubscription(ctx context.Context, stream, group string, bufferSize int, opts CallOptions, h Handlers) (PersistentSubscription, error)

	Close() error
}

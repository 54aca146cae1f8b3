package competing

import (
	"context"

	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/esbridge/result"
	"github.com/iidesho/esbridge/stream"
	"github.com/iidesho/esbridge/stream/event/store"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

// GroupOptions identify a persistent subscription group. Settings are only used when creating or
// updating it.
type GroupOptions struct {
	Stream      string
	Group       string
	Settings    store.GroupSettings
	Credentials *store.Credentials
}

func (o GroupOptions) check(settings bool) error {
	if o.Stream == "" {
		return result.Precondition("stream name is required")
	}
	if o.Group == "" {
		return result.Precondition("group name is required")
	}
	if !settings {
		return nil
	}
	s := o.Settings
	switch {
	case s.MessageTimeout < 0:
		return result.Precondition("message timeout can not be negative, got %s", s.MessageTimeout)
	case s.MaxRetryCount < 0:
		return result.Precondition("max retry count can not be negative, got %d", s.MaxRetryCount)
	case s.BufferSize < 0:
		return result.Precondition("buffer size can not be negative, got %d", s.BufferSize)
	}
	switch s.Strategy {
	case "", store.RoundRobin, store.DispatchToSingle, store.Pinned:
	default:
		return result.Precondition("unknown consumer strategy %q", s.Strategy)
	}
	return nil
}

func (o GroupOptions) settings() store.GroupSettings {
	s := o.Settings
	if s.Strategy == "" {
		s.Strategy = store.RoundRobin
	}
	return s
}

func callOptions(conn *stream.Conn, credentials *store.Credentials) store.CallOptions {
	return conn.CallOptions(stream.Options{Credentials: credentials})
}

// CreateGroup creates a group whose cursor starts at Settings.StartFrom, or at the end of the
// stream.
func CreateGroup(ctx context.Context, conn *stream.Conn, o GroupOptions) (*result.Result[struct{}], error) {
	if err := o.check(true); err != nil {
		return nil, err
	}
	return result.Go(ctx, "create_group", func(ctx context.Context) (struct{}, error) {
		err := conn.Transport().CreatePersistentSubscription(ctx, o.Stream, o.Group, o.settings(), callOptions(conn, o.Credentials))
		log.WithError(err).Info("creating group", "stream", o.Stream, "group", o.Group)
		return struct{}{}, err
	}, result.Identity[struct{}]), nil
}

// UpdateGroup replaces the settings of a group, its cursor is kept.
func UpdateGroup(ctx context.Context, conn *stream.Conn, o GroupOptions) (*result.Result[struct{}], error) {
	if err := o.check(true); err != nil {
		return nil, err
	}
	return result.Go(ctx, "update_group", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, conn.Transport().UpdatePersistentSubscription(ctx, o.Stream, o.Group, o.settings(), callOptions(conn, o.Credentials))
	}, result.Identity[struct{}]), nil
}

// DeleteGroup removes a group, every attached listener is closed.
func DeleteGroup(ctx context.Context, conn *stream.Conn, o GroupOptions) (*result.Result[struct{}], error) {
	if err := o.check(false); err != nil {
		return nil, err
	}
	return result.Go(ctx, "delete_group", func(ctx context.Context) (struct{}, error) {
		err := conn.Transport().DeletePersistentSubscription(ctx, o.Stream, o.Group, callOptions(conn, o.Credentials))
		log.WithError(err).Info("deleting group", "stream", o.Stream, "group", o.Group)
		return struct{}{}, err
	}, result.Identity[struct{}]), nil
}

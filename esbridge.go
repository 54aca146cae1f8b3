package esbridge

import (
	"context"
	"strings"

	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/esbridge/config"
	"github.com/iidesho/esbridge/result"
	"github.com/iidesho/esbridge/serialization"
	"github.com/iidesho/esbridge/stream"
	"github.com/iidesho/esbridge/stream/event/store"
	"github.com/iidesho/esbridge/stream/event/store/eventstore"
	"github.com/iidesho/esbridge/stream/event/store/inmemory"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

const (
	EventStoreScheme = "esdb://"
	ClusterScheme    = "esdb+discover://"
	InMemoryScheme   = "inmemory://"
)

// Connect opens the transport named by the endpoint scheme and wraps it in a connection handle.
// A nil registry gets the built in formats.
func Connect(ctx context.Context, c config.Config, registry *serialization.Registry) (*stream.Conn, error) {
	if err := c.ConfigureLogging(); err != nil {
		return nil, err
	}
	var t store.Transport
	switch {
	case strings.HasPrefix(c.Endpoint, EventStoreScheme), strings.HasPrefix(c.Endpoint, ClusterScheme):
		es, err := eventstore.NewClient(ctx, c.Endpoint, c.RequireLeader)
		if err != nil {
			return nil, err
		}
		t = es
	case strings.HasPrefix(c.Endpoint, InMemoryScheme):
		name := strings.TrimPrefix(c.Endpoint, InMemoryScheme)
		if name == "" {
			return nil, result.Precondition("in memory endpoint needs a name")
		}
		var opts []inmemory.Option
		if cred := c.Credentials(); cred != nil {
			opts = append(opts, inmemory.WithUser(cred.Login, cred.Password))
		}
		im, err := inmemory.Init(ctx, name, opts...)
		if err != nil {
			return nil, err
		}
		t = im
	default:
		return nil, result.Precondition("unsupported endpoint %q", c.Endpoint)
	}
	conn := stream.NewConn(t, registry, c.Defaults())
	if err := conn.CheckFormats(stream.Options{}); err != nil {
		t.Close()
		return nil, err
	}
	log.Info("connected", "endpoint", c.Endpoint)
	return conn, nil
}

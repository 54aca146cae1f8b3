package stream

import (
	"context"
	"time"

	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/esbridge/result"
	"github.com/iidesho/esbridge/serialization"
	"github.com/iidesho/esbridge/stream/event/store"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

const BATCH_SIZE = 1000

// Defaults fill in every option a call leaves empty.
type Defaults struct {
	Credentials    *store.Credentials
	RequireLeader  bool
	Format         string
	MetadataFormat string
	AwaitTimeout   time.Duration
}

// Conn is the handle every operation takes. It is safe for concurrent use.
type Conn struct {
	t        store.Transport
	registry *serialization.Registry
	defaults Defaults
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewConn(t store.Transport, registry *serialization.Registry, defaults Defaults) *Conn {
	if registry == nil {
		registry = serialization.NewRegistry()
	}
	if defaults.AwaitTimeout <= 0 {
		defaults.AwaitTimeout = result.DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		t:        t,
		registry: registry,
		defaults: defaults,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *Conn) Transport() store.Transport {
	return c.t
}

func (c *Conn) Registry() *serialization.Registry {
	return c.registry
}

// Context is done once the connection is disconnected.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Timeout is the configured wait for awaiting results.
func (c *Conn) Timeout() time.Duration {
	return c.defaults.AwaitTimeout
}

// Disconnect releases the transport. Every open subscription is closed with it.
func (c *Conn) Disconnect(ctx context.Context) *result.Result[struct{}] {
	return result.Go(ctx, "disconnect", func(_ context.Context) (struct{}, error) {
		c.cancel()
		log.Info("disconnecting")
		return struct{}{}, c.t.Close()
	}, result.Identity[struct{}])
}

// Options are shared by every stream operation. Zero values fall back to the connection
// defaults, a nil ExpectedVersion means any.
type Options struct {
	Stream          string
	ExpectedVersion *store.ExpectedVersion
	ResolveLinks    bool
	RequireLeader   bool
	Format          string
	MetadataFormat  string
	Credentials     *store.Credentials
}

func Expect(v store.ExpectedVersion) *store.ExpectedVersion {
	return &v
}

func (o Options) Expected() store.ExpectedVersion {
	if o.ExpectedVersion == nil {
		return store.Any
	}
	return *o.ExpectedVersion
}

func (c *Conn) CallOptions(o Options) store.CallOptions {
	co := store.CallOptions{
		Credentials:   o.Credentials,
		RequireLeader: o.RequireLeader || c.defaults.RequireLeader,
	}
	if co.Credentials == nil {
		co.Credentials = c.defaults.Credentials
	}
	return co
}

func (c *Conn) ReadOptions(o Options) store.ReadOptions {
	return store.ReadOptions{
		CallOptions:  c.CallOptions(o),
		ResolveLinks: o.ResolveLinks,
	}
}

func (c *Conn) format(o Options) string {
	if o.Format != "" {
		return o.Format
	}
	return c.defaults.Format
}

func (c *Conn) metadataFormat(o Options) string {
	if o.MetadataFormat != "" {
		return o.MetadataFormat
	}
	return c.defaults.MetadataFormat
}

// CheckFormats fails when the data or metadata format of o is not registered.
func (c *Conn) CheckFormats(o Options) error {
	if _, err := c.registry.Codec(c.format(o)); err != nil {
		return err
	}
	if _, err := c.registry.Codec(c.metadataFormat(o)); err != nil {
		return err
	}
	return nil
}

func requireStream(o Options) error {
	if o.Stream == "" {
		return result.Precondition("stream name is required")
	}
	if o.ExpectedVersion != nil && !o.ExpectedVersion.Valid() {
		return result.Precondition("invalid expected version %d", *o.ExpectedVersion)
	}
	return nil
}

package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/esbridge/metrics"
	"github.com/iidesho/esbridge/stream/event/store"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	log = sbragi.WithLocalScope(sbragi.LevelInfo)

	metricsLock sync.Mutex
	writeCount  *prometheus.CounterVec
	readCount   *prometheus.CounterVec
)

type record struct {
	store.Event
	stream   string
	number   uint64
	position store.Position
	created  time.Time
}

func (r *record) read() store.ReadEvent {
	pos := r.position
	return store.ReadEvent{
		Event:    r.Event,
		Stream:   r.stream,
		Number:   r.number,
		Position: &pos,
		Created:  r.created,
	}
}

// streamData keeps every record ever written to a stream so numbering continues after a soft
// delete. Records before truncateBefore are hidden.
type streamData struct {
	records        []*record
	truncateBefore uint64
	deleted        bool
	tombstoned     bool
}

// version is the number of the last visible event, -1 when there is none.
func (s *streamData) version() int64 {
	if s == nil || s.deleted || len(s.records) == 0 {
		return -1
	}
	return int64(len(s.records)) - 1
}

func (s *streamData) visible() []*record {
	if s == nil || s.deleted || s.tombstoned {
		return nil
	}
	return s.records[s.truncateBefore:]
}

func (s *streamData) get(number uint64) (*record, bool) {
	if s == nil || s.deleted || s.tombstoned || number < s.truncateBefore || number >= uint64(len(s.records)) {
		return nil, false
	}
	return s.records[number], true
}

// Client is a complete transport held in process memory. It behaves like a single node event
// store and is safe for concurrent use.
type Client struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc

	lock    sync.RWMutex
	streams map[string]*streamData
	all     []*record
	signal  chan struct{}
	users   map[string]string
	txs     map[uint64]*transaction
	txId    uint64
	groups  map[groupKey]*group
}

type Option func(c *Client)

// WithUser enables authentication, every call must then carry matching credentials.
func WithUser(login, password string) Option {
	return func(c *Client) {
		c.users[login] = password
	}
}

func Init(ctx context.Context, name string, opts ...Option) (c *Client, err error) {
	err = loadMetrics()
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c = &Client{
		name:    name,
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[string]*streamData),
		signal:  make(chan struct{}),
		users:   make(map[string]string),
		txs:     make(map[uint64]*transaction),
		groups:  make(map[groupKey]*group),
	}
	for _, opt := range opts {
		opt(c)
	}
	log.Info("in-memory event store started", "name", name)
	return
}

func (c *Client) Name() string {
	return c.name
}

// Close terminates every subscription and persistent subscription listener. It is idempotent.
func (c *Client) Close() error {
	if c.ctx.Err() == nil {
		log.Info("closing in-memory event store", "name", c.name)
	}
	c.cancel()
	return nil
}

func (c *Client) check(ctx context.Context, opts store.CallOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.ctx.Err() != nil {
		return store.ErrClosed
	}
	if len(c.users) == 0 {
		return nil
	}
	if opts.Credentials == nil {
		return errors.Wrap(store.ErrNotAuthenticated, "missing credentials")
	}
	password, ok := c.users[opts.Credentials.Login]
	if !ok || password != opts.Credentials.Password {
		return errors.Wrapf(store.ErrNotAuthenticated, "invalid credentials for %s", opts.Credentials.Login)
	}
	return nil
}

// notify wakes everything waiting for new data. The caller must hold the write lock.
func (c *Client) notify() {
	close(c.signal)
	c.signal = make(chan struct{})
}

func (c *Client) lastPosition() store.Position {
	if len(c.all) == 0 {
		return store.StartPosition
	}
	return c.all[len(c.all)-1].position
}

func loadMetrics() error {
	metricsLock.Lock()
	defer metricsLock.Unlock()
	if !metrics.Enabled() || writeCount != nil {
		return nil
	}
	wc, err := metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inmemory_event_write_count",
		Help: "in-memory event write count",
	}, []string{"stream"}))
	if err != nil {
		return err
	}
	rc, err := metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inmemory_event_read_count",
		Help: "in-memory event read count",
	}, []string{"stream"}))
	if err != nil {
		return err
	}
	writeCount, readCount = wc, rc
	return nil
}

func observe(vec **prometheus.CounterVec, stream string, n int) {
	if n == 0 {
		return
	}
	metricsLock.Lock()
	v := *vec
	metricsLock.Unlock()
	if v == nil {
		return
	}
	v.WithLabelValues(stream).Add(float64(n))
}

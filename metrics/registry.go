package metrics

import (
	"os"
	"sync"

	"github.com/iidesho/bragi/sbragi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	log      = sbragi.WithLocalScope(sbragi.LevelInfo)
	lock     sync.RWMutex
	registry *prometheus.Registry
)

func Init() {
	lock.Lock()
	defer lock.Unlock()
	registry = prometheus.NewRegistry()
}

// Reset turns metrics off again. Collectors already handed out keep counting into the old
// registry.
func Reset() {
	lock.Lock()
	defer lock.Unlock()
	registry = nil
}

// Registry is nil until Init is called.
func Registry() *prometheus.Registry {
	lock.RLock()
	defer lock.RUnlock()
	return registry
}

func Enabled() bool {
	return Registry() != nil
}

// Register registers c when metrics are enabled. Already registered collectors of the same
// description are returned instead so packages can share counters across instances.
func Register[C prometheus.Collector](c C) (C, error) {
	reg := Registry()
	if reg == nil {
		return c, nil
	}
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// Push sends the registry to a pushgateway under the given job name.
func Push(url, job string) error {
	reg := Registry()
	if reg == nil {
		return nil
	}
	pusher := push.New(url, job).Gatherer(reg)
	hn, err := os.Hostname()
	if !log.WithError(err).Warning("getting hostname for metrics push") {
		pusher = pusher.Grouping("instance", hn)
	}
	return pusher.Push()
}

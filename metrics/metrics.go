// Package metrics publishes the process's runtime counters both as
// expvar.Int values (for the admin monitor feed and ad-hoc inspection)
// and as Prometheus gauges (for scraping). The expvar half is grounded
// directly on the hub's topicsLive counter: a named expvar.Int created
// once at startup and mutated in place for the life of the process.
package metrics

import (
	"expvar"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter is one named, concurrency-safe integer metric, published both
// under expvar and as a Prometheus gauge.
type Counter struct {
	ev   *expvar.Int
	pg   prometheus.Gauge
}

var (
	mu       sync.Mutex
	counters = map[string]*Counter{}
)

// Register creates and publishes a new counter named name. It panics if
// name was already registered, matching expvar's own panic-on-duplicate
// behavior so a programming mistake surfaces at startup rather than
// silently overwriting a metric.
func Register(name, help string) *Counter {
	mu.Lock()
	defer mu.Unlock()

	if _, dup := counters[name]; dup {
		panic("metrics: counter already registered: " + name)
	}

	c := &Counter{
		ev: new(expvar.Int),
		pg: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_" + name,
			Help: help,
		}),
	}
	expvar.Publish(name, c.ev)
	prometheus.MustRegister(c.pg)
	counters[name] = c
	return c
}

// Inc adds delta to the counter.
func (c *Counter) Inc(delta int64) {
	c.ev.Add(delta)
	c.pg.Add(float64(delta))
}

// Set assigns the counter's current value.
func (c *Counter) Set(v int64) {
	c.ev.Set(v)
	c.pg.Set(float64(v))
}

// Get returns the counter's current value.
func (c *Counter) Get() int64 {
	return c.ev.Value()
}

// Handler serves the Prometheus scrape endpoint; every node binary
// mounts it on its own lightweight metrics listener (expvar is already
// reachable via the default mux's own /debug/vars, registered by
// expvar's own init()).
func Handler() http.Handler {
	return promhttp.Handler()
}

// Standard process-wide counters, registered once at package init so
// every node binary can reference them without a wiring step of its own.
var (
	ClusterLeader     = Register("ClusterLeader", "1 if this node is the cluster leader, 0 otherwise")
	TotalClusterNodes = Register("TotalClusterNodes", "total number of nodes configured in the cluster")
	LiveClusterNodes  = Register("LiveClusterNodes", "number of cluster nodes currently believed to be up")
	SessionsLive      = Register("SessionsLive", "number of currently open client sessions")
	SeqnumAssigned    = Register("SeqnumAssigned", "total sequence numbers assigned by this seqnode")
	MessagesLogged    = Register("MessagesLogged", "total messages appended to the durable log")
)

package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/delivery"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "parley"

// Collector turns bus traffic into Prometheus series and optionally serves
// them over HTTP.
type Collector struct {
	registry *prometheus.Registry
	bus      *bus.Bus
	logger   *zap.Logger

	events   *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	failures *prometheus.CounterVec
	janitor  *prometheus.CounterVec

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// InFlight reports sends awaiting acknowledgment.
type InFlight interface {
	InFlight() int
}

// New registers the collector's series. inflight may be nil.
func New(b *bus.Bus, inflight InFlight, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		bus:      b,
		logger:   logger,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Domain events published, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber buffer was full.",
		}, []string{"kind", "subscriber"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "failures_total",
			Help:      "Sends that reached the failed state.",
		}, []string{"reason"}),
		janitor: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "janitor",
			Name:      "pruned_total",
			Help:      "Records removed by the janitor, by target.",
		}, []string{"target"}),
	}
	reg.MustRegister(c.events, c.dropped, c.failures, c.janitor,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if inflight != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "in_flight",
			Help:      "Sends awaiting acknowledgment.",
		}, func() float64 { return float64(inflight.InFlight()) }))
	}
	b.OnDrop(func(kind, subscriber string) {
		c.dropped.WithLabelValues(kind, subscriber).Inc()
	})
	return c
}

// Start counts every event on the bus until Stop.
func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	ch, unsub := c.bus.Subscribe("", 512)
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				c.observe(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Collector) observe(evt bus.Event) {
	c.events.WithLabelValues(evt.Kind).Inc()
	if evt.Kind != bus.MessageSendFailed {
		return
	}
	reason := "error"
	if f, ok := evt.Payload.(delivery.Failure); ok && f.Timeout {
		reason = "timeout"
	}
	c.failures.WithLabelValues(reason).Inc()
}

// Pruned records janitor removals.
func (c *Collector) Pruned(target string, n int) {
	if n > 0 {
		c.janitor.WithLabelValues(target).Add(float64(n))
	}
}

// Handler exposes the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve starts the /metrics endpoint on addr in the background.
func (c *Collector) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	c.mu.Lock()
	c.server = srv
	c.addr = ln.Addr()
	c.mu.Unlock()

	c.logger.Info("metrics endpoint listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the endpoint's bound address, or nil when not serving.
func (c *Collector) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Stop stops counting and shuts the endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	c.mu.Lock()
	srv := c.server
	c.server, c.addr = nil, nil
	c.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Package metering implements the in-memory ring-buffer usage collector:
// best-effort telemetry, not an audit trail.
package metering

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// EventType classifies a metering event.
type EventType string

const (
	EventPlanRun     EventType = "PLAN_RUN"
	EventPlanApply   EventType = "PLAN_APPLY"
	EventAICall      EventType = "AI_CALL"
	EventModelLoaded EventType = "MODEL_LOADED"
	EventBackfillRun EventType = "BACKFILL_RUN"
	EventAPIRequest  EventType = "API_REQUEST"
)

// Event is one usage record.
type Event struct {
	EventID   string
	TenantID  string
	EventType EventType
	Quantity  int
	CostUSD   float64
	Metadata  map[string]string
	Timestamp time.Time
}

// Sink receives drained batches of events.
type Sink interface {
	Flush(ctx context.Context, events []Event) error
}

const (
	DefaultMaxBufferSize    = 100
	DefaultFlushInterval    = 5 * time.Second
)

var (
	flushLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ironlayer",
		Subsystem: "metering",
		Name:      "flush_duration_seconds",
		Help:      "Time spent flushing metering events to the sink.",
	})
	droppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ironlayer",
		Subsystem: "metering",
		Name:      "dropped_events_total",
		Help:      "Events dropped because the sink returned an error.",
	})
)

// MustRegister registers metering's prometheus collectors on reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(flushLatency, droppedEvents)
}

// Collector buffers events in memory and flushes them to a Sink either when
// the buffer fills or on a periodic tick.
type Collector struct {
	mu            sync.Mutex
	buffer        []Event
	maxBufferSize int
	flushInterval time.Duration
	sink          Sink
	log           logr.Logger
	now           func() time.Time

	stop     chan struct{}
	stopped  chan struct{}
	started  bool
}

// Option configures a Collector.
type Option func(*Collector)

// WithMaxBufferSize overrides the default buffer capacity trigger.
func WithMaxBufferSize(n int) Option { return func(c *Collector) { c.maxBufferSize = n } }

// WithFlushInterval overrides the default background flush period.
func WithFlushInterval(d time.Duration) Option { return func(c *Collector) { c.flushInterval = d } }

// New builds a Collector.
func New(sink Sink, log logr.Logger, opts ...Option) *Collector {
	c := &Collector{
		maxBufferSize: DefaultMaxBufferSize,
		flushInterval: DefaultFlushInterval,
		sink:          sink,
		log:           log,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record appends an event, assigning it an `evt-<uuid>` ID and a capture
// timestamp, and flushes immediately if the buffer has reached capacity.
func (c *Collector) Record(tenantID string, eventType EventType, quantity int, metadata map[string]string) {
	if quantity == 0 {
		quantity = 1
	}
	ev := Event{
		EventID:   "evt-" + uuid.New().String(),
		TenantID:  tenantID,
		EventType: eventType,
		Quantity:  quantity,
		Metadata:  metadata,
		Timestamp: c.now().UTC(),
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, ev)
	shouldFlush := len(c.buffer) >= c.maxBufferSize
	c.mu.Unlock()

	if shouldFlush {
		c.flush(context.Background())
	}
}

// RecordCost appends an AI_CALL-style event that also carries a USD cost,
// for tenants whose LLM usage is billed by spend rather than call count.
func (c *Collector) RecordCost(tenantID string, eventType EventType, quantity int, costUSD float64, metadata map[string]string) {
	if quantity == 0 {
		quantity = 1
	}
	ev := Event{
		EventID:   "evt-" + uuid.New().String(),
		TenantID:  tenantID,
		EventType: eventType,
		Quantity:  quantity,
		CostUSD:   costUSD,
		Metadata:  metadata,
		Timestamp: c.now().UTC(),
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, ev)
	shouldFlush := len(c.buffer) >= c.maxBufferSize
	c.mu.Unlock()

	if shouldFlush {
		c.flush(context.Background())
	}
}

// flush drains the buffer and hands it to the sink. The buffer is cleared
// before the sink call so a slow or failing sink never back-pressures
// producers.
func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	start := c.now()
	err := c.sink.Flush(ctx, batch)
	flushLatency.Observe(c.now().Sub(start).Seconds())
	if err != nil {
		droppedEvents.Add(float64(len(batch)))
		c.log.Error(err, "metering sink flush failed, dropping events", "count", len(batch))
	}
}

// StartBackgroundFlush begins the periodic flush ticker. Idempotent:
// calling it twice does not create a second ticker.
func (c *Collector) StartBackgroundFlush(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.stop = make(chan struct{})
	c.stopped = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer close(c.stopped)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				c.flush(context.Background())
				return
			case <-c.stop:
				c.flush(context.Background())
				return
			case <-ticker.C:
				c.flush(ctx)
			}
		}
	}()
}

// StopBackgroundFlush signals the ticker goroutine to exit and waits for
// it. Idempotent: calling it when not started, or twice, is a no-op.
func (c *Collector) StopBackgroundFlush() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	stop := c.stop
	stopped := c.stopped
	c.mu.Unlock()

	close(stop)
	<-stopped
}

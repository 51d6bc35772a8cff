// Package coordinator tracks one cancellable operation per (kind, city) key
// and guarantees that only the most recently issued request for a key can ever
// reach the shared state container. An older in-flight request is cancelled
// when a newer one arrives, and its late settlement, if any, is discarded.
package coordinator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"weatherdash/internal/observability"
)

// Kind identifies the operation type scoping a request key. A forecast fetch
// for a city never cancels a current-weather fetch for the same city.
type Kind string

const (
	KindCurrent  Kind = "current"
	KindForecast Kind = "forecast"
	KindSearch   Kind = "search"
)

// Key identifies a unit of cancellable work. City is the user's spelling,
// case-preserved; two spellings of the same city are distinct keys.
type Key struct {
	Kind Kind
	City string
}

// String renders the key in its cache-key form, e.g. "current:Paris".
func (k Key) String() string {
	return string(k.Kind) + ":" + k.City
}

// Outcome classifies how a run settled.
type Outcome string

const (
	OutcomeFulfilled Outcome = "fulfilled"
	OutcomeRejected  Outcome = "rejected"
	OutcomeCancelled Outcome = "cancelled"
)

// Result is the settlement of one run. Payload is set for fulfilled runs, Err
// for rejected ones. Cancelled results carry neither; cancellation is not an
// error.
type Result struct {
	Outcome Outcome
	Payload any
	Err     error
}

// Operation performs the underlying fetch. It must honour ctx cancellation at
// its I/O boundary.
type Operation func(ctx context.Context) (any, error)

// EventSink consumes request lifecycle events. Pending is invoked
// synchronously inside Run, before any asynchronous work starts, so a loading
// indicator is visible before the first suspension point. Cancelled is only
// delivered for a non-superseding cancellation (caller abort); a superseded
// request emits nothing, because its successor already owns the key's status.
type EventSink interface {
	Pending(key Key)
	Fulfilled(key Key, payload any)
	Rejected(key Key, message string)
	Cancelled(key Key)
}

// inFlight is one registered operation. gen orders operations per key so a
// settlement can verify it is still the registered one.
type inFlight struct {
	cancel context.CancelFunc
	gen    uint64
}

// Coordinator is the per-key request registry. Safe for concurrent use; all
// registry and sink mutations are serialized under one mutex so outcomes apply
// in issue order.
type Coordinator struct {
	mu       sync.Mutex
	inFlight map[Key]*inFlight
	gen      uint64
	sink     EventSink
	logger   *zap.Logger
}

// New creates a Coordinator emitting lifecycle events into sink.
func New(sink EventSink, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		inFlight: make(map[Key]*inFlight),
		sink:     sink,
		logger:   logger,
	}
}

// Run issues op under key. If a request for the same key is in flight it is
// cancelled first and its result discarded, whenever it may arrive. The
// returned channel receives exactly one Result; it is buffered, so an
// abandoned caller leaks nothing.
func (c *Coordinator) Run(ctx context.Context, key Key, op Operation) <-chan Result {
	opCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if prev, ok := c.inFlight[key]; ok {
		prev.cancel()
		observability.SupersessionsTotal.WithLabelValues(string(key.Kind)).Inc()
		if c.logger != nil {
			c.logger.Debug("superseding in-flight request", zap.String("key", key.String()))
		}
	}
	c.gen++
	gen := c.gen
	c.inFlight[key] = &inFlight{cancel: cancel, gen: gen}
	c.sink.Pending(key)
	c.mu.Unlock()

	out := make(chan Result, 1)
	go c.execute(opCtx, cancel, key, gen, op, out)
	return out
}

// execute runs op and settles the registration. The settlement decision and
// its sink event happen under the registry lock so a stale settlement can
// never be applied after a newer request for the same key has been issued.
func (c *Coordinator) execute(ctx context.Context, cancel context.CancelFunc, key Key, gen uint64, op Operation, out chan<- Result) {
	defer cancel()

	payload, err := op(ctx)

	c.mu.Lock()
	current, registered := c.inFlight[key]
	superseded := !registered || current.gen != gen
	if !superseded {
		delete(c.inFlight, key)
	}

	var res Result
	switch {
	case superseded:
		res = Result{Outcome: OutcomeCancelled}
	case ctx.Err() != nil:
		// Caller abort (or timeout behaving as one). Reset the key's status
		// without surfacing an error.
		c.sink.Cancelled(key)
		res = Result{Outcome: OutcomeCancelled}
	case err != nil:
		c.sink.Rejected(key, err.Error())
		res = Result{Outcome: OutcomeRejected, Err: err}
	default:
		c.sink.Fulfilled(key, payload)
		res = Result{Outcome: OutcomeFulfilled, Payload: payload}
	}
	c.mu.Unlock()

	observability.FetchOutcomesTotal.WithLabelValues(string(key.Kind), string(res.Outcome)).Inc()
	if c.logger != nil && res.Outcome == OutcomeRejected {
		c.logger.Warn("request rejected", zap.String("key", key.String()), zap.Error(err))
	}
	out <- res
}

// InFlight returns the number of registered in-flight requests.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

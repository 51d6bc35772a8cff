package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingSink records lifecycle events in arrival order.
type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

type sinkEvent struct {
	name    string
	key     Key
	payload any
	message string
}

func (s *recordingSink) Pending(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{name: "pending", key: key})
}

func (s *recordingSink) Fulfilled(key Key, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{name: "fulfilled", key: key, payload: payload})
}

func (s *recordingSink) Rejected(key Key, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{name: "rejected", key: key, message: message})
}

func (s *recordingSink) Cancelled(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{name: "cancelled", key: key})
}

func (s *recordingSink) snapshot() []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sinkEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestRun_FulfilledDeliversPayload(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink, nil)
	key := Key{Kind: KindCurrent, City: "Paris"}

	res := <-c.Run(context.Background(), key, func(ctx context.Context) (any, error) {
		return "payload", nil
	})

	if res.Outcome != OutcomeFulfilled {
		t.Fatalf("Outcome = %q, want %q", res.Outcome, OutcomeFulfilled)
	}
	if res.Payload != "payload" {
		t.Errorf("Payload = %v, want payload", res.Payload)
	}
	if res.Err != nil {
		t.Errorf("Err = %v, want nil", res.Err)
	}

	events := sink.snapshot()
	if len(events) != 2 || events[0].name != "pending" || events[1].name != "fulfilled" {
		t.Errorf("events = %+v, want pending then fulfilled", events)
	}
	if c.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0", c.InFlight())
	}
}

func TestRun_PendingEmittedBeforeReturn(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink, nil)
	key := Key{Kind: KindCurrent, City: "Paris"}

	block := make(chan struct{})
	_ = c.Run(context.Background(), key, func(ctx context.Context) (any, error) {
		<-block
		return nil, nil
	})

	// Pending must be observable synchronously, before the operation settles.
	events := sink.snapshot()
	if len(events) != 1 || events[0].name != "pending" {
		t.Errorf("events after Run returned = %+v, want exactly one pending", events)
	}
	close(block)
}

func TestRun_RejectedCarriesError(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink, nil)
	key := Key{Kind: KindForecast, City: "Paris"}
	opErr := errors.New("provider exploded")

	res := <-c.Run(context.Background(), key, func(ctx context.Context) (any, error) {
		return nil, opErr
	})

	if res.Outcome != OutcomeRejected {
		t.Fatalf("Outcome = %q, want %q", res.Outcome, OutcomeRejected)
	}
	if !errors.Is(res.Err, opErr) {
		t.Errorf("Err = %v, want %v", res.Err, opErr)
	}

	events := sink.snapshot()
	if len(events) != 2 || events[1].name != "rejected" || events[1].message != "provider exploded" {
		t.Errorf("events = %+v, want pending then rejected with message", events)
	}
}

func TestRun_SupersessionCancelsPriorAndDiscardsItsResult(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink, nil)
	key := Key{Kind: KindCurrent, City: "Paris"}

	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	firstCh := c.Run(context.Background(), key, func(ctx context.Context) (any, error) {
		close(firstStarted)
		<-releaseFirst
		// Settles successfully even though it was cancelled; the
		// coordinator must still discard it.
		return "stale", nil
	})
	<-firstStarted

	secondCh := c.Run(context.Background(), key, func(ctx context.Context) (any, error) {
		return "fresh", nil
	})

	second := <-secondCh
	if second.Outcome != OutcomeFulfilled || second.Payload != "fresh" {
		t.Fatalf("second result = %+v, want fulfilled fresh", second)
	}

	// Let the superseded operation finish late.
	close(releaseFirst)
	first := <-firstCh
	if first.Outcome != OutcomeCancelled {
		t.Errorf("first Outcome = %q, want %q", first.Outcome, OutcomeCancelled)
	}
	if first.Err != nil {
		t.Errorf("first Err = %v, want nil (cancellation is not an error)", first.Err)
	}

	// The stale payload never reached the sink.
	for _, e := range sink.snapshot() {
		if e.name == "fulfilled" && e.payload != "fresh" {
			t.Errorf("sink saw stale payload %v", e.payload)
		}
		if e.name == "cancelled" {
			t.Error("sink saw cancelled event for a superseded request")
		}
	}
}

func TestRun_SupersededOperationObservesCancellation(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink, nil)
	key := Key{Kind: KindCurrent, City: "Paris"}

	firstStarted := make(chan struct{})
	firstCh := c.Run(context.Background(), key, func(ctx context.Context) (any, error) {
		close(firstStarted)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-firstStarted

	secondCh := c.Run(context.Background(), key, func(ctx context.Context) (any, error) {
		return "fresh", nil
	})

	first := <-firstCh
	if first.Outcome != OutcomeCancelled {
		t.Errorf("first Outcome = %q, want %q", first.Outcome, OutcomeCancelled)
	}
	second := <-secondCh
	if second.Outcome != OutcomeFulfilled {
		t.Errorf("second Outcome = %q, want %q", second.Outcome, OutcomeFulfilled)
	}
}

func TestRun_DifferentKeysDoNotInterfere(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink, nil)

	parisStarted := make(chan struct{})
	releaseParis := make(chan struct{})
	parisCh := c.Run(context.Background(), Key{Kind: KindCurrent, City: "Paris"}, func(ctx context.Context) (any, error) {
		close(parisStarted)
		select {
		case <-releaseParis:
			return "paris", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	<-parisStarted

	// Same city, different kind: must not cancel the current fetch.
	forecastCh := c.Run(context.Background(), Key{Kind: KindForecast, City: "Paris"}, func(ctx context.Context) (any, error) {
		return "forecast", nil
	})
	// Different city, same kind: must not cancel either.
	londonCh := c.Run(context.Background(), Key{Kind: KindCurrent, City: "London"}, func(ctx context.Context) (any, error) {
		return "london", nil
	})

	if res := <-forecastCh; res.Outcome != OutcomeFulfilled {
		t.Errorf("forecast Outcome = %q, want fulfilled", res.Outcome)
	}
	if res := <-londonCh; res.Outcome != OutcomeFulfilled {
		t.Errorf("london Outcome = %q, want fulfilled", res.Outcome)
	}

	close(releaseParis)
	if res := <-parisCh; res.Outcome != OutcomeFulfilled || res.Payload != "paris" {
		t.Errorf("paris result = %+v, want fulfilled paris", res)
	}
}

func TestRun_CallerAbortIsCancelledNotRejected(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink, nil)
	key := Key{Kind: KindCurrent, City: "Paris"}

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	ch := c.Run(ctx, key, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started
	cancel()

	res := <-ch
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("Outcome = %q, want %q", res.Outcome, OutcomeCancelled)
	}
	if res.Err != nil {
		t.Errorf("Err = %v, want nil", res.Err)
	}

	// A caller abort, unlike a supersession, emits Cancelled so the key's
	// pending status is reset.
	events := sink.snapshot()
	if len(events) != 2 || events[1].name != "cancelled" {
		t.Errorf("events = %+v, want pending then cancelled", events)
	}
	if c.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0", c.InFlight())
	}
}

func TestRun_RapidSupersessionNewestWins(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink, nil)
	key := Key{Kind: KindSearch, City: "Par"}

	const n = 5
	chans := make([]<-chan Result, 0, n)
	for i := 0; i < n; i++ {
		i := i
		chans = append(chans, c.Run(context.Background(), key, func(ctx context.Context) (any, error) {
			// Earlier operations take longer, an inverted race.
			time.Sleep(time.Duration(n-i) * 10 * time.Millisecond)
			return i, nil
		}))
	}

	for i, ch := range chans {
		res := <-ch
		if i == n-1 {
			if res.Outcome != OutcomeFulfilled || res.Payload != n-1 {
				t.Errorf("last result = %+v, want fulfilled %d", res, n-1)
			}
		} else if res.Outcome != OutcomeCancelled {
			t.Errorf("result %d Outcome = %q, want cancelled", i, res.Outcome)
		}
	}

	fulfilled := 0
	for _, e := range sink.snapshot() {
		if e.name == "fulfilled" {
			fulfilled++
			if e.payload != n-1 {
				t.Errorf("sink fulfilled payload = %v, want %d", e.payload, n-1)
			}
		}
	}
	if fulfilled != 1 {
		t.Errorf("fulfilled events = %d, want 1", fulfilled)
	}
}

func TestKey_String(t *testing.T) {
	key := Key{Kind: KindCurrent, City: "New York"}
	if got := key.String(); got != "current:New York" {
		t.Errorf("String() = %q, want %q", got, "current:New York")
	}
}

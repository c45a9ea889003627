package negotiation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-negotiation/internal/models"
)

type capturedOutcome struct {
	mu      sync.Mutex
	records []models.NegotiationOutcome
	done    chan struct{}
}

func (c *capturedOutcome) Publish(_ context.Context, o models.NegotiationOutcome) error {
	c.mu.Lock()
	c.records = append(c.records, o)
	c.mu.Unlock()
	select {
	case c.done <- struct{}{}:
	default:
	}
	return nil
}

type capturedAlerts struct {
	mu     sync.Mutex
	events []string
}

func (c *capturedAlerts) Notify(_ context.Context, event, _ string) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	return nil
}

func TestResolutionPublishesOutcome(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()
	c := NewController(bus, testConfig(time.Second), quietLogger())
	defer c.Close()

	outcomes := &capturedOutcome{done: make(chan struct{}, 1)}
	c.Outcomes = outcomes
	var resolvedID string
	var resolvedOutcome Outcome
	c.OnResolved = func(id string, outcome Outcome) {
		resolvedID = id
		resolvedOutcome = outcome
	}

	s, _ := c.Start(sampleRequest("r1"))
	s.SelectArrivalTime(10)
	s.Confirm(14)
	bus.inject(t, ChannelFareResponse, acceptFor("r1"))

	select {
	case <-outcomes.done:
	case <-time.After(3 * time.Second):
		t.Fatal("outcome never published")
	}
	outcomes.mu.Lock()
	defer outcomes.mu.Unlock()
	if len(outcomes.records) != 1 {
		t.Fatalf("records = %d, want 1", len(outcomes.records))
	}
	rec := outcomes.records[0]
	if rec.RideRequestID != "r1" || rec.Outcome != "accepted" || rec.FareAmount != 14 || rec.ArrivalTime != 10 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if resolvedID != "r1" || resolvedOutcome != OutcomeAccepted {
		t.Fatalf("OnResolved got (%q, %v)", resolvedID, resolvedOutcome)
	}
}

func TestAlertsOnAcceptAndTimeout(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()
	c := NewController(bus, testConfig(25*time.Millisecond), quietLogger())
	defer c.Close()

	alerts := &capturedAlerts{}
	c.Alerts = alerts

	s, _ := c.Start(sampleRequest("r1"))
	s.SelectArrivalTime(10)
	s.Confirm(14)
	bus.inject(t, ChannelFareResponse, acceptFor("r1"))

	s2, _ := c.Start(sampleRequest("r2"))
	s2.SelectArrivalTime(10)
	s2.Confirm(9)
	if outcome := waitOutcome(t, s2); outcome != OutcomeTimedOut {
		t.Fatalf("outcome = %v", outcome)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		alerts.mu.Lock()
		n := len(alerts.events)
		alerts.mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	alerts.mu.Lock()
	defer alerts.mu.Unlock()
	if len(alerts.events) != 2 || alerts.events[0] != "ride matched" || alerts.events[1] != "negotiation timed out" {
		t.Fatalf("alerts = %v", alerts.events)
	}
}

func TestCloseUnregistersHandlers(t *testing.T) {
	bus := newTestBus()
	c := NewController(bus, testConfig(time.Second), quietLogger())

	s, _ := c.Start(sampleRequest("r1"))
	s.SelectArrivalTime(10)
	s.Confirm(9)
	c.Close()

	// The session was cancelled on Close and the subscriptions are gone, so
	// a later response must not reach anything.
	bus.inject(t, ChannelFareResponse, acceptFor("r1"))
	if outcome, _ := s.Outcome(); outcome != OutcomeCancelled {
		t.Fatalf("outcome = %v, want cancelled", outcome)
	}
	bus.Close()
}

func TestDuplicateUICancelSafe(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()
	c := NewController(bus, testConfig(time.Second), quietLogger())
	defer c.Close()

	// Cancel with no active session is a no-op.
	c.Cancel()

	s, _ := c.Start(sampleRequest("r1"))
	s.SelectArrivalTime(10)
	s.Confirm(9)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Cancel()
		}()
	}
	wg.Wait()
	if outcome, _ := s.Outcome(); outcome != OutcomeCancelled {
		t.Fatalf("outcome = %v, want cancelled", outcome)
	}
}

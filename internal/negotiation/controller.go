package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/notify"
	"github.com/example/ride-negotiation/internal/transport"
)

// Bus is the slice of the transport surface the controller uses.
type Bus interface {
	Sender
	Subscribe(channel string, h transport.Handler) *transport.Subscription
}

// OutcomePublisher records resolved negotiations downstream. Publishing is
// best-effort; failures are logged and never surfaced to the session.
type OutcomePublisher interface {
	Publish(ctx context.Context, o models.NegotiationOutcome) error
}

// Controller owns at most one live Session and routes inbound protocol
// messages to it. The single-active-session invariant is enforced with a
// synchronous check on the active pointer, not a state lookup that could
// race an async callback.
type Controller struct {
	bus Bus
	cfg Config
	log *slog.Logger

	// Optional collaborators, set before traffic starts.
	Outcomes OutcomePublisher
	Alerts   notify.Sink

	// OnResolved, when set, observes every terminal outcome. It runs after
	// the active slot is released, so starting a new session from inside the
	// callback is allowed.
	OnResolved func(rideRequestID string, outcome Outcome)

	mu     sync.Mutex
	active *Session

	subs transport.SubscriptionSet
}

func NewController(bus Bus, cfg Config, log *slog.Logger) *Controller {
	cfg.applyDefaults()
	c := &Controller{bus: bus, cfg: cfg, log: log}
	c.subs.Add(bus.Subscribe(ChannelFareResponse, c.onFareResponse))
	c.subs.Add(bus.Subscribe(ChannelFareResponseTimeout, c.onServerTimeout))
	return c
}

// Start opens a negotiation for one ride request. It fails with
// ErrSessionActive while another session is not yet resolved; the second
// request is rejected, never queued.
func (c *Controller) Start(req models.RideRequest) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return nil, ErrSessionActive
	}
	s := newSession(req, c.cfg, c.bus, c.log, c.sessionResolved)
	c.active = s
	return s, nil
}

// Cancel terminates the active session, if any. Safe to call at any time;
// duplicate cancels are no-ops.
func (c *Controller) Cancel() {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}

// Active reports the live session's ride id and state for status display.
func (c *Controller) Active() (rideRequestID string, state string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", "", false
	}
	return c.active.RideRequestID(), c.active.State().String(), true
}

// Close unregisters the controller's subscriptions and cancels any live
// session. Required on screen teardown so handlers do not leak across
// controller instances.
func (c *Controller) Close() {
	c.subs.CancelAll()
	c.Cancel()
}

func (c *Controller) onFareResponse(data json.RawMessage) {
	var resp models.FareResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.log.Debug("dropping malformed fare response", "error", err)
		return
	}
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		c.log.Debug("fare response with no active session", "ride_request_id", resp.RideRequestID)
		return
	}
	s.handleResponse(resp)
}

func (c *Controller) onServerTimeout(data json.RawMessage) {
	var notice models.Cancellation
	if err := json.Unmarshal(data, &notice); err != nil {
		c.log.Debug("dropping malformed timeout notice", "error", err)
		return
	}
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.handleServerTimeout(notice.RideRequestID)
}

// sessionResolved releases the active slot and reports the outcome. The slot
// is freed before any downstream effect so a new session can start from the
// resolution callback path.
func (c *Controller) sessionResolved(s *Session, outcome Outcome) {
	c.mu.Lock()
	if c.active == s {
		c.active = nil
	}
	c.mu.Unlock()

	record := models.NegotiationOutcome{
		RideRequestID: s.req.ID,
		DriverID:      c.cfg.DriverID,
		Outcome:       string(outcome),
		FareAmount:    s.fare,
		ArrivalTime:   s.arrival,
		ResolvedAt:    time.Now(),
	}
	if c.Outcomes != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := c.Outcomes.Publish(ctx, record); err != nil {
				c.log.Warn("outcome publish failed", "ride_request_id", record.RideRequestID, "error", err)
			}
		}()
	}
	if c.OnResolved != nil {
		c.OnResolved(s.req.ID, outcome)
	}
	if c.Alerts != nil {
		switch outcome {
		case OutcomeAccepted:
			c.alert("ride matched", fmt.Sprintf("offer of %.2f accepted for request %s", s.fare, s.req.ID))
		case OutcomeTimedOut:
			c.alert("negotiation timed out", fmt.Sprintf("no response for request %s", s.req.ID))
		}
	}
}

func (c *Controller) alert(event, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Alerts.Notify(ctx, event, message); err != nil {
		c.log.Warn("notification failed", "event", event, "error", err)
	}
}

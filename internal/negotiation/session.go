// Package negotiation drives one ride request through the arrival-time →
// fare-offer → response-or-timeout sequence and guarantees a single,
// idempotent resolution regardless of which completion source fires first.
package negotiation

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/observability"
)

// Protocol channels used by the negotiation layer.
const (
	ChannelFareOffer           = "fare_offer"
	ChannelFareResponse        = "fare_response"
	ChannelFareResponseTimeout = "fare_response_timeout"
)

var (
	ErrSessionActive  = errors.New("another negotiation session is active")
	ErrInvalidArrival = errors.New("arrival time is not a selectable option")
	ErrInvalidAmount  = errors.New("fare amount must be greater than zero")
	ErrBadState       = errors.New("operation not valid in current session state")
)

// State of one session. The machine is
// Idle → SelectingArrival → AwaitingResponse → Resolved.
type State int

const (
	StateIdle State = iota
	StateSelectingArrival
	StateAwaitingResponse
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateSelectingArrival:
		return "selecting_arrival"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateResolved:
		return "resolved"
	default:
		return "idle"
	}
}

// Outcome is the single terminal result of a session.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDeclined  Outcome = "declined"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCancelled Outcome = "cancelled"
)

// Sender is the slice of the transport the session needs.
type Sender interface {
	Send(channel string, payload any)
}

// Config carries the responder identity attached to outgoing offers and the
// negotiation tunables.
type Config struct {
	DriverID     string
	DriverName   string
	DriverRating float64
	VehicleInfo  string

	ResponseTimeout time.Duration // Tresp, default 15s
	ArrivalOptions  []int         // minutes, default 5/10/15/20
}

func (c *Config) applyDefaults() {
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = 15 * time.Second
	}
	if len(c.ArrivalOptions) == 0 {
		c.ArrivalOptions = []int{5, 10, 15, 20}
	}
}

// Session is the state machine for one ride request's offer/response cycle.
// All completion sources (counter-party response, local deadline, server
// timeout notice, user cancel) funnel into resolve, which is guarded by a
// one-shot settled flag: timer cancellation is best-effort and is never the
// idempotence mechanism.
type Session struct {
	req    models.RideRequest // reference to the feed's entry, read-only here
	cfg    Config
	sender Sender
	log    *slog.Logger

	mu       sync.Mutex
	state    State
	settled  bool
	arrival  int
	fare     float64
	outcome  Outcome
	deadline time.Time
	timer    *time.Timer
	stopTick chan struct{}

	onResolved func(*Session, Outcome)
	onTick     func(remainingSeconds int)
}

func newSession(req models.RideRequest, cfg Config, sender Sender, log *slog.Logger, onResolved func(*Session, Outcome)) *Session {
	cfg.applyDefaults()
	return &Session{
		req:        req,
		cfg:        cfg,
		sender:     sender,
		log:        log,
		state:      StateIdle,
		onResolved: onResolved,
	}
}

// RideRequestID identifies the request under negotiation.
func (s *Session) RideRequestID() string { return s.req.ID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome, s.settled
}

// OnCountdown registers an observer for the 1-second-resolution countdown.
// The displayed value is derived from the session's single deadline, not
// from a second timer, so display and expiry cannot drift.
func (s *Session) OnCountdown(fn func(remainingSeconds int)) {
	s.mu.Lock()
	s.onTick = fn
	s.mu.Unlock()
}

// SelectArrivalTime records the promised arrival and moves the session to
// SelectingArrival. The value must be one of the configured options.
func (s *Session) SelectArrivalTime(minutes int) error {
	if !s.validArrival(minutes) {
		return ErrInvalidArrival
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return ErrBadState
	}
	s.arrival = minutes
	s.state = StateSelectingArrival
	return nil
}

func (s *Session) validArrival(minutes int) bool {
	for _, opt := range s.cfg.ArrivalOptions {
		if opt == minutes {
			return true
		}
	}
	return false
}

// Confirm attaches the fare amount, sends exactly one FareOffer and arms the
// response window. Accepting the asking price and countering with a
// different price both land here; they differ only in the amount.
func (s *Session) Confirm(fareAmount float64) error {
	if fareAmount <= 0 || math.IsNaN(fareAmount) || math.IsInf(fareAmount, 0) {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	if s.state != StateSelectingArrival {
		s.mu.Unlock()
		return ErrBadState
	}
	s.fare = fareAmount
	s.state = StateAwaitingResponse
	s.deadline = time.Now().Add(s.cfg.ResponseTimeout)
	s.timer = time.AfterFunc(s.cfg.ResponseTimeout, func() {
		s.resolve(OutcomeTimedOut)
	})
	s.stopTick = make(chan struct{})
	offer := models.FareOffer{
		RideRequestID: s.req.ID,
		DriverID:      s.cfg.DriverID,
		DriverName:    s.cfg.DriverName,
		DriverRating:  s.cfg.DriverRating,
		FareAmount:    fareAmount,
		ArrivalTime:   s.arrival,
		VehicleInfo:   s.cfg.VehicleInfo,
	}
	tick := s.onTick
	stop := s.stopTick
	s.mu.Unlock()

	s.sender.Send(ChannelFareOffer, offer)
	observability.OffersSent.Inc()
	s.log.Info("fare offer sent",
		"ride_request_id", s.req.ID, "amount", fareAmount, "arrival_minutes", s.arrival)

	if tick != nil {
		go s.countdown(stop, tick)
	}
	return nil
}

// Remaining reports the time left in the negotiation window; zero once the
// deadline has passed or before an offer is outstanding.
func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	deadline := s.deadline
	awaiting := s.state == StateAwaitingResponse
	s.mu.Unlock()
	if !awaiting {
		return 0
	}
	if d := time.Until(deadline); d > 0 {
		return d
	}
	return 0
}

func (s *Session) countdown(stop chan struct{}, tick func(int)) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.mu.Lock()
			remaining := int(math.Ceil(time.Until(s.deadline).Seconds()))
			s.mu.Unlock()
			if remaining < 0 {
				remaining = 0
			}
			tick(remaining)
			if remaining == 0 {
				return
			}
		}
	}
}

// handleResponse applies the counter-party's verdict. A response arriving
// after the session already settled is a no-op.
func (s *Session) handleResponse(resp models.FareResponse) {
	if resp.RideRequestID != s.req.ID {
		return
	}
	switch resp.Action {
	case models.ActionAccept:
		s.resolve(OutcomeAccepted)
	case models.ActionDecline:
		s.resolve(OutcomeDeclined)
	default:
		s.log.Debug("dropping fare response with unknown action",
			"ride_request_id", resp.RideRequestID, "action", resp.Action)
	}
}

// handleServerTimeout applies the server-observed expiry notice. The local
// deadline is authoritative; after local resolution this is a no-op.
func (s *Session) handleServerTimeout(rideRequestID string) {
	if rideRequestID != s.req.ID {
		return
	}
	s.resolve(OutcomeTimedOut)
}

// Cancel resolves the session as cancelled. Idempotent: duplicate cancels
// and cancels racing other completion signals are no-ops. The protocol has
// no offer retraction, so an in-flight offer is not withdrawn; the requester
// side times it out on its own.
func (s *Session) Cancel() {
	s.resolve(OutcomeCancelled)
}

// resolve is the single exit: the settled flag is checked and set before any
// side effect, the terminal state is recorded and timers are cleared before
// any user code can re-enter.
func (s *Session) resolve(outcome Outcome) {
	s.mu.Lock()
	if s.settled {
		s.mu.Unlock()
		return
	}
	s.settled = true
	s.outcome = outcome
	s.state = StateResolved
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.stopTick != nil {
		close(s.stopTick)
		s.stopTick = nil
	}
	cb := s.onResolved
	s.mu.Unlock()

	observability.SessionsResolved.WithLabelValues(string(outcome)).Inc()
	s.log.Info("negotiation resolved", "ride_request_id", s.req.ID, "outcome", outcome)
	if cb != nil {
		cb(s, outcome)
	}
}

// Package feed maintains the single visible list of open ride requests by
// reconciling two sources: push-delivered creation/cancellation events and a
// periodic full-list pull. The pull is the eventual-consistency backstop for
// push events lost to a reconnect gap.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/observability"
	"github.com/example/ride-negotiation/internal/transport"
)

// Push channels feeding the reconciler. The two cancellation names are
// accepted as synonyms; servers differ on which they emit.
const (
	ChannelRideRequest          = "ride_request"
	ChannelRideRequestCancelled = "ride_request_cancelled"
	ChannelRideCancelled        = "ride_cancelled"
)

// Defaults substituted for absent optional fields in push payloads.
const (
	UnknownPickup      = "Unknown location"
	UnknownDestination = "Unknown destination"
)

// Puller is the pull side of reconciliation, backed by the request-store API.
type Puller interface {
	ListOpen(ctx context.Context) ([]models.RideRequest, error)
}

// Subscriber is the slice of the transport the reconciler uses.
type Subscriber interface {
	Subscribe(channel string, h transport.Handler) *transport.Subscription
}

// Reconciler owns the de-duplicated, newest-first list of open requests.
// It is per-screen: Close unregisters every handler it registered.
type Reconciler struct {
	puller   Puller
	log      *slog.Logger
	interval time.Duration

	mu       sync.Mutex
	list     []models.RideRequest
	online   bool
	stopPull chan struct{}

	// OnChange, when set, receives a copy of the list after every mutation.
	OnChange func([]models.RideRequest)

	subs transport.SubscriptionSet
}

func NewReconciler(bus Subscriber, puller Puller, interval time.Duration, log *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	r := &Reconciler{puller: puller, log: log, interval: interval}
	r.subs.Add(bus.Subscribe(ChannelRideRequest, r.handleNew))
	r.subs.Add(bus.Subscribe(ChannelRideRequestCancelled, r.handleCancelled))
	r.subs.Add(bus.Subscribe(ChannelRideCancelled, r.handleCancelled))
	return r
}

// Snapshot returns a copy of the current visible list, newest-first for
// push-originated entries, server order after a pull.
func (r *Reconciler) Snapshot() []models.RideRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.RideRequest, len(r.list))
	copy(out, r.list)
	return out
}

func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.list)
}

// SetOnline switches reconciliation on or off. Going online triggers one
// immediate pull instead of waiting for the first tick; going offline clears
// the list so no stale entries are displayed, and suspends the pull loop.
func (r *Reconciler) SetOnline(online bool) {
	r.mu.Lock()
	if r.online == online {
		r.mu.Unlock()
		return
	}
	r.online = online
	if online {
		stop := make(chan struct{})
		r.stopPull = stop
		r.mu.Unlock()
		go r.pullLoop(stop)
		return
	}
	if r.stopPull != nil {
		close(r.stopPull)
		r.stopPull = nil
	}
	r.list = nil
	changed := r.changeCallback()
	r.mu.Unlock()
	observability.FeedSize.Set(0)
	if changed != nil {
		changed(nil)
	}
}

// Close tears the reconciler down: push subscriptions are unregistered and
// the pull loop stops.
func (r *Reconciler) Close() {
	r.subs.CancelAll()
	r.SetOnline(false)
}

func (r *Reconciler) pullLoop(stop chan struct{}) {
	r.refresh()
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			r.refresh()
		}
	}
}

// refresh replaces the list with the server snapshot, de-duplicating by id
// (first occurrence wins) and preserving server order. A failed pull keeps
// the current list; the next tick retries.
func (r *Reconciler) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()
	snapshot, err := r.puller.ListOpen(ctx)
	if err != nil {
		r.log.Warn("feed pull failed", "error", err)
		return
	}

	seen := make(map[string]struct{}, len(snapshot))
	next := make([]models.RideRequest, 0, len(snapshot))
	for _, req := range snapshot {
		normalize(&req)
		if req.ID == "" {
			continue
		}
		if _, dup := seen[req.ID]; dup {
			continue
		}
		seen[req.ID] = struct{}{}
		next = append(next, req)
	}

	r.mu.Lock()
	if !r.online {
		r.mu.Unlock()
		return
	}
	r.list = next
	size := len(next)
	changed := r.changeCallback()
	r.mu.Unlock()

	observability.FeedSize.Set(float64(size))
	if changed != nil {
		changed(next)
	}
}

// handleNew prepends a pushed request unless its id is already visible; a
// duplicate push is ignored and left to the next pull to reconcile.
func (r *Reconciler) handleNew(data json.RawMessage) {
	var req models.RideRequest
	if err := json.Unmarshal(data, &req); err != nil {
		r.log.Debug("dropping malformed ride request event", "error", err)
		return
	}
	normalize(&req)
	if req.ID == "" {
		r.log.Debug("dropping ride request event without id")
		return
	}

	r.mu.Lock()
	for _, existing := range r.list {
		if existing.ID == req.ID {
			r.mu.Unlock()
			return
		}
	}
	r.list = append([]models.RideRequest{req}, r.list...)
	size := len(r.list)
	changed := r.changeCallback()
	snap := append([]models.RideRequest(nil), r.list...)
	r.mu.Unlock()

	observability.FeedSize.Set(float64(size))
	if changed != nil {
		changed(snap)
	}
}

// handleCancelled removes the request silently: a cancellation is not an
// error condition for the observer, and an unknown id is a no-op.
func (r *Reconciler) handleCancelled(data json.RawMessage) {
	var c models.Cancellation
	if err := json.Unmarshal(data, &c); err != nil || c.RideRequestID == "" {
		r.log.Debug("dropping malformed cancellation event", "error", err)
		return
	}
	r.Remove(c.RideRequestID)
}

// Remove drops one request from the visible set. Also used directly when a
// negotiation concludes with a match.
func (r *Reconciler) Remove(id string) {
	r.mu.Lock()
	removed := false
	for i, existing := range r.list {
		if existing.ID == id {
			r.list = append(r.list[:i:i], r.list[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		r.mu.Unlock()
		return
	}
	size := len(r.list)
	changed := r.changeCallback()
	snap := append([]models.RideRequest(nil), r.list...)
	r.mu.Unlock()

	observability.FeedSize.Set(float64(size))
	if changed != nil {
		changed(snap)
	}
}

func (r *Reconciler) changeCallback() func([]models.RideRequest) {
	return r.OnChange
}

// normalize applies the documented defaults for absent optional fields.
func normalize(req *models.RideRequest) {
	if req.PickupAddress == "" {
		req.PickupAddress = UnknownPickup
	}
	if req.DestAddress == "" {
		req.DestAddress = UnknownDestination
	}
	if req.Status == "" {
		req.Status = models.StatusPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
}

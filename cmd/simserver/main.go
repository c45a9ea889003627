// simserver is a local stand-in for the matching server: it speaks the same
// websocket frame protocol as the agent, pushes synthetic ride requests,
// answers fare offers and serves the request-store pull API. Useful for
// running the agent end to end without real infrastructure.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-negotiation/internal/models"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	authed  bool
	id      string
}

func (c *client) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame{Event: event, Data: data})
}

type simulator struct {
	log        *slog.Logger
	respond    string // accept, decline, ignore, alternate
	offerDelay time.Duration

	mu       sync.Mutex
	clients  map[*client]struct{}
	open     []models.RideRequest
	seq      int
	accepted bool // alternate mode flip-flop
}

func main() {
	var (
		addr         string
		pushInterval time.Duration
		respond      string
		offerDelay   time.Duration
	)
	flag.StringVar(&addr, "addr", ":8090", "listen address")
	flag.DurationVar(&pushInterval, "push-interval", 8*time.Second, "interval between synthetic ride requests")
	flag.StringVar(&respond, "respond", "alternate", "fare offer response mode: accept, decline, ignore, alternate")
	flag.DurationVar(&offerDelay, "offer-delay", 2*time.Second, "delay before answering a fare offer")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	sim := &simulator{log: log, respond: respond, offerDelay: offerDelay, clients: make(map[*client]struct{})}

	r := mux.NewRouter()
	r.HandleFunc("/ws", sim.handleWS)
	r.HandleFunc("/api/v1/requests/open", sim.handleListOpen).Methods("GET")
	r.HandleFunc("/api/v1/requests/{id}/offer", sim.handleOfferMirror).Methods("POST")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")

	go sim.generate(pushInterval)

	log.Info("simserver listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

var upgrader = websocket.Upgrader{}

func (s *simulator) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", 400)
		return
	}
	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	go s.readLoop(c)
}

func (s *simulator) readLoop(c *client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		c.conn.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			s.log.Info("client gone", "id", c.id, "error", err)
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Event {
		case "authenticate":
			var hs models.AuthHandshake
			if err := json.Unmarshal(f.Data, &hs); err != nil {
				continue
			}
			c.authed = true
			c.id = hs.ID
			s.log.Info("client authenticated", "id", hs.ID, "role", hs.Role)
		case "fare_offer":
			var offer models.FareOffer
			if err := json.Unmarshal(f.Data, &offer); err != nil {
				continue
			}
			s.log.Info("fare offer received", "ride_request_id", offer.RideRequestID, "amount", offer.FareAmount)
			go s.answer(c, offer)
		default:
			s.log.Debug("unhandled event", "event", f.Event)
		}
	}
}

// answer replies to a fare offer after the configured delay, or stays silent
// in ignore mode so the client's negotiation window expires.
func (s *simulator) answer(c *client, offer models.FareOffer) {
	action := models.ActionAccept
	switch s.respond {
	case "ignore":
		return
	case "decline":
		action = models.ActionDecline
	case "alternate":
		s.mu.Lock()
		s.accepted = !s.accepted
		if !s.accepted {
			action = models.ActionDecline
		}
		s.mu.Unlock()
	}
	time.Sleep(s.offerDelay)

	resp := models.FareResponse{
		RideRequestID: offer.RideRequestID,
		RiderID:       "rider-" + offer.RideRequestID,
		Action:        action,
		Timestamp:     time.Now(),
	}
	if err := c.send("fare_response", resp); err != nil {
		s.log.Warn("response send failed", "error", err)
		return
	}
	if action == models.ActionAccept {
		s.removeRequest(offer.RideRequestID)
	}
}

// generate pushes a synthetic request per tick and cancels an old one every
// third tick so clients exercise the removal path.
func (s *simulator) generate(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for range t.C {
		s.mu.Lock()
		s.seq++
		req := models.RideRequest{
			ID:                newID(),
			PickupAddress:     "12 Main St",
			PickupLocation:    models.Coord{Lat: 40.7128, Lon: -74.0060},
			DestAddress:       "88 Ocean Ave",
			DestLocation:      models.Coord{Lat: 40.7306, Lon: -73.9866},
			AskingPrice:       8 + float64(s.seq%7),
			EstimatedFare:     10 + float64(s.seq%5),
			EstimatedDuration: 12,
			EstimatedDistance: 4.2,
			Status:            models.StatusPending,
			CreatedAt:         time.Now(),
		}
		s.open = append(s.open, req)
		var cancelled string
		if s.seq%3 == 0 && len(s.open) > 1 {
			cancelled = s.open[0].ID
			s.open = s.open[1:]
		}
		s.mu.Unlock()

		s.broadcast("ride_request", req)
		if cancelled != "" {
			s.broadcast("ride_request_cancelled", models.Cancellation{RideRequestID: cancelled})
		}
	}
}

func (s *simulator) broadcast(event string, payload any) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		if c.authed {
			clients = append(clients, c)
		}
	}
	s.mu.Unlock()
	for _, c := range clients {
		if err := c.send(event, payload); err != nil {
			s.log.Warn("broadcast failed", "id", c.id, "error", err)
		}
	}
}

func (s *simulator) removeRequest(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, req := range s.open {
		if req.ID == id {
			s.open = append(s.open[:i], s.open[i+1:]...)
			return
		}
	}
}

func (s *simulator) handleListOpen(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	snapshot := make([]models.RideRequest, len(s.open))
	copy(snapshot, s.open)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"requests": snapshot})
}

func (s *simulator) handleOfferMirror(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var offer models.FareOffer
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	s.log.Info("offer mirrored", "ride_request_id", id, "amount", offer.FareAmount)
	w.WriteHeader(204)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }

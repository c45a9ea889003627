package auth

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// authServer records every authenticate frame it receives. acceptDelay
// keeps the client in Connecting long enough to exercise the pending path.
type authServer struct {
	url string

	mu       sync.Mutex
	received []models.AuthHandshake
}

func newAuthServer(t *testing.T, acceptDelay time.Duration) *authServer {
	t.Helper()
	s := &authServer{}
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if acceptDelay > 0 {
			time.Sleep(acceptDelay)
		}
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			var f wireFrame
			if json.Unmarshal(data, &f) != nil || f.Event != ChannelAuthenticate {
				continue
			}
			var hs models.AuthHandshake
			if json.Unmarshal(f.Data, &hs) != nil {
				continue
			}
			s.mu.Lock()
			s.received = append(s.received, hs)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(srv.Close)
	s.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return s
}

func (s *authServer) handshakes() []models.AuthHandshake {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuthHandshake, len(s.received))
	copy(out, s.received)
	return out
}

func (s *authServer) waitCount(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(s.handshakes()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d handshakes, have %d", n, len(s.handshakes()))
}

func TestPendingAuthLastWriterWinsSentOnce(t *testing.T) {
	srv := newAuthServer(t, 80*time.Millisecond)
	conn := transport.New(srv.url, transport.Options{Logger: quietLogger()})
	defer conn.Close()
	gate := NewGate(conn, quietLogger())
	defer gate.Close()

	conn.Connect()
	// Still Connecting because of the accept delay: both calls land in the
	// pending slot and only the newer one survives.
	gate.Authenticate("driver-old", "driver")
	gate.Authenticate("driver-new", "driver")

	srv.waitCount(t, 1)
	time.Sleep(100 * time.Millisecond) // give a duplicate a chance to show up
	got := srv.handshakes()
	if len(got) != 1 {
		t.Fatalf("handshakes = %d, want exactly 1", len(got))
	}
	if got[0].ID != "driver-new" {
		t.Fatalf("handshake id = %q, want driver-new (last writer wins)", got[0].ID)
	}
}

func TestAuthenticateWhileConnectedSendsImmediately(t *testing.T) {
	srv := newAuthServer(t, 0)
	conn := transport.New(srv.url, transport.Options{Logger: quietLogger()})
	defer conn.Close()
	gate := NewGate(conn, quietLogger())
	defer gate.Close()

	connected := make(chan struct{})
	conn.Subscribe(transport.ChannelConnected, func(json.RawMessage) { close(connected) })
	conn.Connect()
	select {
	case <-connected:
	case <-time.After(3 * time.Second):
		t.Fatal("never connected")
	}

	gate.Authenticate("driver-1", "driver")
	srv.waitCount(t, 1)
	if got := srv.handshakes(); got[0].ID != "driver-1" || got[0].Role != "driver" {
		t.Fatalf("unexpected handshake %+v", got[0])
	}
}

func TestAuthenticateWithoutAttemptInFlightIsDropped(t *testing.T) {
	srv := newAuthServer(t, 0)
	conn := transport.New(srv.url, transport.Options{Logger: quietLogger()})
	defer conn.Close()
	gate := NewGate(conn, quietLogger())
	defer gate.Close()

	// Disconnected, nothing in flight: the call must be ignored, not queued.
	gate.Authenticate("driver-1", "driver")

	connected := make(chan struct{})
	conn.Subscribe(transport.ChannelConnected, func(json.RawMessage) { close(connected) })
	conn.Connect()
	select {
	case <-connected:
	case <-time.After(3 * time.Second):
		t.Fatal("never connected")
	}

	time.Sleep(100 * time.Millisecond)
	if got := srv.handshakes(); len(got) != 0 {
		t.Fatalf("handshakes = %d, want 0 (dropped call must not replay)", len(got))
	}
}

func TestPendingClearedAfterFlush(t *testing.T) {
	srv := newAuthServer(t, 50*time.Millisecond)
	conn := transport.New(srv.url, transport.Options{Logger: quietLogger(), BaseDelay: 10 * time.Millisecond})
	defer conn.Close()
	gate := NewGate(conn, quietLogger())
	defer gate.Close()

	conn.Connect()
	gate.Authenticate("driver-1", "driver")
	srv.waitCount(t, 1)

	// Force a fresh connection; the consumed pending value must not be
	// replayed on the second connect.
	conn.Reconnect()
	time.Sleep(300 * time.Millisecond)
	if got := srv.handshakes(); len(got) != 1 {
		t.Fatalf("handshakes = %d after reconnect, want 1", len(got))
	}
}

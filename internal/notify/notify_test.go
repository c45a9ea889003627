package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLogSink(t *testing.T) {
	s := &LogSink{Log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if err := s.Notify(context.Background(), "ride matched", "offer accepted"); err != nil {
		t.Fatalf("notify: %v", err)
	}
}

func TestWebhookSinkPostsJSON(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(204)
	}))
	defer srv.Close()

	s := NewWebhookSink(srv.URL)
	if err := s.Notify(context.Background(), "negotiation timed out", "no response"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got["event"] != "negotiation timed out" || got["message"] != "no response" {
		t.Fatalf("payload = %v", got)
	}
}

package requeststore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/ride-negotiation/internal/models"
)

func TestListOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/requests/open" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"requests": []models.RideRequest{
			{ID: "a", AskingPrice: 7},
			{ID: "b", AskingPrice: 9},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.ListOpen(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].AskingPrice != 9 {
		t.Fatalf("unexpected list %+v", got)
	}
}

func TestListOpenBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", 500)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.ListOpen(context.Background()); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestSubmitOffer(t *testing.T) {
	var got models.FareOffer
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/requests/r1/offer" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(204)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	offer := models.FareOffer{RideRequestID: "r1", DriverID: "d1", FareAmount: 12, ArrivalTime: 10}
	if err := c.SubmitOffer(context.Background(), offer); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.FareAmount != 12 || got.DriverID != "d1" {
		t.Fatalf("server saw %+v", got)
	}
}

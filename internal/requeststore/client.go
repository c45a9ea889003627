// Package requeststore is the HTTP client for the external request-store
// API: the full-list pull the feed reconciles against, plus the offer
// mutation mirror used for the store's bookkeeping.
package requeststore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-negotiation/internal/models"
)

type Client struct {
	Endpoint string
	Client   *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{Endpoint: endpoint, Client: &http.Client{Timeout: 4 * time.Second}}
}

// ListOpen fetches the current snapshot of open ride requests.
func (c *Client) ListOpen(ctx context.Context) ([]models.RideRequest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"/api/v1/requests/open", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request store: unexpected status %d", resp.StatusCode)
	}
	var out struct {
		Requests []models.RideRequest `json:"requests"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

// SubmitOffer mirrors a sent fare offer into the store. Best-effort; the
// websocket frame is the authoritative protocol message.
func (c *Client) SubmitOffer(ctx context.Context, offer models.FareOffer) error {
	b, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.Endpoint+"/api/v1/requests/"+offer.RideRequestID+"/offer", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("request store: unexpected status %d", resp.StatusCode)
	}
	return nil
}

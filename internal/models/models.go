package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RequestStatus tracks where an open request sits in the offer cycle.
type RequestStatus string

const (
	StatusPending        RequestStatus = "pending"
	StatusCounterOffered RequestStatus = "counter_offered"
	StatusFareOffered    RequestStatus = "fare_offered"
	StatusAccepted       RequestStatus = "accepted"
	StatusCancelled      RequestStatus = "cancelled"
)

// RideRequest is one open request for transport as seen by a responder.
type RideRequest struct {
	ID                string        `json:"id"`
	PickupAddress     string        `json:"pickup_address"`
	PickupLocation    Coord         `json:"pickup_location"`
	DestAddress       string        `json:"destination_address"`
	DestLocation      Coord         `json:"destination_location"`
	AskingPrice       float64       `json:"asking_price"`
	EstimatedFare     float64       `json:"estimated_fare"`
	EstimatedDuration float64       `json:"estimated_duration"` // minutes
	EstimatedDistance float64       `json:"estimated_distance"` // km
	Status            RequestStatus `json:"status"`
	CreatedAt         time.Time     `json:"created_at"`
}

// FareOffer is the responder's proposal for one ride request.
type FareOffer struct {
	RideRequestID string  `json:"rideRequestId"`
	DriverID      string  `json:"driverId"`
	DriverName    string  `json:"driverName"`
	DriverRating  float64 `json:"driverRating"`
	FareAmount    float64 `json:"fareAmount"`
	ArrivalTime   int     `json:"arrivalTime"` // minutes
	VehicleInfo   string  `json:"vehicleInfo"`
}

// ResponseAction is the requester's verdict on a FareOffer.
type ResponseAction string

const (
	ActionAccept  ResponseAction = "accept"
	ActionDecline ResponseAction = "decline"
)

// FareResponse is the requester's reply to an outstanding offer.
type FareResponse struct {
	RideRequestID string         `json:"rideRequestId"`
	RiderID       string         `json:"riderId"`
	Action        ResponseAction `json:"action"`
	Timestamp     time.Time      `json:"timestamp"`
}

// AuthHandshake binds the connection to a caller identity.
type AuthHandshake struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Cancellation is the payload of ride_request_cancelled / ride_cancelled.
type Cancellation struct {
	RideRequestID string `json:"rideRequestId"`
}

// NegotiationOutcome is the record published for every resolved session.
type NegotiationOutcome struct {
	RideRequestID string    `json:"ride_request_id"`
	DriverID      string    `json:"driver_id"`
	Outcome       string    `json:"outcome"` // accepted, declined, timed_out, cancelled
	FareAmount    float64   `json:"fare_amount"`
	ArrivalTime   int       `json:"arrival_time"`
	ResolvedAt    time.Time `json:"resolved_at"`
}

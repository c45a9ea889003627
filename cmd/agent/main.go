package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ride-negotiation/internal/auth"
	"github.com/example/ride-negotiation/internal/config"
	"github.com/example/ride-negotiation/internal/feed"
	"github.com/example/ride-negotiation/internal/geo"
	"github.com/example/ride-negotiation/internal/identity"
	"github.com/example/ride-negotiation/internal/ingest"
	"github.com/example/ride-negotiation/internal/logging"
	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/negotiation"
	"github.com/example/ride-negotiation/internal/notify"
	"github.com/example/ride-negotiation/internal/ops"
	"github.com/example/ride-negotiation/internal/requeststore"
	"github.com/example/ride-negotiation/internal/transport"
)

func main() {
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ids := identity.NewEnvStore()
	driverID, driverRole, err := ids.Identity()
	if err != nil {
		logger.Error("no driver identity", "error", err)
		os.Exit(1)
	}

	conn := transport.New(cfg.ServerURL, transport.Options{
		BaseDelay:   cfg.ReconnectBase,
		MaxAttempts: cfg.ReconnectAttempts,
		Logger:      logging.Component(logger, "transport"),
	})
	gate := auth.NewGate(conn, logging.Component(logger, "auth"))
	defer gate.Close()

	store := requeststore.NewClient(cfg.RequestStoreURL)
	reconciler := feed.NewReconciler(conn, store, cfg.PullInterval, logging.Component(logger, "feed"))
	defer reconciler.Close()

	bus := &mirroringBus{Conn: conn, store: store, log: logging.Component(logger, "requeststore")}
	controller := negotiation.NewController(bus, negotiation.Config{
		DriverID:        driverID,
		DriverName:      cfg.DriverName,
		DriverRating:    cfg.DriverRating,
		VehicleInfo:     cfg.VehicleInfo,
		ResponseTimeout: cfg.ResponseTimeout,
		ArrivalOptions:  cfg.ArrivalOptions,
	}, logging.Component(logger, "negotiation"))
	defer controller.Close()

	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewOutcomeProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		controller.Outcomes = producer
	}
	if cfg.NotifyWebhook != "" {
		controller.Alerts = notify.NewWebhookSink(cfg.NotifyWebhook)
	} else {
		controller.Alerts = &notify.LogSink{Log: logging.Component(logger, "notify")}
	}
	controller.OnResolved = func(rideRequestID string, outcome negotiation.Outcome) {
		if outcome == negotiation.OutcomeAccepted {
			reconciler.Remove(rideRequestID)
		}
	}

	opsServer := ops.NewServer(conn, controller, reconciler, logging.Component(logger, "ops"))
	if cfg.RedisAddr != "" {
		locator := geo.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, driverID)
		defer locator.Close()
		opsServer.Locator = locator
	}
	go func() {
		logger.Info("ops server listening", "addr", cfg.OpsAddr)
		if err := http.ListenAndServe(cfg.OpsAddr, opsServer); err != nil {
			logger.Error("ops server stopped", "error", err)
		}
	}()

	// Re-issue the handshake on every (re)connect; the gate sends it
	// immediately since dispatch happens after the state flips to connected.
	authSub := conn.Subscribe(transport.ChannelConnected, func(json.RawMessage) {
		gate.Authenticate(driverID, driverRole)
	})
	defer authSub.Cancel()

	lostSub := conn.Subscribe(transport.ChannelDisconnected, func(json.RawMessage) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := controller.Alerts.Notify(ctx, "connection lost", "reconnecting to matching server"); err != nil {
			logger.Warn("notification failed", "event", "connection lost", "error", err)
		}
	})
	defer lostSub.Cancel()

	if cfg.AutoAccept {
		wireAutoAccept(conn, controller, logger)
	}

	// Authenticate before connecting on purpose: the gate holds the
	// handshake and replays it once the connection opens.
	gate.Authenticate(driverID, driverRole)
	reconciler.SetOnline(true)
	conn.Connect()
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")
	reconciler.SetOnline(false)
}

// mirroringBus mirrors every sent fare offer into the request store so its
// bookkeeping tracks offer activity. The websocket frame stays authoritative;
// a failed mirror is logged and forgotten.
type mirroringBus struct {
	*transport.Conn
	store *requeststore.Client
	log   *slog.Logger
}

func (b *mirroringBus) Send(channel string, payload any) {
	b.Conn.Send(channel, payload)
	offer, ok := payload.(models.FareOffer)
	if channel != negotiation.ChannelFareOffer || !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := b.store.SubmitOffer(ctx, offer); err != nil {
			b.log.Warn("offer mirror failed", "ride_request_id", offer.RideRequestID, "error", err)
		}
	}()
}

// wireAutoAccept is the headless demo flow against the simulator: offer the
// asking price with the earliest arrival option on every pushed request.
func wireAutoAccept(conn *transport.Conn, controller *negotiation.Controller, logger *slog.Logger) {
	conn.Subscribe(feed.ChannelRideRequest, func(data json.RawMessage) {
		var req models.RideRequest
		if err := json.Unmarshal(data, &req); err != nil || req.ID == "" {
			return
		}
		session, err := controller.Start(req)
		if err != nil {
			logger.Debug("skipping request", "ride_request_id", req.ID, "error", err)
			return
		}
		arrival := 5
		if err := session.SelectArrivalTime(arrival); err != nil {
			logger.Warn("arrival selection failed", "error", err)
			session.Cancel()
			return
		}
		if err := session.Confirm(req.AskingPrice); err != nil {
			logger.Warn("offer failed", "ride_request_id", req.ID, "error", err)
			session.Cancel()
		}
	})
}

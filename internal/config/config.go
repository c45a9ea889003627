package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AgentConfig captures all tunable parameters for the negotiation agent.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally against the simulator without excessive setup.
type AgentConfig struct {
	ServerURL       string // websocket endpoint of the matching server
	RequestStoreURL string // HTTP endpoint of the request-store API
	OpsAddr         string // ops HTTP listener (healthz/metrics/status)

	DriverID     string
	DriverRole   string
	DriverName   string
	DriverRating float64
	VehicleInfo  string

	ResponseTimeout time.Duration // negotiation window per sent offer
	ArrivalOptions  []int         // selectable arrival times, minutes
	PullInterval    time.Duration // feed reconciliation pull period

	ReconnectBase     time.Duration
	ReconnectAttempts int

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	NotifyWebhook string

	// AutoAccept drives the headless demo flow: offer the asking price on
	// every new request as soon as no session is active.
	AutoAccept bool

	LogLevel string
}

func defaultAgentConfig() AgentConfig {
	return AgentConfig{
		ServerURL:         "ws://localhost:8090/ws",
		RequestStoreURL:   "http://localhost:8090",
		OpsAddr:           ":8081",
		DriverRole:        "driver",
		DriverRating:      5.0,
		ResponseTimeout:   15 * time.Second,
		ArrivalOptions:    []int{5, 10, 15, 20},
		PullInterval:      5 * time.Second,
		ReconnectBase:     time.Second,
		ReconnectAttempts: 5,
		RedisGeoKey:       "drivers_geo",
		KafkaTopic:        "negotiation-outcomes",
		LogLevel:          "info",
	}
}

func LoadAgentConfig() (AgentConfig, error) {
	cfg := defaultAgentConfig()
	var errs []error

	setStringFromEnv(&cfg.ServerURL, "SERVER_WS_URL")
	setStringFromEnv(&cfg.RequestStoreURL, "REQUEST_STORE_URL")
	setStringFromEnv(&cfg.OpsAddr, "OPS_ADDR")

	setStringFromEnv(&cfg.DriverID, "DRIVER_ID")
	setStringFromEnv(&cfg.DriverRole, "DRIVER_ROLE")
	setStringFromEnv(&cfg.DriverName, "DRIVER_NAME")
	setFloatFromEnv(&cfg.DriverRating, "DRIVER_RATING", &errs)
	setStringFromEnv(&cfg.VehicleInfo, "VEHICLE_INFO")

	setDurationFromEnv(&cfg.ResponseTimeout, "RESPONSE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.PullInterval, "FEED_PULL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.ReconnectBase, "RECONNECT_BASE_DELAY", &errs)
	setIntFromEnv(&cfg.ReconnectAttempts, "RECONNECT_MAX_ATTEMPTS", &errs)

	if v := os.Getenv("ARRIVAL_OPTIONS"); v != "" {
		opts, err := parseIntList(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid ARRIVAL_OPTIONS: %w", err))
		} else {
			cfg.ArrivalOptions = opts
		}
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setStringFromEnv(&cfg.NotifyWebhook, "NOTIFY_WEBHOOK")

	cfg.AutoAccept = strings.EqualFold(os.Getenv("AUTO_ACCEPT"), "true")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.ResponseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RESPONSE_TIMEOUT must be > 0"))
	}
	if cfg.ReconnectAttempts <= 0 {
		errs = append(errs, fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be > 0"))
	}
	if len(cfg.ArrivalOptions) == 0 {
		errs = append(errs, fmt.Errorf("ARRIVAL_OPTIONS must not be empty"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func parseIntList(v string) ([]int, error) {
	parts := splitAndTrim(v)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		i, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Package geo provides the responder's current coordinate. The fleet
// infrastructure keeps driver positions in a Redis geo set; the agent reads
// its own entry back rather than tracking position itself.
package geo

import (
	"context"
	"fmt"
	"math"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-negotiation/internal/models"
)

// Provider yields the responder's current coordinate.
type Provider interface {
	Locate(ctx context.Context) (models.Coord, error)
}

// RedisProvider reads the driver's position from the shared geo set
// (GEOPOS on the same key the location pipeline writes).
type RedisProvider struct {
	client   *redis.Client
	key      string
	driverID string
}

func NewRedisProvider(addr, password, key, driverID string) *RedisProvider {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisProvider{client: c, key: key, driverID: driverID}
}

func (r *RedisProvider) Locate(ctx context.Context) (models.Coord, error) {
	pos, err := r.client.GeoPos(ctx, r.key, r.driverID).Result()
	if err != nil {
		return models.Coord{}, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return models.Coord{}, fmt.Errorf("no position recorded for driver %s", r.driverID)
	}
	return models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}, nil
}

func (r *RedisProvider) Close() error { return r.client.Close() }

// StaticProvider returns a fixed coordinate, for local runs without the
// fleet infrastructure.
type StaticProvider struct {
	Coord models.Coord
}

func (s *StaticProvider) Locate(context.Context) (models.Coord, error) {
	return s.Coord, nil
}

// Haversine distance in meters, used to enrich the feed display with the
// distance from the responder to a pickup point.
func Haversine(a, b models.Coord) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

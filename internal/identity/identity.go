// Package identity supplies the caller's id and role. Token storage is an
// external concern; the agent only needs the pair the handshake carries.
package identity

import (
	"errors"
	"os"
	"strings"
)

type Store interface {
	Identity() (id, role string, err error)
}

var ErrNoIdentity = errors.New("no caller identity configured")

// EnvStore reads the identity from the environment, matching how the rest
// of the agent is configured.
type EnvStore struct {
	IDKey   string
	RoleKey string
}

func NewEnvStore() *EnvStore {
	return &EnvStore{IDKey: "DRIVER_ID", RoleKey: "DRIVER_ROLE"}
}

func (s *EnvStore) Identity() (string, string, error) {
	id := strings.TrimSpace(os.Getenv(s.IDKey))
	if id == "" {
		return "", "", ErrNoIdentity
	}
	role := strings.TrimSpace(os.Getenv(s.RoleKey))
	if role == "" {
		role = "driver"
	}
	return id, role, nil
}

// FixedStore returns a constant identity, used by tests and the simulator.
type FixedStore struct {
	ID   string
	Role string
}

func (s *FixedStore) Identity() (string, string, error) {
	if s.ID == "" {
		return "", "", ErrNoIdentity
	}
	return s.ID, s.Role, nil
}

package identity

import (
	"errors"
	"testing"
)

func TestEnvStore(t *testing.T) {
	t.Setenv("DRIVER_ID", "d-42")
	t.Setenv("DRIVER_ROLE", "")
	s := NewEnvStore()
	id, role, err := s.Identity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if id != "d-42" || role != "driver" {
		t.Fatalf("got (%q, %q)", id, role)
	}
}

func TestEnvStoreMissing(t *testing.T) {
	t.Setenv("DRIVER_ID", "")
	s := NewEnvStore()
	if _, _, err := s.Identity(); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("err = %v, want ErrNoIdentity", err)
	}
}

func TestFixedStore(t *testing.T) {
	s := &FixedStore{ID: "sim-1", Role: "driver"}
	id, role, err := s.Identity()
	if err != nil || id != "sim-1" || role != "driver" {
		t.Fatalf("got (%q, %q, %v)", id, role, err)
	}
}

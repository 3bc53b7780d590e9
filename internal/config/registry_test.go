package config

import (
	"errors"
	"testing"

	"github.com/meetwren/wren/internal/engine"
	enginemock "github.com/meetwren/wren/internal/engine/mock"
	"github.com/meetwren/wren/pkg/platform"
	platformmock "github.com/meetwren/wren/pkg/platform/mock"
)

func TestRegistryCreateUnregistered(t *testing.T) {
	r := NewRegistry()

	if _, err := r.CreatePlatform(AdapterEntry{Name: "meet"}); !errors.Is(err, ErrAdapterNotRegistered) {
		t.Errorf("CreatePlatform: got %v, want ErrAdapterNotRegistered", err)
	}
	if _, err := r.CreateEngine(AdapterEntry{Name: "model"}); !errors.Is(err, ErrAdapterNotRegistered) {
		t.Errorf("CreateEngine: got %v, want ErrAdapterNotRegistered", err)
	}
	if _, err := r.CreateCRM(AdapterEntry{Name: "salesforce"}); !errors.Is(err, ErrAdapterNotRegistered) {
		t.Errorf("CreateCRM: got %v, want ErrAdapterNotRegistered", err)
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	r := NewRegistry()
	r.RegisterPlatform("mock", func(AdapterEntry) (platform.Adapter, error) {
		return platformmock.New(), nil
	})
	r.RegisterEngine("mock", func(AdapterEntry) (engine.Engine, error) {
		return enginemock.New(), nil
	})

	p, err := r.CreatePlatform(AdapterEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("CreatePlatform: %v", err)
	}
	if p.Name() != "mock" {
		t.Errorf("platform name = %q, want mock", p.Name())
	}

	e, err := r.CreateEngine(AdapterEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("CreateEngine: %v", err)
	}
	if e.Name() != "mock" {
		t.Errorf("engine name = %q, want mock", e.Name())
	}
}

func TestRegistryOverwrite(t *testing.T) {
	r := NewRegistry()
	called := 0
	r.RegisterEngine("mock", func(AdapterEntry) (engine.Engine, error) {
		called = 1
		return enginemock.New(), nil
	})
	r.RegisterEngine("mock", func(AdapterEntry) (engine.Engine, error) {
		called = 2
		return enginemock.New(), nil
	})

	if _, err := r.CreateEngine(AdapterEntry{Name: "mock"}); err != nil {
		t.Fatalf("CreateEngine: %v", err)
	}
	if called != 2 {
		t.Errorf("called = %d, want the later registration to win", called)
	}
}

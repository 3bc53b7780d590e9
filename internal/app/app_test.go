package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/meetwren/wren/internal/config"
	enginemock "github.com/meetwren/wren/internal/engine/mock"
	"github.com/meetwren/wren/pkg/crm"
	crmmock "github.com/meetwren/wren/pkg/crm/mock"
	"github.com/meetwren/wren/pkg/platform"
	platformmock "github.com/meetwren/wren/pkg/platform/mock"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			AuthToken:  "test-token",
		},
		Store: config.StoreConfig{Driver: config.StoreMemory},
	}
}

func testAdapters() *Adapters {
	adapter := platformmock.New()
	adapter.PlatformName = "meet"
	return &Adapters{
		Platforms: map[string]platform.Adapter{"meet": adapter},
		Engine:    enginemock.New(),
		CRMs:      map[string]crm.Adapter{"mock": crmmock.New()},
	}
}

func TestNewWiresSubsystems(t *testing.T) {
	a, err := New(context.Background(), testConfig(), testAdapters())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if a.manager == nil || a.workflow == nil || a.syncer == nil || a.monitor == nil {
		t.Fatal("a subsystem was left nil")
	}
	if a.cache != nil {
		t.Error("cache should be nil without a redis address")
	}
}

func TestNewRequiresEngine(t *testing.T) {
	if _, err := New(context.Background(), testConfig(), &Adapters{}); err == nil {
		t.Fatal("New accepted adapters without an engine")
	}
}

func TestHandlerServesHealthWithoutAuth(t *testing.T) {
	a, err := New(context.Background(), testConfig(), testAdapters())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	handler := a.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz: status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readyz: status = %d, want 200", rec.Code)
	}

	// API routes stay behind the bearer token.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/meetings/sessions", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("api without token: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/meetings/sessions", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("api with token: status = %d, want 200", rec.Code)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	a, err := New(context.Background(), testConfig(), testAdapters())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(), testAdapters())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

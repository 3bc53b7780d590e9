// Package callbot selects and supervises conference-platform adapters.
//
// The service owns the mapping from platform names to configured adapters,
// resolves which adapter a meeting URL needs, and enforces the uniqueness of
// (platform, bot session id) pairs. A shared background monitor polls the
// connection status of every active session and reports drops to the
// session manager.
package callbot

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meetwren/wren/pkg/platform"
)

// DefaultMonitorInterval is the connection-status polling cadence.
const DefaultMonitorInterval = 10 * time.Second

// ErrUnknownPlatform is returned when no adapter is configured for a name.
var ErrUnknownPlatform = fmt.Errorf("callbot: no adapter configured for platform")

// ErrSessionTaken is returned when a bot session id is already active on
// the same platform.
var ErrSessionTaken = fmt.Errorf("callbot: bot session id already active on platform")

// Service dispatches meetings to platform adapters.
// All methods are safe for concurrent use.
type Service struct {
	adapters map[string]platform.Adapter

	mu     sync.Mutex
	active map[string]bool // platform + "/" + botSessionID
}

// NewService creates a service over the configured adapters, keyed by
// their registry names.
func NewService(adapters map[string]platform.Adapter) *Service {
	return &Service{
		adapters: adapters,
		active:   make(map[string]bool),
	}
}

// Resolve picks the adapter for a meeting. A non-empty override names the
// platform directly and wins over URL detection; otherwise the platform is
// detected from the meeting URL's domain. Resolution failures happen before
// any state mutation.
func (s *Service) Resolve(meetingURL, override string) (platform.Adapter, error) {
	name := override
	if name == "" {
		detected, err := platform.Detect(meetingURL)
		if err != nil {
			return nil, err
		}
		name = detected
	} else if detected, err := platform.Detect(meetingURL); err == nil && detected != name {
		slog.Warn("platform override disagrees with meeting URL",
			"override", name, "detected", detected, "meeting_url", meetingURL)
	}

	adapter, ok := s.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}
	return adapter, nil
}

// Adapter returns the configured adapter for name.
func (s *Service) Adapter(name string) (platform.Adapter, error) {
	adapter, ok := s.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}
	return adapter, nil
}

// Acquire claims the (platform, bot session id) pair. A second claim for
// the same pair is rejected until the first is released.
func (s *Service) Acquire(platformName, botSessionID string) error {
	key := platformName + "/" + botSessionID
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[key] {
		return fmt.Errorf("%w: %s", ErrSessionTaken, key)
	}
	s.active[key] = true
	return nil
}

// Release frees the pair claimed by [Service.Acquire]. Releasing an
// unclaimed pair is a no-op.
func (s *Service) Release(platformName, botSessionID string) {
	s.mu.Lock()
	delete(s.active, platformName+"/"+botSessionID)
	s.mu.Unlock()
}

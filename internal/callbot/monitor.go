package callbot

import (
	"log/slog"
	"sync"
	"time"

	"github.com/meetwren/wren/pkg/platform"
)

// Watched is one session the monitor probes: the bot session id and the
// adapter that owns its connection.
type Watched struct {
	SessionID string
	Adapter   platform.Adapter
}

// Monitor polls the connection status of active sessions on a fixed
// cadence and invokes the disconnect handler for any session whose adapter
// reports a dropped link. One monitor is shared across all sessions.
type Monitor struct {
	interval     time.Duration
	list         func() []Watched
	onDisconnect func(sessionID string)

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewMonitor creates a monitor. list enumerates the sessions worth probing
// (those connected or transcribing); onDisconnect runs the reconnect policy
// and must not block the monitor for long.
func NewMonitor(interval time.Duration, list func() []Watched, onDisconnect func(sessionID string)) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{
		interval:     interval,
		list:         list,
		onDisconnect: onDisconnect,
		done:         make(chan struct{}),
	}
}

// Start launches the polling loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop terminates the polling loop and waits for it to exit. Idempotent.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.done) })
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

func (m *Monitor) probe() {
	for _, w := range m.list() {
		state := w.Adapter.ConnectionStatus(w.SessionID)
		if state == platform.StateDisconnected || state == platform.StateError {
			slog.Warn("connection lost", "session_id", w.SessionID, "state", state)
			m.onDisconnect(w.SessionID)
		}
	}
}

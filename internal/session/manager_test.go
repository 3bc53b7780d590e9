package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meetwren/wren/internal/callbot"
	"github.com/meetwren/wren/internal/domain"
	enginemock "github.com/meetwren/wren/internal/engine/mock"
	"github.com/meetwren/wren/internal/store/memstore"
	"github.com/meetwren/wren/internal/summary"
	"github.com/meetwren/wren/pkg/platform"
	platformmock "github.com/meetwren/wren/pkg/platform/mock"
)

// testRig bundles the manager with its collaborators and an event recorder.
type testRig struct {
	manager *Manager
	adapter *platformmock.Adapter
	engine  *enginemock.Engine
	store   *memstore.Store

	mu     sync.Mutex
	events []EventType
}

func newRig(t *testing.T, cfg Config) *testRig {
	t.Helper()

	if cfg.PersistInterval == 0 {
		cfg.PersistInterval = 20 * time.Millisecond
	}
	if cfg.ReconnectDelayBase == 0 {
		cfg.ReconnectDelayBase = 5 * time.Millisecond
	}
	if cfg.QualityInterval == 0 {
		cfg.QualityInterval = 25 * time.Millisecond
	}

	rig := &testRig{
		adapter: platformmock.New(),
		engine:  enginemock.New(),
		store:   memstore.New(),
	}
	rig.adapter.PlatformName = "meet"

	meeting := &domain.Meeting{
		ID:        "meeting-1",
		Title:     "Quarterly sync",
		Attendees: []string{"Dana Reyes", "Sam Okafor"},
		Status:    domain.MeetingScheduled,
	}
	if err := rig.store.SaveMeeting(context.Background(), meeting); err != nil {
		t.Fatalf("SaveMeeting: %v", err)
	}

	bots := callbot.NewService(map[string]platform.Adapter{"meet": rig.adapter})
	gen := summary.NewGenerator(rig.engine, rig.store)
	rig.manager = NewManager(bots, rig.engine, gen, rig.store, cfg,
		WithSink(SinkFunc(func(ev Event) error {
			rig.mu.Lock()
			rig.events = append(rig.events, ev.Type)
			rig.mu.Unlock()
			return nil
		})))
	return rig
}

func (r *testRig) eventTypes() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	copy(out, r.events)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (r *testRig) waitForState(t *testing.T, sessionID string, want State) {
	t.Helper()
	waitFor(t, 2*time.Second, string("state "+want), func() bool {
		snap, err := r.manager.Status(sessionID)
		return err == nil && snap.State == want
	})
}

func audioChunk(id string, payload byte) platform.AudioChunk {
	data := make([]byte, 640)
	for i := range data {
		data[i] = payload
	}
	return platform.AudioChunk{
		ChunkID:    id,
		Data:       data,
		Timestamp:  time.Now(),
		Duration:   2 * time.Second,
		SampleRate: 16000,
		Channels:   1,
	}
}

func TestHappyPath(t *testing.T) {
	rig := newRig(t, Config{})
	ctx := context.Background()

	snap, err := rig.manager.Start(ctx, StartRequest{
		MeetingID:  "meeting-1",
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	rig.waitForState(t, snap.SessionID, StateTranscribing)

	for i := byte(0); i < 3; i++ {
		rig.adapter.EmitChunk(snap.BotSessionID, audioChunk("c", i))
	}

	waitFor(t, 2*time.Second, "3 chunks transcribed", func() bool {
		st, err := rig.manager.Status(snap.SessionID)
		return err == nil && st.ChunkCount == 3
	})

	sum, err := rig.manager.Stop(ctx, snap.SessionID, "test done")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if sum.State != StateCompleted {
		t.Errorf("final state = %s, want completed", sum.State)
	}
	if sum.ChunkCount != 3 {
		t.Errorf("chunk count = %d, want 3", sum.ChunkCount)
	}
	if sum.Draft == nil {
		t.Fatal("no draft summary generated")
	}
	if sum.Draft.ConfidenceScore < 0.85 {
		t.Errorf("draft confidence = %v, want >= 0.85", sum.Draft.ConfidenceScore)
	}

	// Chunks are ordered and persisted.
	chunks, err := rig.store.ChunksBySession(ctx, snap.SessionID, -1)
	if err != nil {
		t.Fatalf("ChunksBySession: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("persisted %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkID != i {
			t.Errorf("chunk %d has id %d", i, c.ChunkID)
		}
	}

	// Lifecycle events in mutation order.
	want := []EventType{
		EventSessionStarted,
		EventSessionInitialized,
		EventMeetingJoined,
		EventTranscriptionStarted,
		EventSessionStopped,
	}
	got := rig.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	// Meeting closed out.
	meeting, err := rig.store.MeetingByID(ctx, "meeting-1")
	if err != nil {
		t.Fatalf("MeetingByID: %v", err)
	}
	if meeting.Status != domain.MeetingCompleted {
		t.Errorf("meeting status = %s, want completed", meeting.Status)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	rig := newRig(t, Config{})
	ctx := context.Background()

	snap, err := rig.manager.Start(ctx, StartRequest{
		MeetingID:  "meeting-1",
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	rig.waitForState(t, snap.SessionID, StateTranscribing)

	first, err := rig.manager.Stop(ctx, snap.SessionID, "done")
	if err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	second, err := rig.manager.Stop(ctx, snap.SessionID, "again")
	if err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if first != second {
		t.Error("second Stop did not return the cached summary")
	}
	if first.Reason != "done" {
		t.Errorf("reason = %q, want the first stop's reason", first.Reason)
	}
}

func TestSecondSessionForMeetingRejected(t *testing.T) {
	rig := newRig(t, Config{})
	ctx := context.Background()

	snap, err := rig.manager.Start(ctx, StartRequest{
		MeetingID:  "meeting-1",
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err = rig.manager.Start(ctx, StartRequest{
		MeetingID:  "meeting-1",
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	if !errors.Is(err, ErrMeetingBusy) {
		t.Fatalf("second Start err = %v, want ErrMeetingBusy", err)
	}

	// After the first stops, the meeting is free again.
	if _, err := rig.manager.Stop(ctx, snap.SessionID, ""); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := rig.manager.Start(ctx, StartRequest{
		MeetingID:  "meeting-1",
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	}); err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}
}

func TestStartUnknownMeeting(t *testing.T) {
	rig := newRig(t, Config{})

	_, err := rig.manager.Start(context.Background(), StartRequest{
		MeetingID:  "nope",
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	if err == nil {
		t.Fatal("expected error for unknown meeting")
	}
}

func TestRecoverableDisconnectReconnects(t *testing.T) {
	rig := newRig(t, Config{})
	ctx := context.Background()

	snap, err := rig.manager.Start(ctx, StartRequest{
		MeetingID:  "meeting-1",
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	rig.waitForState(t, snap.SessionID, StateTranscribing)

	rig.manager.HandleDisconnection(snap.SessionID)

	// Single reconnect attempt, then back to transcribing.
	rig.waitForState(t, snap.SessionID, StateTranscribing)
	waitFor(t, 2*time.Second, "reconnect attempt recorded", func() bool {
		st, err := rig.manager.Status(snap.SessionID)
		return err == nil && st.ReconnectAttempts == 1
	})

	if _, err := rig.manager.Stop(ctx, snap.SessionID, ""); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	rig := newRig(t, Config{MaxReconnectAttempts: 2})
	ctx := context.Background()

	snap, err := rig.manager.Start(ctx, StartRequest{
		MeetingID:  "meeting-1",
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Report a disconnect every time the session recovers.
	waitFor(t, 5*time.Second, "session failure", func() bool {
		st, err := rig.manager.Status(snap.SessionID)
		if err != nil {
			return false
		}
		if st.State == StateTranscribing {
			rig.manager.HandleDisconnection(snap.SessionID)
		}
		return st.State == StateFailed
	})

	st, err := rig.manager.Status(snap.SessionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !strings.Contains(st.ErrorMessage, "Max reconnection attempts") {
		t.Errorf("error message = %q, want mention of exhausted attempts", st.ErrorMessage)
	}
	if st.ReconnectAttempts > 2 {
		t.Errorf("reconnect attempts = %d, exceeds budget 2", st.ReconnectAttempts)
	}
}

func TestRetryOnlyFromFailed(t *testing.T) {
	rig := newRig(t, Config{})
	ctx := context.Background()

	snap, err := rig.manager.Start(ctx, StartRequest{
		MeetingID:  "meeting-1",
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	rig.waitForState(t, snap.SessionID, StateTranscribing)

	if err := rig.manager.Retry(snap.SessionID); !errors.Is(err, ErrNotFailed) {
		t.Fatalf("Retry on live session err = %v, want ErrNotFailed", err)
	}

	if _, err := rig.manager.Stop(ctx, snap.SessionID, ""); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestRetryRecoversFailedSession(t *testing.T) {
	rig := newRig(t, Config{})
	ctx := context.Background()

	// A permanent join error fails the session outright.
	rig.adapter.JoinErr = &platform.PermanentError{Reason: "auth denied"}

	snap, err := rig.manager.Start(ctx, StartRequest{
		MeetingID:  "meeting-1",
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	rig.waitForState(t, snap.SessionID, StateFailed)

	rig.adapter.JoinErr = nil
	if err := rig.manager.Retry(snap.SessionID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	rig.waitForState(t, snap.SessionID, StateTranscribing)

	st, err := rig.manager.Status(snap.SessionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", st.RetryCount)
	}

	if _, err := rig.manager.Stop(ctx, snap.SessionID, ""); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSessionTimeout(t *testing.T) {
	rig := newRig(t, Config{SessionTimeout: 60 * time.Millisecond, PersistInterval: 10 * time.Millisecond})
	ctx := context.Background()

	snap, err := rig.manager.Start(ctx, StartRequest{
		MeetingID:  "meeting-1",
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	sum, err := rig.manager.Stop(ctx, snap.SessionID, "")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sum.State != StateCompleted {
		t.Errorf("state = %s, want completed", sum.State)
	}
}

func TestLeaveAfterJoinOrdering(t *testing.T) {
	rig := newRig(t, Config{})
	ctx := context.Background()

	snap, err := rig.manager.Start(ctx, StartRequest{
		MeetingID:  "meeting-1",
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	rig.waitForState(t, snap.SessionID, StateTranscribing)
	if _, err := rig.manager.Stop(ctx, snap.SessionID, ""); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	rec, err := rig.store.SessionByID(ctx, snap.SessionID)
	if err != nil {
		t.Fatalf("SessionByID: %v", err)
	}
	if rec.LeaveTime.Before(rec.JoinTime) {
		t.Errorf("leave %v before join %v", rec.LeaveTime, rec.JoinTime)
	}
}

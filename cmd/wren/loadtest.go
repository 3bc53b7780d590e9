package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/meetwren/wren/internal/callbot"
	"github.com/meetwren/wren/internal/domain"
	enginemock "github.com/meetwren/wren/internal/engine/mock"
	"github.com/meetwren/wren/internal/session"
	"github.com/meetwren/wren/internal/store/memstore"
	"github.com/meetwren/wren/internal/summary"
	"github.com/meetwren/wren/pkg/platform"
	platformmock "github.com/meetwren/wren/pkg/platform/mock"
)

// syntheticRig is an in-process pipeline on the mock platform and mock
// engine, used by load-test and verify-capacity.
type syntheticRig struct {
	manager *session.Manager
	store   *memstore.Store
}

func newSyntheticRig(ctx context.Context, meetings int) (*syntheticRig, error) {
	st := memstore.New()
	for i := range meetings {
		m := &domain.Meeting{
			ID:        fmt.Sprintf("load-meeting-%d", i),
			Title:     fmt.Sprintf("Synthetic meeting %d", i),
			Attendees: []string{"Load Tester"},
			Status:    domain.MeetingScheduled,
		}
		if err := st.SaveMeeting(ctx, m); err != nil {
			return nil, err
		}
	}

	adapter := platformmock.New()
	adapter.PlatformName = "mock"
	eng := enginemock.New()
	bots := callbot.NewService(map[string]platform.Adapter{"mock": adapter})
	gen := summary.NewGenerator(eng, st)
	mgr := session.NewManager(bots, eng, gen, st, session.Config{
		PersistInterval: 100 * time.Millisecond,
		QualityInterval: 250 * time.Millisecond,
	})
	return &syntheticRig{manager: mgr, store: st}, nil
}

// startSession starts one synthetic session and waits for transcription.
func (rig *syntheticRig) startSession(ctx context.Context, i int) (session.Snapshot, error) {
	snap, err := rig.manager.Start(ctx, session.StartRequest{
		MeetingID:  fmt.Sprintf("load-meeting-%d", i),
		MeetingURL: fmt.Sprintf("https://mock.example/room-%d", i),
		Platform:   "mock",
	})
	if err != nil {
		return session.Snapshot{}, err
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err = rig.manager.Status(snap.SessionID)
		if err != nil {
			return session.Snapshot{}, err
		}
		switch snap.State {
		case session.StateTranscribing:
			return snap, nil
		case session.StateFailed:
			return session.Snapshot{}, fmt.Errorf("session %s failed: %s", snap.SessionID, snap.ErrorMessage)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return session.Snapshot{}, fmt.Errorf("session %s never reached transcribing", snap.SessionID)
}

// produce pushes chunks into a transcribing session and reports the slowest
// enqueue it observed. Producers must never block on a saturated queue.
func (rig *syntheticRig) produce(sessionID string, chunks int, rate time.Duration) (time.Duration, error) {
	payload := bytes.Repeat([]byte{0x55}, 640)
	var slowest time.Duration

	for range chunks {
		begin := time.Now()
		err := rig.manager.ProcessAudioChunk(sessionID, payload, time.Now(), 20*time.Millisecond)
		if d := time.Since(begin); d > slowest {
			slowest = d
		}
		if err != nil {
			return slowest, err
		}
		if rate > 0 {
			time.Sleep(rate)
		}
	}
	return slowest, nil
}

// runLoadTest drives synthetic sessions in-process and reports throughput.
func runLoadTest(args []string) int {
	fs := flag.NewFlagSet("load-test", flag.ExitOnError)
	sessions := fs.Int("sessions", 4, "concurrent sessions to run")
	chunks := fs.Int("chunks", 100, "audio chunks per session")
	rate := fs.Duration("rate", 5*time.Millisecond, "delay between chunks per producer")
	fs.Parse(args)

	ctx := context.Background()
	rig, err := newSyntheticRig(ctx, *sessions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wren load-test: %v\n", err)
		return 1
	}

	begin := time.Now()
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []error
		total    int
	)
	for i := range *sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rig.runOne(ctx, i, *chunks, *rate); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				return
			}
			mu.Lock()
			total += *chunks
			mu.Unlock()
		}()
	}
	wg.Wait()
	elapsed := time.Since(begin)

	for _, err := range failures {
		fmt.Fprintf(os.Stderr, "wren load-test: %v\n", err)
	}
	fmt.Printf("load-test: %d/%d sessions ok, %d chunks in %s (%.0f chunks/s)\n",
		*sessions-len(failures), *sessions, total, elapsed.Truncate(time.Millisecond),
		float64(total)/elapsed.Seconds())

	if len(failures) > 0 {
		return 1
	}
	return 0
}

// runOne runs the full lifecycle of one synthetic session.
func (rig *syntheticRig) runOne(ctx context.Context, i, chunks int, rate time.Duration) error {
	snap, err := rig.startSession(ctx, i)
	if err != nil {
		return err
	}
	if _, err := rig.produce(snap.SessionID, chunks, rate); err != nil {
		return err
	}

	sum, err := rig.manager.Stop(ctx, snap.SessionID, "load test done")
	if err != nil {
		return fmt.Errorf("stop %s: %w", snap.SessionID, err)
	}
	if sum.State != session.StateCompleted {
		return fmt.Errorf("session %s ended %s, want completed", snap.SessionID, sum.State)
	}
	if sum.Draft == nil {
		return fmt.Errorf("session %s produced no draft summary", snap.SessionID)
	}
	return nil
}

// runVerifyCapacity hammers N concurrent sessions without pacing and checks
// the pipeline's invariants: producers never block, every session completes,
// and each one yields exactly one draft.
func runVerifyCapacity(args []string) int {
	fs := flag.NewFlagSet("verify-capacity", flag.ExitOnError)
	sessions := fs.Int("sessions", 10, "concurrent sessions to run")
	chunks := fs.Int("chunks", 200, "audio chunks per session")
	maxEnqueue := fs.Duration("max-enqueue", 100*time.Millisecond, "slowest tolerable single enqueue")
	fs.Parse(args)

	ctx := context.Background()
	rig, err := newSyntheticRig(ctx, *sessions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wren verify-capacity: %v\n", err)
		return 1
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		violations []string
	)
	violate := func(format string, args ...any) {
		mu.Lock()
		violations = append(violations, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	for i := range *sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()

			snap, err := rig.startSession(ctx, i)
			if err != nil {
				violate("session %d: %v", i, err)
				return
			}

			slowest, err := rig.produce(snap.SessionID, *chunks, 0)
			if err != nil {
				violate("session %d: produce: %v", i, err)
				return
			}
			if slowest > *maxEnqueue {
				violate("session %d: producer blocked for %s (limit %s)", i, slowest, *maxEnqueue)
			}

			sum, err := rig.manager.Stop(ctx, snap.SessionID, "capacity check done")
			if err != nil {
				violate("session %d: stop: %v", i, err)
				return
			}
			if sum.State != session.StateCompleted {
				violate("session %d: ended %s, want completed", i, sum.State)
				return
			}
			if sum.ChunkCount == 0 || sum.ChunkCount > *chunks {
				violate("session %d: processed %d chunks, want 1..%d", i, sum.ChunkCount, *chunks)
			}
			if sum.Draft == nil {
				violate("session %d: no draft summary", i)
				return
			}
			if draft, err := rig.store.DraftSummaryByBotSession(ctx, sum.SessionID); err != nil {
				violate("session %d: draft lookup: %v", i, err)
			} else if draft.ID != sum.Draft.ID {
				violate("session %d: draft mismatch: stored %s, returned %s", i, draft.ID, sum.Draft.ID)
			}
		}()
	}
	wg.Wait()

	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "wren verify-capacity: %s\n", v)
		}
		fmt.Printf("verify-capacity: FAIL — %d violation(s) across %d sessions\n", len(violations), *sessions)
		return 1
	}
	fmt.Printf("verify-capacity: OK — %d sessions, %d chunks each, producers never blocked\n", *sessions, *chunks)
	return 0
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/meetwren/wren/internal/session"
)

// runMonitor polls a running Wren server and prints the active sessions as
// a table. Exits 0 on interrupt, non-zero when the server is unreachable.
func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:8080", "base URL of the running server")
	token := fs.String("token", os.Getenv("WREN_API_TOKEN"), "API bearer token (default $WREN_API_TOKEN)")
	interval := fs.Duration("interval", 2*time.Second, "poll interval")
	once := fs.Bool("once", false, "print one snapshot and exit")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 10 * time.Second}

	for {
		snaps, err := fetchSessions(ctx, client, *addr, *token)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wren monitor: %v\n", err)
			return 1
		}
		printSessions(snaps)

		if *once {
			return 0
		}
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(*interval):
		}
	}
}

func fetchSessions(ctx context.Context, client *http.Client, addr, token string) ([]session.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/meetings/sessions", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}

	var snaps []session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snaps); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return snaps, nil
}

func printSessions(snaps []session.Snapshot) {
	fmt.Printf("--- %s --- %d session(s)\n", time.Now().Format(time.TimeOnly), len(snaps))
	if len(snaps) == 0 {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tMEETING\tPLATFORM\tSTATE\tQUALITY\tCHUNKS\tRECONNECTS\tAGE")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			s.SessionID, s.MeetingID, s.Platform, s.State, s.AudioQuality,
			s.ChunkCount, s.ReconnectAttempts,
			time.Since(s.StartedAt).Truncate(time.Second))
	}
	w.Flush()
}

// Command wren is the meeting intelligence server: it sends bots into video
// calls, transcribes them in real time, drafts summaries, gates them behind
// human validation, and syncs the approved result into CRM systems.
//
// Subcommands:
//
//	wren [-config path]            serve the API (default)
//	wren monitor                   poll a running server and print sessions
//	wren load-test                 drive synthetic sessions in-process
//	wren verify-capacity           assert invariants under concurrent load
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/meetwren/wren/internal/app"
	"github.com/meetwren/wren/internal/config"
	"github.com/meetwren/wren/internal/engine"
	enginemock "github.com/meetwren/wren/internal/engine/mock"
	"github.com/meetwren/wren/internal/engine/model"
	"github.com/meetwren/wren/pkg/crm"
	"github.com/meetwren/wren/pkg/crm/creatio"
	"github.com/meetwren/wren/pkg/crm/hubspot"
	crmmock "github.com/meetwren/wren/pkg/crm/mock"
	"github.com/meetwren/wren/pkg/crm/salesforce"
	"github.com/meetwren/wren/pkg/platform"
	"github.com/meetwren/wren/pkg/platform/meet"
	platformmock "github.com/meetwren/wren/pkg/platform/mock"
	"github.com/meetwren/wren/pkg/platform/teams"
	"github.com/meetwren/wren/pkg/platform/zoom"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return runServe(args)
	case "monitor":
		return runMonitor(args)
	case "load-test":
		return runLoadTest(args)
	case "verify-capacity":
		return runVerifyCapacity(args)
	default:
		fmt.Fprintf(os.Stderr, "wren: unknown command %q (want serve, monitor, load-test, or verify-capacity)\n", cmd)
		return 2
	}
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "wren: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "wren: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("wren starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := config.NewRegistry()
	registerBuiltinAdapters(reg)

	adapters, err := buildAdapters(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build adapters", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, adapters)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Adapter wiring ────────────────────────────────────────────────────────────

// registerBuiltinAdapters wires all adapter factories that ship with Wren
// into reg.
func registerBuiltinAdapters(reg *config.Registry) {
	// ── Platforms ─────────────────────────────────────────────────────────────
	reg.RegisterPlatform("meet", func(entry config.AdapterEntry) (platform.Adapter, error) {
		var opts []meet.Option
		if entry.BaseURL != "" {
			opts = append(opts, meet.WithGatewayURL(entry.BaseURL))
		}
		return meet.New(opts...), nil
	})

	reg.RegisterPlatform("teams", func(entry config.AdapterEntry) (platform.Adapter, error) {
		var opts []teams.Option
		if entry.BaseURL != "" {
			opts = append(opts, teams.WithRelayURL(entry.BaseURL))
		}
		if tokenURL := optString(entry.Options, "token_url"); tokenURL != "" {
			opts = append(opts, teams.WithTokenURL(tokenURL))
		}
		return teams.New(opts...), nil
	})

	reg.RegisterPlatform("zoom", func(entry config.AdapterEntry) (platform.Adapter, error) {
		var opts []zoom.Option
		if entry.BaseURL != "" {
			opts = append(opts, zoom.WithEndpoint(entry.BaseURL))
		}
		return zoom.New(opts...), nil
	})

	reg.RegisterPlatform("mock", func(entry config.AdapterEntry) (platform.Adapter, error) {
		a := platformmock.New()
		a.PlatformName = "mock"
		return a, nil
	})

	// ── Engines ───────────────────────────────────────────────────────────────
	reg.RegisterEngine("model", func(entry config.AdapterEntry) (engine.Engine, error) {
		return model.New(model.Config{
			SpeechAPIKey:  entry.APIKey,
			SpeechBaseURL: entry.BaseURL,
			LLMProvider:   optString(entry.Options, "llm_provider"),
			LLMModel:      entry.Model,
			LLMAPIKey:     optString(entry.Options, "llm_api_key"),
			Language:      optString(entry.Options, "language"),
		})
	})

	reg.RegisterEngine("mock", func(entry config.AdapterEntry) (engine.Engine, error) {
		return enginemock.New(), nil
	})

	// ── CRM ───────────────────────────────────────────────────────────────────
	reg.RegisterCRM("salesforce", func(entry config.AdapterEntry) (crm.Adapter, error) {
		return salesforce.New(entry.BaseURL, entry.APIKey)
	})

	reg.RegisterCRM("hubspot", func(entry config.AdapterEntry) (crm.Adapter, error) {
		var opts []hubspot.Option
		if entry.BaseURL != "" {
			opts = append(opts, hubspot.WithBaseURL(entry.BaseURL))
		}
		return hubspot.New(entry.APIKey, opts...)
	})

	reg.RegisterCRM("creatio", func(entry config.AdapterEntry) (crm.Adapter, error) {
		return creatio.New(entry.BaseURL, entry.APIKey)
	})

	reg.RegisterCRM("mock", func(entry config.AdapterEntry) (crm.Adapter, error) {
		return crmmock.New(), nil
	})
}

// buildAdapters instantiates every adapter named in cfg through the registry
// and authenticates the platform bots.
func buildAdapters(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Adapters, error) {
	adapters := &app.Adapters{
		Platforms: make(map[string]platform.Adapter, len(cfg.Platforms)),
		CRMs:      make(map[string]crm.Adapter, len(cfg.CRM)),
	}

	for key, entry := range cfg.Platforms {
		if entry.Name == "" {
			entry.Name = key
		}
		a, err := reg.CreatePlatform(entry)
		if err != nil {
			return nil, fmt.Errorf("create platform adapter %q: %w", key, err)
		}
		creds := platform.Credentials{
			ClientID: entry.ClientID,
			Secret:   entry.ClientSecret,
			TenantID: entry.TenantID,
		}
		if creds.Secret == "" {
			creds.Secret = entry.APIKey
		}
		if err := a.Authenticate(ctx, creds); err != nil {
			return nil, fmt.Errorf("authenticate platform %q: %w", key, err)
		}
		adapters.Platforms[key] = a
		slog.Info("platform adapter ready", "platform", key, "adapter", entry.Name)
	}

	eng, err := reg.CreateEngine(cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("create engine %q: %w", cfg.Engine.Name, err)
	}
	adapters.Engine = eng
	slog.Info("engine ready", "engine", cfg.Engine.Name, "model", cfg.Engine.Model)

	for key, entry := range cfg.CRM {
		if entry.Name == "" {
			entry.Name = key
		}
		a, err := reg.CreateCRM(entry)
		if err != nil {
			return nil, fmt.Errorf("create crm adapter %q: %w", key, err)
		}
		adapters.CRMs[key] = a
		slog.Info("crm adapter ready", "system", key, "adapter", entry.Name)
	}

	return adapters, nil
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from an adapter Options map. Returns ""
// if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

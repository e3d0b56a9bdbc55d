// Command auris is the main entry point for the Auris sound recognition server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/auris/internal/app"
	"github.com/MrWong99/auris/internal/config"
	"github.com/MrWong99/auris/internal/observe"
	"github.com/MrWong99/auris/pkg/audio"
	audiomock "github.com/MrWong99/auris/pkg/audio/mock"
	paudio "github.com/MrWong99/auris/pkg/audio/portaudio"
	"github.com/MrWong99/auris/pkg/classify"
	"github.com/MrWong99/auris/pkg/classify/dense"
	classifymock "github.com/MrWong99/auris/pkg/classify/mock"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "auris: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "auris: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("auris starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "auris",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Any() {
			return
		}
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "log_level", d.NewLogLevel)
		}
		application.ApplyConfigDiff(d)
	})
	if err != nil {
		slog.Warn("config hot reload unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
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

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Capture devices ───────────────────────────────────────────────────────

	reg.RegisterDevice("portaudio", func(config.ProviderEntry) (audio.Device, error) {
		return paudio.New(), nil
	})

	// mock emits no audio; useful for exercising the HTTP surface without
	// capture hardware.
	reg.RegisterDevice("mock", func(config.ProviderEntry) (audio.Device, error) {
		return &audiomock.Device{OpenResult: audiomock.NewStream(1)}, nil
	})

	// ── Permission gates ──────────────────────────────────────────────────────

	reg.RegisterGate("portaudio", func(config.ProviderEntry) (audio.PermissionGate, error) {
		return &paudio.Gate{}, nil
	})
	reg.RegisterGate("mock", func(config.ProviderEntry) (audio.PermissionGate, error) {
		return &audiomock.Gate{}, nil
	})

	// ── Classifiers ───────────────────────────────────────────────────────────

	reg.RegisterClassifier("dense", func(entry config.ProviderEntry) (classify.Engine, error) {
		return dense.New(entry.Model), nil
	})
	reg.RegisterClassifier("mock", func(config.ProviderEntry) (classify.Engine, error) {
		return &classifymock.Engine{
			InputLenResult: 3200,
			LabelsResult:   []string{"silence"},
			InferResult:    classify.ScoreVector{1},
		}, nil
	})
}

// buildProviders instantiates the configured device, gate, and classifier.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	deviceEntry := cfg.Audio.Device
	if deviceEntry.Name == "" {
		deviceEntry.Name = "portaudio"
	}

	device, err := reg.CreateDevice(deviceEntry)
	if err != nil {
		return nil, fmt.Errorf("create device provider %q: %w", deviceEntry.Name, err)
	}
	ps.Device = device
	slog.Info("provider created", "kind", "device", "name", deviceEntry.Name)

	gate, err := reg.CreateGate(deviceEntry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Debug("no permission gate for device — assuming access", "name", deviceEntry.Name)
	} else if err != nil {
		return nil, fmt.Errorf("create permission gate %q: %w", deviceEntry.Name, err)
	} else {
		ps.Gate = gate
	}

	classifier, err := reg.CreateClassifier(cfg.Classifier)
	if err != nil {
		return nil, fmt.Errorf("create classifier provider %q: %w", cfg.Classifier.Name, err)
	}
	ps.Classifier = classifier
	slog.Info("provider created", "kind", "classifier", "name", cfg.Classifier.Name, "model", cfg.Classifier.Model)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	stream := cfg.Audio.StreamConfig()
	deviceName := cfg.Audio.Device.Name
	if deviceName == "" {
		deviceName = "portaudio"
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Auris — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Device", deviceName)
	printRow("Classifier", cfg.Classifier.Name)
	printRow("Model", cfg.Classifier.Model)
	printRow("Capture", fmt.Sprintf("%d Hz / %d ch", stream.SampleRate, stream.Channels))
	printRow("Chunk", stream.Interval.String())
	if cfg.History.PostgresDSN != "" {
		printRow("History", "postgres")
	} else {
		printRow("History", "in-memory")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncateValue(value, 19))
}

// truncateValue shortens value to at most max runes, ending in an ellipsis.
// Truncating by rune keeps multibyte characters in config values intact.
func truncateValue(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-1]) + "…"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

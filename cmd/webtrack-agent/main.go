// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/webtrack/lib/config"
	"github.com/bureau-foundation/webtrack/lib/host"
	"github.com/bureau-foundation/webtrack/lib/interceptor"
	"github.com/bureau-foundation/webtrack/lib/process"
	"github.com/bureau-foundation/webtrack/lib/version"
)

// shutdownTimeout bounds the wait for in-flight beacons at exit.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath    string
		scriptDir     string
		logFormat     string
		logLevel      string
		watch         bool
		readStdin     bool
		probes        []string
		probeInterval time.Duration
		showVersion   bool
	)

	flagSet := pflag.NewFlagSet("webtrack-agent", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (default: $WEBTRACK_CONFIG)")
	flagSet.StringVar(&scriptDir, "scripts", "", "JavaScript plugin directory (overrides plugins.scriptDir)")
	flagSet.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, or error")
	flagSet.BoolVar(&watch, "watch", false, "reload script plugins when they change on disk")
	flagSet.BoolVar(&readStdin, "stdin", true, "read JSON line events from stdin and exit when it closes")
	flagSet.StringArrayVar(&probes, "probe", nil, "URL to GET periodically through the instrumented client (repeatable)")
	flagSet.DurationVar(&probeInterval, "probe-interval", 30*time.Second, "interval between probe rounds")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return process.Usage("%v", err)
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if showVersion {
		version.Print("webtrack-agent")
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return process.Usage("unexpected argument: %s", args[0])
	}
	if probeInterval <= 0 {
		return process.Usage("--probe-interval must be positive")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if scriptDir != "" {
		cfg.Plugins.ScriptDir = scriptDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if watch && cfg.Plugins.ScriptDir == "" {
		return process.Usage("--watch needs a script directory (--scripts or plugins.scriptDir)")
	}

	logger, tap, err := newLogger(os.Stderr, logFormat, logLevel)
	if err != nil {
		return process.Usage("%v", err)
	}
	slog.SetDefault(logger)

	processHost := host.NewProcess(host.ProcessConfig{
		Environment:   cfg.Host.Environment,
		MaxBeaconSize: cfg.Host.MaxBeaconSize,
		Logger:        logger.With("component", "host"),
	})

	agent, err := newAgent(agentConfig{
		Config: cfg,
		Host:   processHost,
		LogTap: tap,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	group, groupContext := errgroup.WithContext(ctx)

	group.Go(func() error {
		processHost.Watch(groupContext)
		cancel()
		return nil
	})
	if watch {
		group.Go(func() error {
			return agent.watchScripts(groupContext, cfg.Plugins.ScriptDir)
		})
	}
	if len(probes) > 0 {
		group.Go(func() error {
			agent.probe(groupContext, probes, probeInterval)
			return nil
		})
	}
	// Stdin reads cannot be interrupted, so the reader is not part of
	// the group: shutdown must not wait on it.
	if readStdin {
		go func() {
			if err := agent.ingest(groupContext, os.Stdin); err != nil {
				logger.Error("reading stdin failed", "error", err)
			}
			cancel()
		}()
	}

	logger.Info("webtrack agent running",
		"version", version.Info(),
		"endpoint", cfg.Endpoint,
		"environment", cfg.Environment,
		"plugins", len(agent.tracker.Plugins()),
		"watch", watch,
		"probes", len(probes),
	)

	groupErr := group.Wait()
	logger.Info("shutting down")

	shutdownContext, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	destroyErr := agent.close()
	closeErr := processHost.Close(shutdownContext)

	stats := agent.tracker.Stats()
	logger.Info("webtrack agent stopped",
		"tracked", stats.Tracked,
		"sent", stats.Sent,
		"retried", stats.Retried,
		"dropped", stats.Dropped,
	)
	return errors.Join(groupErr, destroyErr, closeErr)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

// newLogger builds the process logger. Records pass through the
// returned LogTap so the error-capture plugin can observe them.
func newLogger(w io.Writer, format, level string) (*slog.Logger, *interceptor.LogTap, error) {
	var minimum slog.Level
	if err := minimum.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("invalid --log-level %q", level)
	}
	options := &slog.HandlerOptions{Level: minimum}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, options)
	case "json":
		handler = slog.NewJSONHandler(w, options)
	default:
		return nil, nil, fmt.Errorf("invalid --log-format %q (want text or json)", format)
	}
	tap := interceptor.NewLogTap(handler)
	return slog.New(tap), tap, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `webtrack-agent: run the telemetry pipeline as a sidecar.

Reads JSON line events from stdin and delivers them to the collector
named in the config file.

Usage:
  webtrack-agent [flags]

Examples:
  # Track events produced by another program
  my-app --emit-events | webtrack-agent --config webtrack.yaml

  # Long-running agent with hot-reloaded script plugins and a probe
  webtrack-agent --config webtrack.yaml --stdin=false \
      --scripts ./plugins --watch --probe https://example.com/healthz

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

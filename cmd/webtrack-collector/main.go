// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/webtrack/lib/netutil"
	"github.com/bureau-foundation/webtrack/lib/process"
	"github.com/bureau-foundation/webtrack/lib/version"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		listenAddress string
		maxBodySize   int64
		maxEvents     int
		pretty        bool
		logFormat     string
		logLevel      string
		showVersion   bool
	)

	flagSet := pflag.NewFlagSet("webtrack-collector", pflag.ContinueOnError)
	flagSet.StringVar(&listenAddress, "listen", "127.0.0.1:8420", "address to listen on")
	flagSet.Int64Var(&maxBodySize, "max-body-bytes", netutil.MaxRequestSize, "largest accepted POST body before decompression")
	flagSet.IntVar(&maxEvents, "max-events", defaultMaxEvents, "events kept in memory; the oldest are evicted")
	flagSet.BoolVar(&pretty, "pretty", false, "print every accepted batch to stdout")
	flagSet.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, or error")
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
		version.Print("webtrack-collector")
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return process.Usage("unexpected argument: %s", args[0])
	}

	logger, err := newLogger(os.Stderr, logFormat, logLevel)
	if err != nil {
		return process.Usage("%v", err)
	}

	config := serverConfig{
		MaxBodySize: maxBodySize,
		MaxEvents:   maxEvents,
		Logger:      logger,
	}
	if pretty {
		config.Printer = newPrinter(os.Stdout)
	}
	collector := newCollectorServer(config)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listenAddress, err)
	}
	httpServer := &http.Server{
		Handler:           collector.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupContext.Done()
		shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownContext)
	})

	logger.Info("webtrack collector running",
		"version", version.Info(),
		"address", listener.Addr().String(),
		"collect_url", "http://"+listener.Addr().String()+"/collect",
		"max_events", maxEvents,
	)

	err = group.Wait()
	status := collector.status()
	logger.Info("webtrack collector stopped",
		"batches", status.Batches,
		"events", status.Events,
		"duplicates", status.Duplicates,
		"rejected", status.Rejected,
	)
	return err
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var minimum slog.Level
	if err := minimum.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	options := &slog.HandlerOptions{Level: minimum}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, options)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q (want text or json)", format)
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `webtrack-collector: in-memory collection endpoint for development.

Accepts POST and pixel deliveries on /collect and serves the stored
events on /events.

Usage:
  webtrack-collector [flags]

Examples:
  # Collect locally and watch batches arrive
  webtrack-collector --pretty

  # Inspect the last ten error events
  curl 'http://127.0.0.1:8420/events?type=error&limit=10'

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

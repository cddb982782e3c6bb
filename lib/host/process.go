// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bureau-foundation/webtrack/lib/idle"
	"github.com/bureau-foundation/webtrack/lib/netutil"
	"github.com/bureau-foundation/webtrack/lib/transport"
	"github.com/bureau-foundation/webtrack/lib/version"
	"github.com/bureau-foundation/webtrack/sandbox"
)

// DefaultMaxBeaconSize matches the payload limit browsers place on
// navigator.sendBeacon.
const DefaultMaxBeaconSize = 64 << 10

// DefaultBeaconTimeout bounds each background beacon POST.
const DefaultBeaconTimeout = 10 * time.Second

// ProcessConfig configures a Process host.
type ProcessConfig struct {
	// Environment lists the variables exposed as env.<NAME>. Unset
	// variables are omitted.
	Environment []string

	// HTTPClient posts beacons. Defaults to a client with
	// BeaconTimeout as its timeout.
	HTTPClient *http.Client

	// MaxBeaconSize refuses larger payloads. Defaults to
	// DefaultMaxBeaconSize.
	MaxBeaconSize int

	// BeaconTimeout defaults to DefaultBeaconTimeout.
	BeaconTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Process is the Host for a Go process.
type Process struct {
	globals  sandbox.MapGlobals
	beaconer *beaconer
	hooks    Hooks
	logger   *slog.Logger
}

// NewProcess builds a process host.
func NewProcess(config ProcessConfig) *Process {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxBeaconSize <= 0 {
		config.MaxBeaconSize = DefaultMaxBeaconSize
	}
	if config.BeaconTimeout <= 0 {
		config.BeaconTimeout = DefaultBeaconTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.BeaconTimeout}
	}

	return &Process{
		globals: processGlobals(config.Environment),
		beaconer: &beaconer{
			client:  config.HTTPClient,
			maxSize: config.MaxBeaconSize,
			timeout: config.BeaconTimeout,
			logger:  config.Logger,
		},
		logger: config.Logger,
	}
}

func processGlobals(allowed []string) sandbox.MapGlobals {
	hostname, _ := os.Hostname()
	language := os.Getenv("LANG")
	if index := strings.IndexAny(language, ".@"); index >= 0 {
		language = language[:index]
	}
	language = strings.ReplaceAll(language, "_", "-")

	env := make(map[string]any, len(allowed))
	for _, name := range allowed {
		if value, ok := os.LookupEnv(name); ok {
			env[name] = value
		}
	}

	return sandbox.MapGlobals{
		"navigator": map[string]any{
			"userAgent":           version.UserAgent(),
			"platform":            runtime.GOOS + "/" + runtime.GOARCH,
			"hardwareConcurrency": runtime.NumCPU(),
			"language":            language,
			"onLine":              true,
		},
		"location": map[string]any{
			"hostname": hostname,
		},
		"env": env,
	}
}

func (process *Process) Globals() sandbox.Globals { return process.globals }

// IdleRequester is nil: a process has no idle-callback primitive and
// the scheduler falls back to clock timers.
func (process *Process) IdleRequester() idle.Requester { return nil }

func (process *Process) Beaconer() transport.Beaconer { return process.beaconer }

func (process *Process) OnUnload(fn func()) (remove func()) { return process.hooks.Add(fn) }

// Unload runs the unload hooks once. Beacons sent by the hooks are
// still accepted.
func (process *Process) Unload() {
	if process.hooks.Fire() {
		process.logger.Debug("process host unloaded")
	}
}

// Close refuses further beacons and waits for in-flight ones, or for
// ctx to end.
func (process *Process) Close(ctx context.Context) error {
	process.beaconer.close()
	return process.beaconer.wait(ctx)
}

// Wait blocks until every accepted beacon has finished or ctx ends.
// It may run concurrently with SendBeacon; beacons accepted while it
// waits are waited for too.
func (process *Process) Wait(ctx context.Context) error {
	return process.beaconer.wait(ctx)
}

// Watch blocks until SIGINT, SIGTERM, or the end of ctx. A signal
// triggers Unload; cancellation does not.
func (process *Process) Watch(ctx context.Context) {
	signalContext, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-signalContext.Done()
	if ctx.Err() != nil {
		return
	}
	process.logger.Info("termination signal received, unloading")
	process.Unload()
}

type beaconer struct {
	client  *http.Client
	maxSize int
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	closed   bool
	inflight int
	// drained is closed when inflight drops back to zero. Nil while
	// nothing is in flight.
	drained chan struct{}
}

// SendBeacon queues body for a background POST. It refuses oversize
// payloads and anything after close.
func (b *beaconer) SendBeacon(url, contentType string, body []byte) bool {
	if len(body) > b.maxSize {
		b.logger.Warn("beacon refused: payload too large",
			"size", len(body), "limit", b.maxSize)
		return false
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	if b.inflight == 0 {
		b.drained = make(chan struct{})
	}
	b.inflight++
	b.mu.Unlock()

	payload := bytes.Clone(body)
	go func() {
		defer b.finish()
		b.post(url, contentType, payload)
	}()
	return true
}

func (b *beaconer) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight--
	if b.inflight == 0 {
		close(b.drained)
		b.drained = nil
	}
}

func (b *beaconer) post(url, contentType string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		b.logger.Warn("beacon request invalid", "url", url, "error", err)
		return
	}
	request.Header.Set("Content-Type", contentType)
	request.Header.Set("User-Agent", version.UserAgent())

	response, err := b.client.Do(request)
	if err != nil {
		b.logger.Warn("beacon delivery failed", "url", url, "error", err)
		return
	}
	defer response.Body.Close()
	if response.StatusCode >= 300 {
		b.logger.Warn("beacon rejected",
			"url", url,
			"status", response.StatusCode,
			"body", netutil.ErrorBody(response.Body))
		return
	}
	netutil.Discard(response.Body)
}

func (b *beaconer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *beaconer) wait(ctx context.Context) error {
	b.mu.Lock()
	drained := b.drained
	b.mu.Unlock()
	if drained == nil {
		return nil
	}
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

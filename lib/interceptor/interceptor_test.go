// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/webtrack/lib/clock"
)

func recordingInterceptor(name string, log *[]string) Interceptor {
	return Interceptor{
		Name:      name,
		Install:   func() error { *log = append(*log, "install "+name); return nil },
		Uninstall: func() error { *log = append(*log, "uninstall "+name); return nil },
	}
}

func TestRegistryTeardownMirrorsSetup(t *testing.T) {
	var log []string
	registry := NewRegistry()
	for _, name := range []string{"fetch", "xhr", "history"} {
		if err := registry.Install(recordingInterceptor(name, &log)); err != nil {
			t.Fatalf("Install(%s): %v", name, err)
		}
	}
	if got := registry.Installed(); !slices.Equal(got, []string{"fetch", "xhr", "history"}) {
		t.Fatalf("Installed = %v", got)
	}
	if err := registry.UninstallAll(); err != nil {
		t.Fatalf("UninstallAll: %v", err)
	}
	want := []string{
		"install fetch", "install xhr", "install history",
		"uninstall history", "uninstall xhr", "uninstall fetch",
	}
	if !slices.Equal(log, want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	if len(registry.Installed()) != 0 {
		t.Fatal("registry not empty after UninstallAll")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	var log []string
	registry := NewRegistry()
	registry.Install(recordingInterceptor("fetch", &log))
	if err := registry.Install(recordingInterceptor("fetch", &log)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("error = %v, want ErrDuplicate", err)
	}
	if len(log) != 1 {
		t.Fatalf("duplicate install ran its hook: %v", log)
	}
}

func TestRegistryFailedInstallNotRecorded(t *testing.T) {
	registry := NewRegistry()
	err := registry.Install(Interceptor{Name: "broken", Install: func() error { return errors.New("no") }})
	if err == nil {
		t.Fatal("expected install error")
	}
	if len(registry.Installed()) != 0 {
		t.Fatal("failed interceptor was recorded")
	}
}

func TestRegistryUninstall(t *testing.T) {
	var log []string
	registry := NewRegistry()
	registry.Install(recordingInterceptor("a", &log))
	if err := registry.Uninstall("a"); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if err := registry.Uninstall("a"); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("second Uninstall error = %v", err)
	}
}

func TestUninstallAllJoinsErrors(t *testing.T) {
	var log []string
	registry := NewRegistry()
	registry.Install(recordingInterceptor("first", &log))
	registry.Install(Interceptor{Name: "bad", Uninstall: func() error { return errors.New("stuck") }})
	err := registry.UninstallAll()
	if err == nil || !strings.Contains(err.Error(), "stuck") {
		t.Fatalf("error = %v", err)
	}
	if log[len(log)-1] != "uninstall first" {
		t.Fatal("a failing uninstall stopped the others")
	}
}

func TestHTTPClientObservesAndRestores(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer server.Close()

	client := &http.Client{}
	var exchanges []Exchange
	registry := NewRegistry()
	err := registry.Install(HTTPClient("http", client, clock.Real(), func(exchange Exchange) {
		exchanges = append(exchanges, exchange)
	}))
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	for _, path := range []string{"/ok?token=secret", "/missing"} {
		response, err := client.Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		response.Body.Close()
	}

	if len(exchanges) != 2 {
		t.Fatalf("exchanges = %d, want 2", len(exchanges))
	}
	if exchanges[0].Failed() || exchanges[0].StatusCode != 200 {
		t.Errorf("first exchange = %+v", exchanges[0])
	}
	if strings.Contains(exchanges[0].URL, "secret") {
		t.Errorf("query leaked into observed URL %q", exchanges[0].URL)
	}
	if !exchanges[1].Failed() || exchanges[1].StatusCode != 404 {
		t.Errorf("second exchange = %+v", exchanges[1])
	}

	registry.UninstallAll()
	if client.Transport != nil {
		t.Fatalf("transport not restored: %T", client.Transport)
	}
	response, err := client.Get(server.URL + "/ok")
	if err != nil {
		t.Fatalf("GET after uninstall: %v", err)
	}
	response.Body.Close()
	if len(exchanges) != 2 {
		t.Fatal("observer still called after uninstall")
	}
}

func TestHTTPClientTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	client := &http.Client{Timeout: time.Second}
	var observed Exchange
	interceptor := HTTPClient("http", client, clock.Real(), func(exchange Exchange) { observed = exchange })
	interceptor.Install()
	defer interceptor.Uninstall()

	if _, err := client.Get(endpoint); err == nil {
		t.Fatal("expected request to a closed server to fail")
	}
	if observed.Err == nil || !observed.Failed() || observed.StatusCode != 0 {
		t.Fatalf("observed = %+v", observed)
	}
}

func TestHTTPClientOutOfOrderUninstall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	client := &http.Client{}
	var first, second int
	a := HTTPClient("a", client, clock.Real(), func(Exchange) { first++ })
	b := HTTPClient("b", client, clock.Real(), func(Exchange) { second++ })
	a.Install()
	b.Install()
	a.Uninstall()

	response, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	response.Body.Close()
	if first != 0 || second != 1 {
		t.Fatalf("first=%d second=%d, want 0 and 1", first, second)
	}
	b.Uninstall()
}

func TestLogTapForwardsAndObserves(t *testing.T) {
	var output bytes.Buffer
	tap := NewLogTap(slog.NewTextHandler(&output, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger := slog.New(tap).With("service", "checkout")

	var observed []slog.Record
	observer := LogObserver("errors", tap, slog.LevelError, func(record slog.Record) {
		observed = append(observed, record)
	})
	if err := observer.Install(); err != nil {
		t.Fatalf("Install: %v", err)
	}

	logger.Info("page rendered")
	logger.Error("payment failed", "code", 402)

	if len(observed) != 1 || observed[0].Message != "payment failed" {
		t.Fatalf("observed = %v", observed)
	}
	attrs := map[string]string{}
	observed[0].Attrs(func(attr slog.Attr) bool {
		attrs[attr.Key] = attr.Value.String()
		return true
	})
	if attrs["code"] != "402" || attrs["service"] != "checkout" {
		t.Errorf("attrs = %v", attrs)
	}
	if !strings.Contains(output.String(), "page rendered") || !strings.Contains(output.String(), "payment failed") {
		t.Errorf("output = %q", output.String())
	}

	observer.Uninstall()
	logger.Error("after uninstall")
	if len(observed) != 1 {
		t.Fatal("observer called after uninstall")
	}
}

func TestLogTapObserverBelowHandlerLevel(t *testing.T) {
	var output bytes.Buffer
	tap := NewLogTap(slog.NewTextHandler(&output, &slog.HandlerOptions{Level: slog.LevelError}))
	logger := slog.New(tap)

	calls := 0
	observer := LogObserver("warnings", tap, slog.LevelWarn, func(slog.Record) { calls++ })
	observer.Install()
	logger.Warn("disk nearly full")

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if output.Len() != 0 {
		t.Fatalf("record below handler level was written: %q", output.String())
	}
}

func TestLogTapObserverReentrancy(t *testing.T) {
	tap := NewLogTap(slog.NewTextHandler(io.Discard, nil))
	logger := slog.New(tap)

	calls := 0
	observer := LogObserver("errors", tap, slog.LevelError, func(slog.Record) {
		calls++
		logger.Error("logged from inside the observer")
	})
	observer.Install()
	logger.Error("outer")

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bureau-foundation/webtrack/lib/clock"
	"github.com/bureau-foundation/webtrack/lib/codec"
	"github.com/bureau-foundation/webtrack/lib/event"
	"github.com/bureau-foundation/webtrack/lib/netutil"
)

const (
	defaultMaxEvents = 10000

	// maxDigests bounds the replay detection window.
	maxDigests = 4096
)

// Transport labels recorded with each stored event.
const (
	transportPost   = "post"
	transportBeacon = "beacon"
	transportPixel  = "pixel"
)

// transparentPixel is the body of every pixel response.
var transparentPixel = func() []byte {
	palette := color.Palette{color.Transparent, color.Black}
	var buffer bytes.Buffer
	if err := gif.Encode(&buffer, image.NewPaletted(image.Rect(0, 0, 1, 1), palette), nil); err != nil {
		panic("encoding pixel: " + err.Error())
	}
	return buffer.Bytes()
}()

type serverConfig struct {
	// MaxBodySize bounds POST bodies before decompression. Defaults
	// to netutil.MaxRequestSize.
	MaxBodySize int64

	// MaxEvents caps the store; the oldest events are evicted.
	MaxEvents int

	// Printer, when set, receives every accepted batch.
	Printer *printer

	Clock  clock.Clock
	Logger *slog.Logger
}

// storedEvent is an accepted event with delivery metadata.
type storedEvent struct {
	event.Event
	ReceivedAt time.Time `json:"receivedAt"`
	Transport  string    `json:"transport"`
}

type statusResponse struct {
	Batches       uint64            `json:"batches"`
	Events        uint64            `json:"events"`
	Duplicates    uint64            `json:"duplicates"`
	Rejected      uint64            `json:"rejected"`
	Evicted       uint64            `json:"evicted"`
	Stored        int               `json:"stored"`
	ByTransport   map[string]uint64 `json:"byTransport"`
	UptimeSeconds float64           `json:"uptimeSeconds"`
}

// collectorServer holds the in-memory store. Handlers are safe for
// concurrent use.
type collectorServer struct {
	maxBodySize int64
	maxEvents   int
	printer     *printer
	clock       clock.Clock
	logger      *slog.Logger
	startedAt   time.Time

	mu          sync.Mutex
	events      []storedEvent
	digests     map[string]struct{}
	digestOrder []string
	batches     uint64
	accepted    uint64
	duplicates  uint64
	rejected    uint64
	evicted     uint64
	byTransport map[string]uint64
}

func newCollectorServer(config serverConfig) *collectorServer {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = netutil.MaxRequestSize
	}
	if config.MaxEvents <= 0 {
		config.MaxEvents = defaultMaxEvents
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &collectorServer{
		maxBodySize: config.MaxBodySize,
		maxEvents:   config.MaxEvents,
		printer:     config.Printer,
		clock:       config.Clock,
		logger:      config.Logger,
		startedAt:   config.Clock.Now(),
		digests:     make(map[string]struct{}),
		byTransport: make(map[string]uint64),
	}
}

// Handler returns the routed, CORS-enabled handler.
func (s *collectorServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /collect", s.handlePost)
	mux.HandleFunc("GET /collect", s.handlePixel)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("DELETE /events", s.handleClear)
	mux.HandleFunc("GET /status", s.handleStatus)
	return allowCrossOrigin(mux)
}

// allowCrossOrigin lets pages on any origin deliver to the collector.
func allowCrossOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			header.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			header.Set("Access-Control-Allow-Headers", "Content-Type, Content-Encoding, "+codec.DigestHeader)
			header.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *collectorServer) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := netutil.ReadRequest(r.Body, s.maxBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, netutil.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		s.reject(w, status, err)
		return
	}

	compression, err := codec.CompressionForContentEncoding(r.Header.Get("Content-Encoding"))
	if err != nil {
		s.reject(w, http.StatusUnsupportedMediaType, err)
		return
	}
	encoding, err := codec.EncodingForContentType(r.Header.Get("Content-Type"))
	if err != nil {
		s.reject(w, http.StatusUnsupportedMediaType, err)
		return
	}
	data, err := codec.Decompress(body, compression)
	if err != nil {
		s.reject(w, http.StatusBadRequest, err)
		return
	}

	digest := codec.Digest(data)
	declared := r.Header.Get(codec.DigestHeader)
	if declared != "" && declared != digest {
		s.reject(w, http.StatusBadRequest, fmt.Errorf("digest mismatch: header %s, body %s", declared, digest))
		return
	}

	var batch []event.Event
	if err := codec.Unmarshal(data, encoding, &batch); err != nil {
		s.reject(w, http.StatusBadRequest, err)
		return
	}

	// Beacons carry no digest header; the tracker's XHR path always
	// sets one.
	transport := transportPost
	if declared == "" {
		transport = transportBeacon
	}
	if err := s.accept(batch, digest, transport); err != nil {
		s.reject(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *collectorServer) handlePixel(w http.ResponseWriter, r *http.Request) {
	// The pixel always answers with an image so the page never sees
	// a broken resource.
	defer writePixel(w)

	encoded := r.URL.Query().Get("data")
	if encoded == "" {
		s.countRejected(errors.New("pixel request without data"))
		return
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.countRejected(fmt.Errorf("decoding pixel data: %w", err))
		return
	}
	var batch []event.Event
	if err := json.Unmarshal(data, &batch); err != nil {
		s.countRejected(fmt.Errorf("decoding pixel batch: %w", err))
		return
	}
	if err := s.accept(batch, codec.Digest(data), transportPixel); err != nil {
		s.countRejected(err)
	}
}

func writePixel(w http.ResponseWriter) {
	header := w.Header()
	header.Set("Content-Type", "image/gif")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Length", strconv.Itoa(len(transparentPixel)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(transparentPixel)
}

// accept validates and stores a batch. A batch whose digest was seen
// recently is counted as a duplicate and not stored.
func (s *collectorServer) accept(batch []event.Event, digest, transport string) error {
	for index := range batch {
		if err := batch[index].Validate(); err != nil {
			return fmt.Errorf("event %d: %w", index, err)
		}
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.batches++
	if _, seen := s.digests[digest]; seen {
		s.duplicates++
		s.mu.Unlock()
		s.logger.Info("duplicate batch ignored", "digest", digest, "events", len(batch), "transport", transport)
		return nil
	}
	s.rememberLocked(digest)
	stored := make([]storedEvent, len(batch))
	for index, record := range batch {
		stored[index] = storedEvent{Event: record, ReceivedAt: now, Transport: transport}
	}
	s.events = append(s.events, stored...)
	if overflow := len(s.events) - s.maxEvents; overflow > 0 {
		s.events = append([]storedEvent(nil), s.events[overflow:]...)
		s.evicted += uint64(overflow)
	}
	s.accepted += uint64(len(batch))
	s.byTransport[transport] += uint64(len(batch))
	s.mu.Unlock()

	s.logger.Debug("batch accepted", "events", len(batch), "transport", transport, "digest", digest)
	if s.printer != nil {
		s.printer.Batch(now, transport, stored)
	}
	return nil
}

func (s *collectorServer) rememberLocked(digest string) {
	s.digests[digest] = struct{}{}
	s.digestOrder = append(s.digestOrder, digest)
	if len(s.digestOrder) > maxDigests {
		delete(s.digests, s.digestOrder[0])
		s.digestOrder = s.digestOrder[1:]
	}
}

func (s *collectorServer) reject(w http.ResponseWriter, status int, err error) {
	s.countRejected(err)
	http.Error(w, err.Error(), status)
}

func (s *collectorServer) countRejected(err error) {
	s.mu.Lock()
	s.rejected++
	s.mu.Unlock()
	s.logger.Warn("batch rejected", "error", err)
}

func (s *collectorServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, fmt.Sprintf("invalid limit %q", raw), http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	eventType := query.Get("type")

	s.mu.Lock()
	matched := make([]storedEvent, 0, len(s.events))
	for _, record := range s.events {
		if eventType == "" || record.Type == eventType {
			matched = append(matched, record)
		}
	}
	s.mu.Unlock()

	// A limit keeps the most recent events.
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	writeJSON(w, matched)
}

func (s *collectorServer) handleClear(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cleared := len(s.events)
	s.events = nil
	clear(s.digests)
	s.digestOrder = nil
	s.mu.Unlock()
	s.logger.Info("store cleared", "events", cleared)
	w.WriteHeader(http.StatusNoContent)
}

func (s *collectorServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

func (s *collectorServer) status() statusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTransport := make(map[string]uint64, len(s.byTransport))
	for name, count := range s.byTransport {
		byTransport[name] = count
	}
	return statusResponse{
		Batches:       s.batches,
		Events:        s.accepted,
		Duplicates:    s.duplicates,
		Rejected:      s.rejected,
		Evicted:       s.evicted,
		Stored:        len(s.events),
		ByTransport:   byTransport,
		UptimeSeconds: s.clock.Since(s.startedAt).Seconds(),
	}
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(value)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/webtrack/lib/codec"
	"github.com/bureau-foundation/webtrack/lib/event"
	"github.com/bureau-foundation/webtrack/lib/netutil"
)

// Beaconer is the host's fire-and-forget POST primitive. SendBeacon
// reports whether the payload was accepted for delivery, not whether
// it arrived.
type Beaconer interface {
	SendBeacon(url, contentType string, body []byte) bool
}

// DefaultMaxURLLength bounds pixel URLs. Longer batches go over XHR.
const DefaultMaxURLLength = 8192

// Config holds configuration for creating a Client.
type Config struct {
	// Endpoint is the collector URL. Must be http or https.
	Endpoint string

	// Encoding of XHR bodies. Defaults to JSON.
	Encoding codec.Encoding

	// Compression of XHR bodies. Defaults to none.
	Compression codec.Compression

	// MaxURLLength overrides DefaultMaxURLLength when positive.
	MaxURLLength int

	// UserAgent is sent on XHR and pixel requests when set.
	UserAgent string

	// HTTPClient is used for XHR and pixel requests. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// Beaconer carries Beacon dispatches. When nil, Beacon falls
	// back to XHR.
	Beaconer Beaconer

	// Logger is used for structured logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Client sends event batches to a collector.
type Client struct {
	endpoint     *url.URL
	encoding     codec.Encoding
	compression  codec.Compression
	maxURLLength int
	userAgent    string
	httpClient   *http.Client
	beaconer     Beaconer
	logger       *slog.Logger
}

// NewClient validates the configuration and creates a Client.
func NewClient(config Config) (*Client, error) {
	endpoint, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("transport: parsing endpoint: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("transport: endpoint must be http or https (got %q)", config.Endpoint)
	}
	if endpoint.Host == "" {
		return nil, fmt.Errorf("transport: endpoint %q has no host", config.Endpoint)
	}

	encoding, err := codec.ParseEncoding(string(config.Encoding))
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	compression, err := codec.ParseCompression(string(config.Compression))
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	maxURLLength := config.MaxURLLength
	if maxURLLength <= 0 {
		maxURLLength = DefaultMaxURLLength
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint:     endpoint,
		encoding:     encoding,
		compression:  compression,
		maxURLLength: maxURLLength,
		userAgent:    config.UserAgent,
		httpClient:   httpClient,
		beaconer:     config.Beaconer,
		logger:       logger,
	}, nil
}

// BeaconSupported reports whether Beacon dispatch has a primitive
// behind it.
func (client *Client) BeaconSupported() bool {
	return client.beaconer != nil
}

// Endpoint returns the collector URL.
func (client *Client) Endpoint() string {
	return client.endpoint.String()
}

// Send delivers a batch with the requested strategy and returns the
// strategy that actually carried it. Beacon and Image dispatch never
// return an error once a body was produced; XHR returns transport
// errors and *StatusError for non-2xx answers.
func (client *Client) Send(ctx context.Context, events []*event.Event, strategy Strategy) (Strategy, error) {
	if len(events) == 0 {
		return strategy, nil
	}

	switch strategy {
	case Beacon:
		if client.sendBeacon(events) {
			return Beacon, nil
		}
	case Image:
		sent, err := client.sendImage(ctx, events)
		if err != nil {
			return Image, err
		}
		if sent {
			return Image, nil
		}
	case XHR, Auto:
	default:
		return strategy, fmt.Errorf("transport: unknown strategy %q", strategy)
	}
	return XHR, client.sendXHR(ctx, events)
}

// sendBeacon reports whether the beaconer accepted the batch.
func (client *Client) sendBeacon(events []*event.Event) bool {
	if client.beaconer == nil {
		client.logger.Debug("no beacon primitive, using xhr", "events", len(events))
		return false
	}
	body, err := json.Marshal(events)
	if err != nil {
		client.logger.Warn("encoding beacon batch failed, using xhr", "error", err)
		return false
	}
	if !client.beaconer.SendBeacon(client.endpoint.String(), codec.EncodingJSON.ContentType(), body) {
		client.logger.Info("beacon refused, using xhr", "events", len(events), "bytes", len(body))
		return false
	}
	client.logger.Debug("batch handed to beacon", "events", len(events), "bytes", len(body))
	return true
}

// sendImage reports false when the pixel URL would be too long.
func (client *Client) sendImage(ctx context.Context, events []*event.Event) (bool, error) {
	body, err := json.Marshal(events)
	if err != nil {
		return false, fmt.Errorf("transport: encoding pixel batch: %w", err)
	}
	pixelURL := *client.endpoint
	query := pixelURL.Query()
	query.Set("data", base64.StdEncoding.EncodeToString(body))
	pixelURL.RawQuery = query.Encode()
	target := pixelURL.String()
	if len(target) > client.maxURLLength {
		client.logger.Info("pixel url too long, using xhr",
			"events", len(events),
			"length", len(target),
			"max", client.maxURLLength,
		)
		return false, nil
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, fmt.Errorf("transport: creating pixel request: %w", err)
	}
	client.setUserAgent(request)
	response, err := client.httpClient.Do(request)
	if err != nil {
		// A pixel has no failure path; the batch counts as sent.
		client.logger.Debug("pixel request failed", "error", err, "events", len(events))
		return true, nil
	}
	netutil.Discard(response.Body)
	response.Body.Close()
	client.logger.Debug("batch sent as pixel", "events", len(events), "status", response.StatusCode)
	return true, nil
}

func (client *Client) sendXHR(ctx context.Context, events []*event.Event) error {
	body, err := codec.Marshal(events, client.encoding)
	if err != nil {
		return fmt.Errorf("transport: encoding batch: %w", err)
	}
	digest := codec.Digest(body)
	payload, err := codec.Compress(body, client.compression)
	if err != nil {
		return fmt.Errorf("transport: compressing batch: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("transport: creating request: %w", err)
	}
	request.Header.Set("Content-Type", client.encoding.ContentType())
	if contentEncoding := client.compression.ContentEncoding(); contentEncoding != "" {
		request.Header.Set("Content-Encoding", contentEncoding)
	}
	request.Header.Set(codec.DigestHeader, digest)
	client.setUserAgent(request)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("transport: posting batch: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &StatusError{
			StatusCode: response.StatusCode,
			Body:       truncate(netutil.ErrorBody(response.Body), 256),
		}
	}
	netutil.Discard(response.Body)
	client.logger.Debug("batch posted",
		"events", len(events),
		"bytes", len(payload),
		"encoding", client.encoding,
		"compression", client.compression,
	)
	return nil
}

func (client *Client) setUserAgent(request *http.Request) {
	if client.userAgent != "" {
		request.Header.Set("User-Agent", client.userAgent)
	}
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return strings.ToValidUTF8(text[:limit], "") + "..."
}

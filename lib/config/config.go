// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/webtrack/lib/codec"
	"github.com/bureau-foundation/webtrack/lib/event"
	"github.com/bureau-foundation/webtrack/lib/idle"
	"github.com/bureau-foundation/webtrack/lib/queue"
	"github.com/bureau-foundation/webtrack/lib/tracker"
	"github.com/bureau-foundation/webtrack/lib/transport"
	"github.com/bureau-foundation/webtrack/sandbox"
)

// EnvVar names the variable Load reads.
const EnvVar = "WEBTRACK_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// BuiltinPlugins are the plugin names Plugins.Enabled may list.
var BuiltinPlugins = []string{"error-capture", "performance", "behavior"}

// Config is the file model.
type Config struct {
	Environment Environment `yaml:"environment" json:"environment"`

	// Endpoint is the collector URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Strategy is auto, beacon, xhr, or img.
	Strategy string `yaml:"strategy" json:"strategy"`

	// Encoding is json or cbor; Compression is none, zstd, or lz4.
	Encoding    string `yaml:"encoding" json:"encoding"`
	Compression string `yaml:"compression" json:"compression"`

	SampleRate float64        `yaml:"sampleRate" json:"sampleRate"`
	GlobalData map[string]any `yaml:"globalData" json:"globalData"`

	Queue     QueueConfig     `yaml:"queue" json:"queue"`
	Idle      IdleConfig      `yaml:"idle" json:"idle"`
	Transport TransportConfig `yaml:"transport" json:"transport"`
	Sandbox   SandboxConfig   `yaml:"sandbox" json:"sandbox"`
	Events    EventsConfig    `yaml:"events" json:"events"`
	Plugins   PluginsConfig   `yaml:"plugins" json:"plugins"`
	Host      HostConfig      `yaml:"host" json:"host"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *Overrides `yaml:"development,omitempty" json:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty" json:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty" json:"production,omitempty"`
}

// QueueConfig sizes the priority queue.
type QueueConfig struct {
	MaxLength      int      `yaml:"maxLength" json:"maxLength"`
	BatchSize      int      `yaml:"batchSize" json:"batchSize"`
	OverflowPolicy string   `yaml:"overflowPolicy" json:"overflowPolicy"`
	FlushInterval  Duration `yaml:"flushInterval" json:"flushInterval"`
	AutoFlush      bool     `yaml:"autoFlush" json:"autoFlush"`
}

// IdleConfig tunes the idle scheduler.
type IdleConfig struct {
	MaxTasksPerIdle  int      `yaml:"maxTasksPerIdle" json:"maxTasksPerIdle"`
	MinRemainingTime Duration `yaml:"minRemainingTime" json:"minRemainingTime"`
	Timeout          Duration `yaml:"timeout" json:"timeout"`
	FallbackDelay    Duration `yaml:"fallbackDelay" json:"fallbackDelay"`
	FallbackBudget   Duration `yaml:"fallbackBudget" json:"fallbackBudget"`
}

// TransportConfig tunes delivery.
type TransportConfig struct {
	ImageBatchThreshold int      `yaml:"imageBatchThreshold" json:"imageBatchThreshold"`
	MaxURLLength        int      `yaml:"maxUrlLength" json:"maxUrlLength"`
	MaxAttempts         int      `yaml:"maxAttempts" json:"maxAttempts"`
	SendTimeout         Duration `yaml:"sendTimeout" json:"sendTimeout"`
}

// SandboxConfig configures the plugin sandbox.
type SandboxConfig struct {
	AllowList     []string       `yaml:"allowList" json:"allowList"`
	DenyList      []string       `yaml:"denyList" json:"denyList"`
	Strict        bool           `yaml:"strict" json:"strict"`
	AutoRestore   bool           `yaml:"autoRestore" json:"autoRestore"`
	ScriptTimeout Duration       `yaml:"scriptTimeout" json:"scriptTimeout"`
	Context       map[string]any `yaml:"context" json:"context"`
}

// EventsConfig overrides the urgency sets.
type EventsConfig struct {
	Critical    []string `yaml:"critical" json:"critical"`
	LowPriority []string `yaml:"lowPriority" json:"lowPriority"`
}

// PluginsConfig selects plugins.
type PluginsConfig struct {
	// Enabled lists built-in plugins to register.
	Enabled []string `yaml:"enabled" json:"enabled"`

	// ScriptDir holds JavaScript plugins. Empty disables them.
	ScriptDir string `yaml:"scriptDir" json:"scriptDir"`

	// Options is each plugin's configuration slice, by name.
	Options map[string]map[string]any `yaml:"options" json:"options"`
}

// HostConfig configures the process host.
type HostConfig struct {
	// Environment lists variables exposed to plugins as env.NAME.
	Environment   []string `yaml:"environment" json:"environment"`
	MaxBeaconSize int      `yaml:"maxBeaconSize" json:"maxBeaconSize"`
}

// Overrides holds the fields an environment section may replace.
// Empty strings and nil pointers leave the base value alone;
// GlobalData and plugin options are merged key by key.
type Overrides struct {
	Endpoint    string         `yaml:"endpoint" json:"endpoint"`
	Strategy    string         `yaml:"strategy" json:"strategy"`
	Encoding    string         `yaml:"encoding" json:"encoding"`
	Compression string         `yaml:"compression" json:"compression"`
	SampleRate  *float64       `yaml:"sampleRate" json:"sampleRate"`
	GlobalData  map[string]any `yaml:"globalData" json:"globalData"`

	FlushInterval *Duration `yaml:"flushInterval" json:"flushInterval"`
	Strict        *bool     `yaml:"strict" json:"strict"`

	Plugins *PluginsConfig `yaml:"plugins" json:"plugins"`
}

// Default returns the defaults a config file is decoded over.
func Default() *Config {
	queueDefaults := queue.DefaultConfig()
	idleDefaults := idle.DefaultConfig()
	return &Config{
		Environment: Development,
		Strategy:    string(transport.Auto),
		Encoding:    string(codec.EncodingJSON),
		Compression: string(codec.CompressionNone),
		SampleRate:  1,
		Queue: QueueConfig{
			MaxLength:      queueDefaults.MaxLength,
			BatchSize:      queueDefaults.BatchSize,
			OverflowPolicy: string(queueDefaults.OverflowPolicy),
			FlushInterval:  Duration(queueDefaults.FlushInterval),
			AutoFlush:      queueDefaults.AutoFlush,
		},
		Idle: IdleConfig{
			MaxTasksPerIdle:  idleDefaults.MaxTasksPerIdle,
			MinRemainingTime: Duration(idleDefaults.MinRemainingTime),
			Timeout:          Duration(idleDefaults.Timeout),
			FallbackDelay:    Duration(idleDefaults.FallbackDelay),
			FallbackBudget:   Duration(idleDefaults.FallbackBudget),
		},
		Transport: TransportConfig{
			ImageBatchThreshold: transport.DefaultImageBatchThreshold,
			MaxURLLength:        transport.DefaultMaxURLLength,
			MaxAttempts:         event.DefaultMaxAttempts,
			SendTimeout:         Duration(tracker.DefaultSendTimeout),
		},
		Sandbox: SandboxConfig{
			DenyList:      slices.Clone(sandbox.DefaultDenyList),
			Strict:        true,
			AutoRestore:   true,
			ScriptTimeout: Duration(sandbox.DefaultScriptTimeout),
		},
		Plugins: PluginsConfig{
			Enabled: slices.Clone(BuiltinPlugins),
		},
	}
}

// Load loads configuration from the file named by WEBTRACK_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your webtrack config file, or use --config", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, applies the matching
// environment section, and expands variables. It does not validate.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case ".json", ".jsonc":
		decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		decoder.DisallowUnknownFields()
		return decoder.Decode(c)
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml, .json, or .jsonc)", filepath.Ext(path))
	}
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Endpoint != "" {
		c.Endpoint = overrides.Endpoint
	}
	if overrides.Strategy != "" {
		c.Strategy = overrides.Strategy
	}
	if overrides.Encoding != "" {
		c.Encoding = overrides.Encoding
	}
	if overrides.Compression != "" {
		c.Compression = overrides.Compression
	}
	if overrides.SampleRate != nil {
		c.SampleRate = *overrides.SampleRate
	}
	if len(overrides.GlobalData) > 0 {
		if c.GlobalData == nil {
			c.GlobalData = make(map[string]any, len(overrides.GlobalData))
		}
		maps.Copy(c.GlobalData, overrides.GlobalData)
	}
	if overrides.FlushInterval != nil {
		c.Queue.FlushInterval = *overrides.FlushInterval
	}
	if overrides.Strict != nil {
		c.Sandbox.Strict = *overrides.Strict
	}
	if plugins := overrides.Plugins; plugins != nil {
		if plugins.Enabled != nil {
			c.Plugins.Enabled = plugins.Enabled
		}
		if plugins.ScriptDir != "" {
			c.Plugins.ScriptDir = plugins.ScriptDir
		}
		for name, options := range plugins.Options {
			if c.Plugins.Options == nil {
				c.Plugins.Options = make(map[string]map[string]any)
			}
			if c.Plugins.Options[name] == nil {
				c.Plugins.Options[name] = make(map[string]any)
			}
			maps.Copy(c.Plugins.Options[name], options)
		}
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":         os.Getenv("HOME"),
		"WEBTRACK_ENV": string(c.Environment),
	}
	c.Endpoint = expandVars(c.Endpoint, vars)
	c.Plugins.ScriptDir = expandVars(c.Plugins.ScriptDir, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. Provided vars win
// over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the file model and the tracker configuration it
// converts to, reporting every problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	if c.Endpoint != "" {
		parsed, err := url.Parse(c.Endpoint)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("endpoint must be an absolute http(s) URL, got %q", c.Endpoint))
		}
	}
	if _, err := queue.ParseOverflowPolicy(c.Queue.OverflowPolicy); err != nil {
		errs = append(errs, fmt.Errorf("queue.overflowPolicy: %w", err))
	}
	for _, name := range c.Plugins.Enabled {
		if !slices.Contains(BuiltinPlugins, name) {
			errs = append(errs, fmt.Errorf("plugins.enabled: unknown plugin %q (want one of %v)", name, BuiltinPlugins))
		}
	}
	if c.Host.MaxBeaconSize < 0 {
		errs = append(errs, fmt.Errorf("host.maxBeaconSize must not be negative"))
	}

	if err := c.TrackerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TrackerConfig converts the file model. The caller supplies Host,
// Clock, Logger, and HTTPClient.
func (c *Config) TrackerConfig() tracker.Config {
	config := tracker.DefaultConfig()
	config.Endpoint = c.Endpoint
	config.Strategy = transport.Strategy(c.Strategy)
	config.Encoding = codec.Encoding(c.Encoding)
	config.Compression = codec.Compression(c.Compression)
	config.ImageBatchThreshold = c.Transport.ImageBatchThreshold
	config.MaxURLLength = c.Transport.MaxURLLength
	config.MaxAttempts = c.Transport.MaxAttempts
	config.SendTimeout = time.Duration(c.Transport.SendTimeout)
	config.SampleRate = c.SampleRate
	config.GlobalData = c.GlobalData
	config.PluginOptions = c.Plugins.Options
	config.CriticalTypes = c.Events.Critical
	config.LowPriorityTypes = c.Events.LowPriority

	config.Queue = queue.Config{
		MaxLength:      c.Queue.MaxLength,
		BatchSize:      c.Queue.BatchSize,
		OverflowPolicy: queue.OverflowPolicy(c.Queue.OverflowPolicy),
		FlushInterval:  time.Duration(c.Queue.FlushInterval),
		AutoFlush:      c.Queue.AutoFlush,
	}
	config.Idle = idle.Config{
		MaxTasksPerIdle:  c.Idle.MaxTasksPerIdle,
		MinRemainingTime: time.Duration(c.Idle.MinRemainingTime),
		Timeout:          time.Duration(c.Idle.Timeout),
		FallbackDelay:    time.Duration(c.Idle.FallbackDelay),
		FallbackBudget:   time.Duration(c.Idle.FallbackBudget),
	}
	config.Sandbox = sandbox.Config{
		AllowList:     c.Sandbox.AllowList,
		DenyList:      c.Sandbox.DenyList,
		Strict:        c.Sandbox.Strict,
		AutoRestore:   c.Sandbox.AutoRestore,
		ScriptTimeout: time.Duration(c.Sandbox.ScriptTimeout),
		Context:       c.Sandbox.Context,
	}
	return config
}

// PluginEnabled reports whether a built-in plugin is enabled.
func (c *Config) PluginEnabled(name string) bool {
	return slices.Contains(c.Plugins.Enabled, name)
}

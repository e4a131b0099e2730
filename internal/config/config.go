// Package config loads the precacd daemon configuration from JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/signalsfoundry/dfs-precac/internal/observability"
	"github.com/signalsfoundry/dfs-precac/internal/precac"
	"github.com/signalsfoundry/dfs-precac/model"
)

// Defaults for the process-level settings.
const (
	DefaultHTTPAddr    = ":9090"
	DefaultGRPCAddr    = ":50051"
	DefaultJournalPath = "precac.db"
	DefaultTick        = "1s"

	maxFileSize = 1 << 20
)

// DaemonConfig is the root of the precacd configuration file. Optional
// tuning fields are pointers so a partial file keeps the defaults.
type DaemonConfig struct {
	HTTPAddr    string `json:"http_addr,omitempty"`
	GRPCAddr    string `json:"grpc_addr,omitempty"`
	JournalPath string `json:"journal_path,omitempty"`
	// CatalogPath optionally replaces a built-in channel table.
	CatalogPath string  `json:"catalog_path,omitempty"`
	Tick        *string `json:"tick,omitempty"` // duration string like "1s"

	Precac  PrecacTuning                `json:"precac"`
	Radios  []RadioSpec                 `json:"radios"`
	Tracing observability.TracingConfig `json:"tracing"`
}

// PrecacTuning overrides scheduler settings.
type PrecacTuning struct {
	Enabled         *bool `json:"enabled,omitempty"`
	LegacyChain     *bool `json:"legacy_chain,omitempty"`
	Agile           *bool `json:"agile,omitempty"`
	Agile160        *bool `json:"agile_160,omitempty"`
	TimeoutOverride *int  `json:"timeout_override,omitempty"`
	AgileDetectorID *int  `json:"agile_detector_id,omitempty"`

	LegacyCAC        *string `json:"legacy_cac,omitempty"`
	LegacyWeatherCAC *string `json:"legacy_weather_cac,omitempty"`
	LegacyBuffer     *string `json:"legacy_buffer,omitempty"`
	AgileMin         *string `json:"agile_min,omitempty"`
	AgileMax         *string `json:"agile_max,omitempty"`
	AgileWeatherMin  *string `json:"agile_weather_min,omitempty"`
	AgileWeatherMax  *string `json:"agile_weather_max,omitempty"`
	AgileBuffer      *string `json:"agile_buffer,omitempty"`
	NOLDuration      *string `json:"nol_duration,omitempty"`
}

// RadioSpec describes one radio and its initial operating channel.
type RadioSpec struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
	// Center1 is the primary center; Center2 the 80+80 secondary or the
	// 160 MHz center.
	Center1  int  `json:"center1"`
	Center2  int  `json:"center2,omitempty"`
	WidthMHz int  `json:"width_mhz"`
	Agile    bool `json:"agile,omitempty"`
}

// DefaultConfig returns a config with one agile ETSI radio on channel 42.
func DefaultConfig() *DaemonConfig {
	tick := DefaultTick
	enabled := true
	agile := true
	return &DaemonConfig{
		HTTPAddr:    DefaultHTTPAddr,
		GRPCAddr:    DefaultGRPCAddr,
		JournalPath: DefaultJournalPath,
		Tick:        &tick,
		Precac: PrecacTuning{
			Enabled: &enabled,
			Agile:   &agile,
		},
		Radios:  []RadioSpec{{Name: "wifi0", Domain: "ETSI", Center1: 42, WidthMHz: 80, Agile: true}},
		Tracing: observability.TracingConfig{Exporter: observability.ExporterStdout},
	}
}

// LoadConfig reads a DaemonConfig from a JSON file. Fields missing from the
// file keep the values of DefaultConfig, except Radios, which is replaced
// when present.
func LoadConfig(path string) (*DaemonConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	defaultRadios := cfg.Radios
	cfg.Radios = nil
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if cfg.Radios == nil {
		cfg.Radios = defaultRadios
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills empty process settings.
func (c *DaemonConfig) ApplyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.GRPCAddr == "" {
		c.GRPCAddr = DefaultGRPCAddr
	}
	if c.JournalPath == "" {
		c.JournalPath = DefaultJournalPath
	}
	for i := range c.Radios {
		if c.Radios[i].Name == "" {
			c.Radios[i].Name = fmt.Sprintf("radio%d", i)
		}
	}
}

// Validate checks that every value can be applied.
func (c *DaemonConfig) Validate() error {
	if c.Tick != nil && *c.Tick != "" {
		d, err := time.ParseDuration(*c.Tick)
		if err != nil {
			return fmt.Errorf("invalid tick '%s': %w", *c.Tick, err)
		}
		if d <= 0 {
			return fmt.Errorf("tick must be positive, got %s", d)
		}
	}
	if _, err := c.PrecacConfig(); err != nil {
		return err
	}
	if err := c.Tracing.Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Radios))
	for i, r := range c.Radios {
		if seen[r.Name] {
			return fmt.Errorf("radio %d: duplicate name %q", i, r.Name)
		}
		seen[r.Name] = true
		if model.ParseDomain(r.Domain) == model.DomainUninit {
			return fmt.Errorf("radio %q: unknown domain %q", r.Name, r.Domain)
		}
		if r.Width() == model.WidthUnknown {
			return fmt.Errorf("radio %q: unsupported width %d MHz", r.Name, r.WidthMHz)
		}
		if r.Center1 <= 0 {
			return fmt.Errorf("radio %q: center1 must be positive, got %d", r.Name, r.Center1)
		}
	}
	return nil
}

// RadioNames lists the configured radio names and their distinct
// regulatory domains, in file order.
func (c *DaemonConfig) RadioNames() (names, domains []string) {
	seen := make(map[string]bool)
	for _, r := range c.Radios {
		names = append(names, r.Name)
		d := model.ParseDomain(r.Domain).String()
		if !seen[d] {
			seen[d] = true
			domains = append(domains, d)
		}
	}
	return names, domains
}

// GetTick returns the clock step, or 1s when unset.
func (c *DaemonConfig) GetTick() time.Duration {
	if c.Tick != nil && *c.Tick != "" {
		if d, err := time.ParseDuration(*c.Tick); err == nil && d > 0 {
			return d
		}
	}
	return time.Second
}

// PrecacConfig builds the scheduler config from the defaults and the
// tuning overrides.
func (c *DaemonConfig) PrecacConfig() (precac.Config, error) {
	t := c.Precac
	cfg := precac.DefaultConfig()

	setBool(&cfg.Enabled, t.Enabled)
	setBool(&cfg.Capability.LegacyChain, t.LegacyChain)
	setBool(&cfg.Capability.Agile, t.Agile)
	setBool(&cfg.Capability.Agile160, t.Agile160)
	if t.TimeoutOverride != nil {
		cfg.TimeoutOverride = *t.TimeoutOverride
	}
	if t.AgileDetectorID != nil {
		cfg.AgileDetectorID = *t.AgileDetectorID
	}

	durations := []struct {
		name string
		raw  *string
		dst  *time.Duration
	}{
		{"legacy_cac", t.LegacyCAC, &cfg.Legacy.CAC},
		{"legacy_weather_cac", t.LegacyWeatherCAC, &cfg.Legacy.WeatherCAC},
		{"legacy_buffer", t.LegacyBuffer, &cfg.Legacy.Buffer},
		{"agile_min", t.AgileMin, &cfg.Agile.Min},
		{"agile_max", t.AgileMax, &cfg.Agile.Max},
		{"agile_weather_min", t.AgileWeatherMin, &cfg.Agile.WeatherMin},
		{"agile_weather_max", t.AgileWeatherMax, &cfg.Agile.WeatherMax},
		{"agile_buffer", t.AgileBuffer, &cfg.Agile.Buffer},
		{"nol_duration", t.NOLDuration, &cfg.NOLDuration},
	}
	for _, d := range durations {
		if d.raw == nil || *d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(*d.raw)
		if err != nil {
			return precac.Config{}, fmt.Errorf("invalid %s '%s': %w", d.name, *d.raw, err)
		}
		if v <= 0 {
			return precac.Config{}, fmt.Errorf("%s must be positive, got %s", d.name, v)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return precac.Config{}, err
	}
	return cfg, nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// Width maps the configured bandwidth to a model width. A 80 MHz radio
// with a second center runs 80+80.
func (r RadioSpec) Width() model.Width {
	w := model.ParseWidth(r.WidthMHz)
	if w == model.Width80 && r.Center2 != 0 {
		return model.Width80P80
	}
	return w
}

// Operating returns the radio's initial operating channel. isDFS reports
// whether a channel needs CAC in the radio's domain.
func (r RadioSpec) Operating(isDFS func(model.Channel) bool) model.OperatingChannel {
	op := model.OperatingChannel{
		Center1: model.Channel(r.Center1),
		Center2: model.Channel(r.Center2),
		Width:   r.Width(),
	}
	if isDFS != nil {
		op.DFS = isDFS(op.Center1)
		if sec := op.SecondarySegment(); sec != 0 {
			op.DFS2 = isDFS(sec)
		}
	}
	return op
}

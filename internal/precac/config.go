package precac

import (
	"fmt"
	"time"
)

// Capability reports what the hardware and firmware can do.
type Capability struct {
	// LegacyChain is set when a dedicated chain can run CAC on a secondary
	// 80 MHz segment while the primary keeps operating.
	LegacyChain bool `json:"legacy_chain"`
	// Agile is set when the firmware offers a shared off-channel detector.
	Agile bool `json:"agile"`
	// Agile160 is set when the agile detector can serve radios operating
	// at 160 or 80+80 MHz.
	Agile160 bool `json:"agile_160"`
}

// LegacyDurations are the CAC periods used on the secondary segment.
type LegacyDurations struct {
	CAC        time.Duration `json:"cac"`
	WeatherCAC time.Duration `json:"weather_cac"`
	Buffer     time.Duration `json:"buffer"`
}

// AgileDurations bound the off-channel CAC performed by the agile detector.
type AgileDurations struct {
	Min        time.Duration `json:"min"`
	Max        time.Duration `json:"max"`
	WeatherMin time.Duration `json:"weather_min"`
	WeatherMax time.Duration `json:"weather_max"`
	Buffer     time.Duration `json:"buffer"`
}

// Config holds scheduler settings.
type Config struct {
	Enabled    bool       `json:"enabled"`
	Capability Capability `json:"capability"`
	// TimeoutOverride forces the CAC duration in seconds; -1 uses the
	// computed defaults.
	TimeoutOverride int             `json:"timeout_override"`
	Legacy          LegacyDurations `json:"legacy"`
	Agile           AgileDurations  `json:"agile"`
	// NOLDuration is how long a radar-hit subchannel stays barred when the
	// scheduler owns NOL expiry.
	NOLDuration time.Duration `json:"nol_duration"`
	// AgileDetectorID identifies radar reports from the agile detector.
	AgileDetectorID int `json:"agile_detector_id"`
}

// Default timing values.
const (
	DefaultLegacyCAC        = 60 * time.Second
	DefaultLegacyWeatherCAC = 600 * time.Second
	DefaultLegacyBuffer     = 5 * time.Second

	DefaultAgileMin        = 6 * time.Minute
	DefaultAgileMax        = 4 * time.Hour
	DefaultAgileWeatherMin = 60 * time.Minute
	DefaultAgileWeatherMax = 24 * time.Hour
	DefaultAgileBuffer     = 2 * time.Second

	DefaultNOLDuration     = 30 * time.Minute
	DefaultAgileDetectorID = 2
)

// DefaultConfig returns a disabled scheduler with the standard timings.
func DefaultConfig() Config {
	return Config{
		TimeoutOverride: -1,
		Legacy: LegacyDurations{
			CAC:        DefaultLegacyCAC,
			WeatherCAC: DefaultLegacyWeatherCAC,
			Buffer:     DefaultLegacyBuffer,
		},
		Agile: AgileDurations{
			Min:        DefaultAgileMin,
			Max:        DefaultAgileMax,
			WeatherMin: DefaultAgileWeatherMin,
			WeatherMax: DefaultAgileWeatherMax,
			Buffer:     DefaultAgileBuffer,
		},
		NOLDuration:     DefaultNOLDuration,
		AgileDetectorID: DefaultAgileDetectorID,
	}
}

// ApplyDefaults fills zero durations with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Legacy.CAC <= 0 {
		c.Legacy.CAC = DefaultLegacyCAC
	}
	if c.Legacy.WeatherCAC <= 0 {
		c.Legacy.WeatherCAC = DefaultLegacyWeatherCAC
	}
	if c.Legacy.Buffer <= 0 {
		c.Legacy.Buffer = DefaultLegacyBuffer
	}
	if c.Agile.Min <= 0 {
		c.Agile.Min = DefaultAgileMin
	}
	if c.Agile.Max <= 0 {
		c.Agile.Max = DefaultAgileMax
	}
	if c.Agile.WeatherMin <= 0 {
		c.Agile.WeatherMin = DefaultAgileWeatherMin
	}
	if c.Agile.WeatherMax <= 0 {
		c.Agile.WeatherMax = DefaultAgileWeatherMax
	}
	if c.Agile.Buffer <= 0 {
		c.Agile.Buffer = DefaultAgileBuffer
	}
	if c.NOLDuration <= 0 {
		c.NOLDuration = DefaultNOLDuration
	}
	if c.AgileDetectorID == 0 {
		c.AgileDetectorID = DefaultAgileDetectorID
	}
}

// Validate rejects inconsistent timings.
func (c Config) Validate() error {
	if c.TimeoutOverride < -1 {
		return fmt.Errorf("%w: timeout override %d", ErrInvalidConfig, c.TimeoutOverride)
	}
	if c.Agile.Min > c.Agile.Max {
		return fmt.Errorf("%w: agile min %s exceeds max %s", ErrInvalidConfig, c.Agile.Min, c.Agile.Max)
	}
	if c.Agile.WeatherMin > c.Agile.WeatherMax {
		return fmt.Errorf("%w: agile weather min %s exceeds max %s", ErrInvalidConfig, c.Agile.WeatherMin, c.Agile.WeatherMax)
	}
	return nil
}

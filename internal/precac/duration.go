package precac

import (
	"time"

	"github.com/signalsfoundry/dfs-precac/model"
)

// AgileTimeouts returns the min and max off-channel CAC duration for a
// channel of width w centered at ch. The override, when set, replaces the
// minimum and keeps the default maximum.
func (c Config) AgileTimeouts(ch model.Channel, w model.Width) (min, max time.Duration) {
	if c.TimeoutOverride != -1 {
		return time.Duration(c.TimeoutOverride) * time.Second, c.Agile.Max
	}
	if model.InWeatherBand(ch, w) {
		return c.Agile.WeatherMin, c.Agile.WeatherMax
	}
	return c.Agile.Min, c.Agile.Max
}

// AgileTimerDuration is how long the scheduler waits for an agile channel,
// including the buffer that lets the firmware completion arrive first.
func (c Config) AgileTimerDuration(ch model.Channel, w model.Width) time.Duration {
	min, _ := c.AgileTimeouts(ch, w)
	return min + c.Agile.Buffer
}

// conventionalCAC returns the CAC period of an 80 MHz segment.
func (c Config) conventionalCAC(seg model.Channel) time.Duration {
	if model.InWeatherBand(seg, model.Width80) {
		return c.Legacy.WeatherCAC
	}
	return c.Legacy.CAC
}

// LegacyTimerDuration is how long the legacy timer runs for secondary
// segment sec while the radio operates on primary. If the primary still
// awaits its own CAC the longer of the two periods applies so a precac
// restart never interrupts the primary CAC.
func (c Config) LegacyTimerDuration(primary model.OperatingChannel, primaryDone bool, sec model.Channel) time.Duration {
	secondary := c.conventionalCAC(sec)
	if c.TimeoutOverride != -1 {
		secondary = time.Duration(c.TimeoutOverride) * time.Second
	}
	if primary.DFS && !primaryDone {
		return max(c.conventionalCAC(primary.Center1), secondary) + c.Legacy.Buffer
	}
	return secondary + c.Legacy.Buffer
}

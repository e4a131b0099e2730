package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector exposes precac scheduler metrics.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	RadarEvents    *prometheus.CounterVec
	Completions    *prometheus.CounterVec
	ChannelChanges *prometheus.CounterVec
	NOLExpiries    *prometheus.CounterVec
	TimerDurations *prometheus.HistogramVec
	Running        prometheus.Gauge
}

// NewSchedulerCollector registers scheduler metrics against the provided registerer.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	radar, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "precac_radar_events_total",
		Help: "Radar detections handled by the precac scheduler, labeled by mode and detector.",
	}, []string{"mode", "detector"}), "precac_radar_events_total")
	if err != nil {
		return nil, err
	}

	completions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "precac_completions_total",
		Help: "Precac cycles that completed and marked their channel cleared.",
	}, []string{"mode", "width"}), "precac_completions_total")
	if err != nil {
		return nil, err
	}

	changes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "precac_channel_changes_total",
		Help: "Channel change requests issued by the precac scheduler, labeled by reason.",
	}, []string{"reason"}), "precac_channel_changes_total")
	if err != nil {
		return nil, err
	}

	nolExpiries, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "precac_nol_expiries_total",
		Help: "Subchannels released from the non-occupancy list.",
	}, []string{"mode"}), "precac_nol_expiries_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "precac_timer_duration_seconds",
		Help:    "Duration the precac timer was armed for.",
		Buckets: []float64{0, 5, 65, 365, 605, 3605, 14405, 86405},
	}, []string{"mode"}), "precac_timer_duration_seconds")
	if err != nil {
		return nil, err
	}

	running, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "precac_timer_running",
		Help: "1 while a precac timer is armed, else 0.",
	}), "precac_timer_running")
	if err != nil {
		return nil, err
	}

	return &SchedulerCollector{
		gatherer:       gatherer,
		RadarEvents:    radar,
		Completions:    completions,
		ChannelChanges: changes,
		NOLExpiries:    nolExpiries,
		TimerDurations: durations,
		Running:        running,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// IncRadar counts one radar event.
func (c *SchedulerCollector) IncRadar(mode, detector string) {
	if c == nil || c.RadarEvents == nil {
		return
	}
	c.RadarEvents.WithLabelValues(mode, detector).Inc()
}

// IncCompletion counts one completed precac cycle.
func (c *SchedulerCollector) IncCompletion(mode, width string) {
	if c == nil || c.Completions == nil {
		return
	}
	c.Completions.WithLabelValues(mode, width).Inc()
}

// IncChannelChange counts one channel change request.
func (c *SchedulerCollector) IncChannelChange(reason string) {
	if c == nil || c.ChannelChanges == nil {
		return
	}
	c.ChannelChanges.WithLabelValues(reason).Inc()
}

// IncNOLExpiry counts one subchannel leaving NOL.
func (c *SchedulerCollector) IncNOLExpiry(mode string) {
	if c == nil || c.NOLExpiries == nil {
		return
	}
	c.NOLExpiries.WithLabelValues(mode).Inc()
}

// ObserveTimerArm records the duration a precac timer was armed for.
func (c *SchedulerCollector) ObserveTimerArm(mode string, d time.Duration) {
	if c == nil || c.TimerDurations == nil {
		return
	}
	c.TimerDurations.WithLabelValues(mode).Observe(d.Seconds())
}

// SetRunning updates the timer running gauge.
func (c *SchedulerCollector) SetRunning(running bool) {
	if c == nil || c.Running == nil {
		return
	}
	if running {
		c.Running.Set(1)
		return
	}
	c.Running.Set(0)
}

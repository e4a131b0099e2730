package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ForestCollector exposes the aggregate precac forest status per radio and
// serves the /metrics endpoint.
type ForestCollector struct {
	gatherer prometheus.Gatherer

	Segments           *prometheus.GaugeVec
	CACDoneSubchannels *prometheus.GaugeVec
	NOLSubchannels     *prometheus.GaugeVec
}

// NewForestCollector registers forest gauges against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewForestCollector(reg prometheus.Registerer) (*ForestCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	segments, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "precac_forest_segments",
		Help: "Number of DFS 80 MHz segments tracked in the precac forest.",
	}, []string{"forest"}), "precac_forest_segments")
	if err != nil {
		return nil, err
	}
	cacDone, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "precac_cac_done_subchannels",
		Help: "Number of 20 MHz subchannels whose CAC has completed ahead of use.",
	}, []string{"forest"}), "precac_cac_done_subchannels")
	if err != nil {
		return nil, err
	}
	nol, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "precac_nol_subchannels",
		Help: "Number of 20 MHz subchannels currently held in the non-occupancy list.",
	}, []string{"forest"}), "precac_nol_subchannels")
	if err != nil {
		return nil, err
	}

	return &ForestCollector{
		gatherer:           gatherer,
		Segments:           segments,
		CACDoneSubchannels: cacDone,
		NOLSubchannels:     nol,
	}, nil
}

// SetForestStatus satisfies forest.StatusRecorder so each forest drives its
// gauges directly from its mutators.
func (c *ForestCollector) SetForestStatus(forest string, segments, cacDone, nol int) {
	if c == nil {
		return
	}
	if c.Segments != nil {
		c.Segments.WithLabelValues(forest).Set(float64(segments))
	}
	if c.CACDoneSubchannels != nil {
		c.CACDoneSubchannels.WithLabelValues(forest).Set(float64(cacDone))
	}
	if c.NOLSubchannels != nil {
		c.NOLSubchannels.WithLabelValues(forest).Set(float64(nol))
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ForestCollector) Handler() http.Handler {
	var gatherer prometheus.Gatherer
	if c != nil {
		gatherer = c.gatherer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

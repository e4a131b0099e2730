package main

import (
	"context"
	"sync"

	"github.com/signalsfoundry/dfs-precac/internal/logging"
	"github.com/signalsfoundry/dfs-precac/internal/precac"
)

// radioCommand is the last instruction sent to one radio.
type radioCommand struct {
	ChannelChange *precac.ChannelChange `json:"channel_change,omitempty"`
	AgileConfig   *precac.AgileConfig   `json:"agile_config,omitempty"`
	AgileAborted  bool                  `json:"agile_aborted,omitempty"`
}

// radioSink stands in for the radio driver: it logs every scheduler
// decision and keeps the latest one per radio for the control API. It never
// calls back into the scheduler.
type radioSink struct {
	log logging.Logger

	mu   sync.Mutex
	last map[int]radioCommand
}

var _ precac.CommandSink = (*radioSink)(nil)

func newRadioSink(log logging.Logger) *radioSink {
	return &radioSink{
		log:  log.With(logging.String("component", "radio_sink")),
		last: make(map[int]radioCommand),
	}
}

func (s *radioSink) RequestChannelChange(ctx context.Context, change precac.ChannelChange) error {
	s.log.Info(ctx, "channel change requested",
		logging.Int("radio", change.Radio),
		logging.String("target", change.Target.String()),
		logging.String("reason", string(change.Reason)),
	)
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd := s.last[change.Radio]
	cmd.ChannelChange = &change
	s.last[change.Radio] = cmd
	return nil
}

func (s *radioSink) RequestAgileConfig(ctx context.Context, cfg precac.AgileConfig) error {
	s.log.Info(ctx, "agile detector configured",
		logging.Int("radio", cfg.Radio),
		logging.Int("channel", int(cfg.Channel)),
		logging.String("width", cfg.Width.String()),
		logging.Duration("min", cfg.MinTimeout),
		logging.Duration("max", cfg.MaxTimeout),
	)
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd := s.last[cfg.Radio]
	cmd.AgileConfig = &cfg
	cmd.AgileAborted = false
	s.last[cfg.Radio] = cmd
	return nil
}

func (s *radioSink) RequestAgileAbort(ctx context.Context, radio int) error {
	s.log.Info(ctx, "agile detector aborted", logging.Int("radio", radio))
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd := s.last[radio]
	cmd.AgileAborted = true
	s.last[radio] = cmd
	return nil
}

// snapshot copies the latest command of every radio.
func (s *radioSink) snapshot() map[int]radioCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]radioCommand, len(s.last))
	for k, v := range s.last {
		out[k] = v
	}
	return out
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/signalsfoundry/dfs-precac/internal/config"
	"github.com/signalsfoundry/dfs-precac/internal/precac"
	"github.com/signalsfoundry/dfs-precac/model"
)

// Step actions understood by the replay.
const (
	actionStartAgile      = "start_agile"
	actionStopAgile       = "stop_agile"
	actionAgileComplete   = "agile_complete"
	actionRadar           = "radar"
	actionNOLExpired      = "nol_expired"
	actionSetChannel      = "set_channel"
	actionConventionalCAC = "conventional_cac"
	actionDomain          = "domain"
	actionEnabled         = "enabled"
	actionDump            = "dump"
)

// Script is a timed sequence of driver inputs for one scheduler.
type Script struct {
	Precac config.PrecacTuning `json:"precac"`
	Radios []config.RadioSpec  `json:"radios"`
	// Duration is how long to run after start; it is extended to cover the
	// last step.
	Duration string `json:"duration,omitempty"`
	Steps    []Step `json:"steps"`

	duration time.Duration
}

// Step is one input applied At after the replay starts.
type Step struct {
	At     string `json:"at"`
	Action string `json:"action"`
	Radio  int    `json:"radio"`

	Channels   []int  `json:"channels,omitempty"`
	Secondary  bool   `json:"secondary,omitempty"`
	DetectorID int    `json:"detector_id,omitempty"`
	Channel    int    `json:"channel,omitempty"`
	Center1    int    `json:"center1,omitempty"`
	Center2    int    `json:"center2,omitempty"`
	WidthMHz   int    `json:"width_mhz,omitempty"`
	Status     string `json:"status,omitempty"`
	Domain     string `json:"domain,omitempty"`
	Enabled    bool   `json:"enabled,omitempty"`
	Running    bool   `json:"running,omitempty"`

	at time.Duration
}

// LoadScriptFile reads a replay script from a .json file.
func LoadScriptFile(path string) (*Script, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("script file must have .json extension, got %q", ext)
	}
	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()
	return LoadScript(f)
}

// LoadScript decodes and validates a script. Steps are ordered by time,
// keeping file order for steps at the same instant.
func LoadScript(r io.Reader) (*Script, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse script JSON: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Script) validate() error {
	if len(s.Radios) == 0 {
		return fmt.Errorf("script defines no radios")
	}
	dc := s.daemonConfig()
	if err := dc.Validate(); err != nil {
		return err
	}
	s.Radios = dc.Radios

	if s.Duration != "" {
		d, err := time.ParseDuration(s.Duration)
		if err != nil {
			return fmt.Errorf("invalid duration '%s': %w", s.Duration, err)
		}
		if d < 0 {
			return fmt.Errorf("duration must not be negative, got %s", d)
		}
		s.duration = d
	}

	for i := range s.Steps {
		st := &s.Steps[i]
		d, err := time.ParseDuration(st.At)
		if err != nil {
			return fmt.Errorf("step %d: invalid at '%s': %w", i, st.At, err)
		}
		if d < 0 {
			return fmt.Errorf("step %d: at must not be negative, got %s", i, d)
		}
		st.at = d
		if err := st.validate(len(s.Radios)); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if d > s.duration {
			s.duration = d
		}
	}
	sort.SliceStable(s.Steps, func(i, j int) bool { return s.Steps[i].at < s.Steps[j].at })
	return nil
}

func (s *Script) daemonConfig() *config.DaemonConfig {
	dc := &config.DaemonConfig{Precac: s.Precac, Radios: s.Radios}
	dc.ApplyDefaults()
	return dc
}

// PrecacConfig returns the scheduler settings of the script.
func (s *Script) PrecacConfig() (precac.Config, error) {
	return s.daemonConfig().PrecacConfig()
}

func (st *Step) validate(radios int) error {
	if st.Radio < 0 || st.Radio >= radios {
		return fmt.Errorf("radio %d out of range", st.Radio)
	}
	switch st.Action {
	case actionStartAgile, actionStopAgile, actionEnabled, actionConventionalCAC, actionDump:
	case actionAgileComplete:
		if _, ok := parseOCACStatus(st.Status); !ok {
			return fmt.Errorf("unknown agile status %q", st.Status)
		}
	case actionRadar:
		if len(st.Channels) == 0 {
			return fmt.Errorf("radar step has no channels")
		}
	case actionNOLExpired:
		if st.Channel <= 0 {
			return fmt.Errorf("nol_expired step needs a channel")
		}
	case actionSetChannel:
		spec := config.RadioSpec{Center1: st.Center1, Center2: st.Center2, WidthMHz: st.WidthMHz}
		if spec.Center1 <= 0 || spec.Width() == model.WidthUnknown {
			return fmt.Errorf("set_channel step has an invalid channel")
		}
	case actionDomain:
		if model.ParseDomain(st.Domain) == model.DomainUninit {
			return fmt.Errorf("unknown domain %q", st.Domain)
		}
	default:
		return fmt.Errorf("unknown action %q", st.Action)
	}
	return nil
}

func parseOCACStatus(s string) (precac.OCACStatus, bool) {
	for _, st := range []precac.OCACStatus{precac.OCACSuccess, precac.OCACReset, precac.OCACCancel} {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

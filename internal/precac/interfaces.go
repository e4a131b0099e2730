package precac

import (
	"context"
	"time"

	"github.com/signalsfoundry/dfs-precac/model"
)

// Catalog enumerates the channels a radio may use in its regulatory domain.
type Catalog interface {
	DFSChannels() []model.CatalogChannel
	Domain() model.Domain
	IsDFS(ch model.Channel) bool
}

// Timer is the single precac timer. Arm replaces any pending expiry.
type Timer interface {
	Arm(d time.Duration, fn func())
	Modify(d time.Duration) bool
	Stop()
	CancelAndWait()
}

// ChangeReason says why the scheduler asks for a channel change.
type ChangeReason string

const (
	// ReasonHomeChannel moves a radio to its desired channel once cleared.
	ReasonHomeChannel ChangeReason = "home_channel"
	// ReasonPrecacRestart reprograms a legacy radio with a new secondary.
	ReasonPrecacRestart ChangeReason = "precac_restart"
)

// ChannelChange is a request to reprogram one radio.
type ChannelChange struct {
	Radio  int
	Target model.OperatingChannel
	Reason ChangeReason
}

// AgileConfig points the shared detector at one channel.
type AgileConfig struct {
	Radio      int
	Channel    model.Channel
	Width      model.Width
	MinTimeout time.Duration
	MaxTimeout time.Duration
}

// CommandSink carries scheduler decisions to the radio. Implementations
// must not call back into the Scheduler synchronously.
type CommandSink interface {
	RequestChannelChange(ctx context.Context, change ChannelChange) error
	RequestAgileConfig(ctx context.Context, cfg AgileConfig) error
	RequestAgileAbort(ctx context.Context, radio int) error
}

// MetricsRecorder receives scheduler counters.
type MetricsRecorder interface {
	IncRadar(mode, detector string)
	IncCompletion(mode, width string)
	IncChannelChange(reason string)
	IncNOLExpiry(mode string)
	ObserveTimerArm(mode string, d time.Duration)
	SetRunning(running bool)
}

// EventKind classifies journal events.
type EventKind string

const (
	EventCACDone       EventKind = "cac_done"
	EventRadar         EventKind = "radar"
	EventNOLExpired    EventKind = "nol_expired"
	EventChannelChange EventKind = "channel_change"
	EventAgileConfig   EventKind = "agile_config"
	EventAgileAbort    EventKind = "agile_abort"
	EventTimerArmed    EventKind = "timer_armed"
)

// Event is one scheduler decision or input, as stored by an EventRecorder.
type Event struct {
	ID      string
	EventID string // correlates the rows written while handling one input
	At      time.Time
	Kind    EventKind
	Radio   int
	Channel model.Channel
	Width   model.Width
	Detail  string
}

// EventRecorder persists scheduler events.
type EventRecorder interface {
	Record(ctx context.Context, ev Event) error
}

// Command precac-replay runs a scripted sequence of radar reports, agile
// completions and channel changes against the precac scheduler on an
// accelerated clock, printing every command it issues and the final forests.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/signalsfoundry/dfs-precac/internal/config"
	"github.com/signalsfoundry/dfs-precac/internal/journal"
	"github.com/signalsfoundry/dfs-precac/internal/logging"
	"github.com/signalsfoundry/dfs-precac/internal/precac"
	"github.com/signalsfoundry/dfs-precac/internal/timer"
	"github.com/signalsfoundry/dfs-precac/kb"
	"github.com/signalsfoundry/dfs-precac/model"
	"github.com/signalsfoundry/dfs-precac/timectrl"
)

func main() {
	scriptPath := flag.String("script", "", "Path to a JSON replay script")
	tick := flag.Duration("tick", time.Second, "clock step")
	journalPath := flag.String("journal", "", "optional SQLite journal path")
	logLevel := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	flag.Parse()

	if *scriptPath == "" {
		fmt.Fprintln(os.Stderr, "usage: precac-replay -script FILE [-tick 1s] [-journal FILE]")
		os.Exit(2)
	}
	script, err := LoadScriptFile(*scriptPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load script: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: *logLevel, Format: "text", Output: os.Stderr})
	opts := replayOptions{Tick: *tick, JournalPath: *journalPath, Out: os.Stdout}
	if _, err := replay(context.Background(), script, opts, log); err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
}

type replayOptions struct {
	Tick        time.Duration
	JournalPath string
	Out         io.Writer
	// Start is the clock origin; zero means a fixed epoch so runs repeat.
	Start time.Time
}

var defaultStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// replay runs script to completion and returns the scheduler so callers can
// inspect the final state. Steps run between clock steps, after every event
// due at that instant.
func replay(ctx context.Context, script *Script, opts replayOptions, log logging.Logger) (*precac.Scheduler, error) {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Start.IsZero() {
		opts.Start = defaultStart
	}

	pcfg, err := script.PrecacConfig()
	if err != nil {
		return nil, err
	}

	tc := timectrl.NewTimeController(opts.Start, opts.Tick, timectrl.Accelerated)
	events := timer.NewEventScheduler(tc)
	tc.AddListener(func(time.Time) { events.RunDue() })

	out := &printer{w: opts.Out, clock: tc}
	precacOpts := []precac.Option{precac.WithEventScheduler(events)}
	if opts.JournalPath != "" {
		j, err := journal.Open(ctx, opts.JournalPath, log)
		if err != nil {
			return nil, err
		}
		defer j.Close()
		precacOpts = append(precacOpts, precac.WithJournal(j))
	}

	sched, err := precac.New(pcfg, timer.New(events), out, log, precacOpts...)
	if err != nil {
		return nil, err
	}
	defer sched.Close()

	store := kb.NewKnowledgeBase()
	for _, spec := range script.Radios {
		if err := store.SetRadioDomain(spec.Name, model.ParseDomain(spec.Domain)); err != nil {
			return nil, fmt.Errorf("radio %q: %w", spec.Name, err)
		}
		catalog := store.Catalog(spec.Name)
		if _, err := sched.AddRadio(ctx, precac.RadioConfig{
			Name:      spec.Name,
			Catalog:   catalog,
			Operating: spec.Operating(catalog.IsDFS),
		}); err != nil {
			return nil, err
		}
	}
	unsubscribe := store.Subscribe(func(kb.Event) { sched.ResetForests(ctx) })
	defer unsubscribe()

	out.printf("replay: %d radios, %d steps, mode=%s, duration=%s, tick=%s",
		len(script.Radios), len(script.Steps), sched.Mode(), script.duration, opts.Tick)

	end := opts.Start.Add(script.duration)
	next := 0
	for {
		now := tc.Now()
		for next < len(script.Steps) && !opts.Start.Add(script.Steps[next].at).After(now) {
			st := script.Steps[next]
			if err := applyStep(ctx, sched, store, script, st, out); err != nil {
				out.printf("step %s %s radio=%d failed: %v", st.At, st.Action, st.Radio, err)
			}
			next++
		}
		if !now.Before(end) {
			break
		}
		tc.Step()
	}

	st := sched.Status()
	enc := json.NewEncoder(opts.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return nil, err
	}
	for i := range script.Radios {
		if err := sched.Dump(i, opts.Out); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func applyStep(ctx context.Context, sched *precac.Scheduler, store *kb.KnowledgeBase, script *Script, st Step, out *printer) error {
	out.printf("step %s radio=%d", st.Action, st.Radio)
	switch st.Action {
	case actionStartAgile:
		return sched.StartAgile(ctx, st.Radio)
	case actionStopAgile:
		return sched.StopAgile(ctx, st.Radio)
	case actionAgileComplete:
		status, _ := parseOCACStatus(st.Status)
		return sched.AgileCACComplete(ctx, st.Radio, status)
	case actionRadar:
		ev := precac.RadarEvent{Radio: st.Radio, Secondary: st.Secondary, DetectorID: st.DetectorID}
		for _, ch := range st.Channels {
			ev.Channels = append(ev.Channels, model.Channel(ch))
		}
		return sched.RadarFound(ctx, ev)
	case actionNOLExpired:
		return sched.NOLExpired(ctx, st.Radio, model.Channel(st.Channel))
	case actionSetChannel:
		name := script.Radios[st.Radio].Name
		spec := config.RadioSpec{Name: name, Center1: st.Center1, Center2: st.Center2, WidthMHz: st.WidthMHz}
		applied, err := sched.SetOperatingChannel(ctx, st.Radio, spec.Operating(store.Catalog(name).IsDFS))
		if err == nil {
			out.printf("operating radio=%d channel=%s", st.Radio, applied)
		}
		return err
	case actionConventionalCAC:
		return sched.SetConventionalCAC(ctx, st.Radio, st.Running)
	case actionDomain:
		return store.SetRadioDomain(script.Radios[st.Radio].Name, model.ParseDomain(st.Domain))
	case actionEnabled:
		sched.SetEnabled(ctx, st.Enabled)
		return nil
	case actionDump:
		return sched.Dump(st.Radio, out.w)
	}
	return fmt.Errorf("unknown action %q", st.Action)
}

// printer is the replay's radio: it prints every scheduler command with the
// clock offset it was issued at.
type printer struct {
	mu    sync.Mutex
	w     io.Writer
	clock *timectrl.TimeController
}

var _ precac.CommandSink = (*printer)(nil)

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	offset := p.clock.Now().Sub(p.clock.StartTime)
	fmt.Fprintf(p.w, "[+%s] %s\n", offset, fmt.Sprintf(format, args...))
}

func (p *printer) RequestChannelChange(_ context.Context, c precac.ChannelChange) error {
	p.printf("channel change radio=%d target=%s reason=%s", c.Radio, c.Target, c.Reason)
	return nil
}

func (p *printer) RequestAgileConfig(_ context.Context, c precac.AgileConfig) error {
	p.printf("agile config radio=%d channel=%d width=%s min=%s max=%s",
		c.Radio, c.Channel, c.Width, c.MinTimeout, c.MaxTimeout)
	return nil
}

func (p *printer) RequestAgileAbort(_ context.Context, radio int) error {
	p.printf("agile abort radio=%d", radio)
	return nil
}

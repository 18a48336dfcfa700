package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/dumacp/volt-i2c/src/alert"
	"github.com/dumacp/volt-i2c/src/device"
)

// drainGrace bounds the wait for the consumer once the root context is gone
const drainGrace = 5 * time.Second

type monitorState int

const (
	stateRunning monitorState = iota
	stateDraining
	stateStopped
)

func (s monitorState) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

type eventKind int

const (
	eventPoll eventKind = iota
	eventTrigger
	eventTerminate
	eventCommand
)

// monitorEvent is one thing the monitor loop woke up for
type monitorEvent struct {
	kind    eventKind
	trigger TriggerEvent
	command consoleRequest
	reason  string
}

// consoleOp is a device action requested from the debug console
type consoleOp int

const (
	opDump consoleOp = iota
	opClearUnder
	opClearOver
	opClearAll
	opRearm
)

// consoleRequest carries a console action into the monitor loop, which owns the device.
// reply must have room for one value.
type consoleRequest struct {
	op    consoleOp
	reply chan<- consoleReply
}

type consoleReply struct {
	dump device.Dump
	err  error
}

// monitorSources are the inputs merged by the monitor loop. Nil channels are never ready.
type monitorSources struct {
	Triggers <-chan TriggerEvent
	Signals  <-chan os.Signal
	Commands <-chan consoleRequest
}

type monitor struct {
	ctrl   *device.Controller
	config MonitorConfig
	src    monitorSources
	ticks  <-chan time.Time
	out    chan<- alert.Sample
	done   <-chan struct{}
	state  monitorState
	last   alert.Sample // last known good values
	now    func() time.Time
}

// startMonitor writes the settings, reads the starting values and rearms the watermarks.
// It returns the first sample and the tracker state seeded from it.
func startMonitor(ctrl *device.Controller, config MonitorConfig, settings device.Settings, now time.Time) (alert.Sample, alert.State, error) {
	if err := ctrl.Initialize(settings); err != nil {
		return alert.Sample{}, alert.State{}, err
	}
	log.Printf("Monitor: configured flags=%s under=%.3f over=%.3f hysteresis=%.3f\n",
		settings.Flags, settings.UnderRange, settings.OverRange, settings.Hysteresis)

	s := alert.Sample{Source: alert.SourcePoll, Time: now}
	var err error

	var flagged bool
	if s.Current, flagged, err = ctrl.ReadCurrent(); err != nil {
		log.Printf("Monitor: startup read current: %v\n", err)
	}
	if flagged {
		if s.AlertOver, s.AlertUnder, err = ctrl.ReadAlertFlags(); err != nil {
			log.Printf("Monitor: startup read alert flags: %v\n", err)
		}
	}
	if s.Min, err = ctrl.ReadMin(); err != nil {
		log.Printf("Monitor: startup read min: %v\n", err)
	}
	if s.Max, err = ctrl.ReadMax(); err != nil {
		log.Printf("Monitor: startup read max: %v\n", err)
	}
	log.Printf("Monitor: value=%.3f alertUnder=%v alertOver=%v min=%.3f max=%.3f\n",
		s.Current, s.AlertUnder, s.AlertOver, s.Min, s.Max)

	st := alert.State{
		MinBaseline: s.Min,
		MaxBaseline: s.Max,
		LastPublish: now,
	}
	// a watermark we could not read must not mute lowest/highest for the whole run
	if st.MinBaseline <= 0 {
		st.MinBaseline = config.RearmMin
	}
	if st.MaxBaseline <= 0 {
		st.MaxBaseline = config.RearmMax
	}

	if err := ctrl.WriteMin(config.RearmMin); err != nil {
		log.Printf("Monitor: startup rearm min: %v\n", err)
	}
	if err := ctrl.WriteMax(config.RearmMax); err != nil {
		log.Printf("Monitor: startup rearm max: %v\n", err)
	}

	if d, err := ctrl.DumpRegisters(); err != nil {
		log.Printf("Monitor: register dump: %v\n", err)
	} else {
		logDump(d)
	}

	return s, st, nil
}

// monitorWorker runs the event loop until a termination signal or ctx cancellation.
// On termination it closes out and returns once the consumer has closed done.
func monitorWorker(
	ctx context.Context,
	ctrl *device.Controller,
	config MonitorConfig,
	initial alert.Sample,
	src monitorSources,
	out chan<- alert.Sample,
	done <-chan struct{},
) {
	ticker := time.NewTicker(config.PollInterval)
	defer ticker.Stop()

	m := &monitor{
		ctrl:   ctrl,
		config: config,
		src:    src,
		ticks:  ticker.C,
		out:    out,
		done:   done,
		last:   initial,
		now:    time.Now,
	}
	m.run(ctx)
}

func (m *monitor) run(ctx context.Context) {
	log.Printf("Monitor: polling every %v\n", m.config.PollInterval)
	for m.state == stateRunning {
		m.dispatch(ctx, m.next(ctx))
	}
}

// next blocks until one source is ready
func (m *monitor) next(ctx context.Context) monitorEvent {
	for {
		select {
		case <-m.ticks:
			return monitorEvent{kind: eventPoll}

		case ev, ok := <-m.src.Triggers:
			if !ok {
				m.src.Triggers = nil
				continue
			}
			return monitorEvent{kind: eventTrigger, trigger: ev}

		case sig := <-m.src.Signals:
			return monitorEvent{kind: eventTerminate, reason: sig.String()}

		case req, ok := <-m.src.Commands:
			if !ok {
				m.src.Commands = nil
				continue
			}
			return monitorEvent{kind: eventCommand, command: req}

		case <-ctx.Done():
			return monitorEvent{kind: eventTerminate, reason: "context cancelled"}
		}
	}
}

// dispatch handles exactly one event
func (m *monitor) dispatch(ctx context.Context, ev monitorEvent) {
	switch ev.kind {
	case eventPoll:
		s := m.poll()
		m.emit(ctx, s)
		m.rearm(s)

	case eventTrigger:
		m.emit(ctx, m.triggered(ev.trigger))

	case eventCommand:
		ev.command.reply <- m.command(ev.command.op)

	case eventTerminate:
		log.Printf("Monitor: %s, draining\n", ev.reason)
		m.state = stateDraining
		close(m.out)
		m.awaitDrain(ctx)
		m.state = stateStopped
		log.Println("Monitor stopped")
	}
}

func (m *monitor) poll() alert.Sample {
	s := alert.Sample{Source: alert.SourcePoll, Time: m.now()}

	current, flagged, err := m.ctrl.ReadCurrent()
	if err != nil {
		log.Printf("Monitor: read current: %v\n", err)
		s.Current = m.last.Current
	} else {
		s.Current = current
	}

	// an unreadable alert state keeps the last one; a false edge would be published otherwise
	switch {
	case err != nil:
		s.AlertOver, s.AlertUnder = m.last.AlertOver, m.last.AlertUnder
	case flagged:
		if over, under, err := m.ctrl.ReadAlertFlags(); err != nil {
			log.Printf("Monitor: read alert flags: %v\n", err)
			s.AlertOver, s.AlertUnder = m.last.AlertOver, m.last.AlertUnder
		} else {
			s.AlertOver, s.AlertUnder = over, under
		}
	}

	if s.Min, err = m.ctrl.ReadMin(); err != nil {
		log.Printf("Monitor: read min: %v\n", err)
		s.Min = m.last.Min
	}
	if s.Max, err = m.ctrl.ReadMax(); err != nil {
		log.Printf("Monitor: read max: %v\n", err)
		s.Max = m.last.Max
	}

	m.last = s
	return s
}

func (m *monitor) triggered(ev TriggerEvent) alert.Sample {
	s := alert.Sample{
		Source:     alert.SourceTrigger,
		Time:       m.now(),
		AlertUnder: ev.Level,
		AlertOver:  m.last.AlertOver,
		Max:        m.last.Max,
	}

	var err error
	if s.Current, _, err = m.ctrl.ReadCurrent(); err != nil {
		log.Printf("Monitor: trigger read current: %v\n", err)
		s.Current = m.last.Current
	}
	if s.Min, err = m.ctrl.ReadMin(); err != nil {
		log.Printf("Monitor: trigger read min: %v\n", err)
		s.Min = m.last.Min
	}

	m.last = s
	return s
}

// rearm resets a watermark once the value is back inside the thresholds,
// so the next excursion is measured from scratch
func (m *monitor) rearm(s alert.Sample) {
	if s.Min < m.config.UnderRange && s.Current > m.config.UnderRange {
		if err := m.ctrl.WriteMin(m.config.RearmMin); err != nil {
			log.Printf("Monitor: rearm min: %v\n", err)
		}
	}
	if s.Max > m.config.OverRange && s.Current < m.config.OverRange {
		if err := m.ctrl.WriteMax(m.config.RearmMax); err != nil {
			log.Printf("Monitor: rearm max: %v\n", err)
		}
	}
}

func (m *monitor) command(op consoleOp) consoleReply {
	switch op {
	case opDump:
		d, err := m.ctrl.DumpRegisters()
		return consoleReply{dump: d, err: err}
	case opClearUnder:
		return consoleReply{err: m.ctrl.ClearUnder()}
	case opClearOver:
		return consoleReply{err: m.ctrl.ClearOver()}
	case opClearAll:
		return consoleReply{err: m.ctrl.ClearAlerts()}
	case opRearm:
		if err := m.ctrl.WriteMin(m.config.RearmMin); err != nil {
			return consoleReply{err: err}
		}
		return consoleReply{err: m.ctrl.WriteMax(m.config.RearmMax)}
	}
	return consoleReply{}
}

// emit blocks while the consumer is behind. Only cancellation abandons the send.
func (m *monitor) emit(ctx context.Context, s alert.Sample) {
	select {
	case m.out <- s:
	case <-ctx.Done():
		log.Printf("Monitor: dropped %s sample during shutdown\n", s.Source)
	}
}

func (m *monitor) awaitDrain(ctx context.Context) {
	select {
	case <-m.done:
		return
	case <-ctx.Done():
	}

	// the consumer may have died with the context
	select {
	case <-m.done:
	case <-time.After(drainGrace):
		log.Printf("Monitor: consumer still busy after %v, giving up\n", drainGrace)
	}
}

func logDump(d device.Dump) {
	log.Printf("Monitor: registers value=0x%04X status=0x%02X config=0x%02X under=0x%04X over=0x%04X hyst=0x%04X min=0x%04X max=0x%04X\n",
		d.Value, d.Status, d.Config, d.UnderRange, d.OverRange, d.Hysteresis, d.Min, d.Max)
}

package alert

import (
	"fmt"
	"time"
)

// Source identifies what caused a Sample to be read
type Source int

const (
	SourcePoll Source = iota
	SourceTrigger
)

func (s Source) String() string {
	switch s {
	case SourcePoll:
		return "poll"
	case SourceTrigger:
		return "trigger"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Sample is one reading of the ADC. It is immutable once sent.
type Sample struct {
	Current    float32
	Min        float32
	Max        float32
	AlertUnder bool
	AlertOver  bool
	Source     Source
	Time       time.Time
}

// Kind is the notification type as published
type Kind string

const (
	KindCurrent     Kind = "current_volt"
	KindAlertStatus Kind = "alert_status_volt"
	KindLowest      Kind = "lowest_volt"
	KindHighest     Kind = "highest_volt"
)

// Alert tells which latched alert an alert_status notification is about
type Alert int

const (
	AlertNone Alert = iota
	AlertUnder
	AlertOver
)

func (a Alert) String() string {
	switch a {
	case AlertUnder:
		return "under"
	case AlertOver:
		return "over"
	default:
		return "none"
	}
}

// Notification is a finished event for the publisher.
// Active and Alert are only meaningful for KindAlertStatus.
type Notification struct {
	Kind   Kind
	Alert  Alert
	Value  float32
	Active bool
	Time   time.Time
}

// Config holds the tracker parameters
type Config struct {
	Hysteresis     float32
	PublishTimeout time.Duration
}

// State is the tracker's memory between samples
type State struct {
	LastAlertUnder bool
	LastAlertOver  bool
	MinBaseline    float32 // a lowest notification fires below this
	MaxBaseline    float32 // a highest notification fires above this
	LastPublish    time.Time
}

// Tracker turns an ordered stream of samples into notifications.
// It keeps edge, watermark and heartbeat state and is used by one goroutine.
type Tracker struct {
	config Config
	state  State
}

// NewTracker creates a tracker starting from initial
func NewTracker(config Config, initial State) *Tracker {
	return &Tracker{config: config, state: initial}
}

// State returns a copy of the current state
func (t *Tracker) State() State {
	return t.state
}

// Process applies one sample and returns the notifications it causes, in order:
// under alert edge, over alert edge, lowest, highest, heartbeat.
func (t *Tracker) Process(s Sample, now time.Time) []Notification {
	var out []Notification

	if s.AlertUnder != t.state.LastAlertUnder {
		value := s.Current
		if s.AlertUnder && s.Min > 0 {
			value = s.Min
		}
		out = append(out, Notification{
			Kind: KindAlertStatus, Alert: AlertUnder, Value: value, Active: s.AlertUnder, Time: now,
		})
		t.state.LastAlertUnder = s.AlertUnder
	}

	if s.AlertOver != t.state.LastAlertOver {
		value := s.Current
		if s.AlertOver && s.Max > 0 {
			value = s.Max
		}
		out = append(out, Notification{
			Kind: KindAlertStatus, Alert: AlertOver, Value: value, Active: s.AlertOver, Time: now,
		})
		t.state.LastAlertOver = s.AlertOver
	}

	if s.Min > 0 && s.Min < t.state.MinBaseline {
		out = append(out, Notification{Kind: KindLowest, Value: s.Min, Time: now})
		t.state.MinBaseline = s.Min - t.config.Hysteresis
	}

	if s.Max > 0 && s.Max > t.state.MaxBaseline {
		out = append(out, Notification{Kind: KindHighest, Value: s.Max, Time: now})
		t.state.MaxBaseline = s.Max + t.config.Hysteresis
	}

	if now.Sub(t.state.LastPublish) > t.config.PublishTimeout && s.Current > 0 {
		out = append(out, Notification{Kind: KindCurrent, Value: s.Current, Time: now})
		t.state.LastPublish = now
	}

	return out
}

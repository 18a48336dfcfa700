package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// newTestTracker starts with a fresh heartbeat and neutral baselines
func newTestTracker(minBaseline, maxBaseline float32) *Tracker {
	return NewTracker(
		Config{Hysteresis: 1.0, PublishTimeout: 60 * time.Second},
		State{MinBaseline: minBaseline, MaxBaseline: maxBaseline, LastPublish: t0},
	)
}

func kinds(ns []Notification) []Kind {
	out := make([]Kind, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Kind)
	}
	return out
}

func TestProcess_ScenarioB_LowestWithHysteresis(t *testing.T) {
	tr := newTestTracker(10.0, 60.0)

	got := tr.Process(Sample{Current: 12, Min: 9.4, Max: 13}, t0.Add(time.Second))
	require.Len(t, got, 1)
	assert.Equal(t, KindLowest, got[0].Kind)
	assert.Equal(t, float32(9.4), got[0].Value)
	assert.InDelta(t, 8.4, tr.State().MinBaseline, 1e-6)

	// 9.0 is lower than 9.4 but has not passed the hysteresis margin
	got = tr.Process(Sample{Current: 12, Min: 9.0, Max: 13}, t0.Add(2*time.Second))
	assert.Empty(t, got)
	assert.InDelta(t, 8.4, tr.State().MinBaseline, 1e-6)
}

func TestProcess_ScenarioC_UnderAlertUsesCurrentWithoutMin(t *testing.T) {
	tr := newTestTracker(0, 100)

	got := tr.Process(Sample{Current: 8.0, AlertUnder: true}, t0.Add(time.Second))

	require.Len(t, got, 1)
	assert.Equal(t, Notification{
		Kind:   KindAlertStatus,
		Alert:  AlertUnder,
		Value:  8.0,
		Active: true,
		Time:   t0.Add(time.Second),
	}, got[0])
	assert.True(t, tr.State().LastAlertUnder)
}

func TestProcess_AlertValueSelection(t *testing.T) {
	tests := []struct {
		name   string
		state  State
		sample Sample
		alert  Alert
		value  float32
		active bool
	}{
		{
			name:   "under active uses min",
			sample: Sample{Current: 9.0, Min: 8.5, AlertUnder: true},
			alert:  AlertUnder, value: 8.5, active: true,
		},
		{
			name:   "under cleared uses current",
			state:  State{LastAlertUnder: true},
			sample: Sample{Current: 11.0, Min: 8.5},
			alert:  AlertUnder, value: 11.0, active: false,
		},
		{
			name:   "over active uses max",
			sample: Sample{Current: 49.0, Max: 52.0, AlertOver: true},
			alert:  AlertOver, value: 52.0, active: true,
		},
		{
			name:   "over active without max uses current",
			sample: Sample{Current: 51.0, AlertOver: true},
			alert:  AlertOver, value: 51.0, active: true,
		},
		{
			name:   "over cleared uses current",
			state:  State{LastAlertOver: true},
			sample: Sample{Current: 40.0, Max: 52.0},
			alert:  AlertOver, value: 40.0, active: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := tt.state
			st.MaxBaseline = 100
			st.LastPublish = t0
			tr := NewTracker(Config{Hysteresis: 1, PublishTimeout: time.Hour}, st)

			got := tr.Process(tt.sample, t0)

			require.Len(t, got, 1)
			assert.Equal(t, KindAlertStatus, got[0].Kind)
			assert.Equal(t, tt.alert, got[0].Alert)
			assert.Equal(t, tt.value, got[0].Value)
			assert.Equal(t, tt.active, got[0].Active)
		})
	}
}

func TestProcess_EdgesFireOncePerTransition(t *testing.T) {
	tr := newTestTracker(0, 100)
	seq := []bool{false, true, true, true, false, false, true}
	var fired []bool

	for i, under := range seq {
		for _, n := range tr.Process(Sample{Current: 10, AlertUnder: under}, t0.Add(time.Duration(i)*time.Second)) {
			if n.Kind == KindAlertStatus {
				fired = append(fired, n.Active)
			}
		}
	}

	assert.Equal(t, []bool{true, false, true}, fired)
}

func TestProcess_HighestWithHysteresis(t *testing.T) {
	tr := newTestTracker(0, 50.0)

	got := tr.Process(Sample{Current: 50, Max: 50.5}, t0)
	require.Equal(t, []Kind{KindHighest}, kinds(got))
	assert.InDelta(t, 51.5, tr.State().MaxBaseline, 1e-5)

	assert.Empty(t, tr.Process(Sample{Current: 50, Max: 51.2}, t0))
	assert.Equal(t, []Kind{KindHighest}, kinds(tr.Process(Sample{Current: 50, Max: 51.6}, t0)))
}

func TestProcess_LowestMonotonicity(t *testing.T) {
	tr := newTestTracker(10.0, 100)
	mins := []float32{9.5, 9.0, 8.6, 8.4, 8.0, 7.5, 7.39, 9.9}
	var fired []float32

	for _, m := range mins {
		for _, n := range tr.Process(Sample{Current: 12, Min: m}, t0) {
			if n.Kind == KindLowest {
				fired = append(fired, n.Value)
			}
		}
	}

	// each lowest needs a min below the previous one minus the margin
	assert.Equal(t, []float32{9.5, 8.4, 7.39}, fired)
}

func TestProcess_ZeroMinIgnored(t *testing.T) {
	tr := newTestTracker(10.0, 100)
	assert.Empty(t, tr.Process(Sample{Current: 12, Min: 0}, t0))
	assert.Equal(t, float32(10.0), tr.State().MinBaseline)
}

func TestProcess_Heartbeat(t *testing.T) {
	tr := newTestTracker(0, 100)

	assert.Empty(t, tr.Process(Sample{Current: 12}, t0.Add(60*time.Second)), "not past timeout yet")

	got := tr.Process(Sample{Current: 12.5}, t0.Add(61*time.Second))
	require.Equal(t, []Kind{KindCurrent}, kinds(got))
	assert.Equal(t, float32(12.5), got[0].Value)
	assert.Equal(t, t0.Add(61*time.Second), tr.State().LastPublish)

	assert.Empty(t, tr.Process(Sample{Current: 12}, t0.Add(90*time.Second)))
}

func TestProcess_HeartbeatSkipsZeroCurrent(t *testing.T) {
	tr := newTestTracker(0, 100)

	assert.Empty(t, tr.Process(Sample{Current: 0}, t0.Add(2*time.Minute)))
	assert.Equal(t, t0, tr.State().LastPublish)
}

func TestProcess_Ordering(t *testing.T) {
	tr := newTestTracker(10.0, 40.0)

	got := tr.Process(Sample{
		Current:    30,
		Min:        8.0,
		Max:        52.0,
		AlertUnder: true,
		AlertOver:  true,
	}, t0.Add(5*time.Minute))

	assert.Equal(t, []Kind{KindAlertStatus, KindAlertStatus, KindLowest, KindHighest, KindCurrent}, kinds(got))
	assert.Equal(t, AlertUnder, got[0].Alert)
	assert.Equal(t, AlertOver, got[1].Alert)
}

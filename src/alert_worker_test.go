package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumacp/volt-i2c/src/alert"
)

func runAlertWorker(t *testing.T, samples []alert.Sample, console chan consoleUpdate) []MQTTMessage {
	t.Helper()

	in := make(chan alert.Sample, len(samples))
	for _, s := range samples {
		in <- s
	}
	close(in)

	tracker := alert.NewTracker(alert.Config{Hysteresis: 1, PublishTimeout: time.Minute},
		alert.State{MinBaseline: 10, MaxBaseline: 50, LastPublish: testNow})
	published := make(chan MQTTMessage, 20)
	done := make(chan struct{})

	alertWorker(context.Background(), in, tracker, NewMQTTSender(published, "EVENTS/volt", 0), console, done)

	select {
	case <-done:
	default:
		t.Fatal("done not closed after the sample channel was drained")
	}

	close(published)
	var msgs []MQTTMessage
	for m := range published {
		msgs = append(msgs, m)
	}
	return msgs
}

func payloadType(t *testing.T, m MQTTMessage) string {
	var p struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(m.Payload, &p))
	return p.Type
}

func TestAlertWorker_PublishesInOrder(t *testing.T) {
	samples := []alert.Sample{
		{Current: 12, Min: 11, Max: 13, Time: testNow.Add(time.Second)},
		{Current: 8, Min: 7.5, Max: 13, AlertUnder: true, Source: alert.SourceTrigger, Time: testNow.Add(2 * time.Second)},
		{Current: 12, Min: 7.5, Max: 13, Time: testNow.Add(2 * time.Minute)},
	}

	msgs := runAlertWorker(t, samples, nil)

	var types []string
	for _, m := range msgs {
		assert.Equal(t, "EVENTS/volt", m.Topic)
		types = append(types, payloadType(t, m))
	}
	assert.Equal(t, []string{
		"alert_status_volt", // under raised
		"lowest_volt",
		"alert_status_volt", // under cleared
		"current_volt",
	}, types)
}

func TestAlertWorker_ConsoleFeedNeverBlocks(t *testing.T) {
	console := make(chan consoleUpdate, 1)
	samples := []alert.Sample{
		{Current: 12, Time: testNow},
		{Current: 12.1, Time: testNow},
		{Current: 12.2, Time: testNow},
	}

	runAlertWorker(t, samples, console)

	require.Len(t, console, 1)
	assert.Equal(t, float32(12), (<-console).Sample.Current, "later updates are dropped while the console is behind")
}

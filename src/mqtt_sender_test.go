package main

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumacp/volt-i2c/src/alert"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeClient records publishes. Methods the sender does not use are left to the nil interface.
type fakeClient struct {
	mqtt.Client
	mu        sync.Mutex
	connected bool
	published []MQTTMessage
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, MQTTMessage{Topic: topic, QoS: qos, Retain: retained, Payload: payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) messages() []MQTTMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]MQTTMessage(nil), c.published...)
}

var notifyTime = time.Unix(1700000000, 500000000)

func TestEncodeNotification(t *testing.T) {
	tests := []struct {
		name string
		n    alert.Notification
		want string
	}{
		{
			name: "heartbeat",
			n:    alert.Notification{Kind: alert.KindCurrent, Value: 12.5, Time: notifyTime},
			want: `{"timeStamp": 1700000000.5, "value": 12.5, "type": "current_volt"}`,
		},
		{
			name: "lowest",
			n:    alert.Notification{Kind: alert.KindLowest, Value: 9.25, Time: notifyTime},
			want: `{"timeStamp": 1700000000.5, "value": 9.25, "type": "lowest_volt"}`,
		},
		{
			name: "alert status",
			n:    alert.Notification{Kind: alert.KindAlertStatus, Alert: alert.AlertUnder, Value: 8.0, Active: true, Time: notifyTime},
			want: `{"timeStamp": 1700000000.5, "value": {"value": 8, "active": true}, "type": "alert_status_volt"}`,
		},
		{
			name: "alert cleared",
			n:    alert.Notification{Kind: alert.KindAlertStatus, Alert: alert.AlertOver, Value: 40.0, Time: notifyTime},
			want: `{"timeStamp": 1700000000.5, "value": {"value": 40, "active": false}, "type": "alert_status_volt"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeNotification(tt.n)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestMQTTSender_Notify(t *testing.T) {
	ch := make(chan MQTTMessage, 1)
	sender := NewMQTTSender(ch, "EVENTS/volt", 1)

	err := sender.Notify(context.Background(), alert.Notification{Kind: alert.KindHighest, Value: 51, Time: notifyTime})

	require.NoError(t, err)
	msg := <-ch
	assert.Equal(t, "EVENTS/volt", msg.Topic)
	assert.Equal(t, byte(1), msg.QoS)
	assert.False(t, msg.Retain)
	assert.JSONEq(t, `{"timeStamp": 1700000000.5, "value": 51, "type": "highest_volt"}`, string(msg.Payload))
}

func TestMQTTSender_NotifyCancelled(t *testing.T) {
	sender := NewMQTTSender(make(chan MQTTMessage), "EVENTS/volt", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sender.Notify(ctx, alert.Notification{Kind: alert.KindCurrent, Value: 12})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestMQTTSenderWorker_QueuesUntilConnected(t *testing.T) {
	outgoing := make(chan MQTTMessage)
	clients := make(chan mqtt.Client)
	finished := make(chan struct{})
	go func() {
		mqttSenderWorker(context.Background(), outgoing, clients)
		close(finished)
	}()

	outgoing <- MQTTMessage{Topic: "a", Payload: []byte("1")}
	outgoing <- MQTTMessage{Topic: "b", Payload: []byte("2")}

	client := &fakeClient{connected: true}
	clients <- client
	outgoing <- MQTTMessage{Topic: "c", Payload: []byte("3")}
	close(outgoing)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("sender worker did not return after its channel was closed")
	}

	var topics []string
	for _, m := range client.messages() {
		topics = append(topics, m.Topic)
	}
	assert.Equal(t, []string{"a", "b", "c"}, topics)
}

func TestMQTTSenderWorker_DisconnectedClientKeepsQueue(t *testing.T) {
	outgoing := make(chan MQTTMessage)
	clients := make(chan mqtt.Client)
	finished := make(chan struct{})
	go func() {
		mqttSenderWorker(context.Background(), outgoing, clients)
		close(finished)
	}()

	client := &fakeClient{connected: false}
	clients <- client
	outgoing <- MQTTMessage{Topic: "a", Payload: []byte("1")}
	close(outgoing)
	<-finished

	assert.Empty(t, client.messages())
}

func TestMQTTSenderWorker_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		mqttSenderWorker(ctx, make(chan MQTTMessage), make(chan mqtt.Client))
		close(finished)
	}()

	cancel()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("sender worker ignored cancellation")
	}
}

package main

import (
	"context"
	"encoding/json"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dumacp/volt-i2c/src/alert"
)

// maxQueued bounds the messages held while the broker is unreachable
const maxQueued = 500

// MQTTMessage represents an outgoing MQTT message
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MQTTSender wraps a channel for sending MQTT messages with helper methods
type MQTTSender struct {
	ch    chan<- MQTTMessage
	topic string
	qos   byte
}

// NewMQTTSender creates a new MQTTSender publishing notifications to topic
func NewMQTTSender(ch chan<- MQTTMessage, topic string, qos byte) *MQTTSender {
	return &MQTTSender{ch: ch, topic: topic, qos: qos}
}

// Send queues a raw MQTTMessage. It reports false if ctx ended first.
func (s *MQTTSender) Send(ctx context.Context, msg MQTTMessage) bool {
	select {
	case s.ch <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// Notify encodes a notification and queues it on the events topic
func (s *MQTTSender) Notify(ctx context.Context, n alert.Notification) error {
	payload, err := encodeNotification(n)
	if err != nil {
		return err
	}
	if !s.Send(ctx, MQTTMessage{Topic: s.topic, Payload: payload, QoS: s.qos}) {
		return ctx.Err()
	}
	return nil
}

type alertValue struct {
	Value  float32 `json:"value"`
	Active bool    `json:"active"`
}

type eventPayload struct {
	TimeStamp float64    `json:"timeStamp"`
	Value     any        `json:"value"`
	Type      alert.Kind `json:"type"`
}

// encodeNotification renders the JSON document consumers of the events topic expect.
// alert_status_volt carries {"value", "active"}; every other kind a plain number.
func encodeNotification(n alert.Notification) ([]byte, error) {
	p := eventPayload{
		TimeStamp: float64(n.Time.UnixNano()) / 1e9,
		Value:     n.Value,
		Type:      n.Kind,
	}
	if n.Kind == alert.KindAlertStatus {
		p.Value = alertValue{Value: n.Value, Active: n.Active}
	}
	return json.Marshal(p)
}

func publish(client mqtt.Client, msg MQTTMessage) {
	token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
	token.Wait()
	if token.Error() != nil {
		log.Printf("Failed to publish to %s: %v\n", msg.Topic, token.Error())
	}
}

// mqttSenderWorker publishes outgoing messages, queuing them until a connected client arrives.
// It returns when outgoingChan is closed, after flushing what it can, or when ctx is done.
func mqttSenderWorker(
	ctx context.Context,
	outgoingChan <-chan MQTTMessage,
	clientChan <-chan mqtt.Client,
) {
	log.Println("MQTT sender worker started")

	var client mqtt.Client
	var messageQueue []MQTTMessage

	flush := func() {
		if client == nil || !client.IsConnected() || len(messageQueue) == 0 {
			return
		}
		for _, msg := range messageQueue {
			publish(client, msg)
		}
		log.Printf("MQTT sender worker processed %d queued messages\n", len(messageQueue))
		messageQueue = nil
	}

	for {
		select {
		case newClient := <-clientChan:
			log.Println("MQTT sender worker received new client")
			client = newClient
			flush()

		case msg, ok := <-outgoingChan:
			if !ok {
				flush()
				if len(messageQueue) > 0 {
					log.Printf("MQTT sender worker dropped %d unsent messages\n", len(messageQueue))
				}
				log.Println("MQTT sender worker finished")
				return
			}

			if client != nil && client.IsConnected() {
				flush()
				publish(client, msg)
				continue
			}

			if len(messageQueue) >= maxQueued {
				log.Printf("MQTT sender worker queue full, dropping oldest message to %s\n", messageQueue[0].Topic)
				messageQueue = messageQueue[1:]
			}
			messageQueue = append(messageQueue, msg)
			log.Printf("MQTT sender worker queued message (total queued: %d)\n", len(messageQueue))

		case <-ctx.Done():
			log.Println("MQTT sender worker stopped")
			return
		}
	}
}

package main

import (
	"context"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mqttWorker manages the MQTT connection and hands connected clients to the sender worker
func mqttWorker(
	ctx context.Context,
	config MQTTConfig,
	clientChan chan<- mqtt.Client,
) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v\n", err)
	})

	// Runs again after every reconnect
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("Connected to MQTT broker at %s\n", config.Broker)

		select {
		case clientChan <- client:
			log.Println("Sent new MQTT client to sender worker")
		case <-ctx.Done():
			return
		}
	})

	client := mqtt.NewClient(opts)

	log.Printf("Connecting to MQTT broker at %s as %s...\n", config.Broker, config.ClientID)
	token := client.Connect()
	go func() {
		// With ConnectRetry the token only completes once connected or on a hard error
		if token.Wait() && token.Error() != nil {
			log.Printf("Failed to connect to MQTT broker: %v\n", token.Error())
		}
	}()

	<-ctx.Done()

	// also stops a connect still retrying
	wasConnected := client.IsConnected()
	client.Disconnect(250)
	if wasConnected {
		log.Println("Disconnected from MQTT broker")
	}
}

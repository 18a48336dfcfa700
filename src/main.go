package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"

	"github.com/dumacp/volt-i2c/src/alert"
	"github.com/dumacp/volt-i2c/src/device"
)

const appName = "volt"

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// sampleBuffer is the capacity of the channel between the monitor and the alert worker
const sampleBuffer = 32

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			if panicValue == nil {
				return
			}

			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.Printf("Panic in %s (attempt %d/%d): %v\n", name, retries, maxRetries, panicValue)

			if retries >= maxRetries {
				log.Printf("%s failed after %d retries, shutting down\n", name, maxRetries)
				cancel()
				return
			}

			log.Printf("%s will retry in %v\n", name, delay)
			select {
			case <-time.After(delay):
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: Error loading .env file: %v\n", err)
	}

	cfg, opts, err := loadConfig(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	// -version works even when the rest of the configuration is broken
	if opts.ShowVersion {
		fmt.Printf("%s %s\n", appName, version)
		return
	}
	if err != nil {
		log.Fatalf("Configuration: %v", err)
	}

	closer := setupLogging(appName, cfg.LogStd)
	defer func() { _ = closer.Close() }()

	log.Printf("Starting %s %s...\n", appName, version)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration: %v", err)
	}

	bus, err := device.OpenI2C(cfg.I2CBus, cfg.Address)
	if err != nil {
		log.Fatalf("ADC: %v", err)
	}
	defer func() { _ = bus.Close() }()
	ctrl := device.New(bus)

	monitorConfig := cfg.MonitorConfig()
	initial, trackerState, err := startMonitor(ctrl, monitorConfig, cfg.Settings(), time.Now())
	if err != nil {
		_ = bus.Close()
		log.Fatalf("ADC: %v", err)
	}

	// Termination signals are registered before any worker starts
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create channels for communication between workers
	sampleChan := make(chan alert.Sample, sampleBuffer)
	alertDone := make(chan struct{})
	mqttOutgoingChan := make(chan MQTTMessage, 100) // Larger buffer for queuing
	mqttClientChan := make(chan mqtt.Client, 1)     // Buffered to prevent blocking onConnect
	senderDone := make(chan struct{})
	mqttDone := make(chan struct{})

	SafeGo(ctx, cancel, "mqtt-sender-worker", func(ctx context.Context) {
		mqttSenderWorker(ctx, mqttOutgoingChan, mqttClientChan)
		close(senderDone)
	})

	SafeGo(ctx, cancel, "mqtt-worker", func(ctx context.Context) {
		mqttWorker(ctx, cfg.MQTT, mqttClientChan)
		close(mqttDone)
	})
	log.Println("MQTT workers started")

	mqttSender := NewMQTTSender(mqttOutgoingChan, cfg.MQTT.Topic, cfg.MQTT.QoS)
	tracker := alert.NewTracker(cfg.TrackerConfig(), trackerState)

	var consoleChan chan consoleUpdate
	var commandChan chan consoleRequest
	if cfg.Debug {
		consoleChan = make(chan consoleUpdate, 10)
		commandChan = make(chan consoleRequest)
		SafeGo(ctx, cancel, "debug-worker", func(ctx context.Context) {
			debugWorker(ctx, cancel, consoleChan, commandChan)
		})
	}

	SafeGo(ctx, cancel, "alert-worker", func(ctx context.Context) {
		alertWorker(ctx, sampleChan, tracker, mqttSender, consoleChan, alertDone)
	})

	var triggerChan chan TriggerEvent
	if cfg.TriggerDevice != "" {
		triggerChan = make(chan TriggerEvent, 10)
		SafeGo(ctx, cancel, "trigger-worker", func(ctx context.Context) {
			triggerWorker(ctx, cfg.TriggerDevice, cfg.TriggerKey, triggerChan)
		})
	}

	// The monitor owns the ADC and runs here until a signal or cancellation
	sources := monitorSources{
		Triggers: triggerChan,
		Signals:  sigChan,
		Commands: commandChan,
	}
	monitorWorker(ctx, ctrl, monitorConfig, initial, sources, sampleChan, alertDone)

	// Everything the alert worker published is queued; let the sender flush it.
	// If the alert worker never finished it may still be sending, so the channel stays open.
	select {
	case <-alertDone:
		close(mqttOutgoingChan)
		select {
		case <-senderDone:
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
			log.Println("MQTT sender did not finish in time")
		}
	default:
		log.Println("Alert worker did not finish, pending notifications are lost")
	}

	cancel()
	select {
	case <-mqttDone:
	case <-time.After(time.Second):
	}
	log.Println("Shutdown complete")
}

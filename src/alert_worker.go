package main

import (
	"context"
	"log"

	"github.com/dumacp/volt-i2c/src/alert"
)

// consoleUpdate is what the debug console sees of each processed sample
type consoleUpdate struct {
	Sample        alert.Sample
	Notifications []alert.Notification
}

// alertWorker feeds samples through the tracker and publishes the resulting notifications.
// It keeps reading after ctx is cancelled so nothing already sampled is lost; it returns
// once sampleChan is closed and drained, closing done.
func alertWorker(
	ctx context.Context,
	sampleChan <-chan alert.Sample,
	tracker *alert.Tracker,
	sender *MQTTSender,
	consoleChan chan<- consoleUpdate,
	done chan<- struct{},
) {
	log.Println("Alert worker started")

	for s := range sampleChan {
		notifications := tracker.Process(s, s.Time)

		for _, n := range notifications {
			logNotification(n)
			if err := sender.Notify(ctx, n); err != nil {
				log.Printf("Alert: %s not published: %v\n", n.Kind, err)
			}
		}

		if consoleChan != nil {
			select {
			case consoleChan <- consoleUpdate{Sample: s, Notifications: notifications}:
			default:
				// console is slow; it only needs the latest state
			}
		}
	}

	log.Println("Alert worker drained")
	close(done)
}

func logNotification(n alert.Notification) {
	switch n.Kind {
	case alert.KindAlertStatus:
		log.Printf("Alert: %s alert active=%v at %.3fV\n", n.Alert, n.Active, n.Value)
	case alert.KindLowest:
		log.Printf("Alert: lowest_volt -> %.3f\n", n.Value)
	case alert.KindHighest:
		log.Printf("Alert: highest_volt -> %.3f\n", n.Value)
	default:
		log.Printf("Alert: %s -> %.3f\n", n.Kind, n.Value)
	}
}

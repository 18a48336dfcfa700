package main

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"os"
	"strconv"
	"time"
)

// TriggerEvent is an edge on the ADC alert line. Level is true while the line is asserted.
type TriggerEvent struct {
	Level bool
	Time  time.Time
}

// struct input_event: a timeval of two C longs, then type u16, code u16, value s32
const (
	longSize       = strconv.IntSize / 8
	inputEventSize = 2*longSize + 8

	evKey = 0x01

	keyRelease = 0
	keyPress   = 1
)

type inputEvent struct {
	Time  time.Time
	Type  uint16
	Code  uint16
	Value int32
}

func decodeInputEvent(b []byte) inputEvent {
	var sec, usec int64
	if longSize == 8 {
		sec = int64(binary.NativeEndian.Uint64(b[0:]))
		usec = int64(binary.NativeEndian.Uint64(b[8:]))
	} else {
		sec = int64(int32(binary.NativeEndian.Uint32(b[0:])))
		usec = int64(int32(binary.NativeEndian.Uint32(b[4:])))
	}
	rest := b[2*longSize:]
	return inputEvent{
		Time:  time.Unix(sec, usec*1000),
		Type:  binary.NativeEndian.Uint16(rest[0:]),
		Code:  binary.NativeEndian.Uint16(rest[2:]),
		Value: int32(binary.NativeEndian.Uint32(rest[4:])),
	}
}

// triggerFromInput maps a key press or release to an edge. key 0 matches any key code.
func triggerFromInput(ev inputEvent, key uint16) (TriggerEvent, bool) {
	if ev.Type != evKey || (key != 0 && ev.Code != key) {
		return TriggerEvent{}, false
	}
	switch ev.Value {
	case keyPress:
		return TriggerEvent{Level: true, Time: ev.Time}, true
	case keyRelease:
		return TriggerEvent{Level: false, Time: ev.Time}, true
	default:
		// autorepeat
		return TriggerEvent{}, false
	}
}

// readTriggers decodes input events from r until it fails or ctx is done
func readTriggers(ctx context.Context, r io.Reader, key uint16, out chan<- TriggerEvent) error {
	buf := make([]byte, inputEventSize)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}

		ev, ok := triggerFromInput(decodeInputEvent(buf), key)
		if !ok {
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// triggerWorker reads edges from an evdev device wired to the ADC alert pin
func triggerWorker(ctx context.Context, device string, key uint16, out chan<- TriggerEvent) {
	f, err := os.Open(device)
	if err != nil {
		log.Printf("Trigger: cannot open %s, alert edges come from polling only: %v\n", device, err)
		return
	}

	// Closing the file unblocks the pending read
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = f.Close()
	}()

	log.Printf("Trigger: reading %s (key %d)\n", device, key)
	err = readTriggers(ctx, f, key, out)
	switch {
	case ctx.Err() != nil:
		log.Println("Trigger worker stopped")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		log.Printf("Trigger: %s closed\n", device)
	default:
		log.Printf("Trigger: read %s: %v\n", device, err)
	}
}

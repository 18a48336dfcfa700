package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/dumacp/volt-i2c/src/alert"
	"github.com/dumacp/volt-i2c/src/device"
	"github.com/dumacp/volt-i2c/src/register"
)

// consoleTimeout bounds how long the console waits for the monitor loop
const consoleTimeout = 2 * time.Second

// ANSI color codes for highlighting notifications
const (
	ansiReset  = "\033[0m"
	ansiYellow = "\033[33m"
)

// readlineWriter wraps log output to work with readline
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = logTarget.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// Global readline writer for log output
var rlWriter = &readlineWriter{}

// consoleState holds what the console knows about the monitor
type consoleState struct {
	last    *alert.Sample
	hourly  *alert.RollingMinMax
	watch   bool
	out     io.Writer
	rl      *readline.Instance
	request func(op consoleOp) (consoleReply, error)
}

func newConsoleState(out io.Writer, request func(op consoleOp) (consoleReply, error)) *consoleState {
	return &consoleState{
		hourly:  alert.NewRollingMinMax(),
		out:     out,
		request: request,
	}
}

// print outputs a line, handling readline prompt properly
func (s *consoleState) print(format string, args ...any) {
	if s.rl != nil {
		s.rl.Clean()
		defer s.rl.Refresh()
	}
	fmt.Fprintf(s.out, format+"\n", args...)
}

// update records a processed sample and echoes its notifications when watching
func (s *consoleState) update(u consoleUpdate) {
	sample := u.Sample
	s.last = &sample
	s.hourly.Observe(sample)

	if !s.watch {
		return
	}
	for _, n := range u.Notifications {
		s.print("%s%s%s", ansiYellow, formatNotification(n), ansiReset)
	}
}

func formatNotification(n alert.Notification) string {
	if n.Kind == alert.KindAlertStatus {
		return fmt.Sprintf("%s %s active=%v %.3fV", n.Kind, n.Alert, n.Active, n.Value)
	}
	return fmt.Sprintf("%s %.3fV", n.Kind, n.Value)
}

func (s *consoleState) printStatus() {
	if s.last == nil {
		s.print("No samples yet")
		return
	}
	l := s.last
	s.print("%s sample at %s", l.Source, l.Time.Format(time.TimeOnly))
	s.print("  current %7.3fV", l.Current)
	s.print("  min     %7.3fV  max %7.3fV", l.Min, l.Max)
	s.print("  alerts  under=%v over=%v", l.AlertUnder, l.AlertOver)
	s.print("  last hour: %d readings, %.3fV .. %.3fV", s.hourly.Count(), s.hourly.Min(), s.hourly.Max())
}

func (s *consoleState) printDump(d device.Dump) {
	volts := func(raw uint16) string {
		v, flag := register.Decode(raw)
		if flag {
			return fmt.Sprintf("%.3fV (alert)", v)
		}
		return fmt.Sprintf("%.3fV", v)
	}
	s.print("  0x%02X value       0x%04X  %s", register.RegValue, d.Value, volts(d.Value))
	s.print("  0x%02X status      0x%02X", register.RegStatus, d.Status)
	s.print("  0x%02X config      0x%02X    %s", register.RegConfig, d.Config, register.Flags(d.Config))
	s.print("  0x%02X under range 0x%04X  %s", register.RegUnderRange, d.UnderRange, volts(d.UnderRange))
	s.print("  0x%02X over range  0x%04X  %s", register.RegOverRange, d.OverRange, volts(d.OverRange))
	s.print("  0x%02X hysteresis  0x%04X  %s", register.RegHysteresis, d.Hysteresis, volts(d.Hysteresis))
	s.print("  0x%02X min         0x%04X  %s", register.RegMin, d.Min, volts(d.Min))
	s.print("  0x%02X max         0x%04X  %s", register.RegMax, d.Max, volts(d.Max))
}

// handleConsoleCommand processes a console command
func handleConsoleCommand(cmd string, s *consoleState) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "status":
		s.printStatus()

	case "regs":
		reply, err := s.request(opDump)
		if err == nil {
			err = reply.err
		}
		if err != nil {
			log.Printf("Error: %v", err)
			return
		}
		s.printDump(reply.dump)

	case "clear":
		op := opClearAll
		if len(parts) > 1 {
			switch parts[1] {
			case "under":
				op = opClearUnder
			case "over":
				op = opClearOver
			case "all":
			default:
				log.Println("Usage: clear [under|over|all]")
				return
			}
		}
		s.run(op, "Alerts cleared")

	case "rearm":
		s.run(opRearm, "Watermarks rearmed")

	case "watch":
		s.watch = !s.watch
		if s.watch {
			s.print("Echoing notifications")
		} else {
			s.print("Notification echo off")
		}

	case "help":
		s.print("Commands:")
		s.print("  status                  - Last sample and the last hour's range")
		s.print("  regs                    - Dump all ADC registers")
		s.print("  clear [under|over|all]  - Acknowledge latched alerts (default all)")
		s.print("  rearm                   - Reset the min/max watermarks")
		s.print("  watch                   - Toggle echo of published notifications")
		s.print("  help                    - Show this help")

	default:
		log.Printf("Unknown command: %s (try 'help')", parts[0])
	}
}

func (s *consoleState) run(op consoleOp, okMsg string) {
	reply, err := s.request(op)
	if err == nil {
		err = reply.err
	}
	if err != nil {
		log.Printf("Error: %v", err)
		return
	}
	s.print("%s", okMsg)
}

// monitorRequester sends console requests into the monitor loop and waits for the reply
func monitorRequester(ctx context.Context, requests chan<- consoleRequest) func(consoleOp) (consoleReply, error) {
	return func(op consoleOp) (consoleReply, error) {
		reply := make(chan consoleReply, 1)
		timeout := time.NewTimer(consoleTimeout)
		defer timeout.Stop()

		select {
		case requests <- consoleRequest{op: op, reply: reply}:
		case <-timeout.C:
			return consoleReply{}, errors.New("monitor busy")
		case <-ctx.Done():
			return consoleReply{}, ctx.Err()
		}

		select {
		case r := <-reply:
			return r, nil
		case <-timeout.C:
			return consoleReply{}, errors.New("monitor did not answer")
		case <-ctx.Done():
			return consoleReply{}, ctx.Err()
		}
	}
}

// readlineLoop runs the readline loop, sending commands to the channel
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C pressed, shutdown the app
			return
		}
		if err != nil {
			return // EOF or other error
		}
		line = strings.TrimSpace(line)
		if line != "" {
			commandChan <- line
		}
	}
}

// getHistoryFilePath returns the path for debug history file
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // No history if we can't find home
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	voltCache := filepath.Join(cacheDir, "volt")
	_ = os.MkdirAll(voltCache, 0750)
	return filepath.Join(voltCache, "debug_history")
}

// debugWorker provides an interactive console onto the running monitor
func debugWorker(
	ctx context.Context,
	cancel context.CancelFunc,
	updates <-chan consoleUpdate,
	requests chan<- consoleRequest,
) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "volt> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		log.Printf("Debug worker: readline init failed: %v", err)
		return
	}
	defer func() {
		_ = rl.Close()
		rlWriter.rl = nil
		log.SetOutput(logTarget)
	}()

	// Redirect log output through readline-aware writer
	rlWriter.rl = rl
	log.SetOutput(rlWriter)

	log.Println("Debug worker started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	state := newConsoleState(rl.Stdout(), monitorRequester(ctx, requests))
	state.rl = rl

	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case cmd := <-commandChan:
			handleConsoleCommand(cmd, state)
		case u := <-updates:
			state.update(u)
		case <-ctx.Done():
			log.Println("Debug worker stopped")
			return
		}
	}
}

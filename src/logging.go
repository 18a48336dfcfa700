package main

import (
	"io"
	"log"
	"log/syslog"
	"os"
)

// logTarget is where log output goes when the debug console is not running
var logTarget io.Writer = os.Stderr

// setupLogging sends the standard logger to syslog, or to stderr when useStderr is set
// or syslog is unavailable. The returned closer is never nil.
func setupLogging(appName string, useStderr bool) io.Closer {
	if useStderr {
		logTarget = os.Stderr
		log.SetOutput(logTarget)
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		return nopCloser{}
	}

	w, err := syslog.New(syslog.LOG_USER|syslog.LOG_INFO, appName)
	if err != nil {
		log.Printf("syslog unavailable, logging to stderr: %v\n", err)
		logTarget = os.Stderr
		return nopCloser{}
	}

	// syslog stamps its own time
	logTarget = w
	log.SetOutput(logTarget)
	log.SetFlags(0)
	return w
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

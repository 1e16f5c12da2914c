// Package applog is the proxy's structured logging surface. It prints the
// bit-exact diagnostic lines the handler emits at "info" level to standard
// output, without any prefix, and error lines to standard error. A "debug"
// level is also available, mirroring the two-tier INFO/DEBUG split used
// throughout the reverse-proxy codebase this was grown from; no caller in
// this repository emits at it. A log line is also fire-and-forget pushed to Loki when LOKI_URL is
// configured, so a single Logger works unmodified in both a bare terminal and
// behind a log-aggregation stack.
package applog

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Logger holds the level toggles and the lazily-initialized Loki client for one
// process. The zero value is not usable; construct with New.
type Logger struct {
	app          string
	infoEnabled  bool
	debugEnabled bool
	errorEnabled bool

	lokiOnce   sync.Once
	lokiURL    string
	lokiClient *http.Client
}

// New returns a Logger for the named application component (used as the Loki
// "app" stream label). debug controls whether Debug lines print locally; info
// and error are always on by default.
func New(app string, debug bool) *Logger {
	return &Logger{
		app:          app,
		infoEnabled:  true,
		debugEnabled: debug,
		errorEnabled: true,
		lokiClient:   &http.Client{Timeout: 200 * time.Millisecond},
	}
}

// Info prints a formatted line at info level and flushes immediately — used for
// the fixed-wording diagnostic lines that external harnesses grep for.
func (l *Logger) Info(format string, args ...any) {
	l.emit("info", fmt.Sprintf(format, args...), nil)
}

// Debug prints a formatted line at debug level with additional structured
// labels, for request/response detail that doesn't belong in the fixed-wording
// output.
func (l *Logger) Debug(labels map[string]string, format string, args ...any) {
	l.emit("debug", fmt.Sprintf(format, args...), labels)
}

// Error prints a formatted line at error level.
func (l *Logger) Error(format string, args ...any) {
	l.emit("error", fmt.Sprintf(format, args...), nil)
}

func (l *Logger) levelEnabled(level string) bool {
	switch level {
	case "debug":
		return l.debugEnabled
	case "error":
		return l.errorEnabled
	default:
		return l.infoEnabled
	}
}

func (l *Logger) emit(level, line string, labels map[string]string) {
	if localPrintEnabled() && l.levelEnabled(level) {
		out := os.Stdout
		if level == "error" {
			out = os.Stderr
		}
		fmt.Fprintln(out, line)
	}
	l.pushLoki(level, line, labels)
}

// localPrintEnabled suppresses local log output inside test binaries so
// package tests don't spam their own output with every diagnostic line; the
// testing package always registers these flags.
func localPrintEnabled() bool {
	return flag.Lookup("test.v") == nil
}

// pushLoki is a no-op unless LOKI_URL is set in the environment; it never
// blocks the caller on a slow or unreachable Loki instance beyond the client's
// short timeout, and never surfaces an error — a log line must never fail a
// request.
func (l *Logger) pushLoki(level, line string, labels map[string]string) {
	l.lokiOnce.Do(l.initLoki)
	if l.lokiURL == "" || !l.levelEnabled(level) {
		return
	}

	stream := map[string]string{"app": l.app, "level": level}
	for k, v := range labels {
		if strings.TrimSpace(k) == "" {
			continue
		}
		stream[k] = v
	}

	ts := strconv.FormatInt(time.Now().UnixNano(), 10)
	payload := struct {
		Streams []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"streams"`
	}{
		Streams: []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		}{
			{Stream: stream, Values: [][2]string{{ts, line}}},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	req, err := http.NewRequest(http.MethodPost, l.lokiURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	_, _ = l.lokiClient.Do(req) // fire-and-forget
}

func (l *Logger) initLoki() {
	url := strings.TrimSpace(os.Getenv("LOKI_URL"))
	if url == "" {
		return
	}
	if !strings.Contains(url, "/loki/api/v1/push") {
		url = strings.TrimRight(url, "/") + "/loki/api/v1/push"
	}
	l.lokiURL = url
}

// MustHostname returns the current hostname, or "unknown" if it can't be
// determined. The Logger does not add it to any line's labels by itself.
func MustHostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

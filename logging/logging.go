// Package logging provides the small logger interface the engine writes to,
// backed by gologger.
package logging

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sadlil/gologger"
)

// Logger receives operational messages.
type Logger interface {
	Info(message string)
	Warn(message string)
	Error(message string)
}

// Level orders message severities.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

// ParseLevel maps "info", "warn" and "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info", "debug":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("logging: unknown level %q", s)
}

// leveled drops messages below min.
type leveled struct {
	out *gologger.GoLogger
	min Level
}

func (l *leveled) Info(message string) {
	if l.min <= LevelInfo {
		l.out.Info(message)
	}
}

func (l *leveled) Warn(message string) {
	if l.min <= LevelWarn {
		l.out.Warn(message)
	}
}

func (l *leveled) Error(message string) {
	l.out.Error(message)
}

// New builds a gologger-backed Logger. Output goes to logfile when set,
// to the console otherwise.
func New(level, logfile string) (Logger, error) {
	minLevel, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	var out gologger.GoLogger
	if logfile != "" {
		out = gologger.GetLogger(gologger.FILE, logfile)
	} else {
		out = gologger.GetLogger(gologger.CONSOLE, gologger.SimpleLog)
	}
	return &leveled{out: &out, min: minLevel}, nil
}

type nop struct{}

func (nop) Info(string)  {}
func (nop) Warn(string)  {}
func (nop) Error(string) {}

// Nop discards everything.
var Nop Logger = nop{}

// Memory records messages for tests.
type Memory struct {
	mu    sync.Mutex
	Lines []string
}

func (m *Memory) add(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lines = append(m.Lines, line)
}

func (m *Memory) Info(message string)  { m.add("INFO " + message) }
func (m *Memory) Warn(message string)  { m.add("WARN " + message) }
func (m *Memory) Error(message string) { m.add("ERROR " + message) }

// Contains reports whether any recorded line contains substr.
func (m *Memory) Contains(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.Lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

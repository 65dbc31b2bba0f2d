package logger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/apex/log"
)

// Logger provides component-tagged, levelled logging on top of apex/log.
// The zero value logs to stderr at LevelDebug and above.
type Logger struct {
	MinLevel LogLevel
	mu       sync.Mutex
	backend  *log.Logger
}

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a flag/config value to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (l LogLevel) String() string {
	return logLevelNames[l]
}

package trace

import (
	"fmt"
	"strings"
)

// Level controls tracing verbosity.
type Level uint8

const (
	LevelOff   Level = iota // no tracing
	LevelError              // failures only
	LevelRun                // whole pipeline runs
	LevelStage              // runs and stage calls
	LevelDebug              // everything, including exchange details
)

// String returns the flag spelling of the level.
func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelError:
		return "error"
	case LevelRun:
		return "run"
	case LevelStage:
		return "stage"
	case LevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseLevel converts a flag value to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "off":
		return LevelOff, nil
	case "error":
		return LevelError, nil
	case "run":
		return LevelRun, nil
	case "stage":
		return LevelStage, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|error|run|stage|debug)", s)
	}
}

// ShouldEmit reports whether events of scope pass this level.
func (l Level) ShouldEmit(scope Scope) bool {
	switch l {
	case LevelRun:
		return scope <= ScopeRun
	case LevelStage:
		return scope <= ScopeStage
	case LevelDebug:
		return true
	default:
		return false
	}
}

package diag

import (
	"github.com/fatih/color"

	laps "github.com/laps-group/laps-go"
)

// Level classifies a log record.
type Level string

// Levels understood by the console renderer. Records carry the level
// as a plain string, so values emitted by other producers survive the
// round trip and render in the fallback color.
const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Color returns the console color for the level.
func (l Level) Color() *color.Color {
	switch l {
	case LevelDebug:
		return color.New(color.FgWhite)
	case LevelInfo:
		return color.New(color.FgGreen)
	case LevelWarn:
		return color.New(color.FgYellow)
	case LevelError:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgCyan)
	}
}

// Record is a structured log entry as stored on the shared log stream.
// The module identity serializes to its canonical token, so the worker
// index travels as a separate field.
type Record struct {
	Message     string        `json:"message"`
	Level       Level         `json:"level"`
	Module      laps.Identity `json:"module"`
	WorkerIndex int           `json:"worker_index"`
	Timestamp   int64         `json:"timestamp"`
}

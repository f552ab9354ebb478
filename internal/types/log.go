package types

import "time"

// LogLevel is the severity of a run log event.
type LogLevel string

// LogLevel values
const (
	LevelInfo    LogLevel = "info"
	LevelSuccess LogLevel = "success"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// LogEvent is one entry of the append-only run log.
type LogEvent struct {
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// Package util provides shared logging and statistics helpers.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by the pterm default logger.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Scope is a logger that tags every line with a component name, e.g.
// "[call] ANSWER from bob@x: remote description set".
type Scope string

func (s Scope) Debugf(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(s.line(format, args))
}

func (s Scope) Infof(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(s.line(format, args))
}

func (s Scope) Warnf(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(s.line(format, args))
}

func (s Scope) Errorf(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(s.line(format, args))
}

func (s Scope) line(format string, args []interface{}) string {
	return "[" + string(s) + "] " + fmt.Sprintf(format, args...)
}

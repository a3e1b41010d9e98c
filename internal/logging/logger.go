// Package logging configures the structured logger shared by the commands.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to w. The level comes from MEMLOC_LOG_LEVEL
// (debug, info, warn, error; default warn so normal output stays clean).
func New(w io.Writer) *log.Logger {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "memloc",
	})
	lg.SetLevel(Level(os.Getenv("MEMLOC_LOG_LEVEL")))

	return lg
}

func Level(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.WarnLevel
	}
}

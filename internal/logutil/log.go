// Package logutil provides the process-wide structured logger.
package logutil

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is the package-level logger used throughout the restructurer.
// It is assigned once at startup by InitLogger and never reassigned after.
var Logger log.Logger = log.NewNopLogger()

// InitLogger builds the default logfmt logger at the given level
// ("debug", "info", "warn", "error") and installs it as Logger.
func InitLogger(levelName string) {
	base := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	base = log.With(base, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	Logger = level.NewFilter(base, parseLevel(levelName))
}

func parseLevel(name string) level.Option {
	switch name {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

// Package log provides the process-wide go-kit logger, mirroring the role of
// the teacher's pkg/util/log package: a single package-level Logger configured
// once at startup and used everywhere via level.Info/Warn/Error.
package log

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is the process-wide structured logger. It defaults to a sane
// info-level logfmt logger so packages that log during init (before Init is
// called) still produce readable output.
var Logger = newDefault()

func newDefault() log.Logger {
	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return level.NewFilter(l, level.AllowInfo())
}

// Level is the set of recognized minimum log levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Init reconfigures Logger at the requested minimum level. Called once from
// cmd/test-probe's main after flags and the optional config file are parsed,
// before configuration is validated and before the ServiceBuilder runs.
func Init(lvl Level) {
	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var option level.Option
	switch lvl {
	case LevelDebug:
		option = level.AllowDebug()
	case LevelWarn:
		option = level.AllowWarn()
	case LevelError:
		option = level.AllowError()
	default:
		option = level.AllowInfo()
	}

	Logger = level.NewFilter(l, option)
}

// Package xlog configures the process-wide zerolog logger, replacing the
// teacher's global loglevel var and hand-rolled ANSI escape codes
// (util.go:LogError/LogWarn/.../LogTrace) with zerolog's level filter and a
// TTY-aware writer.
package xlog

import (
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level mirrors the teacher's LoglevelQuiet..LoglevelTrace scale so CLI flag
// parsing can keep the same ordering, mapped onto zerolog.Level.
type Level int

const (
	LevelQuiet Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelQuiet:
		return zerolog.Disabled
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelTrace:
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init installs the global logger. On a real terminal it writes zerolog's
// human-readable console format through go-colorable (needed for ANSI color
// codes to render on Windows consoles); otherwise it writes plain JSON lines,
// since a redirected/piped output has no use for either color or a
// fixed-width console layout. Replaces the teacher's os.system("")
// ANSI-enablement hack (REDESIGN FLAGS).
func Init(level Level, out *os.File) {
	zerolog.SetGlobalLevel(level.zerolog())

	var w io.Writer = out
	if isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()) {
		w = zerolog.ConsoleWriter{Out: colorable.NewColorable(out), TimeFormat: "15:04:05"}
	}

	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

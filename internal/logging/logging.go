// Package logging is the structured-logging ambient layer shared by every
// substrate component. It keeps the teacher's Infof/Warnf/Errorf call shape
// (SynapseStrike/trader/auto_trader.go calls logger.Infof(...) throughout)
// while backing it with zerolog the way the pack's other trading repos
// (bitunix-bot's internal/exec, cryptorun's internal/data/facade) use it:
// structured, leveled, with a stable field vocabulary.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	std = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
)

// SetOutput redirects the package logger, e.g. to a file or to io.Discard in
// tests that want quiet output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	std = zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel adjusts the minimum emitted level.
func SetLevel(level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	std = std.Level(level)
}

// Logger is the interface components depend on, so tests can inject a
// no-op or capturing implementation instead of the package singleton.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	With(component string) Logger
}

type zlog struct {
	l zerolog.Logger
}

// Default returns the package-level logger wrapped to satisfy Logger.
func Default() Logger { return zlog{l: current()} }

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

func (z zlog) Debugf(format string, args ...any) { z.l.Debug().Msgf(format, args...) }
func (z zlog) Infof(format string, args ...any)  { z.l.Info().Msgf(format, args...) }
func (z zlog) Warnf(format string, args ...any)  { z.l.Warn().Msgf(format, args...) }
func (z zlog) Errorf(format string, args ...any) { z.l.Error().Msgf(format, args...) }

func (z zlog) With(component string) Logger {
	return zlog{l: z.l.With().Str("component", component).Logger()}
}

// Package-level convenience wrappers mirroring the teacher's free-function
// logger.Infof/Warnf/Errorf call sites.
func Debugf(format string, args ...any) { current().Debug().Msgf(format, args...) }
func Infof(format string, args ...any)  { current().Info().Msgf(format, args...) }
func Warnf(format string, args ...any)  { current().Warn().Msgf(format, args...) }
func Errorf(format string, args ...any) { current().Error().Msgf(format, args...) }

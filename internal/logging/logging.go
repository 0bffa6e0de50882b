// Package logging builds the supervisor's slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"disorder.dev/shandler"
)

// Options controls logger output.
type Options struct {
	Level string // debug, info, warn or error
	JSON  bool
	Color bool
	// Out and Err receive normal and error output. Nil means os.Stdout
	// and os.Stderr.
	Out io.Writer
	Err io.Writer
	// File, when set, also receives every record.
	File string
}

// New builds a logger. The returned close function releases the log file,
// if any.
func New(opts Options) (*slog.Logger, func() error, error) {
	var handlerOpts []shandler.HandlerOption

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	handlerOpts = append(handlerOpts, shandler.WithLogLevel(level))
	handlerOpts = append(handlerOpts, shandler.WithTimeFormat(time.DateTime))
	handlerOpts = append(handlerOpts, shandler.WithShortLevels())

	if opts.JSON {
		handlerOpts = append(handlerOpts, shandler.WithJSON())
	}
	if opts.Color {
		handlerOpts = append(handlerOpts, shandler.WithColor())
	}

	out, errOut := opts.Out, opts.Err
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	stdoutWriters := []io.Writer{out}
	stderrWriters := []io.Writer{errOut}

	closeFn := func() error { return nil }
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open %s: %w", opts.File, err)
		}
		stdoutWriters = append(stdoutWriters, f)
		stderrWriters = append(stderrWriters, f)
		closeFn = f.Close
	}

	handlerOpts = append(handlerOpts, shandler.WithStdOut(stdoutWriters...))
	handlerOpts = append(handlerOpts, shandler.WithStdErr(stderrWriters...))
	handlerOpts = append(handlerOpts, shandler.WithTextOutputFormat("%[2]s [%[1]s] %[3]s\n"))

	return slog.New(shandler.NewHandler(handlerOpts...)), closeFn, nil
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging: unknown level %q", name)
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

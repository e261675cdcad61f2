// Package logging configures the zerolog logger shared by the CLI and client.
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

const (
	EnvLevel     = "POPCATALOG_LOG_LEVEL"
	EnvNoColor   = "POPCATALOG_LOG_NOCOLOR"
	EnvTimestamp = "POPCATALOG_LOG_TIMESTAMP"
)

type Options struct {
	Level     string
	NoColor   bool
	Timestamp bool
	Out       io.Writer
}

// Runtime is the profile used by the CLI: warnings and above on stderr.
func Runtime() Options {
	return Options{Level: "warn", Out: os.Stderr}
}

// FromEnv applies the POPCATALOG_LOG_* overrides on top of opts.
func FromEnv(opts Options) Options {
	if v, ok := os.LookupEnv(EnvLevel); ok && strings.TrimSpace(v) != "" {
		opts.Level = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvNoColor); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.NoColor = b
		}
	}
	if v, ok := os.LookupEnv(EnvTimestamp); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.Timestamp = b
		}
	}
	return opts
}

// New returns a console logger tagged with app.
func New(app string, opts Options) (zerolog.Logger, error) {
	level := zerolog.WarnLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	output := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    opts.NoColor || !isTerminal(out),
		TimeFormat: time.RFC3339,
	}
	if !opts.Timestamp {
		output.PartsExclude = []string{zerolog.TimestampFieldName}
	}

	ctx := zerolog.New(output).Level(level).With().Str("app", app)
	if opts.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger(), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

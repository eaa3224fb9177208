package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the root logger. It is the zero value until Init runs, so
// packages constructed before initialization log nothing rather than
// panicking; commands call Init first thing.
var Logger zerolog.Logger

// Level names a verbosity threshold.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config selects the verbosity and output format for the process.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init configures the root logger. An unknown level name falls back to
// info rather than failing startup over a typo.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(string(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	Logger = New(output, cfg.JSONOutput)
}

// New builds a logger writing to output, either as JSON lines or as
// human-readable console records.
func New(output io.Writer, jsonOutput bool) zerolog.Logger {
	if !jsonOutput {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent returns a child of the root logger tagged with the
// subsystem name. Every package takes its logger through here so
// records can be filtered by origin.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// #region logger

// EnvLogLevel overrides the default log level ("debug", "info", "warn", ...).
const EnvLogLevel = "GOVERNANCE_LOG_LEVEL"

// EnvLogJSON switches console output to newline-delimited JSON when "true".
const EnvLogJSON = "GOVERNANCE_LOG_JSON"

// InitLogger builds the process logger for app. Console output by default;
// JSON lines when GOVERNANCE_LOG_JSON=true, matching what a log shipper expects.
func InitLogger(app string) zerolog.Logger {
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if strings.EqualFold(os.Getenv(EnvLogJSON), "true") {
		out = os.Stdout
	}
	level := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(strings.ToLower(os.Getenv(EnvLogLevel))); err == nil && lvl != zerolog.NoLevel {
		level = lvl
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("app", app).Logger()
}

// #endregion logger

package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/a3s-box/box/pkg/types"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents a log level selectable via --log-level / A3S_LOG_LEVEL.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger tagged with a component name
// (e.g. "registry", "rootfs", "shim", "engine").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithBoxID creates a child logger tagged with a box id, for sites
// (pkg/shim's Supervisor, most notably) that only ever see the id and
// never hold a full *types.BoxRecord.
func WithBoxID(boxID string) zerolog.Logger {
	return Logger.With().Str("box_id", boxID).Logger()
}

// WithBox creates a child logger carrying a box's id and current
// lifecycle state. pkg/engine's restart daemon walks *types.BoxRecord
// already, so this replaces what would otherwise be a repeated
// .Str("box_id", r.ID) at its error/event log calls in restart.go.
func WithBox(r *types.BoxRecord) zerolog.Logger {
	return Logger.With().Str("box_id", r.ID).Str("state", string(r.State)).Logger()
}

// WithImage creates a child logger carrying an image's reference and
// content digest, so pkg/registry's pull/cache logs correlate across
// layer events without each call site re-deriving both fields.
func WithImage(img *types.Image) zerolog.Logger {
	return Logger.With().Str("image", img.Reference).Str("digest", img.Digest).Logger()
}

// WithVolume creates a child logger tagged with a volume name.
func WithVolume(name string) zerolog.Logger {
	return Logger.With().Str("volume", name).Logger()
}

func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}

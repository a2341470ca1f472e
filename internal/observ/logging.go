package observ

import (
	"io"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig selects level and output format.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Pretty bool   // console output instead of JSON lines
}

// Init configures the global logger. Safe to call more than once.
func Init(cfg LogConfig) zerolog.Logger {
	return InitWriter(cfg, os.Stdout)
}

func InitWriter(cfg LogConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	l := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = l
	return l
}

// Logger returns a component-scoped child of the global logger.
func Logger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// Log writes a structured event. Keys are emitted in sorted order so
// lines diff cleanly.
func Log(event string, kv map[string]any) {
	LogLevel(zerolog.InfoLevel, event, kv)
}

func Warn(event string, kv map[string]any) {
	LogLevel(zerolog.WarnLevel, event, kv)
}

func LogLevel(level zerolog.Level, event string, kv map[string]any) {
	e := log.Logger.WithLevel(level)
	if e == nil {
		return
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := kv[k].(type) {
		case error:
			e = e.AnErr(k, v)
		default:
			e = e.Interface(k, v)
		}
	}
	e.Str("event", event).Send()
}

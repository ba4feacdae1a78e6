package main

import (
	"fmt"
	"io"
	stdslog "log/slog"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eternovinculo/visitguard"
	logrusadapter "github.com/eternovinculo/visitguard/log/logrus"
	slogadapter "github.com/eternovinculo/visitguard/log/slog"
	zapadapter "github.com/eternovinculo/visitguard/log/zap"
	zerologadapter "github.com/eternovinculo/visitguard/log/zerolog"
)

var logFormats = []string{"console", "json", "zap", "logrus", "slog"}

// newLogger builds the logger for --log-format, writing to w.
func newLogger(format string, w io.Writer, verbose bool) (visitguard.Logger, error) {
	switch format {
	case "console", "json":
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		out := w
		if format == "console" {
			out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
		}
		l := zerolog.New(out).Level(level).With().Timestamp().Str("component", "visitctl").Logger()
		return zerologadapter.Logger{L: l}, nil

	case "zap":
		level := zapcore.InfoLevel
		if verbose {
			level = zapcore.DebugLevel
		}
		core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(w), level)
		return zapadapter.New(zap.New(core)), nil

	case "logrus":
		l := logrus.New()
		l.SetOutput(w)
		l.SetFormatter(&logrus.TextFormatter{DisableColors: true})
		l.SetLevel(logrus.InfoLevel)
		if verbose {
			l.SetLevel(logrus.DebugLevel)
		}
		return logrusadapter.New(l), nil

	case "slog":
		level := stdslog.LevelInfo
		if verbose {
			level = stdslog.LevelDebug
		}
		h := stdslog.NewTextHandler(w, &stdslog.HandlerOptions{Level: level})
		return slogadapter.Logger{L: stdslog.New(h)}, nil
	}
	return nil, fmt.Errorf("unknown --log-format %q (want %s)", format, strings.Join(logFormats, ", "))
}

package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eternovinculo/visitguard"
)

func TestFieldsAreWritten(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Warn("mirror error", visitguard.Fields{"op": "mark", "key": "profile/abc", "err": errors.New("disk full")})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Level != zapcore.WarnLevel || e.Message != "mirror error" || e.LoggerName != "visitguard" {
		t.Fatalf("unexpected entry: %+v", e.Entry)
	}
	ctx := e.ContextMap()
	if ctx["op"] != "mark" || ctx["key"] != "profile/abc" || ctx["err"] != "disk full" {
		t.Fatalf("fields: %v", ctx)
	}
}

func TestLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := New(zap.New(core))

	l.Debug("hidden", nil)
	l.Info("info", nil)
	l.Error("error", visitguard.Fields{})

	if logs.Len() != 2 {
		t.Fatalf("want 2 entries above debug, got %d", logs.Len())
	}
	if got := logs.FilterMessage("error").All(); len(got) != 1 || got[0].Level != zapcore.ErrorLevel {
		t.Fatalf("error entry: %+v", got)
	}
}

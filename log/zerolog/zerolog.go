// Package zerolog adapts a zerolog.Logger to visitguard.Logger. visitctl logs
// through it.
package zerolog

import (
	"github.com/rs/zerolog"

	"github.com/eternovinculo/visitguard"
)

var _ visitguard.Logger = Logger{}

type Logger struct{ L zerolog.Logger }

func (z Logger) Debug(msg string, f visitguard.Fields) { with(z.L.Debug(), f).Msg(msg) }
func (z Logger) Info(msg string, f visitguard.Fields)  { with(z.L.Info(), f).Msg(msg) }
func (z Logger) Warn(msg string, f visitguard.Fields)  { with(z.L.Warn(), f).Msg(msg) }
func (z Logger) Error(msg string, f visitguard.Fields) { with(z.L.Error(), f).Msg(msg) }

func with(e *zerolog.Event, f visitguard.Fields) *zerolog.Event {
	// e is nil when the level is disabled
	if e == nil {
		return e
	}
	for k, v := range f {
		if err, ok := v.(error); ok {
			e = e.AnErr(k, err)
			continue
		}
		e = e.Interface(k, v)
	}
	return e
}

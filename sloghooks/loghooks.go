// Package sloghooks logs visitguard hook events with log/slog.
package sloghooks

import (
	"log/slog"
	"sync/atomic"

	"github.com/eternovinculo/visitguard"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	RemoteEventEvery uint64
	MirrorErrorEvery uint64
	// Optional slug redactor. Slugs are public, so the default keeps them.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	remoteCtr atomic.Uint64
	mirrorCtr atomic.Uint64
}

var _ visitguard.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) key(k visitguard.Key) string {
	if h.opts.Redact != nil {
		return string(k.Kind) + "/" + h.opts.Redact(k.ID)
	}
	return k.String()
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) IncrementStarted(k visitguard.Key) {
	if h.l == nil {
		return
	}
	h.l.Debug("visitguard.increment_started", "key", h.key(k))
}

func (h *Hooks) IncrementCompleted(k visitguard.Key, count int64) {
	if h.l == nil {
		return
	}
	h.l.Info("visitguard.increment_completed",
		"key", h.key(k),
		"visit_count", count)
}

func (h *Hooks) IncrementRateLimited(k visitguard.Key) {
	if h.l == nil {
		return
	}
	h.l.Info("visitguard.increment_rate_limited", "key", h.key(k))
}

func (h *Hooks) IncrementFailed(k visitguard.Key, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("visitguard.increment_failed",
		"key", h.key(k),
		"err", err)
}

func (h *Hooks) MirrorError(op string, k visitguard.Key, err error) {
	if h.l == nil || !sample(h.opts.MirrorErrorEvery, &h.mirrorCtr) {
		return
	}
	h.l.Warn("visitguard.mirror_error",
		"op", op,
		"key", h.key(k),
		"err", err)
}

func (h *Hooks) RemoteEvent(k visitguard.Key, s visitguard.State) {
	if h.l == nil || !sample(h.opts.RemoteEventEvery, &h.remoteCtr) {
		return
	}
	h.l.Debug("visitguard.remote_event",
		"key", h.key(k),
		"state", s.String())
}

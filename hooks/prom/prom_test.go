package prom

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/eternovinculo/visitguard"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	fam := visitguard.Key{Kind: visitguard.KindFamily, ID: "garcia"}

	h.IncrementStarted(fam)
	h.IncrementCompleted(fam, 3)
	h.IncrementStarted(fam)
	h.IncrementFailed(fam, errors.New("boom"))
	h.MirrorError("mark", fam, errors.New("disk"))
	h.RemoteEvent(visitguard.Key{}, visitguard.Idle)

	if got := testutil.ToFloat64(h.increments.WithLabelValues("family", "started")); got != 2 {
		t.Fatalf("started=%v want 2", got)
	}
	if got := testutil.ToFloat64(h.increments.WithLabelValues("family", "failed")); got != 1 {
		t.Fatalf("failed=%v want 1", got)
	}
	if got := testutil.ToFloat64(h.mirrorErrs.WithLabelValues("mark")); got != 1 {
		t.Fatalf("mirror errors=%v want 1", got)
	}
	if got := testutil.ToFloat64(h.remote.WithLabelValues("all", "idle")); got != 1 {
		t.Fatalf("remote=%v want 1", got)
	}
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := New(reg); err == nil {
		t.Fatal("expected AlreadyRegisteredError")
	}
}

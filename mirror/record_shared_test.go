package mirror

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/eternovinculo/visitguard/store/sqlite"
)

// Two clients over one state file, like two visitctl runs.
func openSharedRecord(t *testing.T, path string) *RecordMirror {
	t.Helper()
	st, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return newTestRecord(t, st, nil)
}

func TestRecordConcurrentWritersKeepEveryMarker(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	tabA := openSharedRecord(t, path)
	tabB := openSharedRecord(t, path)

	const rounds = 50
	for i := 0; i < rounds; i++ {
		var wg sync.WaitGroup
		errs := make(chan error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- tabA.MarkCompleted(ctx, "profile", fmt.Sprintf("a%d", i))
		}()
		go func() {
			defer wg.Done()
			errs <- tabB.MarkCompleted(ctx, "family", fmt.Sprintf("b%d", i))
		}()
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("round %d: MarkCompleted: %v", i, err)
			}
		}
	}

	rec, err := tabA.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got := len(rec.Kinds["profile"]); got != rounds {
		t.Fatalf("profile markers=%d want %d", got, rounds)
	}
	if got := len(rec.Kinds["family"]); got != rounds {
		t.Fatalf("family markers=%d want %d", got, rounds)
	}
}

func TestRecordClearDoesNotDropConcurrentMark(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	tabA := openSharedRecord(t, path)
	tabB := openSharedRecord(t, path)

	const rounds = 30
	for i := 0; i < rounds; i++ {
		id := fmt.Sprintf("p%d", i)
		if err := tabA.MarkCompleted(ctx, "profile", id); err != nil {
			t.Fatal(err)
		}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _ = tabA.Clear(ctx, "profile", id) }()
		go func() { defer wg.Done(); _ = tabB.MarkCompleted(ctx, "couple", id) }()
		wg.Wait()

		if ok, err := tabB.Completed(ctx, "couple", id); err != nil || !ok {
			t.Fatalf("round %d: couple marker lost: ok=%v err=%v", i, ok, err)
		}
		if ok, _ := tabB.Completed(ctx, "profile", id); ok {
			t.Fatalf("round %d: profile marker should be cleared", i)
		}
	}
}

package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func blockUntilCancelled(started chan<- struct{}) TaskFunc {
	return func(ctx context.Context) error {
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		return nil
	}
}

func TestSpawnRegistersAndDeregisters(t *testing.T) {
	s := New()
	release := make(chan struct{})

	s.Spawn("recording_r1", func(ctx context.Context) error {
		<-release
		return nil
	})

	if !s.Has("recording_r1") {
		t.Fatal("task should be registered after Spawn")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}

	close(release)
	waitFor(t, func() bool { return !s.Has("recording_r1") })
}

func TestSpawnReplacesRunningTask(t *testing.T) {
	s := New()
	var firstStopped atomic.Bool
	started := make(chan struct{})

	s.Spawn("recording_r1", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		firstStopped.Store(true)
		return nil
	})
	<-started

	s.Spawn("recording_r1", func(ctx context.Context) error {
		if !firstStopped.Load() {
			t.Error("second task started before the first one returned")
		}
		<-ctx.Done()
		return nil
	})

	if !firstStopped.Load() {
		t.Fatal("Spawn returned before the previous task was awaited")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}

func TestCancelAndAwait(t *testing.T) {
	s := New()
	started := make(chan struct{})
	s.Spawn("recording_r1", blockUntilCancelled(started))
	<-started

	if err := s.CancelAndAwait(context.Background(), "recording_r1"); err != nil {
		t.Fatalf("CancelAndAwait returned error: %v", err)
	}
	if s.Has("recording_r1") {
		t.Error("task still registered after CancelAndAwait")
	}

	if err := s.CancelAndAwait(context.Background(), "recording_missing"); err != nil {
		t.Errorf("CancelAndAwait on missing task returned error: %v", err)
	}
}

func TestCancelAndAwaitTimeout(t *testing.T) {
	s := New()
	release := make(chan struct{})
	defer close(release)

	s.Spawn("stubborn", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.CancelAndAwait(ctx, "stubborn")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	s := New()
	s.Spawn("recording_bad", func(ctx context.Context) error {
		panic("boom")
	})

	waitFor(t, func() bool { return !s.Has("recording_bad") })
}

func TestTaskErrorDeregisters(t *testing.T) {
	s := New()
	s.Spawn("recording_err", func(ctx context.Context) error {
		return errors.New("upstream failed")
	})

	waitFor(t, func() bool { return s.Len() == 0 })
}

func TestNamesSorted(t *testing.T) {
	s := New()
	defer s.Shutdown(context.Background())

	for _, name := range []string{"recording_c", "recording_a", "recording_b"} {
		s.Spawn(name, blockUntilCancelled(nil))
	}

	got := s.Names()
	want := []string{"recording_a", "recording_b", "recording_c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names = %v, want %v", got, want)
		}
	}
}

func TestOnChange(t *testing.T) {
	s := New()
	var (
		mu     sync.Mutex
		counts []int
	)
	s.OnChange(func(active int) {
		mu.Lock()
		counts = append(counts, active)
		mu.Unlock()
	})

	started := make(chan struct{})
	s.Spawn("recording_r1", blockUntilCancelled(started))
	<-started
	if err := s.CancelAndAwait(context.Background(), "recording_r1"); err != nil {
		t.Fatalf("CancelAndAwait returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(counts) != 2 || counts[0] != 1 || counts[1] != 0 {
		t.Errorf("OnChange counts = %v, want [1 0]", counts)
	}
}

func TestShutdown(t *testing.T) {
	s := New()
	for _, name := range []string{"a", "b"} {
		s.Spawn(name, blockUntilCancelled(nil))
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after Shutdown, want 0", s.Len())
	}

	s.Spawn("late", blockUntilCancelled(nil))
	if s.Has("late") {
		t.Error("Spawn after Shutdown should not register a task")
	}
}

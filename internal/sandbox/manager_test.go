package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/deepserve/deepserve/internal/config"
)

func newTestManager(t *testing.T, rt Runtime) *Manager {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{BaseDir: base, HostDir: base}
	return NewManager(cfg, rt, nil, nil)
}

func TestAcquireSingleCreation(t *testing.T) {
	rt := newFakeRuntime()
	m := newTestManager(t, rt)
	image := DefaultImageConfig()

	var wg sync.WaitGroup
	results := make([]*Sandbox, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sb, err := m.Acquire(context.Background(), 1, "conv-a", image, nil)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			results[i] = sb
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatal("Acquire() returned different sandboxes for the same conversation")
		}
	}

	other, err := m.Acquire(context.Background(), 1, "conv-b", image, nil)
	if err != nil {
		t.Fatal(err)
	}
	if other == results[0] {
		t.Fatal("different conversations share a sandbox")
	}
}

func TestScheduleStopIdempotent(t *testing.T) {
	rt := newFakeRuntime()
	rt.stopGate = make(chan struct{})
	m := newTestManager(t, rt)

	sb, err := m.Acquire(context.Background(), 1, "conv-a", DefaultImageConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sb.Execute(context.Background(), "echo hi", 0); err != nil {
		t.Fatal(err)
	}

	m.ScheduleStop("conv-a")
	m.ScheduleStop("conv-a")
	m.ScheduleStop("missing-conv")
	close(rt.stopGate)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, _, stops, _ := rt.counts(); stops == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sandbox never stopped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if _, _, stops, _ := rt.counts(); stops != 1 {
		t.Fatalf("stops = %d, want 1", stops)
	}
}

func TestAcquireCancelsScheduledStop(t *testing.T) {
	rt := newFakeRuntime()
	m := newTestManager(t, rt)

	sb, err := m.Acquire(context.Background(), 1, "conv-a", DefaultImageConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sb.Execute(context.Background(), "echo hi", 0); err != nil {
		t.Fatal(err)
	}

	m.mu.Lock()
	m.stopPending["conv-a"] = true
	m.mu.Unlock()

	// Re-acquiring clears the pending flag, so the deferred stop must
	// leave the container alone when it finally runs.
	if _, err := m.Acquire(context.Background(), 1, "conv-a", DefaultImageConfig(), nil); err != nil {
		t.Fatal(err)
	}
	m.runScheduledStop("conv-a", sb)

	if _, _, stops, _ := rt.counts(); stops != 0 {
		t.Fatalf("stops = %d, cancelled stop still ran", stops)
	}
}

func TestAcquireRebuildsOnSkillChange(t *testing.T) {
	rt := newFakeRuntime()
	m := newTestManager(t, rt)
	for _, name := range []string{"alpha", "beta"} {
		if err := os.MkdirAll(filepath.Join(m.cfg.SkillsDir(), name), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	sb, err := m.Acquire(context.Background(), 1, "conv-a", DefaultImageConfig(), []string{"alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sb.Execute(context.Background(), "echo hi", 0); err != nil {
		t.Fatal(err)
	}

	// Same skill set: no rebuild.
	if _, err := m.Acquire(context.Background(), 1, "conv-a", DefaultImageConfig(), []string{"alpha"}); err != nil {
		t.Fatal(err)
	}
	if _, _, _, removes := rt.counts(); removes != 0 {
		t.Fatalf("removes = %d after unchanged mounts", removes)
	}

	// Changed skill set: container removed so next exec rebuilds mounts.
	if _, err := m.Acquire(context.Background(), 1, "conv-a", DefaultImageConfig(), []string{"alpha", "beta"}); err != nil {
		t.Fatal(err)
	}
	if _, _, _, removes := rt.counts(); removes != 1 {
		t.Fatalf("removes = %d, want 1", removes)
	}
}

func TestPurge(t *testing.T) {
	rt := newFakeRuntime()
	m := newTestManager(t, rt)

	if _, err := m.Acquire(context.Background(), 1, "conv-a", DefaultImageConfig(), nil); err != nil {
		t.Fatal(err)
	}
	if err := m.Purge(context.Background(), "conv-a"); err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if _, _, _, removes := rt.counts(); removes != 1 {
		t.Fatalf("removes = %d, want 1", removes)
	}
	if err := m.Purge(context.Background(), "conv-a"); err != nil {
		t.Fatalf("Purge() of absent sandbox error = %v", err)
	}
}

package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"coursepulse.io/notifier/internal/pkg/logger"
)

func newTestPools(t *testing.T) *Pools {
	t.Helper()
	if err := logger.Init("error", "json"); err != nil {
		t.Fatalf("logger.Init() error = %v", err)
	}
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	t.Cleanup(pools.Release)
	return pools
}

func TestSubmitRunsTask(t *testing.T) {
	pools := newTestPools(t)

	var wg sync.WaitGroup
	wg.Add(1)
	ran := false
	err := pools.General.Submit(context.Background(), func(ctx context.Context) {
		ran = true
		wg.Done()
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	wg.Wait()
	if !ran {
		t.Fatal("task did not run")
	}
}

func TestSubmitRejectsCancelledContext(t *testing.T) {
	pools := newTestPools(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pools.General.Submit(ctx, func(ctx context.Context) {
		t.Error("task ran despite cancelled context")
	})
	if err == nil {
		t.Fatal("Submit() with cancelled context = nil, want error")
	}
}

func TestSubmitDetachedSkipsAfterRelease(t *testing.T) {
	pools := newTestPools(t)
	pools.Release()

	done := make(chan struct{})
	_ = pools.SubmitDetached("delivery", func(ctx context.Context) {
		close(done)
	})

	select {
	case <-done:
		t.Fatal("detached task ran after Release")
	case <-time.After(50 * time.Millisecond):
	}
}

package admission

import (
	"DeepDistill/backend/go/internal/faults"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCheckFile(t *testing.T) {
	l := Limits{MaxFileSize: 1 << 31, MaxBatchFiles: 20}
	if err := l.CheckFile(1 << 31); err != nil {
		t.Errorf("Expected exactly the limit to pass, got %v", err)
	}
	if err := l.CheckFile(1<<31 + 1); !faults.Is(err, faults.KindAdmissionRejected) {
		t.Errorf("Expected limit+1 to be rejected, got %v", err)
	}
}

func TestCheckBatch(t *testing.T) {
	l := Limits{MaxFileSize: 100, MaxBatchFiles: 20}

	sizes := make([]int64, 25)
	if err := l.CheckBatch(sizes); !faults.Is(err, faults.KindAdmissionRejected) {
		t.Errorf("Expected 25 files to be rejected, got %v", err)
	}
	if err := l.CheckBatch([]int64{60, 50}); !faults.Is(err, faults.KindAdmissionRejected) {
		t.Errorf("Expected cumulative size over the limit to be rejected, got %v", err)
	}
	if err := l.CheckBatch([]int64{40, 60}); err != nil {
		t.Errorf("Expected batch at the limit to pass, got %v", err)
	}
	if err := l.CheckBatch(nil); err == nil {
		t.Errorf("Expected empty batch to be rejected")
	}
}

func TestGateBoundsConcurrency(t *testing.T) {
	const n = 3
	g := NewGate(n)
	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n+5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			defer release()
			cur := running.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		}()
	}
	wg.Wait()
	if peak.Load() > n {
		t.Errorf("Expected at most %d concurrent holders, got %d", n, peak.Load())
	}
	if g.InUse() != 0 {
		t.Errorf("Expected all slots to be released, got %d", g.InUse())
	}
}

func TestGateReleaseIsIdempotent(t *testing.T) {
	g := NewGate(1)
	release, _ := g.Acquire(context.Background())
	release()
	release()
	if g.InUse() != 0 {
		t.Errorf("Expected 0 in use, got %d", g.InUse())
	}

	release, _ = g.Acquire(context.Background())
	defer release()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := g.Acquire(ctx); err == nil {
		t.Errorf("Expected Acquire on a full gate to fail when ctx expires")
	}
}

package tasmota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_SameKeyRunsInOrder(t *testing.T) {
	q := NewQueue(context.Background(), 4, nil)
	defer q.Close()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		if err := q.Submit("AABBCC", func(context.Context) {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	q.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("job %d ran at position %d: order %v", v, i, got)
		}
	}
	if len(got) != 50 {
		t.Errorf("ran %d jobs, want 50", len(got))
	}
}

func TestQueue_SameKeyNeverOverlaps(t *testing.T) {
	q := NewQueue(context.Background(), 8, nil)
	defer q.Close()

	var running, overlaps int32
	for i := 0; i < 20; i++ {
		_ = q.Submit("key", func(context.Context) {
			if atomic.AddInt32(&running, 1) > 1 {
				atomic.AddInt32(&overlaps, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	q.Wait()

	if overlaps != 0 {
		t.Errorf("overlapping jobs for one key: %d", overlaps)
	}
}

func TestQueue_ConcurrencyBound(t *testing.T) {
	const limit = 2
	q := NewQueue(context.Background(), limit, nil)
	defer q.Close()

	var running, peak int32
	for _, key := range []string{"a", "b", "c", "d", "e", "f"} {
		_ = q.Submit(key, func(context.Context) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	q.Wait()

	if peak > limit {
		t.Errorf("peak concurrency = %d, want <= %d", peak, limit)
	}
	if q.Active() != 0 {
		t.Errorf("Active() = %d after Wait, want 0", q.Active())
	}
}

func TestQueue_DifferentKeysOverlap(t *testing.T) {
	q := NewQueue(context.Background(), 2, nil)
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	for _, key := range []string{"a", "b"} {
		_ = q.Submit(key, func(context.Context) {
			started <- struct{}{}
			<-release
		})
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("jobs for different keys did not run concurrently")
		}
	}
	close(release)
	q.Wait()
}

func TestQueue_RecoversPanics(t *testing.T) {
	q := NewQueue(context.Background(), 1, nil)
	defer q.Close()

	ran := false
	_ = q.Submit("k", func(context.Context) { panic("boom") })
	_ = q.Submit("k", func(context.Context) { ran = true })
	q.Wait()

	if !ran {
		t.Error("job after a panicking job did not run")
	}
}

func TestQueue_SubmitAfterClose(t *testing.T) {
	q := NewQueue(context.Background(), 1, nil)
	q.Close()

	if err := q.Submit("k", func(context.Context) {}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Submit() error = %v, want ErrQueueClosed", err)
	}
}

func TestQueue_CloseCancelsJobs(t *testing.T) {
	q := NewQueue(context.Background(), 1, nil)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	_ = q.Submit("k", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	<-started
	q.Close()

	select {
	case <-cancelled:
	default:
		t.Error("running job did not see cancellation")
	}
}

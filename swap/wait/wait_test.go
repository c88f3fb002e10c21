// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package wait

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTaper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue(time.Millisecond, time.Millisecond*10)
	go q.Run(ctx)

	var last time.Time
	intervals := make([]time.Duration, 0, 10)
	var expired sync.WaitGroup
	expired.Add(1)

	q.Offer(&Attempt{
		Deadline: time.Now().Add(time.Millisecond * 30),
		Try: func() Directive {
			if last.IsZero() {
				last = time.Now()
				return TryAgain
			}
			intervals = append(intervals, time.Since(last))
			last = time.Now()
			return TryAgain
		},
		OnExpire: func() {
			expired.Done()
		},
	})

	expired.Wait()

	if len(intervals) < 3 {
		t.Fatalf("only %d intervals recorded", len(intervals))
	}
	// Early intervals run at full speed; later ones must not shrink below
	// them once the taper starts.
	for i := 1; i < len(intervals); i++ {
		// Scheduling jitter allows a little wiggle.
		if intervals[i] < intervals[i-1]-2*time.Millisecond {
			t.Fatalf("interval %d (%s) shrank from %s", i, intervals[i], intervals[i-1])
		}
	}
}

func TestDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue(time.Millisecond, time.Millisecond*5)
	go q.Run(ctx)

	var tries uint32
	done := make(chan struct{})
	q.Offer(&Attempt{
		Deadline: time.Now().Add(time.Second),
		Try: func() Directive {
			if atomic.AddUint32(&tries, 1) < 3 {
				return TryAgain
			}
			close(done)
			return Done
		},
		OnExpire: func() {
			t.Error("expired before success")
		},
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("attempt never completed")
	}
	// No further tries after Done.
	final := atomic.LoadUint32(&tries)
	time.Sleep(20 * time.Millisecond)
	if n := atomic.LoadUint32(&tries); n != final {
		t.Fatalf("tries kept running after Done: %d -> %d", final, n)
	}
}

func TestShutdownExpiry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	q := NewQueue(time.Hour, time.Hour) // never ticks on its own
	ran := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(ran)
	}()

	expired := make(chan struct{})
	q.Offer(&Attempt{
		Deadline: time.Now().Add(time.Hour),
		Try:      func() Directive { return TryAgain },
		OnExpire: func() { close(expired) },
	})

	// Give the first try a chance to run and requeue.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatalf("pending attempt did not expire on shutdown")
	}
	<-ran
}

func TestShutdownRequeueFlood(t *testing.T) {
	// More in-flight attempts than the incoming buffer holds, all re-queuing
	// at shutdown. Run must not deadlock, and every attempt must expire.
	ctx, cancel := context.WithCancel(context.Background())

	q := NewQueue(time.Hour, time.Hour)
	ran := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(ran)
	}()

	const n = 40
	var expired uint32
	gate := make(chan struct{})
	for i := 0; i < n; i++ {
		q.Offer(&Attempt{
			Deadline: time.Now().Add(time.Hour),
			Try: func() Directive {
				<-gate
				return TryAgain
			},
			OnExpire: func() { atomic.AddUint32(&expired, 1) },
		})
	}

	// Let the first tries start, then shut down while they are all blocked.
	time.Sleep(10 * time.Millisecond)
	cancel()
	close(gate)

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatalf("queue did not shut down")
	}
	if got := atomic.LoadUint32(&expired); got != n {
		t.Fatalf("%d of %d attempts expired on shutdown", got, n)
	}
}

// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package wait provides a tapering retry queue for actions gated by on-chain
// stage windows. An action that is not yet actionable, typically because its
// stage has not opened or a counterparty event has not landed, is retried on
// a schedule that starts fast and tapers off, until it succeeds or its
// deadline passes.
package wait

import (
	"container/heap"
	"context"
	"math"
	"sync"
	"time"
)

// Directive is returned by an Attempt's Try to tell the queue whether to
// reschedule.
type Directive bool

const (
	// TryAgain reschedules the attempt after the tapered delay.
	TryAgain Directive = false
	// Done removes the attempt from the queue.
	Done Directive = true
)

// Attempt is one retried action.
type Attempt struct {
	// Deadline bounds the retries. When Try returns TryAgain past the
	// Deadline, OnExpire runs and the attempt is dropped.
	Deadline time.Time
	// Try runs on each tick until it returns Done or the Deadline passes.
	Try func() Directive
	// OnExpire runs if the Deadline passes or the queue shuts down first.
	OnExpire func()

	tries int
	at    time.Time
}

// attemptHeap orders pending attempts by next scheduled run time.
type attemptHeap []*Attempt

func (h attemptHeap) Len() int            { return len(h) }
func (h attemptHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h attemptHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *attemptHeap) Push(x interface{}) { *h = append(*h, x.(*Attempt)) }
func (h *attemptHeap) Pop() interface{} {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return a
}

// Retry speed is piecewise linear: constant at the fastest interval for the
// first fullSpeedTries, ramping linearly to the slowest interval by
// fullyTapered, and constant after that.
const (
	fullSpeedTries = 3
	fullyTapered   = 15
)

// Queue runs Attempts on a tapering-delay schedule. Early retries come
// quickly, since most stage windows open shortly after an attempt is queued,
// and unsuccessful attempts back off toward the slowest interval.
type Queue struct {
	fastest  time.Duration
	slowest  time.Duration
	incoming chan *Attempt
}

// NewQueue constructs a Queue retrying at the fastest interval initially and
// tapering to the slowest.
func NewQueue(fastest, slowest time.Duration) *Queue {
	return &Queue{
		fastest:  fastest,
		slowest:  slowest,
		incoming: make(chan *Attempt, 16),
	}
}

// Offer queues the attempt for an immediate first try. An attempt whose
// deadline already passed expires without a try. Offer must not be called
// after Run has returned.
func (q *Queue) Offer(a *Attempt) {
	// Do not run Try here; the caller must not block on the first attempt.
	a.at = time.Now()
	q.incoming <- a
}

// Run processes attempts until the context is canceled, at which point every
// pending attempt expires.
func (q *Queue) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	runAttempt := func(a *Attempt) {
		defer wg.Done()
		now := time.Now()
		if now.After(a.Deadline) {
			a.OnExpire()
			return
		}
		if a.Try() == Done {
			return
		}
		a.tries++
		a.at = q.nextTry(a.tries, now, a.Deadline)
		select {
		case q.incoming <- a:
		case <-ctx.Done():
			// Shutdown stopped draining incoming. Expire here rather than
			// block forever on a full channel.
			a.OnExpire()
		}
	}

	pending := make(attemptHeap, 0, 64)
	var timer *time.Timer
	for {
		var tick <-chan time.Time
		if len(pending) > 0 {
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(time.Until(pending[0].at))
			tick = timer.C
		}

		select {
		case <-tick:
			a := heap.Pop(&pending).(*Attempt)
			wg.Add(1)
			go runAttempt(a)

		case a := <-q.incoming:
			if time.Until(a.at) <= 0 {
				wg.Add(1)
				go runAttempt(a)
				continue
			}
			heap.Push(&pending, a)

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			for _, a := range pending {
				a.OnExpire()
			}
			// In-flight attempts may still re-queue into the buffer. Wait
			// for them, then expire anything buffered.
			wg.Wait()
			for {
				select {
				case a := <-q.incoming:
					a.OnExpire()
				default:
					return
				}
			}
		}
	}
}

// nextTry computes the next scheduled run, capped at the deadline so the
// final try lands exactly when the attempt would expire.
func (q *Queue) nextTry(tries int, now, deadline time.Time) time.Time {
	var at time.Time
	switch {
	case tries < fullSpeedTries:
		at = now.Add(q.fastest)
	case tries < fullyTapered:
		prog := float64(tries+1-fullSpeedTries) / (fullyTapered - fullSpeedTries)
		at = now.Add(q.fastest + time.Duration(math.Round(prog*float64(q.slowest-q.fastest))))
	default:
		at = now.Add(q.slowest)
	}
	if at.After(deadline) {
		return deadline
	}
	return at
}

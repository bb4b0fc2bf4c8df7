package service

import (
	"sync"
	"time"

	"vidfetch/internal/model"

	"golang.org/x/time/rate"
)

// DefaultProgressInterval bounds how often a job's subscribers see an
// event, no matter how fast the tool reports.
const DefaultProgressInterval = 300 * time.Millisecond

// progressStream is the fan-out state for one job id.
type progressStream struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	latest  model.ProgressEvent
	hasLast bool
	sent    bool // latest has already reached subscribers
	done    bool
	subs    []chan model.ProgressEvent
}

// deliverLocked sends ev to every subscriber without blocking. A slow
// subscriber's stale undelivered event is replaced by the newer one.
func (s *progressStream) deliverLocked(ev model.ProgressEvent) {
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// ProgressTracker throttles and fans out per-job progress events. Each
// job id carries one finite sequence: Register opens it, Publish feeds
// it, Finish flushes the newest state and closes every subscriber.
// A finished id is retired and cannot be restarted.
type ProgressTracker struct {
	mu       sync.RWMutex
	streams  map[string]*progressStream
	interval time.Duration
}

// NewProgressTracker creates a tracker emitting at most one event per
// interval per job.
func NewProgressTracker(interval time.Duration) *ProgressTracker {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &ProgressTracker{
		streams:  make(map[string]*progressStream),
		interval: interval,
	}
}

// Register opens the event sequence for a job id.
func (pt *ProgressTracker) Register(jobID string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if _, exists := pt.streams[jobID]; exists {
		return
	}
	pt.streams[jobID] = &progressStream{
		limiter: rate.NewLimiter(rate.Every(pt.interval), 1),
	}
}

// Publish records ev as the job's latest state and forwards it to
// subscribers when the throttle allows. Suppressed events are not lost:
// the newest one is delivered by the next allowed Publish or by Finish.
func (pt *ProgressTracker) Publish(ev model.ProgressEvent) {
	pt.mu.RLock()
	stream := pt.streams[ev.JobID]
	pt.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if stream.done {
		return
	}

	stream.latest = ev
	stream.hasLast = true
	stream.sent = false

	if !stream.limiter.Allow() {
		return
	}
	stream.deliverLocked(ev)
	stream.sent = true
}

// Subscribe returns the job's event channel. The channel closes when the
// job finishes. Subscribing to an unknown or finished id yields a closed
// channel. A mid-run subscriber starts from the job's latest state;
// earlier events are not replayed.
func (pt *ProgressTracker) Subscribe(jobID string) <-chan model.ProgressEvent {
	pt.mu.RLock()
	stream := pt.streams[jobID]
	pt.mu.RUnlock()

	if stream == nil {
		return closedEventChan()
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if stream.done {
		return closedEventChan()
	}

	ch := make(chan model.ProgressEvent, 1)
	if stream.hasLast {
		ch <- stream.latest
	}
	stream.subs = append(stream.subs, ch)
	return ch
}

// Finish ends a job's sequence: the newest suppressed event is flushed,
// every subscriber channel closes and the id is retired. The retired
// entry stays as a tombstone so the sequence cannot restart; Forget
// reclaims it once the job itself is pruned.
func (pt *ProgressTracker) Finish(jobID string) {
	pt.mu.RLock()
	stream := pt.streams[jobID]
	pt.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if stream.done {
		return
	}
	stream.done = true

	if stream.hasLast && !stream.sent {
		stream.deliverLocked(stream.latest)
	}
	for _, ch := range stream.subs {
		close(ch)
	}
	stream.subs = nil
}

// Forget drops a retired job id. Called when the job record itself is
// pruned; without this, tombstones would accumulate forever.
func (pt *ProgressTracker) Forget(jobID string) {
	pt.mu.Lock()
	delete(pt.streams, jobID)
	pt.mu.Unlock()
}

func closedEventChan() <-chan model.ProgressEvent {
	ch := make(chan model.ProgressEvent)
	close(ch)
	return ch
}

// Package timeline is the in-process event bus behind every run's progress
// stream. Each run (and each outreach re-invocation) owns one segment: an
// append-only event log with strictly increasing sequence numbers, closed by
// a single terminal end event. Publishing never blocks and never loses an
// event; subscribers that fall behind catch up from the log.
package timeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/tegami/internal/model"
)

var (
	// ErrNotFound is returned when subscribing to a segment that was never
	// opened or has been evicted.
	ErrNotFound = errors.New("timeline: segment not found")

	// ErrSubscriptionDone is returned by Next after the terminal end event
	// has been delivered, or after the segment was dropped.
	ErrSubscriptionDone = errors.New("timeline: subscription done")
)

// subscriberBuffer sizes the per-subscriber live channel. A full buffer is
// skipped on publish; the subscriber recovers the skipped events from the
// segment log, so the buffer only bounds wake-up traffic, not delivery.
const subscriberBuffer = 64

// segment holds one run's event log and its live subscribers.
type segment struct {
	mu      sync.Mutex
	events  []model.TimelineEvent
	seq     int64
	ended   bool
	dropped bool
	subs    map[chan model.TimelineEvent]struct{}
}

// Bus routes timeline events between pipeline stages and stream subscribers.
// Safe for concurrent use by multiple runs and multiple fan-out workers of
// the same run.
type Bus struct {
	mu       sync.RWMutex
	segments map[uuid.UUID]*segment
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{segments: make(map[uuid.UUID]*segment)}
}

// OpenSegment makes runID subscribable before its first event. Idempotent.
func (b *Bus) OpenSegment(runID uuid.UUID) {
	b.getOrCreate(runID)
}

// Exists reports whether runID has an open (or completed) segment.
func (b *Bus) Exists(runID uuid.UUID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.segments[runID]
	return ok
}

// Publish appends ev to runID's log, assigning the next sequence number and
// timestamp, and wakes live subscribers. It never blocks the caller: a
// subscriber whose channel is full is skipped and catches up from the log.
// Events published after the segment ended are discarded so the end event
// stays last.
func (b *Bus) Publish(runID uuid.UUID, ev model.TimelineEvent) {
	s := b.getOrCreate(runID)
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.seq++
	ev.RunID = runID
	ev.Seq = s.seq
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	s.events = append(s.events, ev)
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full. The event is in the log; Next picks
			// it up there.
		}
	}
	s.mu.Unlock()
}

// EndSegment publishes the terminal end event for runID. Idempotent: only
// the first call lands an end event, every later publish is a no-op.
func (b *Bus) EndSegment(runID uuid.UUID) {
	b.mu.RLock()
	s, ok := b.segments[runID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	ev := model.NewEvent(model.AgentSystem, model.EventEnd, model.LevelInfo, "", nil)
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.seq++
	ev.RunID = runID
	ev.Seq = s.seq
	ev.At = time.Now().UTC()
	s.events = append(s.events, ev)
	s.ended = true
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

// History returns a snapshot of runID's event log. Nil for unknown segments.
func (b *Bus) History(runID uuid.UUID) []model.TimelineEvent {
	b.mu.RLock()
	s, ok := b.segments[runID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TimelineEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Drop removes runID's segment and terminates its live subscribers. Called
// by the run store's eviction sweep.
func (b *Bus) Drop(runID uuid.UUID) {
	b.mu.Lock()
	s, ok := b.segments[runID]
	delete(b.segments, runID)
	b.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.dropped = true
	for ch := range s.subs {
		close(ch)
	}
	s.subs = make(map[chan model.TimelineEvent]struct{})
	s.mu.Unlock()
}

// Subscribe attaches to runID's segment. The subscription replays buffered
// history from the first event, then follows live publishes; it is finite
// and ends after the terminal end event. Subscribing to a completed segment
// replays the full history and then the end, rather than failing.
func (b *Bus) Subscribe(runID uuid.UUID) (*Subscription, error) {
	b.mu.RLock()
	s, ok := b.segments[runID]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	ch := make(chan model.TimelineEvent, subscriberBuffer)
	s.mu.Lock()
	if s.dropped {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	return &Subscription{seg: s, ch: ch, next: 1}, nil
}

func (b *Bus) getOrCreate(runID uuid.UUID) *segment {
	b.mu.RLock()
	s, ok := b.segments[runID]
	b.mu.RUnlock()
	if ok {
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.segments[runID]; ok {
		return s
	}
	s = &segment{subs: make(map[chan model.TimelineEvent]struct{})}
	b.segments[runID] = s
	return s
}

// Subscription is a single consumer's cursor over one segment. Not safe for
// concurrent use; each stream handler owns exactly one.
type Subscription struct {
	seg  *segment
	ch   chan model.TimelineEvent
	next int64 // sequence number of the next event to deliver
	done bool

	closeOnce sync.Once
}

// Next blocks until the next event in sequence is available and returns it.
// The log is consulted first so that events skipped on a full live channel
// are never lost. After delivering the end event, Next returns
// ErrSubscriptionDone. A cancelled ctx returns ctx.Err() without affecting
// the run.
func (s *Subscription) Next(ctx context.Context) (model.TimelineEvent, error) {
	if s.done {
		return model.TimelineEvent{}, ErrSubscriptionDone
	}
	for {
		if ev, ok := s.eventAt(s.next); ok {
			s.next++
			if ev.Type == model.EventEnd {
				s.done = true
				s.Close()
			}
			return ev, nil
		}

		select {
		case <-ctx.Done():
			return model.TimelineEvent{}, ctx.Err()
		case ev, ok := <-s.ch:
			if !ok {
				// Segment dropped by eviction.
				s.done = true
				return model.TimelineEvent{}, ErrSubscriptionDone
			}
			if ev.Seq != s.next {
				// Behind (already served from the log) or ahead (a publish
				// was skipped); the log path reconciles either way.
				continue
			}
			s.next++
			if ev.Type == model.EventEnd {
				s.done = true
				s.Close()
			}
			return ev, nil
		}
	}
}

// Close detaches the subscription from its segment. Idempotent. Pending
// events stay in the log for future subscribers.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.seg.mu.Lock()
		delete(s.seg.subs, s.ch)
		s.seg.mu.Unlock()
	})
}

func (s *Subscription) eventAt(seq int64) (model.TimelineEvent, bool) {
	s.seg.mu.Lock()
	defer s.seg.mu.Unlock()
	if seq < 1 || seq > int64(len(s.seg.events)) {
		return model.TimelineEvent{}, false
	}
	return s.seg.events[seq-1], true
}

package event

import (
	"strings"
	"sync"
	"time"

	"github.com/tdscap/tdscap/optionals"
)

// SeenSet deduplicates SQL text across the lifetime of a capture session:
// trimmed sql_text maps to the index of the first event that carried it.
type SeenSet struct {
	mu   sync.Mutex
	seen map[string]int
	next int
}

// NewSeenSet returns an empty SeenSet.
func NewSeenSet() *SeenSet {
	return &SeenSet{seen: make(map[string]int)}
}

// Observe records trimmed and returns its first-seen event index and
// whether this is the first time it has been observed. A caller that gets
// firstSeen=false should drop the event as a duplicate.
func (s *SeenSet) Observe(trimmed string) (index int, firstSeen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.seen[trimmed]; ok {
		return idx, false
	}

	idx := s.next
	s.seen[trimmed] = idx
	s.next++
	return idx, true
}

// Candidate is a decoded (text, raw) pair awaiting emission, plus the
// context needed to construct a full SqlEvent.
type Candidate struct {
	Text        string
	Operation   string
	RawBytes    []byte
	FlowID      string
	FirstSeenAt time.Time
	IncludeRaw  bool
}

// ErrSubscriberGone indicates the outbound channel's consumer is no
// longer reading; the capture loop should stop rather than retry.
type ErrSubscriberGone struct{}

func (ErrSubscriberGone) Error() string { return "event: subscriber channel is gone" }

// Emitter applies the trim/dedup/construct/publish pipeline: it owns the
// SeenSet and the one-way channel to the subscriber.
type Emitter struct {
	out  chan<- SqlEvent
	seen *SeenSet
}

// NewEmitter wraps an outbound channel with the emitter's deduplication
// rules. The caller owns out and is responsible for eventually closing it.
func NewEmitter(out chan<- SqlEvent) *Emitter {
	return &Emitter{out: out, seen: NewSeenSet()}
}

// Emit trims c.Text, drops it if too short or already seen, otherwise
// constructs a SqlEvent and attempts to publish it on the outbound
// channel. done, if non-nil, is checked alongside the send so a capture
// loop's stop signal can interrupt a blocked publish.
//
// published is true only if a new, non-duplicate event was sent.
// subscriberGone is true if done fired instead of the send succeeding;
// callers should treat that as ErrSubscriberGone and stop the loop.
func (e *Emitter) Emit(c Candidate, done <-chan struct{}) (published bool, subscriberGone bool) {
	trimmed := strings.TrimSpace(c.Text)
	if len(trimmed) < 3 {
		return false, false
	}

	if _, firstSeen := e.seen.Observe(trimmed); !firstSeen {
		return false, false
	}

	evt := SqlEvent{
		Timestamp: c.FirstSeenAt.UTC(),
		FlowID:    c.FlowID,
		SQLText:   trimmed,
		Tables:    nil,
		Operation: c.Operation,
	}
	if c.IncludeRaw {
		evt.RawData = optionals.Some(c.RawBytes)
	}

	select {
	case e.out <- evt:
		return true, false
	case <-done:
		return false, true
	}
}

package alerting

import (
	"sync"
)

// slidingWindow counts events inside a trailing window. Timestamps are
// unix milliseconds.
type slidingWindow struct {
	windowMillis int64
	events       []int64
}

// add records an event and returns the in-window count.
func (w *slidingWindow) add(nowMillis int64) int64 {
	w.prune(nowMillis)
	w.events = append(w.events, nowMillis)
	return int64(len(w.events))
}

// prune drops events older than the window.
func (w *slidingWindow) prune(nowMillis int64) {
	cutoff := nowMillis - w.windowMillis
	i := 0
	for i < len(w.events) && w.events[i] < cutoff {
		i++
	}
	if i > 0 {
		w.events = w.events[i:]
	}
}

// windowSet holds one sliding window per (rule, fingerprint) pair.
type windowSet struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
}

func newWindowSet() *windowSet {
	return &windowSet{windows: make(map[string]*slidingWindow)}
}

// record adds an event to the keyed window and returns the count.
// Changing a rule's window resizes the existing window in place.
func (s *windowSet) record(key string, windowMillis, nowMillis int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = &slidingWindow{windowMillis: windowMillis}
		s.windows[key] = w
	}
	w.windowMillis = windowMillis
	return w.add(nowMillis)
}

// reset clears the keyed window so a fired alert does not re-fire on
// the same events.
func (s *windowSet) reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[key]; ok {
		w.events = w.events[:0]
	}
}

// sweep removes windows with no in-window events, bounding memory
// across fingerprint churn.
func (s *windowSet) sweep(nowMillis int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, w := range s.windows {
		w.prune(nowMillis)
		if len(w.events) == 0 {
			delete(s.windows, key)
		}
	}
}

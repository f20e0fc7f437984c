package sessions

import (
	"sync"
	"time"
)

// Poll windows by session status. Processing polls trigger an agent
// fetch, so they get the widest window; pending polls only read the
// store. Statuses without a window are never throttled.
var defaultPollWindows = map[SessionStatus]time.Duration{
	StatusProcessing: 1 * time.Second,
	StatusPending:    500 * time.Millisecond,
}

// pollThrottle rate-limits status polls per user and session, with a
// window that depends on what the poll would cost. Stale entries are
// swept during Allow to keep the map bounded.
type pollThrottle struct {
	mu        sync.Mutex
	lastHit   map[string]time.Time
	now       func() time.Time
	windows   map[SessionStatus]time.Duration
	maxWindow time.Duration
	nextSweep time.Time
}

func newPollThrottle(windows map[SessionStatus]time.Duration, now func() time.Time) *pollThrottle {
	if now == nil {
		now = time.Now
	}
	if len(windows) == 0 {
		windows = defaultPollWindows
	}
	var widest time.Duration
	for _, w := range windows {
		if w > widest {
			widest = w
		}
	}
	return &pollThrottle{
		lastHit:   make(map[string]time.Time),
		now:       now,
		windows:   windows,
		maxWindow: widest,
	}
}

// Allow reports whether a poll for the session may proceed given its
// current status. Statuses with no configured window always pass.
func (t *pollThrottle) Allow(userID, sessionID string, status SessionStatus) bool {
	if t == nil {
		return true
	}
	window, ok := t.windows[status]
	if !ok {
		return true
	}
	key := userID + "|" + sessionID
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(now)
	if last, ok := t.lastHit[key]; ok && now.Sub(last) < window {
		return false
	}
	t.lastHit[key] = now
	return true
}

// RetryAfterSeconds returns the wait to advertise on a rejected poll,
// rounded up to a whole second.
func (t *pollThrottle) RetryAfterSeconds(status SessionStatus) int {
	window := time.Second
	if t != nil {
		if w, ok := t.windows[status]; ok {
			window = w
		}
	}
	secs := int((window + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// sweepLocked drops entries old enough that no window can reject them.
// Runs at most once per maxWindow.
func (t *pollThrottle) sweepLocked(now time.Time) {
	if now.Before(t.nextSweep) {
		return
	}
	for key, last := range t.lastHit {
		if now.Sub(last) >= t.maxWindow {
			delete(t.lastHit, key)
		}
	}
	t.nextSweep = now.Add(t.maxWindow)
}

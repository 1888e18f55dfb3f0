package metrics

import "time"

// Timer is the scoped-acquisition guard called for in spec §9: "a scoped
// acquisition of a guard object that, on destruction, stops the clock and
// hands the measurement to Metrics. All exit paths — normal, early
// return, error — must release deterministically." Go has no destructors,
// so the guard is released by an explicit deferred Stop() call instead;
// Stop is idempotent so a deferred Stop racing a manual one is harmless.
type Timer struct {
	start   time.Time
	onStop  func(elapsedMs float64)
	stopped bool
}

// StartTimer begins timing; the caller MUST defer t.Stop() immediately to
// guarantee the measurement is recorded on every exit path.
func StartTimer(onStop func(elapsedMs float64)) *Timer {
	return &Timer{start: time.Now(), onStop: onStop}
}

// Stop records the elapsed time since StartTimer and is safe to call more
// than once; only the first call has any effect.
func (t *Timer) Stop() {
	if t.stopped {
		return
	}
	t.stopped = true
	elapsedMs := float64(time.Since(t.start)) / float64(time.Millisecond)
	if t.onStop != nil {
		t.onStop(elapsedMs)
	}
}

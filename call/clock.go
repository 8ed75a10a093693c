package call

import "time"

// Clock abstracts time for the dispatcher's polling loop.
// Implementations must be safe for concurrent use.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Sleep(d time.Duration)
}

// SystemClock uses the standard library time functions.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (SystemClock) Since(t time.Time) time.Duration { return time.Since(t) }

// Sleep pauses the current goroutine for d.
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

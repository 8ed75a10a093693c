package call

import "time"

// Settings carries the timing and retry parameters of a session.
type Settings struct {
	// SocketTimeout bounds each channel read.
	SocketTimeout time.Duration
	// PollInterval is the sleep between reads that returned no message.
	PollInterval time.Duration
	// RingTimeout caps how long a session waits without any message before
	// the call is established. Zero disables the cap.
	RingTimeout time.Duration
	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration
	// ConnectRetries is the number of extra passes over the addresses.
	ConnectRetries int
	// MaxSendAttempts bounds out-of-band send retries.
	MaxSendAttempts int
	// TeardownWait bounds how long teardown waits for session tasks.
	TeardownWait time.Duration
	// StrictSDP rejects offers and answers that do not parse as SDP.
	StrictSDP bool
}

// DefaultSettings returns the default session settings.
func DefaultSettings() Settings {
	return Settings{
		SocketTimeout:   5 * time.Second,
		PollInterval:    50 * time.Millisecond,
		RingTimeout:     60 * time.Second,
		ConnectTimeout:  500 * time.Millisecond,
		ConnectRetries:  3,
		MaxSendAttempts: 3,
		TeardownWait:    3 * time.Second,
	}
}

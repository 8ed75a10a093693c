package call

import "sync"

// Registry tracks the current incoming and outgoing session. A slot is free
// when empty or when its session has reached a terminal state.
type Registry struct {
	mu       sync.Mutex
	incoming *Session
	outgoing *Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func active(s *Session) bool {
	return s != nil && !s.State().IsTerminal()
}

// InProgress reports whether any call is in progress.
func (r *Registry) InProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return active(r.incoming) || active(r.outgoing)
}

// ClaimIncoming builds and records an incoming session unless a call is
// already in progress. build only runs when the slot was claimed.
func (r *Registry) ClaimIncoming(build func() *Session) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if active(r.incoming) || active(r.outgoing) {
		return nil, false
	}
	s := build()
	r.incoming = s
	return s, true
}

// ClaimOutgoing records s as the outgoing session. It fails with
// ErrCallInProgress when another outgoing call is active.
func (r *Registry) ClaimOutgoing(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if active(r.outgoing) {
		return ErrCallInProgress
	}
	r.outgoing = s
	return nil
}

// Release clears the slot held by s.
func (r *Registry) Release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.incoming == s {
		r.incoming = nil
	}
	if r.outgoing == s {
		r.outgoing = nil
	}
}

// Incoming returns the current incoming session, if any.
func (r *Registry) Incoming() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.incoming
}

// Outgoing returns the current outgoing session, if any.
func (r *Registry) Outgoing() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outgoing
}

// Active returns the sessions that have not reached a terminal state.
func (r *Registry) Active() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range []*Session{r.incoming, r.outgoing} {
		if active(s) {
			out = append(out, s)
		}
	}
	return out
}

// Current returns the active session with the contact owning publicKey.
func (r *Registry) Current(publicKey [32]byte) (*Session, bool) {
	for _, s := range r.Active() {
		if s.Contact().PublicKey() == publicKey {
			return s, true
		}
	}
	return nil, false
}

// Find returns the tracked session with id.
func (r *Registry) Find(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range []*Session{r.incoming, r.outgoing} {
		if s != nil && s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

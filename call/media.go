package call

// Media is the hook into the external media engine of a session.
type Media interface {
	// SetRemoteAnswer forwards the callee's SDP answer to the engine.
	SetRemoteAnswer(answer string) error
	// CreateAnswer produces a local SDP answer for an incoming offer.
	CreateAnswer(offer string) (string, error)
	// Pause stops sending and rendering media while on hold.
	Pause()
	// Resume restarts media after a hold.
	Resume()
	// Cleanup releases engine resources once the session has ended.
	Cleanup()
}

// NopMedia is a Media that does nothing. CreateAnswer echoes the offer.
type NopMedia struct{}

func (NopMedia) SetRemoteAnswer(string) error              { return nil }
func (NopMedia) CreateAnswer(offer string) (string, error) { return offer, nil }
func (NopMedia) Pause()                                    {}
func (NopMedia) Resume()                                   {}
func (NopMedia) Cleanup()                                  {}

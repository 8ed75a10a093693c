// Package call implements the call session: its lifecycle state machine, the
// message dispatcher that drives the signaling exchange over one channel, the
// registry of current calls and the worker pool for short background tasks.
//
// # Lifecycle
//
//	WAITING -> CONNECTING -> RINGING -> CONNECTED <-> ON_HOLD <-> RESUME
//	                                       |
//	        DISMISSED | ENDED | BUSY | ERROR_*   (terminal, from any state)
//
// RE_CONNECTING is informational and only reported while connect retries are
// running. A session whose socket closes before reaching a terminal state is
// forced into ERROR_COMMUNICATION.
//
// # Outgoing calls
//
//	s := call.NewOutgoing(keys, c, media, pool, cfg)
//	s.Machine().SetListener(func(st call.State) { log.Println(st) })
//	go s.RunOutgoing(ctx, connector, offer)
//
// # Incoming calls
//
// The inbound router creates the session with NewIncoming after it has read
// the call request and answers "ringing". The application then calls Accept
// with an SDP answer, or Decline.
//
// All state changes go through Machine.ReportStateChange; the dispatcher
// never sets state directly.
package call

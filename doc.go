// Package peercall implements peer-to-peer call signaling between contacts
// identified by Curve25519 public keys.
//
// Two devices exchange a small set of signaling messages (call, ringing,
// connected, dismissed, busy, ping, pong, status_change, on_hold, resume)
// over a direct TCP connection. Every message is sealed for the recipient
// and carries the sender's public key, so each side knows who it is talking
// to without a server. The media itself is handled by an external engine
// reached through [call.Media].
//
// # Getting Started
//
// Create a Service with a key pair and a contact book, then listen for
// incoming calls:
//
//	keys, _ := crypto.GenerateKeyPair()
//	book, _ := contact.LoadYAML("contacts.yaml")
//
//	options := peercall.NewOptions()
//	svc, err := peercall.New(keys, book, options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
//	svc.OnIncomingCall(func(s *call.Session) {
//	    _ = s.Accept(answerFor(s.Offer()))
//	})
//	svc.OnStateChange(func(s *call.Session, st call.State) {
//	    fmt.Println(s.Contact(), st)
//	})
//
//	if err := svc.Listen(""); err != nil {
//	    log.Fatal(err)
//	}
//
// Place a call with an SDP offer produced by the media engine:
//
//	bob, _ := book.FindByName("Bob")
//	session, err := svc.Call(bob, offer)
//
// # Core Types
//
//   - [Service]: listener, router and outgoing call entry point
//   - [Options]: timing, retry and policy configuration
//   - [call.Session]: one call and its lifecycle state
//
// # Call Lifecycle
//
// A session moves WAITING -> CONNECTING -> RINGING -> CONNECTED and may
// toggle between ON_HOLD and RESUME while connected. Every session ends in
// exactly one terminal state: DISMISSED, ENDED, BUSY or one of the ERROR_*
// states describing why the call could not be set up or was lost. See
// [call.State].
//
// # Reachability
//
// A contact may list host names, IP addresses and MAC addresses. MAC
// addresses are expanded into IPv6 link-local addresses on every local
// interface and, optionally, into IPv4 addresses from the neighbor table.
// The address that last worked is tried first.
//
// # Cellular Interrupts
//
// When [Options.Interrupts] is set, active calls are put on hold while the
// device's telephony is ringing or off hook and resumed when it returns to
// idle.
package peercall

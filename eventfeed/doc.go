// Package eventfeed exposes call events and call controls over a websocket.
//
// A front end connects to the Hub and receives one JSON event per state
// change, incoming call and remote address change. It may send commands to
// accept, decline or hang up a session and to report telephony state.
//
//	{"op":"state","session":"…","contact":"Alice","state":"RINGING","category":"progress"}
//	{"op":"accept","session":"…","answer":"v=0…"}
package eventfeed

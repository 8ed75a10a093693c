// Package message defines the signaling envelope exchanged between peers.
//
// An envelope is a small JSON object with a required "action" key and a few
// action-specific fields:
//
//	{"action":"call","offer":"v=0 ..."}
//	{"action":"ringing"}
//	{"action":"connected","answer":"v=0 ..."}
//	{"action":"dismissed"}
//	{"action":"busy"}
//	{"action":"ping"} / {"action":"pong"}
//	{"action":"status_change","status":"offline"}
//	{"action":"on_hold"} / {"action":"resume"}
//
// Envelopes are built fresh for every send and are never retained after the
// send or receive call returns. Unknown actions decode without error so that
// receive loops can ignore them.
package message

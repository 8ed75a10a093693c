// Package inbound routes connections accepted by the listener.
//
// Each connection carries one request. The router reads it, authenticates the
// sender against the contact book and then either starts an incoming call
// session, answers a ping, applies a status change or forwards a hold request
// to the current call. Anything it cannot accept is answered with
// "dismissed" before the connection is closed; a message that cannot be
// decrypted is dropped without a reply.
package inbound

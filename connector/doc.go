// Package connector opens the TCP connection for a call by trying a
// contact's candidate addresses in order.
//
// Candidates are tried pass by pass, each pass walking the whole list with a
// fresh dial and the per-attempt timeout. Retries are immediate; the number of
// passes is capped at MaxRetryPasses+1. When every attempt fails the error is
// a *ConnectError whose Reason is chosen deterministically from everything
// observed:
//
//	refused > unresolved host > other error > timeout > no addresses > no network
package connector

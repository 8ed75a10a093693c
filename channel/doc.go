// Package channel implements the framed, sealed message stream carried over
// one TCP connection.
//
// Each message is sealed with crypto.Seal and written as a single frame:
//
//	[LENGTH(4, big endian)][SEALED(LENGTH)]
//
// ReadMessage returns (nil, nil) when no message is available. That happens
// when the peer closed the stream (IsClosed reports true, stop reading) and
// when the socket read timeout elapsed with the connection still open
// (IsClosed reports false, poll again). A partial frame that straddles a
// timeout is kept and completed by the next call.
package channel

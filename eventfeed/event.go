package eventfeed

// Outbound operations.
const (
	OpState         = "state"
	OpIncomingCall  = "incoming_call"
	OpRemoteAddress = "remote_address"
	OpAck           = "ack"
	OpError         = "error"
)

// Inbound operations.
const (
	OpHeartbeat = "heartbeat"
	OpAccept    = "accept"
	OpDecline   = "decline"
	OpHangup    = "hangup"
	OpTelephony = "telephony"
)

// Event is one message on the feed, in either direction.
type Event struct {
	Op        string `json:"op"`
	Seq       int64  `json:"seq,omitempty"`
	Session   string `json:"session,omitempty"`
	Contact   string `json:"contact,omitempty"`
	Direction string `json:"direction,omitempty"`
	State     string `json:"state,omitempty"`
	Category  string `json:"category,omitempty"`
	Offer     string `json:"offer,omitempty"`
	Answer    string `json:"answer,omitempty"`
	Address   string `json:"address,omitempty"`
	Connected bool   `json:"connected,omitempty"`
	Telephony string `json:"telephony,omitempty"`
	Error     string `json:"error,omitempty"`
}

package call

import (
	"errors"

	"github.com/opd-ai/peercall/connector"
)

// State is the lifecycle state of a call session.
type State uint8

const (
	// StateWaiting is the initial state of every session
	StateWaiting State = iota
	// StateConnecting indicates connection attempts are running
	StateConnecting
	// StateReConnecting indicates a further pass over the candidate addresses
	StateReConnecting
	// StateRinging indicates the callee is alerting
	StateRinging
	// StateConnected indicates both sides exchanged offer and answer
	StateConnected
	// StateOnHold indicates either side put the call on hold
	StateOnHold
	// StateResume indicates the call came back from hold
	StateResume
	// StateDismissed indicates the call was declined or hung up by the peer
	StateDismissed
	// StateEnded indicates the call was ended locally
	StateEnded
	// StateBusy indicates the peer is already in a call
	StateBusy

	StateErrorAuthentication
	StateErrorDecryption
	StateErrorConnectPort
	StateErrorUnknownHost
	StateErrorCommunication
	StateErrorNoConnection
	StateErrorNoAddresses
	StateErrorNoNetwork
)

// AllStates lists every state in declaration order.
var AllStates = []State{
	StateWaiting, StateConnecting, StateReConnecting, StateRinging,
	StateConnected, StateOnHold, StateResume,
	StateDismissed, StateEnded, StateBusy,
	StateErrorAuthentication, StateErrorDecryption, StateErrorConnectPort,
	StateErrorUnknownHost, StateErrorCommunication, StateErrorNoConnection,
	StateErrorNoAddresses, StateErrorNoNetwork,
}

var stateNames = map[State]string{
	StateWaiting:             "WAITING",
	StateConnecting:          "CONNECTING",
	StateReConnecting:        "RE_CONNECTING",
	StateRinging:             "RINGING",
	StateConnected:           "CONNECTED",
	StateOnHold:              "ON_HOLD",
	StateResume:              "RESUME",
	StateDismissed:           "DISMISSED",
	StateEnded:               "ENDED",
	StateBusy:                "BUSY",
	StateErrorAuthentication: "ERROR_AUTHENTICATION",
	StateErrorDecryption:     "ERROR_DECRYPTION",
	StateErrorConnectPort:    "ERROR_CONNECT_PORT",
	StateErrorUnknownHost:    "ERROR_UNKNOWN_HOST",
	StateErrorCommunication:  "ERROR_COMMUNICATION",
	StateErrorNoConnection:   "ERROR_NO_CONNECTION",
	StateErrorNoAddresses:    "ERROR_NO_ADDRESSES",
	StateErrorNoNetwork:      "ERROR_NO_NETWORK",
}

// String returns the state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsError reports whether s is one of the ERROR_* states.
func (s State) IsError() bool {
	return s >= StateErrorAuthentication && s <= StateErrorNoNetwork
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateDismissed || s == StateEnded || s == StateBusy || s.IsError()
}

// IsEstablished reports whether media is flowing or paused.
func (s State) IsEstablished() bool {
	return s == StateConnected || s == StateOnHold || s == StateResume
}

// NotYetEstablished reports whether the call is still being set up.
func (s State) NotYetEstablished() bool {
	return s == StateWaiting || s == StateConnecting || s == StateReConnecting || s == StateRinging
}

// rank orders states for the monotonic transition rule.
func (s State) rank() int {
	switch {
	case s == StateWaiting:
		return 0
	case s == StateConnecting || s == StateReConnecting:
		return 1
	case s == StateRinging:
		return 2
	case s.IsEstablished():
		return 3
	default:
		return 4
	}
}

// Category is the user-facing message category of a state.
type Category uint8

const (
	CategoryProgress Category = iota
	CategoryInCall
	CategoryEnded
	CategoryDeclined
	CategoryBusy
	CategorySecurity
	CategoryUnreachable
	CategoryUnknownHost
	CategoryNoAddresses
	CategoryNoNetwork
	CategoryCommunication
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryProgress:
		return "progress"
	case CategoryInCall:
		return "in_call"
	case CategoryEnded:
		return "ended"
	case CategoryDeclined:
		return "declined"
	case CategoryBusy:
		return "busy"
	case CategorySecurity:
		return "security"
	case CategoryUnreachable:
		return "unreachable"
	case CategoryUnknownHost:
		return "unknown_host"
	case CategoryNoAddresses:
		return "no_addresses"
	case CategoryNoNetwork:
		return "no_network"
	default:
		return "communication"
	}
}

// Category maps every state to exactly one message category.
func (s State) Category() Category {
	switch s {
	case StateWaiting, StateConnecting, StateReConnecting, StateRinging:
		return CategoryProgress
	case StateConnected, StateOnHold, StateResume:
		return CategoryInCall
	case StateEnded:
		return CategoryEnded
	case StateDismissed:
		return CategoryDeclined
	case StateBusy:
		return CategoryBusy
	case StateErrorAuthentication, StateErrorDecryption:
		return CategorySecurity
	case StateErrorConnectPort, StateErrorNoConnection:
		return CategoryUnreachable
	case StateErrorUnknownHost:
		return CategoryUnknownHost
	case StateErrorNoAddresses:
		return CategoryNoAddresses
	case StateErrorNoNetwork:
		return CategoryNoNetwork
	default:
		return CategoryCommunication
	}
}

// StateFromConnectError maps a connector failure to its terminal state.
func StateFromConnectError(err error) State {
	var connErr *connector.ConnectError
	if !errors.As(err, &connErr) {
		return StateErrorCommunication
	}
	switch connErr.Reason {
	case connector.ReasonRefused:
		return StateErrorConnectPort
	case connector.ReasonUnknownHost:
		return StateErrorUnknownHost
	case connector.ReasonOther:
		return StateErrorCommunication
	case connector.ReasonTimeout:
		return StateErrorNoConnection
	case connector.ReasonNoAddresses:
		return StateErrorNoAddresses
	default:
		return StateErrorNoNetwork
	}
}

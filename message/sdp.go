package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// ErrInvalidSDP indicates an offer or answer that is not a session description.
var ErrInvalidSDP = errors.New("invalid session description")

// ValidateSDP checks that payload parses as an SDP session description with
// at least one media section. Used for offers and answers when strict
// validation is enabled.
func ValidateSDP(payload string) error {
	if strings.TrimSpace(payload) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSDP)
	}

	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(payload)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSDP, err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: no media sections", ErrInvalidSDP)
	}
	return nil
}

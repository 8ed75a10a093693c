package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

func TestEncodeOmitsEmptyFields(t *testing.T) {
	data, err := Encode(New(ActionRinging))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"ringing"}`, string(data))

	data, err = Encode(NewCall("offer-sdp"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"call","offer":"offer-sdp"}`, string(data))

	data, err = Encode(NewStatusChange(StatusOffline))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"status_change","status":"offline"}`, string(data))
}

func TestEncodeRequiresAction(t *testing.T) {
	_, err := Encode(nil)
	assert.ErrorIs(t, err, ErrMissingAction)

	_, err = Encode(&Envelope{Offer: "x"})
	assert.ErrorIs(t, err, ErrMissingAction)
}

func TestDecode(t *testing.T) {
	env, err := Decode([]byte(`{"action":"connected","answer":"a","extra":1}`))
	require.NoError(t, err)
	assert.Equal(t, ActionConnected, env.Action)
	assert.Equal(t, "a", env.Answer)
	assert.True(t, env.Known())

	env, err = Decode([]byte(`{"action":"future_feature"}`))
	require.NoError(t, err)
	assert.False(t, env.Known())

	_, err = Decode([]byte(`{"offer":"x"}`))
	assert.ErrorIs(t, err, ErrMissingAction)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestValidateSDP(t *testing.T) {
	assert.NoError(t, ValidateSDP(testSDP))
	assert.ErrorIs(t, ValidateSDP(""), ErrInvalidSDP)
	assert.ErrorIs(t, ValidateSDP("hello"), ErrInvalidSDP)

	sessionOnly := "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"
	assert.ErrorIs(t, ValidateSDP(sessionOnly), ErrInvalidSDP)
}

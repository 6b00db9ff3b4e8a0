package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame(t *testing.T) {
	data, err := Encode(MsgMove, MoveMsg{X: 3, Y: -4, Speed: 2})
	require.NoError(t, err)

	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, MsgMove, f.T)

	var mv MoveMsg
	require.NoError(t, f.Payload(&mv))
	assert.Equal(t, MoveMsg{X: 3, Y: -4, Speed: 2}, mv)

	t.Run("EmptyPayload", func(t *testing.T) {
		data, err := Encode(MsgAuthOK, nil)
		require.NoError(t, err)
		f, err := Decode(data)
		require.NoError(t, err)
		assert.Error(t, f.Payload(&mv), "кадр без полезной нагрузки")
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := Decode([]byte{0xc1})
		assert.Error(t, err)
	})
}

func TestActionsAndResponses(t *testing.T) {
	for _, a := range []Action{Interaction{X: 1, Y: 2}, FriendInvite{TargetPID: 5}, FriendAccept{InviterPID: 9}} {
		tagged, err := EncodeAction(a)
		require.NoError(t, err)
		assert.Equal(t, ActionKind(a), tagged.Kind)

		back, err := DecodeAction(tagged)
		require.NoError(t, err)
		assert.Equal(t, a, back)
	}

	resp := FriendInviteResult{PID: 4, Outcome: InviteExpired}
	tagged, err := EncodeResponse(resp)
	require.NoError(t, err)
	back, err := DecodeResponse(tagged)
	require.NoError(t, err)
	assert.Equal(t, resp, back)

	_, err = DecodeAction(Tagged{Kind: "dance"})
	assert.Error(t, err)
	_, err = DecodeResponse(Tagged{Kind: "dance"})
	assert.Error(t, err)
}

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMessage(t *testing.T) {
	// Test creating a simple message
	payload := JoinRoomPayload{RoomCode: "A3X9QZ"}
	msg, err := NewMessage(MsgJoinRoom, payload)

	assert.NoError(t, err)
	assert.NotNil(t, msg)
	assert.Equal(t, MsgJoinRoom, msg.Type)
	assert.NotEmpty(t, msg.Payload)
}

func TestNewMessage_NilPayload(t *testing.T) {
	msg, err := NewMessage(MsgLeaveRoom, nil)

	assert.NoError(t, err)
	assert.Empty(t, msg.Payload)
}

func TestEncodeDecode(t *testing.T) {
	// Setup original message
	payload := AttackPayload{Row: 3, Col: 7}
	originalMsg, err := NewMessage(MsgAttack, payload)
	assert.NoError(t, err)

	// Encode
	bytes, err := originalMsg.Encode()
	assert.NoError(t, err)
	assert.NotEmpty(t, bytes)

	// Decode
	decodedMsg, err := Decode(bytes)
	assert.NoError(t, err)
	assert.NotNil(t, decodedMsg)

	// Verify
	assert.Equal(t, originalMsg.Type, decodedMsg.Type)
	assert.Equal(t, originalMsg.Payload, decodedMsg.Payload)
}

func TestParsePayload(t *testing.T) {
	msg := MustNewMessage(MsgPlaceShips, PlaceShipsPayload{
		Ships: []ShipPlacement{
			{Name: "Destroyer", Row: 0, Col: 0, Horizontal: true},
		},
	})

	parsed, err := ParsePayload[PlaceShipsPayload](msg)
	assert.NoError(t, err)
	assert.Len(t, parsed.Ships, 1)
	assert.Equal(t, "Destroyer", parsed.Ships[0].Name)
	assert.True(t, parsed.Ships[0].Horizontal)
}

func TestParsePayload_Invalid(t *testing.T) {
	msg := &Message{Type: MsgAttack, Payload: []byte("not-json")}

	_, err := ParsePayload[AttackPayload](msg)
	assert.Error(t, err)
}

func TestNewErrorMessage(t *testing.T) {
	msg := NewErrorMessage(ErrCodeRoomNotFound)
	assert.Equal(t, MsgError, msg.Type)

	payload, err := ParsePayload[ErrorPayload](msg)
	assert.NoError(t, err)
	assert.Equal(t, ErrCodeRoomNotFound, payload.Code)
	assert.Equal(t, ErrCodeRoomNotFound.Text(), payload.Message)
}

func TestErrCodeText_UnknownCodeFallsBack(t *testing.T) {
	assert.Equal(t, ErrCodeUnknown.Text(), ErrCode(9999).Text())
}

func TestNewErrorMessageWithText(t *testing.T) {
	msg := NewErrorMessageWithText(ErrCodeWrongPhase, "布阵阶段才能提交布阵")

	payload, err := ParsePayload[ErrorPayload](msg)
	assert.NoError(t, err)
	assert.Equal(t, ErrCodeWrongPhase, payload.Code)
	assert.Equal(t, "布阵阶段才能提交布阵", payload.Message)
}

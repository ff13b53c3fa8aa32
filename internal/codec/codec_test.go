package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsk225456/agv-gateway/internal/reactor"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("telemetry payload bytes")
	buf := reactor.NewBuffer()
	require.NoError(t, Encode(buf, 0x1001, 0, payload))

	require.True(t, HasCompleteMessage(buf))
	frame, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1001), frame.MsgType)
	assert.Equal(t, uint16(0), frame.Flags)
	assert.True(t, bytes.Equal(payload, frame.Payload))
	assert.Equal(t, 0, buf.ReadableBytes())
}

func TestHasCompleteMessageFalseOnPartialFrame(t *testing.T) {
	buf := reactor.NewBuffer()
	require.NoError(t, Encode(buf, 0x1001, 0, []byte("hello")))
	full := append([]byte(nil), buf.Peek()...)

	partial := reactor.NewBuffer()
	partial.Append(full[:len(full)-2])
	assert.False(t, HasCompleteMessage(partial))
}

func TestHasCompleteMessageFalseOnOversizedLength(t *testing.T) {
	buf := reactor.NewBuffer()
	buf.AppendInt32(MaxFrameLen + 1)
	buf.AppendInt16(1)
	buf.AppendInt16(0)
	assert.False(t, HasCompleteMessage(buf))
}

func TestEncodeRejectsEmptyPayload(t *testing.T) {
	buf := reactor.NewBuffer()
	err := Encode(buf, 1, 0, nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	buf := reactor.NewBuffer()
	err := Encode(buf, 1, 0, make([]byte, MaxFrameLen))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestEncodeFrameMatchesEncode(t *testing.T) {
	payload := []byte("hi")
	direct, err := EncodeFrame(7, 0, payload)
	require.NoError(t, err)

	buf := reactor.NewBuffer()
	require.NoError(t, Encode(buf, 7, 0, payload))
	assert.Equal(t, buf.Peek(), direct)
}

func TestMultipleFramesInOneBuffer(t *testing.T) {
	buf := reactor.NewBuffer()
	require.NoError(t, Encode(buf, 1, 0, []byte("first")))
	require.NoError(t, Encode(buf, 2, 0, []byte("second")))

	f1, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), f1.MsgType)
	assert.Equal(t, []byte("first"), f1.Payload)

	require.True(t, HasCompleteMessage(buf))
	f2, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), f2.MsgType)
	assert.Equal(t, []byte("second"), f2.Payload)
}

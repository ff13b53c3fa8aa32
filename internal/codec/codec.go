// Package codec implements the length-prefixed framing protocol AGVs
// speak over the wire: LengthHeaderCodec.
package codec

import (
	"errors"
	"fmt"

	"github.com/lsk225456/agv-gateway/internal/reactor"
)

const (
	HeaderSize  = 8
	MaxFrameLen = 10 * 1024 * 1024
	MinFrameLen = HeaderSize + 1
)

var (
	ErrEmptyPayload  = errors.New("codec: empty payload")
	ErrFrameTooLarge = errors.New("codec: frame exceeds 10 MiB")
	ErrIncomplete    = errors.New("codec: incomplete frame")
)

// Frame is a decoded LengthHeaderFrame.
type Frame struct {
	MsgType uint16
	Flags   uint16
	Payload []byte
}

// Encode appends a complete frame to buf. Rejects empty payloads and
// payloads that would push the total length past 10 MiB.
func Encode(buf *reactor.Buffer, msgType, flags uint16, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	total := HeaderSize + len(payload)
	if total > MaxFrameLen {
		return ErrFrameTooLarge
	}
	buf.AppendInt32(uint32(total))
	buf.AppendInt16(msgType)
	buf.AppendInt16(flags)
	buf.Append(payload)
	return nil
}

// EncodeFrame is a convenience wrapper around Encode for callers that
// just want the wire bytes for one message, not a shared Buffer.
func EncodeFrame(msgType, flags uint16, payload []byte) ([]byte, error) {
	buf := reactor.NewBuffer()
	if err := Encode(buf, msgType, flags, payload); err != nil {
		return nil, err
	}
	out := make([]byte, buf.ReadableBytes())
	copy(out, buf.Peek())
	return out, nil
}

// HasCompleteMessage reports whether buf holds at least one complete,
// validly-sized frame.
func HasCompleteMessage(buf *reactor.Buffer) bool {
	if buf.ReadableBytes() < HeaderSize {
		return false
	}
	total, err := buf.PeekInt32()
	if err != nil {
		return false
	}
	if total < MinFrameLen || total > MaxFrameLen {
		return false
	}
	return buf.ReadableBytes() >= int(total)
}

// Decode consumes one complete frame from buf. Callers must have checked
// HasCompleteMessage first; an invalid header found here means the
// connection must be closed.
func Decode(buf *reactor.Buffer) (Frame, error) {
	total, err := buf.ReadInt32()
	if err != nil {
		return Frame{}, fmt.Errorf("codec: %w", err)
	}
	if total < MinFrameLen || total > MaxFrameLen {
		return Frame{}, fmt.Errorf("codec: invalid total_length %d", total)
	}
	msgType, err := buf.ReadInt16()
	if err != nil {
		return Frame{}, fmt.Errorf("codec: %w", err)
	}
	flags, err := buf.ReadInt16()
	if err != nil {
		return Frame{}, fmt.Errorf("codec: %w", err)
	}
	payloadLen := int(total) - HeaderSize
	payload := buf.RetrieveAsBytes(payloadLen)
	return Frame{MsgType: msgType, Flags: flags, Payload: payload}, nil
}

package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferInt32RoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 0x12345678, 0xFFFFFFFF}
	for _, x := range cases {
		b := NewBuffer()
		b.AppendInt32(x)
		got, err := b.ReadInt32()
		require.NoError(t, err)
		assert.Equal(t, x, got)
	}
}

func TestBufferInt16RoundTrip(t *testing.T) {
	cases := []uint16{0, 1, 0x1234, 0xFFFF}
	for _, x := range cases {
		b := NewBuffer()
		b.AppendInt16(x)
		got, err := b.ReadInt16()
		require.NoError(t, err)
		assert.Equal(t, x, got)
	}
}

func TestBufferPeekDoesNotAdvance(t *testing.T) {
	b := NewBuffer()
	b.AppendInt32(42)
	before := b.ReadableBytes()
	v, err := b.PeekInt32()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v)
	assert.Equal(t, before, b.ReadableBytes())
}

func TestBufferByteOrder(t *testing.T) {
	b := NewBuffer()
	b.AppendInt32(0x12345678)
	raw := b.Peek()
	assert.Equal(t, []byte{0x12, 0x34, 0x56, 0x78}, raw)
}

func TestBufferGrowsPastInitialCapacity(t *testing.T) {
	b := NewBuffer()
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	b.Append(payload)
	assert.Equal(t, len(payload), b.ReadableBytes())
	assert.Equal(t, payload, b.Peek())
}

func TestBufferRetrieveAdvancesReader(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("hello world"))
	got := b.RetrieveAsBytes(5)
	assert.Equal(t, []byte("hello"), got)
	assert.Equal(t, []byte(" world"), b.Peek())
}

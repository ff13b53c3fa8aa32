package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsk225456/agv-gateway/internal/proto"
)

type fakeConn struct {
	id   uint64
	sent [][]byte
}

func (c *fakeConn) Send(b []byte)    { c.sent = append(c.sent, b) }
func (c *fakeConn) ConnID() uint64   { return c.id }

func TestDispatchInvokesTypedHandler(t *testing.T) {
	d := New()
	var got *proto.Heartbeat
	Register(d, proto.MsgHeartbeat, func() *proto.Heartbeat { return &proto.Heartbeat{} },
		func(conn Conn, msg *proto.Heartbeat) { got = msg })

	hb := &proto.Heartbeat{AgvID: "AGV-1", TimestampUS: 123}
	payload, err := hb.MarshalBinary()
	require.NoError(t, err)

	ok := d.Dispatch(&fakeConn{id: 1}, proto.MsgHeartbeat, payload)
	assert.True(t, ok)
	require.NotNil(t, got)
	assert.Equal(t, "AGV-1", got.AgvID)
}

func TestDispatchUnknownTypeUsesFallback(t *testing.T) {
	d := New()
	var fellBack bool
	d.SetDefaultHandler(func(conn Conn, msgType proto.MsgType, payload []byte) { fellBack = true })

	ok := d.Dispatch(&fakeConn{}, proto.MsgType(0x9999), []byte("x"))
	assert.False(t, ok)
	assert.True(t, fellBack)
}

func TestDispatchParseFailureNeverInvokesHandler(t *testing.T) {
	d := New()
	invoked := false
	var parseErr error
	Register(d, proto.MsgHeartbeat, func() *proto.Heartbeat { return &proto.Heartbeat{} },
		func(conn Conn, msg *proto.Heartbeat) { invoked = true })
	d.SetParseErrorHandler(func(msgType proto.MsgType, err error) { parseErr = err })

	ok := d.Dispatch(&fakeConn{}, proto.MsgHeartbeat, []byte("{not valid json"))
	assert.False(t, ok)
	assert.False(t, invoked)
	assert.Error(t, parseErr)
}

// Package dispatcher implements ProtobufDispatcher: a type-safe registry
// from a wire msg_type to a typed handler, modeled on the teacher's
// MessageRouter (map[MessageType]MessageHandler, registered once up
// front, looked up at dispatch time) but generic over the concrete
// payload type instead of routing through one shared Message struct.
package dispatcher

import (
	"fmt"

	"github.com/lsk225456/agv-gateway/internal/proto"
)

// Conn is the minimal connection surface a handler needs; satisfied by
// *reactor.TcpConnection without this package importing reactor.
type Conn interface {
	Send([]byte)
	ConnID() uint64
}

type entry struct {
	newMessage func() proto.Message
	invoke     func(conn Conn, msg proto.Message)
}

// Dispatcher is the concrete ProtobufDispatcher: registration happens
// once before the server starts and is not safe to call concurrently
// with dispatch, matching the original's single-threaded-registration
// contract.
type Dispatcher struct {
	handlers map[proto.MsgType]entry
	fallback func(conn Conn, msgType proto.MsgType, payload []byte)
	onParseError func(msgType proto.MsgType, err error)
}

func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[proto.MsgType]entry)}
}

// Register binds msgType to a constructor for its payload type and a
// typed callback, invoked only after a successful parse.
func Register[T proto.Message](d *Dispatcher, msgType proto.MsgType, newMessage func() T, handler func(conn Conn, msg T)) {
	d.handlers[msgType] = entry{
		newMessage: func() proto.Message { return newMessage() },
		invoke: func(conn Conn, msg proto.Message) {
			handler(conn, msg.(T))
		},
	}
}

// SetDefaultHandler registers the fallback for unknown types, receiving
// the raw payload bytes.
func (d *Dispatcher) SetDefaultHandler(fn func(conn Conn, msgType proto.MsgType, payload []byte)) {
	d.fallback = fn
}

func (d *Dispatcher) SetParseErrorHandler(fn func(msgType proto.MsgType, err error)) {
	d.onParseError = fn
}

// Dispatch parses payload into the type registered for msgType and
// invokes the handler. Returns false on parse failure or on an unknown
// type, including when the fallback handler ran for that unknown type.
func (d *Dispatcher) Dispatch(conn Conn, msgType proto.MsgType, payload []byte) bool {
	e, ok := d.handlers[msgType]
	if !ok {
		if d.fallback != nil {
			d.fallback(conn, msgType, payload)
		}
		return false
	}
	msg := e.newMessage()
	if err := msg.UnmarshalBinary(payload); err != nil {
		if d.onParseError != nil {
			d.onParseError(msgType, err)
		}
		return false
	}
	e.invoke(conn, msg)
	return true
}

func (d *Dispatcher) String() string {
	return fmt.Sprintf("Dispatcher{%d handlers registered}", len(d.handlers))
}

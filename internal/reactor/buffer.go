package reactor

import (
	"encoding/binary"
	"errors"

	"golang.org/x/sys/unix"
)

// prependSize mirrors the fixed 8-byte prepend zone reserved ahead of the
// readable region, sized to hold one LengthHeaderFrame header.
const prependSize = 8

const initialSize = 1024

// overflowSize is the on-stack scratch region used by TcpConnection's read
// path when the input Buffer's writable region is exhausted.
const overflowSize = 64 * 1024

var ErrNotEnoughData = errors.New("reactor: not enough readable bytes")

// Buffer is a growable byte container with three indices into a contiguous
// backing array: a reserved prepend zone, a readable region [reader,
// writer), and a writable region [writer, end). All integer accessors use
// network byte order.
type Buffer struct {
	buf    []byte
	reader int
	writer int
}

func NewBuffer() *Buffer {
	return &Buffer{
		buf:    make([]byte, prependSize+initialSize),
		reader: prependSize,
		writer: prependSize,
	}
}

func (b *Buffer) ReadableBytes() int    { return b.writer - b.reader }
func (b *Buffer) WritableBytes() int    { return len(b.buf) - b.writer }
func (b *Buffer) PrependableBytes() int { return b.reader }

// Peek returns the readable region without advancing the reader.
func (b *Buffer) Peek() []byte { return b.buf[b.reader:b.writer] }

func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.reader += n
	} else {
		b.RetrieveAll()
	}
}

func (b *Buffer) RetrieveAll() {
	b.reader = prependSize
	b.writer = prependSize
}

func (b *Buffer) RetrieveAsBytes(n int) []byte {
	out := make([]byte, n)
	copy(out, b.buf[b.reader:b.reader+n])
	b.Retrieve(n)
	return out
}

// ensureWritable makes room for n more bytes, either by shifting the
// readable region down to the prepend boundary or by growing the backing
// array, matching the original Buffer's space-reclamation strategy.
func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.PrependableBytes()+b.WritableBytes() >= n+prependSize {
		readable := b.ReadableBytes()
		copy(b.buf[prependSize:], b.buf[b.reader:b.writer])
		b.reader = prependSize
		b.writer = prependSize + readable
		return
	}
	newBuf := make([]byte, b.writer+n)
	copy(newBuf, b.buf[:b.writer])
	b.buf = newBuf
}

func (b *Buffer) Append(data []byte) {
	b.ensureWritable(len(data))
	copy(b.buf[b.writer:], data)
	b.writer += len(data)
}

func (b *Buffer) AppendInt32(x uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], x)
	b.Append(tmp[:])
}

func (b *Buffer) AppendInt16(x uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], x)
	b.Append(tmp[:])
}

func (b *Buffer) PeekInt32() (uint32, error) {
	if b.ReadableBytes() < 4 {
		return 0, ErrNotEnoughData
	}
	return binary.BigEndian.Uint32(b.buf[b.reader : b.reader+4]), nil
}

func (b *Buffer) PeekInt16() (uint16, error) {
	if b.ReadableBytes() < 2 {
		return 0, ErrNotEnoughData
	}
	return binary.BigEndian.Uint16(b.buf[b.reader : b.reader+2]), nil
}

func (b *Buffer) ReadInt32() (uint32, error) {
	v, err := b.PeekInt32()
	if err != nil {
		return 0, err
	}
	b.Retrieve(4)
	return v, nil
}

func (b *Buffer) ReadInt16() (uint16, error) {
	v, err := b.PeekInt16()
	if err != nil {
		return 0, err
	}
	b.Retrieve(2)
	return v, nil
}

// ReadFromFD performs a scatter-read into the writable region plus a
// 64 KiB on-stack overflow buffer, appending any bytes that land in the
// overflow. Returns the number of bytes read and 0 on orderly close; a
// failed read returns 0 and the raw errno, EAGAIN/EWOULDBLOCK included,
// which the caller must tell apart from real errors.
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	var overflow [overflowSize]byte

	writable := b.WritableBytes()
	iov := [][]byte{b.buf[b.writer : b.writer+writable], overflow[:]}

	n, err := unix.Readv(fd, iov)
	if err != nil {
		return 0, err
	}
	if n <= writable {
		b.writer += n
		return n, nil
	}
	b.writer += writable
	b.Append(overflow[:n-writable])
	return n, nil
}

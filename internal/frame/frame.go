// Package frame implements the two leaf readers of the framing engine:
// HeaderReader accumulates the fixed-size big-endian length prefix, and
// BodyReader accumulates the declared number of body bytes and hands them
// to the application codec. Neither type touches a socket; both are fed
// byte slices by the RequestReader that orchestrates the actual reads.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/ashgrove/reactor/api"
)

// DefaultHeaderSize is the length, in bytes, of the big-endian unsigned
// body-length prefix when a MessageFactory does not specify one.
const DefaultHeaderSize = 4

// DefaultMaxBodyBytes bounds a single frame's body when a server is not
// configured with an explicit maximum.
const DefaultMaxBodyBytes = 8 * 1024 * 1024

// HeaderReader accumulates HeaderSize bytes of a big-endian unsigned length
// prefix across however many partial feeds it takes to arrive.
type HeaderReader struct {
	size     int
	maxBody  uint32
	buf      []byte
	consumed int
}

// NewHeaderReader constructs a HeaderReader for a size-byte header (1-8
// bytes) enforcing maxBody as the largest acceptable declared body length.
func NewHeaderReader(size int, maxBody uint32) *HeaderReader {
	return &HeaderReader{size: size, maxBody: maxBody, buf: make([]byte, size)}
}

// Reset prepares the reader for the next frame's header.
func (h *HeaderReader) Reset() {
	h.consumed = 0
}

// Remaining returns how many header bytes are still needed.
func (h *HeaderReader) Remaining() int {
	return h.size - h.consumed
}

// IsComplete reports whether all header bytes have been fed.
func (h *HeaderReader) IsComplete() bool {
	return h.consumed == h.size
}

// Feed copies up to Remaining() bytes from b into the header buffer,
// returning how many bytes it consumed.
func (h *HeaderReader) Feed(b []byte) int {
	n := copy(h.buf[h.consumed:], b[:min(len(b), h.Remaining())])
	h.consumed += n
	return n
}

// Buffer exposes the underlying buffer so a RequestReader can position it
// for a vectored read (writing new bytes starting at Remaining()'s offset
// from the end, i.e. at index h.consumed).
func (h *HeaderReader) Buffer() []byte {
	return h.buf
}

// Consumed returns how many bytes have been written into Buffer() so far.
func (h *HeaderReader) Consumed() int {
	return h.consumed
}

// SetConsumed directly sets how many header bytes are considered filled.
// Used by RequestReader after a vectored read fills part of the header
// buffer directly via the kernel.
func (h *HeaderReader) SetConsumed(n int) {
	h.consumed = n
}

// Value decodes the accumulated header as a big-endian unsigned integer.
// Only valid once IsComplete reports true.
func (h *HeaderReader) Value() (uint32, error) {
	var v uint64
	switch h.size {
	case 1:
		v = uint64(h.buf[0])
	case 2:
		v = uint64(binary.BigEndian.Uint16(h.buf))
	case 4:
		v = uint64(binary.BigEndian.Uint32(h.buf))
	case 8:
		v = binary.BigEndian.Uint64(h.buf)
	default:
		v = 0
		for _, b := range h.buf {
			v = v<<8 | uint64(b)
		}
	}
	if v > uint64(h.maxBody) {
		return 0, api.NewFrameError(api.KindMalformedFrame,
			fmt.Errorf("declared body size %d exceeds maximum %d", v, h.maxBody))
	}
	return uint32(v), nil
}

// PutHeaderSize writes n as a big-endian unsigned integer of size bytes
// into dst, which must be at least size bytes long. Used by the response
// path to prepend the size prefix ahead of a refined payload.
func PutHeaderSize(dst []byte, size int, n uint32) {
	switch size {
	case 1:
		dst[0] = byte(n)
	case 2:
		binary.BigEndian.PutUint16(dst, uint16(n))
	case 4:
		binary.BigEndian.PutUint32(dst, n)
	case 8:
		binary.BigEndian.PutUint64(dst, uint64(n))
	default:
		for i := size - 1; i >= 0; i-- {
			dst[i] = byte(n)
			n >>= 8
		}
	}
}

// BodyReader accumulates the declared number of body bytes for one frame
// and decodes them via factory.Create once complete. It never consumes
// bytes past the declared size; any surplus belongs to the next frame and
// must not be passed to Feed.
type BodyReader[T any] struct {
	factory  api.MessageFactory[T]
	buf      []byte
	size     uint32
	consumed uint32
	message  *api.Message[T]
}

// NewBodyReader constructs a BodyReader backed by buf, which must be at
// least as large as the server's configured maximum body size.
func NewBodyReader[T any](factory api.MessageFactory[T], buf []byte) *BodyReader[T] {
	return &BodyReader[T]{factory: factory, buf: buf}
}

// SetSize declares the body size for the frame about to be read and resets
// accumulation state.
func (b *BodyReader[T]) SetSize(n uint32) {
	b.size = n
	b.consumed = 0
	b.message = nil
}

// Reset clears accumulation state between frames without requiring the
// caller to know the next frame's declared size yet.
func (b *BodyReader[T]) Reset() {
	b.size = 0
	b.consumed = 0
	b.message = nil
}

// Remaining returns how many body bytes are still needed.
func (b *BodyReader[T]) Remaining() uint32 {
	return b.size - b.consumed
}

// IsComplete reports whether the declared body size has been fully fed.
func (b *BodyReader[T]) IsComplete() bool {
	return b.consumed == b.size
}

// Buffer exposes the destination slice for the next vectored read, sized
// to exactly how many bytes remain so a scatter read cannot overrun into
// the next frame.
func (b *BodyReader[T]) Buffer() []byte {
	return b.buf[b.consumed:b.size]
}

// Consumed returns how many body bytes have been written so far.
func (b *BodyReader[T]) Consumed() uint32 {
	return b.consumed
}

// SetConsumed directly sets the fill level of the body buffer. Used after a
// vectored read fills part of it via the kernel.
func (b *BodyReader[T]) SetConsumed(n uint32) {
	b.consumed = n
}

// Feed copies up to Remaining() bytes from p into the body buffer and, once
// the declared size is reached, decodes the message via the codec. It
// returns how many bytes it consumed and decodes on completion.
func (b *BodyReader[T]) Feed(p []byte) (consumed int, err error) {
	n := copy(b.buf[b.consumed:b.size], p)
	b.consumed += uint32(n)
	if b.IsComplete() {
		if err := b.decode(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (b *BodyReader[T]) decode() error {
	raw := b.buf[:b.size]
	val, err := b.factory.Create(raw)
	if err != nil {
		return api.NewFrameError(api.KindCodecError, err)
	}
	msg := &api.Message[T]{Value: val, Raw: raw}
	b.message = msg
	return nil
}

// TakeMessage returns the decoded message and clears it, valid only after
// IsComplete reports true.
func (b *BodyReader[T]) TakeMessage() *api.Message[T] {
	m := b.message
	b.message = nil
	return m
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

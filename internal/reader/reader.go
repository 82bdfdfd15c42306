// Package reader implements RequestReader, the component that coordinates a
// HeaderReader and a BodyReader against one connection's socket using a
// scatter read so a single syscall can split bytes across both, and that
// carries trailing bytes of the next frame forward when a read delivers more
// than the current frame needs.
package reader

import (
	"errors"

	"github.com/ashgrove/reactor/api"
	"github.com/ashgrove/reactor/internal/frame"
)

// ErrWouldBlock signals that a scatter read returned no data because the
// socket is non-blocking and nothing is currently available. It is not a
// connection error: the reactor simply waits for the next readiness event.
var ErrWouldBlock = errors.New("reader: would block")

// Remainder carries bytes a scatter read delivered beyond what the current
// frame needed. HeaderPrefix is at most HEADER_SIZE bytes and belongs to the
// next frame's header; BodyPrefix, only ever non-empty once HeaderPrefix is
// full, belongs to that next frame's body.
type Remainder struct {
	HeaderPrefix []byte
	BodyPrefix   []byte
}

// Empty reports whether there is nothing left to drain via ReadPreloaded.
func (r Remainder) Empty() bool {
	return len(r.HeaderPrefix) == 0 && len(r.BodyPrefix) == 0
}

// ReaderState is a point-in-time snapshot of a RequestReader's progress
// through its current frame.
type ReaderState struct {
	HeaderDone          bool
	DeclaredBodySize    uint32
	HeaderBytesConsumed uint8
	BodyBytesConsumed   uint32
	EndOfStream         bool
}

type socketReader func(fd int32, bufs [][]byte) (int, error)

// RequestReader accumulates one frame at a time from a connection's socket.
// It owns two buffers: the HeaderReader's own HEADER_SIZE buffer, written to
// directly by the scatter read, and a scratch buffer sized to the
// configured maximum body, into which body bytes land before being copied
// into the BodyReader's persistent accumulation buffer.
type RequestReader[T any] struct {
	header      *frame.HeaderReader
	body        *frame.BodyReader[T]
	headerSize  int
	scratch     []byte
	endOfStream bool
	readv       socketReader
}

// NewRequestReader constructs a RequestReader for messages of type T. maxBody
// bounds both the declared body size a header may carry and the capacity of
// the buffers allocated once here and reused for the life of the connection.
func NewRequestReader[T any](factory api.MessageFactory[T], headerSize int, maxBody uint32) *RequestReader[T] {
	return &RequestReader[T]{
		header:     frame.NewHeaderReader(headerSize, maxBody),
		body:       frame.NewBodyReader[T](factory, make([]byte, maxBody)),
		headerSize: headerSize,
		scratch:    make([]byte, maxBody),
		readv:      platformReadv,
	}
}

// Reset clears all in-progress frame state so the reader can be recycled
// for a different connection. The header and scratch buffers are retained
// and overwritten on the next Read, so Reset performs no allocation.
func (r *RequestReader[T]) Reset() {
	r.header.Reset()
	r.body.Reset()
	r.endOfStream = false
}

// State reports the reader's current progress, for logging and tests.
func (r *RequestReader[T]) State() ReaderState {
	st := ReaderState{
		HeaderDone:          r.header.IsComplete(),
		HeaderBytesConsumed: uint8(r.header.Consumed()),
		BodyBytesConsumed:   r.body.Consumed(),
		EndOfStream:         r.endOfStream,
	}
	if st.HeaderDone {
		if v, err := r.header.Value(); err == nil {
			st.DeclaredBodySize = v
		}
	}
	return st
}

// Read performs one scatter read against fd and decodes as much of the
// current frame as the delivered bytes allow. It returns a completed
// message if one was assembled, and any Remainder bytes belonging to the
// next frame that the caller must drain via ReadPreloaded before issuing
// another socket read on this connection.
//
// Only one underlying read syscall is issued per call: the server runs
// epoll in level-triggered mode, so any bytes left unread are reported
// again on the connection's next readiness notification rather than
// requiring this call to drain the socket to EAGAIN itself.
func (r *RequestReader[T]) Read(fd int32) (*api.Message[T], Remainder, error) {
	if r.endOfStream {
		return nil, Remainder{}, api.NewFrameError(api.KindEndOfStream, api.ErrEndOfStream)
	}

	headerWasIncomplete := !r.header.IsComplete()
	var iov [][]byte
	if headerWasIncomplete {
		iov = [][]byte{r.header.Buffer()[r.header.Consumed():], r.scratch}
	} else {
		iov = [][]byte{r.scratch}
	}

	n, err := r.readv(fd, iov)
	if err == ErrWouldBlock {
		return nil, Remainder{}, nil
	}
	if err != nil {
		return nil, Remainder{}, api.NewFrameError(api.KindIOFailure, err)
	}
	if n == 0 {
		r.endOfStream = true
		return nil, Remainder{}, api.NewFrameError(api.KindEndOfStream, api.ErrEndOfStream)
	}

	var bodyData []byte
	if headerWasIncomplete {
		headerBytes := n
		if avail := r.header.Remaining(); headerBytes > avail {
			headerBytes = avail
		}
		r.header.SetConsumed(r.header.Consumed() + headerBytes)
		bodyData = r.scratch[:n-headerBytes]
	} else {
		bodyData = r.scratch[:n]
	}

	return r.decode(headerWasIncomplete, bodyData)
}

// ReadPreloaded behaves like Read but derives its bytes from an already
// produced Remainder instead of issuing a socket read. The reactor drains a
// chain of Remainders this way until Empty reports true, surfacing every
// frame that was sitting in a single scatter read's surplus.
func (r *RequestReader[T]) ReadPreloaded(rem Remainder) (*api.Message[T], Remainder, error) {
	if r.endOfStream {
		return nil, Remainder{}, api.NewFrameError(api.KindEndOfStream, api.ErrEndOfStream)
	}

	headerWasIncomplete := !r.header.IsComplete()
	var bodyData []byte
	if headerWasIncomplete {
		r.header.Feed(rem.HeaderPrefix)
		bodyData = rem.BodyPrefix
	} else {
		// A caller that still holds a non-empty HeaderPrefix once the header
		// is complete violates the Remainder contract; fold it into the body
		// rather than drop bytes.
		bodyData = append(append([]byte(nil), rem.HeaderPrefix...), rem.BodyPrefix...)
	}

	return r.decode(headerWasIncomplete, bodyData)
}

// decode runs the shared header-completion and body-accumulation steps
// common to both a fresh scatter read and a preloaded one.
func (r *RequestReader[T]) decode(headerWasIncomplete bool, bodyData []byte) (*api.Message[T], Remainder, error) {
	if headerWasIncomplete && !r.header.IsComplete() {
		return nil, Remainder{}, nil
	}
	if headerWasIncomplete {
		size, err := r.header.Value()
		if err != nil {
			return nil, Remainder{}, err
		}
		r.body.SetSize(size)
	}

	if len(bodyData) == 0 {
		return nil, Remainder{}, nil
	}

	consumed, err := r.body.Feed(bodyData)
	if err != nil {
		return nil, Remainder{}, err
	}
	if !r.body.IsComplete() {
		return nil, Remainder{}, nil
	}

	msg := r.body.TakeMessage()
	surplus := bodyData[consumed:]
	r.header.Reset()
	r.body.Reset()
	return msg, splitSurplus(surplus, r.headerSize), nil
}

func splitSurplus(surplus []byte, headerSize int) Remainder {
	if len(surplus) == 0 {
		return Remainder{}
	}
	hn := len(surplus)
	if hn > headerSize {
		hn = headerSize
	}
	rem := Remainder{HeaderPrefix: append([]byte(nil), surplus[:hn]...)}
	if len(surplus) > hn {
		rem.BodyPrefix = append([]byte(nil), surplus[hn:]...)
	}
	return rem
}

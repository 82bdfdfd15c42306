package reader

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ashgrove/reactor/api"
)

type echoFactory struct{}

func (echoFactory) HeaderSize() int { return 4 }
func (echoFactory) Create(body []byte) ([]byte, error) {
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

// scriptedSocket feeds a fixed sequence of chunks to successive readv calls,
// modelling arbitrary TCP segment boundaries without a real socket.
type scriptedSocket struct {
	chunks [][]byte
	pos    int
}

func (s *scriptedSocket) read(fd int32, bufs [][]byte) (int, error) {
	if s.pos >= len(s.chunks) {
		return 0, ErrWouldBlock
	}
	chunk := s.chunks[s.pos]
	s.pos++
	n := 0
	remaining := chunk
	for _, b := range bufs {
		if len(remaining) == 0 {
			break
		}
		c := copy(b, remaining)
		remaining = remaining[c:]
		n += c
	}
	return n, nil
}

func newTestReader(socket *scriptedSocket) *RequestReader[[]byte] {
	r := NewRequestReader[[]byte](echoFactory{}, 4, 1<<20)
	r.readv = socket.read
	return r
}

func TestHappyPathSingleFrame(t *testing.T) {
	socket := &scriptedSocket{chunks: [][]byte{
		append([]byte{0x00, 0x00, 0x00, 0x05}, []byte("hello")...),
	}}
	r := newTestReader(socket)

	msg, rem, err := r.Read(7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg == nil || !bytes.Equal(msg.Value, []byte("hello")) {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if !rem.Empty() {
		t.Fatalf("expected no remainder, got %+v", rem)
	}
}

func TestSplitHeaderAcrossTwoReads(t *testing.T) {
	socket := &scriptedSocket{chunks: [][]byte{
		{0x00, 0x00},
		append([]byte{0x00, 0x05}, []byte("abcde")...),
	}}
	r := newTestReader(socket)

	msg, rem, err := r.Read(7)
	if err != nil {
		t.Fatalf("unexpected error on first read: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected no message yet, got %+v", msg)
	}
	if !rem.Empty() {
		t.Fatalf("expected no remainder from a partial header read: %+v", rem)
	}

	msg, rem, err = r.Read(7)
	if err != nil {
		t.Fatalf("unexpected error on second read: %v", err)
	}
	if msg == nil || !bytes.Equal(msg.Value, []byte("abcde")) {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if !rem.Empty() {
		t.Fatalf("expected no remainder: %+v", rem)
	}
}

func TestCoalescedFramesInOneRead(t *testing.T) {
	payload := append([]byte{0x00, 0x00, 0x00, 0x01}, 'x')
	payload = append(payload, 0x00, 0x00, 0x00, 0x02, 'y', 'z')
	socket := &scriptedSocket{chunks: [][]byte{payload}}
	r := newTestReader(socket)

	msg, rem, err := r.Read(7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg == nil || !bytes.Equal(msg.Value, []byte("x")) {
		t.Fatalf("unexpected first message: %+v", msg)
	}
	if rem.Empty() {
		t.Fatal("expected a remainder carrying the second frame")
	}

	msg2, rem2, err := r.ReadPreloaded(rem)
	if err != nil {
		t.Fatalf("unexpected error draining remainder: %v", err)
	}
	if msg2 == nil || !bytes.Equal(msg2.Value, []byte("yz")) {
		t.Fatalf("unexpected second message: %+v", msg2)
	}
	if !rem2.Empty() {
		t.Fatalf("expected remainder fully drained: %+v", rem2)
	}
}

func TestEndOfStreamMidFrameDecodesNothing(t *testing.T) {
	socket := &scriptedSocket{chunks: [][]byte{
		{0x00, 0x00, 0x00, 0x10},
	}}
	r := newTestReader(socket)

	msg, _, err := r.Read(7)
	if msg != nil {
		t.Fatalf("expected no message, got %+v", msg)
	}
	if err != nil {
		t.Fatalf("declaring the size should not itself error: %v", err)
	}

	socket.chunks = append(socket.chunks, nil)
	socket.pos = len(socket.chunks) - 1
	r.readv = func(fd int32, bufs [][]byte) (int, error) { return 0, nil }

	_, _, err = r.Read(7)
	if !api.IsKind(err, api.KindEndOfStream) {
		t.Fatalf("expected EndOfStream, got %v", err)
	}
}

func TestOversizeHeaderIsMalformedFrame(t *testing.T) {
	r := NewRequestReader[[]byte](echoFactory{}, 4, 10)
	socket := &scriptedSocket{chunks: [][]byte{{0x00, 0x00, 0x00, 0xFF}}}
	r.readv = socket.read

	_, _, err := r.Read(7)
	if !api.IsKind(err, api.KindMalformedFrame) {
		t.Fatalf("expected MalformedFrame, got %v", err)
	}
}

func TestWouldBlockIsNotAnError(t *testing.T) {
	r := NewRequestReader[[]byte](echoFactory{}, 4, 10)
	r.readv = func(fd int32, bufs [][]byte) (int, error) { return 0, ErrWouldBlock }

	msg, rem, err := r.Read(7)
	if msg != nil || !rem.Empty() || err != nil {
		t.Fatalf("expected a quiet no-op, got msg=%v rem=%+v err=%v", msg, rem, err)
	}
}

func TestIOFailureWraps(t *testing.T) {
	boom := errors.New("boom")
	r := NewRequestReader[[]byte](echoFactory{}, 4, 10)
	r.readv = func(fd int32, bufs [][]byte) (int, error) { return 0, boom }

	_, _, err := r.Read(7)
	if !api.IsKind(err, api.KindIOFailure) {
		t.Fatalf("expected IOFailure, got %v", err)
	}
}

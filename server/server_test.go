//go:build linux

package server

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ashgrove/reactor/api"
	"github.com/ashgrove/reactor/internal/applog"
)

type rawBytesFactory struct{}

func (rawBytesFactory) HeaderSize() int { return 4 }

func (rawBytesFactory) Create(body []byte) ([]byte, error) {
	return append([]byte(nil), body...), nil
}

type echoSyncHandler struct{}

func (echoSyncHandler) Handle(ctx api.ConnectionContext[[]byte], msg []byte) ([]byte, bool, error) {
	return msg, true, nil
}

func startEchoServer(t *testing.T) *Server[[]byte] {
	t.Helper()
	srv := New[[]byte](rawBytesFactory{},
		WithListenAddr[[]byte]("127.0.0.1:0"),
		WithLogger[[]byte](applog.Noop()),
	)
	if err := srv.SetHandler(echoSyncHandler{}); err != nil {
		t.Fatalf("SetHandler: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func encodeFrame(body string) []byte {
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	return buf
}

// S1: happy path, one frame in, identical frame echoed back.
func TestServerEchoHappyPath(t *testing.T) {
	srv := startEchoServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	want := encodeFrame("hello")
	if _, err := conn.Write(want); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, len(want))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// S2: the 4-byte header arrives split across two writes with a pause
// between them. Exactly one message should still be decoded and echoed.
func TestServerSplitHeader(t *testing.T) {
	srv := startEchoServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	want := encodeFrame("abcde")
	if _, err := conn.Write(want[:2]); err != nil {
		t.Fatalf("write first half: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := conn.Write(want[2:]); err != nil {
		t.Fatalf("write second half: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, len(want))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// S3: two frames arrive coalesced in a single write. Both are decoded and
// answered in order.
func TestServerCoalescedFrames(t *testing.T) {
	srv := startEchoServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	f1 := encodeFrame("x")
	f2 := encodeFrame("yz")
	payload := append(append([]byte(nil), f1...), f2...)
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, len(f1)+len(f2))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	want := append(append([]byte(nil), f1...), f2...)
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// S6: the client declares a body and then closes mid-frame. No response
// should ever arrive and the connection should be cleaned up without a
// panic or hang.
func TestServerEndOfStreamMidFrame(t *testing.T) {
	srv := startEchoServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 16)
	if _, err := conn.Write(header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	conn.Close()

	// Give the reactor a moment to observe the close; there is nothing to
	// assert on the wire (no response should ever be sent), so this test
	// mainly guards against the server wedging or panicking.
	time.Sleep(100 * time.Millisecond)
}

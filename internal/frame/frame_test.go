package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ashgrove/reactor/api"
)

type echoFactory struct{ headerSize int }

func (f echoFactory) HeaderSize() int { return f.headerSize }
func (f echoFactory) Create(body []byte) ([]byte, error) {
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

type failingFactory struct{}

func (failingFactory) HeaderSize() int { return 4 }
func (failingFactory) Create(body []byte) ([]byte, error) {
	return nil, errors.New("bad body")
}

func TestHeaderReaderAccumulatesAcrossFeeds(t *testing.T) {
	h := NewHeaderReader(4, 1<<20)
	if h.IsComplete() {
		t.Fatal("fresh header reader reports complete")
	}
	if n := h.Feed([]byte{0x00, 0x00}); n != 2 {
		t.Fatalf("expected 2 bytes consumed, got %d", n)
	}
	if h.IsComplete() {
		t.Fatal("should still be incomplete after 2 of 4 bytes")
	}
	if n := h.Feed([]byte{0x00, 0x05, 0xFF}); n != 2 {
		t.Fatalf("expected feed to stop at remaining()=2, got %d", n)
	}
	if !h.IsComplete() {
		t.Fatal("expected header complete after 4 bytes total")
	}
	v, err := h.Value()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 5 {
		t.Fatalf("expected declared size 5, got %d", v)
	}
}

func TestHeaderReaderRejectsOversizeDeclaration(t *testing.T) {
	h := NewHeaderReader(4, 10)
	h.Feed([]byte{0x00, 0x00, 0x00, 0x0B})
	_, err := h.Value()
	if !api.IsKind(err, api.KindMalformedFrame) {
		t.Fatalf("expected MalformedFrame, got %v", err)
	}
}

func TestBodyReaderDecodesOnCompletion(t *testing.T) {
	b := NewBodyReader[[]byte](echoFactory{4}, make([]byte, 16))
	b.SetSize(5)
	n, err := b.Feed([]byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 bytes consumed, got %d", n)
	}
	if !b.IsComplete() {
		t.Fatal("expected body complete")
	}
	msg := b.TakeMessage()
	if msg == nil || !bytes.Equal(msg.Value, []byte("hello")) {
		t.Fatalf("unexpected decoded message: %+v", msg)
	}
}

func TestBodyReaderNeverConsumesPastDeclaredSize(t *testing.T) {
	b := NewBodyReader[[]byte](echoFactory{4}, make([]byte, 16))
	b.SetSize(3)
	n, err := b.Feed([]byte("abcXYZ"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected Feed to stop at declared size, consumed=%d", n)
	}
	if !b.IsComplete() {
		t.Fatal("expected body complete at declared size")
	}
}

func TestBodyReaderWrapsCodecErrors(t *testing.T) {
	b := NewBodyReader[[]byte](failingFactory{}, make([]byte, 16))
	b.SetSize(3)
	_, err := b.Feed([]byte("abc"))
	if !api.IsKind(err, api.KindCodecError) {
		t.Fatalf("expected CodecError, got %v", err)
	}
}

func TestPutHeaderSizeRoundTripsThroughHeaderReader(t *testing.T) {
	dst := make([]byte, 4)
	PutHeaderSize(dst, 4, 12345)
	h := NewHeaderReader(4, 1<<20)
	h.Feed(dst)
	v, err := h.Value()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 12345 {
		t.Fatalf("expected 12345, got %d", v)
	}
}

package writer

import "github.com/ashgrove/reactor/internal/frame"

// NewSizeHeaderJob is the canonical WriteJob constructor: it prepends a
// big-endian length prefix of headerSize bytes to payload, producing one
// contiguous buffer so the size and the body can never be torn across
// separate writes.
func NewSizeHeaderJob(headerSize int, payload []byte) *WriteJob {
	buf := make([]byte, headerSize+len(payload))
	frame.PutHeaderSize(buf, headerSize, uint32(len(payload)))
	copy(buf[headerSize:], payload)
	return &WriteJob{Buffer: buf}
}

package sandbox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/pkg/stdcopy"
)

// frameHeaderLen is the size of the engine's multiplexed log frame header:
// one stream byte, three padding bytes, a big-endian uint32 payload size.
const frameHeaderLen = 8

// maxFrameSize guards against a corrupt header asking for a huge buffer.
const maxFrameSize = 64 << 20

// frameStream decodes the multiplexed log stream of a non-TTY container
// into tagged chunks.
type frameStream struct {
	rc     io.ReadCloser
	header [frameHeaderLen]byte
}

func newFrameStream(rc io.ReadCloser) *frameStream {
	return &frameStream{rc: rc}
}

func (s *frameStream) Recv() (LogChunk, error) {
	if _, err := io.ReadFull(s.rc, s.header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return LogChunk{}, io.EOF
		}
		return LogChunk{}, fmt.Errorf("read frame header: %w", err)
	}

	size := binary.BigEndian.Uint32(s.header[4:])
	if size > maxFrameSize {
		return LogChunk{}, fmt.Errorf("log frame of %d bytes exceeds limit", size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(s.rc, data); err != nil {
		return LogChunk{}, fmt.Errorf("read frame payload: %w", err)
	}

	return LogChunk{Stream: streamKind(stdcopy.StdType(s.header[0])), Data: data}, nil
}

func (s *frameStream) Close() error {
	return s.rc.Close()
}

func streamKind(t stdcopy.StdType) StreamKind {
	switch t {
	case stdcopy.Stdin:
		return StreamStdin
	case stdcopy.Stdout:
		return StreamStdout
	case stdcopy.Stderr:
		return StreamStderr
	case stdcopy.Systemerr:
		return StreamSystem
	default:
		// Unknown framing; keep the raw tag so the collector drops it.
		return StreamKind(t)
	}
}

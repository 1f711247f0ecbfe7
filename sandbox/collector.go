package sandbox

import (
	"bytes"
	"errors"
	"io"
)

// Collect drains stream until it ends and splits the chunks into stdout and
// stderr. Chunks tagged with any other stream are dropped. A non-EOF error
// ends collection early; the output gathered so far is still returned.
func Collect(stream LogStream) (stdout, stderr []byte, err error) {
	var outBuf, errBuf bytes.Buffer
	for {
		chunk, recvErr := stream.Recv()
		if recvErr != nil {
			if !errors.Is(recvErr, io.EOF) {
				err = recvErr
			}
			return outBuf.Bytes(), errBuf.Bytes(), err
		}

		switch chunk.Stream {
		case StreamStdout:
			outBuf.Write(chunk.Data)
		case StreamStderr:
			errBuf.Write(chunk.Data)
		}
	}
}

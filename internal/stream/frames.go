package stream

import (
	"bufio"
	"io"
)

const (
	frameScannerInitialBuffer = 64 * 1024
	frameScannerMaxBuffer     = 512 * 1024
)

// ScanFrames is a bufio.SplitFunc that yields one wire frame per token,
// frames being separated by a blank line. A frame that straddles chunk
// boundaries is held back until its terminator arrives; leftover bytes at
// EOF belong to an unterminated frame and are dropped, since the protocol
// blank-line-terminates every complete frame.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i+1 < len(data); i++ {
		if data[i] != '\n' {
			continue
		}
		switch {
		case data[i+1] == '\n':
			return i + 2, data[:i], nil
		case data[i+1] == '\r' && i+2 < len(data) && data[i+2] == '\n':
			return i + 3, data[:i], nil
		}
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}

// NewFrameScanner wraps a raw stream in a frame-splitting scanner with
// buffers sized for large streamed payloads.
func NewFrameScanner(reader io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, frameScannerInitialBuffer), frameScannerMaxBuffer)
	scanner.Split(ScanFrames)
	return scanner
}

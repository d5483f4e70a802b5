package tsserver

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// FramingMode selects how messages are delimited on a stream.
type FramingMode int

const (
	// FrameHeaders is Content-Length header framing: header lines, a blank
	// line, then exactly Content-Length bytes of UTF-8 JSON. The server
	// frames its stdout this way.
	FrameHeaders FramingMode = iota

	// FrameLines is line framing: one JSON message per line, terminated
	// with \r\n. The server reads its input this way, and both directions
	// of the node IPC channel use it.
	FrameLines

	// FrameAuto defers the choice until the first byte arrives: a leading
	// '{' means line framing, anything else means headers. Reader-side only.
	FrameAuto
)

// String returns a human-readable mode name.
func (m FramingMode) String() string {
	switch m {
	case FrameHeaders:
		return "headers"
	case FrameLines:
		return "lines"
	case FrameAuto:
		return "auto"
	default:
		return "unknown"
	}
}

// ParseFramingMode parses a configuration string into a FramingMode.
func ParseFramingMode(s string) (FramingMode, error) {
	switch s {
	case "headers":
		return FrameHeaders, nil
	case "lines":
		return FrameLines, nil
	case "auto":
		return FrameAuto, nil
	}
	return 0, fmt.Errorf("unknown framing mode %q", s)
}

const readBufferSize = 64 * 1024

// FrameReader decodes framed messages from a stream. It is incremental:
// message boundaries are recovered correctly however the underlying reads
// split the bytes. Not safe for concurrent use.
type FrameReader struct {
	r    *bufio.Reader
	mode FramingMode
}

// NewFrameReader wraps r with the given framing mode.
func NewFrameReader(r io.Reader, mode FramingMode) *FrameReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, readBufferSize)
	}
	return &FrameReader{r: br, mode: mode}
}

// ReadMessage returns the next message payload. A clean EOF between
// messages returns io.EOF; an EOF inside a message wraps
// io.ErrUnexpectedEOF.
func (fr *FrameReader) ReadMessage() ([]byte, error) {
	if fr.mode == FrameAuto {
		b, err := fr.r.Peek(1)
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("detect framing: %w", err)
		}
		if b[0] == '{' {
			fr.mode = FrameLines
		} else {
			fr.mode = FrameHeaders
		}
	}
	if fr.mode == FrameLines {
		return fr.readLine()
	}
	return fr.readHeaders()
}

// Mode returns the reader's framing mode. After the first message on a
// FrameAuto reader it reports the detected mode.
func (fr *FrameReader) Mode() FramingMode {
	return fr.mode
}

func (fr *FrameReader) readHeaders() ([]byte, error) {
	contentLength := -1
	first := true
	for {
		line, err := fr.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && first && line == "" {
				return nil, io.EOF
			}
			if err == io.EOF {
				return nil, fmt.Errorf("read header: %w", io.ErrUnexpectedEOF)
			}
			return nil, fmt.Errorf("read header: %w", err)
		}
		first = false
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &ProtocolError{Reason: "malformed header line", Raw: []byte(line)}
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, convErr := strconv.Atoi(strings.TrimSpace(value))
			if convErr != nil || n < 0 {
				return nil, &ProtocolError{Reason: "bad Content-Length", Raw: []byte(line)}
			}
			contentLength = n
		}
		// Other headers (Content-Type) are skipped.
	}
	if contentLength < 0 {
		return nil, &ProtocolError{Reason: "missing Content-Length header"}
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("read body: %w", io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (fr *FrameReader) readLine() ([]byte, error) {
	for {
		line, err := fr.r.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(line) == 0 {
				return nil, io.EOF
			}
			if err == io.EOF {
				return nil, fmt.Errorf("read line: %w", io.ErrUnexpectedEOF)
			}
			return nil, fmt.Errorf("read line: %w", err)
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			// Blank lines between messages are tolerated.
			continue
		}
		return line, nil
	}
}

// FrameWriter encodes framed messages onto a stream. Each message is
// emitted as a single Write. Safe for concurrent use.
type FrameWriter struct {
	mu   sync.Mutex
	w    io.Writer
	mode FramingMode
}

// NewFrameWriter wraps w with the given framing mode. FrameAuto is not a
// writable mode; it falls back to line framing.
func NewFrameWriter(w io.Writer, mode FramingMode) *FrameWriter {
	if mode == FrameAuto {
		mode = FrameLines
	}
	return &FrameWriter{w: w, mode: mode}
}

// WriteMessage frames and writes one message payload.
func (fw *FrameWriter) WriteMessage(payload []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	var buf []byte
	if fw.mode == FrameHeaders {
		header := "Content-Length: " + strconv.Itoa(len(payload)) + "\r\n\r\n"
		buf = make([]byte, 0, len(header)+len(payload))
		buf = append(buf, header...)
		buf = append(buf, payload...)
	} else {
		buf = make([]byte, 0, len(payload)+2)
		buf = append(buf, payload...)
		buf = append(buf, '\r', '\n')
	}

	if _, err := fw.w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Package wire implements the NNTP line framing layer: CRLF-terminated
// line read/write, dot-stuffing for multi-line responses, a bounded line
// length, and optional DEFLATE compression of both directions (RFC 4644
// COMPRESS DEFLATE).
//
// Callers pass single-line replies without a line ending; WriteLine
// appends the CRLF. Multi-line bodies are written
// with WriteDotBlock/ReadDotBlock, which apply and reverse dot-stuffing.
package wire

import (
	"bufio"
	"compress/flate"
	"errors"
	"io"
	"net"
)

// DefaultMaxLineLength is the recommended minimum line-length cap.
const DefaultMaxLineLength = 4096

// ErrLineTooLong is reported when an incoming line exceeds MaxLineLength.
var ErrLineTooLong = errors.New("wire: line exceeds maximum length")

// Framer reads and writes CRLF-terminated lines over a connection, with
// optional dot-stuffing for multi-line bodies and optional DEFLATE
// compression layered over both directions.
//
// A Framer is not safe for concurrent use; each session owns exactly one.
type Framer struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	maxLine int

	compressed        bool
	compressTerm      bool // RFC 4644 TERMINATOR option: terminator is compressed too
	deflateWriter     *flate.Writer
	deflateReadCloser io.ReadCloser
}

// NewFramer builds a Framer over conn with the given max line length. A
// maxLine of 0 uses DefaultMaxLineLength.
func NewFramer(conn net.Conn, maxLine int) *Framer {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}
	return &Framer{
		conn:    conn,
		r:       bufio.NewReader(conn),
		w:       bufio.NewWriter(conn),
		maxLine: maxLine,
	}
}

// Conn returns the underlying network connection, e.g. for TLS upgrade.
func (f *Framer) Conn() net.Conn { return f.conn }

// EnableCompression layers a DEFLATE codec over both read and write
// directions, per RFC 4644. compressTerminator controls whether the
// closing ".CRLF" of a subsequent multi-line response is itself part of
// the compressed stream.
func (f *Framer) EnableCompression(compressTerminator bool) error {
	f.deflateReadCloser = flate.NewReader(f.r)
	f.r = bufio.NewReader(f.deflateReadCloser)

	fw, err := flate.NewWriter(f.conn, flate.DefaultCompression)
	if err != nil {
		return err
	}
	f.deflateWriter = fw
	f.w = bufio.NewWriter(fw)

	f.compressed = true
	f.compressTerm = compressTerminator
	return nil
}

// Compressed reports whether compression negotiation has succeeded.
func (f *Framer) Compressed() bool { return f.compressed }

// Rewrap replaces the underlying connection, used after a TLS handshake.
// Any compression state is reset since STARTTLS always precedes
// compression negotiation in this engine.
func (f *Framer) Rewrap(conn net.Conn) {
	f.conn = conn
	f.r = bufio.NewReader(conn)
	f.w = bufio.NewWriter(conn)
	f.compressed = false
	f.deflateWriter = nil
	f.deflateReadCloser = nil
}

// ReadLine reads one logical CRLF-terminated line, stripped of its
// terminator. Lines longer than maxLine report ErrLineTooLong.
func (f *Framer) ReadLine() (string, error) {
	var line []byte
	for {
		chunk, isPrefix, err := f.r.ReadLine()
		if err != nil {
			return "", err
		}
		line = append(line, chunk...)
		if len(line) > f.maxLine {
			return "", ErrLineTooLong
		}
		if !isPrefix {
			break
		}
	}
	return string(line), nil
}

// WriteLine writes s followed by CRLF and flushes.
func (f *Framer) WriteLine(s string) error {
	if _, err := f.w.WriteString(s); err != nil {
		return err
	}
	if _, err := f.w.WriteString("\r\n"); err != nil {
		return err
	}
	return f.flush()
}

func (f *Framer) flush() error {
	if err := f.w.Flush(); err != nil {
		return err
	}
	if f.compressed {
		return f.deflateWriter.Flush()
	}
	return nil
}

// writeRawLine writes directly to the uncompressed underlying connection,
// used for the multi-line terminator when compression is active without
// the TERMINATOR option.
func (f *Framer) writeRawLine(s string) error {
	if _, err := io.WriteString(f.conn, s+"\r\n"); err != nil {
		return err
	}
	return nil
}

// WriteDotBlock writes a multi-line response body. Each line supplied by
// next (called until it returns ok=false) is dot-stuffed: a leading "."
// byte is doubled. The block is terminated by a single "." line.
func (f *Framer) WriteDotBlock(next func() (line string, ok bool)) error {
	for {
		line, ok := next()
		if !ok {
			break
		}
		if len(line) > 0 && line[0] == '.' {
			line = "." + line
		}
		if _, err := f.w.WriteString(line); err != nil {
			return err
		}
		if _, err := f.w.WriteString("\r\n"); err != nil {
			return err
		}
	}
	if f.compressed && !f.compressTerm {
		if err := f.flush(); err != nil {
			return err
		}
		return f.writeRawLine(".")
	}
	if _, err := f.w.WriteString(".\r\n"); err != nil {
		return err
	}
	return f.flush()
}

// ReadDotBlock reads lines until a bare "." terminator, reversing
// dot-stuffing, and returns the unstuffed lines (without their CRLF).
func (f *Framer) ReadDotBlock() ([]string, error) {
	var lines []string
	for {
		line, err := f.ReadLine()
		if err != nil {
			return nil, err
		}
		if line == "." {
			return lines, nil
		}
		if len(line) > 0 && line[0] == '.' {
			line = line[1:]
		}
		lines = append(lines, line)
	}
}

// Close closes the underlying connection and any compression codecs.
func (f *Framer) Close() error {
	if f.deflateWriter != nil {
		_ = f.deflateWriter.Close()
	}
	if f.deflateReadCloser != nil {
		_ = f.deflateReadCloser.Close()
	}
	return f.conn.Close()
}

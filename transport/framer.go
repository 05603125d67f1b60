// Package transport implements the length-prefixed, magic-tagged framing
// used by both the handshake preamble and the post-handshake JSON command
// traffic of the HMON wire protocol (spec §4.1, §6). It owns no JSON
// semantics: callers hand it opaque payload bytes.
//
// No example in the retrieval pack implements this exact length+magic
// framing; it is built directly on encoding/binary and bufio, the stdlib
// primitives the teacher itself reaches for when it needs to frame raw
// bytes around its higher-level JSON-RPC codec (see
// transport/server/http/streaming/framer.go's use of bufio.Writer in the
// teacher sources).
package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/lstefano71/hmonclient"
)

// HeaderSize is the 4-byte length prefix plus the 4-byte magic tag.
const HeaderSize = 8

// Role determines handshake send/receive order: the dialing side sends
// first, the accepting side receives first (spec §4.1).
type Role int

const (
	RoleDial Role = iota
	RoleAccept
)

// Framer performs the HMON handshake and subsequent length-prefixed frame
// I/O over a single bidirectional byte stream. It is safe for one reader
// goroutine and one writer goroutine to use concurrently; WriteFrame itself
// serializes concurrent writers.
type Framer struct {
	conn         Stream
	reader       *bufio.Reader
	maxFrameSize uint32
	writeMu      sync.Mutex
}

// New wraps conn in a Framer. maxFrameSize bounds the total frame length
// (including the 8-byte header) accepted by ReadFrame; 0 selects the
// default of hmon.DefaultMaxFrameSize.
func New(conn Stream, maxFrameSize uint32) *Framer {
	if maxFrameSize == 0 {
		maxFrameSize = hmon.DefaultMaxFrameSize
	}
	return &Framer{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		maxFrameSize: maxFrameSize,
	}
}

// Close closes the underlying stream.
func (f *Framer) Close() error {
	return f.conn.Close()
}

// WriteFrame prepends the 8-byte header (big-endian total length, then the
// HMON magic) and writes the frame atomically with respect to other writers
// on this Framer.
func (f *Framer) WriteFrame(payload []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.writeFrameLocked(payload)
}

func (f *Framer) writeFrameLocked(payload []byte) error {
	total := HeaderSize + len(payload)
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(total))
	copy(header[4:8], hmon.Magic[:])
	if _, err := f.conn.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := f.conn.Write(payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads the next frame and returns its payload. It validates the
// length is >= HeaderSize and <= the configured cap, and that the magic tag
// matches, per spec §4.1.
func (f *Framer) ReadFrame() ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f.reader, header); err != nil {
		return nil, err
	}
	total := binary.BigEndian.Uint32(header[0:4])
	if total < HeaderSize {
		return nil, &hmon.ProtocolError{Detail: fmt.Sprintf("frame length %d below minimum %d", total, HeaderSize)}
	}
	if total > f.maxFrameSize {
		return nil, &hmon.ProtocolError{Detail: fmt.Sprintf("frame length %d exceeds cap %d", total, f.maxFrameSize)}
	}
	var magic [4]byte
	copy(magic[:], header[4:8])
	if magic != hmon.Magic {
		return nil, &hmon.ProtocolError{Detail: fmt.Sprintf("bad magic %q", magic)}
	}
	payloadLen := total - HeaderSize
	if payloadLen == 0 {
		return nil, nil
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(f.reader, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Handshake sends and receives the two text handshake frames in the order
// dictated by role, per spec §4.1. The dialing side sends first.
func (f *Framer) Handshake(role Role) error {
	switch role {
	case RoleDial:
		if err := f.sendHandshakeFrames(); err != nil {
			return err
		}
		return f.recvHandshakeFrames()
	case RoleAccept:
		if err := f.recvHandshakeFrames(); err != nil {
			return err
		}
		return f.sendHandshakeFrames()
	default:
		return &hmon.HandshakeFailed{Reason: "unknown role"}
	}
}

func (f *Framer) sendHandshakeFrames() error {
	for _, phase := range []string{hmon.HandshakeSupportedProtocols, hmon.HandshakeUsingProtocol} {
		if err := f.WriteFrame([]byte(phase)); err != nil {
			return &hmon.HandshakeFailed{Reason: "write " + phase, Cause: err}
		}
	}
	return nil
}

func (f *Framer) recvHandshakeFrames() error {
	expect := []string{hmon.HandshakeSupportedProtocols, hmon.HandshakeUsingProtocol}
	for _, want := range expect {
		payload, err := f.ReadFrame()
		if err != nil {
			return &hmon.HandshakeFailed{Reason: "read " + want, Cause: err}
		}
		if string(payload) != want {
			return &hmon.HandshakeFailed{Reason: fmt.Sprintf("expected %q, got %q", want, payload)}
		}
	}
	return nil
}

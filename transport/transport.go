package transport

import "io"

// Stream is the minimal bidirectional byte-stream contract a Framer is
// built on. net.Conn satisfies it directly; tests substitute net.Pipe() or
// any io.ReadWriteCloser.
//
// Grounded on the teacher's transport/client/base/transport.go Transport
// interface (SendData(ctx, data) error), generalized from "send bytes" to
// "read and write bytes" since the HMON core owns its own read loop instead
// of delegating byte delivery to an external runner.
type Stream interface {
	io.ReadWriteCloser
}

package transport

import (
	"context"
	"io"
	"sync"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
)

// PipeEnd is one side of an in-memory transport pair
type PipeEnd struct {
	in        *inbox
	peer      *PipeEnd
	closeOnce sync.Once
}

// Pipe returns two connected in-memory transports. A frame sent on one end
// is received on the other. Closing one end makes the other's Receive
// return io.EOF once buffered frames are drained.
func Pipe() (*PipeEnd, *PipeEnd) {
	a := &PipeEnd{in: newInbox(64)}
	b := &PipeEnd{in: newInbox(64)}
	a.peer, b.peer = b, a
	return a, b
}

// Send queues a copy of frame on the peer
func (p *PipeEnd) Send(ctx context.Context, frame []byte) error {
	if p.in.isClosed() {
		return ErrClosed
	}
	if p.peer.in.isClosed() {
		return mcperrors.ConnectionLost("pipe", "", io.ErrClosedPipe)
	}

	buf := make([]byte, len(frame))
	copy(buf, frame)
	if !p.peer.in.push(ctx, buf) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return mcperrors.ConnectionLost("pipe", "", io.ErrClosedPipe)
	}
	return nil
}

// Receive returns the next frame sent by the peer
func (p *PipeEnd) Receive(ctx context.Context) ([]byte, error) {
	return p.in.receive(ctx)
}

// Close closes this end and signals EOF to the peer
func (p *PipeEnd) Close() error {
	p.closeOnce.Do(func() {
		p.in.close()
		p.peer.in.fail(io.EOF)
	})
	return nil
}

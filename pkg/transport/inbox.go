package transport

import (
	"context"
	"sync"
)

// inbox queues received frames for Receive. Frames queued before a
// terminal error are still delivered; the error is returned once they are
// drained.
type inbox struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	failed chan struct{}
	err    error
}

func newInbox(size int) *inbox {
	return &inbox{
		frames: make(chan []byte, size),
		closed: make(chan struct{}),
		failed: make(chan struct{}),
	}
}

// push queues a frame, waiting for room. It returns false once the inbox
// is closed or ctx is done.
func (in *inbox) push(ctx context.Context, frame []byte) bool {
	select {
	case in.frames <- frame:
		return true
	case <-in.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// fail records the terminal receive error. Only the first error is kept.
func (in *inbox) fail(err error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.err == nil {
		in.err = err
		close(in.failed)
	}
}

// reset clears a recorded failure so a reconnected stream can continue
func (in *inbox) reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.err != nil {
		in.err = nil
		in.failed = make(chan struct{})
	}
}

func (in *inbox) failure() (chan struct{}, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.failed, in.err
}

func (in *inbox) close() {
	in.closeOnce.Do(func() { close(in.closed) })
}

func (in *inbox) isClosed() bool {
	select {
	case <-in.closed:
		return true
	default:
		return false
	}
}

func (in *inbox) receive(ctx context.Context) ([]byte, error) {
	if in.isClosed() {
		return nil, ErrClosed
	}

	select {
	case frame := <-in.frames:
		return frame, nil
	default:
	}

	failed, _ := in.failure()
	select {
	case frame := <-in.frames:
		return frame, nil
	case <-failed:
		select {
		case frame := <-in.frames:
			return frame, nil
		default:
		}
		_, err := in.failure()
		if err == nil {
			// reset raced with us; the stream was restarted
			return in.receive(ctx)
		}
		return nil, err
	case <-in.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

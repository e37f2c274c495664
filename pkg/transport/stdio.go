package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
)

// Stdio implements Transport over newline-delimited frames on a reader and
// writer pair. This is the transport the MCP specification recommends for
// command-line tools, where client and server are connected via pipes.
type Stdio struct {
	reader    io.Reader
	rawWriter *bufio.Writer // Internal buffered writer
	mutex     sync.Mutex    // Protects rawWriter
	cmd       *exec.Cmd
	stdin     io.Closer

	in        *inbox
	logger    logging.Logger
	maxFrame  int
	readDone  chan struct{}
	closeOnce sync.Once
}

// NewStdio creates a stdio transport from config. It uses cfg.StdioReader
// and cfg.StdioWriter when set, spawns cfg.Command when given, and falls
// back to os.Stdin/os.Stdout otherwise.
func NewStdio(cfg Config) (*Stdio, error) {
	cfg = cfg.withDefaults()
	t := &Stdio{
		reader:   cfg.StdioReader,
		in:       newInbox(cfg.QueueSize),
		logger:   transportLogger(cfg),
		maxFrame: cfg.MaxFrameSize,
		readDone: make(chan struct{}),
	}
	writer := cfg.StdioWriter

	if len(cfg.Command) > 0 {
		cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
		cmd.Stderr = os.Stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, mcperrors.ConnectionFailed("stdio", cfg.Command[0], err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, mcperrors.ConnectionFailed("stdio", cfg.Command[0], err)
		}
		if err := cmd.Start(); err != nil {
			return nil, mcperrors.ConnectionFailed("stdio", cfg.Command[0], err)
		}

		t.cmd, t.stdin = cmd, stdin
		t.reader, writer = stdout, stdin
		t.logger.Debug("Started subprocess", logging.String("command", cfg.Command[0]), logging.Int("pid", cmd.Process.Pid))
	}

	if t.reader == nil {
		t.reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	t.rawWriter = bufio.NewWriter(writer)

	go t.readLoop()
	return t, nil
}

func (t *Stdio) readLoop() {
	defer close(t.readDone)

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 0, min(64*1024, t.maxFrame)), t.maxFrame)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		// Copy the line to avoid it being overwritten by the next Scan
		frame := make([]byte, len(line))
		copy(frame, line)

		if !t.in.push(context.Background(), frame) {
			return
		}
	}

	if t.in.isClosed() {
		return
	}
	if err := scanner.Err(); err != nil {
		t.logger.Warn("Stdio read failed", logging.ErrorField(err))
		t.in.fail(mcperrors.TransportError("stdio", "receive", err))
		return
	}
	t.in.fail(io.EOF)
}

// Send writes a frame followed by a newline and flushes
func (t *Stdio) Send(ctx context.Context, frame []byte) error {
	if t.in.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Acquire a lock to prevent concurrent writes
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, err := t.rawWriter.Write(frame); err != nil {
		return mcperrors.TransportError("stdio", "send", err)
	}
	if err := t.rawWriter.WriteByte('\n'); err != nil {
		return mcperrors.TransportError("stdio", "send", err)
	}
	if err := t.rawWriter.Flush(); err != nil {
		return mcperrors.TransportError("stdio", "send", err)
	}
	return nil
}

// Receive returns the next line read from the reader
func (t *Stdio) Receive(ctx context.Context) ([]byte, error) {
	return t.in.receive(ctx)
}

// Close stops the transport. A spawned subprocess gets its stdin closed
// and is killed if it has not exited shortly after.
func (t *Stdio) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.in.close()

		t.mutex.Lock()
		if flushErr := t.rawWriter.Flush(); flushErr != nil && !errors.Is(flushErr, os.ErrClosed) {
			err = mcperrors.TransportError("stdio", "close", flushErr)
		}
		t.mutex.Unlock()

		if t.cmd != nil {
			_ = t.stdin.Close()
			t.waitProcess()
			return
		}

		// Close the reader to unblock scanner.Scan()
		if closer, ok := t.reader.(io.Closer); ok && t.reader != os.Stdin {
			_ = closer.Close()
		}
	})
	return err
}

func (t *Stdio) waitProcess() {
	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			t.logger.Debug("Subprocess exited", logging.ErrorField(err))
		}
	case <-time.After(2 * time.Second):
		_ = t.cmd.Process.Kill()
		<-done
		t.logger.Warn("Subprocess killed", logging.String("reason", fmt.Sprintf("no exit within %s", 2*time.Second)))
	}
}

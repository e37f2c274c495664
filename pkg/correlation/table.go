// Package correlation matches incoming responses to the callers waiting
// for them.
//
// A Table owns every outstanding request from registration until exactly
// one of response, error, cancellation or timeout resolves it. Resolution
// removes the entry under the table lock, so duplicate or late frames for
// an id that is already resolved are ignored.
package correlation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
	"github.com/hwiorn/mcp-sdk-go/pkg/protocol"
)

// Config holds correlation table settings
type Config struct {
	// SweepInterval is how often expired entries are failed; 0 disables
	// the background sweeper
	SweepInterval time.Duration `json:"sweepInterval"`
}

// DefaultConfig returns the default correlation settings
func DefaultConfig() Config {
	return Config{SweepInterval: time.Second}
}

// Outcome is how a pending request was resolved
type Outcome struct {
	// Response is set when a frame resolved the request, including error
	// responses
	Response *protocol.Response

	// Err is set for every failed outcome
	Err error
}

// Pending describes an outstanding request
type Pending struct {
	ID        protocol.ID
	Method    string
	ConnID    string
	CreatedAt time.Time
	Deadline  time.Time
}

type entry struct {
	Pending
	done chan Outcome
}

// Table is the correlation table. It is safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	pending map[protocol.ID]*entry
	nextID  atomic.Int64

	logger logging.Logger
	now    func() time.Time

	sweepInterval time.Duration
	stop          chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
	closed        bool
}

// Option configures a Table
type Option func(*Table)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(t *Table) {
		t.logger = logging.OrNop(logger).WithFields(logging.Component("correlation"))
	}
}

// WithClock overrides the time source (tests)
func WithClock(now func() time.Time) Option {
	return func(t *Table) {
		t.now = now
	}
}

// New creates a table and starts its sweeper
func New(cfg Config, opts ...Option) *Table {
	t := &Table{
		pending:       make(map[protocol.ID]*entry),
		logger:        logging.Nop(),
		now:           time.Now,
		sweepInterval: cfg.SweepInterval,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.sweepInterval > 0 {
		t.wg.Add(1)
		go t.sweeper()
	}
	return t
}

// NextID returns a fresh request id. Ids are numeric and increase
// monotonically for the lifetime of the table.
func (t *Table) NextID() protocol.ID {
	return protocol.NewNumberID(t.nextID.Add(1))
}

// Register adds a pending request. A zero deadline never expires.
func (t *Table) Register(id protocol.ID, method, connID string, deadline time.Time) (*Waiter, error) {
	if !id.IsValid() {
		return nil, fmt.Errorf("correlation: invalid request id")
	}

	e := &entry{
		Pending: Pending{
			ID:        id,
			Method:    method,
			ConnID:    connID,
			CreatedAt: t.now(),
			Deadline:  deadline,
		},
		done: make(chan Outcome, 1),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, mcperrors.SessionClosed(method)
	}
	if _, exists := t.pending[id]; exists {
		return nil, fmt.Errorf("correlation: request id %s already pending", id)
	}
	t.pending[id] = e

	return &Waiter{table: t, entry: e}, nil
}

// complete removes the entry and delivers the outcome. It reports false if
// the id was unknown or already resolved.
func (t *Table) complete(id protocol.ID, outcome Outcome) bool {
	t.mu.Lock()
	e, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	e.done <- outcome
	return true
}

// Resolve delivers a response frame to its waiter. Error responses resolve
// the waiter with the peer's error.
func (t *Table) Resolve(resp *protocol.Response) bool {
	outcome := Outcome{Response: resp}
	if resp.Error != nil {
		outcome.Err = mcperrors.FromJSONRPCError(resp.Error)
	}

	if !t.complete(resp.ID, outcome) {
		t.logger.Debug("Dropping response for unknown request", logging.Stringer("id", resp.ID))
		return false
	}
	return true
}

// Fail resolves a pending request with err
func (t *Table) Fail(id protocol.ID, err error) bool {
	return t.complete(id, Outcome{Err: err})
}

// Cancel resolves a pending request as cancelled
func (t *Table) Cancel(id protocol.ID, cause error) bool {
	method := t.method(id)
	return t.complete(id, Outcome{Err: mcperrors.Cancelled(method, cause)})
}

func (t *Table) method(id protocol.ID) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.pending[id]; ok {
		return e.Method
	}
	return ""
}

// FailConnection fails every request registered on connID with err and
// returns how many were failed.
func (t *Table) FailConnection(connID string, err error) int {
	t.mu.Lock()
	var failed []*entry
	for id, e := range t.pending {
		if e.ConnID == connID {
			delete(t.pending, id)
			failed = append(failed, e)
		}
	}
	t.mu.Unlock()

	for _, e := range failed {
		e.done <- Outcome{Err: err}
	}
	if len(failed) > 0 {
		t.logger.Warn("Failed pending requests of connection",
			logging.String("conn_id", connID),
			logging.Int("count", len(failed)),
			logging.ErrorField(err),
		)
	}
	return len(failed)
}

// Sweep fails every entry whose deadline has passed and returns how many
func (t *Table) Sweep() int {
	now := t.now()

	t.mu.Lock()
	var expired []*entry
	for id, e := range t.pending {
		if !e.Deadline.IsZero() && !now.Before(e.Deadline) {
			delete(t.pending, id)
			expired = append(expired, e)
		}
	}
	t.mu.Unlock()

	for _, e := range expired {
		e.done <- Outcome{Err: mcperrors.Timeout(e.Method, context.DeadlineExceeded)}
	}
	if len(expired) > 0 {
		t.logger.Debug("Swept expired requests", logging.Int("count", len(expired)))
	}
	return len(expired)
}

func (t *Table) sweeper() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Sweep()
		case <-t.stop:
			return
		}
	}
}

// Len returns the number of outstanding requests
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Snapshot lists the outstanding requests
func (t *Table) Snapshot() []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Pending, 0, len(t.pending))
	for _, e := range t.pending {
		out = append(out, e.Pending)
	}
	return out
}

// Close stops the sweeper and fails every outstanding request with err.
// Register fails after Close.
func (t *Table) Close(err error) {
	t.closeOnce.Do(func() {
		close(t.stop)
		t.wg.Wait()

		t.mu.Lock()
		t.closed = true
		pending := t.pending
		t.pending = make(map[protocol.ID]*entry)
		t.mu.Unlock()

		for _, e := range pending {
			e.done <- Outcome{Err: err}
		}
	})
}

// Waiter is the caller's handle on a pending request
type Waiter struct {
	table *Table
	entry *entry
}

// ID returns the request id
func (w *Waiter) ID() protocol.ID {
	return w.entry.ID
}

// Done is signalled with the outcome once the request resolves
func (w *Waiter) Done() <-chan Outcome {
	return w.entry.done
}

// Wait blocks until the request resolves, its deadline passes, or ctx is
// done. Whichever happens first resolves the entry; a response arriving
// afterwards is dropped by the table.
func (w *Waiter) Wait(ctx context.Context) (*protocol.Response, error) {
	var expired <-chan time.Time
	if !w.entry.Deadline.IsZero() {
		timer := time.NewTimer(w.entry.Deadline.Sub(w.table.now()))
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case o := <-w.entry.done:
		return o.Response, o.Err
	case <-expired:
		w.table.complete(w.entry.ID, Outcome{Err: mcperrors.Timeout(w.entry.Method, context.DeadlineExceeded)})
	case <-ctx.Done():
		w.table.complete(w.entry.ID, Outcome{Err: mcperrors.FromContext(ctx, w.entry.Method)})
	}

	// Either we resolved it above or a racing resolution already did
	o := <-w.entry.done
	return o.Response, o.Err
}

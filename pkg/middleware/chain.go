// Package middleware implements the ordered interceptor chain that wraps
// every outgoing attempt and every response to it.
//
// A chain is a priority-ordered list of entries, each tagged with the
// capability it provides. Entries run in ascending priority on the way out
// and again on the way in; any of them may short-circuit by returning an
// error. The chain runs once per attempt, after the pool has selected the
// connection, so middleware can see which connection an attempt uses.
//
// Basic usage:
//
//	chain := middleware.NewChain(
//		middleware.Entry{Priority: 10, Capability: middleware.CapabilityLogging, Middleware: middleware.Logging(logger)},
//		middleware.Entry{Priority: 20, Capability: middleware.CapabilityCircuitBreak, Middleware: middleware.CircuitBreak(detector)},
//	)
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hwiorn/mcp-sdk-go/pkg/auth"
	"github.com/hwiorn/mcp-sdk-go/pkg/protocol"
	"github.com/hwiorn/mcp-sdk-go/pkg/resilience"
)

// Capability tags what an entry does
type Capability string

const (
	CapabilityLogging      Capability = "logging"
	CapabilityAuth         Capability = "auth"
	CapabilityRateLimit    Capability = "rate_limit"
	CapabilityCompression  Capability = "compression"
	CapabilityMetrics      Capability = "metrics"
	CapabilityCircuitBreak Capability = "circuit_break"
)

// Request is the outgoing view of one attempt. Middleware may rewrite
// Params and Auth.
type Request struct {
	Method string

	// ID is the wire id of this attempt; invalid for notifications
	ID protocol.ID

	Params json.RawMessage

	// Attempt counts from 1
	Attempt int

	// Conn is the connection selected for this attempt
	Conn resilience.Endpoint

	Auth *auth.AuthContext
}

// Notification reports whether the request expects no response
func (r *Request) Notification() bool {
	return !r.ID.IsValid()
}

// Response is the incoming view of one attempt. Err is set when the attempt
// failed, including failures raised by the outgoing chain.
type Response struct {
	Result  json.RawMessage
	Err     error
	Latency time.Duration
}

// Middleware intercepts attempts
type Middleware interface {
	// Outgoing runs before the frame is sent. It returns the context to
	// continue with, or an error to short-circuit the attempt.
	Outgoing(ctx context.Context, req *Request) (context.Context, error)

	// Incoming runs on the outcome of the attempt. It may rewrite the
	// response; returning an error replaces resp.Err.
	Incoming(ctx context.Context, req *Request, resp *Response) error
}

// FrameObserver is implemented by middleware that also wants to see frames
// the peer initiates (requests and notifications)
type FrameObserver interface {
	Observe(ctx context.Context, connID string, msg protocol.Message)
}

// Funcs adapts plain functions to Middleware. Nil fields pass through.
type Funcs struct {
	OutgoingFunc func(ctx context.Context, req *Request) (context.Context, error)
	IncomingFunc func(ctx context.Context, req *Request, resp *Response) error
}

// Outgoing implements Middleware
func (f Funcs) Outgoing(ctx context.Context, req *Request) (context.Context, error) {
	if f.OutgoingFunc == nil {
		return ctx, nil
	}
	return f.OutgoingFunc(ctx, req)
}

// Incoming implements Middleware
func (f Funcs) Incoming(ctx context.Context, req *Request, resp *Response) error {
	if f.IncomingFunc == nil {
		return nil
	}
	return f.IncomingFunc(ctx, req, resp)
}

// Entry is one link of the chain
type Entry struct {
	// Name identifies the entry for removal; defaults to the capability
	Name       string
	Priority   int
	Capability Capability
	Middleware Middleware
}

func (e Entry) name() string {
	if e.Name != "" {
		return e.Name
	}
	return string(e.Capability)
}

// Chain is an ordered set of entries. Reads are lock-free; Add and Remove
// install a new ordered copy, so attempts already running keep the chain
// they started with.
type Chain struct {
	mu      sync.Mutex // serializes writers
	entries atomic.Pointer[[]Entry]
}

// NewChain creates a chain from entries
func NewChain(entries ...Entry) (*Chain, error) {
	c := &Chain{}
	c.entries.Store(&[]Entry{})
	for _, e := range entries {
		if err := c.Add(e); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add inserts an entry. Entries with equal priority keep insertion order.
func (c *Chain) Add(e Entry) error {
	if e.Middleware == nil {
		return fmt.Errorf("middleware: entry %q has no middleware", e.name())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current := *c.entries.Load()
	for _, existing := range current {
		if existing.name() == e.name() {
			return fmt.Errorf("middleware: duplicate entry %q", e.name())
		}
	}

	next := make([]Entry, len(current), len(current)+1)
	copy(next, current)
	next = append(next, e)
	sort.SliceStable(next, func(i, j int) bool { return next[i].Priority < next[j].Priority })

	c.entries.Store(&next)
	return nil
}

// Remove deletes the entry with the given name and reports whether it existed
func (c *Chain) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := *c.entries.Load()
	next := make([]Entry, 0, len(current))
	for _, e := range current {
		if e.name() != name {
			next = append(next, e)
		}
	}
	if len(next) == len(current) {
		return false
	}
	c.entries.Store(&next)
	return true
}

// Entries returns the entries in execution order
func (c *Chain) Entries() []Entry {
	return append([]Entry(nil), *c.entries.Load()...)
}

// Outgoing runs the outgoing side of every entry in ascending priority and
// stops at the first error
func (c *Chain) Outgoing(ctx context.Context, req *Request) (context.Context, error) {
	for _, e := range *c.entries.Load() {
		next, err := e.Middleware.Outgoing(ctx, req)
		if err != nil {
			return ctx, err
		}
		if next != nil {
			ctx = next
		}
	}
	return ctx, nil
}

// Incoming runs the incoming side of every entry in ascending priority.
// An entry returning an error replaces resp.Err and stops the chain.
func (c *Chain) Incoming(ctx context.Context, req *Request, resp *Response) error {
	for _, e := range *c.entries.Load() {
		if err := e.Middleware.Incoming(ctx, req, resp); err != nil {
			resp.Err = err
			return err
		}
	}
	return resp.Err
}

// Observe passes a peer-initiated frame to every FrameObserver entry
func (c *Chain) Observe(ctx context.Context, connID string, msg protocol.Message) {
	for _, e := range *c.entries.Load() {
		if o, ok := e.Middleware.(FrameObserver); ok {
			o.Observe(ctx, connID, msg)
		}
	}
}

// DefaultPriority returns the priority a capability gets when none is
// configured
func DefaultPriority(c Capability) int {
	switch c {
	case CapabilityMetrics:
		return 10
	case CapabilityLogging:
		return 20
	case CapabilityCircuitBreak:
		return 30
	case CapabilityRateLimit:
		return 40
	case CapabilityAuth:
		return 50
	case CapabilityCompression:
		return 60
	default:
		return 100
	}
}

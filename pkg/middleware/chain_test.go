package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwiorn/mcp-sdk-go/pkg/protocol"
)

type ctxKey string

func tracer(name string, log *[]string) Middleware {
	return Funcs{
		OutgoingFunc: func(ctx context.Context, req *Request) (context.Context, error) {
			*log = append(*log, "out:"+name)
			return context.WithValue(ctx, ctxKey(name), true), nil
		},
		IncomingFunc: func(ctx context.Context, req *Request, resp *Response) error {
			*log = append(*log, "in:"+name)
			return nil
		},
	}
}

func TestChainOrdersByPriority(t *testing.T) {
	var log []string
	chain, err := NewChain(
		Entry{Name: "c", Priority: 30, Middleware: tracer("c", &log)},
		Entry{Name: "a", Priority: 10, Middleware: tracer("a", &log)},
		Entry{Name: "b", Priority: 20, Middleware: tracer("b", &log)},
		Entry{Name: "b2", Priority: 20, Middleware: tracer("b2", &log)},
	)
	require.NoError(t, err)

	req := &Request{Method: "ping", ID: protocol.NewNumberID(1), Attempt: 1}
	ctx, err := chain.Outgoing(context.Background(), req)
	require.NoError(t, err)
	for _, name := range []string{"a", "b", "b2", "c"} {
		assert.Equal(t, true, ctx.Value(ctxKey(name)), "context from %s is threaded through", name)
	}

	require.NoError(t, chain.Incoming(ctx, req, &Response{}))
	assert.Equal(t, []string{
		"out:a", "out:b", "out:b2", "out:c",
		"in:a", "in:b", "in:b2", "in:c",
	}, log)
}

func TestChainShortCircuits(t *testing.T) {
	var log []string
	stop := errors.New("stop")
	chain, err := NewChain(
		Entry{Name: "a", Priority: 1, Middleware: tracer("a", &log)},
		Entry{Name: "gate", Priority: 2, Middleware: Funcs{
			OutgoingFunc: func(ctx context.Context, req *Request) (context.Context, error) { return ctx, stop },
			IncomingFunc: func(ctx context.Context, req *Request, resp *Response) error { return stop },
		}},
		Entry{Name: "c", Priority: 3, Middleware: tracer("c", &log)},
	)
	require.NoError(t, err)

	req := &Request{Method: "ping"}
	_, err = chain.Outgoing(context.Background(), req)
	assert.ErrorIs(t, err, stop)

	resp := &Response{}
	err = chain.Incoming(context.Background(), req, resp)
	assert.ErrorIs(t, err, stop)
	assert.ErrorIs(t, resp.Err, stop)
	assert.Equal(t, []string{"out:a", "in:a"}, log)
}

func TestChainIncomingReturnsResponseError(t *testing.T) {
	chain, err := NewChain()
	require.NoError(t, err)

	failed := errors.New("failed")
	assert.ErrorIs(t, chain.Incoming(context.Background(), &Request{}, &Response{Err: failed}), failed)
}

func TestChainAddRemove(t *testing.T) {
	chain, err := NewChain(Entry{Capability: CapabilityLogging, Priority: 1, Middleware: Funcs{}})
	require.NoError(t, err)

	assert.Error(t, chain.Add(Entry{Capability: CapabilityLogging, Middleware: Funcs{}}), "duplicate name")
	assert.Error(t, chain.Add(Entry{Name: "empty"}), "missing middleware")

	require.NoError(t, chain.Add(Entry{Capability: CapabilityMetrics, Priority: 0, Middleware: Funcs{}}))
	entries := chain.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, CapabilityMetrics, entries[0].Capability)

	assert.True(t, chain.Remove("logging"))
	assert.False(t, chain.Remove("logging"))
	assert.Len(t, chain.Entries(), 1)
}

func TestChainSnapshotIsolation(t *testing.T) {
	chain, err := NewChain(Entry{Name: "a", Middleware: Funcs{}})
	require.NoError(t, err)

	before := chain.Entries()
	require.NoError(t, chain.Add(Entry{Name: "b", Middleware: Funcs{}}))
	assert.Len(t, before, 1)
	assert.Len(t, chain.Entries(), 2)
}

func TestChainConcurrentUse(t *testing.T) {
	chain, err := NewChain()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = chain.Add(Entry{Name: string(rune('a' + i)), Priority: i, Middleware: Funcs{}})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = chain.Outgoing(context.Background(), &Request{Method: "ping"})
		}()
	}
	wg.Wait()

	entries := chain.Entries()
	require.Len(t, entries, 20)
	for i := 1; i < len(entries); i++ {
		assert.LessOrEqual(t, entries[i-1].Priority, entries[i].Priority)
	}
}

func TestDefaultPriority(t *testing.T) {
	assert.Less(t, DefaultPriority(CapabilityMetrics), DefaultPriority(CapabilityCircuitBreak))
	assert.Less(t, DefaultPriority(CapabilityCircuitBreak), DefaultPriority(CapabilityCompression))
	assert.Equal(t, 100, DefaultPriority("custom"))
}

package mcp

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwiorn/mcp-sdk-go/pkg/config"
	"github.com/hwiorn/mcp-sdk-go/pkg/protocol"
	"github.com/hwiorn/mcp-sdk-go/pkg/session"
	"github.com/hwiorn/mcp-sdk-go/pkg/transport"
)

// stdioServer starts a serving session on one end of a pair of pipes and
// returns the transport config for the other end
func stdioServer(t *testing.T) transport.Config {
	t.Helper()
	toServerR, toServerW := io.Pipe()
	toClientR, toClientW := io.Pipe()

	st, err := transport.NewStdio(transport.Config{Type: transport.TypeStdio, StdioReader: toServerR, StdioWriter: toClientW})
	require.NoError(t, err)

	mux := session.NewMux()
	mux.Handle(protocol.MethodInitialize, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return protocol.InitializeResult{
			ProtocolVersion: protocol.ProtocolRevision,
			ServerInfo:      protocol.Implementation{Name: "pipe-server", Version: "1.0.0"},
		}, nil
	})
	mux.Handle("tools/list", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return map[string]interface{}{"tools": []string{"search"}}, nil
	})

	server, err := session.New(session.DefaultConfig(), session.WithoutHandshake(), session.WithDispatcher(mux))
	require.NoError(t, err)
	_, err = server.AddTransport(st)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = server.Close()
		_ = toServerW.Close()
		_ = toClientR.Close()
	})

	return transport.Config{Type: transport.TypeStdio, StdioReader: toClientR, StdioWriter: toServerW}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ClientInfo.Name = "connect-test"
	cfg.Session.ProbeInterval = 0
	cfg.Logging.Level = "error"
	return &cfg
}

func TestConnect(t *testing.T) {
	cfg := testConfig()
	cfg.Connections = []config.ConnectionConfig{
		{ID: "down", Transport: transport.Config{Type: transport.TypeWebSocket, Endpoint: "ws://127.0.0.1:1/mcp"}},
		{ID: "pipe", Weight: 2, Transport: stdioServer(t)},
	}

	client, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	assert.True(t, client.Initialized())
	assert.Equal(t, "pipe-server", client.ServerInfo().ServerInfo.Name)
	require.Len(t, client.Connections(), 1)
	assert.Equal(t, "pipe", client.Connections()[0].ID())
	assert.Equal(t, 2, client.Connections()[0].Weight())

	var out struct {
		Tools []string `json:"tools"`
	}
	require.NoError(t, client.RequestInto(context.Background(), "tools/list", nil, &out))
	assert.Equal(t, []string{"search"}, out.Tools)

	assert.NotNil(t, client.Observability().Logger)
	assert.NoError(t, client.Close())
}

func TestConnect_Failures(t *testing.T) {
	tests := []struct {
		name        string
		connections []config.ConnectionConfig
	}{
		{name: "no connections"},
		{
			name: "all dials fail",
			connections: []config.ConnectionConfig{
				{Transport: transport.Config{Type: transport.TypeWebSocket, Endpoint: "ws://127.0.0.1:1/mcp"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Connections = tt.connections
			_, err := Connect(context.Background(), cfg)
			assert.Error(t, err)
		})
	}

	cfg := testConfig()
	cfg.Retry.MaxAttempts = 0
	_, err := Connect(context.Background(), cfg)
	assert.Error(t, err, "invalid configuration")
}

package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseEchoServer announces /messages as the POST endpoint and echoes every
// posted frame back as a message event.
func sseEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	posted := make(chan string, 8)

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: endpoint\ndata: /messages?session=abc\n\n")
		flusher.Flush()

		for {
			select {
			case body := <-posted:
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", body)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("session"))
		body, _ := io.ReadAll(r.Body)
		posted <- string(body)
		w.WriteHeader(http.StatusAccepted)
	})
	return httptest.NewServer(mux)
}

func TestSSERoundTrip(t *testing.T) {
	ts := sseEchoServer(t)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := DefaultConfig(TypeSSE)
	cfg.Endpoint = ts.URL + "/sse"
	tr, err := Dial(ctx, cfg)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Send(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))
	frame, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, string(frame))
}

func TestSSERejectsNonEventStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "{}")
	}))
	defer ts.Close()

	cfg := DefaultConfig(TypeSSE)
	cfg.Endpoint = ts.URL
	_, err := DialSSE(context.Background(), cfg)
	assert.Error(t, err)
}

func TestReadEvents(t *testing.T) {
	input := "id: 1\nevent: message\ndata: line one\ndata: line two\n\n" +
		": comment\n\n" +
		"retry: 1000\ndata: second\n\n" +
		"data: incomplete"

	var events []event
	err := readEvents(strings.NewReader(input), 1024, func(ev event) error {
		events = append(events, ev)
		return nil
	})
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 2)
	assert.Equal(t, event{ID: "1", Type: "message", Data: "line one\nline two"}, events[0])
	assert.Equal(t, event{Retry: "1000", Data: "second"}, events[1])
}

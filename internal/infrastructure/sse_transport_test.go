package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcp-client/internal/domain"
)

// fakeSSEServer is a minimal MCP-style SSE endpoint: the GET stream opens
// with an endpoint event, POSTs are recorded, and responses are pushed as
// frames on the stream.
type fakeSSEServer struct {
	frames     chan string
	postStatus int
	inlineBody string // when set, POST answers with this event-stream body

	mu      sync.Mutex
	posts   []*domain.Message
	deletes atomic.Int32

	server *httptest.Server
}

func newFakeSSEServer() *fakeSSEServer {
	s := &fakeSSEServer{
		frames:     make(chan string, 16),
		postStatus: http.StatusAccepted,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleStream)
	mux.HandleFunc("/messages", s.handleMessage)
	s.server = httptest.NewServer(mux)
	return s
}

func (s *fakeSSEServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)

	fmt.Fprint(w, "event: endpoint\ndata: /messages\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-s.frames:
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
	}
}

func (s *fakeSSEServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodDelete:
		s.deletes.Add(1)
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, _ := io.ReadAll(r.Body)
	var msg domain.Message
	if err := json.Unmarshal(body, &msg); err == nil {
		s.mu.Lock()
		s.posts = append(s.posts, &msg)
		s.mu.Unlock()
	}

	if s.postStatus != http.StatusAccepted && s.postStatus != http.StatusOK {
		w.WriteHeader(s.postStatus)
		return
	}

	if s.inlineBody != "" {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, s.inlineBody)
		return
	}

	// Echo a success response for requests onto the stream.
	if msg.IsRequest() {
		s.frames <- fmt.Sprintf("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":%d,\"result\":{}}\n\n", *msg.ID)
	}
	w.WriteHeader(s.postStatus)
}

func (s *fakeSSEServer) postedMessages() []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Message(nil), s.posts...)
}

// startSSETransport connects a transport to the fake server.
func startSSETransport(t *testing.T, s *fakeSSEServer, terminateOnClose bool) *SSETransport {
	t.Helper()
	transport := NewSSETransport(domain.SSEConfig{
		ServerURL:             s.server.URL + "/events",
		Timeout:               domain.Duration(5 * time.Second),
		SSEReadTimeout:        domain.Duration(30 * time.Second),
		MaxConcurrentRequests: 4,
		TerminateOnClose:      &terminateOnClose,
	}, nil)
	require.NoError(t, transport.Start(context.Background()))
	t.Cleanup(func() { _ = transport.Close() })
	return transport
}

// TestSSETransportRequestResponse verifies the full outbound POST and
// inbound stream cycle.
func TestSSETransportRequestResponse(t *testing.T) {
	s := newFakeSSEServer()
	defer s.server.Close()

	transport := startSSETransport(t, s, false)

	require.NoError(t, transport.Send(context.Background(), domain.NewRequest(1, "tools/list", json.RawMessage(`{}`))))

	select {
	case msg := <-transport.Messages():
		require.NotNil(t, msg.ID)
		require.Equal(t, int64(1), *msg.ID)
		require.True(t, msg.IsResponse())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for response")
	}

	posted := s.postedMessages()
	require.Len(t, posted, 1)
	require.Equal(t, "tools/list", posted[0].Method)
}

// TestSSETransportSessionID verifies a session id is minted and attached to
// the stream URL.
func TestSSETransportSessionID(t *testing.T) {
	var gotSessionID string
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		gotSessionID = r.URL.Query().Get("session_id")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: endpoint\ndata: /messages\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	transport := NewSSETransport(domain.SSEConfig{
		ServerURL:      server.URL + "/events",
		Timeout:        domain.Duration(5 * time.Second),
		SSEReadTimeout: domain.Duration(30 * time.Second),
	}, nil)
	require.NoError(t, transport.Start(context.Background()))
	defer transport.Close()

	require.NotEmpty(t, gotSessionID)
}

// TestSSETransportStatusMapping verifies the POST status → error taxonomy
// mapping.
func TestSSETransportStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "401 is auth required",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				var authErr *domain.AuthRequiredError
				require.ErrorAs(t, err, &authErr)
			},
		},
		{
			name:   "404 is session terminated",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				var termErr *domain.SessionTerminatedError
				require.ErrorAs(t, err, &termErr)
			},
		},
		{
			name:   "500 is a transport error",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				var transportErr *domain.TransportError
				require.ErrorAs(t, err, &transportErr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeSSEServer()
			defer s.server.Close()
			s.postStatus = tt.status

			transport := startSSETransport(t, s, false)
			err := transport.Send(context.Background(), domain.NewRequest(1, "ping", nil))
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

// TestSSETransportInlineStreamResponse verifies a text/event-stream POST
// body is parsed and its messages injected.
func TestSSETransportInlineStreamResponse(t *testing.T) {
	s := newFakeSSEServer()
	defer s.server.Close()
	s.inlineBody = "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":3,\"result\":{\"inline\":true}}\n\n"

	transport := startSSETransport(t, s, false)

	require.NoError(t, transport.Send(context.Background(), domain.NewRequest(3, "tools/list", nil)))

	select {
	case msg := <-transport.Messages():
		require.NotNil(t, msg.ID)
		require.Equal(t, int64(3), *msg.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inline response")
	}
}

// TestSSETransportTerminateOnClose verifies close issues a DELETE when
// configured.
func TestSSETransportTerminateOnClose(t *testing.T) {
	s := newFakeSSEServer()
	defer s.server.Close()

	transport := startSSETransport(t, s, true)
	require.NoError(t, transport.Close())
	require.Equal(t, int32(1), s.deletes.Load())

	s2 := newFakeSSEServer()
	defer s2.server.Close()

	transport2 := startSSETransport(t, s2, false)
	require.NoError(t, transport2.Close())
	require.Equal(t, int32(0), s2.deletes.Load())
}

// TestSSETransportStartRejectsBadStatus verifies a non-200 stream response
// fails the connect.
func TestSSETransportStartRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	transport := NewSSETransport(domain.SSEConfig{
		ServerURL:      server.URL,
		Timeout:        domain.Duration(time.Second),
		SSEReadTimeout: domain.Duration(time.Second),
	}, nil)
	err := transport.Start(context.Background())
	require.Error(t, err)

	var transportErr *domain.TransportError
	require.ErrorAs(t, err, &transportErr)
}

// TestSSETransportBearerToken verifies the token source is consulted for
// POSTs.
func TestSSETransportBearerToken(t *testing.T) {
	var gotAuth atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: endpoint\ndata: /messages\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	transport := NewSSETransport(domain.SSEConfig{
		ServerURL:        server.URL + "/events",
		Timeout:          domain.Duration(5 * time.Second),
		SSEReadTimeout:   domain.Duration(30 * time.Second),
		OAuthTokenSource: domain.NewStaticTokenSource("secret-token"),
	}, nil)
	require.NoError(t, transport.Start(context.Background()))
	defer transport.Close()

	require.NoError(t, transport.Send(context.Background(), domain.NewRequest(1, "ping", nil)))
	require.Equal(t, "Bearer secret-token", gotAuth.Load())
}

package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"mcp-client/internal/domain"
)

// endpointDiscoveryTimeout bounds how long Start waits for the server's
// endpoint event before giving up on the connection.
const endpointDiscoveryTimeout = 10 * time.Second

// sessionIDHeader carries the session id on every POST and DELETE.
const sessionIDHeader = "Mcp-Session-Id"

// SSETransport implements domain.Transport over two HTTP channels: a
// persistent GET whose body is a Server-Sent-Events stream (inbound) and
// POSTs to a message endpoint discovered from that stream (outbound).
type SSETransport struct {
	config      domain.SSEConfig
	logger      *zap.Logger
	httpClient  *http.Client
	postTimeout time.Duration
	readTimeout time.Duration

	sessionID string
	streamURL *url.URL

	// endpoint is the discovered POST target; endpointCh closes once it
	// is known.
	endpointMu sync.Mutex
	endpoint   *url.URL
	endpointCh chan struct{}

	// sem bounds concurrent POSTs. semaphore.Weighted hands out slots in
	// FIFO order, so waiters are served fairly.
	sem *semaphore.Weighted

	msgChan chan *domain.Message
	done    chan struct{}

	mu        sync.Mutex
	started   bool
	stream    *http.Response
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewSSETransport creates an SSE transport for the configured server URL.
// A nil logger disables logging.
func NewSSETransport(config domain.SSEConfig, logger *zap.Logger) *SSETransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxConcurrent := config.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = domain.DefaultMaxConcurrentRequests
	}
	postTimeout := config.Timeout.Duration()
	if postTimeout <= 0 {
		postTimeout = domain.DefaultSSETimeout
	}
	readTimeout := config.SSEReadTimeout.Duration()
	if readTimeout <= 0 {
		readTimeout = domain.DefaultSSEReadTimeout
	}
	return &SSETransport{
		config:      config,
		logger:      logger,
		postTimeout: postTimeout,
		readTimeout: readTimeout,
		// The GET stream stays open for the life of the session, so the
		// client itself carries no global timeout; POSTs are bounded
		// per-request.
		httpClient: &http.Client{},
		endpointCh: make(chan struct{}),
		sem:        semaphore.NewWeighted(maxConcurrent),
		msgChan:    make(chan *domain.Message, 16),
		done:       make(chan struct{}),
	}
}

// Start opens the event stream and waits for endpoint discovery.
func (t *SSETransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return &domain.ClientError{Reason: "transport already started"}
	}
	t.started = true
	t.mu.Unlock()

	streamURL, sessionID, err := streamURLFor(t.config.ServerURL)
	if err != nil {
		return &domain.TransportError{Op: "connect", Cause: err}
	}
	t.streamURL = streamURL
	t.sessionID = sessionID

	streamCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, streamURL.String(), nil)
	if err != nil {
		cancel()
		return &domain.TransportError{Op: "connect", Cause: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept-Encoding", "identity")
	t.applyUserHeaders(ctx, req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return &domain.TransportError{Op: "connect", Cause: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		cancel()
		return &domain.AuthRequiredError{Detail: "event stream rejected"}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return &domain.TransportError{Op: "connect", Cause: fmt.Errorf("event stream returned status %d", resp.StatusCode)}
	}

	t.mu.Lock()
	t.stream = resp
	t.mu.Unlock()

	t.logger.Info("sse stream opened",
		zap.String("url", streamURL.Redacted()),
		zap.String("session_id", sessionID))

	go t.readLoop(resp.Body)

	// The endpoint event must arrive before any message traffic; without
	// it there is nowhere to POST.
	select {
	case <-t.endpointCh:
		return nil
	case <-t.done:
		return domain.ErrTransportClosed
	case <-ctx.Done():
		t.Close()
		return &domain.TransportError{Op: "connect", Cause: ctx.Err()}
	case <-time.After(endpointDiscoveryTimeout):
		t.Close()
		return &domain.TransportError{Op: "connect", Cause: fmt.Errorf("no endpoint event within %s", endpointDiscoveryTimeout)}
	}
}

// streamURLFor parses the configured server URL and ensures it carries a
// session_id query parameter, minting one when absent.
func streamURLFor(serverURL string) (*url.URL, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	sessionID := q.Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
		q.Set("session_id", sessionID)
		u.RawQuery = q.Encode()
	}
	return u, sessionID, nil
}

// readLoop consumes the event stream, idles out after the configured read
// timeout, and closes the transport when the stream ends.
func (t *SSETransport) readLoop(body io.ReadCloser) {
	defer close(t.msgChan)
	defer t.Close()

	type chunk struct {
		data []byte
		err  error
	}
	chunks := make(chan chunk)
	go func() {
		defer close(chunks)
		for {
			buf := make([]byte, 4096)
			n, err := body.Read(buf)
			select {
			case chunks <- chunk{data: buf[:n], err: err}:
			case <-t.done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var parser SSEParser
	idle := time.NewTimer(t.readTimeout)
	defer idle.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-idle.C:
			t.logger.Warn("sse stream idle timeout", zap.Duration("timeout", t.readTimeout))
			return
		case c, ok := <-chunks:
			if !ok {
				return
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(t.readTimeout)

			for _, ev := range parser.Feed(c.data) {
				t.handleEvent(ev)
			}
			if c.err != nil {
				if c.err != io.EOF {
					t.logger.Warn("sse stream read failed", zap.Error(c.err))
				}
				return
			}
		}
	}
}

// handleEvent routes one parsed SSE event: the first endpoint event fixes
// the POST target, message and unlabeled events that decode as JSON-RPC are
// delivered, and events of any other type are ignored.
func (t *SSETransport) handleEvent(ev SSEEvent) {
	switch ev.Type {
	case "endpoint":
		t.setEndpoint(ev.Data)
	case "message", "":
		t.deliverData([]byte(ev.Data))
	default:
		t.logger.Debug("ignoring sse event", zap.String("type", ev.Type))
	}
}

// setEndpoint resolves and records the POST endpoint. Later endpoint events
// are ignored; the first one wins.
func (t *SSETransport) setEndpoint(data string) {
	t.endpointMu.Lock()
	defer t.endpointMu.Unlock()
	if t.endpoint != nil {
		return
	}

	resolved, err := resolveEndpoint(t.streamURL, data)
	if err != nil {
		t.logger.Warn("invalid endpoint event", zap.String("data", data), zap.Error(err))
		return
	}
	t.endpoint = resolved
	close(t.endpointCh)
	t.logger.Info("message endpoint discovered", zap.String("endpoint", resolved.Redacted()))
}

// resolveEndpoint turns the endpoint event payload into an absolute URL.
// Absolute payloads are taken as-is; paths inherit scheme, host, and port
// from the stream URL while keeping their own path and query.
func resolveEndpoint(streamURL *url.URL, data string) (*url.URL, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, fmt.Errorf("empty endpoint")
	}
	parsed, err := url.Parse(data)
	if err != nil {
		return nil, err
	}
	if parsed.IsAbs() {
		return parsed, nil
	}
	resolved := *streamURL
	resolved.Path = parsed.Path
	resolved.RawQuery = parsed.RawQuery
	return &resolved, nil
}

// deliverData parses one data payload as a JSON-RPC message and hands it to
// the inbound channel. Unparseable payloads are dropped.
func (t *SSETransport) deliverData(data []byte) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return
	}

	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.logger.Warn("dropping unparseable sse data", zap.Error(err))
		return
	}
	if msg.JSONRPC != domain.Version {
		t.logger.Debug("ignoring non-jsonrpc sse data")
		return
	}

	select {
	case t.msgChan <- &msg:
	case <-t.done:
	}
}

// Send POSTs one message to the discovered endpoint. Concurrency is bounded
// by the transport's semaphore; waiters are admitted in FIFO order.
func (t *SSETransport) Send(ctx context.Context, msg *domain.Message) error {
	t.endpointMu.Lock()
	endpoint := t.endpoint
	t.endpointMu.Unlock()
	if endpoint == nil {
		return &domain.TransportError{Op: "send", Cause: fmt.Errorf("message endpoint not discovered")}
	}

	if err := t.sem.Acquire(ctx, 1); err != nil {
		return &domain.TransportError{Op: "send", Cause: err}
	}
	defer t.sem.Release(1)

	select {
	case <-t.done:
		return domain.ErrTransportClosed
	default:
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return &domain.TransportError{Op: "send", Cause: err}
	}

	postCtx, cancel := context.WithTimeout(ctx, t.postTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(postCtx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return &domain.TransportError{Op: "send", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sessionIDHeader, t.sessionID)
	t.applyUserHeaders(ctx, req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: "send", Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		// Accepted. The RPC response normally arrives on the event
		// stream, but some servers answer the POST itself with a
		// one-shot stream.
		if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
			t.drainInlineStream(resp.Body)
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return &domain.AuthRequiredError{}
	case resp.StatusCode == http.StatusNotFound:
		return &domain.SessionTerminatedError{}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &domain.TransportError{Op: "send", Cause: fmt.Errorf("POST returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}
}

// drainInlineStream parses a text/event-stream POST response body and
// injects its messages as if they had arrived on the GET stream.
func (t *SSETransport) drainInlineStream(body io.Reader) {
	var parser SSEParser
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, ev := range parser.Feed(buf[:n]) {
				t.handleEvent(ev)
			}
		}
		if err != nil {
			return
		}
	}
}

// applyUserHeaders sets configured headers and the bearer token, when a
// token source is present.
func (t *SSETransport) applyUserHeaders(ctx context.Context, req *http.Request) {
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	if t.config.OAuthTokenSource != nil {
		token, err := t.config.OAuthTokenSource.Token(ctx)
		if err != nil {
			t.logger.Warn("token source failed", zap.Error(err))
			return
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// Messages returns the inbound message channel.
func (t *SSETransport) Messages() <-chan *domain.Message {
	return t.msgChan
}

// Done returns the close-future channel.
func (t *SSETransport) Done() <-chan struct{} {
	return t.done
}

// Close tears the stream down and, when configured, asks the server to
// terminate the session. Safe to call more than once.
func (t *SSETransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		cancel := t.cancel
		stream := t.stream
		t.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if stream != nil {
			_ = stream.Body.Close()
		}

		if t.config.TerminateOnClose == nil || *t.config.TerminateOnClose {
			t.terminateSession()
		}

		t.httpClient.CloseIdleConnections()
		t.logger.Info("sse transport closed")
	})
	return nil
}

// terminateSession issues a best-effort DELETE for the session. Servers
// that do not support termination answer 405; that and every other failure
// is only logged.
func (t *SSETransport) terminateSession() {
	t.endpointMu.Lock()
	endpoint := t.endpoint
	t.endpointMu.Unlock()
	if endpoint == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint.String(), nil)
	if err != nil {
		return
	}
	req.Header.Set(sessionIDHeader, t.sessionID)
	t.applyUserHeaders(ctx, req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Debug("session delete failed", zap.Error(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed {
		t.logger.Debug("server does not support session termination")
	}
}

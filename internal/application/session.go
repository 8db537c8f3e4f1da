package application

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcp-client/internal/domain"
)

// NotificationHandler processes one inbound notification's params.
// Handlers run on the dispatch goroutine and must not block it.
type NotificationHandler func(params json.RawMessage)

// callResult carries the outcome of one pending request to its waiter.
type callResult struct {
	msg *domain.Message
	err error
}

// Session is the JSON-RPC engine under the client: it allocates request ids,
// correlates responses to waiters, dispatches notifications, and fans
// transport closure out to everything still pending.
type Session struct {
	logger  *zap.Logger
	timeout time.Duration

	mu        sync.Mutex
	transport domain.Transport
	nextID    int64
	pending   map[int64]chan callResult
	handlers  map[string]NotificationHandler

	// onClosed is invoked once per transport, after its message stream
	// ends and all pending requests have been failed.
	onClosed func(transport domain.Transport)
}

// NewSession creates a session engine with the given per-request timeout.
// A nil logger disables logging.
func NewSession(timeout time.Duration, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = domain.DefaultRequestTimeout
	}
	return &Session{
		logger:   logger,
		timeout:  timeout,
		pending:  make(map[int64]chan callResult),
		handlers: make(map[string]NotificationHandler),
	}
}

// Attach binds the session to a transport and starts the dispatch loop.
// A session holds at most one transport at a time.
func (s *Session) Attach(transport domain.Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport != nil {
		return &domain.ClientError{Reason: "session already has a transport"}
	}
	s.transport = transport

	go s.dispatchLoop(transport)
	return nil
}

// SetOnClosed registers the teardown callback. Must be called before Attach.
func (s *Session) SetOnClosed(fn func(transport domain.Transport)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClosed = fn
}

// Connected reports whether a transport is attached.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil
}

// Call sends one request and waits for its response, the per-request
// timeout, or transport closure, whichever comes first.
//
// Params are serialized before the send is committed, so later mutation by
// the caller cannot race the wire encoding.
func (s *Session) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, &domain.ClientError{Reason: "unencodable params for " + method}
	}

	s.mu.Lock()
	transport := s.transport
	if transport == nil {
		s.mu.Unlock()
		return nil, &domain.ClientError{Reason: "not connected"}
	}
	s.nextID++
	id := s.nextID
	ch := make(chan callResult, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	msg := domain.NewRequest(id, method, raw)
	if err := transport.Send(ctx, msg); err != nil {
		s.removePending(id)
		return nil, err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.msg.Error != nil {
			return nil, &domain.RemoteError{Code: res.msg.Error.Code, Message: res.msg.Error.Message}
		}
		return res.msg.Result, nil
	case <-timer.C:
		s.removePending(id)
		return nil, &domain.TimeoutError{Method: method, ID: id}
	case <-ctx.Done():
		s.removePending(id)
		return nil, ctx.Err()
	}
}

// Notify sends one notification; there is no response to wait for.
func (s *Session) Notify(ctx context.Context, method string, params interface{}) error {
	raw, err := encodeParams(params)
	if err != nil {
		return &domain.ClientError{Reason: "unencodable params for " + method}
	}

	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		return &domain.ClientError{Reason: "not connected"}
	}

	return transport.Send(ctx, domain.NewNotification(method, raw))
}

// RegisterNotificationHandler installs the handler for a notification
// method, replacing any previous one.
func (s *Session) RegisterNotificationHandler(method string, handler NotificationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// encodeParams serializes params. Nil params yield nil, so the envelope
// omits its params field.
func encodeParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// dispatchLoop reads inbound messages until the transport's channel closes,
// then fails everything still pending and detaches.
func (s *Session) dispatchLoop(transport domain.Transport) {
	for msg := range transport.Messages() {
		s.dispatch(msg)
	}

	s.failAllPending(domain.ErrTransportClosed)

	s.mu.Lock()
	if s.transport == transport {
		s.transport = nil
	}
	onClosed := s.onClosed
	s.mu.Unlock()

	if onClosed != nil {
		onClosed(transport)
	}
}

// dispatch routes one inbound message. Responses complete their waiter;
// notifications run their handler; anything else is protocol noise and is
// logged, not raised.
func (s *Session) dispatch(msg *domain.Message) {
	switch {
	case msg.IsResponse():
		s.mu.Lock()
		ch, ok := s.pending[*msg.ID]
		if ok {
			delete(s.pending, *msg.ID)
		}
		s.mu.Unlock()

		if !ok {
			s.logger.Debug("dropping response for unknown id", zap.Int64("id", *msg.ID))
			return
		}
		ch <- callResult{msg: msg}

	case msg.IsNotification():
		s.mu.Lock()
		handler := s.handlers[msg.Method]
		s.mu.Unlock()

		if handler == nil {
			s.logger.Debug("no handler for notification", zap.String("method", msg.Method))
			return
		}
		s.runHandler(msg.Method, handler, msg.Params)

	default:
		s.logger.Debug("ignoring unsupported inbound message", zap.String("method", msg.Method))
	}
}

// runHandler isolates handler failures from the dispatch loop.
func (s *Session) runHandler(method string, handler NotificationHandler, params json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("notification handler panicked",
				zap.String("method", method),
				zap.Any("panic", r))
		}
	}()
	handler(params)
}

// removePending drops one pending entry, if it is still registered.
func (s *Session) removePending(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// failAllPending completes every pending request with the given error in one
// fan-out.
func (s *Session) failAllPending(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[int64]chan callResult)
	s.mu.Unlock()

	for id, ch := range pending {
		ch <- callResult{err: err}
		s.logger.Debug("failed pending request", zap.Int64("id", id), zap.Error(err))
	}
}

// Close detaches and closes the transport, failing everything pending.
func (s *Session) Close() {
	s.mu.Lock()
	transport := s.transport
	s.transport = nil
	s.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
	s.failAllPending(domain.ErrTransportClosed)
}

package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcp-client/internal/domain"
)

// attachedSession builds a session bound to a fresh fake transport.
func attachedSession(t *testing.T, timeout time.Duration) (*Session, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	session := NewSession(timeout, nil)
	require.NoError(t, session.Attach(transport))
	t.Cleanup(func() { session.Close() })
	return session, transport
}

// TestSessionCallCorrelation verifies a response completes exactly its own
// waiter.
func TestSessionCallCorrelation(t *testing.T) {
	session, transport := attachedSession(t, time.Second)
	transport.queueResult(`{"tools":[]}`)

	result, err := session.Call(context.Background(), "tools/list", struct{}{})
	require.NoError(t, err)
	require.JSONEq(t, `{"tools":[]}`, string(result))
}

// TestSessionRequestIDsIncrease verifies ids are strictly increasing
// positive integers with no gaps across committed sends.
func TestSessionRequestIDsIncrease(t *testing.T) {
	session, transport := attachedSession(t, time.Second)

	for i := 0; i < 5; i++ {
		transport.queueResult(`{}`)
		_, err := session.Call(context.Background(), "ping", nil)
		require.NoError(t, err)
	}

	sent := transport.sentMessages()
	require.Len(t, sent, 5)
	for i, msg := range sent {
		require.NotNil(t, msg.ID)
		require.Equal(t, int64(i+1), *msg.ID)
	}
}

// TestSessionRemoteError verifies an error response surfaces with its
// original code and message.
func TestSessionRemoteError(t *testing.T) {
	session, transport := attachedSession(t, time.Second)
	transport.queueError(-32602, "Tool not found: unknown-tool")

	_, err := session.Call(context.Background(), "tools/call", struct{}{})
	require.Error(t, err)

	var remoteErr *domain.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, -32602, remoteErr.Code)
	require.Equal(t, "Tool not found: unknown-tool", remoteErr.Message)
}

// TestSessionTimeout verifies an unanswered request times out and leaves
// the session usable.
func TestSessionTimeout(t *testing.T) {
	session, transport := attachedSession(t, 50*time.Millisecond)
	transport.queueSilence()

	_, err := session.Call(context.Background(), "tools/call", struct{}{})
	var timeoutErr *domain.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)

	session.mu.Lock()
	pendingCount := len(session.pending)
	session.mu.Unlock()
	require.Zero(t, pendingCount, "timed-out request should be removed from pending")

	// The session keeps working after a timeout.
	transport.queueResult(`{}`)
	_, err = session.Call(context.Background(), "ping", nil)
	require.NoError(t, err)
}

// TestSessionLateResponseDropped verifies a response for an unknown id is
// discarded without disturbing later traffic.
func TestSessionLateResponseDropped(t *testing.T) {
	session, transport := attachedSession(t, time.Second)

	require.NoError(t, transport.inject(`{"jsonrpc":"2.0","id":99,"result":{}}`))

	transport.queueResult(`{"ok":true}`)
	result, err := session.Call(context.Background(), "ping", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(result))
}

// TestSessionTransportCloseFansOut verifies every pending request completes
// with a transport-closed error when the transport goes away.
func TestSessionTransportCloseFansOut(t *testing.T) {
	session, transport := attachedSession(t, 10*time.Second)

	const waiters = 4
	errs := make(chan error, waiters)
	var started sync.WaitGroup
	for i := 0; i < waiters; i++ {
		transport.queueSilence()
		started.Add(1)
		go func() {
			started.Done()
			_, err := session.Call(context.Background(), "tools/call", struct{}{})
			errs <- err
		}()
	}
	started.Wait()
	// Give the calls a moment to register as pending before the close.
	require.Eventually(t, func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return len(session.pending) == waiters
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, transport.Close())

	for i := 0; i < waiters; i++ {
		select {
		case err := <-errs:
			require.Error(t, err)
			require.ErrorIs(t, err, domain.ErrTransportClosed)
		case <-time.After(time.Second):
			t.Fatal("pending request not completed after transport close")
		}
	}
}

// TestSessionSendFailureRemovesPending verifies a synchronous send failure
// cleans up its pending entry.
func TestSessionSendFailureRemovesPending(t *testing.T) {
	session, transport := attachedSession(t, time.Second)
	transport.failSend = errors.New("pipe broken")

	_, err := session.Call(context.Background(), "ping", nil)
	require.Error(t, err)

	session.mu.Lock()
	pendingCount := len(session.pending)
	session.mu.Unlock()
	require.Zero(t, pendingCount)
}

// TestSessionNotificationDispatch verifies notifications reach their
// handler and missing handlers are non-fatal.
func TestSessionNotificationDispatch(t *testing.T) {
	session, transport := attachedSession(t, time.Second)

	received := make(chan json.RawMessage, 1)
	session.RegisterNotificationHandler("progress", func(params json.RawMessage) {
		received <- params
	})

	// No handler registered for this one; it must be dropped quietly.
	require.NoError(t, transport.inject(`{"jsonrpc":"2.0","method":"logging","params":{"level":1,"message":"hi"}}`))
	require.NoError(t, transport.inject(`{"jsonrpc":"2.0","method":"progress","params":{"requestId":2,"progress":0.5,"message":"half"}}`))

	select {
	case params := <-received:
		require.JSONEq(t, `{"requestId":2,"progress":0.5,"message":"half"}`, string(params))
	case <-time.After(time.Second):
		t.Fatal("progress handler did not fire")
	}
}

// TestSessionHandlerPanicIsolated verifies a panicking handler does not
// kill the dispatch loop.
func TestSessionHandlerPanicIsolated(t *testing.T) {
	session, transport := attachedSession(t, time.Second)

	fired := make(chan struct{}, 1)
	session.RegisterNotificationHandler("bad", func(json.RawMessage) {
		panic("handler bug")
	})
	session.RegisterNotificationHandler("good", func(json.RawMessage) {
		fired <- struct{}{}
	})

	require.NoError(t, transport.inject(`{"jsonrpc":"2.0","method":"bad"}`))
	require.NoError(t, transport.inject(`{"jsonrpc":"2.0","method":"good"}`))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("dispatch loop did not survive handler panic")
	}
}

// TestSessionCallWithoutTransport verifies misuse is reported as a client
// error.
func TestSessionCallWithoutTransport(t *testing.T) {
	session := NewSession(time.Second, nil)

	_, err := session.Call(context.Background(), "ping", nil)
	var clientErr *domain.ClientError
	require.ErrorAs(t, err, &clientErr)
}

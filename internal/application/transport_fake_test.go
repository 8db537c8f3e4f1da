package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"mcp-client/internal/domain"
)

// scriptedOutcome is what the fake transport does with the next request it
// sees: answer with a result, answer with an error, or stay silent.
type scriptedOutcome struct {
	result json.RawMessage
	err    *domain.Error
	silent bool
}

// fakeTransport is an in-memory domain.Transport that records every sent
// message and answers requests from a FIFO script.
type fakeTransport struct {
	mu      sync.Mutex
	started bool
	sent    []*domain.Message
	script  []scriptedOutcome

	failSend error

	msgChan   chan *domain.Message
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		msgChan: make(chan *domain.Message, 32),
		done:    make(chan struct{}),
	}
}

// queueResult scripts a success response for the next unanswered request.
func (t *fakeTransport) queueResult(result string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, scriptedOutcome{result: json.RawMessage(result)})
}

// queueError scripts an error response for the next unanswered request.
func (t *fakeTransport) queueError(code int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, scriptedOutcome{err: &domain.Error{Code: code, Message: message}})
}

// queueSilence scripts no response for the next request, so its caller
// times out.
func (t *fakeTransport) queueSilence() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, scriptedOutcome{silent: true})
}

// inject delivers a server-originated message on the inbound channel.
func (t *fakeTransport) inject(raw string) error {
	var msg domain.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return err
	}
	select {
	case t.msgChan <- &msg:
		return nil
	case <-t.done:
		return fmt.Errorf("transport closed")
	}
}

// sentMessages snapshots everything sent so far.
func (t *fakeTransport) sentMessages() []*domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*domain.Message(nil), t.sent...)
}

// sentMethods lists the methods of all sent messages, in order.
func (t *fakeTransport) sentMethods() []string {
	var methods []string
	for _, msg := range t.sentMessages() {
		methods = append(methods, msg.Method)
	}
	return methods
}

func (t *fakeTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	return nil
}

func (t *fakeTransport) Send(ctx context.Context, msg *domain.Message) error {
	t.mu.Lock()
	if t.failSend != nil {
		err := t.failSend
		t.mu.Unlock()
		return err
	}
	t.sent = append(t.sent, msg)

	var outcome *scriptedOutcome
	if msg.IsRequest() && len(t.script) > 0 {
		next := t.script[0]
		t.script = t.script[1:]
		outcome = &next
	}
	t.mu.Unlock()

	if outcome == nil || outcome.silent {
		return nil
	}

	response := &domain.Message{
		JSONRPC: domain.Version,
		ID:      msg.ID,
		Result:  outcome.result,
		Error:   outcome.err,
	}
	select {
	case t.msgChan <- response:
	case <-t.done:
	}
	return nil
}

func (t *fakeTransport) Messages() <-chan *domain.Message {
	return t.msgChan
}

func (t *fakeTransport) Done() <-chan struct{} {
	return t.done
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		close(t.msgChan)
	})
	return nil
}

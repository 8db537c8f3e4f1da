package infrastructure

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"mcp-client/internal/domain"
)

// stdioQueueDepth is the high-water mark on the outbound queue. The producer
// is this process and the consumer is a local pipe, so the queue rarely holds
// more than a handful of messages.
const stdioQueueDepth = 256

// StdioTransport implements domain.Transport over a spawned server process.
// It writes newline-delimited JSON to the child's stdin and reads the same
// framing from its stdout. Stderr is surfaced as diagnostic log lines.
type StdioTransport struct {
	config domain.StdioConfig
	logger *zap.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	msgChan   chan *domain.Message
	sendQueue chan []byte
	done      chan struct{}

	mu        sync.Mutex
	started   bool
	closeOnce sync.Once
}

// NewStdioTransport creates a stdio transport for the configured command.
// A nil logger disables logging.
func NewStdioTransport(config domain.StdioConfig, logger *zap.Logger) *StdioTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioTransport{
		config:    config,
		logger:    logger,
		msgChan:   make(chan *domain.Message, 16),
		sendQueue: make(chan []byte, stdioQueueDepth),
		done:      make(chan struct{}),
	}
}

// Start spawns the child process and begins the reader and writer loops.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return &domain.ClientError{Reason: "transport already started"}
	}

	cmd := exec.Command(t.config.Command, t.config.Arguments...)
	if t.config.WorkingDirectory != "" {
		cmd.Dir = t.config.WorkingDirectory
	}
	if len(t.config.Environment) > 0 {
		env := os.Environ()
		for k, v := range t.config.Environment {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &domain.TransportError{Op: "connect", Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &domain.TransportError{Op: "connect", Cause: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &domain.TransportError{Op: "connect", Cause: err}
	}

	if err := cmd.Start(); err != nil {
		return &domain.TransportError{Op: "connect", Cause: fmt.Errorf("failed to start %s: %w", t.config.Command, err)}
	}

	t.cmd = cmd
	t.stdin = stdin
	t.started = true

	t.logger.Info("stdio transport started",
		zap.String("command", t.config.Command),
		zap.Int("pid", cmd.Process.Pid))

	go t.readLoop(stdout)
	go t.stderrLoop(stderr)
	go t.writeLoop()
	go t.waitLoop()

	return nil
}

// readLoop reads newline-delimited JSON messages from the child's stdout.
// Lines that fail to parse are logged and skipped; end of stream closes the
// transport.
func (t *StdioTransport) readLoop(stdout io.Reader) {
	defer close(t.msgChan)
	defer t.Close()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg domain.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			t.logger.Warn("dropping unparseable stdout line", zap.Error(err))
			continue
		}
		if msg.JSONRPC != domain.Version {
			t.logger.Warn("dropping message with wrong jsonrpc version",
				zap.String("version", msg.JSONRPC))
			continue
		}

		select {
		case t.msgChan <- &msg:
		case <-t.done:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Warn("stdout read ended", zap.Error(err))
	}
}

// stderrLoop surfaces the child's stderr as diagnostics.
func (t *StdioTransport) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logger.Debug("server stderr", zap.String("line", scanner.Text()))
	}
}

// writeLoop is the single drainer of the outbound queue. Writing from one
// goroutine keeps messages whole on the pipe and preserves submission order.
func (t *StdioTransport) writeLoop() {
	writer := bufio.NewWriter(t.stdin)
	for {
		select {
		case <-t.done:
			return
		case payload := <-t.sendQueue:
			if _, err := writer.Write(payload); err != nil {
				t.logger.Warn("stdin write failed", zap.Error(err))
				t.Close()
				return
			}
			if err := writer.WriteByte('\n'); err != nil {
				t.logger.Warn("stdin write failed", zap.Error(err))
				t.Close()
				return
			}
			if err := writer.Flush(); err != nil {
				t.logger.Warn("stdin flush failed", zap.Error(err))
				t.Close()
				return
			}
		}
	}
}

// waitLoop reaps the child process and closes the transport when it exits.
func (t *StdioTransport) waitLoop() {
	err := t.cmd.Wait()
	if err != nil {
		t.logger.Debug("server process exited", zap.Error(err))
	}
	t.Close()
}

// Send serializes one message onto the outbound queue.
func (t *StdioTransport) Send(ctx context.Context, msg *domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return &domain.TransportError{Op: "send", Cause: err}
	}

	select {
	case <-t.done:
		return domain.ErrTransportClosed
	case <-ctx.Done():
		return &domain.TransportError{Op: "send", Cause: ctx.Err()}
	case t.sendQueue <- payload:
		return nil
	}
}

// Messages returns the inbound message channel.
func (t *StdioTransport) Messages() <-chan *domain.Message {
	return t.msgChan
}

// Done returns the close-future channel.
func (t *StdioTransport) Done() <-chan struct{} {
	return t.done
}

// Close kills the child process and releases the pipes. Safe to call more
// than once and from any goroutine.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		cmd := t.cmd
		stdin := t.stdin
		t.mu.Unlock()

		if stdin != nil {
			_ = stdin.Close()
		}
		if cmd != nil && cmd.Process != nil {
			// Best effort; the process may already have exited.
			_ = cmd.Process.Kill()
		}

		t.logger.Info("stdio transport closed")
	})
	return nil
}

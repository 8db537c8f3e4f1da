package application

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcp-client/internal/domain"
)

// ProtocolVersion is the MCP revision this client speaks. A server that
// announces a different version gets a warning, not a rejection.
const ProtocolVersion = "2024-11-05"

// ServerInfo identifies the server, as reported in its initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Client is the typed MCP facade. It owns the handshake, enforces
// capability gating on every method, and translates between Go values and
// the JSON-RPC session underneath.
type Client struct {
	config  domain.ClientConfig
	logger  *zap.Logger
	session *Session

	mu          sync.Mutex
	transport   domain.Transport
	initialized bool
	serverInfo  ServerInfo
	serverCaps  domain.ServerCapabilities
}

// NewClient creates a client with the given identity and capabilities.
// A nil logger disables logging.
func NewClient(config domain.ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config:  config,
		logger:  logger,
		session: NewSession(config.RequestTimeout.Duration(), logger),
	}
}

// --- Wire shapes for the typed methods ---

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string                    `json:"protocolVersion"`
	ClientInfo      clientInfo                `json:"clientInfo"`
	Capabilities    domain.ClientCapabilities `json:"capabilities"`
}

type initializeResult struct {
	ProtocolVersion string                    `json:"protocolVersion"`
	ServerInfo      ServerInfo                `json:"serverInfo"`
	Capabilities    domain.ServerCapabilities `json:"capabilities"`
}

type callToolParams struct {
	Name          string                 `json:"name"`
	Arguments     map[string]interface{} `json:"arguments"`
	TrackProgress bool                   `json:"trackProgress,omitempty"`
}

type trackedCallResult struct {
	OperationID string             `json:"operationId"`
	Content     domain.ContentList `json:"content"`
	IsStreaming bool               `json:"isStreaming"`
	IsError     bool               `json:"isError"`
}

type uriParams struct {
	URI string `json:"uri"`
}

type getPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

type rootParams struct {
	Root domain.Root `json:"root"`
}

type setLevelParams struct {
	Level int `json:"level"`
}

type cancelParams struct {
	ID string `json:"id"`
}

// Connect attaches a transport, performs the initialize handshake, and
// marks the client initialized. A failed connect rolls the client back to
// disconnected and closes the transport.
func (c *Client) Connect(ctx context.Context, transport domain.Transport) error {
	c.mu.Lock()
	if c.transport != nil {
		c.mu.Unlock()
		return &domain.ClientError{Reason: "already connected"}
	}
	c.transport = transport
	c.mu.Unlock()

	if err := c.connect(ctx, transport); err != nil {
		c.session.Close()
		c.reset()
		return err
	}
	return nil
}

// connect runs the transport hookup and handshake.
func (c *Client) connect(ctx context.Context, transport domain.Transport) error {
	if err := transport.Start(ctx); err != nil {
		return err
	}

	c.session.SetOnClosed(c.handleSessionClosed)
	if err := c.session.Attach(transport); err != nil {
		return err
	}

	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      clientInfo{Name: c.config.Name, Version: c.config.Version},
		Capabilities:    c.config.Capabilities,
	}

	raw, err := c.session.Call(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return &domain.ProtocolError{Reason: "malformed initialize result", Cause: err}
	}
	if result.ProtocolVersion == "" {
		return &domain.ProtocolError{Reason: "initialize result is missing protocolVersion"}
	}

	c.checkProtocolVersion(result.ProtocolVersion)

	if err := c.session.Notify(ctx, "notifications/initialized", nil); err != nil {
		return fmt.Errorf("initialized notification failed: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.serverCaps = result.Capabilities
	c.initialized = true
	c.mu.Unlock()

	c.logger.Info("client initialized",
		zap.String("server", result.ServerInfo.Name),
		zap.String("server_version", result.ServerInfo.Version),
		zap.String("protocol_version", result.ProtocolVersion))

	return nil
}

// checkProtocolVersion warns on a version mismatch. When both versions are
// ISO dates the comparison is chronological; either way the mismatch is
// advisory only.
func (c *Client) checkProtocolVersion(serverVersion string) {
	if serverVersion == ProtocolVersion {
		return
	}

	ours, errA := time.Parse("2006-01-02", ProtocolVersion)
	theirs, errB := time.Parse("2006-01-02", serverVersion)
	if errA == nil && errB == nil {
		if theirs.After(ours) {
			c.logger.Warn("server speaks a newer protocol revision",
				zap.String("server_version", serverVersion),
				zap.String("client_version", ProtocolVersion))
		} else {
			c.logger.Warn("server speaks an older protocol revision",
				zap.String("server_version", serverVersion),
				zap.String("client_version", ProtocolVersion))
		}
		return
	}
	c.logger.Warn("protocol version mismatch",
		zap.String("server_version", serverVersion),
		zap.String("client_version", ProtocolVersion))
}

// handleSessionClosed runs when a transport goes away underneath us. The
// reset only applies while that transport is still the current one; a stale
// teardown from a previous connection must not wipe a fresh one.
func (c *Client) handleSessionClosed(transport domain.Transport) {
	c.mu.Lock()
	if c.transport != transport {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	c.initialized = false
	c.serverCaps = domain.ServerCapabilities{}
	c.serverInfo = ServerInfo{}
	c.mu.Unlock()

	c.logger.Info("session closed")
}

// reset returns the client to the disconnected state.
func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = nil
	c.initialized = false
	c.serverCaps = domain.ServerCapabilities{}
	c.serverInfo = ServerInfo{}
}

// Disconnect closes the transport and fails everything pending. It is a
// no-op on a disconnected client.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()
	if transport == nil {
		return nil
	}

	c.session.Close()
	c.reset()
	return nil
}

// IsConnected reports whether a transport is attached.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport != nil
}

// IsInitialized reports whether the handshake has completed.
func (c *Client) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// ServerCapabilities returns the capability snapshot frozen at handshake.
func (c *Client) ServerCapabilities() domain.ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverCaps
}

// Server returns the server identity reported during the handshake.
func (c *Client) Server() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// requireServer gates a method on initialization plus a server capability.
// A violation never touches the wire.
func (c *Client) requireServer(enabled func(domain.ServerCapabilities) bool, capability string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return &domain.ClientError{Reason: "not initialized"}
	}
	if !enabled(c.serverCaps) {
		return &domain.ClientError{Reason: "server does not support " + capability}
	}
	return nil
}

// requireInitialized gates an ungated method on initialization only.
func (c *Client) requireInitialized() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return &domain.ClientError{Reason: "not initialized"}
	}
	return nil
}

// requireClient gates a method on one of this client's declared capabilities.
func (c *Client) requireClient(enabled bool, capability string) error {
	if err := c.requireInitialized(); err != nil {
		return err
	}
	if !enabled {
		return &domain.ClientError{Reason: "client did not declare " + capability}
	}
	return nil
}

// call performs one request and decodes its result into out, when out is
// non-nil.
func (c *Client) call(ctx context.Context, method string, params, out interface{}) error {
	raw, err := c.session.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if raw == nil {
		return &domain.ProtocolError{Reason: method + " returned no result"}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.ProtocolError{Reason: "malformed " + method + " result", Cause: err}
	}
	return nil
}

// --- Tools ---

// ListTools fetches the server's full tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]domain.Tool, error) {
	if err := c.requireServer(func(s domain.ServerCapabilities) bool { return s.Tools }, "tools"); err != nil {
		return nil, err
	}
	var result struct {
		Tools []domain.Tool `json:"tools"`
	}
	if err := c.call(ctx, "tools/list", struct{}{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// ListToolsMetadata fetches the tool catalog, caches the full records in the
// registry, and returns the lightweight projections.
func (c *Client) ListToolsMetadata(ctx context.Context, registry *ToolRegistry) ([]domain.ToolMetadata, error) {
	tools, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	registry.CacheFromTools(tools)
	return registry.AllMetadata(), nil
}

// CallTool invokes a tool by name.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (domain.CallToolResult, error) {
	var result domain.CallToolResult
	if err := c.requireServer(func(s domain.ServerCapabilities) bool { return s.Tools }, "tools"); err != nil {
		return result, err
	}
	if arguments == nil {
		arguments = map[string]interface{}{}
	}
	err := c.call(ctx, "tools/call", callToolParams{Name: name, Arguments: arguments}, &result)
	return result, err
}

// CallToolWithTracking invokes a tool with progress tracking requested. The
// returned operation id is whatever the server minted; servers without
// tracking leave it empty and it is never synthesized client-side.
func (c *Client) CallToolWithTracking(ctx context.Context, name string, arguments map[string]interface{}) (domain.ToolCallTracking, error) {
	if err := c.requireServer(func(s domain.ServerCapabilities) bool { return s.Tools }, "tools"); err != nil {
		return domain.ToolCallTracking{}, err
	}
	if arguments == nil {
		arguments = map[string]interface{}{}
	}
	var result trackedCallResult
	if err := c.call(ctx, "tools/call", callToolParams{Name: name, Arguments: arguments, TrackProgress: true}, &result); err != nil {
		return domain.ToolCallTracking{}, err
	}
	return domain.ToolCallTracking{
		OperationID: result.OperationID,
		Result: domain.CallToolResult{
			Content:     result.Content,
			IsStreaming: result.IsStreaming,
			IsError:     result.IsError,
		},
	}, nil
}

// --- Resources ---

// ListResources fetches the server's resource catalog.
func (c *Client) ListResources(ctx context.Context) ([]domain.Resource, error) {
	if err := c.requireServer(func(s domain.ServerCapabilities) bool { return s.Resources }, "resources"); err != nil {
		return nil, err
	}
	var result struct {
		Resources []domain.Resource `json:"resources"`
	}
	if err := c.call(ctx, "resources/list", struct{}{}, &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ReadResource reads one resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (domain.ReadResourceResult, error) {
	var result domain.ReadResourceResult
	if err := c.requireServer(func(s domain.ServerCapabilities) bool { return s.Resources }, "resources"); err != nil {
		return result, err
	}
	err := c.call(ctx, "resources/read", uriParams{URI: uri}, &result)
	return result, err
}

// GetResourceWithTemplate substitutes params into a URI template and reads
// the resulting resource. Values are percent-encoded.
func (c *Client) GetResourceWithTemplate(ctx context.Context, templateURI string, params map[string]string) (domain.ReadResourceResult, error) {
	uri := templateURI
	for key, value := range params {
		uri = strings.ReplaceAll(uri, "{"+key+"}", url.PathEscape(value))
	}
	return c.ReadResource(ctx, uri)
}

// ListResourceTemplates fetches the server's resource templates.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]domain.ResourceTemplate, error) {
	if err := c.requireServer(func(s domain.ServerCapabilities) bool { return s.Resources }, "resources"); err != nil {
		return nil, err
	}
	var result struct {
		ResourceTemplates []domain.ResourceTemplate `json:"resourceTemplates"`
	}
	if err := c.call(ctx, "resources/templates/list", struct{}{}, &result); err != nil {
		return nil, err
	}
	return result.ResourceTemplates, nil
}

// SubscribeResource subscribes to update notifications for a resource.
func (c *Client) SubscribeResource(ctx context.Context, uri string) error {
	if err := c.requireServer(func(s domain.ServerCapabilities) bool { return s.Resources }, "resources"); err != nil {
		return err
	}
	return c.call(ctx, "resources/subscribe", uriParams{URI: uri}, nil)
}

// UnsubscribeResource removes a resource subscription.
func (c *Client) UnsubscribeResource(ctx context.Context, uri string) error {
	if err := c.requireServer(func(s domain.ServerCapabilities) bool { return s.Resources }, "resources"); err != nil {
		return err
	}
	return c.call(ctx, "resources/unsubscribe", uriParams{URI: uri}, nil)
}

// --- Prompts ---

// ListPrompts fetches the server's prompt catalog.
func (c *Client) ListPrompts(ctx context.Context) ([]domain.Prompt, error) {
	if err := c.requireServer(func(s domain.ServerCapabilities) bool { return s.Prompts }, "prompts"); err != nil {
		return nil, err
	}
	var result struct {
		Prompts []domain.Prompt `json:"prompts"`
	}
	if err := c.call(ctx, "prompts/list", struct{}{}, &result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// GetPrompt renders one prompt with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (domain.GetPromptResult, error) {
	var result domain.GetPromptResult
	if err := c.requireServer(func(s domain.ServerCapabilities) bool { return s.Prompts }, "prompts"); err != nil {
		return result, err
	}
	err := c.call(ctx, "prompts/get", getPromptParams{Name: name, Arguments: arguments}, &result)
	return result, err
}

// --- Sampling ---

// CreateMessage asks the server to sample a completion.
func (c *Client) CreateMessage(ctx context.Context, req domain.CreateMessageRequest) (domain.CreateMessageResult, error) {
	var result domain.CreateMessageResult
	if err := c.requireServer(func(s domain.ServerCapabilities) bool { return s.Sampling }, "sampling"); err != nil {
		return result, err
	}
	err := c.call(ctx, "sampling/createMessage", req, &result)
	return result, err
}

// --- Roots ---

// AddRoot registers a root with the server and, when declared, announces
// the change.
func (c *Client) AddRoot(ctx context.Context, root domain.Root) error {
	if err := c.requireClient(c.config.Capabilities.Roots, "roots"); err != nil {
		return err
	}
	if err := c.call(ctx, "roots/add", rootParams{Root: root}, nil); err != nil {
		return err
	}
	c.notifyRootsChanged(ctx)
	return nil
}

// RemoveRoot removes a root by URI and, when declared, announces the change.
func (c *Client) RemoveRoot(ctx context.Context, uri string) error {
	if err := c.requireClient(c.config.Capabilities.Roots, "roots"); err != nil {
		return err
	}
	if err := c.call(ctx, "roots/remove", uriParams{URI: uri}, nil); err != nil {
		return err
	}
	c.notifyRootsChanged(ctx)
	return nil
}

// ListRoots fetches the registered roots.
func (c *Client) ListRoots(ctx context.Context) ([]domain.Root, error) {
	if err := c.requireClient(c.config.Capabilities.Roots, "roots"); err != nil {
		return nil, err
	}
	var result struct {
		Roots []domain.Root `json:"roots"`
	}
	if err := c.call(ctx, "roots/list", struct{}{}, &result); err != nil {
		return nil, err
	}
	return result.Roots, nil
}

// notifyRootsChanged emits the list-changed notification when the client
// declared rootsListChanged.
func (c *Client) notifyRootsChanged(ctx context.Context) {
	if !c.config.Capabilities.RootsListChanged {
		return
	}
	if err := c.session.Notify(ctx, "notifications/roots/list_changed", nil); err != nil {
		c.logger.Warn("roots list_changed notification failed", zap.Error(err))
	}
}

// --- Ungated methods ---

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.requireInitialized(); err != nil {
		return err
	}
	return c.call(ctx, "ping", struct{}{}, nil)
}

// HealthCheck fetches the server's health snapshot.
func (c *Client) HealthCheck(ctx context.Context) (domain.ServerHealth, error) {
	var result domain.ServerHealth
	if err := c.requireInitialized(); err != nil {
		return result, err
	}
	err := c.call(ctx, "health/check", struct{}{}, &result)
	return result, err
}

// SetLoggingLevel sets the server's minimum log level.
func (c *Client) SetLoggingLevel(ctx context.Context, level domain.McpLogLevel) error {
	if err := c.requireInitialized(); err != nil {
		return err
	}
	return c.call(ctx, "logging/set_level", setLevelParams{Level: int(level)}, nil)
}

// CancelOperation asks the server to cancel a tracked operation. The
// original call still completes through its own response or timeout.
func (c *Client) CancelOperation(ctx context.Context, operationID string) error {
	if err := c.requireInitialized(); err != nil {
		return err
	}
	return c.call(ctx, "cancel", cancelParams{ID: operationID}, nil)
}

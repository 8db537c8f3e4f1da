package application

import (
	"encoding/json"

	"go.uber.org/zap"

	"mcp-client/internal/domain"
)

// Notification methods the client consumes. Registering a callback replaces
// any previous one for the same method; fan-out to multiple consumers is the
// host's concern.

// OnToolsListChanged registers a callback for tool catalog changes.
func (c *Client) OnToolsListChanged(fn func()) {
	c.registerIgnoredPayload("notifications/tools/list_changed", fn)
}

// OnResourcesListChanged registers a callback for resource catalog changes.
func (c *Client) OnResourcesListChanged(fn func()) {
	c.registerIgnoredPayload("notifications/resources/list_changed", fn)
}

// OnPromptsListChanged registers a callback for prompt catalog changes.
func (c *Client) OnPromptsListChanged(fn func()) {
	c.registerIgnoredPayload("notifications/prompts/list_changed", fn)
}

// OnRootsListChanged registers a callback for root set changes.
func (c *Client) OnRootsListChanged(fn func()) {
	c.registerIgnoredPayload("notifications/roots/list_changed", fn)
}

// registerIgnoredPayload wires a payload-less callback.
func (c *Client) registerIgnoredPayload(method string, fn func()) {
	c.session.RegisterNotificationHandler(method, func(json.RawMessage) {
		fn()
	})
}

// OnResourceUpdated registers a callback for resource update notifications.
// Content is nil when the server announced the change without inlining the
// new content.
func (c *Client) OnResourceUpdated(fn func(uri string, content *domain.ResourceContentInfo)) {
	c.session.RegisterNotificationHandler("notifications/resources/updated", func(params json.RawMessage) {
		var payload struct {
			URI     string                      `json:"uri"`
			Content *domain.ResourceContentInfo `json:"content"`
		}
		if err := json.Unmarshal(params, &payload); err != nil {
			c.logger.Warn("malformed resources/updated notification", zap.Error(err))
			return
		}
		fn(payload.URI, payload.Content)
	})
}

// OnProgress registers a callback for progress notifications on tracked
// requests.
func (c *Client) OnProgress(fn func(requestID int64, progress float64, message string)) {
	c.session.RegisterNotificationHandler("progress", func(params json.RawMessage) {
		var payload struct {
			RequestID      *int64  `json:"requestId"`
			RequestIDSnake *int64  `json:"request_id"`
			Progress       float64 `json:"progress"`
			Message        string  `json:"message"`
		}
		if err := json.Unmarshal(params, &payload); err != nil {
			c.logger.Warn("malformed progress notification", zap.Error(err))
			return
		}
		fn(requestIDFrom(payload.RequestID, payload.RequestIDSnake), payload.Progress, payload.Message)
	})
}

// OnSamplingResponse registers a callback for out-of-band sampling results.
func (c *Client) OnSamplingResponse(fn func(requestID int64, result domain.CreateMessageResult)) {
	c.session.RegisterNotificationHandler("sampling/response", func(params json.RawMessage) {
		var payload struct {
			RequestID      *int64                     `json:"requestId"`
			RequestIDSnake *int64                     `json:"request_id"`
			Result         domain.CreateMessageResult `json:"result"`
		}
		if err := json.Unmarshal(params, &payload); err != nil {
			c.logger.Warn("malformed sampling/response notification", zap.Error(err))
			return
		}
		fn(requestIDFrom(payload.RequestID, payload.RequestIDSnake), payload.Result)
	})
}

// OnLogging registers a callback for server log messages.
func (c *Client) OnLogging(fn func(level domain.McpLogLevel, message, logger string, data json.RawMessage)) {
	c.session.RegisterNotificationHandler("logging", func(params json.RawMessage) {
		var payload struct {
			Level   int             `json:"level"`
			Message string          `json:"message"`
			Logger  string          `json:"logger"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(params, &payload); err != nil {
			c.logger.Warn("malformed logging notification", zap.Error(err))
			return
		}
		fn(domain.McpLogLevel(payload.Level), payload.Message, payload.Logger, payload.Data)
	})
}

// requestIDFrom coalesces the two request-id spellings seen in the wild.
func requestIDFrom(camel, snake *int64) int64 {
	if camel != nil {
		return *camel
	}
	if snake != nil {
		return *snake
	}
	return 0
}

package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tool describes a tool exposed by the server, including the JSON Schema for
// its arguments. The schema is kept as raw JSON: its structure is defined by
// the server and is only interpreted by the host application.
type Tool struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	InputSchema          json.RawMessage `json:"inputSchema"`
	SupportsProgress     bool            `json:"supportsProgress,omitempty"`
	SupportsCancellation bool            `json:"supportsCancellation,omitempty"`
	Metadata             json.RawMessage `json:"metadata,omitempty"`
}

// ToolMetadata is the name-and-description projection of a Tool. Listings
// built from it stay small because the input schema and the optional fields
// are left out entirely.
type ToolMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// MetadataFor projects a Tool down to its metadata.
func MetadataFor(tool Tool) ToolMetadata {
	return ToolMetadata{Name: tool.Name, Description: tool.Description}
}

// Resource describes a resource exposed by the server.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType,omitempty"`
	URITemplate string `json:"uriTemplate,omitempty"`
}

// ResourceTemplate describes a parameterized resource whose URI is produced
// by substituting template variables.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContentInfo is one piece of resource content. Exactly one of Text
// and Blob is normally set; Blob carries base64-encoded bytes.
type ResourceContentInfo struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ReadResourceResult is the result of a resources/read request.
type ReadResourceResult struct {
	Contents []ResourceContentInfo `json:"contents"`
}

// PromptArgument describes one argument accepted by a prompt.
type PromptArgument struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Required    bool            `json:"required"`
	Default     json.RawMessage `json:"default,omitempty"`
}

// Prompt describes a prompt template exposed by the server.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Arguments   []PromptArgument `json:"arguments"`
}

// PromptMessage is a single role-tagged message in a rendered prompt.
type PromptMessage struct {
	Role    string
	Content Content
}

// MarshalJSON implements json.Marshaler for PromptMessage.
func (m PromptMessage) MarshalJSON() ([]byte, error) {
	return marshalRoleContent(m.Role, m.Content)
}

// UnmarshalJSON implements json.Unmarshaler for PromptMessage.
func (m *PromptMessage) UnmarshalJSON(data []byte) error {
	role, content, err := unmarshalRoleContent(data)
	if err != nil {
		return err
	}
	m.Role = role
	m.Content = content
	return nil
}

// GetPromptResult is the result of a prompts/get request.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// Content is a piece of message or tool-result content. The concrete type is
// selected by the "type" tag on the wire; decoding an unknown tag fails.
type Content interface {
	ContentType() string
}

// TextContent is plain text content.
type TextContent struct {
	Text string `json:"text"`
}

// ContentType returns the wire tag for text content.
func (TextContent) ContentType() string { return "text" }

// MarshalJSON implements json.Marshaler for TextContent.
func (c TextContent) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	return json.Marshal(wire{Type: "text", Text: c.Text})
}

// ImageContent is image content, referenced by URL or carried inline as
// base64 data.
type ImageContent struct {
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType"`
}

// ContentType returns the wire tag for image content.
func (ImageContent) ContentType() string { return "image" }

// MarshalJSON implements json.Marshaler for ImageContent.
func (c ImageContent) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type     string `json:"type"`
		URL      string `json:"url,omitempty"`
		Data     string `json:"data,omitempty"`
		MimeType string `json:"mimeType"`
	}
	return json.Marshal(wire{Type: "image", URL: c.URL, Data: c.Data, MimeType: c.MimeType})
}

// ResourceRefContent embeds resource content by reference.
type ResourceRefContent struct {
	URI      string `json:"uri"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ContentType returns the wire tag for resource content.
func (ResourceRefContent) ContentType() string { return "resource" }

// MarshalJSON implements json.Marshaler for ResourceRefContent.
func (c ResourceRefContent) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type     string `json:"type"`
		URI      string `json:"uri"`
		Text     string `json:"text,omitempty"`
		Blob     string `json:"blob,omitempty"`
		MimeType string `json:"mimeType,omitempty"`
	}
	return json.Marshal(wire{Type: "resource", URI: c.URI, Text: c.Text, Blob: c.Blob, MimeType: c.MimeType})
}

// UnmarshalContent decodes one content value by its "type" tag.
func UnmarshalContent(data []byte) (Content, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, &ProtocolError{Reason: "malformed content block", Cause: err}
	}
	switch tag.Type {
	case "text":
		var c TextContent
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, &ProtocolError{Reason: "malformed text content", Cause: err}
		}
		return c, nil
	case "image":
		var c ImageContent
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, &ProtocolError{Reason: "malformed image content", Cause: err}
		}
		return c, nil
	case "resource":
		var c ResourceRefContent
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, &ProtocolError{Reason: "malformed resource content", Cause: err}
		}
		return c, nil
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown content type %q", tag.Type)}
	}
}

// ContentList is a JSON array of tagged content blocks.
type ContentList []Content

// UnmarshalJSON implements json.Unmarshaler for ContentList.
func (l *ContentList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return &ProtocolError{Reason: "malformed content array", Cause: err}
	}
	out := make(ContentList, 0, len(raw))
	for _, r := range raw {
		c, err := UnmarshalContent(r)
		if err != nil {
			return err
		}
		out = append(out, c)
	}
	*l = out
	return nil
}

// marshalRoleContent encodes a {role, content} pair.
func marshalRoleContent(role string, content Content) ([]byte, error) {
	type wire struct {
		Role    string  `json:"role"`
		Content Content `json:"content"`
	}
	return json.Marshal(wire{Role: role, Content: content})
}

// unmarshalRoleContent decodes a {role, content} pair.
func unmarshalRoleContent(data []byte) (string, Content, error) {
	var wire struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return "", nil, &ProtocolError{Reason: "malformed message", Cause: err}
	}
	if wire.Content == nil {
		return "", nil, &ProtocolError{Reason: "message is missing content"}
	}
	content, err := UnmarshalContent(wire.Content)
	if err != nil {
		return "", nil, err
	}
	return wire.Role, content, nil
}

// SamplingMessage is one conversation turn in a sampling request.
type SamplingMessage struct {
	Role    string
	Content Content
}

// MarshalJSON implements json.Marshaler for SamplingMessage.
func (m SamplingMessage) MarshalJSON() ([]byte, error) {
	return marshalRoleContent(m.Role, m.Content)
}

// UnmarshalJSON implements json.Unmarshaler for SamplingMessage.
func (m *SamplingMessage) UnmarshalJSON(data []byte) error {
	role, content, err := unmarshalRoleContent(data)
	if err != nil {
		return err
	}
	m.Role = role
	m.Content = content
	return nil
}

// CreateMessageRequest asks the server to sample a model completion.
// Model preferences and metadata are server-defined and kept as raw JSON.
type CreateMessageRequest struct {
	Messages         []SamplingMessage `json:"messages"`
	ModelPreferences json.RawMessage   `json:"modelPreferences,omitempty"`
	SystemPrompt     string            `json:"systemPrompt,omitempty"`
	IncludeContext   string            `json:"includeContext,omitempty"`
	MaxTokens        int               `json:"maxTokens,omitempty"`
	Temperature      *float64          `json:"temperature,omitempty"`
	StopSequences    []string          `json:"stopSequences,omitempty"`
	Metadata         json.RawMessage   `json:"metadata,omitempty"`
}

// CreateMessageResult is the sampled completion returned by the server.
type CreateMessageResult struct {
	Model      string
	StopReason string
	Role       string
	Content    Content
}

// MarshalJSON implements json.Marshaler for CreateMessageResult.
func (r CreateMessageResult) MarshalJSON() ([]byte, error) {
	type wire struct {
		Model      string  `json:"model"`
		StopReason string  `json:"stopReason,omitempty"`
		Role       string  `json:"role"`
		Content    Content `json:"content"`
	}
	return json.Marshal(wire{Model: r.Model, StopReason: r.StopReason, Role: r.Role, Content: r.Content})
}

// UnmarshalJSON implements json.Unmarshaler for CreateMessageResult.
func (r *CreateMessageResult) UnmarshalJSON(data []byte) error {
	var wire struct {
		Model      string          `json:"model"`
		StopReason string          `json:"stopReason,omitempty"`
		Role       string          `json:"role"`
		Content    json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return &ProtocolError{Reason: "malformed createMessage result", Cause: err}
	}
	r.Model = wire.Model
	r.StopReason = wire.StopReason
	r.Role = wire.Role
	if wire.Content != nil {
		content, err := UnmarshalContent(wire.Content)
		if err != nil {
			return err
		}
		r.Content = content
	}
	return nil
}

// Root identifies a filesystem or URI root the client exposes to the server.
type Root struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ServerHealth is the server's self-reported health snapshot.
type ServerHealth struct {
	IsRunning           bool            `json:"isRunning"`
	ConnectedSessions   int             `json:"connectedSessions"`
	RegisteredTools     int             `json:"registeredTools"`
	RegisteredResources int             `json:"registeredResources"`
	RegisteredPrompts   int             `json:"registeredPrompts"`
	StartTime           string          `json:"startTime"`
	UptimeSeconds       float64         `json:"uptimeSeconds"`
	Metrics             json.RawMessage `json:"metrics,omitempty"`
}

// Uptime returns the reported uptime as a duration.
func (h ServerHealth) Uptime() time.Duration {
	return time.Duration(h.UptimeSeconds * float64(time.Second))
}

// CallToolResult is the result of a tools/call request.
type CallToolResult struct {
	Content     ContentList `json:"content"`
	IsStreaming bool        `json:"isStreaming"`
	IsError     bool        `json:"isError,omitempty"`
}

// ToolCallTracking pairs a tool-call result with the server-side operation id
// for it, when the server minted one. The id is opaque and absent when the
// server does not support tracking.
type ToolCallTracking struct {
	OperationID string
	Result      CallToolResult
}

// McpLogLevel enumerates the syslog-style levels accepted by
// logging/set_level and carried by logging notifications.
type McpLogLevel int

const (
	LogDebug McpLogLevel = iota
	LogInfo
	LogNotice
	LogWarning
	LogError
	LogCritical
	LogAlert
	LogEmergency
)

var logLevelNames = []string{
	"debug", "info", "notice", "warning", "error", "critical", "alert", "emergency",
}

// String returns the conventional name for the level.
func (l McpLogLevel) String() string {
	if l < 0 || int(l) >= len(logLevelNames) {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return logLevelNames[l]
}

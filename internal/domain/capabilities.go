package domain

import "encoding/json"

// ClientCapabilities is the fixed set of capabilities this client can
// declare during the handshake.
type ClientCapabilities struct {
	Roots            bool `yaml:"roots"`
	RootsListChanged bool `yaml:"roots_list_changed"`
	Sampling         bool `yaml:"sampling"`
}

// MarshalJSON encodes the capabilities in the nested wire shape, where the
// presence of an outer key declares the feature.
func (c ClientCapabilities) MarshalJSON() ([]byte, error) {
	wire := make(map[string]interface{})
	if c.Roots {
		wire["roots"] = map[string]interface{}{"listChanged": c.RootsListChanged}
	}
	if c.Sampling {
		wire["sampling"] = map[string]interface{}{}
	}
	return json.Marshal(wire)
}

// ServerCapabilities is the fixed set of capabilities a server can declare
// in its initialize result. Frozen for the lifetime of the connection.
type ServerCapabilities struct {
	Tools                bool
	ToolsListChanged     bool
	Resources            bool
	ResourcesListChanged bool
	Prompts              bool
	PromptsListChanged   bool
	Sampling             bool
}

// featureFlags is the nested wire shape of a single capability entry.
// Presence of the entry declares the feature; listChanged defaults to false.
type featureFlags struct {
	ListChanged bool `json:"listChanged"`
}

// UnmarshalJSON decodes the nested `{tools:{listChanged:bool}, ...}` wire
// shape into the flat record.
func (c *ServerCapabilities) UnmarshalJSON(data []byte) error {
	var wire struct {
		Tools     *featureFlags `json:"tools"`
		Resources *featureFlags `json:"resources"`
		Prompts   *featureFlags `json:"prompts"`
		Sampling  *featureFlags `json:"sampling"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return &ProtocolError{Reason: "malformed server capabilities", Cause: err}
	}
	*c = ServerCapabilities{}
	if wire.Tools != nil {
		c.Tools = true
		c.ToolsListChanged = wire.Tools.ListChanged
	}
	if wire.Resources != nil {
		c.Resources = true
		c.ResourcesListChanged = wire.Resources.ListChanged
	}
	if wire.Prompts != nil {
		c.Prompts = true
		c.PromptsListChanged = wire.Prompts.ListChanged
	}
	if wire.Sampling != nil {
		c.Sampling = true
	}
	return nil
}

// MarshalJSON encodes the capabilities back into the nested wire shape.
func (c ServerCapabilities) MarshalJSON() ([]byte, error) {
	wire := make(map[string]interface{})
	if c.Tools {
		wire["tools"] = featureFlags{ListChanged: c.ToolsListChanged}
	}
	if c.Resources {
		wire["resources"] = featureFlags{ListChanged: c.ResourcesListChanged}
	}
	if c.Prompts {
		wire["prompts"] = featureFlags{ListChanged: c.PromptsListChanged}
	}
	if c.Sampling {
		wire["sampling"] = map[string]interface{}{}
	}
	return json.Marshal(wire)
}

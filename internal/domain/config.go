package domain

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML files can spell timeouts the way Go
// does ("30s", "5m").
type Duration time.Duration

// Duration returns the wrapped standard-library value.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config represents the client configuration.
// This is the root configuration structure loaded from YAML files.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Client    ClientConfig    `yaml:"client"`
}

// TransportConfig defines transport settings.
// Specifies whether to use stdio or SSE transport.
type TransportConfig struct {
	Type  string      `yaml:"type"` // "stdio" or "sse"
	Stdio StdioConfig `yaml:"stdio,omitempty"`
	SSE   SSEConfig   `yaml:"sse,omitempty"`
}

// StdioConfig defines stdio transport settings: the server process to spawn
// and how to spawn it.
type StdioConfig struct {
	Command          string            `yaml:"command"`
	Arguments        []string          `yaml:"arguments,omitempty"`
	WorkingDirectory string            `yaml:"working_directory,omitempty"`
	Environment      map[string]string `yaml:"environment,omitempty"`
}

// SSEConfig defines SSE transport settings.
// Only used when transport type is "sse".
type SSEConfig struct {
	ServerURL             string            `yaml:"server_url"`
	Headers               map[string]string `yaml:"headers,omitempty"`
	Timeout               Duration          `yaml:"timeout,omitempty"`
	SSEReadTimeout        Duration          `yaml:"sse_read_timeout,omitempty"`
	MaxConcurrentRequests int64             `yaml:"max_concurrent_requests,omitempty"`
	TerminateOnClose      *bool             `yaml:"terminate_on_close,omitempty"`

	// OAuthTokenSource is supplied programmatically by the host, never
	// from the file.
	OAuthTokenSource TokenSource `yaml:"-"`
}

// ClientConfig defines the identity and protocol behavior of the client.
type ClientConfig struct {
	Name         string             `yaml:"name"`
	Version      string             `yaml:"version"`
	Capabilities ClientCapabilities `yaml:"capabilities,omitempty"`
	Retry        RetryConfig        `yaml:"handshake_retry,omitempty"`

	// RequestTimeout bounds every request; raise it for hosts that call
	// long-running tools with tracking.
	RequestTimeout Duration `yaml:"request_timeout,omitempty"`
}

// RetryConfig bounds the handshake retry loop.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts,omitempty"`
	Delay       Duration `yaml:"delay,omitempty"`
}

// Configuration defaults.
const (
	DefaultRequestTimeout        = 30 * time.Second
	DefaultSSETimeout            = 30 * time.Second
	DefaultSSEReadTimeout        = 5 * time.Minute
	DefaultMaxConcurrentRequests = 10
	DefaultRetryAttempts         = 3
	DefaultRetryDelay            = 2 * time.Second
)

// LoadConfig reads, defaults, and validates configuration from a YAML file.
// Returns an error if the file is missing, has invalid syntax, or fails
// validation.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("invalid YAML syntax in configuration file: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills unset fields with their design defaults.
func (c *Config) ApplyDefaults() {
	if c.Client.RequestTimeout == 0 {
		c.Client.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if c.Client.Retry.MaxAttempts == 0 {
		c.Client.Retry.MaxAttempts = DefaultRetryAttempts
	}
	if c.Client.Retry.Delay == 0 {
		c.Client.Retry.Delay = Duration(DefaultRetryDelay)
	}
	if c.Transport.SSE.Timeout == 0 {
		c.Transport.SSE.Timeout = Duration(DefaultSSETimeout)
	}
	if c.Transport.SSE.SSEReadTimeout == 0 {
		c.Transport.SSE.SSEReadTimeout = Duration(DefaultSSEReadTimeout)
	}
	if c.Transport.SSE.MaxConcurrentRequests == 0 {
		c.Transport.SSE.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if c.Transport.SSE.TerminateOnClose == nil {
		t := true
		c.Transport.SSE.TerminateOnClose = &t
	}
}

// Validate checks the configuration for completeness and correctness.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateTransport(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.Client.Validate(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// validateTransport validates the transport configuration.
func (c *Config) validateTransport() error {
	var errors []string

	if c.Transport.Type == "" {
		errors = append(errors, "transport type is required")
	} else if c.Transport.Type != "stdio" && c.Transport.Type != "sse" {
		errors = append(errors, fmt.Sprintf("invalid transport type '%s': must be 'stdio' or 'sse'", c.Transport.Type))
	}

	if c.Transport.Type == "stdio" {
		if err := c.Transport.Stdio.Validate(); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if c.Transport.Type == "sse" {
		if err := c.Transport.SSE.Validate(); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}

	return nil
}

// Validate validates the stdio transport configuration.
func (sc *StdioConfig) Validate() error {
	if sc.Command == "" {
		return fmt.Errorf("stdio command is required")
	}
	return nil
}

// Validate validates the SSE transport configuration.
func (sc *SSEConfig) Validate() error {
	var errors []string

	if sc.ServerURL == "" {
		errors = append(errors, "SSE server_url is required")
	} else {
		parsedURL, err := url.Parse(sc.ServerURL)
		if err != nil {
			errors = append(errors, fmt.Sprintf("SSE server_url is invalid: %v", err))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			errors = append(errors, "SSE server_url must use http or https scheme")
		} else if parsedURL.Host == "" {
			errors = append(errors, "SSE server_url must include a host")
		}
	}

	if sc.MaxConcurrentRequests < 0 {
		errors = append(errors, fmt.Sprintf("invalid max_concurrent_requests %d: must not be negative", sc.MaxConcurrentRequests))
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}

	return nil
}

// Validate validates the client identity and retry configuration.
func (cc *ClientConfig) Validate() error {
	var errors []string

	if cc.Name == "" {
		errors = append(errors, "client name is required")
	}
	if cc.Version == "" {
		errors = append(errors, "client version is required")
	}
	if cc.Retry.MaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid handshake_retry max_attempts %d: must be at least 1", cc.Retry.MaxAttempts))
	}
	if cc.RequestTimeout < 0 {
		errors = append(errors, "request_timeout must not be negative")
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}

	return nil
}

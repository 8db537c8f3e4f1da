package domain

import "context"

// TokenSource supplies the bearer token attached to outbound HTTP requests.
// The SSE transport consults it before every POST; token refresh, expiry, and
// OAuth flows all live behind this interface.
type TokenSource interface {
	// Token returns the current bearer token, or an empty string when no
	// authentication is configured.
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same token for every request.
type StaticTokenSource struct {
	value string
}

// NewStaticTokenSource creates a token source around a fixed token.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{value: token}
}

// Token implements TokenSource.
func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	return s.value, nil
}

package voicebridge

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every bridge component.
var (
	// ErrDuplicateSession is returned when a session already exists for a call.
	ErrDuplicateSession = errors.New("session already exists for call")

	// ErrSessionNotFound is returned when no live session matches a call.
	ErrSessionNotFound = errors.New("session not found")

	// ErrConnectionUnavailable is returned when a send targets a closed or unaddressable connection.
	ErrConnectionUnavailable = errors.New("connection unavailable")

	// ErrUpstreamProvider marks failures reported by the AI or telephony provider.
	ErrUpstreamProvider = errors.New("upstream provider error")

	// ErrMalformedEvent marks an unparseable payload from either provider.
	ErrMalformedEvent = errors.New("malformed event")
)

// ProviderError wraps a failure from an upstream provider.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrUpstreamProvider) match any ProviderError.
func (e *ProviderError) Is(target error) bool {
	return target == ErrUpstreamProvider
}

// NewProviderError wraps err as an upstream failure of provider during op.
func NewProviderError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// MalformedError wraps a decode failure as ErrMalformedEvent.
func MalformedError(source string, err error) error {
	return fmt.Errorf("%s: %w: %v", source, ErrMalformedEvent, err)
}

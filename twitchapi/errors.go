package twitchapi

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrUpstreamAuth is returned when the client credentials exchange fails.
	ErrUpstreamAuth = errors.New("twitch token exchange failed")
	// ErrUpstreamQuery is returned when a Helix request fails. An empty result set is not a failure.
	ErrUpstreamQuery = errors.New("twitch helix query failed")
	// ErrUserNotFound is returned by GetUserID when the login does not resolve to a user.
	ErrUserNotFound = errors.New("user not found")
)

// ErrorClass buckets upstream errors for logging and metric labels.
type ErrorClass int

const (
	ErrorClassUnknown ErrorClass = iota
	ErrorClassAuth
	ErrorClassQuery
	ErrorClassTimeout
	ErrorClassCanceled
)

// String returns the label used for the class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassAuth:
		return "auth"
	case ErrorClassQuery:
		return "query"
	case ErrorClassTimeout:
		return "timeout"
	case ErrorClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by this package to an ErrorClass.
// Timeouts win over auth/query so a hung upstream is visible as such.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrorClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassCanceled
	}
	if errors.Is(err, ErrUpstreamAuth) {
		return ErrorClassAuth
	}
	if errors.Is(err, ErrUpstreamQuery) {
		return ErrorClassQuery
	}
	return ErrorClassUnknown
}

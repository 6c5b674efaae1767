package cloud

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a class query yields no records.
var ErrNotFound = errors.New("no matching records")

// ErrNotConnected is wrapped by CommandSendError when the live channel is down.
var ErrNotConnected = errors.New("live channel not connected")

// errCodeInvalidSession is the server error code for an expired session token.
const errCodeInvalidSession = 209

// AuthenticationError is returned when the cloud rejects the credentials.
type AuthenticationError struct {
	StatusCode int
	Message    string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("login failed - %s", e.Message)
}

// CloudRequestError is returned for any non-200 REST response.
type CloudRequestError struct {
	Class      string
	StatusCode int
	Code       int
	Message    string
}

func (e *CloudRequestError) Error() string {
	return fmt.Sprintf("loading %s failed (status %d) - %s", e.Class, e.StatusCode, e.Message)
}

// InvalidSession reports whether the server rejected the session token.
func (e *CloudRequestError) InvalidSession() bool {
	return e.Code == errCodeInvalidSession
}

// CommandSendError is returned when an encoded payload could not be delivered.
type CommandSendError struct {
	Payload string
	Err     error
}

func (e *CommandSendError) Error() string {
	return fmt.Sprintf("send command %s: %v", e.Payload, e.Err)
}

func (e *CommandSendError) Unwrap() error {
	return e.Err
}

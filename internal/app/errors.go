package app

import (
	"errors"
	"fmt"
)

// Local validation failures. These block the operation before any network
// call is made.
var (
	ErrEmptyMessage        = errors.New("message is empty")
	ErrBusy                = errors.New("a chat request is already in flight")
	ErrSessionClosed       = errors.New("session is closed")
	ErrDiningSceneRequired = errors.New("请选择饮食场景")
	ErrFeedbackRequired    = errors.New("请输入反馈内容")
)

type ErrorKind string

const (
	// ErrTransport covers connection failures and request construction errors.
	ErrTransport ErrorKind = "transport"
	// ErrStatus covers non-2xx responses from the backend.
	ErrStatus ErrorKind = "status"
	// ErrDecode covers malformed or unexpected response bodies.
	ErrDecode ErrorKind = "decode"
)

// APIError is the single error shape callers see for any network-originating
// failure. Message carries the backend's message field when one was present.
type APIError struct {
	Kind    ErrorKind
	Status  int
	Path    string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	switch e.Kind {
	case ErrStatus:
		if e.Message != "" {
			return fmt.Sprintf("backend error: status %d, message: %s", e.Status, e.Message)
		}
		return fmt.Sprintf("backend error: status %d", e.Status)
	case ErrDecode:
		return fmt.Sprintf("unexpected response from %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("request to %s failed: %v", e.Path, e.Err)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// UserMessage returns the text shown in a transient notice. Backend messages
// win over the generic fallback.
func (e *APIError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return "网络请求失败，请稍后再试"
}

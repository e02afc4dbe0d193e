package wrpc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joomcode/errorx"
)

// Errors is the namespace of all wrpc errors.
var Errors = errorx.NewNamespace("wrpc")

var (
	// ErrCancelled is the error of a Future whose call was cancelled by the caller.
	ErrCancelled = Errors.NewType("cancelled")
	// ErrClosed is returned for calls on a closed dispatcher or a lost worker.
	ErrClosed = Errors.NewType("closed")
	// ErrNotReady is returned when a worker does not complete the ready handshake.
	ErrNotReady = Errors.NewType("not_ready")
	// ErrProtocol is returned for messages that do not follow the wire protocol.
	ErrProtocol = Errors.NewType("protocol")
	// ErrServiceNotFound is reported when a call names an unregistered service.
	ErrServiceNotFound = Errors.NewType("service_not_found")
	// ErrMethodNotFound is reported when a service has no such method.
	ErrMethodNotFound = Errors.NewType("method_not_found")
	// ErrInvalidArguments is reported when call arguments do not fit the method.
	ErrInvalidArguments = Errors.NewType("invalid_arguments")
	// ErrPanic is reported when a service method panics.
	ErrPanic = Errors.NewType("panic")
)

// RemoteError is an error raised by a service method on a worker.
type RemoteError struct {
	Name    string
	Message string
	Stack   string
}

func (e *RemoteError) Error() string {
	return e.Name + ": " + e.Message
}

// RemoteFailure is a failure value a worker rejected a call with.
type RemoteFailure struct {
	Value any
}

func (e *RemoteFailure) Error() string {
	return fmt.Sprintf("remote failure: %v", e.Value)
}

// FailureValue makes a service fail with an arbitrary value instead of an error.
// The caller receives it as a *RemoteFailure.
type FailureValue struct {
	Value any
}

func (e *FailureValue) Error() string {
	return fmt.Sprintf("failure value: %v", e.Value)
}

// Fail returns an error that rejects the call with v.
func Fail(v any) error {
	return &FailureValue{Value: v}
}

// IsRemote reports whether err is a RemoteError raised with an error of type t.
func IsRemote(err error, t *errorx.Type) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Name == t.FullName()
}

// errorKey marks failure data built from an error. Tagged failure values
// never carry it since codec.Tag rejects "$" keys.
const errorKey = "$error"

// errorPayload builds the {name, message, stack} failure data of err.
func errorPayload(err error) map[string]any {
	payload := map[string]any{
		errorKey:  true,
		"name":    errorName(err),
		"message": err.Error(),
	}
	if x := errorx.Cast(err); x != nil {
		payload["message"] = x.Message()
		payload["stack"] = fmt.Sprintf("%+v", x)
	}
	return payload
}

func errorName(err error) string {
	if x := errorx.Cast(err); x != nil {
		return x.Type().FullName()
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

// remoteError maps the failure data of a reply back to an error on the
// calling side. tree is the data as received and v its restored value.
func remoteError(tree, v any) error {
	if m, ok := tree.(map[string]any); !ok || m[errorKey] != true {
		return &RemoteFailure{Value: v}
	}
	m, _ := v.(map[string]any)
	name, _ := m["name"].(string)
	message, _ := m["message"].(string)
	stack, _ := m["stack"].(string)
	return &RemoteError{Name: name, Message: message, Stack: stack}
}

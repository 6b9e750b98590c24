package phx

import (
	"errors"
	"fmt"
)

// Code identifies the category of an Error.
type Code int

// Error codes reported by the client.
const (
	UnknownError Code = iota

	ConfigurationError

	ConnectionError

	DisconnectedError

	InvalidStateError

	MalformedMessage

	PoolClosedError

	ProtocolError

	TooManyRegistrationsError

	TopicClosed

	HandlerError
)

func (code Code) String() string {
	switch code {
	case ConfigurationError:
		return "ConfigurationError"
	case ConnectionError:
		return "ConnectionError"
	case DisconnectedError:
		return "DisconnectedError"
	case InvalidStateError:
		return "InvalidStateError"
	case MalformedMessage:
		return "MalformedMessageError"
	case PoolClosedError:
		return "PoolClosedError"
	case ProtocolError:
		return "ProtocolError"
	case TooManyRegistrationsError:
		return "TooManyRegistrationsError"
	case TopicClosed:
		return "TopicClosedError"
	case HandlerError:
		return "HandlerError"
	default:
		return "UnknownError"
	}
}

// Error is a coded client error. Two Errors match with errors.Is when their codes are equal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// NewError returns an *Error for errorCode. An optional message may be a string, an error
// (which is wrapped) or any value printable with %v.
func NewError(errorCode Code, message ...interface{}) error {
	err := &Error{Code: errorCode}
	if len(message) == 0 {
		return err
	}

	switch value := message[0].(type) {
	case error:
		err.Message = value.Error()
		err.Err = value
	case string:
		err.Message = value
	default:
		err.Message = fmt.Sprint(value)
	}

	return err
}

func (err *Error) Error() string {
	if err.Message == "" {
		return err.Code.String()
	}
	return fmt.Sprintf("%s: %s", err.Code, err.Message)
}

func (err *Error) Unwrap() error { return err.Err }

// Is reports whether target is an *Error with the same code.
func (err *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == err.Code && other.Message == ""
}

// Sentinel errors for use with errors.Is.
var (
	ErrTooManyRegistrations = &Error{Code: TooManyRegistrationsError}
	ErrTopicClosed          = &Error{Code: TopicClosed}
	ErrMalformedMessage     = &Error{Code: MalformedMessage}
	ErrInvalidState         = &Error{Code: InvalidStateError}
	ErrClientClosed         = &Error{Code: DisconnectedError}
	ErrNotConnected         = &Error{Code: ConnectionError}
	ErrPoolClosed           = &Error{Code: PoolClosedError}
	ErrInvalidConfig        = &Error{Code: ConfigurationError}
)

// DuplicateTopicRegistrationError is returned when a topic is registered twice.
type DuplicateTopicRegistrationError struct {
	Topic         Topic
	ConnectionRef string
}

func (err *DuplicateTopicRegistrationError) Error() string {
	return fmt.Sprintf("%s: topic %s already registered with ref=%q", TooManyRegistrationsError, err.Topic, err.ConnectionRef)
}

func (err *DuplicateTopicRegistrationError) Unwrap() error { return ErrTooManyRegistrations }

// TopicClosedError is raised by the read loop when the peer closes or errors a topic.
type TopicClosedError struct {
	Topic  Topic
	Reason string
}

// Reasons carried by TopicClosedError.
const (
	ReasonUpstreamClosed = "Upstream closed"
	ReasonUpstreamError  = "Upstream error"
)

func (err *TopicClosedError) Error() string {
	return fmt.Sprintf("%s: topic %q: %s", TopicClosed, err.Topic, err.Reason)
}

func (err *TopicClosedError) Unwrap() error { return ErrTopicClosed }

// MalformedMessageError is returned by a Codec that cannot decode a frame.
type MalformedMessageError struct {
	Reason string
	Raw    []byte
	Err    error
}

func (err *MalformedMessageError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("%s: %s: %v", MalformedMessage, err.Reason, err.Err)
	}
	return fmt.Sprintf("%s: %s", MalformedMessage, err.Reason)
}

// Unwrap exposes both the sentinel and the underlying decode error.
func (err *MalformedMessageError) Unwrap() []error {
	if err.Err == nil {
		return []error{ErrMalformedMessage}
	}
	return []error{ErrMalformedMessage, err.Err}
}

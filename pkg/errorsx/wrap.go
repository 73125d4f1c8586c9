package errorsx

import "errors"

// Error carries a reason code alongside the underlying error. The message
// is the underlying error's message.
type Error struct {
	Reason ReasonCode
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare ReasonCode, so errors.Is(err, ReasonStoreSave) works.
func (e *Error) Is(target error) bool {
	code, ok := target.(ReasonCode)
	return ok && code == e.Reason
}

// Wrap tags err with reason. The innermost reason wins: an error that
// already carries one is returned unchanged.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return err
	}
	return &Error{Reason: reason, Err: err}
}

// Reason returns the reason attached with Wrap, or ReasonUnknown.
func Reason(err error) ReasonCode {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Reason
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool {
	return errors.Is(err, reason)
}

package webhook

import (
	"errors"
)

var ErrPayloadMalformed = errors.New("payload malformed")

// HandlerError classifies a handler failure for redelivery purposes.
type HandlerError struct {
	Err       error
	Permanent bool
}

func (e *HandlerError) Error() string {
	if e.Permanent {
		return "permanent: " + e.Err.Error()
	}
	return "transient: " + e.Err.Error()
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Transient marks err as worth a redelivery.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &HandlerError{Err: err}
}

// Permanent marks err as one a redelivery of the same bytes cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &HandlerError{Err: err, Permanent: true}
}

// IsPermanent reports whether err was marked Permanent. Unclassified errors
// are transient.
func IsPermanent(err error) bool {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Permanent
	}
	return false
}

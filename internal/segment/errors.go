package segment

import "errors"

// Reason classifies why an event could not be turned into a request.
type Reason string

const (
	ReasonMissingCredential    Reason = "missing_credential"
	ReasonMissingEventData     Reason = "missing_event_data"
	ReasonMissingRequiredField Reason = "missing_required_field"
)

// ValidationError is returned for every precondition the builder checks.
// Message is stable and safe to show to API callers.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Is matches another ValidationError with the same Reason. A target with an
// empty Message matches any message.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return t.Reason == e.Reason && (t.Message == "" || t.Message == e.Message)
}

// Sentinels for errors.Is.
var (
	ErrMissingCredential    = &ValidationError{Reason: ReasonMissingCredential}
	ErrMissingEventData     = &ValidationError{Reason: ReasonMissingEventData}
	ErrMissingRequiredField = &ValidationError{Reason: ReasonMissingRequiredField}
)

// ReasonOf returns the Reason carried by err, or "" when err is not a
// ValidationError.
func ReasonOf(err error) Reason {
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Reason
	}
	return ""
}

func invalid(reason Reason, msg string) error {
	return &ValidationError{Reason: reason, Message: msg}
}

package models

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced by the pipeline carries exactly one.
var (
	ErrImageLoad       = errors.New("image load error")
	ErrModelLoad       = errors.New("model load error")
	ErrInferenceEngine = errors.New("inference engine error")
	ErrMalformedOutput = errors.New("malformed output error")
	ErrWrite           = errors.New("write error")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

type ProcessingError struct {
	Kind    error
	Message string
	Cause   error
}

func NewError(kind error, message string, cause error) *ProcessingError {
	return &ProcessingError{Kind: kind, Message: message, Cause: cause}
}

// Errorf builds a ProcessingError without a cause.
func Errorf(kind error, format string, args ...interface{}) *ProcessingError {
	return &ProcessingError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *ProcessingError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

var kinds = []error{
	ErrImageLoad,
	ErrModelLoad,
	ErrInferenceEngine,
	ErrMalformedOutput,
	ErrWrite,
	ErrInvalidConfig,
}

// KindOf returns the kind sentinel carried by err, or nil.
func KindOf(err error) error {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

package player

import (
	"errors"
	"fmt"
)

// ErrNoSource is reported when neither a source nor a fallback was supplied
var ErrNoSource = errors.New("no video source provided")

// ErrorType is the client's classification of a stream error
type ErrorType string

const (
	ErrorTypeNetwork ErrorType = "network"
	ErrorTypeMedia   ErrorType = "media"
	ErrorTypeOther   ErrorType = "other"
)

// StreamError is an error reported by a streaming client
type StreamError struct {
	Type    ErrorType
	Fatal   bool
	Details string
	URL     string
	Err     error
}

func (e *StreamError) Error() string {
	severity := "non-fatal"
	if e.Fatal {
		severity = "fatal"
	}
	msg := fmt.Sprintf("%s %s error", severity, e.Type)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StreamError) Unwrap() error { return e.Err }

// ErrorClass is how the engine treats a StreamError
type ErrorClass int

const (
	// ClassTransient errors are logged and playback continues
	ClassTransient ErrorClass = iota
	// ClassNetworkFatal errors are retried on the same URL
	ClassNetworkFatal
	// ClassMediaFatal errors are recovered in place
	ClassMediaFatal
	// ClassUnrecoverable errors switch to the fallback or fail the session
	ClassUnrecoverable
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassNetworkFatal:
		return "network_fatal"
	case ClassMediaFatal:
		return "media_fatal"
	default:
		return "unrecoverable"
	}
}

// Classify maps a stream error to its handling class
func Classify(err *StreamError) ErrorClass {
	if err == nil || !err.Fatal {
		return ClassTransient
	}
	switch err.Type {
	case ErrorTypeNetwork:
		return ClassNetworkFatal
	case ErrorTypeMedia:
		return ClassMediaFatal
	default:
		return ClassUnrecoverable
	}
}

// CapabilityError means no playback mechanism is available. It never retries.
type CapabilityError struct {
	Reason string
	Err    error
}

func (e *CapabilityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HLS not supported: %s: %v", e.Reason, e.Err)
	}
	return "HLS not supported: " + e.Reason
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// PlaybackFailure is the terminal error once recovery and fallback are exhausted
type PlaybackFailure struct {
	URL          string
	UsedFallback bool
	Err          error
}

func (e *PlaybackFailure) Error() string {
	var se *StreamError
	if errors.As(e.Err, &se) {
		return fmt.Sprintf("HLS fatal error: %s", se.Type)
	}
	return fmt.Sprintf("playback failed: %v", e.Err)
}

func (e *PlaybackFailure) Unwrap() error { return e.Err }

// IsTerminal reports whether err ends a session
func IsTerminal(err error) bool {
	var ce *CapabilityError
	var pf *PlaybackFailure
	return errors.As(err, &ce) || errors.As(err, &pf) || errors.Is(err, ErrNoSource)
}

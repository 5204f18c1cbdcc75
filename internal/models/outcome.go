package models

import (
	"fmt"
	"time"
)

// FailureKind classifies why a reviewer call produced no text.
type FailureKind string

const (
	FailureTimeout         FailureKind = "timeout"
	FailureProcessNotFound FailureKind = "process_not_found"
	FailureHTTP            FailureKind = "http_error"
	FailureEmptyOutput     FailureKind = "empty_output"
	FailureException       FailureKind = "exception"
)

// Success is a reviewer call that returned text.
type Success struct {
	RawText string         `json:"raw_text"`
	Latency time.Duration  `json:"latency"`
	Usage   map[string]any `json:"usage,omitempty"`
}

// Failure is a reviewer call that did not return usable text.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Status  int         `json:"status,omitempty"`
	Body    string      `json:"body,omitempty"`
	Message string      `json:"message,omitempty"`
}

func (f *Failure) Error() string {
	switch f.Kind {
	case FailureHTTP:
		return fmt.Sprintf("HTTP %d: %s", f.Status, f.Body)
	case FailureTimeout:
		return "timeout"
	case FailureProcessNotFound:
		if f.Message != "" {
			return "command not found: " + f.Message
		}
		return "command not found"
	case FailureEmptyOutput:
		return "empty output"
	default:
		return f.Message
	}
}

// Outcome is the result of one reviewer call. Exactly one of Success or Failure is set.
type Outcome struct {
	Success *Success `json:"success,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

// Succeeded builds a success outcome.
func Succeeded(raw string, latency time.Duration, usage map[string]any) Outcome {
	return Outcome{Success: &Success{RawText: raw, Latency: latency, Usage: usage}}
}

// Failed builds a failure outcome.
func Failed(f Failure) Outcome {
	return Outcome{Failure: &f}
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool {
	return o.Success != nil
}

// Class is a short label used in logs: "success" or the failure kind.
func (o Outcome) Class() string {
	if o.Success != nil {
		return "success"
	}
	if o.Failure != nil {
		return string(o.Failure.Kind)
	}
	return "unknown"
}

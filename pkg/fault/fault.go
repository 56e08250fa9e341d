// Copyright 2026 Hearth Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package fault defines the error taxonomy shared by all Hearth services.
// Every error that crosses a component boundary carries a Kind so callers
// can decide between recovery, fallback, and surfacing to the client.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for recovery decisions and HTTP mapping.
type Kind string

const (
	// KindBadRequest indicates input that fails schema or constraint checks.
	KindBadRequest Kind = "bad_request"

	// KindNotFound indicates an unknown agent, verb, or record.
	KindNotFound Kind = "not_found"

	// KindUnauthorized indicates a missing or invalid identity.
	KindUnauthorized Kind = "unauthorized"

	// KindForbidden indicates a policy denial.
	KindForbidden Kind = "forbidden"

	// KindLowConfidence indicates the interpreter fell below the agent's
	// confidence threshold and no fallback capability was configured.
	KindLowConfidence Kind = "low_confidence"

	// KindUpstreamTimeout indicates the LLM, a dependency, or an adapter
	// exceeded its deadline.
	KindUpstreamTimeout Kind = "upstream_timeout"

	// KindUpstreamUnavailable indicates the LLM or a dependency is unreachable.
	KindUpstreamUnavailable Kind = "upstream_unavailable"

	// KindResourceExhausted indicates a queue or concurrency bound was hit.
	KindResourceExhausted Kind = "resource_exhausted"

	// KindConflict indicates a duplicate registration or write conflict.
	KindConflict Kind = "conflict"

	// KindInternal indicates an unclassified bug.
	KindInternal Kind = "internal"
)

// Error is a structured error with a machine-readable kind.
type Error struct {
	// Kind is the taxonomy classification
	Kind Kind

	// Message is a human-readable message (never secrets)
	Message string

	// Details provides additional context for the client
	Details map[string]interface{}

	// cause is the wrapped error, if any
	cause error
}

// New creates a fault error with the given kind and message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a fault error wrapping an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		cause:   cause,
	}
}

// WithDetails attaches details to the error and returns it.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf extracts the Kind from an error chain.
// Plain errors classify as internal; context deadline errors as upstream_timeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindLowConfidence:
		return http.StatusUnprocessableEntity
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case KindResourceExhausted:
		return http.StatusTooManyRequests
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the JSON error body returned by every HTTP endpoint.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

// EnvelopeBody carries the error fields inside the envelope.
type EnvelopeBody struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ToEnvelope converts any error into the wire envelope.
func ToEnvelope(err error) Envelope {
	var fe *Error
	if errors.As(err, &fe) {
		return Envelope{Error: EnvelopeBody{Kind: fe.Kind, Message: fe.Message, Details: fe.Details}}
	}
	return Envelope{Error: EnvelopeBody{Kind: KindInternal, Message: err.Error()}}
}

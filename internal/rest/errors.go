// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package rest

import (
	"errors"
	"fmt"
)

// ErrRetriesExhausted is matched by errors.Is when a request kept timing out
// until the attempt ceiling was reached. The outcome of such a request is
// unknown: it may or may not have been applied remotely.
var ErrRetriesExhausted = errors.New("rest: retries exhausted")

// ExhaustedError is returned by Client.Do when every attempt failed with a
// transient timeout.
type ExhaustedError struct {
	Method   string
	Path     string
	Attempts int
	Err      error // Last transient error.
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("rest: %s %s: giving up after %d attempts: %v", e.Method, e.Path, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Is reports whether target is ErrRetriesExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// StatusError describes a non-2xx response. Client.Do never returns it as an
// error; it is available through Response.StatusError.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string // The "message" field of the error body, if any.
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rest: %s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("rest: %s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package rpc

import "fmt"

// Wire-level JSON-RPC error codes, as used by the JSON-RPC 2.0 spec and by
// the error taxonomy in spec.md §6-§7.
const (
	errcodeParseError     = -32700
	errcodeInvalidRequest = -32600
	errcodeMethodNotFound = -32601
	errcodeInvalidParams  = -32602
	errcodeInternal       = -32603
	errcodeServer         = 0
)

// Error is a JSON-RPC 2.0 error object. Every error surfaced on the wire,
// whatever its Go origin, is normalized into one of these before being
// written into a response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

func newError(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func parseError(msg string) *Error {
	return newError(errcodeParseError, "%s", msg)
}

func invalidRequestError(msg string) *Error {
	return newError(errcodeInvalidRequest, "%s", msg)
}

func methodNotFoundError(method string) *Error {
	return newError(errcodeMethodNotFound, "the method %s does not exist/is not available", method)
}

func invalidParamsError(msg string) *Error {
	return newError(errcodeInvalidParams, "%s", msg)
}

// serverErrorBusy is returned to the client when a registered method's
// handler queue is full and backpressure rejects the call (spec.md §6,
// "server-error code 0 for backpressure rejection").
var serverErrorBusy = newError(errcodeServer, "server is busy, try again later")

// IntoSubscriptionErr enumerates the ways promoting a request into a
// subscription (spec.md §4.4) can fail.
type IntoSubscriptionErr int

const (
	// ErrNotSupported is returned when the transport that delivered the
	// request cannot keep the connection open for further writes.
	ErrNotSupported IntoSubscriptionErr = iota + 1
	// ErrAlreadyClosed is returned when the enclosing batch's connection
	// tag has already been cleared because the connection is gone.
	ErrAlreadyClosed
)

func (e IntoSubscriptionErr) Error() string {
	switch e {
	case ErrNotSupported:
		return "transport does not support resuming this connection"
	case ErrAlreadyClosed:
		return "connection is already closed"
	default:
		return "unknown subscription promotion error"
	}
}

// MethodAlreadyRegisteredError is returned by the front-end when a method,
// notification, or subscribe/unsubscribe name collides with one already
// registered (spec.md I4).
type MethodAlreadyRegisteredError struct {
	Name string
}

func (e *MethodAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("method %q is already registered", e.Name)
}

// ErrInternal is returned by front-end operations when the control queue
// could not be reached because the background task has already exited.
var ErrInternal = fmt.Errorf("rpc: background task is gone")

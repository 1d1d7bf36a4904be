// Package tools provides the tool registry and execution framework.
//
// This file defines the error types for tool registration and execution.
// Registration errors (DuplicateToolError, InvalidToolNameError) indicate
// a programming mistake in a tool definition and are fatal at startup.
// Execution errors (UnknownToolError, InvalidArgumentsError, HandlerError)
// are per-call conditions; callers render them into the tool result
// payload fed back to the model rather than terminating the session.
package tools

import "fmt"

// DuplicateToolError is returned by Register when a tool name is
// already taken. The registry is unchanged after the failed attempt.
type DuplicateToolError struct {
	Name string
}

// Error implements the error interface.
func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// InvalidToolNameError is returned by Register when a tool name
// contains characters outside [A-Za-z0-9_].
type InvalidToolNameError struct {
	Name string
}

// Error implements the error interface.
func (e *InvalidToolNameError) Error() string {
	return fmt.Sprintf("invalid tool name %q (allowed: letters, digits, underscore)", e.Name)
}

// UnknownToolError is returned by Execute when the named tool is not
// registered. The handler is never invoked.
type UnknownToolError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// InvalidArgumentsError is returned by Execute when the arguments do
// not satisfy the tool's input schema. The handler is never invoked.
type InvalidArgumentsError struct {
	Tool   string
	Reason string
}

// Error implements the error interface.
func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %s: %s", e.Tool, e.Reason)
}

// HandlerError wraps a failure inside a tool handler (error return or
// panic). It is a per-call condition, never a process fault.
type HandlerError struct {
	Tool string
	Err  error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

// Unwrap exposes the underlying handler failure.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Package types defines core data structures for the bueller issue orchestrator.
package types

import (
	"fmt"
	"strings"
)

// Author identifies who wrote a conversation turn.
type Author string

// Author constants. No other values are valid.
const (
	AuthorUser   Author = "user"
	AuthorClaude Author = "claude"
)

// IsValid checks if the author value is one of the known authors
func (a Author) IsValid() bool {
	switch a {
	case AuthorUser, AuthorClaude:
		return true
	}
	return false
}

// Message is one turn in an issue conversation.
type Message struct {
	Index   int    `json:"index"` // Assigned at parse time, never stored in the file
	Author  Author `json:"author"`
	Content string `json:"content"`
}

// Issue is a task record decoded from a markdown conversation file.
//
// Name and Lifecycle are derived from the file path by the store; they are
// not part of the encoded format. An issue has no status field: the
// directory holding its file is its state.
type Issue struct {
	Name       string    `json:"name,omitempty"`
	Lifecycle  Lifecycle `json:"lifecycle,omitempty"`
	Messages   []Message `json:"messages"`
	RawContent string    `json:"-"` // Original bytes, kept for pass-through appends
}

// Lifecycle is the directory an issue file currently lives in.
type Lifecycle string

// Lifecycle constants
const (
	LifecycleOpen   Lifecycle = "open"   // Awaiting or under iteration
	LifecycleReview Lifecycle = "review" // Resolved, awaiting human review
	LifecycleStuck  Lifecycle = "stuck"  // Needs human intervention
)

// Lifecycles lists every lifecycle in discovery order.
var Lifecycles = []Lifecycle{LifecycleOpen, LifecycleReview, LifecycleStuck}

// IsValid checks if the lifecycle value is valid
func (l Lifecycle) IsValid() bool {
	switch l {
	case LifecycleOpen, LifecycleReview, LifecycleStuck:
		return true
	}
	return false
}

// Dir returns the directory name for the lifecycle.
func (l Lifecycle) Dir() string {
	return string(l)
}

// ParseLifecycle converts a user-supplied name into a Lifecycle.
func ParseLifecycle(s string) (Lifecycle, error) {
	l := Lifecycle(strings.ToLower(strings.TrimSpace(s)))
	if !l.IsValid() {
		return "", fmt.Errorf("invalid lifecycle %q (expected open, review or stuck)", s)
	}
	return l, nil
}

// Signal is the termination classification of an agent turn.
type Signal string

// Signal constants
const (
	SignalContinue Signal = "continue"
	SignalDone     Signal = "done"
	SignalStuck    Signal = "stuck"
)

// IsValid checks if the signal value is valid
func (s Signal) IsValid() bool {
	switch s {
	case SignalContinue, SignalDone, SignalStuck:
		return true
	}
	return false
}

// State is the iteration controller state for one issue run.
type State string

// State constants. Done, Stuck and Exhausted are terminal and relocate the
// issue; Failed and TimedOut end the run but leave the issue open.
const (
	StateRunning   State = "running"
	StateDone      State = "done"
	StateStuck     State = "stuck"
	StateExhausted State = "exhausted"
	StateFailed    State = "failed"
	StateTimedOut  State = "timeout"
)

// IsTerminal reports whether the state ends the issue's lifecycle in open.
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StateStuck, StateExhausted:
		return true
	}
	return false
}

// Destination returns the lifecycle a terminal state relocates the issue to.
// Non-terminal states return false.
func (s State) Destination() (Lifecycle, bool) {
	switch s {
	case StateDone:
		return LifecycleReview, true
	case StateStuck, StateExhausted:
		return LifecycleStuck, true
	}
	return "", false
}

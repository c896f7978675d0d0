// Package bueller provides a minimal public API for driving issue
// conversations from Go programs.
//
// It exports the issue types, the file store and the controller so that
// other tools can embed a run loop with their own agent Gateway. The bueller
// command is built on the same pieces.
package bueller

import (
	"github.com/bueller/bueller/internal/agent"
	"github.com/bueller/bueller/internal/controller"
	"github.com/bueller/bueller/internal/conversation"
	"github.com/bueller/bueller/internal/storage"
	"github.com/bueller/bueller/internal/storage/fsstore"
	"github.com/bueller/bueller/internal/types"
)

// Core types for working with issues
type (
	Issue     = types.Issue
	Message   = types.Message
	Author    = types.Author
	Lifecycle = types.Lifecycle
	Signal    = types.Signal
	State     = types.State
)

// Author constants
const (
	AuthorUser   = types.AuthorUser
	AuthorClaude = types.AuthorClaude
)

// Lifecycle constants
const (
	LifecycleOpen   = types.LifecycleOpen
	LifecycleReview = types.LifecycleReview
	LifecycleStuck  = types.LifecycleStuck
)

// Signal constants
const (
	SignalContinue = types.SignalContinue
	SignalDone     = types.SignalDone
	SignalStuck    = types.SignalStuck
)

// Store is the issue store interface.
type Store = storage.Store

// Agent types
type (
	Gateway     = agent.Gateway
	GatewayFunc = agent.GatewayFunc
	Request     = agent.Request
	Response    = agent.Response
)

// Controller types
type (
	Controller       = controller.Controller
	ControllerConfig = controller.Config
	Result           = controller.Result
	Summary          = controller.Summary
)

// Store errors
var (
	ErrNotFound = storage.ErrNotFound
	ErrConflict = storage.ErrConflict
)

// NewFileStore opens the issues directory at dir. Call Init to create the
// lifecycle directories.
func NewFileStore(dir string) Store {
	return fsstore.New(dir)
}

// NewController returns a controller processing issues in store with gw.
func NewController(store Store, gw Gateway, cfg ControllerConfig) (*Controller, error) {
	return controller.New(store, gw, cfg)
}

// ParseConversation decodes issue file content.
func ParseConversation(content string) *Issue {
	return conversation.Parse(content)
}

// ClassifySignal reads the status marker at the end of an agent reply.
func ClassifySignal(content string) Signal {
	return conversation.ClassifySignal(content)
}

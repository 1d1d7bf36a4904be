// Package agent implements the client-side session loop: it owns the
// conversation history, requests model completions, dispatches any
// requested tool calls through the registry, and feeds the results back
// until the model produces plain text.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nimbuslabs/nimbus/internal/llm"
	"github.com/nimbuslabs/nimbus/internal/mcp"
	"github.com/nimbuslabs/nimbus/internal/tools"
)

// State is the session loop's position in its lifecycle.
type State int

const (
	// StateAwaitingUserInput means the session is idle between turns.
	StateAwaitingUserInput State = iota

	// StateAwaitingCompletion means a model request is in flight.
	StateAwaitingCompletion

	// StateDispatchingTools means tool calls from the last completion
	// are being executed, one at a time, in request order.
	StateDispatchingTools

	// StateTerminated means the session is dead: the session ended
	// explicitly or a tool server channel broke. A terminated session
	// rejects further turns.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingUserInput:
		return "awaiting_user_input"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateDispatchingTools:
		return "dispatching_tools"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// defaultMaxToolRounds bounds tool-call chains within one turn.
const defaultMaxToolRounds = 8

// ToolCallObserver is notified before each tool dispatch. The REPL uses
// this to print progress markers.
type ToolCallObserver func(name string, args map[string]any)

// Session drives one conversation: it appends user input, requests
// completions, dispatches tool calls sequentially, and returns the
// model's final text. A session is single-threaded; Turn must not be
// called concurrently.
type Session struct {
	id       string
	logger   *slog.Logger
	llm      llm.Client
	model    string
	registry *tools.Registry

	systemPrompt  string
	maxToolRounds int
	observer      ToolCallObserver

	state    State
	messages []llm.Message
}

// NewSession creates a session for the given model and tool registry.
func NewSession(logger *slog.Logger, client llm.Client, model string, registry *tools.Registry) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	sessionID, _ := uuid.NewV7()
	id := sessionID.String()

	return &Session{
		id:            id,
		logger:        logger.With("session_id", id),
		llm:           client,
		model:         model,
		registry:      registry,
		maxToolRounds: defaultMaxToolRounds,
		state:         StateAwaitingUserInput,
	}
}

// SetSystemPrompt sets the system prompt prepended to every completion
// request.
func (s *Session) SetSystemPrompt(prompt string) {
	s.systemPrompt = prompt
}

// SetMaxToolRounds caps the number of tool-dispatch rounds within one
// turn. Values below 1 keep the default.
func (s *Session) SetMaxToolRounds(n int) {
	if n >= 1 {
		s.maxToolRounds = n
	}
}

// SetToolCallObserver registers a callback invoked before each tool
// dispatch.
func (s *Session) SetToolCallObserver(fn ToolCallObserver) {
	s.observer = fn
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// History returns a copy of the conversation so far.
func (s *Session) History() []llm.Message {
	out := make([]llm.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Reset discards the conversation history. The session keeps its
// identity and configuration. Resetting a terminated session is an
// error; the tool server channel is gone.
func (s *Session) Reset() error {
	if s.state == StateTerminated {
		return fmt.Errorf("session %s is terminated", s.id)
	}
	s.messages = nil
	s.state = StateAwaitingUserInput
	s.logger.Info("conversation reset")
	return nil
}

// Terminate ends the session explicitly. Subsequent turns fail.
func (s *Session) Terminate() {
	if s.state == StateTerminated {
		return
	}
	s.state = StateTerminated
	s.logger.Info("session terminated")
}

// Turn runs one full user turn: append the input, request completions,
// dispatch any tool calls in order, and return the model's final text.
// Per-call tool failures are fed back to the model as error payloads; a
// broken tool server channel terminates the session and surfaces a
// *mcp.TransportError.
func (s *Session) Turn(ctx context.Context, input string) (string, error) {
	if s.state == StateTerminated {
		return "", fmt.Errorf("session %s is terminated", s.id)
	}
	if s.state != StateAwaitingUserInput {
		return "", fmt.Errorf("turn already in progress (state %s)", s.state)
	}

	s.messages = append(s.messages, llm.Message{Role: "user", Content: input})
	s.state = StateAwaitingCompletion

	toolDefs := s.registry.List()
	start := time.Now()

	for round := 0; round < s.maxToolRounds; round++ {
		if err := ctx.Err(); err != nil {
			s.state = StateAwaitingUserInput
			return "", fmt.Errorf("turn cancelled: %w", err)
		}

		resp, err := s.llm.Chat(ctx, s.model, s.withSystem(), toolDefs)
		if err != nil {
			s.state = StateAwaitingUserInput
			return "", fmt.Errorf("completion failed (round %d): %w", round, err)
		}

		s.logger.Debug("completion received",
			"round", round,
			"tool_calls", len(resp.Message.ToolCalls),
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)

		// Plain text means the turn is done.
		if len(resp.Message.ToolCalls) == 0 {
			s.messages = append(s.messages, resp.Message)
			s.state = StateAwaitingUserInput
			s.logger.Info("turn complete",
				"rounds", round+1,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return resp.Message.Content, nil
		}

		s.messages = append(s.messages, resp.Message)
		s.state = StateDispatchingTools

		if err := s.dispatch(ctx, resp.Message.ToolCalls); err != nil {
			s.state = StateTerminated
			return "", err
		}

		s.state = StateAwaitingCompletion
	}

	// Round budget exhausted. One last completion with no tools offered
	// forces the model to answer in text.
	s.logger.Warn("tool round budget exhausted", "max_rounds", s.maxToolRounds)

	resp, err := s.llm.Chat(ctx, s.model, s.withSystem(), nil)
	if err != nil {
		s.state = StateAwaitingUserInput
		return "", fmt.Errorf("final completion failed: %w", err)
	}

	s.messages = append(s.messages, resp.Message)
	s.state = StateAwaitingUserInput
	return resp.Message.Content, nil
}

// dispatch executes the completion's tool calls one at a time, in
// request order, appending each result to the conversation. Per-call
// failures become error payloads; a transport failure aborts without
// appending a result.
func (s *Session) dispatch(ctx context.Context, calls []llm.ToolCall) error {
	for _, tc := range calls {
		name := tc.Function.Name
		args := tc.Function.Arguments

		if s.observer != nil {
			s.observer(name, args)
		}

		toolStart := time.Now()
		result, err := s.registry.Execute(ctx, name, args)
		if err != nil {
			var te *mcp.TransportError
			if errors.As(err, &te) {
				s.logger.Error("tool server channel broken",
					"tool", name,
					"server", te.Server,
					"error", te.Err,
				)
				return fmt.Errorf("tool %s: %w", name, te)
			}

			// Unknown tool, bad arguments, or a handler failure: the
			// model sees the error text and can retry or explain.
			s.logger.Warn("tool call failed", "tool", name, "error", err)
			result = "Error: " + err.Error()
		} else {
			s.logger.Debug("tool call done",
				"tool", name,
				"result_len", len(result),
				"elapsed", time.Since(toolStart).Round(time.Millisecond),
			)
		}

		s.messages = append(s.messages, llm.Message{
			Role:       "tool",
			Content:    result,
			ToolCallID: tc.ID,
		})
	}
	return nil
}

// withSystem returns the conversation with the system prompt prepended.
func (s *Session) withSystem() []llm.Message {
	if s.systemPrompt == "" {
		return s.messages
	}
	out := make([]llm.Message, 0, len(s.messages)+1)
	out = append(out, llm.Message{Role: "system", Content: s.systemPrompt})
	out = append(out, s.messages...)
	return out
}

// Package protocol defines the JSON message shapes spoken on the streaming
// channel and decodes inbound frames into a closed tagged variant. Frames
// are decoded exactly once, at the transport boundary; everything past
// that point works with typed messages.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Type discriminates a streaming message.
type Type string

const (
	TypeGrepSearch    Type = "grep_search"
	TypeGrepStarted   Type = "grep_started"
	TypeGrepResult    Type = "grep_result"
	TypeGrepCompleted Type = "grep_completed"
	TypeKillShell     Type = "kill_shell"
	TypeShellResult   Type = "shell_result"
)

// Message is the closed set of inbound messages. Exactly one of the
// concrete types below implements it per tag.
type Message interface {
	Type() Type
}

// SearchOptions mirror the options block of a grep_search request.
type SearchOptions struct {
	CaseSensitive bool   `json:"caseSensitive"`
	UseRegex      bool   `json:"useRegex"`
	Include       string `json:"include"` // "all", "code" or "text"
	Extension     string `json:"extension,omitempty"`
}

// GrepSearch is the client→server message starting a streaming search.
type GrepSearch struct {
	Kind    Type          `json:"type"`
	Query   string        `json:"query"`
	Options SearchOptions `json:"options"`
}

func (GrepSearch) Type() Type { return TypeGrepSearch }

// NewGrepSearch builds a start-search message.
func NewGrepSearch(query string, opts SearchOptions) GrepSearch {
	return GrepSearch{Kind: TypeGrepSearch, Query: query, Options: opts}
}

// GrepStarted acknowledges that the server began streaming.
type GrepStarted struct {
	Kind Type `json:"type"`
}

func (GrepStarted) Type() Type { return TypeGrepStarted }

// NewGrepStarted builds the ack frame.
func NewGrepStarted() GrepStarted { return GrepStarted{Kind: TypeGrepStarted} }

// GrepResult carries one partial search result.
type GrepResult struct {
	Kind   Type          `json:"type"`
	Result ResultPayload `json:"result"`
}

func (GrepResult) Type() Type { return TypeGrepResult }

// NewGrepResult wraps one match payload.
func NewGrepResult(payload ResultPayload) GrepResult {
	return GrepResult{Kind: TypeGrepResult, Result: payload}
}

// ResultPayload is the wire form of a single match. The match line sits
// at the second-to-last position of ContextLines.
type ResultPayload struct {
	File         string   `json:"file"`
	LineNumber   int      `json:"lineNumber"`
	Content      string   `json:"content"`
	ContextLines []string `json:"contextLines"`
}

// GrepCompleted is the terminal message of a streaming search.
type GrepCompleted struct {
	Kind          Type  `json:"type"`
	DurationMs    int64 `json:"duration"`
	SearchedFiles int   `json:"searchedFiles"`
}

func (GrepCompleted) Type() Type { return TypeGrepCompleted }

// NewGrepCompleted builds the terminal frame.
func NewGrepCompleted(durationMs int64, searchedFiles int) GrepCompleted {
	return GrepCompleted{Kind: TypeGrepCompleted, DurationMs: durationMs, SearchedFiles: searchedFiles}
}

// KillShell is the client→server destructive command dispatch. Exactly
// one parameter variant is populated: {pid}, {pid,signal}, {name} or
// {port}. An omitted signal means the platform-default termination
// signal.
type KillShell struct {
	Kind   Type   `json:"type"`
	PID    int    `json:"pid,omitempty"`
	Signal string `json:"signal,omitempty"`
	Name   string `json:"name,omitempty"`
	Port   int    `json:"port,omitempty"`
}

func (KillShell) Type() Type { return TypeKillShell }

// ShellResult is the optional async ack for a kill_shell dispatch. The
// backend does not guarantee delivery.
type ShellResult struct {
	Kind    Type   `json:"type"`
	Command string `json:"command"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (ShellResult) Type() Type { return TypeShellResult }

// NewShellResult builds a kill_shell ack frame.
func NewShellResult(success bool, message, errText string) ShellResult {
	return ShellResult{Kind: TypeShellResult, Command: "kill_shell", Success: success, Message: message, Error: errText}
}

// Unknown is the explicit branch for tags outside the closed set. The
// transport logs and drops it; nothing downstream ever sees one.
type Unknown struct {
	Tag string
	Raw json.RawMessage
}

func (Unknown) Type() Type { return Type("") }

type envelope struct {
	Type Type `json:"type"`
}

// Decode parses one inbound frame into a typed message. A frame that is
// not valid JSON or lacks a type tag returns an error; a well-formed
// frame with an unrecognized tag returns Unknown, not an error, so the
// caller can log it distinctly from garbage.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("frame has no type tag")
	}

	switch env.Type {
	case TypeGrepSearch:
		var msg GrepSearch
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeKillShell:
		var msg KillShell
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeGrepStarted:
		return NewGrepStarted(), nil
	case TypeGrepResult:
		var msg GrepResult
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeGrepCompleted:
		var msg GrepCompleted
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeShellResult:
		var msg ShellResult
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", env.Type, err)
		}
		return msg, nil
	default:
		return Unknown{Tag: string(env.Type), Raw: json.RawMessage(data)}, nil
	}
}

// Encode marshals an outbound message.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	return data, nil
}

// Package commands parses the board's command palette input into typed
// commands and dispatches them to handlers.
package commands

import (
	"fmt"
	"strings"

	"github.com/sandeepkv93/tasklane/internal/model"
)

type Type string

const (
	TypeAdd    Type = "add"
	TypeLink   Type = "link"
	TypeUnlink Type = "unlink"
	TypeDone   Type = "done"
	TypeUndo   Type = "undo"
)

type ErrorCode string

const (
	ErrCodeEmptyInput      ErrorCode = "empty_input"
	ErrCodeUnknownCommand  ErrorCode = "unknown_command"
	ErrCodeInvalidArgument ErrorCode = "invalid_argument"
	ErrCodeHandlerMissing  ErrorCode = "handler_missing"
)

type CommandError struct {
	Code    ErrorCode
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type AddArgs struct {
	Text    string
	Project string
}

// BlockerArgs carries the operands of link and unlink.
type BlockerArgs struct {
	TaskID  string
	Blocker model.Blocker
}

// TargetArgs names the task of done and undo.
type TargetArgs struct {
	TaskID string
}

type Command struct {
	Type   Type
	Raw    string
	Add    *AddArgs
	Link   *BlockerArgs
	Unlink *BlockerArgs
	Done   *TargetArgs
	Undo   *TargetArgs
}

func Parse(input string) (Command, error) {
	raw := strings.TrimSpace(input)
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "/"))
	if raw == "" {
		return Command{}, &CommandError{Code: ErrCodeEmptyInput, Message: "command is empty"}
	}

	parts := strings.Fields(raw)
	head := strings.ToLower(parts[0])
	args := parts[1:]

	switch Type(head) {
	case TypeAdd:
		return parseAdd(input, args)
	case TypeLink, TypeUnlink:
		return parseBlocker(input, Type(head), args)
	case TypeDone, TypeUndo:
		return parseTarget(input, Type(head), args)
	default:
		return Command{}, &CommandError{Code: ErrCodeUnknownCommand, Message: fmt.Sprintf("unsupported command: %s", head)}
	}
}

// parseAdd takes the remaining words as the task text. A project:<id> word
// anywhere in the input files the task under that project.
func parseAdd(raw string, args []string) (Command, error) {
	out := AddArgs{}
	words := make([]string, 0, len(args))
	for _, arg := range args {
		if strings.HasPrefix(strings.ToLower(arg), "project:") {
			out.Project = strings.TrimSpace(arg[len("project:"):])
			continue
		}
		words = append(words, arg)
	}
	out.Text = strings.TrimSpace(strings.Join(words, " "))
	if out.Text == "" {
		return Command{}, &CommandError{Code: ErrCodeInvalidArgument, Message: "add requires text"}
	}
	return Command{Type: TypeAdd, Raw: raw, Add: &out}, nil
}

func parseBlocker(raw string, typ Type, args []string) (Command, error) {
	if len(args) != 2 {
		return Command{}, &CommandError{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf("%s requires a task and a blocker", typ)}
	}
	b, err := model.ParseBlocker(args[1])
	if err != nil {
		return Command{}, &CommandError{Code: ErrCodeInvalidArgument, Message: err.Error()}
	}
	ba := &BlockerArgs{TaskID: args[0], Blocker: b}
	cmd := Command{Type: typ, Raw: raw}
	if typ == TypeLink {
		cmd.Link = ba
	} else {
		cmd.Unlink = ba
	}
	return cmd, nil
}

func parseTarget(raw string, typ Type, args []string) (Command, error) {
	if len(args) != 1 {
		return Command{}, &CommandError{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf("%s requires a task", typ)}
	}
	ta := &TargetArgs{TaskID: args[0]}
	cmd := Command{Type: typ, Raw: raw}
	if typ == TypeDone {
		cmd.Done = ta
	} else {
		cmd.Undo = ta
	}
	return cmd, nil
}

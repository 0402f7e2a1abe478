// Package command builds shell command lines from typed arguments.
//
// Job-lists and remote submissions are consumed by a POSIX shell on the
// cluster side, so every argument is validated and quoted individually
// instead of being concatenated into a string.
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

var (
	ErrEmptyPath  = errors.New("command: empty program path")
	ErrUnsafeChar = errors.New("command: argument contains NUL or line break")
)

// Command is a program and its arguments.
type Command struct {
	Path string
	Args []string
}

// New creates a Command.
func New(path string, args ...string) Command {
	return Command{Path: path, Args: args}
}

// With returns a copy of c with extra arguments appended.
func (c Command) With(args ...string) Command {
	out := Command{Path: c.Path, Args: make([]string, 0, len(c.Args)+len(args))}
	out.Args = append(out.Args, c.Args...)
	out.Args = append(out.Args, args...)
	return out
}

// Argv returns the program followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// Validate checks that the command can be rendered as a single shell line.
func (c Command) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return ErrEmptyPath
	}
	for i, a := range c.Argv() {
		if err := CheckArg(a); err != nil {
			return fmt.Errorf("argument %d %q: %w", i, a, err)
		}
	}
	return nil
}

// String renders the command as one shell-quoted line.
func (c Command) String() string {
	return shellquote.Join(c.Argv()...)
}

// Render validates and renders the command.
func (c Command) Render() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c.String(), nil
}

// Parse splits a line produced by String back into a Command.
func Parse(line string) (Command, error) {
	words, err := shellquote.Split(line)
	if err != nil {
		return Command{}, fmt.Errorf("command: parse %q: %w", line, err)
	}
	if len(words) == 0 {
		return Command{}, ErrEmptyPath
	}
	return Command{Path: words[0], Args: words[1:]}, nil
}

// CheckArg rejects characters that cannot survive a line-oriented file or argv.
func CheckArg(a string) error {
	if strings.ContainsAny(a, "\x00\n\r") {
		return ErrUnsafeChar
	}
	return nil
}

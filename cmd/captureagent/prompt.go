package main

import (
	"errors"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// DirPrompter asks the operator for the output base directory.
type DirPrompter interface {
	PromptDir() (string, error)
}

type readlinePrompter struct {
	prompt string
}

// PromptDir reads one line. An empty answer or EOF selects the working
// directory.
func (p readlinePrompter) PromptDir() (string, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          p.prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "",
	})
	if err != nil {
		return "", err
	}
	defer rl.Close()

	line, err := rl.Readline()
	switch {
	case errors.Is(err, io.EOF):
		return ".", nil
	case errors.Is(err, readline.ErrInterrupt):
		return "", errors.New("output directory prompt interrupted")
	case err != nil:
		return "", err
	}
	if dir := strings.TrimSpace(line); dir != "" {
		return dir, nil
	}
	return ".", nil
}

package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

// DefaultPrompt is the REPL prompt.
const DefaultPrompt = "aim> "

// REPL reads lines from rw with line editing and history, evaluates each
// one and writes results and errors back to rw. It returns nil at end of
// input or on "exit", and ctx.Err() once ctx is done.
//
// rw is typically a terminal in raw mode.
func (e *Engine) REPL(ctx context.Context, rw io.ReadWriter, prompt string) error {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	t := term.NewTerminal(rw, prompt)

	prev := e.out
	e.out = t
	defer func() { e.out = prev }()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := t.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch line = strings.TrimSpace(line); line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := e.Eval(ctx, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(t, "error: %v\n", err)
		}
	}
}

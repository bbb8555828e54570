package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/term"
)

// ErrNoTerminal is returned when an interactive prompt has no terminal.
var ErrNoTerminal = errors.New("stdin is not a terminal")

// CodePrompter supplies second-factor codes.
type CodePrompter interface {
	PromptCode(ctx context.Context, attempt, maxAttempts int) (string, error)
}

// PromptFunc adapts a function to CodePrompter.
type PromptFunc func(ctx context.Context, attempt, maxAttempts int) (string, error)

// PromptCode implements CodePrompter.
func (f PromptFunc) PromptCode(ctx context.Context, attempt, maxAttempts int) (string, error) {
	return f(ctx, attempt, maxAttempts)
}

// TerminalPrompter reads codes typed on the controlling terminal.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter prompts on stdin and stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

// PromptCode implements CodePrompter.
func (p *TerminalPrompter) PromptCode(ctx context.Context, attempt, maxAttempts int) (string, error) {
	if !term.IsTerminal(int(p.In.Fd())) {
		return "", ErrNoTerminal
	}
	fmt.Fprintf(p.Out, "Enter 2FA code (%d/%d): ", attempt, maxAttempts)
	return readCode(ctx, p.In)
}

func readCode(ctx context.Context, in io.Reader) (string, error) {
	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			done <- result{err: fmt.Errorf("read code: %w", err)}
			return
		}
		done <- result{line: strings.TrimSpace(line)}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.line, r.err
	}
}

// TOTPPrompter generates codes from a shared TOTP secret.
type TOTPPrompter struct {
	Secret string
	Now    func() time.Time
}

// PromptCode implements CodePrompter.
func (p TOTPPrompter) PromptCode(ctx context.Context, _, _ int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	code, err := totp.GenerateCode(p.Secret, now())
	if err != nil {
		return "", fmt.Errorf("generate totp code: %w", err)
	}
	return code, nil
}

// Package gate asks a human before untrusted generated code is executed.
package gate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Confirmer decides whether generated code may be built and run.
type Confirmer interface {
	Confirm(ctx context.Context) (bool, error)
}

// AutoApprove consents without asking. It backs --yes.
type AutoApprove struct{}

func (AutoApprove) Confirm(context.Context) (bool, error) { return true, nil }

const warning = "WARNING: You are about to run code written entirely by AI. " +
	"Review your code and confirm you wish to continue."

var (
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	optionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// TerminalConfirmer asks on a line-oriented terminal. Unrecognised answers
// re-ask; end of input declines.
type TerminalConfirmer struct {
	mu     sync.Mutex
	in     *bufio.Reader
	out    io.Writer
	styled bool

	// pending holds a read left running by a cancelled Confirm, so the next
	// call picks up its line instead of reading concurrently.
	pending chan lineResult
}

type lineResult struct {
	line string
	err  error
}

// NewTerminalConfirmer reads answers from in and writes the prompt to out.
func NewTerminalConfirmer(in io.Reader, out io.Writer, styled bool) *TerminalConfirmer {
	return &TerminalConfirmer{in: bufio.NewReader(in), out: out, styled: styled}
}

func (c *TerminalConfirmer) Confirm(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.printPrompt()
	for {
		line, err := c.readLine(ctx)
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("failed to read confirmation: %w", err)
		}

		switch answer, ok := ParseAnswer(line); {
		case ok:
			return answer, nil
		case errors.Is(err, io.EOF):
			return false, nil
		default:
			fmt.Fprintln(c.out, "Invalid input. Please select '1' or '2'")
		}
	}
}

// readLine returns the next line, or ctx.Err() as soon as ctx is done even
// while the underlying read is still blocked.
func (c *TerminalConfirmer) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ch := c.pending
	if ch == nil {
		ch = make(chan lineResult, 1)
		go func() {
			line, err := c.in.ReadString('\n')
			ch <- lineResult{line: line, err: err}
		}()
	}

	select {
	case r := <-ch:
		c.pending = nil
		return r.line, r.err
	case <-ctx.Done():
		c.pending = ch
		return "", ctx.Err()
	}
}

func (c *TerminalConfirmer) printPrompt() {
	warn := warning
	opt1 := "[1] All good"
	opt2 := "[2] Let's stop this project"
	if c.styled {
		warn = warnStyle.Render(warn)
		opt1 = optionStyle.Render(opt1)
		opt2 = optionStyle.Render(opt2)
	}
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, warn)
	fmt.Fprintln(c.out, opt1)
	fmt.Fprintln(c.out, opt2)
}

// ParseAnswer maps a typed reply to consent. ok is false when the reply is
// neither a yes nor a no.
func ParseAnswer(s string) (consent bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "ok", "y", "yes":
		return true, true
	case "2", "no", "n":
		return false, true
	default:
		return false, false
	}
}

package transcript

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Tone selects how a statement is coloured.
type Tone int

const (
	ToneInfo Tone = iota
	ToneGeneration
	ToneValidation
	ToneIssue
)

var (
	colorPosition   = lipgloss.Color("2") // green
	colorGeneration = lipgloss.Color("6") // cyan
	colorValidation = lipgloss.Color("5") // magenta
	colorIssue      = lipgloss.Color("1") // red
)

// Format renders a narration line without colour:
// "Agent: <position>: <statement>".
func Format(position, statement string) string {
	return fmt.Sprintf("Agent: %s: %s", position, statement)
}

// Narrator writes user-facing progress lines for agents. It is safe for
// concurrent use.
type Narrator struct {
	mu     sync.Mutex
	w      io.Writer
	color  bool
	styles map[Tone]lipgloss.Style
	pos    lipgloss.Style
}

// NewNarrator writes to w; colour is applied only when color is true.
func NewNarrator(w io.Writer, color bool) *Narrator {
	r := lipgloss.NewRenderer(w)
	return &Narrator{
		w:     w,
		color: color,
		pos:   r.NewStyle().Foreground(colorPosition).Bold(true),
		styles: map[Tone]lipgloss.Style{
			ToneInfo:       r.NewStyle(),
			ToneGeneration: r.NewStyle().Foreground(colorGeneration),
			ToneValidation: r.NewStyle().Foreground(colorValidation),
			ToneIssue:      r.NewStyle().Foreground(colorIssue),
		},
	}
}

// Discard returns a narrator that drops everything.
func Discard() *Narrator {
	return NewNarrator(io.Discard, false)
}

// Say writes one narration line.
func (n *Narrator) Say(position, statement string, tone Tone) {
	line := Format(position, statement)
	if n.color {
		line = fmt.Sprintf("Agent: %s: %s", n.pos.Render(position), n.styles[tone].Render(statement))
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.w, line)
}

func (n *Narrator) Info(position, statement string) { n.Say(position, statement, ToneInfo) }

func (n *Narrator) Generation(position, statement string) {
	n.Say(position, statement, ToneGeneration)
}

func (n *Narrator) Validation(position, statement string) {
	n.Say(position, statement, ToneValidation)
}

func (n *Narrator) Issue(position, statement string) { n.Say(position, statement, ToneIssue) }

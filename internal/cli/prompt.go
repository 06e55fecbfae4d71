package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

const requestPrompt = "What website are we building today?"

var errRequestRequired = errors.New("request is required")

// promptForRequest reads one line from r. The reader is shared with the
// confirmation gate, so it must not be wrapped in a fresh buffer per call.
func promptForRequest(r *bufio.Reader, w io.Writer, tty bool) (string, error) {
	if tty {
		fmt.Fprintf(w, "coderloop> %s ", requestPrompt)
	} else {
		fmt.Fprintln(w, requestPrompt)
	}

	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return "", errRequestRequired
	}
	if tty {
		fmt.Fprintln(w)
	}
	return line, nil
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

package winestage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Prompter asks the operator questions on a line-oriented reader.
type Prompter struct {
	Console   *Console
	AssumeYes bool

	mu sync.Mutex
	in *bufio.Reader
}

// NewPrompter reads answers from in; nil means stdin.
func NewPrompter(in io.Reader, console *Console, assumeYes bool) *Prompter {
	if in == nil {
		in = os.Stdin
	}
	return &Prompter{Console: console, AssumeYes: assumeYes, in: bufio.NewReader(in)}
}

// readLine returns the next trimmed line; io.EOF when input is closed.
func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Confirm asks a yes/no question defaulting to yes. Closed input means no.
func (p *Prompter) Confirm(question string) bool {
	if p.AssumeYes {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	w := p.Console.writer()
	for {
		fmt.Fprint(w, colArrow.Sprint("-> ")+colNote.Sprintf("%s [Y/n]: ", question))
		response, err := p.readLine()
		if err != nil {
			fmt.Fprintln(w)
			return false
		}
		switch strings.ToLower(response) {
		case "", "y", "yes":
			return true
		case "n", "no":
			return false
		}
		p.Console.Warn("Invalid input.")
	}
}

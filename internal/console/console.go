// Package console renders chat events as text and turns typed lines into
// outgoing messages.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/omochice/p2pchat/internal/chat"
	"github.com/omochice/p2pchat/internal/metrics"
)

const prompt = "> "

// Sender delivers locally typed text.
type Sender interface {
	Send(text string) error
}

// Options configures a Console.
type Options struct {
	In  io.Reader
	Out io.Writer
	// Interactive prints a prompt after every line of output.
	Interactive bool
	Metrics     *metrics.Collector
	// Participants lists the remote ends for /peers.
	Participants func() []string
}

// Console is safe for concurrent use; Handle runs on the endpoint's event
// goroutine while Run reads input.
type Console struct {
	sender Sender
	opts   Options

	mu sync.Mutex
}

// New creates a Console that sends typed lines through sender.
func New(sender Sender, opts Options) *Console {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Console{sender: sender, opts: opts}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Handle renders ev. It satisfies chat.Handler.
func (c *Console) Handle(ev chat.Event) {
	line := Format(ev)
	if line == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opts.Interactive {
		fmt.Fprintln(c.opts.Out, line)
		return
	}
	// Events arrive while the prompt is pending: clear it, print, redraw.
	fmt.Fprint(c.opts.Out, "\r\033[K")
	fmt.Fprintln(c.opts.Out, line)
	fmt.Fprint(c.opts.Out, prompt)
}

// Format renders ev as a single line.
func Format(ev chat.Event) string {
	switch ev.Kind {
	case chat.EventStarted:
		return fmt.Sprintf("*** listening on %s ***", ev.Addr)
	case chat.EventStopped:
		return "*** stopped ***"
	case chat.EventConnected:
		if ev.Origin == "" {
			return fmt.Sprintf("*** connected to %s ***", ev.Addr)
		}
		return fmt.Sprintf("*** %s joined from %s ***", shortID(ev.Origin), ev.Addr)
	case chat.EventDisconnected:
		if ev.Origin == "" {
			return fmt.Sprintf("*** disconnected from %s ***", ev.Addr)
		}
		return fmt.Sprintf("*** %s left ***", shortID(ev.Origin))
	case chat.EventMessage:
		name := ev.Origin
		if name == "" {
			name = ev.Addr
		}
		return fmt.Sprintf("[%s] %s", shortID(name), ev.Text)
	case chat.EventError:
		return "! " + ev.Description()
	default:
		return ""
	}
}

// shortID trims a uuid to its first group.
func shortID(id string) string {
	if len(id) == 36 && id[8] == '-' {
		return id[:8]
	}
	return id
}

// Run reads lines until input ends, /quit is typed or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	// The reader may stay blocked in Scan after Run returns; it exits on the
	// next line or at end of input.
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.opts.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			}
		}
		scanErr <- sc.Err()
	}()

	c.printPrompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := c.handleLine(line); quit {
				return nil
			}
			c.printPrompt()
		}
	}
}

func (c *Console) handleLine(line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if err := c.sender.Send(line); err != nil {
			c.println("! " + err.Error())
		}
		return false
	}

	switch cmd := strings.Fields(line)[0]; cmd {
	case "/quit", "/exit":
		return true
	case "/stats":
		c.println(c.opts.Metrics.JSON())
	case "/peers":
		var peers []string
		if c.opts.Participants != nil {
			peers = c.opts.Participants()
		}
		if len(peers) == 0 {
			c.println("*** nobody connected ***")
		}
		for _, p := range peers {
			c.println("  " + p)
		}
	case "/help":
		c.println("commands: /peers /stats /quit")
	default:
		c.println("! unknown command " + cmd)
	}
	return false
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.opts.Out, s)
}

func (c *Console) printPrompt() {
	if !c.opts.Interactive {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.opts.Out, prompt)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(text string) error

// Send calls f.
func (f SenderFunc) Send(text string) error { return f(text) }

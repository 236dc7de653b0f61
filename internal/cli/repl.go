// Package cli is the terminal front end: an input-reading goroutine that
// feeds a mutex-guarded command queue (REPL), and a Dispatcher that drains
// that queue one command at a time on the driver loop's single goroutine,
// so commands never touch the entity model or movement engine
// concurrently with a session callback or a movement tick.
package cli

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Command is one parsed line of input, stamped with a UUID so a command's
// progress can be correlated across the input goroutine and the dispatch
// tick it's eventually serviced on.
type Command struct {
	ID   uuid.UUID
	Line string
}

// REPL owns the input-reading goroutine and the command queue it appends
// to. Dispatcher is the only reader.
type REPL struct {
	mu    sync.Mutex
	queue []Command
}

// NewREPL returns a REPL with no input goroutine started yet; call Start.
func NewREPL() *REPL {
	return &REPL{}
}

// Start reads lines from in until EOF or ctx is cancelled, enqueueing a
// Command for every non-blank line. Runs until the scanner returns; the
// caller runs this in its own goroutine.
func (r *REPL) Start(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.enqueue(Command{ID: uuid.New(), Line: line})
	}
}

func (r *REPL) enqueue(c Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, c)
}

// Dequeue pops the oldest queued command, if any. Never blocks.
func (r *REPL) Dequeue() (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return Command{}, false
	}
	c := r.queue[0]
	r.queue = r.queue[1:]
	return c, true
}

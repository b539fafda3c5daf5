// Progress reporting. Workers send formatted lines over a bounded channel
// to a single consumer goroutine, so rapid concurrent updates never
// interleave and never contend on a lock.
package main

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// logOut is the writer for informational output. Silent mode replaces it
// with io.Discard so only errors reach the user.
var logOut io.Writer = os.Stderr

// logf writes a log line to logOut.
func logf(format string, args ...any) {
	fmt.Fprintf(logOut, format, args...)
}

// progressReporter drains status lines from workers onto a writer.
type progressReporter struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

func newProgressReporter(w io.Writer) *progressReporter {
	p := &progressReporter{
		ch:   make(chan string, 64),
		done: make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		for line := range p.ch {
			fmt.Fprint(w, line)
		}
	}()
	return p
}

// printf queues a formatted status line. Safe for concurrent use; blocks
// only when the consumer falls 64 lines behind.
func (p *progressReporter) printf(format string, args ...any) {
	p.ch <- fmt.Sprintf(format, args...)
}

// close stops the consumer after all queued lines are written.
func (p *progressReporter) close() {
	p.once.Do(func() {
		close(p.ch)
		<-p.done
	})
}

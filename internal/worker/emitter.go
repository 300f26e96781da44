package worker

import (
	"bufio"
	"io"
	"sync"

	"oats/pkg/types"
)

// Emitter serializes protocol events to a writer, one JSON object per line.
// stdout carries only events; everything else the worker says goes to the
// logger on stderr.
type Emitter struct {
	mu       sync.Mutex
	out      *bufio.Writer
	finished bool
	err      error
}

// NewEmitter creates an emitter writing to out.
func NewEmitter(out io.Writer) *Emitter {
	return &Emitter{out: bufio.NewWriter(out)}
}

// Emit writes one event line. Encoding or write failures are retained and
// reported by Close; emission itself never blocks the loop.
func (e *Emitter) Emit(ev types.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := ev.Encode()
	if err != nil {
		e.retain(err)
		return
	}
	if _, err := e.out.Write(data); err != nil {
		e.retain(err)
		return
	}
	if err := e.out.WriteByte('\n'); err != nil {
		e.retain(err)
		return
	}
	if err := e.out.Flush(); err != nil {
		e.retain(err)
		return
	}
	if ev.Type == types.EventFinish {
		e.finished = true
	}
}

func (e *Emitter) retain(err error) {
	if e.err == nil {
		e.err = err
	}
}

// Finished reports whether a finish event went out.
func (e *Emitter) Finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished
}

// Close flushes and returns the first retained emission error, if any.
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.out.Flush(); err != nil && e.err == nil {
		e.err = err
	}
	return e.err
}

package llm

import "sync/atomic"

// Interrupt is a cooperative cancellation token for streamed responses. One
// party (a signal handler) calls Set; the decoder polls Interrupted between
// lines; the client calls Reset when a new request starts. A single instance
// lives for the whole process and is shared by reference.
type Interrupt struct {
	flag atomic.Bool
}

// Set requests that the stream in flight stop at the next line.
func (i *Interrupt) Set() { i.flag.Store(true) }

// Reset clears a pending request.
func (i *Interrupt) Reset() { i.flag.Store(false) }

// Interrupted reports whether Set was called since the last Reset. A nil
// Interrupt is never interrupted.
func (i *Interrupt) Interrupted() bool {
	return i != nil && i.flag.Load()
}

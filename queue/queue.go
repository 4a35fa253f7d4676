// Package queue implements the FIFO command queue (spec §4, component C4
// data model): commands are dequeued exactly once, with head-of-line
// re-insertion for consensus WAIT requeues, lock-preemption drops, and the
// post-resume nop sentinel. Unlike the teacher's scheduler.ThreadSafeQueue
// this is a plain slice-backed FIFO, not a container/heap priority queue —
// the spec mandates strict submission order with only explicit,
// named exceptions (preemption and re_check), never priority-based
// reordering or aging.
package queue

import (
	"sync"
)

// Command is the envelope a client submits (spec §3 "Command envelope").
type Command struct {
	ID              string
	Cmd             string
	Selector        string
	Goal            string
	URL             string
	Text            string
	Key             string
	Value           string
	Files           []string
	Name            string
	StabilityHintMs int64

	SelfHealed      bool
	PreCheckRetries int
}

// Queue is a mutex-guarded FIFO of Commands. It is single-producer-per
// client, single-consumer (the pipeline executor), matching spec §4.4's
// "Shared-resource policy".
type Queue struct {
	mu    sync.Mutex
	items []*Command
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends cmd to the tail.
func (q *Queue) Enqueue(cmd *Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, cmd)
}

// Dequeue removes and returns the head command, or nil if empty.
func (q *Queue) Dequeue() *Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	cmd := q.items[0]
	q.items = q.items[1:]
	return cmd
}

// Requeue places cmd back at the head — used for consensus WAIT (spec §4.3
// step 1), lock-preemption cancellation (§4.3 "Cancellation"), and any
// other "put this back for immediate re-attempt" path.
func (q *Queue) Requeue(cmd *Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]*Command{cmd}, q.items...)
}

// PushNop unshifts a harmless nop sentinel at the head, forcing a fresh
// pre-check cycle for the next real command after a re_check resume
// (spec §4.3 "Release").
func (q *Queue) PushNop() {
	q.Requeue(&Command{ID: "nop", Cmd: "nop"})
}

// Peek returns the head command without removing it, or nil if empty.
func (q *Queue) Peek() *Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Len reports the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue has no pending commands.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}

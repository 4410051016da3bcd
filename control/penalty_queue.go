// Implements the penaltyQueue, which holds a competitor's penalties waiting
// to be served. Penalties are enqueued on issue and served in arrival order.

package control

import (
	"strings"
)

// penaltyQueue is a FIFO of queued penalties for one competitor.
type penaltyQueue struct {
	queue []*Penalty
}

// Enqueue adds a penalty to the back of the queue.
func (pq *penaltyQueue) Enqueue(p *Penalty) {
	if p == nil {
		panic("Enqueue: penalty must not be nil")
	}
	pq.queue = append(pq.queue, p)
}

// Dequeue removes and returns the penalty at the front, or nil if empty.
func (pq *penaltyQueue) Dequeue() *Penalty {
	if len(pq.queue) == 0 {
		return nil
	}
	p := pq.queue[0]
	pq.queue[0] = nil
	pq.queue = pq.queue[1:]
	return p
}

// Peek returns the penalty at the front without removing it.
func (pq *penaltyQueue) Peek() *Penalty {
	if len(pq.queue) == 0 {
		return nil
	}
	return pq.queue[0]
}

// Len returns the number of queued penalties.
func (pq *penaltyQueue) Len() int {
	return len(pq.queue)
}

// Remove drops every penalty for which match returns true, preserving the
// order of the rest. Returns the number removed.
func (pq *penaltyQueue) Remove(match func(*Penalty) bool) int {
	kept := make([]*Penalty, 0, len(pq.queue))
	for _, p := range pq.queue {
		if !match(p) {
			kept = append(kept, p)
		}
	}
	removed := len(pq.queue) - len(kept)
	pq.queue = kept
	return removed
}

func (pq *penaltyQueue) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, p := range pq.queue {
		sb.WriteString(p.ID)
		sb.WriteString(":")
		sb.WriteString(string(p.Kind()))
		if i < len(pq.queue)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}

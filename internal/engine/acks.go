package engine

import (
	"matchbook/internal/common"
)

// AckQueue is an unbounded FIFO of fill acknowledgments. Acks are consumed in
// the order the crossing algorithm produced them.
type AckQueue struct {
	acks []common.Ack
	head int
}

func (q *AckQueue) Push(ack common.Ack) {
	q.acks = append(q.acks, ack)
}

// Pop removes and returns the oldest ack.
func (q *AckQueue) Pop() (common.Ack, bool) {
	if q.head == len(q.acks) {
		return common.Ack{}, false
	}
	ack := q.acks[q.head]
	q.acks[q.head] = common.Ack{}
	q.head++

	// Reclaim the consumed prefix once it dominates the buffer.
	if q.head == len(q.acks) {
		q.acks = q.acks[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.acks) {
		n := copy(q.acks, q.acks[q.head:])
		q.acks = q.acks[:n]
		q.head = 0
	}
	return ack, true
}

func (q *AckQueue) Len() int {
	return len(q.acks) - q.head
}

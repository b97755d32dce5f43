package sched

import (
	"github.com/emirpasic/gods/lists/doublylinkedlist"
	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"
)

// readyQueue keeps one FIFO band per priority. Bands are stored in a
// red-black tree ordered by descending priority, so the leftmost node is
// always the most urgent non-empty band. Empty bands are removed.
type readyQueue struct {
	bands *redblacktree.Tree // priority -> *doublylinkedlist.List of *tcb
	size  int
}

func newReadyQueue() *readyQueue {
	return &readyQueue{
		bands: redblacktree.NewWith(func(a, b any) int { return utils.IntComparator(b, a) }),
	}
}

// push appends t to the tail of its band.
func (q *readyQueue) push(t *tcb) {
	var band *doublylinkedlist.List
	if v, ok := q.bands.Get(t.priority); ok {
		band = v.(*doublylinkedlist.List)
	} else {
		band = doublylinkedlist.New()
		q.bands.Put(t.priority, band)
	}
	band.Add(t)
	q.size++
}

// pop removes the head of the highest band.
func (q *readyQueue) pop() *tcb {
	node := q.bands.Left()
	if node == nil {
		return nil
	}
	band := node.Value.(*doublylinkedlist.List)
	v, _ := band.Get(0)
	band.Remove(0)
	if band.Empty() {
		q.bands.Remove(node.Key)
	}
	q.size--
	return v.(*tcb)
}

// remove takes t out of its band; t.priority must be the band it was pushed to.
func (q *readyQueue) remove(t *tcb) bool {
	v, ok := q.bands.Get(t.priority)
	if !ok {
		return false
	}
	band := v.(*doublylinkedlist.List)
	idx := band.IndexOf(t)
	if idx < 0 {
		return false
	}
	band.Remove(idx)
	if band.Empty() {
		q.bands.Remove(t.priority)
	}
	q.size--
	return true
}

// top returns the highest priority that has a ready task.
func (q *readyQueue) top() (int, bool) {
	node := q.bands.Left()
	if node == nil {
		return 0, false
	}
	return node.Key.(int), true
}

// preempts reports whether a task running at prio must give up the CPU at a
// tick boundary.
func (q *readyQueue) preempts(prio int, slicing bool) bool {
	top, ok := q.top()
	if !ok {
		return false
	}
	return top > prio || (slicing && top == prio)
}

func (q *readyQueue) len() int { return q.size }

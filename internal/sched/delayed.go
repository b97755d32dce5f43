package sched

import "github.com/emirpasic/gods/trees/redblacktree"

// wakeKey orders the delayed set. seq breaks ties between tasks waking on the
// same tick in insertion order.
type wakeKey struct {
	at  Tick
	seq uint64
}

// delayedSet holds Delayed tasks and Blocked tasks waiting with a timeout,
// ordered by wake tick ascending.
type delayedSet struct {
	tree *redblacktree.Tree // wakeKey -> *tcb
	seq  uint64
}

func newDelayedSet() *delayedSet {
	return &delayedSet{tree: redblacktree.NewWith(cmpWake)}
}

func (d *delayedSet) add(t *tcb, at Tick) {
	d.seq++
	t.wake = wakeKey{at: at, seq: d.seq}
	t.inDelayed = true
	d.tree.Put(t.wake, t)
}

func (d *delayedSet) remove(t *tcb) {
	if !t.inDelayed {
		return
	}
	d.tree.Remove(t.wake)
	t.inDelayed = false
}

// popExpired removes and returns every task whose wake tick is <= now, in
// wake order.
func (d *delayedSet) popExpired(now Tick) []*tcb {
	var out []*tcb
	for {
		node := d.tree.Left()
		if node == nil || node.Key.(wakeKey).at > now {
			return out
		}
		t := node.Value.(*tcb)
		d.tree.Remove(node.Key)
		t.inDelayed = false
		out = append(out, t)
	}
}

// next returns the earliest wake tick.
func (d *delayedSet) next() (Tick, bool) {
	node := d.tree.Left()
	if node == nil {
		return 0, false
	}
	return node.Key.(wakeKey).at, true
}

func (d *delayedSet) len() int { return d.tree.Size() }

// cmpWake implements the Comparator interface for the red-black tree.
func cmpWake(a, b any) int {
	ka, kb := a.(wakeKey), b.(wakeKey)
	switch {
	case ka.at < kb.at:
		return -1
	case ka.at > kb.at:
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}

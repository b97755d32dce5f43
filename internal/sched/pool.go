package sched

import (
	"fmt"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/stacks/arraystack"
)

// taskPool is the fixed-capacity TCB store. Slots and stack words are
// conserved: everything handed out by alloc comes back through release.
type taskPool struct {
	slots  []*tcb
	gens   []uint32
	free   *arraystack.Stack // free slot indices, lowest on top
	arena  *stackArena
	nextID TaskID
	live   int
}

func newTaskPool(maxTasks, stackWords int) *taskPool {
	p := &taskPool{
		slots: make([]*tcb, maxTasks),
		gens:  make([]uint32, maxTasks),
		free:  arraystack.New(),
		arena: newStackArena(stackWords),
	}
	for i := maxTasks - 1; i >= 0; i-- {
		p.free.Push(i)
	}
	return p
}

// alloc reserves a slot and a stack region. Nothing is reserved on failure.
func (p *taskPool) alloc(stackWords int) (*tcb, error) {
	if p.free.Empty() {
		return nil, fmt.Errorf("task pool exhausted (%d slots): %w", len(p.slots), ErrOutOfResources)
	}
	region, ok := p.arena.alloc(stackWords)
	if !ok {
		return nil, fmt.Errorf("no contiguous stack of %d words (%d free): %w",
			stackWords, p.arena.freeWords, ErrOutOfResources)
	}
	v, _ := p.free.Pop()
	slot := v.(int)
	p.gens[slot]++
	p.nextID++
	t := &tcb{
		handle: Handle{slot: slot, gen: p.gens[slot]},
		id:     p.nextID,
		stack:  region,
	}
	p.slots[slot] = t
	p.live++
	return t, nil
}

// release returns the slot and stack of t to the pool. The slot generation is
// bumped so that outstanding handles go stale.
func (p *taskPool) release(t *tcb) {
	slot := t.handle.slot
	if p.slots[slot] != t {
		return
	}
	p.slots[slot] = nil
	p.gens[slot]++
	p.arena.release(t.stack)
	p.free.Push(slot)
	p.live--
}

func (p *taskPool) lookup(h Handle) (*tcb, error) {
	if h.slot < 0 || h.slot >= len(p.slots) || h.IsZero() {
		return nil, fmt.Errorf("%v: %w", h, ErrInvalidHandle)
	}
	t := p.slots[h.slot]
	if t == nil || t.handle != h || t.state == StateDeleted {
		return nil, fmt.Errorf("%v: %w", h, ErrInvalidHandle)
	}
	return t, nil
}

// each calls fn for every allocated TCB in slot order, including ones that
// are Deleted but not yet reclaimed.
func (p *taskPool) each(fn func(*tcb)) {
	for _, t := range p.slots {
		if t != nil {
			fn(t)
		}
	}
}

func (p *taskPool) freeSlots() int { return p.free.Size() }

// stackArena hands out contiguous word ranges first-fit. Free blocks are kept
// in a map ordered by base so that neighbours can be coalesced on release.
type stackArena struct {
	total     int
	freeWords int
	blocks    *treemap.Map // base -> words
}

func newStackArena(words int) *stackArena {
	a := &stackArena{
		total:     words,
		freeWords: words,
		blocks:    treemap.NewWithIntComparator(),
	}
	if words > 0 {
		a.blocks.Put(0, words)
	}
	return a
}

func (a *stackArena) alloc(words int) (StackRegion, bool) {
	if words <= 0 || words > a.freeWords {
		return StackRegion{}, false
	}
	it := a.blocks.Iterator()
	for it.Next() {
		base, size := it.Key().(int), it.Value().(int)
		if size < words {
			continue
		}
		a.blocks.Remove(base)
		if size > words {
			a.blocks.Put(base+words, size-words)
		}
		a.freeWords -= words
		return StackRegion{Base: base, Words: words}, true
	}
	return StackRegion{}, false
}

func (a *stackArena) release(r StackRegion) {
	if r.Words <= 0 {
		return
	}
	base, size := r.Base, r.Words
	if pk, pv := a.blocks.Floor(base); pk != nil && pk.(int)+pv.(int) == base {
		a.blocks.Remove(pk)
		base = pk.(int)
		size += pv.(int)
	}
	end := r.Base + r.Words
	if nv, ok := a.blocks.Get(end); ok {
		a.blocks.Remove(end)
		size += nv.(int)
	}
	a.blocks.Put(base, size)
	a.freeWords += r.Words
}

// largest returns the biggest contiguous free block.
func (a *stackArena) largest() int {
	best := 0
	it := a.blocks.Iterator()
	for it.Next() {
		if n := it.Value().(int); n > best {
			best = n
		}
	}
	return best
}

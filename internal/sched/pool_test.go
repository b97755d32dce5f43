package sched

import (
	"errors"
	"testing"
)

func TestStackArena_FirstFitAndCoalesce(t *testing.T) {
	a := newStackArena(300)

	r1, ok := a.alloc(100)
	if !ok || r1.Base != 0 {
		t.Fatalf("first alloc = %+v, %v", r1, ok)
	}
	r2, _ := a.alloc(100)
	r3, _ := a.alloc(100)
	if r2.Base != 100 || r3.Base != 200 {
		t.Fatalf("unexpected bases %d %d", r2.Base, r3.Base)
	}
	if _, ok := a.alloc(1); ok {
		t.Fatal("alloc from a full arena should fail")
	}

	a.release(r1)
	a.release(r3)
	if got := a.largest(); got != 100 {
		t.Errorf("largest block with a hole in the middle = %d, want 100", got)
	}
	if _, ok := a.alloc(150); ok {
		t.Error("150 words should not fit in two separate 100-word holes")
	}

	a.release(r2)
	if got := a.largest(); got != 300 {
		t.Errorf("after releasing everything largest = %d, want 300", got)
	}
	if a.freeWords != 300 {
		t.Errorf("freeWords = %d, want 300", a.freeWords)
	}
	if a.blocks.Size() != 1 {
		t.Errorf("free list has %d blocks, want 1 after coalescing", a.blocks.Size())
	}
}

func TestTaskPool_ExhaustionAndReuse(t *testing.T) {
	p := newTaskPool(2, 1024)

	a, err := p.alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.alloc(64); !errors.Is(err, ErrOutOfResources) {
		t.Fatalf("third alloc err = %v, want ErrOutOfResources", err)
	}
	if p.live != 2 {
		t.Errorf("live = %d, want 2", p.live)
	}

	old := b.handle
	p.release(b)
	c, err := p.alloc(64)
	if err != nil {
		t.Fatalf("alloc after release: %v", err)
	}
	if c.handle.slot != old.slot {
		t.Errorf("slot not reused: got %d want %d", c.handle.slot, old.slot)
	}
	if c.handle == old {
		t.Error("reused slot kept the old generation")
	}
	if c.id == b.id {
		t.Error("task id reused")
	}
	if _, err := p.lookup(old); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("stale handle lookup err = %v, want ErrInvalidHandle", err)
	}
	if got, err := p.lookup(a.handle); err != nil || got != a {
		t.Errorf("lookup(a) = %v, %v", got, err)
	}
}

func TestTaskPool_StackExhaustionReservesNothing(t *testing.T) {
	p := newTaskPool(4, 256)
	if _, err := p.alloc(200); err != nil {
		t.Fatal(err)
	}
	if _, err := p.alloc(100); !errors.Is(err, ErrOutOfResources) {
		t.Fatalf("err = %v, want ErrOutOfResources", err)
	}
	if p.freeSlots() != 3 {
		t.Errorf("free slots = %d, want 3", p.freeSlots())
	}
	if p.arena.freeWords != 56 {
		t.Errorf("free words = %d, want 56", p.arena.freeWords)
	}
}

func TestTaskPool_LookupRejectsGarbage(t *testing.T) {
	p := newTaskPool(2, 128)
	for _, h := range []Handle{{}, {slot: -1, gen: 1}, {slot: 7, gen: 1}, {slot: 0, gen: 1}} {
		if _, err := p.lookup(h); !errors.Is(err, ErrInvalidHandle) {
			t.Errorf("lookup(%v) err = %v, want ErrInvalidHandle", h, err)
		}
	}
}

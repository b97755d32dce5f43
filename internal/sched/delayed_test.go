package sched

import "testing"

func TestDelayedSet_WakeOrder(t *testing.T) {
	d := newDelayedSet()
	late := &tcb{name: "late"}
	first := &tcb{name: "first"}
	second := &tcb{name: "second"}
	gone := &tcb{name: "gone"}

	d.add(late, 9)
	d.add(first, 4)
	d.add(second, 4)
	d.add(gone, 2)
	d.remove(gone)

	if at, _ := d.next(); at != 4 {
		t.Fatalf("next = %d, want 4", at)
	}
	if got := d.popExpired(3); len(got) != 0 {
		t.Fatalf("popExpired(3) = %v, want nothing", names(got...))
	}

	got := d.popExpired(5)
	if len(got) != 2 || got[0] != first || got[1] != second {
		t.Fatalf("popExpired(5) = %v, want [first second]", names(got...))
	}
	if first.inDelayed || second.inDelayed {
		t.Error("expired tasks still flagged as delayed")
	}
	if d.len() != 1 {
		t.Errorf("len = %d, want 1", d.len())
	}
	if got := d.popExpired(9); len(got) != 1 || got[0] != late {
		t.Errorf("popExpired(9) = %v, want [late]", names(got...))
	}
}

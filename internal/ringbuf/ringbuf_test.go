package ringbuf

import "testing"

func TestRing_PushBelowCapacity(t *testing.T) {
	r := New[int](5)
	r.Push(1)
	r.Push(2)
	r.Push(3)

	if r.Len() != 3 {
		t.Fatalf("expected len 3, got %d", r.Len())
	}
	got := r.Values()
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRing_EvictsOldest(t *testing.T) {
	r := New[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	if r.Len() != 3 {
		t.Fatalf("expected len 3, got %d", r.Len())
	}
	got := r.Values()
	want := []int{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRing_ExactlyHundredMostRecent(t *testing.T) {
	r := New[int](100)
	for i := 0; i < 250; i++ {
		r.Push(i)
	}

	if r.Len() != 100 {
		t.Fatalf("expected len 100, got %d", r.Len())
	}
	got := r.Values()
	for i, v := range got {
		if v != 150+i {
			t.Fatalf("index %d: expected %d, got %d", i, 150+i, v)
		}
	}
}

func TestRing_Last(t *testing.T) {
	r := New[string](2)

	if _, ok := r.Last(); ok {
		t.Fatal("expected no last element on empty ring")
	}

	r.Push("a")
	r.Push("b")
	r.Push("c")
	last, ok := r.Last()
	if !ok || last != "c" {
		t.Fatalf("expected last=c, got %q ok=%v", last, ok)
	}
}

func TestRing_Tail(t *testing.T) {
	r := New[int](5)
	for i := 1; i <= 7; i++ {
		r.Push(i)
	}

	got := r.Tail(3)
	want := []int{5, 6, 7}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	// Asking for more than stored returns everything.
	all := r.Tail(10)
	if len(all) != 5 || all[0] != 3 {
		t.Fatalf("expected 5 values starting at 3, got %v", all)
	}
}

func TestRing_ValuesIsCopy(t *testing.T) {
	r := New[int](3)
	r.Push(1)
	vals := r.Values()
	vals[0] = 99
	if got := r.Values()[0]; got != 1 {
		t.Fatalf("mutating returned slice should not affect ring, got %d", got)
	}
}

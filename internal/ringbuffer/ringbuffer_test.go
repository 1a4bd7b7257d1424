package ringbuffer

import "testing"

func TestPushEvictsOldest(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}
	if got := b.Snapshot(); !equal(got, []int{3, 4, 5}) {
		t.Fatalf("got %v, want [3 4 5]", got)
	}
}

func TestHeadTail(t *testing.T) {
	b := New[string](2)
	if _, ok := b.Head(); ok {
		t.Fatal("expected empty buffer to report no head")
	}
	b.Push("a")
	b.Push("b")
	b.Push("c")

	head, ok := b.Head()
	if !ok || head != "b" {
		t.Fatalf("head = %q, ok=%v; want b, true", head, ok)
	}
	tail, ok := b.Tail()
	if !ok || tail != "c" {
		t.Fatalf("tail = %q, ok=%v; want c, true", tail, ok)
	}
}

func TestLast(t *testing.T) {
	b := New[int](10)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}
	if got := b.Last(2); !equal(got, []int{4, 5}) {
		t.Fatalf("Last(2) = %v, want [4 5]", got)
	}
	if got := b.Last(100); !equal(got, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("Last(100) = %v, want full buffer", got)
	}
}

func TestCapNonPositiveDefaultsToOne(t *testing.T) {
	b := New[int](0)
	b.Push(1)
	b.Push(2)
	if got := b.Snapshot(); !equal(got, []int{2}) {
		t.Fatalf("got %v, want [2]", got)
	}
}

func equal(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

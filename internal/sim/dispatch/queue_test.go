package dispatch

import "testing"

func TestQueue_OrdersByTimeThenInsertion(t *testing.T) {
	var q Queue
	times := []float64{4, 1, 4, 0.5, 1, 9}
	for i, s := range times {
		op := opAt(string(rune('a'+i)), s)
		q.Push(op, ent("e"))
	}

	var order []string
	for q.Len() > 0 {
		op, from, ok := q.Pop()
		if !ok || from == nil {
			t.Fatalf("pop failed")
		}
		order = append(order, op.Type)
	}
	want := []string{"d", "b", "e", "a", "c", "f"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order=%v want=%v", order, want)
		}
	}
	if _, _, ok := q.Pop(); ok {
		t.Fatalf("pop on empty queue should fail")
	}
}

func TestQueue_ClearReleasesEntries(t *testing.T) {
	var q Queue
	q.Push(opAt("a", 1), ent("e"))
	q.Push(opAt("b", 2), ent("e"))
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("Len=%d after Clear", q.Len())
	}
	if _, _, ok := q.Peek(); ok {
		t.Fatalf("peek on cleared queue should fail")
	}
	q.Push(opAt("c", 0), ent("e"))
	if op, _, _ := q.Peek(); op.Type != "c" {
		t.Fatalf("queue unusable after Clear")
	}
}

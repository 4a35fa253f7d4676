package queue

import "testing"

func TestFIFOOrder(t *testing.T) {
	q := New()
	q.Enqueue(&Command{ID: "a"})
	q.Enqueue(&Command{ID: "b"})
	q.Enqueue(&Command{ID: "c"})

	for _, want := range []string{"a", "b", "c"} {
		got := q.Dequeue()
		if got == nil || got.ID != want {
			t.Fatalf("Dequeue() = %+v, want id %s", got, want)
		}
	}
	if q.Dequeue() != nil {
		t.Fatal("expected empty queue to return nil")
	}
}

func TestRequeuePutsCommandBackAtHead(t *testing.T) {
	q := New()
	q.Enqueue(&Command{ID: "first"})
	q.Enqueue(&Command{ID: "second"})

	head := q.Dequeue()
	head.PreCheckRetries++
	q.Requeue(head)

	got := q.Dequeue()
	if got.ID != "first" || got.PreCheckRetries != 1 {
		t.Fatalf("requeue did not preserve head position and retry count: %+v", got)
	}
	if q.Dequeue().ID != "second" {
		t.Fatal("second command should follow the requeued one")
	}
}

func TestPushNopInsertsSentinelAtHead(t *testing.T) {
	q := New()
	q.Enqueue(&Command{ID: "real"})
	q.PushNop()

	got := q.Dequeue()
	if got.Cmd != "nop" {
		t.Fatalf("expected nop sentinel at head, got %+v", got)
	}
	if q.Dequeue().ID != "real" {
		t.Fatal("real command should remain queued after the nop")
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := New()
	q.Enqueue(&Command{ID: "only"})
	if q.Peek().ID != "only" || q.Len() != 1 {
		t.Fatal("Peek must not remove the head command")
	}
}

package queue

import (
	"testing"
	"time"

	"github.com/vantidb/numaexec/task"
)

func TestPriority_HighBeforeDefault(t *testing.T) {
	q := New(0)

	d0 := task.New(func() {})
	d1 := task.New(func() {})
	h0 := task.New(func() {})
	h1 := task.New(func() {})

	q.Push(d0, task.Default)
	q.Push(d1, task.Default)
	q.Push(h0, task.High)
	q.Push(h1, task.High)

	order := []*task.Task{q.TryPop(), q.TryPop(), q.TryPop(), q.TryPop()}
	want := []*task.Task{h0, h1, d0, d1}

	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("position %d: wanted task %p got %p", i, want[i], order[i])
		}
	}
}

func TestTryPop_EmptyReturnsNil(t *testing.T) {
	q := New(0)
	if q.TryPop() != nil {
		t.Fatal("expected nil from empty queue")
	}
}

func TestEstimateLoad_MonotonicAcrossPushes(t *testing.T) {
	q := New(0)

	before := q.EstimateLoad()
	q.Push(task.New(func() {}), task.Default)
	after := q.EstimateLoad()

	if after <= before {
		t.Fatalf("expected load to increase: before=%d after=%d", before, after)
	}
}

func TestPopBlocking_ReturnsOnClose(t *testing.T) {
	q := New(0)

	done := make(chan *task.Task, 1)
	go func() { done <- q.PopBlocking() }()

	time.Sleep(2 * time.Millisecond)
	q.Close()

	select {
	case v := <-done:
		if v != nil {
			t.Fatal("expected nil after close with nothing queued")
		}
	case <-time.After(time.Second):
		t.Fatal("PopBlocking did not return after Close")
	}
}

func TestPopBlocking_WakesOnPush(t *testing.T) {
	q := New(0)
	tk := task.New(func() {})

	done := make(chan *task.Task, 1)
	go func() { done <- q.PopBlocking() }()

	time.Sleep(2 * time.Millisecond)
	q.Push(tk, task.Default)

	select {
	case v := <-done:
		if v != tk {
			t.Fatal("expected the pushed task back")
		}
	case <-time.After(time.Second):
		t.Fatal("PopBlocking did not wake on push")
	}
}

package vpn

import "testing"

func TestWorkQueue_FIFO(t *testing.T) {
	q := newWorkQueue()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		if !q.push(func() { order = append(order, i) }) {
			t.Fatal("push on open queue failed")
		}
	}

	select {
	case <-q.wake:
	default:
		t.Fatal("push did not wake the worker")
	}

	for _, f := range q.drain() {
		f()
	}
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("order = %v, want [0 1 2]", order)
	}
	if n := len(q.drain()); n != 0 {
		t.Errorf("second drain returned %d items", n)
	}
}

func TestWorkQueue_Close(t *testing.T) {
	q := newWorkQueue()
	q.push(func() {})
	q.close()

	if q.push(func() {}) {
		t.Error("push after close should fail")
	}
	if n := len(q.drain()); n != 0 {
		t.Errorf("drain after close returned %d items", n)
	}
}

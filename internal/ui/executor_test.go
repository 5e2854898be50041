package ui

import (
	"errors"
	"testing"
	"time"
)

func TestExecutorRunsTasksInOrder(t *testing.T) {
	exec := New(16)
	go exec.Run()

	got := make([]int, 0, 10)
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		i := i
		if err := exec.Submit(func() { got = append(got, i) }); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := exec.Submit(func() { close(done) }); err != nil {
		t.Fatalf("submit sentinel: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("tasks never drained")
	}
	exec.Stop()

	for i, v := range got {
		if v != i {
			t.Fatalf("tasks ran out of order: %v", got)
		}
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 tasks, got %d", len(got))
	}
}

func TestExecutorSurvivesPanickingTask(t *testing.T) {
	exec := New(4)
	go exec.Run()
	defer exec.Stop()

	if err := exec.Submit(func() { panic("boom") }); err != nil {
		t.Fatalf("submit panicking task: %v", err)
	}

	ran := make(chan struct{})
	if err := exec.Submit(func() { close(ran) }); err != nil {
		t.Fatalf("submit follow-up task: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatalf("loop died after panic")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	exec := New(4)
	go exec.Run()
	exec.Stop()

	select {
	case <-exec.Done():
	case <-time.After(time.Second):
		t.Fatalf("loop never exited")
	}
	if err := exec.Submit(func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestSubmitNilTask(t *testing.T) {
	exec := New(4)
	if err := exec.Submit(nil); err == nil {
		t.Fatalf("expected nil task rejection")
	}
}

package bridge

import (
	"testing"
	"time"

	"gisbridge/internal/model"
)

func TestSignalDeliversResult(t *testing.T) {
	s := NewSignal()
	token := s.Arm()

	go func() {
		token.Complete(model.Result{OK: true, Code: 0, Stdout: "elevation"})
	}()

	res, ok := s.Wait(time.Second)
	if !ok {
		t.Fatalf("expected completion before timeout")
	}
	if !res.OK || res.Stdout != "elevation" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSignalWaitTimesOut(t *testing.T) {
	s := NewSignal()
	s.Arm()

	start := time.Now()
	_, ok := s.Wait(50 * time.Millisecond)
	if ok {
		t.Fatalf("expected timeout, got completion")
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("wait returned after %v, before the timeout elapsed", elapsed)
	}
}

func TestSignalCompleteBeforeWait(t *testing.T) {
	s := NewSignal()
	token := s.Arm()

	if !token.Complete(model.Result{OK: true}) {
		t.Fatalf("expected completion to be accepted")
	}

	res, ok := s.Wait(time.Second)
	if !ok || !res.OK {
		t.Fatalf("buffered completion lost: ok=%v res=%+v", ok, res)
	}
}

func TestSignalDropsStaleToken(t *testing.T) {
	s := NewSignal()
	stale := s.Arm()
	fresh := s.Arm()

	if stale.Complete(model.Result{Stdout: "stale"}) {
		t.Fatalf("stale token must be dropped")
	}
	if !fresh.Complete(model.Result{OK: true, Stdout: "fresh"}) {
		t.Fatalf("fresh token must be accepted")
	}

	res, ok := s.Wait(time.Second)
	if !ok || res.Stdout != "fresh" {
		t.Fatalf("expected fresh result, got ok=%v res=%+v", ok, res)
	}
}

func TestSignalDropsDuplicateCompletion(t *testing.T) {
	s := NewSignal()
	token := s.Arm()

	if !token.Complete(model.Result{OK: true}) {
		t.Fatalf("first completion rejected")
	}
	if token.Complete(model.Result{OK: false}) {
		t.Fatalf("duplicate completion must be dropped")
	}

	res, ok := s.Wait(time.Second)
	if !ok || !res.OK {
		t.Fatalf("first completion lost: ok=%v res=%+v", ok, res)
	}
}

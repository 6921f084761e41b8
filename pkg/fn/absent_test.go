package fn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAbsent(t *testing.T) {
	r := Absent[int]()
	if r.IsOk() || r.IsErr() {
		t.Fatal("absent result must be neither ok nor err")
	}
	if !r.IsAbsent() {
		t.Fatal("expected IsAbsent")
	}
	if got := r.UnwrapOr(42); got != 42 {
		t.Fatalf("UnwrapOr = %d, want fallback", got)
	}
}

func TestAbsentMustPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Absent[string]().Must()
}

func TestThenPropagatesAbsent(t *testing.T) {
	first := func(_ context.Context, _ int) Result[int] { return Absent[int]() }
	second := func(_ context.Context, _ int) Result[string] {
		t.Fatal("second stage must not run after absent")
		return Ok("")
	}
	r := Then(first, second)(context.Background(), 1)
	if !r.IsAbsent() {
		t.Fatal("expected absent to propagate")
	}
}

func TestMapResultPropagatesAbsent(t *testing.T) {
	r := MapResult(Absent[int](), func(v int) string { return "x" })
	if !r.IsAbsent() {
		t.Fatal("expected absent")
	}
}

func TestPollSucceeds(t *testing.T) {
	checks := 0
	err := Poll(context.Background(), PollOpts{Interval: time.Millisecond, MaxAttempts: 5},
		func(_ context.Context) (bool, error) {
			checks++
			return checks == 3, nil
		})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if checks != 3 {
		t.Fatalf("checks = %d, want 3", checks)
	}
}

func TestPollExhausted(t *testing.T) {
	err := Poll(context.Background(), PollOpts{Interval: time.Millisecond, MaxAttempts: 2},
		func(_ context.Context) (bool, error) { return false, nil })
	if !errors.Is(err, ErrPollExhausted) {
		t.Fatalf("err = %v, want ErrPollExhausted", err)
	}
}

func TestPollCheckError(t *testing.T) {
	boom := errors.New("boom")
	err := Poll(context.Background(), PollOpts{Interval: time.Millisecond, MaxAttempts: 5},
		func(_ context.Context) (bool, error) { return false, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want check error", err)
	}
}

func TestPollContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Poll(ctx, PollOpts{Interval: time.Hour, MaxAttempts: 3},
		func(_ context.Context) (bool, error) { return false, nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

package breaker

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(max int, reset time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New("test", max, reset)
	b.now = clk.now
	return b, clk
}

var errFail = errors.New("fail")

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed, got %v", b.CurrentState())
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if b.CurrentState() != StateOpen {
		t.Errorf("expected Open after 3 failures, got %v", b.CurrentState())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestBreaker_SuccessResetsStreak(t *testing.T) {
	b, _ := newTestBreaker(2, time.Second)
	b.Execute(func() error { return errFail })
	b.Execute(func() error { return nil })
	b.Execute(func() error { return errFail })
	if b.CurrentState() != StateClosed {
		t.Errorf("non-consecutive failures should not trip, got %v", b.CurrentState())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clk := newTestBreaker(2, 50*time.Millisecond)
	var transitions []State
	b.OnStateChange = func(_ string, _, to State) { transitions = append(transitions, to) }

	for i := 0; i < 2; i++ {
		b.Execute(func() error { return errFail })
	}
	clk.advance(60 * time.Millisecond)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed after successful trial, got %v", b.CurrentState())
	}
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_HalfOpenFailure(t *testing.T) {
	b, clk := newTestBreaker(2, 50*time.Millisecond)
	for i := 0; i < 2; i++ {
		b.Execute(func() error { return errFail })
	}
	clk.advance(60 * time.Millisecond)
	b.Execute(func() error { return errFail })

	if b.CurrentState() != StateOpen {
		t.Errorf("expected Open after failed trial, got %v", b.CurrentState())
	}
}

func TestBreaker_HalfOpenAdmitsSingleTrial(t *testing.T) {
	b, clk := newTestBreaker(1, 50*time.Millisecond)
	b.Execute(func() error { return errFail })
	clk.advance(60 * time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if b.CurrentState() != StateHalfOpen {
		t.Fatalf("expected HalfOpen during trial, got %v", b.CurrentState())
	}
	called := false
	if err := b.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen while trial in flight, got %v", err)
	}
	if called {
		t.Error("fn must not run while a trial is in flight")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial: %v", err)
	}
	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed after trial, got %v", b.CurrentState())
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Errorf("expected calls to pass once closed, got %v", err)
	}
}

func TestBreaker_IsFailureFilter(t *testing.T) {
	errBusiness := errors.New("insufficient balance")
	b, _ := newTestBreaker(1, time.Second)
	b.IsFailure = func(err error) bool { return !errors.Is(err, errBusiness) }

	for i := 0; i < 5; i++ {
		if err := b.Execute(func() error { return errBusiness }); err != errBusiness {
			t.Fatalf("got %v", err)
		}
	}
	if b.CurrentState() != StateClosed {
		t.Errorf("filtered errors must not trip, got %v", b.CurrentState())
	}

	b.Execute(func() error { return errFail })
	if b.CurrentState() != StateOpen {
		t.Errorf("expected Open, got %v", b.CurrentState())
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("%d: got %q want %q", s, s.String(), want)
		}
	}
}

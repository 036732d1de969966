package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/multisense/internal/timeutil"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSignalReleasesAllWaiters(t *testing.T) {
	w := New[uint16, string](nil)

	const n = 3
	var wg sync.WaitGroup
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := w.Wait(context.Background(), 7, 5*time.Second)
			if err != nil {
				t.Errorf("Wait: %v", err)
				return
			}
			results <- p
		}()
	}

	waitFor(t, func() bool { return w.Waiting(7) == n })
	if got := w.Signal(8, "other"); got != 0 {
		t.Errorf("Signal on an idle key released %d", got)
	}
	if got := w.Signal(7, "reply"); got != n {
		t.Errorf("Signal released %d, want %d", got, n)
	}
	wg.Wait()
	close(results)

	for p := range results {
		if p != "reply" {
			t.Errorf("payload = %q", p)
		}
	}
	if w.Waiting(7) != 0 {
		t.Errorf("Waiting = %d after signal", w.Waiting(7))
	}
}

// A waiter on a key that never arrives times out at its deadline and not
// before.
func TestTimeoutNotEarly(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	w := New[int, int](clock)

	done := make(chan error, 1)
	go func() {
		_, err := w.Wait(context.Background(), 1, time.Second)
		done <- err
	}()
	waitFor(t, func() bool { return clock.PendingTimers() == 1 })

	clock.Advance(999 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Wait returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(time.Millisecond)
	select {
	case err := <-done:
		if !errors.Is(err, ErrTimedOut) {
			t.Fatalf("err = %v, want ErrTimedOut", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not time out")
	}

	if s := w.Stats(); s.Timeouts != 1 || s.Waiting != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestTimeoutRealClock(t *testing.T) {
	w := New[int, int](nil)
	const timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := w.Wait(context.Background(), 1, timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("err = %v, want ErrTimedOut", err)
	}
	if elapsed < timeout {
		t.Errorf("returned after %v, before the %v timeout", elapsed, timeout)
	}
}

func TestContextCancel(t *testing.T) {
	w := New[int, int](nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := w.Wait(ctx, 1, time.Hour)
		done <- err
	}()
	waitFor(t, func() bool { return w.Waiting(1) == 1 })
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if w.Waiting(1) != 0 {
		t.Error("cancelled waiter still registered")
	}
}

func TestPrepareCatchesEarlySignal(t *testing.T) {
	w := New[string, int](nil)

	ticket := w.Prepare("ack")
	w.Signal("ack", 42) // reply arrives before the caller starts waiting

	p, err := ticket.Wait(context.Background(), time.Millisecond)
	if err != nil || p != 42 {
		t.Errorf("Wait = %d, %v; want 42, nil", p, err)
	}
}

func TestTicketCancel(t *testing.T) {
	w := New[string, int](nil)
	ticket := w.Prepare("x")
	ticket.Cancel()
	if w.Waiting("x") != 0 {
		t.Error("Cancel left the ticket registered")
	}
	if got := w.Signal("x", 1); got != 0 {
		t.Errorf("Signal released %d cancelled tickets", got)
	}
}

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PainSignalAI/painsignal-mvp/pkg/fn"
)

func failingCall(_ context.Context) error { return errors.New("backend down") }
func okCall(_ context.Context) error      { return nil }

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Timeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Call(ctx, failingCall); err == nil {
			t.Fatal("failing call succeeded")
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	if err := b.Call(ctx, okCall); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker let a call through: %v", err)
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Timeout: time.Minute})
	ctx := context.Background()

	b.Call(ctx, failingCall)
	b.Call(ctx, failingCall)
	b.Call(ctx, okCall)
	b.Call(ctx, failingCall)
	b.Call(ctx, failingCall)

	if b.State() != StateClosed {
		t.Fatalf("state = %v, non-consecutive failures must not trip", b.State())
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute, HalfOpenMax: 1})
	clock := time.Now()
	b.now = func() time.Time { return clock }
	ctx := context.Background()

	b.Call(ctx, failingCall)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	clock = clock.Add(2 * time.Minute)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after timeout", b.State())
	}

	if err := b.Call(ctx, okCall); err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, probe success must close", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute, HalfOpenMax: 1})
	clock := time.Now()
	b.now = func() time.Time { return clock }
	ctx := context.Background()

	b.Call(ctx, failingCall)
	clock = clock.Add(2 * time.Minute)

	if err := b.Call(ctx, failingCall); err == nil {
		t.Fatal("probe failure swallowed")
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, failed probe must reopen", b.State())
	}
	// The reopened window starts fresh.
	if err := b.Call(ctx, okCall); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("reopened breaker let a call through: %v", err)
	}
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute, HalfOpenMax: 1})
	clock := time.Now()
	b.now = func() time.Time { return clock }
	ctx := context.Background()

	b.Call(ctx, failingCall)
	clock = clock.Add(2 * time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	go b.Call(ctx, func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	// A second probe while the first is in flight is rejected.
	if err := b.Call(ctx, okCall); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second probe allowed: %v", err)
	}
	close(release)
}

func TestBreakerStage(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	stage := BreakerStage(b, func(_ context.Context, v int) fn.Result[int] {
		return fn.Errf[int]("stage failed")
	})

	if r := stage(context.Background(), 1); !r.IsErr() {
		t.Fatal("failure swallowed")
	}
	r := stage(context.Background(), 1)
	if _, err := r.Unwrap(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("tripped breaker ran the stage: %v", err)
	}
}

func TestLimiterAllow(t *testing.T) {
	// Zero refill rate: exactly burst tokens available.
	l := NewLimiter(LimiterOpts{Rate: 0, Burst: 2})
	if !l.Allow() || !l.Allow() {
		t.Fatal("burst tokens unavailable")
	}
	if l.Allow() {
		t.Fatal("empty bucket granted a token")
	}
}

func TestLimiterCall(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0, Burst: 1})
	ctx := context.Background()
	ran := 0
	run := func(context.Context) error { ran++; return nil }

	if err := l.Call(ctx, run); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if err := l.Call(ctx, run); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("over-limit Call = %v", err)
	}
	if ran != 1 {
		t.Fatalf("ran = %d", ran)
	}
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	l.Allow() // drain

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("Wait returned before a token could exist")
	}
}

func TestLimiterStage(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0, Burst: 1})
	stage := LimiterStage(l, func(_ context.Context, v int) fn.Result[int] {
		return fn.Ok(v * 2)
	})

	if v := stage(context.Background(), 3).Must(); v != 6 {
		t.Fatalf("got %d", v)
	}
	r := stage(context.Background(), 3)
	if _, err := r.Unwrap(); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("over-limit stage = %v", err)
	}
}

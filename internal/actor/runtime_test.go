package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type counter struct {
	n       int
	running int32
	maxSeen int32
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt := New(Options{})
	rt.Register("counter", func(ctx context.Context, key string) (any, error) { return &counter{}, nil })
	t.Cleanup(rt.Close)
	return rt
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCall_SerializesPerIdentity(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := testCtx(t)
	id := Identity{Kind: "counter", Key: "a"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = Do(ctx, rt, id, func(ctx context.Context, c *counter) error {
				cur := atomic.AddInt32(&c.running, 1)
				if cur > c.maxSeen {
					c.maxSeen = cur
				}
				time.Sleep(time.Millisecond)
				c.n++
				atomic.AddInt32(&c.running, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	got, err := Call(ctx, rt, id, func(ctx context.Context, c *counter) ([2]int, error) {
		return [2]int{c.n, int(c.maxSeen)}, nil
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got[0] != 50 || got[1] != 1 {
		t.Fatalf("n=%d maxConcurrent=%d", got[0], got[1])
	}
}

func TestCall_DifferentIdentitiesRunConcurrently(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := testCtx(t)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for _, key := range []string{"a", "b"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_ = Do(ctx, rt, Identity{Kind: "counter", Key: key}, func(ctx context.Context, c *counter) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}(key)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-ctx.Done():
			t.Fatalf("identity turns did not overlap")
		}
	}
	close(release)
	wg.Wait()
}

func TestCall_Errors(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := testCtx(t)

	if err := Do(ctx, rt, Identity{Kind: "nope", Key: "x"}, func(context.Context, *counter) error { return nil }); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("unknown kind: %v", err)
	}
	if err := Do(ctx, rt, Identity{Kind: "counter"}, func(context.Context, *counter) error { return nil }); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("empty key: %v", err)
	}
	if err := Do(ctx, rt, Identity{Kind: "counter", Key: "x"}, func(context.Context, *string) error { return nil }); err == nil {
		t.Fatalf("expected state type error")
	}
	boom := errors.New("boom")
	if err := Do(ctx, rt, Identity{Kind: "counter", Key: "x"}, func(context.Context, *counter) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("op error: %v", err)
	}
}

func TestActivation_FailureLeavesUnactivatedAndRetries(t *testing.T) {
	rt := New(Options{})
	defer rt.Close()
	ctx := testCtx(t)

	var attempts int32
	rt.Register("flaky", func(ctx context.Context, key string) (any, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return nil, errors.New("store unavailable")
		}
		return &counter{n: 10}, nil
	})
	id := Identity{Kind: "flaky", Key: "k"}

	_, err := Call(ctx, rt, id, func(ctx context.Context, c *counter) (int, error) { return c.n, nil })
	var ae *ActivationError
	if !errors.As(err, &ae) || ae.ID != id {
		t.Fatalf("want ActivationError, got %v", err)
	}
	if rt.Activated(id) {
		t.Fatalf("identity should not be activated after failure")
	}

	n, err := Call(ctx, rt, id, func(ctx context.Context, c *counter) (int, error) { return c.n, nil })
	if err != nil || n != 10 {
		t.Fatalf("retry: n=%d err=%v", n, err)
	}
	if !rt.Activated(id) || atomic.LoadInt32(&attempts) != 2 {
		t.Fatalf("activated=%v attempts=%d", rt.Activated(id), attempts)
	}
	if st := rt.Stats(); st.ActivationFailures != 1 || st.Activations["flaky"] != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestCall_ReentrantCallbackDoesNotDeadlock(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := testCtx(t)
	a := Identity{Kind: "counter", Key: "a"}
	b := Identity{Kind: "counter", Key: "b"}

	// a -> b -> a (callback) -> a finishes.
	err := Do(ctx, rt, a, func(ctx context.Context, ca *counter) error {
		ca.n = 1
		return Do(ctx, rt, b, func(ctx context.Context, cb *counter) error {
			cb.n++
			return Do(ctx, rt, a, func(ctx context.Context, ca2 *counter) error {
				if ca2 != ca {
					t.Errorf("callback saw a different activation")
				}
				ca2.n += 10
				return nil
			})
		})
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	n, _ := Call(ctx, rt, a, func(ctx context.Context, c *counter) (int, error) { return c.n, nil })
	if n != 11 {
		t.Fatalf("a.n=%d want 11", n)
	}
	if rt.Stats().ReentrantCalls != 1 {
		t.Fatalf("reentrant=%d", rt.Stats().ReentrantCalls)
	}
}

func TestCall_UnrelatedCallerWaitsForTurn(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := testCtx(t)
	a := Identity{Kind: "counter", Key: "a"}
	b := Identity{Kind: "counter", Key: "b"}

	inB := make(chan struct{})
	releaseB := make(chan struct{})
	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, rt, a, func(ctx context.Context, c *counter) error {
			return Do(ctx, rt, b, func(ctx context.Context, cb *counter) error {
				close(inB)
				<-releaseB
				record("first-turn")
				return nil
			})
		})
	}()
	<-inB
	outsider := make(chan error, 1)
	go func() {
		outsider <- Do(ctx, rt, a, func(ctx context.Context, c *counter) error {
			record("outsider")
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond)
	close(releaseB)
	if err := <-done; err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := <-outsider; err != nil {
		t.Fatalf("outsider: %v", err)
	}
	if len(order) != 2 || order[0] != "first-turn" || order[1] != "outsider" {
		t.Fatalf("order=%v", order)
	}
}

func TestFanOut_IsolatesFailuresAndServesCallbacks(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := testCtx(t)
	a := Identity{Kind: "counter", Key: "a"}

	var errs []error
	err := Do(ctx, rt, a, func(ctx context.Context, c *counter) error {
		errs = rt.FanOut(ctx, 4, func(ctx context.Context, i int) error {
			switch i {
			case 1:
				panic("observer exploded")
			case 2:
				return errors.New("branch failed")
			}
			// Callback into the waiting entity through a peer.
			peer := Identity{Kind: "counter", Key: string(rune('p' + i))}
			return Do(ctx, rt, peer, func(ctx context.Context, p *counter) error {
				return Do(ctx, rt, a, func(ctx context.Context, ca *counter) error {
					ca.n++
					return nil
				})
			})
		})
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if errs[0] != nil || errs[3] != nil {
		t.Fatalf("healthy branches failed: %v", errs)
	}
	if errs[1] == nil || errs[2] == nil {
		t.Fatalf("failures not reported: %v", errs)
	}
	n, _ := Call(ctx, rt, a, func(ctx context.Context, c *counter) (int, error) { return c.n, nil })
	if n != 2 {
		t.Fatalf("callbacks applied=%d want 2", n)
	}
	if rt.Stats().BranchFailures != 2 {
		t.Fatalf("branch failures=%d", rt.Stats().BranchFailures)
	}
}

func TestFanOut_OutsideTurn(t *testing.T) {
	rt := newTestRuntime(t)
	var hits atomic.Int32
	errs := rt.FanOut(context.Background(), 10, func(ctx context.Context, i int) error {
		hits.Add(1)
		return nil
	})
	if len(errs) != 10 || hits.Load() != 10 {
		t.Fatalf("errs=%d hits=%d", len(errs), hits.Load())
	}
}

func TestTell_RunsDetached(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := testCtx(t)
	a := Identity{Kind: "counter", Key: "a"}
	b := Identity{Kind: "counter", Key: "b"}

	got := make(chan int, 1)
	err := Do(ctx, rt, a, func(ctx context.Context, c *counter) error {
		Tell(ctx, rt, b, func(ctx context.Context, cb *counter) error {
			cb.n = 7
			got <- cb.n
			return nil
		})
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	select {
	case n := <-got:
		if n != 7 {
			t.Fatalf("n=%d", n)
		}
	case <-ctx.Done():
		t.Fatalf("tell never ran")
	}
}

func TestPanicInTurnIsReported(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := testCtx(t)
	id := Identity{Kind: "counter", Key: "a"}
	if err := Do(ctx, rt, id, func(context.Context, *counter) error { panic("bad") }); err == nil {
		t.Fatalf("expected panic error")
	}
	// Entity keeps serving.
	if err := Do(ctx, rt, id, func(context.Context, *counter) error { return nil }); err != nil {
		t.Fatalf("after panic: %v", err)
	}
	if rt.Stats().Panics != 1 {
		t.Fatalf("panics=%d", rt.Stats().Panics)
	}
}

func TestStaleReentrantCallIsRefused(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := testCtx(t)
	a := Identity{Kind: "counter", Key: "a"}

	var leaked context.Context
	_ = Do(ctx, rt, a, func(ctx context.Context, c *counter) error {
		leaked = ctx
		return nil
	})
	// The turn that owned this context is over.
	err := Do(leaked, rt, a, func(context.Context, *counter) error { return nil })
	if !errors.Is(err, ErrStaleCall) {
		t.Fatalf("want ErrStaleCall, got %v", err)
	}
}

func TestClose_FailsLaterCalls(t *testing.T) {
	rt := New(Options{})
	rt.Register("counter", func(ctx context.Context, key string) (any, error) { return &counter{}, nil })
	ctx := testCtx(t)
	if err := Do(ctx, rt, Identity{Kind: "counter", Key: "a"}, func(context.Context, *counter) error { return nil }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	rt.Close()
	if err := Do(ctx, rt, Identity{Kind: "counter", Key: "a"}, func(context.Context, *counter) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("after close: %v", err)
	}
	rt.Close()
}

func TestKeys(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := testCtx(t)
	for _, k := range []string{"b", "a"} {
		_ = Do(ctx, rt, Identity{Kind: "counter", Key: k}, func(context.Context, *counter) error { return nil })
	}
	keys := rt.Keys("counter")
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("keys=%v", keys)
	}
}

func TestCall_AbandonedCallNeverRuns(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := testCtx(t)
	id := Identity{Kind: "counter", Key: "a"}

	inTurn := make(chan struct{})
	release := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- Do(ctx, rt, id, func(ctx context.Context, c *counter) error {
			close(inTurn)
			<-release
			return nil
		})
	}()
	<-inTurn

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	err := Do(short, rt, id, func(ctx context.Context, c *counter) error {
		c.n++
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("queued call: %v", err)
	}
	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first: %v", err)
	}

	n, err := Call(ctx, rt, id, func(ctx context.Context, c *counter) (int, error) { return c.n, nil })
	if err != nil || n != 0 {
		t.Fatalf("abandoned call ran: n=%d err=%v", n, err)
	}
}

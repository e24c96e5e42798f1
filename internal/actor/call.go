package actor

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

type frameKey struct{}
type selfKey struct{}

// frame records one entity turn held by a call chain. Frames form a parent list
// from the innermost turn outward.
type frame struct {
	id     Identity
	chain  uint64
	parent *frame
}

func (f *frame) holds(id Identity) bool {
	for ; f != nil; f = f.parent {
		if f.id == id {
			return true
		}
	}
	return false
}

func framesFrom(ctx context.Context) *frame {
	f, _ := ctx.Value(frameKey{}).(*frame)
	return f
}

// turn marks a context as running on an entity goroutine. It is invalidated when
// the turn returns so a context that outlives its turn waits like any other caller.
type turn struct {
	a    *activation
	done atomic.Bool
}

// selfFrom returns the activation whose goroutine is running ctx, if any.
func selfFrom(ctx context.Context) *activation {
	t, _ := ctx.Value(selfKey{}).(*turn)
	if t == nil || t.done.Load() {
		return nil
	}
	return t.a
}

// Call runs fn against the state of id within id's turn and returns its result.
// T must match the pointer type the kind's activator returns.
func Call[T any, R any](ctx context.Context, rt *Runtime, id Identity, fn func(ctx context.Context, s *T) (R, error)) (R, error) {
	var zero R
	v, err := rt.invoke(ctx, id, func(ctx context.Context, state any) (any, error) {
		s, ok := state.(*T)
		if !ok {
			return nil, fmt.Errorf("entity %s: state is %T, want %T", id, state, s)
		}
		return fn(ctx, s)
	})
	if err != nil {
		return zero, err
	}
	r, _ := v.(R)
	return r, nil
}

// Do is Call for operations without a result.
func Do[T any](ctx context.Context, rt *Runtime, id Identity, fn func(ctx context.Context, s *T) error) error {
	_, err := Call(ctx, rt, id, func(ctx context.Context, s *T) (struct{}, error) {
		return struct{}{}, fn(ctx, s)
	})
	return err
}

func (rt *Runtime) invoke(ctx context.Context, id Identity, run func(context.Context, any) (any, error)) (any, error) {
	a, err := rt.activation(id)
	if err != nil {
		return nil, err
	}
	rt.calls.Add(1)

	frames := framesFrom(ctx)
	var chain uint64
	if frames != nil {
		chain = frames.chain
	} else {
		chain = rt.nextChain.Add(1)
	}
	e := &envelope{
		ctx:    ctx,
		chain:  chain,
		frames: frames,
		run:    run,
		resp:   make(chan result, 1),
	}
	target := a.inbox
	if frames.holds(id) {
		rt.reentrantCalls.Add(1)
		target = a.reentry
	}

	// A caller running inside a turn keeps serving callbacks from its own chain
	// while it waits; otherwise the callee could never call back into it.
	var reentry chan *envelope
	self := selfFrom(ctx)
	if self != nil {
		reentry = self.reentry
	}

	for sent := false; !sent; {
		select {
		case target <- e:
			sent = true
		case re := <-reentry:
			self.serveReentrant(re)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-rt.stop:
			return nil, ErrStopped
		}
	}
	for {
		select {
		case r := <-e.resp:
			return r.val, r.err
		case re := <-reentry:
			self.serveReentrant(re)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-rt.stop:
			return nil, ErrStopped
		}
	}
}

// Tell runs fn against id in a new call chain without waiting for it. Failures are
// logged. The caller's cancellation does not reach the detached call.
func Tell[T any](ctx context.Context, rt *Runtime, id Identity, fn func(ctx context.Context, s *T) error) {
	dctx := context.WithoutCancel(ctx)
	dctx = context.WithValue(dctx, frameKey{}, (*frame)(nil))
	dctx = context.WithValue(dctx, selfKey{}, (*turn)(nil))
	go func() {
		if err := Do(dctx, rt, id, fn); err != nil {
			rt.log.Printf("tell %s: %v", id, err)
		}
	}()
}

// FanOut runs fn for i in [0, n) concurrently and waits for all of them. Branches
// never cancel each other; a panicking branch is reported as its error. When called
// from inside a turn, the entity keeps serving callbacks from its chain while waiting.
func (rt *Runtime) FanOut(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	if n == 0 {
		return errs
	}
	self := selfFrom(ctx)
	// Branches are not on the entity goroutine; they wait plainly for their calls.
	bctx := context.WithValue(ctx, selfKey{}, (*turn)(nil))

	var g errgroup.Group
	if rt.fanOutLimit > 0 {
		g.SetLimit(rt.fanOutLimit)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			i := i
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("fan-out branch %d panic: %v", i, r)
					}
					if err != nil {
						rt.branchErrs.Add(1)
					}
					errs[i] = err
				}()
				return fn(bctx, i)
			})
		}
		_ = g.Wait()
	}()

	if self == nil {
		<-done
		return errs
	}
	for {
		select {
		case <-done:
			return errs
		case re := <-self.reentry:
			self.serveReentrant(re)
		}
	}
}

// Package actor runs addressable entities one turn at a time.
//
// Every activated identity owns a goroutine that executes its calls in arrival
// order. Entity state is only touched from that goroutine. Calls made from inside
// a turn carry the call chain in their context, so a callee that calls back into
// an entity already holding a turn in the same chain is served on that entity's
// reentry channel instead of queueing behind the turn that is waiting for it.
package actor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	ErrStopped     = errors.New("actor runtime stopped")
	ErrUnknownKind = errors.New("unknown entity kind")
	ErrEmptyKey    = errors.New("empty entity key")
	ErrStaleCall   = errors.New("reentrant call outside its call chain")
)

// ActivationError reports that an entity could not be activated. The identity
// stays un-activated and the next call retries.
type ActivationError struct {
	ID  Identity
	Err error
}

func (e *ActivationError) Error() string { return fmt.Sprintf("activate %s: %v", e.ID, e.Err) }
func (e *ActivationError) Unwrap() error { return e.Err }

// Identity addresses one entity. Keys are case-sensitive and must be non-empty.
type Identity struct {
	Kind string
	Key  string
}

func (id Identity) String() string { return id.Kind + "/" + id.Key }

// Activator builds the in-memory state for key. It runs on the entity goroutine
// on the first call, and again on the next call if it failed.
type Activator func(ctx context.Context, key string) (any, error)

type Options struct {
	Logger *log.Logger

	// InboxSize bounds the per-entity queue of pending calls.
	InboxSize int
	// FanOutLimit caps concurrent branches of one FanOut; 0 means unlimited.
	FanOutLimit int
}

type Runtime struct {
	log         *log.Logger
	inboxSize   int
	fanOutLimit int

	mu     sync.Mutex
	kinds  map[string]Activator
	acts   map[Identity]*activation
	closed bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	nextChain atomic.Uint64

	calls          atomic.Uint64
	reentrantCalls atomic.Uint64
	staleCalls     atomic.Uint64
	activationErrs atomic.Uint64
	panics         atomic.Uint64
	branchErrs     atomic.Uint64
}

func New(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	inbox := opts.InboxSize
	if inbox <= 0 {
		inbox = 256
	}
	return &Runtime{
		log:         logger,
		inboxSize:   inbox,
		fanOutLimit: opts.FanOutLimit,
		kinds:       map[string]Activator{},
		acts:        map[Identity]*activation{},
		stop:        make(chan struct{}),
	}
}

// Register binds an activator to a kind. Registering a kind twice replaces the
// activator for identities not yet activated.
func (rt *Runtime) Register(kind string, act Activator) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.kinds[kind] = act
}

// Close stops every entity goroutine. Pending and future calls fail with ErrStopped.
func (rt *Runtime) Close() {
	rt.stopOnce.Do(func() {
		rt.mu.Lock()
		rt.closed = true
		rt.mu.Unlock()
		close(rt.stop)
	})
	rt.wg.Wait()
}

func (rt *Runtime) activation(id Identity) (*activation, error) {
	if id.Key == "" {
		return nil, fmt.Errorf("%w: kind %s", ErrEmptyKey, id.Kind)
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return nil, ErrStopped
	}
	if a, ok := rt.acts[id]; ok {
		return a, nil
	}
	act, ok := rt.kinds[id.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, id.Kind)
	}
	a := &activation{
		id:        id,
		rt:        rt,
		activator: act,
		inbox:     make(chan *envelope, rt.inboxSize),
		reentry:   make(chan *envelope, 16),
	}
	rt.acts[id] = a
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		a.loop()
	}()
	return a, nil
}

// Activated reports whether id has live state.
func (rt *Runtime) Activated(id Identity) bool {
	rt.mu.Lock()
	a := rt.acts[id]
	rt.mu.Unlock()
	return a != nil && a.activated.Load()
}

// Keys lists the activated keys of a kind in sorted order.
func (rt *Runtime) Keys(kind string) []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var out []string
	for id, a := range rt.acts {
		if id.Kind == kind && a.activated.Load() {
			out = append(out, id.Key)
		}
	}
	sort.Strings(out)
	return out
}

type Stats struct {
	Activations        map[string]int
	QueueDepth         int
	Calls              uint64
	ReentrantCalls     uint64
	StaleCalls         uint64
	ActivationFailures uint64
	Panics             uint64
	BranchFailures     uint64
}

func (rt *Runtime) Stats() Stats {
	s := Stats{
		Activations:        map[string]int{},
		Calls:              rt.calls.Load(),
		ReentrantCalls:     rt.reentrantCalls.Load(),
		StaleCalls:         rt.staleCalls.Load(),
		ActivationFailures: rt.activationErrs.Load(),
		Panics:             rt.panics.Load(),
		BranchFailures:     rt.branchErrs.Load(),
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for kind := range rt.kinds {
		s.Activations[kind] = 0
	}
	for id, a := range rt.acts {
		if a.activated.Load() {
			s.Activations[id.Kind]++
		}
		s.QueueDepth += len(a.inbox)
	}
	return s
}

type result struct {
	val any
	err error
}

type envelope struct {
	ctx    context.Context
	chain  uint64
	frames *frame
	run    func(ctx context.Context, state any) (any, error)
	resp   chan result
}

func (e *envelope) reply(r result) {
	select {
	case e.resp <- r:
	default:
	}
}

type activation struct {
	id        Identity
	rt        *Runtime
	activator Activator

	inbox   chan *envelope
	reentry chan *envelope

	// Owned by the entity goroutine.
	state     any
	turnChain uint64

	activated atomic.Bool
}

func (a *activation) loop() {
	for {
		select {
		case <-a.rt.stop:
			a.drain()
			return
		case e := <-a.inbox:
			a.serveTurn(e)
		case e := <-a.reentry:
			a.serveReentrant(e)
		}
	}
}

func (a *activation) drain() {
	for {
		select {
		case e := <-a.inbox:
			e.reply(result{err: ErrStopped})
		case e := <-a.reentry:
			e.reply(result{err: ErrStopped})
		default:
			return
		}
	}
}

// serveTurn skips envelopes whose caller already gave up, so an abandoned call
// never changes state after its caller saw it fail.
func (a *activation) serveTurn(e *envelope) {
	if err := e.ctx.Err(); err != nil {
		e.reply(result{err: err})
		return
	}
	a.turnChain = e.chain
	defer func() { a.turnChain = 0 }()
	e.reply(a.run(e))
}

// serveReentrant runs a callback that belongs to the chain currently holding this
// entity's turn. Anything else arriving on the reentry channel is refused.
func (a *activation) serveReentrant(e *envelope) {
	if a.turnChain == 0 || e.chain != a.turnChain {
		a.rt.staleCalls.Add(1)
		e.reply(result{err: fmt.Errorf("%w: %s", ErrStaleCall, a.id)})
		return
	}
	e.reply(a.run(e))
}

func (a *activation) run(e *envelope) (res result) {
	defer func() {
		if r := recover(); r != nil {
			a.rt.panics.Add(1)
			a.rt.log.Printf("entity %s panic: %v", a.id, r)
			res = result{err: fmt.Errorf("entity %s panic: %v", a.id, r)}
		}
	}()

	ctx := context.WithValue(e.ctx, frameKey{}, &frame{id: a.id, chain: e.chain, parent: e.frames})
	tk := &turn{a: a}
	defer tk.done.Store(true)
	ctx = context.WithValue(ctx, selfKey{}, tk)

	if a.state == nil {
		st, err := a.activator(ctx, a.id.Key)
		if err != nil {
			a.rt.activationErrs.Add(1)
			a.rt.log.Printf("entity %s activation failed: %v", a.id, err)
			return result{err: &ActivationError{ID: a.id, Err: err}}
		}
		if st == nil {
			a.rt.activationErrs.Add(1)
			return result{err: &ActivationError{ID: a.id, Err: errors.New("activator returned nil state")}}
		}
		a.state = st
		a.activated.Store(true)
	}
	v, err := e.run(ctx, a.state)
	return result{val: v, err: err}
}

// Package procgroup provides a fixed-size, rank-based process group with
// point-to-point messaging and collectives. Rank 0 is the root by convention.
package procgroup

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

var (
	ErrInvalidRank = errors.New("invalid rank")
	ErrInvalidSize = errors.New("process group size must be positive")
)

const inboxPerRank = 4

// Comm is what a rank program needs from its runtime. Every rank must call
// the collectives in the same order.
type Comm interface {
	Rank() int
	Size() int
	Send(ctx context.Context, dest int, msg Message) error
	// Recv blocks until a message from any rank is available. Messages are
	// delivered in arrival order.
	Recv(ctx context.Context) (Envelope, error)
	Bcast(ctx context.Context, root int, value any) (any, error)
	// Gather returns every rank's value indexed by rank on root, nil elsewhere.
	Gather(ctx context.Context, root int, value any) ([]any, error)
	Barrier(ctx context.Context) error
}

type round struct {
	arrived int
	values  []any
	done    chan struct{}
}

func newRound(size int) *round {
	return &round{values: make([]any, size), done: make(chan struct{})}
}

type world struct {
	size    int
	inboxes []chan Envelope

	mu      sync.Mutex
	current *round
}

func newWorld(size int) *world {
	w := &world{
		size:    size,
		inboxes: make([]chan Envelope, size),
		current: newRound(size),
	}
	for i := range w.inboxes {
		w.inboxes[i] = make(chan Envelope, size*inboxPerRank)
	}
	return w
}

// exchange is the rendezvous behind every collective: it returns once all
// ranks have contributed to the same round.
func (w *world) exchange(ctx context.Context, rank int, value any) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	r := w.current
	r.values[rank] = value
	r.arrived++
	if r.arrived == w.size {
		w.current = newRound(w.size)
		close(r.done)
	}
	w.mu.Unlock()

	select {
	case <-r.done:
		return r.values, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type localComm struct {
	rank int
	w    *world
}

func (c *localComm) Rank() int { return c.rank }
func (c *localComm) Size() int { return c.w.size }

func (c *localComm) checkRank(rank int) error {
	if rank < 0 || rank >= c.w.size {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidRank, rank, c.w.size)
	}
	return nil
}

func (c *localComm) Send(ctx context.Context, dest int, msg Message) error {
	if err := c.checkRank(dest); err != nil {
		return err
	}
	select {
	case c.w.inboxes[dest] <- Envelope{Source: c.rank, Msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *localComm) Recv(ctx context.Context) (Envelope, error) {
	select {
	case env := <-c.w.inboxes[c.rank]:
		return env, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (c *localComm) Bcast(ctx context.Context, root int, value any) (any, error) {
	if err := c.checkRank(root); err != nil {
		return nil, err
	}
	if c.rank != root {
		value = nil
	}
	values, err := c.w.exchange(ctx, c.rank, value)
	if err != nil {
		return nil, err
	}
	return values[root], nil
}

func (c *localComm) Gather(ctx context.Context, root int, value any) ([]any, error) {
	if err := c.checkRank(root); err != nil {
		return nil, err
	}
	values, err := c.w.exchange(ctx, c.rank, value)
	if err != nil {
		return nil, err
	}
	if c.rank != root {
		return nil, nil
	}
	return append([]any(nil), values...), nil
}

func (c *localComm) Barrier(ctx context.Context) error {
	_, err := c.w.exchange(ctx, c.rank, nil)
	return err
}

// RankError attributes a failure to the rank that produced it.
type RankError struct {
	Rank int
	Err  error
}

func (e *RankError) Error() string {
	return fmt.Sprintf("rank %d: %v", e.Rank, e.Err)
}

func (e *RankError) Unwrap() error {
	return e.Err
}

// Run starts size ranks executing fn and waits for all of them. The first
// rank to fail cancels the others; its error is returned wrapped in a
// RankError. A panic in a rank is reported as that rank's error.
func Run(ctx context.Context, size int, fn func(ctx context.Context, comm Comm) error) error {
	if size <= 0 {
		return ErrInvalidSize
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := newWorld(size)
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			err := runRank(ctx, &localComm{rank: rank, w: w}, fn)
			if err == nil {
				return
			}
			once.Do(func() {
				firstErr = &RankError{Rank: rank, Err: err}
				cancel()
			})
		}(rank)
	}
	wg.Wait()
	return firstErr
}

func runRank(ctx context.Context, comm Comm, fn func(ctx context.Context, comm Comm) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, comm)
}

package lua

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

const defaultQueueSize = 64

// call is one queued Lua operation with its result channel.
type call struct {
	fn     func(L *lua.LState) error
	result chan error
}

// Executor serializes all Lua operations through a single goroutine.
//
// gopher-lua's LState must only ever be touched from one goroutine. The
// Executor queues operations from any goroutine and runs them on the
// goroutine that calls Run, which is what makes concurrent Execute calls
// against the same pack serialize instead of race.
type Executor struct {
	state *State
	queue chan *call
	done  chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewExecutor creates an executor for the given state.
func NewExecutor(state *State) *Executor {
	return &Executor{
		state: state,
		queue: make(chan *call, defaultQueueSize),
		done:  make(chan struct{}),
	}
}

// Run processes queued operations until the context is cancelled or Close is
// called. It must be the only goroutine touching the state.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.drain(ctx.Err())
			return
		case <-e.done:
			e.drain(ErrExecutorClosed)
			return
		case c := <-e.queue:
			e.finish(c, e.run(c))
		}
	}
}

// run executes one operation with panic recovery.
func (e *Executor) run(c *call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = v
			case string:
				err = errors.New(v)
			default:
				err = errors.New("lua panic")
			}
		}
	}()
	return c.fn(e.state.L)
}

// finish delivers a result without blocking and closes the channel.
func (e *Executor) finish(c *call, err error) {
	select {
	case c.result <- err:
	default:
	}
	close(c.result)
}

// drain fails all queued operations with the given error.
func (e *Executor) drain(err error) {
	for {
		select {
		case c := <-e.queue:
			e.finish(c, err)
		default:
			return
		}
	}
}

// Execute runs an operation on the executor goroutine and blocks until it
// completes or the context is cancelled.
func (e *Executor) Execute(ctx context.Context, fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	c := &call{fn: fn, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
	}

	select {
	case <-ctx.Done():
		// The operation stays queued and will run; we stop waiting for it.
		return ctx.Err()
	case err, ok := <-c.result:
		if !ok {
			return ErrExecutorClosed
		}
		return err
	}
}

// ExecuteAsync queues an operation without waiting for its result.
func (e *Executor) ExecuteAsync(fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	c := &call{fn: fn, result: make(chan error, 1)}

	select {
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
		go func() {
			<-c.result
		}()
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the executor. Queued operations fail with ErrExecutorClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// IsClosed reports whether the executor has been closed.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}

package worker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Task func(ctx context.Context) error

// Pool runs submitted tasks on at most size goroutines at a time. Submit
// never blocks the caller: a task waits for a slot in its own goroutine.
type Pool struct {
	ctx     context.Context
	sem     chan struct{}
	wg      sync.WaitGroup
	timeout time.Duration
}

// NewPool ties every task to ctx; cancelling it fails tasks that have not
// started yet. A timeout <= 0 means tasks run without a deadline.
func NewPool(ctx context.Context, size int, timeout time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{ctx: ctx, sem: make(chan struct{}, size), timeout: timeout}
}

// Submit schedules t and calls done with its result. A panic inside t is
// reported to done as an error.
func (p *Pool) Submit(t Task, done func(error)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := p.run(t)
		if done != nil {
			done(err)
		}
	}()
}

func (p *Pool) run(t Task) (err error) {
	if err := p.ctx.Err(); err != nil {
		return err
	}
	select {
	case p.sem <- struct{}{}:
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
	defer func() { <-p.sem }()

	ctx, cancel := p.ctx, context.CancelFunc(func() {})
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(p.ctx, p.timeout)
	}
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return t(ctx)
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() { p.wg.Wait() }

// Drain waits for outstanding tasks or until ctx is done, whichever is first.
func (p *Pool) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

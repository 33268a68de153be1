package asyncmy

import (
	"context"
	"sync"
	"sync/atomic"
)

// command lifecycle states, used to distinguish a command cancelled while
// still sitting in the queue (no side effects to undo) from one cancelled
// after the executor has already started running it (wire state is now
// mid-flight and can't be trusted).
const (
	cmdPending int32 = iota
	cmdStarted
	cmdCancelled
)

// command is one closure submitted to an executor, paired with the
// channel its result is delivered on. This is the Go rendering of
// spec.md §9's "generator-driven coroutines": the closure is the
// coroutine body, done is the future it resolves.
type command struct {
	run   func(*Client) error
	done  chan error
	state atomic.Int32
}

// executor is the in-order, single-consumer FIFO described in spec.md
// §4.3: at most one submitted closure runs at a time, a closure runs to
// completion (or terminal failure) before the next begins, and on
// shutdown pending closures are cancelled while the in-flight one drains.
type executor struct {
	client *Client
	queue  chan *command

	mu       sync.Mutex
	shutdown bool
	shutdownErr error
	done     chan struct{} // closed once the consumer goroutine exits
}

func newExecutor(c *Client) *executor {
	e := &executor{
		client: c,
		queue:  make(chan *command, 64),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *executor) run() {
	defer close(e.done)
	for cmd := range e.queue {
		if !cmd.state.CompareAndSwap(cmdPending, cmdStarted) {
			// Cancelled by its caller before the executor got to it; it
			// never touched the wire, so it's dropped without running.
			continue
		}
		e.mu.Lock()
		stopped, cause := e.shutdown, e.shutdownErr
		e.mu.Unlock()
		if stopped {
			// Still queued when Shutdown ran: cancelled with the shutdown
			// cause instead of being run.
			cmd.done <- cause
			continue
		}
		start := nowFunc()
		err := cmd.run(e.client)
		e.client.conn.ResetSeq()
		if e.client.metrics != nil {
			e.client.metrics.CommandCompleted("command", nowFunc().Sub(start))
		}
		cmd.done <- err
	}
}

// Submit enqueues fn for exclusive execution and blocks until it
// completes, the executor is shut down, or ctx is cancelled. Cancelling
// a command still sitting in the queue removes it without side effects;
// cancelling the one currently running escalates to shutting the Client
// down, per spec.md §5, because the codec's stream position can no
// longer be trusted mid-packet.
func (e *executor) Submit(ctx context.Context, fn func(*Client) error) error {
	e.mu.Lock()
	if e.shutdown {
		err := e.shutdownErr
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	cmd := &command{run: fn, done: make(chan error, 1)}

	select {
	case e.queue <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return e.currentShutdownErr()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		if cmd.state.CompareAndSwap(cmdPending, cmdCancelled) {
			// Still sitting in the queue, never touched the wire: remove
			// it without side effects per spec.md §5.
			return ctx.Err()
		}
		// Already started (or finished) by the time we observed
		// cancellation; we can't safely pull it back out or stop it
		// mid-flight, so escalate to a full Client shutdown (spec.md §5's
		// cancellation rule) and report the caller's cancellation.
		e.client.Shutdown(ctx.Err())
		return ctx.Err()
	}
}

func (e *executor) currentShutdownErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdownErr
}

// Shutdown marks the executor as disposed, rejects further submissions
// with cause, cancels commands still waiting in the queue with cause, and
// lets the in-flight command (if any) drain naturally.
// Idempotent.
func (e *executor) Shutdown(cause error) {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return
	}
	e.shutdown = true
	e.shutdownErr = cause
	e.mu.Unlock()
	close(e.queue)
}

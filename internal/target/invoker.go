package target

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"adversary/internal/payload"
)

// ErrTimeout is reported when a call exceeds its deadline. The goroutine
// running the call is abandoned; Go offers no way to preempt it.
var ErrTimeout = errors.New("target call timed out")

// Outcome is the observed result of one target call.
type Outcome struct {
	Result   payload.Value
	Err      error
	Duration time.Duration
	TimedOut bool
	Stack    string
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Invoker runs target functions under a deadline, converting panics into
// payload.PanicError values.
type Invoker struct {
	Timeout time.Duration
	Tracer  Tracer
}

const DefaultTimeout = time.Second

func NewInvoker(timeout time.Duration) *Invoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Invoker{Timeout: timeout}
}

// WithTracer returns a copy of the invoker that reports branches to tracer.
func (inv *Invoker) WithTracer(tracer Tracer) *Invoker {
	clone := *inv
	clone.Tracer = tracer
	return &clone
}

// Invoke calls t with args. Context cancellation and the invoker timeout
// both end the wait early.
func (inv *Invoker) Invoke(ctx context.Context, t Target, args []payload.Value) Outcome {
	if t.Fn == nil {
		return Outcome{Err: fmt.Errorf("%w: %s", ErrNoFunc, t.Name)}
	}
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Outcome, 1)
	go func() {
		var out Outcome
		defer func() {
			if r := recover(); r != nil {
				out = Outcome{Err: &payload.PanicError{Value: r}, Stack: string(debug.Stack())}
			}
			done <- out
		}()
		call := newCall(callCtx, t, args, inv.Tracer)
		result, err := t.Fn(call, args)
		out = Outcome{Result: result, Err: err}
	}()

	select {
	case out := <-done:
		out.Duration = time.Since(start)
		return out
	case <-callCtx.Done():
		err := ctx.Err()
		if err == nil {
			err = ErrTimeout
		}
		return Outcome{Err: err, Duration: time.Since(start), TimedOut: true}
	}
}

// InvokePayload broadcasts v across every declared parameter and invokes t.
func (inv *Invoker) InvokePayload(ctx context.Context, t Target, v payload.Value) Outcome {
	return inv.Invoke(ctx, t, t.Broadcast(v))
}

package wire

import "fmt"

// ErrAlreadyTriggered is panicked when a Token's result or exception is
// set a second time. Firing a token twice is always a programmer error
// in the driving code (multiplexer, executor, ...), never a condition
// that can arise from wire data, so it is not reported as a normal Go
// error.
type ErrAlreadyTriggered struct{}

func (ErrAlreadyTriggered) Error() string { return "token already triggered" }

// ErrCallbackBound is panicked by OnResult/OnException when a callback
// is already bound; rebinding is always a programmer error.
type ErrCallbackBound struct{ Which string }

func (e ErrCallbackBound) Error() string {
	return fmt.Sprintf("%s callback already bound", e.Which)
}

// Token is a one-shot result-or-error notification. It fires exactly
// once: either SetResult or SetException, never both, never twice.
// Tokens are not safe for concurrent use; like every type in this
// module tree they are meant to be driven synchronously from a single
// logical executor.
type Token[T any] struct {
	onResult    func(T)
	onException func(error)
	triggered   bool
	cancelled   bool
	detach      func()
}

// NewToken returns a new, unfired Token.
func NewToken[T any]() *Token[T] {
	return &Token[T]{}
}

// OnResult binds the callback invoked by SetResult. Binding twice
// panics.
func (t *Token[T]) OnResult(cb func(T)) {
	if t.onResult != nil {
		panic(ErrCallbackBound{"result"})
	}
	t.onResult = cb
}

// OnException binds the callback invoked by SetException. Binding
// twice panics.
func (t *Token[T]) OnException(cb func(error)) {
	if t.onException != nil {
		panic(ErrCallbackBound{"exception"})
	}
	t.onException = cb
}

// SetResult fires the token successfully with value v. Calling it after
// the token already fired panics with ErrAlreadyTriggered. Calling it on
// a cancelled token is a silent no-op.
func (t *Token[T]) SetResult(v T) {
	if t.cancelled {
		return
	}
	if t.triggered {
		panic(ErrAlreadyTriggered{})
	}
	t.triggered = true
	if t.onResult != nil {
		t.onResult(v)
	}
}

// SetException fires the token with an error. If no exception callback
// is bound, the error is returned to the caller instead of being
// swallowed — per this package's contract, a Token never silently
// drops a failure. Calling it after the token already fired panics.
// Calling it on a cancelled token is a silent no-op.
func (t *Token[T]) SetException(err error) error {
	if t.cancelled {
		return nil
	}
	if t.triggered {
		panic(ErrAlreadyTriggered{})
	}
	t.triggered = true
	if t.onException != nil {
		t.onException(err)
		return nil
	}
	return err
}

// Triggered reports whether the token has already fired.
func (t *Token[T]) Triggered() bool { return t.triggered }

// Cancelled reports whether the token has been cancelled.
func (t *Token[T]) Cancelled() bool { return t.cancelled }

// SetDetach registers the hook invoked by Cancel to detach this token
// from whatever map (e.g. an AMI multiplexer's action table) is holding
// it. It is set by the owner at creation time, not by the token's
// caller.
func (t *Token[T]) SetDetach(fn func()) {
	t.detach = fn
}

// Cancel detaches the token from its owner so that no later result or
// exception delivery reaches its callbacks. Cancelling an already
// fired or already cancelled token is a no-op.
func (t *Token[T]) Cancel() {
	if t.triggered || t.cancelled {
		return
	}
	t.cancelled = true
	if t.detach != nil {
		t.detach()
	}
}

// Aggregate returns a new Token that fires successfully with the
// ordered list of every child token's result once all of them have
// succeeded, or fires with the first exception observed from any
// child. Once the aggregate has fired, further child completions are
// ignored.
func Aggregate[T any](tokens []*Token[T]) *Token[[]T] {
	agg := NewToken[[]T]()
	results := make([]T, len(tokens))
	remaining := len(tokens)
	done := false
	for i, tok := range tokens {
		i := i
		tok.OnResult(func(v T) {
			if done {
				return
			}
			results[i] = v
			remaining--
			if remaining == 0 {
				done = true
				agg.SetResult(results)
			}
		})
		tok.OnException(func(err error) {
			if done {
				return
			}
			done = true
			_ = agg.SetException(err)
		})
	}
	return agg
}

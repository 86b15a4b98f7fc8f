// Package cancel provides a cooperative cancellation signal shared between a
// caller and a running restoration.
package cancel

import (
	"context"
	"sync"
	"sync/atomic"
)

// Token is a set-once cancellation flag. The zero value is not usable; use New.
type Token struct {
	triggered atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// New returns an untriggered token.
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel triggers the token. Safe to call from any goroutine, any number of times.
func (t *Token) Cancel() {
	t.once.Do(func() {
		t.triggered.Store(true)
		close(t.done)
	})
}

// Triggered reports whether Cancel has been called. A nil token is never triggered.
func (t *Token) Triggered() bool {
	return t != nil && t.triggered.Load()
}

// Done returns a channel closed on Cancel. A nil token returns a nil channel.
func (t *Token) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.done
}

// Context derives a context from parent that is cancelled when either the
// parent ends or the token is triggered. The returned stop function must be
// called to release resources.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancelCtx := context.WithCancel(parent)
	if t == nil {
		return ctx, cancelCtx
	}
	if t.Triggered() {
		cancelCtx()
		return ctx, cancelCtx
	}

	go func() {
		select {
		case <-t.done:
			cancelCtx()
		case <-ctx.Done():
		}
	}()
	return ctx, cancelCtx
}

// Watch triggers the token when ctx ends. The returned function detaches the
// watcher and reports whether it had already fired.
func (t *Token) Watch(ctx context.Context) (stop func() bool) {
	if t == nil {
		return func() bool { return false }
	}
	return context.AfterFunc(ctx, t.Cancel)
}

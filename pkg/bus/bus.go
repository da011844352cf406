package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBusClosed is returned when publishing to a closed UpdateBus.
var ErrBusClosed = errors.New("update bus closed")

// UpdateBus carries conversation updates from transport callbacks to the UI
// goroutine, so terminal writes never happen on the websocket read loop.
type UpdateBus struct {
	updates chan Update
	done    chan struct{}
	closed  atomic.Bool
}

func NewUpdateBus() *UpdateBus {
	return &UpdateBus{
		updates: make(chan Update, 100),
		done:    make(chan struct{}),
	}
}

func (ub *UpdateBus) Publish(ctx context.Context, u Update) error {
	if ub.closed.Load() {
		return ErrBusClosed
	}
	select {
	case ub.updates <- u:
		return nil
	case <-ub.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ub *UpdateBus) Consume(ctx context.Context) (Update, bool) {
	select {
	case u, ok := <-ub.updates:
		return u, ok
	case <-ub.done:
		return Update{}, false
	case <-ctx.Done():
		return Update{}, false
	}
}

func (ub *UpdateBus) Close() {
	if ub.closed.CompareAndSwap(false, true) {
		close(ub.done)
	}
}

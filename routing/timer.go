package routing

import (
	"sync"
	"time"

	"github.com/walmircouto/MaidSafe-Routing/wire"
)

// pendingCall tracks one outstanding request awaiting a correlated
// response.
type pendingCall struct {
	done  chan *wire.Message
	timer *time.Timer
}

// ResponseTimer is the per-request timeout collaborator from §5: it maps
// a message id to a pending-response promise and closes that promise
// without a value (timeout) if no matching response arrives before the
// deadline.
type ResponseTimer struct {
	mu      sync.Mutex
	pending map[uint32]*pendingCall
	timeout time.Duration
}

// NewResponseTimer constructs a timer using timeout as the per-request
// deadline.
func NewResponseTimer(timeout time.Duration) *ResponseTimer {
	return &ResponseTimer{
		pending: make(map[uint32]*pendingCall),
		timeout: timeout,
	}
}

// Await registers msgID as awaiting a response and returns a channel that
// either receives the matching response once and is then closed, or, on
// timeout or shutdown cancellation, is closed without a value.
func (t *ResponseTimer) Await(msgID uint32) <-chan *wire.Message {
	done := make(chan *wire.Message, 1)
	timer := time.AfterFunc(t.timeout, func() { t.expire(msgID) })

	t.mu.Lock()
	t.pending[msgID] = &pendingCall{done: done, timer: timer}
	t.mu.Unlock()

	return done
}

// Resolve completes the pending call for msgID with resp, if one is still
// outstanding. It reports whether a pending call was found.
func (t *ResponseTimer) Resolve(msgID uint32, resp *wire.Message) bool {
	t.mu.Lock()
	call, ok := t.pending[msgID]
	if ok {
		delete(t.pending, msgID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	call.timer.Stop()
	call.done <- resp
	close(call.done)
	return true
}

func (t *ResponseTimer) expire(msgID uint32) {
	t.mu.Lock()
	call, ok := t.pending[msgID]
	if ok {
		delete(t.pending, msgID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	close(call.done)
}

// CancelAll completes every pending call with no value, matching §5's
// shutdown contract that pending reply capabilities become no-ops.
func (t *ResponseTimer) CancelAll() {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[uint32]*pendingCall)
	t.mu.Unlock()

	for _, call := range pending {
		call.timer.Stop()
		close(call.done)
	}
}

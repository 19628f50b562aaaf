package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/COVESA/graphql-vss-server-libs/internal/logging"
)

// recordingReplies collects every frame handed to OnReply, safe for
// concurrent use by a strand goroutine and the test goroutine.
type recordingReplies struct {
	mu   sync.Mutex
	envs []Envelope
}

func (r *recordingReplies) add(env Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *recordingReplies) all() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.envs))
	copy(out, r.envs)
	return out
}

// fakeTimer implements Timer without a real clock: Arm just records the
// scheduled callback; tests call FireNow to run it synchronously, as if
// the interval had elapsed.
type fakeTimer struct {
	mu      sync.Mutex
	armed   bool
	pending func()
}

func newFakeTimer() *fakeTimer { return &fakeTimer{} }

func (t *fakeTimer) Arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed {
		return
	}
	t.armed = true
	t.pending = fn
}

func (t *fakeTimer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

func (t *fakeTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = false
	t.pending = nil
}

// FireNow runs the pending callback synchronously, as if the timer had
// just expired, and clears the armed flag first (matching the real
// mainLoopTimer, which clears armed before invoking fn).
func (t *fakeTimer) FireNow() {
	t.mu.Lock()
	fn := t.pending
	t.armed = false
	t.pending = nil
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// timerRegistry hands out a single fakeTimer per test (every
// SubscriptionOperation lazily creates exactly one) and lets the test
// reach in and fire it.
type timerRegistry struct {
	mu    sync.Mutex
	timer *fakeTimer
}

func (r *timerRegistry) create() Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timer = newFakeTimer()
	return r.timer
}

func (r *timerRegistry) get() *fakeTimer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer
}

// syncHandlers runs Defer and OffloadWork inline (in the caller's
// goroutine) rather than on a real main loop / worker pool, which keeps
// single-goroutine test flows deterministic. Tests that exercise the
// subscription strand's own goroutine synchronize via the returned notify
// channel or by polling the recorded replies instead. The returned *timerRegistry exposes the fakeTimer a
// subscription creates, so tests can fire it explicitly.
func syncHandlers(replies *recordingReplies) (Handlers, *timerRegistry, <-chan NotifyTriggers) {
	var notifyMu sync.Mutex
	var current NotifyTriggers
	var currentValid bool
	reg := &timerRegistry{}
	notifyCh := make(chan NotifyTriggers, 8)

	h := Handlers{
		OnReply:     replies.add,
		Defer:       func(fn func()) { fn() },
		OffloadWork: func(fn func()) { fn() },
		CreateTimer: reg.create,
		Notify: func(t NotifyTriggers) {
			notifyMu.Lock()
			current = t
			currentValid = true
			notifyMu.Unlock()
			notifyCh <- t
		},
		CurrentNotificationTriggers: func() (NotifyTriggers, bool) {
			notifyMu.Lock()
			defer notifyMu.Unlock()
			return current, currentValid
		},
		Terminate: func() {},
	}
	return h, reg, notifyCh
}

// funcSchema is a minimal protocol.Schema test double.
type funcSchema struct {
	resolve     func(ctx context.Context, state *RequestState, query, opName string, vars map[string]interface{}) (DataPayload, error)
	subscribe   func(ctx context.Context, state *RequestState, query, opName string, vars map[string]interface{}, onFuture OnFuture) (SubscriptionKey, error)
	unsubscribe func(key SubscriptionKey)
}

func (s *funcSchema) Resolve(ctx context.Context, state *RequestState, query, opName string, vars map[string]interface{}) (DataPayload, error) {
	return s.resolve(ctx, state, query, opName, vars)
}

func (s *funcSchema) Subscribe(ctx context.Context, state *RequestState, query, opName string, vars map[string]interface{}, onFuture OnFuture) (SubscriptionKey, error) {
	return s.subscribe(ctx, state, query, opName, vars, onFuture)
}

func (s *funcSchema) Unsubscribe(key SubscriptionKey) {
	if s.unsubscribe != nil {
		s.unsubscribe(key)
	}
}

func (s *funcSchema) Deliver(ctx context.Context, rootFieldName string) {}

func noopLogger() logging.Logger {
	return logging.New(logging.DefaultConfig())
}

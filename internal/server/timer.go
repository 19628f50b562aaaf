package server

import (
	"sync"
	"time"

	"github.com/COVESA/graphql-vss-server-libs/internal/protocol"
)

// mainLoopTimer implements protocol.Timer on top of time.AfterFunc, always
// hopping back onto the main loop (via defer) before running its callback,
// so Operations never observe a timer fire off the main loop.
type mainLoopTimer struct {
	defer_ func(func())

	mu    sync.Mutex
	armed bool
	t     *time.Timer
}

func newMainLoopTimer(deferFn func(func())) protocol.Timer {
	return &mainLoopTimer{defer_: deferFn}
}

// Arm schedules fn after d. If already armed, this is a no-op: the
// subscription rate-limit algorithm deliberately never reschedules an
// armed timer, so that the newest pending value always wins at the
// original fire time instead of starving behind a moving deadline.
func (t *mainLoopTimer) Arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed {
		return
	}
	t.armed = true
	t.t = time.AfterFunc(d, func() {
		t.mu.Lock()
		t.armed = false
		t.mu.Unlock()
		t.defer_(fn)
	})
}

func (t *mainLoopTimer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

func (t *mainLoopTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
	}
	t.armed = false
}

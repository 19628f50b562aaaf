// Package server implements the main-loop scheduler: it multiplexes
// connection I/O, per-request worker offloading, notify coalescing, and
// deferred singleton garbage collection.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/COVESA/graphql-vss-server-libs/internal/config"
	"github.com/COVESA/graphql-vss-server-libs/internal/logging"
	"github.com/COVESA/graphql-vss-server-libs/internal/protocol"
	"github.com/COVESA/graphql-vss-server-libs/internal/singleton"
)

// connEntry pairs a live Connection with the function that closes its
// socket, so Terminate and shutdown can reach the transport without the
// Connection itself knowing about sockets.
type connEntry struct {
	conn  *protocol.Connection
	close func(code int, reason string)
}

// Server owns the set of live connections, the worker pool, the singleton
// storage, and the two deferred timers (notify, garbage-collect).
type Server struct {
	cfg        config.ServerConfig
	gcCfg      config.GCConfig
	notifyCfg  config.NotifyConfig
	log        logging.Logger
	authorizer protocol.Authorizer
	schema     protocol.Schema
	storage    *singleton.Storage
	metrics    *metrics

	pool *workerPool

	mainLoopTasks chan func()
	stopCh        chan struct{}
	loopWG        sync.WaitGroup

	mu          sync.Mutex
	connections map[string]*connEntry

	notifyMu      sync.Mutex
	pendingNotify map[string]protocol.NotifyTriggers
	notifyArmed   bool

	currentMu       sync.Mutex
	currentTriggers protocol.NotifyTriggers
	currentValid    bool

	gcMu    sync.Mutex
	gcArmed bool
	gcTimer *time.Timer
}

// New builds a Server. authorizer and schema are the external
// collaborators wired in by cmd/server; storage is typically fresh.
func New(cfg config.ServerConfig, gcCfg config.GCConfig, notifyCfg config.NotifyConfig, authorizer protocol.Authorizer, schema protocol.Schema, storage *singleton.Storage, log logging.Logger, reg prometheus.Registerer) *Server {
	return &Server{
		cfg:           cfg,
		gcCfg:         gcCfg,
		notifyCfg:     notifyCfg,
		log:           log,
		authorizer:    authorizer,
		schema:        schema,
		storage:       storage,
		metrics:       newMetrics(reg),
		pool:          newWorkerPool(cfg.WorkerPoolSize),
		mainLoopTasks: make(chan func(), 256),
		stopCh:        make(chan struct{}),
		connections:   make(map[string]*connEntry),
		pendingNotify: make(map[string]protocol.NotifyTriggers),
	}
}

// Run starts the main loop. It blocks until Stop is called.
func (s *Server) Run() {
	s.loopWG.Add(1)
	defer s.loopWG.Done()
	for {
		select {
		case fn := <-s.mainLoopTasks:
			fn()
		case <-s.stopCh:
			return
		}
	}
}

// Defer posts fn to the main loop. Safe to call from any goroutine.
func (s *Server) Defer(fn func()) {
	select {
	case s.mainLoopTasks <- fn:
	case <-s.stopCh:
	}
}

// OffloadWork posts fn to the worker pool. Safe to call from any goroutine.
func (s *Server) OffloadWork(fn func()) {
	s.pool.Submit(fn)
}

// NewConnectionID mints a fresh, unique connection identifier.
func (s *Server) NewConnectionID() string {
	return uuid.NewString()
}

// AcceptConnection registers a new Connection for id, wiring it to this
// Server's scheduling primitives. closeSocket is called by Terminate and
// by Stop's shutdown sequence.
func (s *Server) AcceptConnection(id string, closeSocket func(code int, reason string), onReply func(protocol.Envelope)) *protocol.Connection {
	handlers := protocol.Handlers{
		OnReply:                     onReply,
		Defer:                       s.Defer,
		OffloadWork:                 s.OffloadWork,
		CreateTimer:                 func() protocol.Timer { return newMainLoopTimer(s.Defer) },
		Notify:                      s.Notify,
		CurrentNotificationTriggers: s.CurrentNotificationTriggers,
		Terminate:                   func() { s.terminateConnection(id) },
		OnOperationStarted:          func() { s.metrics.operations.Inc() },
		OnOperationStopped:          func() { s.metrics.operations.Dec() },
		OnResolverFailure:           func() { s.metrics.resolverFailures.Inc() },
	}

	conn := protocol.NewConnection(id, s.authorizer, s.schema, s.storage, handlers, s.log.WithFields(logging.String("connection_id", id)))

	s.mu.Lock()
	s.connections[id] = &connEntry{conn: conn, close: closeSocket}
	s.mu.Unlock()
	s.metrics.connections.Inc()

	return conn
}

// RemoveConnection tears a connection down (if still registered) and
// schedules garbage collection if singleton refs were released.
func (s *Server) RemoveConnection(id string) {
	s.mu.Lock()
	entry, ok := s.connections[id]
	if ok {
		delete(s.connections, id)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	entry.conn.TearDown()
	s.metrics.connections.Dec()
	s.scheduleGarbageCollectIfNeeded()
}

func (s *Server) terminateConnection(id string) {
	s.mu.Lock()
	entry, ok := s.connections[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	if entry.close != nil {
		entry.close(1000, "connection_terminate")
	}
	s.RemoveConnection(id)
}

// Notify merges t into the pending-notify map and arms the debounce timer
// if it is not already armed. Safe to call from any goroutine.
func (s *Server) Notify(t protocol.NotifyTriggers) {
	s.notifyMu.Lock()
	if existing, ok := s.pendingNotify[t.Name]; ok {
		s.pendingNotify[t.Name] = existing.Merge(t)
		s.metrics.notifyCoalesced.Inc()
	} else {
		s.pendingNotify[t.Name] = t
	}
	shouldArm := !s.notifyArmed
	if shouldArm {
		s.notifyArmed = true
	}
	s.notifyMu.Unlock()

	if shouldArm {
		time.AfterFunc(s.notifyCfg.DebounceWindow, s.fireNotify)
	}
}

func (s *Server) fireNotify() {
	s.Defer(func() {
		s.notifyMu.Lock()
		batch := s.pendingNotify
		s.pendingNotify = make(map[string]protocol.NotifyTriggers)
		s.notifyArmed = false
		s.notifyMu.Unlock()

		for name, triggers := range batch {
			s.currentMu.Lock()
			s.currentTriggers = triggers
			s.currentValid = true
			s.currentMu.Unlock()

			s.schema.Deliver(context.Background(), name)

			s.currentMu.Lock()
			s.currentValid = false
			s.currentMu.Unlock()
		}
	})
}

// CurrentNotificationTriggers is valid only while Schema.Deliver is
// executing as a result of fireNotify, i.e. from inside a subscription's
// onFuture callback.
func (s *Server) CurrentNotificationTriggers() (protocol.NotifyTriggers, bool) {
	s.currentMu.Lock()
	defer s.currentMu.Unlock()
	return s.currentTriggers, s.currentValid
}

// scheduleGarbageCollectIfNeeded arms the GC timer for the configured
// grace period if anything is pending disposal and no timer is armed yet.
func (s *Server) scheduleGarbageCollectIfNeeded() {
	if s.storage.PendingGarbageCollect() == 0 {
		return
	}

	s.gcMu.Lock()
	defer s.gcMu.Unlock()
	if s.gcArmed {
		return
	}
	s.gcArmed = true
	s.gcTimer = time.AfterFunc(s.gcCfg.EffectiveGracePeriod(), s.runGarbageCollect)
}

func (s *Server) runGarbageCollect() {
	s.gcMu.Lock()
	s.gcArmed = false
	s.gcMu.Unlock()

	n := s.storage.GarbageCollect()
	s.metrics.gcRuns.Inc()
	s.metrics.singletonsLive.Set(float64(s.storage.Len()))
	if n > 0 {
		s.log.Debug("singleton garbage collect", logging.Int("collected", n))
	}
}

// Stop implements the shutdown sequence: stop every live connection, stop
// the worker pool, cancel pending timers, and clear singleton storage
// (detaching any survivors).
func (s *Server) Stop(onStopped func()) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.connections))
	for id := range s.connections {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.terminateConnection(id)
	}

	s.pool.Stop()

	s.notifyMu.Lock()
	s.pendingNotify = make(map[string]protocol.NotifyTriggers)
	s.notifyArmed = false
	s.notifyMu.Unlock()

	s.gcMu.Lock()
	if s.gcTimer != nil {
		s.gcTimer.Stop()
	}
	s.gcArmed = false
	s.gcMu.Unlock()

	s.storage.Clear()

	close(s.stopCh)
	s.loopWG.Wait()

	if onStopped != nil {
		onStopped()
	}
}

package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/HoangQuocKhanh0504/khanhpclass/internal/router"
	"github.com/HoangQuocKhanh0504/khanhpclass/internal/session"
	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/types"
)

const (
	DefaultWorkers   = 8
	DefaultQueueSize = 256

	cleanupInterval = time.Minute
)

// Hub serializes inbound events per connection and hands them to the router
// ARCHITECTURAL DISCOVERY: Events are sharded by connection id so one
// connection's events (and its final disconnect) are processed in order,
// while a slow join on one shard never delays frames on another
type Hub struct {
	router *router.Router
	shards []chan task

	// State
	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running  bool
	shutdown chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
}

// task is one unit of work for a shard; env is nil for a disconnect
type task struct {
	sess       *session.Session
	env        *types.Envelope
	receivedAt time.Time
}

// NewHub creates a hub with the given number of shard workers, each with a
// queue of queueSize events. Non-positive values fall back to the defaults.
func NewHub(r *router.Router, workers, queueSize int) *Hub {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	shards := make([]chan task, workers)
	for i := range shards {
		shards[i] = make(chan task, queueSize)
	}
	return &Hub{router: r, shards: shards}
}

// Start launches the shard workers
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})

	slog.Info("starting hub", "workers", len(h.shards))
	for i := range h.shards {
		h.wg.Add(1)
		go h.work(ctx, h.shards[i], h.shutdown)
	}
	h.wg.Add(1)
	go h.cleanup(ctx, h.shutdown)
	return nil
}

// Stop signals the workers to exit and waits for them. Queued events that
// have not been picked up are discarded.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	h.mu.Unlock()

	h.wg.Wait()
	slog.Info("hub stopped")
	return nil
}

// Running reports whether Start has been called without a matching Stop
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Dispatch queues env for sess. It blocks while the shard queue is full,
// which pushes back on the connection's read loop.
func (h *Hub) Dispatch(ctx context.Context, sess *session.Session, env *types.Envelope) error {
	return h.enqueue(ctx, task{sess: sess, env: env, receivedAt: time.Now()})
}

// Disconnect queues the teardown of sess behind its pending events. When the
// hub is not running the session is detached immediately so room state never
// keeps a dead connection.
func (h *Hub) Disconnect(ctx context.Context, sess *session.Session) {
	if err := h.enqueue(ctx, task{sess: sess, receivedAt: time.Now()}); err != nil {
		h.router.Disconnect(sess)
	}
}

func (h *Hub) enqueue(ctx context.Context, t task) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	shutdown := h.shutdown
	h.mu.RUnlock()

	select {
	case h.shard(t.sess.ID()) <- t:
		return nil
	case <-shutdown:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) shard(connectionID string) chan task {
	return h.shards[xxhash.Sum64String(connectionID)%uint64(len(h.shards))]
}

func (h *Hub) work(ctx context.Context, queue chan task, shutdown chan struct{}) {
	defer h.wg.Done()
	for {
		select {
		case t := <-queue:
			h.handle(t)
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handle processes a single task
// FUNCTIONAL DISCOVERY: Routing errors are logged and never stop the worker
func (h *Hub) handle(t task) {
	if t.env == nil {
		h.router.Disconnect(t.sess)
		slog.Debug("connection detached", "connection", t.sess.ID())
		return
	}
	if err := h.router.Route(t.sess, t.env); err != nil {
		slog.Info("event rejected",
			"connection", t.sess.ID(),
			"event", t.env.Event,
			"queued", time.Since(t.receivedAt),
			"error", err)
	}
}

func (h *Hub) cleanup(ctx context.Context, shutdown chan struct{}) {
	defer h.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.router.Cleanup()
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

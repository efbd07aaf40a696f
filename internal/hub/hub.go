// Package hub delivers asynchronous events to the single streaming
// connection registered for each session.
//
// Every registered handle owns a bounded queue and one pump goroutine that
// drains it in order, so event producers never block on the transport.
package hub

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"
)

const DefaultQueueSize = 256

var ErrNoHandle = errors.New("hub: no streaming handle for session")

type Writer interface {
	Write(message []byte) error
	Close() error
}

// Event is one queued payload. Live, when set, is checked right before the
// write; a false result drops the event.
type Event struct {
	Payload any
	Live    func() bool
}

type handle struct {
	key    string
	writer Writer
	queue  chan Event
	done   chan struct{}
	once   sync.Once

	// writeMu serialises pump writes with direct Send replies.
	writeMu sync.Mutex
}

func (h *handle) stop() {
	h.once.Do(func() { close(h.done) })
}

func (h *handle) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.writer.Write(data)
}

type Hub struct {
	log       *zap.Logger
	queueSize int

	mu      sync.RWMutex
	handles map[string]*handle
}

func New(log *zap.Logger, queueSize int) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{log: log, queueSize: queueSize, handles: make(map[string]*handle)}
}

// Register makes w the session's streaming handle. A previously registered
// writer is stopped and closed.
func (h *Hub) Register(key string, w Writer) {
	hd := &handle{
		key:    key,
		writer: w,
		queue:  make(chan Event, h.queueSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	prev := h.handles[key]
	h.handles[key] = hd
	h.mu.Unlock()

	if prev != nil {
		prev.stop()
		_ = prev.writer.Close()
		h.log.Info("streaming handle replaced", zap.String("session", key))
	}
	go h.pump(hd)
}

// Unregister removes w if it is still the session's handle. It is safe to
// call after the handle was replaced or already removed.
func (h *Hub) Unregister(key string, w Writer) bool {
	h.mu.Lock()
	hd, ok := h.handles[key]
	if !ok || hd.writer != w {
		h.mu.Unlock()
		return false
	}
	delete(h.handles, key)
	h.mu.Unlock()

	hd.stop()
	return true
}

// Drop removes whatever handle the session has and closes it.
func (h *Hub) Drop(key string) {
	h.mu.Lock()
	hd, ok := h.handles[key]
	delete(h.handles, key)
	h.mu.Unlock()
	if ok {
		hd.stop()
		_ = hd.writer.Close()
	}
}

func (h *Hub) Connected(key string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.handles[key]
	return ok
}

// Deliver queues ev for the session. Events for sessions without a handle,
// or whose queue is full, are dropped and false is returned.
func (h *Hub) Deliver(key string, ev Event) bool {
	h.mu.RLock()
	hd, ok := h.handles[key]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case <-hd.done:
		return false
	default:
	}
	select {
	case hd.queue <- ev:
		return true
	default:
		h.log.Warn("event queue full, dropping event", zap.String("session", key))
		return false
	}
}

// Send writes v to the session's handle immediately, bypassing the queue.
// w must be the writer currently registered for the session; replies from a
// replaced connection fail with ErrNoHandle instead of reaching its
// successor.
func (h *Hub) Send(key string, w Writer, v any) error {
	h.mu.RLock()
	hd, ok := h.handles[key]
	h.mu.RUnlock()
	if !ok || hd.writer != w {
		return ErrNoHandle
	}
	if err := hd.write(v); err != nil {
		h.fail(hd, err)
		return err
	}
	return nil
}

// Close stops every handle and closes its writer.
func (h *Hub) Close() {
	h.mu.Lock()
	handles := h.handles
	h.handles = make(map[string]*handle)
	h.mu.Unlock()

	for _, hd := range handles {
		hd.stop()
		_ = hd.writer.Close()
	}
}

func (h *Hub) pump(hd *handle) {
	for {
		select {
		case <-hd.done:
			return
		case ev := <-hd.queue:
			if ev.Live != nil && !ev.Live() {
				continue
			}
			if err := hd.write(ev.Payload); err != nil {
				h.fail(hd, err)
				return
			}
		}
	}
}

// fail drops a handle whose writer errored.
func (h *Hub) fail(hd *handle, err error) {
	h.log.Warn("streaming write failed", zap.String("session", hd.key), zap.Error(err))
	h.mu.Lock()
	if h.handles[hd.key] == hd {
		delete(h.handles, hd.key)
	}
	h.mu.Unlock()
	hd.stop()
	_ = hd.writer.Close()
}

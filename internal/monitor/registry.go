// Package monitor tracks the per-channel watches of each session.
//
// A watch is a parked goroutine plus one remote subscription. Stopping a
// watch cancels the goroutine, which removes the subscription before it
// reports itself done, so the two never outlive each other.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"channel-watch-server/internal/errs"
	"channel-watch-server/internal/hub"
	"channel-watch-server/internal/model"
	"channel-watch-server/internal/protocol"
	"channel-watch-server/internal/remote"
)

const DefaultTeardownTimeout = 10 * time.Second

// Sessions is the part of the session manager the registry needs.
type Sessions interface {
	IsAuthorized(key string) bool
	WithAuthorizedClient(ctx context.Context, key string, fn func(remote.Client) error) error
	WithClient(ctx context.Context, key string, fn func(remote.Client) error) error
}

// Sink receives new-message events; *hub.Hub implements it.
type Sink interface {
	Deliver(key string, ev hub.Event) bool
}

type Options struct {
	Now             func() time.Time
	TeardownTimeout time.Duration
}

type watch struct {
	sessionKey string
	channelID  string
	startedAt  time.Time
	subID      remote.SubscriptionID
	handler    *forwarder

	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
	// teardownErr is written before done is closed.
	teardownErr error
}

func (w *watch) live() bool { return !w.stopped.Load() }

// forwarder is the stable handler registered for one watch.
type forwarder struct {
	w    *watch
	sink Sink
}

func (f *forwarder) HandleNewMessage(msg model.Message) {
	if !f.w.live() {
		return
	}
	f.sink.Deliver(f.w.sessionKey, hub.Event{
		Payload: protocol.NewMessageEvent(msg),
		Live:    f.w.live,
	})
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

type Registry struct {
	sessions Sessions
	sink     Sink
	log      *zap.Logger
	opts     Options

	mu      sync.Mutex
	watches map[string]map[string]*watch
	locks   map[string]*keyLock
}

func New(sessions Sessions, sink Sink, log *zap.Logger, opts Options) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = DefaultTeardownTimeout
	}
	return &Registry{
		sessions: sessions,
		sink:     sink,
		log:      log,
		opts:     opts,
		watches:  make(map[string]map[string]*watch),
		locks:    make(map[string]*keyLock),
	}
}

// lockSession serialises Start and Stop calls for one session.
func (r *Registry) lockSession(key string) func() {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &keyLock{}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}

func (r *Registry) lookup(key, channelID string) (*watch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watches[key][channelID]
	return w, ok
}

// Start watches every channel in ids. Each channel succeeds or fails on its
// own; a channel that is already watched reports true without side effects.
func (r *Registry) Start(ctx context.Context, key string, ids []string) map[string]bool {
	results := make(map[string]bool, len(ids))
	if !r.sessions.IsAuthorized(key) {
		for _, id := range ids {
			results[id] = false
		}
		r.log.Warn("monitoring refused for unauthorized session", zap.String("session", key))
		return results
	}

	unlock := r.lockSession(key)
	defer unlock()

	for _, id := range ids {
		if _, done := results[id]; done {
			continue
		}
		if id == "" {
			results[id] = false
			continue
		}
		if _, ok := r.lookup(key, id); ok {
			results[id] = true
			continue
		}
		if err := r.startOne(ctx, key, id); err != nil {
			r.log.Warn("start watch failed", zap.String("session", key), zap.String("channel", id), zap.Error(err))
			results[id] = false
			continue
		}
		results[id] = true
	}
	return results
}

func (r *Registry) startOne(ctx context.Context, key, channelID string) error {
	w := &watch{
		sessionKey: key,
		channelID:  channelID,
		startedAt:  r.opts.Now().UTC(),
		done:       make(chan struct{}),
	}
	w.handler = &forwarder{w: w, sink: r.sink}

	err := r.sessions.WithAuthorizedClient(ctx, key, func(c remote.Client) error {
		if _, err := c.ResolveChannel(ctx, channelID); err != nil {
			return fmt.Errorf("%w: %w", errs.ErrChannelResolution, err)
		}
		sub, err := c.Subscribe(channelID, w.handler)
		if err != nil {
			return err
		}
		w.subID = sub
		return nil
	})
	if err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	r.mu.Lock()
	if r.watches[key] == nil {
		r.watches[key] = make(map[string]*watch)
	}
	r.watches[key][channelID] = w
	r.mu.Unlock()

	go r.run(watchCtx, w)
	r.log.Info("watch started", zap.String("session", key), zap.String("channel", channelID))
	return nil
}

// run parks until the watch is cancelled, then removes its subscription.
func (r *Registry) run(ctx context.Context, w *watch) {
	defer close(w.done)
	<-ctx.Done()
	w.stopped.Store(true)

	tctx, cancel := context.WithTimeout(context.Background(), r.opts.TeardownTimeout)
	defer cancel()
	err := r.sessions.WithClient(tctx, w.sessionKey, func(c remote.Client) error {
		return c.Unsubscribe(w.subID)
	})
	if err != nil {
		w.teardownErr = fmt.Errorf("%w: %w", errs.ErrSubscriptionTeardown, err)
		r.log.Error("remove subscription failed",
			zap.String("session", w.sessionKey), zap.String("channel", w.channelID), zap.Error(err))
		return
	}
	r.log.Info("watch stopped", zap.String("session", w.sessionKey), zap.String("channel", w.channelID))
}

// Stop cancels the watches for ids. When it returns the subscriptions are
// gone and no further events for those channels reach the sink. A channel
// that was not watched, or whose subscription could not be removed,
// reports false.
func (r *Registry) Stop(ctx context.Context, key string, ids []string) map[string]bool {
	unlock := r.lockSession(key)
	defer unlock()

	results := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, done := results[id]; done {
			continue
		}
		w, ok := r.detach(key, id)
		if !ok {
			results[id] = false
			continue
		}
		results[id] = r.stopWatch(ctx, w) == nil
	}
	return results
}

// StopAll stops every watch of the session, best effort per watch.
func (r *Registry) StopAll(ctx context.Context, key string) map[string]bool {
	unlock := r.lockSession(key)
	defer unlock()
	return r.stopAllLocked(ctx, key)
}

// Retire stops every watch of the session and then runs fn before Start or
// Stop for that session can proceed. fn is where the session itself goes
// away, so a concurrent Start cannot attach a watch in between.
func (r *Registry) Retire(ctx context.Context, key string, fn func()) map[string]bool {
	unlock := r.lockSession(key)
	defer unlock()
	results := r.stopAllLocked(ctx, key)
	fn()
	return results
}

func (r *Registry) stopAllLocked(ctx context.Context, key string) map[string]bool {
	r.mu.Lock()
	set := r.watches[key]
	delete(r.watches, key)
	r.mu.Unlock()

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make(map[string]bool, len(ids))
	for _, id := range ids {
		results[id] = r.stopWatch(ctx, set[id]) == nil
	}
	return results
}

func (r *Registry) detach(key, channelID string) (*watch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.watches[key]
	w, ok := set[channelID]
	if !ok {
		return nil, false
	}
	delete(set, channelID)
	if len(set) == 0 {
		delete(r.watches, key)
	}
	return w, true
}

func (r *Registry) stopWatch(ctx context.Context, w *watch) error {
	w.stopped.Store(true)
	w.cancel()
	select {
	case <-w.done:
		return w.teardownErr
	case <-ctx.Done():
		r.log.Warn("gave up waiting for watch teardown",
			zap.String("session", w.sessionKey), zap.String("channel", w.channelID))
		return ctx.Err()
	}
}

// Active lists the session's watches ordered by channel id.
func (r *Registry) Active(key string) []model.WatchInfo {
	r.mu.Lock()
	set := r.watches[key]
	out := make([]model.WatchInfo, 0, len(set))
	for _, w := range set {
		out = append(out, model.WatchInfo{ChannelID: w.channelID, StartedAt: w.startedAt})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

func (r *Registry) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watches[key])
}

// Sessions lists the sessions that have at least one watch.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.watches))
	for k := range r.watches {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Package lifecycle tears sessions down in the right order: watches first,
// then the streaming handle, then the connection.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"channel-watch-server/internal/hub"
	"channel-watch-server/internal/monitor"
	"channel-watch-server/internal/session"
)

// shutdownParallelism bounds concurrent per-session teardowns.
const shutdownParallelism = 8

type Manager struct {
	sessions *session.Manager
	monitors *monitor.Registry
	hub      *hub.Hub
	log      *zap.Logger
}

func New(sessions *session.Manager, monitors *monitor.Registry, h *hub.Hub, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{sessions: sessions, monitors: monitors, hub: h, log: log}
}

// Logout stops every watch of the session, drops its streaming handle and
// destroys it, durable state included. It reports false for unknown keys.
func (m *Manager) Logout(ctx context.Context, key string) bool {
	var destroyed bool
	stopped := m.monitors.Retire(ctx, key, func() {
		m.hub.Drop(key)
		destroyed = m.sessions.Destroy(ctx, key)
	})
	for id, ok := range stopped {
		if !ok {
			m.log.Warn("watch not cleanly stopped on logout", zap.String("session", key), zap.String("channel", id))
		}
	}
	return destroyed
}

// Shutdown stops all watches and disconnects every session while keeping
// durable state, so the next start can restore them. Failures on one
// session do not stop the others; they are joined into the returned error.
func (m *Manager) Shutdown(ctx context.Context) error {
	keys := m.liveKeys()
	m.log.Info("shutting down sessions", zap.Int("count", len(keys)))

	var (
		mu     sync.Mutex
		failed []error
	)
	g := new(errgroup.Group)
	g.SetLimit(shutdownParallelism)
	for _, key := range keys {
		g.Go(func() error {
			if err := m.shutdownOne(ctx, key); err != nil {
				mu.Lock()
				failed = append(failed, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	m.hub.Close()
	return errors.Join(failed...)
}

func (m *Manager) shutdownOne(ctx context.Context, key string) error {
	var err error
	stopped := m.monitors.Retire(ctx, key, func() {
		err = m.sessions.Disconnect(ctx, key)
	})
	for id, ok := range stopped {
		if !ok {
			m.log.Warn("watch not cleanly stopped on shutdown", zap.String("session", key), zap.String("channel", id))
		}
	}
	if err != nil {
		m.log.Error("disconnect failed", zap.String("session", key), zap.Error(err))
		return fmt.Errorf("session %s: %w", key, err)
	}
	return nil
}

func (m *Manager) liveKeys() []string {
	seen := make(map[string]struct{})
	for _, k := range m.sessions.Keys() {
		seen[k] = struct{}{}
	}
	for _, k := range m.monitors.Sessions() {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EvictExpired logs out every session past its expiry and returns how many
// were removed.
func (m *Manager) EvictExpired(ctx context.Context) int {
	evicted := 0
	for _, key := range m.sessions.Expired() {
		if m.Logout(ctx, key) {
			evicted++
			m.log.Info("expired session evicted", zap.String("session", key))
		}
	}
	return evicted
}

// RunJanitor calls EvictExpired every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictExpired(ctx)
		}
	}
}

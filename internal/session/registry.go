// Package session owns the remote connections of every user session and
// drives each one through sign-in.
//
// The session table is guarded by one RWMutex that is never held across
// remote I/O. Calls against a single connection are serialised by a
// per-session lock so a remote client is never used by two operations at
// once.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"channel-watch-server/internal/auth"
	"channel-watch-server/internal/errs"
	"channel-watch-server/internal/model"
	"channel-watch-server/internal/remote"
	"channel-watch-server/internal/store"
)

const DefaultTTL = 30 * 24 * time.Hour

type Options struct {
	TTL time.Duration
	// EnforceExpiry rejects operations on sessions past ExpiresAt.
	EnforceExpiry bool
	Now           func() time.Time
}

type entry struct {
	sem      chan struct{}
	client   remote.Client
	session  model.Session
	codeHash string
}

func newEntry(client remote.Client, sess model.Session) *entry {
	return &entry{sem: make(chan struct{}, 1), client: client, session: sess}
}

func (e *entry) lock(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *entry) unlock() { <-e.sem }

// persisted is the envelope written to the session store.
type persisted struct {
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Client    []byte    `json:"client"`
}

type Manager struct {
	dialer remote.Dialer
	store  store.SessionStore
	log    *zap.Logger
	opts   Options

	mu      sync.RWMutex
	entries map[string]*entry
}

func NewManager(dialer remote.Dialer, st store.SessionStore, log *zap.Logger, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		dialer:  dialer,
		store:   st,
		log:     log,
		opts:    opts,
		entries: make(map[string]*entry),
	}
}

// Create opens a connection for phone, persists its state and asks the
// remote service to send a verification code. On failure nothing is left
// behind: no registry entry, no connection, no persisted state.
func (m *Manager) Create(ctx context.Context, rawPhone string) (string, error) {
	phone, err := auth.NormalizePhone(rawPhone)
	if err != nil {
		return "", err
	}

	key := uuid.NewString()
	client, err := m.dialer.Dial(ctx, key, nil)
	if err != nil {
		return "", translate(err)
	}
	if err := client.Connect(ctx); err != nil {
		m.abandon(ctx, key, client)
		return "", translate(err)
	}

	now := m.opts.Now().UTC()
	sess := model.Session{
		Key:       key,
		Phone:     phone,
		State:     model.StateCreated,
		CreatedAt: now,
		ExpiresAt: now.Add(m.opts.TTL),
	}

	if err := m.persist(sess, client); err != nil {
		m.abandon(ctx, key, client)
		return "", fmt.Errorf("persist session: %w", err)
	}

	codeHash, err := client.SendCode(ctx, phone)
	if err != nil {
		m.abandon(ctx, key, client)
		return "", translate(err)
	}

	e := newEntry(client, sess)
	e.codeHash = codeHash

	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()

	m.log.Info("session created", zap.String("session", key))
	return key, nil
}

// abandon tears down a connection that never made it into the registry.
func (m *Manager) abandon(ctx context.Context, key string, client remote.Client) {
	if err := client.Disconnect(ctx); err != nil {
		m.log.Warn("disconnect after failed create", zap.String("session", key), zap.Error(err))
	}
	if err := m.store.Delete(key); err != nil {
		m.log.Warn("delete state after failed create", zap.String("session", key), zap.Error(err))
	}
}

func (m *Manager) persist(sess model.Session, client remote.Client) error {
	blob, err := client.State()
	if err != nil {
		return err
	}
	data, err := json.Marshal(persisted{
		Phone:     sess.Phone,
		CreatedAt: sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt,
		Client:    blob,
	})
	if err != nil {
		return err
	}
	return m.store.Save(sess.Key, data)
}

func (m *Manager) expired(sess model.Session) bool {
	return m.opts.EnforceExpiry && sess.Expired(m.opts.Now())
}

// lookup returns the entry for key, rejecting expired sessions when expiry
// is enforced.
func (m *Manager) lookup(key string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	var sess model.Session
	if ok {
		sess = e.session
	}
	m.mu.RUnlock()

	if !ok {
		return nil, errs.ErrUnknownSession
	}
	if m.expired(sess) {
		return nil, errs.ErrSessionExpired
	}
	return e, nil
}

// Get returns the remote client for key. Callers that issue remote calls
// should prefer WithClient, which serialises access.
func (m *Manager) Get(key string) (remote.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	return e.client, true
}

// Session returns a snapshot of the session metadata.
func (m *Manager) Session(key string) (model.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return model.Session{}, false
	}
	return e.session, true
}

// IsAuthorized is false for unknown, unauthorized and (when enforced)
// expired sessions.
func (m *Manager) IsAuthorized(key string) bool {
	sess, ok := m.Session(key)
	return ok && sess.Authorized && !m.expired(sess)
}

// Keys returns every live session key in sorted order.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Expired returns the keys of sessions past their ExpiresAt.
func (m *Manager) Expired() []string {
	now := m.opts.Now()
	m.mu.RLock()
	var keys []string
	for k, e := range m.entries {
		if e.session.Expired(now) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// WithClient runs fn with exclusive use of the session's connection. It
// does not check authorization or expiry, so teardown paths can use it.
func (m *Manager) WithClient(ctx context.Context, key string, fn func(remote.Client) error) error {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return errs.ErrUnknownSession
	}
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.unlock()
	return fn(e.client)
}

// WithAuthorizedClient is WithClient for sessions that completed sign-in.
func (m *Manager) WithAuthorizedClient(ctx context.Context, key string, fn func(remote.Client) error) error {
	e, err := m.lookup(key)
	if err != nil {
		return err
	}
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.unlock()

	m.mu.RLock()
	authorized := e.session.Authorized
	m.mu.RUnlock()
	if !authorized {
		return errs.ErrUnauthorized
	}
	if err := fn(e.client); err != nil {
		return translate(err)
	}
	return nil
}

// Destroy logs the session out, disconnects it, deletes its persisted state
// and removes it from the registry. It reports false for unknown keys.
func (m *Manager) Destroy(ctx context.Context, key string) bool {
	m.mu.Lock()
	e, ok := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()
	if !ok {
		return false
	}

	if err := e.lock(ctx); err != nil {
		m.log.Warn("destroy without connection lock", zap.String("session", key), zap.Error(err))
	} else {
		defer e.unlock()
	}

	if err := e.client.LogOut(ctx); err != nil {
		m.log.Warn("remote log out failed", zap.String("session", key), zap.Error(err))
	}
	if err := e.client.Disconnect(ctx); err != nil {
		m.log.Warn("disconnect failed", zap.String("session", key), zap.Error(err))
	}
	if err := m.store.Delete(key); err != nil {
		m.log.Warn("delete session state failed", zap.String("session", key), zap.Error(err))
	}
	m.log.Info("session destroyed", zap.String("session", key))
	return true
}

// Disconnect closes the session's connection and drops it from memory
// while keeping its persisted state for the next start.
func (m *Manager) Disconnect(ctx context.Context, key string) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()
	if !ok {
		return errs.ErrUnknownSession
	}

	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.unlock()
	if err := e.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect %s: %w", key, err)
	}
	return nil
}

// ShutdownAll disconnects every live connection. A failure on one
// connection is logged and does not stop the others.
func (m *Manager) ShutdownAll(ctx context.Context) map[string]error {
	failed := make(map[string]error)
	for _, key := range m.Keys() {
		if err := m.Disconnect(ctx, key); err != nil {
			m.log.Error("shutdown disconnect failed", zap.String("session", key), zap.Error(err))
			failed[key] = err
			continue
		}
		m.log.Info("session disconnected", zap.String("session", key))
	}
	return failed
}

// Restore re-opens every persisted session whose remote authorization is
// still valid. Half-finished sign-ins and expired sessions are discarded.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	keys, err := m.store.Keys()
	if err != nil {
		return 0, fmt.Errorf("list persisted sessions: %w", err)
	}

	restored := 0
	for _, key := range keys {
		if err := m.restoreOne(ctx, key); err != nil {
			m.log.Warn("session not restored", zap.String("session", key), zap.Error(err))
			if derr := m.store.Delete(key); derr != nil {
				m.log.Warn("delete stale session state failed", zap.String("session", key), zap.Error(derr))
			}
			continue
		}
		restored++
	}
	return restored, nil
}

func (m *Manager) restoreOne(ctx context.Context, key string) error {
	data, ok, err := m.store.Load(key)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotFound
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	sess := model.Session{
		Key:       key,
		Phone:     p.Phone,
		State:     model.StateAuthorized,
		CreatedAt: p.CreatedAt,
		ExpiresAt: p.ExpiresAt,
	}
	if sess.Expired(m.opts.Now()) {
		return errs.ErrSessionExpired
	}

	client, err := m.dialer.Dial(ctx, key, p.Client)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		m.dropRestored(ctx, key, client)
		return err
	}
	authorized, err := client.Authorized(ctx)
	if err != nil || !authorized {
		m.dropRestored(ctx, key, client)
		if err == nil {
			err = errs.ErrUnauthorized
		}
		return err
	}
	sess.Authorized = true

	m.mu.Lock()
	m.entries[key] = newEntry(client, sess)
	m.mu.Unlock()
	m.log.Info("session restored", zap.String("session", key))
	return nil
}

func (m *Manager) dropRestored(ctx context.Context, key string, client remote.Client) {
	if err := client.Disconnect(ctx); err != nil {
		m.log.Warn("disconnect after failed restore", zap.String("session", key), zap.Error(err))
	}
}

package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"channel-watch-server/internal/errs"
	"channel-watch-server/internal/model"
	"channel-watch-server/internal/remote"
)

// State returns the login state of key.
func (m *Manager) State(key string) (model.LoginState, bool) {
	sess, ok := m.Session(key)
	return sess.State, ok
}

func (m *Manager) setState(e *entry, state model.LoginState) {
	m.mu.Lock()
	e.session.State = state
	if state == model.StateAuthorized {
		e.session.Authorized = true
	}
	m.mu.Unlock()
}

// begin locks the session's connection for a sign-in step and returns the
// current snapshot. The caller must unlock e when err is nil.
func (m *Manager) begin(ctx context.Context, key string) (*entry, model.Session, error) {
	e, err := m.lookup(key)
	if err != nil {
		return nil, model.Session{}, err
	}
	if err := e.lock(ctx); err != nil {
		return nil, model.Session{}, err
	}
	m.mu.RLock()
	sess := e.session
	m.mu.RUnlock()
	if sess.Authorized {
		e.unlock()
		return nil, model.Session{}, errs.ErrAlreadyAuthorized
	}
	return e, sess, nil
}

// SubmitCode applies the verification code. When the account has a second
// factor the session moves to awaiting_2fa and ErrSecondFactorRequired is
// returned; the caller then resubmits with a password.
func (m *Manager) SubmitCode(ctx context.Context, key, code string) (bool, error) {
	e, sess, err := m.begin(ctx, key)
	if err != nil {
		return false, err
	}
	defer e.unlock()

	if sess.State == model.StateAwaiting2FA {
		return false, errs.ErrSecondFactorRequired
	}
	if err := m.signIn(ctx, e, sess, code); err != nil {
		return false, err
	}
	return true, m.authorize(e)
}

// SubmitCodeAndPassword is SubmitCode with the second factor supplied
// inline. If the code was already accepted (awaiting_2fa) only the
// password is checked. A rejected password leaves the session in
// awaiting_2fa, since the remote service has already consumed the code.
func (m *Manager) SubmitCodeAndPassword(ctx context.Context, key, code, password string) (bool, error) {
	if password == "" {
		return m.SubmitCode(ctx, key, code)
	}

	e, sess, err := m.begin(ctx, key)
	if err != nil {
		return false, err
	}
	defer e.unlock()

	if sess.State != model.StateAwaiting2FA {
		err := m.signIn(ctx, e, sess, code)
		switch {
		case err == nil:
			return true, m.authorize(e)
		case !errors.Is(err, errs.ErrSecondFactorRequired):
			return false, err
		}
	}
	return m.checkPassword(ctx, e, password)
}

// SubmitPassword completes a session that is awaiting its second factor.
func (m *Manager) SubmitPassword(ctx context.Context, key, password string) (bool, error) {
	e, sess, err := m.begin(ctx, key)
	if err != nil {
		return false, err
	}
	defer e.unlock()

	if sess.State != model.StateAwaiting2FA {
		return false, fmt.Errorf("%w: no second factor pending", errs.ErrUnauthorized)
	}
	return m.checkPassword(ctx, e, password)
}

// signIn runs the code step. On any failure other than a second-factor
// demand the session returns to its prior state.
func (m *Manager) signIn(ctx context.Context, e *entry, sess model.Session, code string) error {
	prior := sess.State
	m.setState(e, model.StateCodeSubmitted)

	err := e.client.SignIn(ctx, sess.Phone, e.codeHash, code)
	if err == nil {
		return nil
	}
	if remote.KindOf(err) == remote.KindPasswordNeeded {
		m.setState(e, model.StateAwaiting2FA)
		m.log.Info("second factor required", zap.String("session", sess.Key))
		return errs.ErrSecondFactorRequired
	}
	m.setState(e, prior)
	m.log.Warn("sign in failed", zap.String("session", sess.Key), zap.Error(err))
	return translate(err)
}

func (m *Manager) checkPassword(ctx context.Context, e *entry, password string) (bool, error) {
	if err := e.client.CheckPassword(ctx, password); err != nil {
		m.log.Warn("second factor rejected", zap.String("session", e.session.Key), zap.Error(err))
		return false, translate(err)
	}
	return true, m.authorize(e)
}

func (m *Manager) authorize(e *entry) error {
	m.setState(e, model.StateAuthorized)

	m.mu.RLock()
	sess := e.session
	m.mu.RUnlock()

	// The remote side is authorized either way; a failed write only
	// costs the ability to resume after a restart.
	if err := m.persist(sess, e.client); err != nil {
		m.log.Error("persist authorized session failed", zap.String("session", sess.Key), zap.Error(err))
	}
	m.log.Info("session authorized", zap.String("session", sess.Key))
	return nil
}

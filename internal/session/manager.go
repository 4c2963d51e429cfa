package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

var (
	// ErrAuthentication means the publisher rejected the credentials or
	// the login flow landed on an unexpected page. Not retried.
	ErrAuthentication = errors.New("authentication rejected")
	// ErrTransientNetwork means the login flow timed out or hit a
	// temporary network fault. Retryable by the caller.
	ErrTransientNetwork = errors.New("transient network failure")
)

// Credentials for one publisher identity. Values come from the environment
// and must never be logged.
type Credentials struct {
	Username string
	Password string
}

// LoginDriver drives a publisher-specific login flow and captures the
// resulting cookies. Implementations fail with ErrAuthentication on invalid
// credentials or unexpected page state, and ErrTransientNetwork on timeouts.
type LoginDriver interface {
	Login(ctx context.Context, creds Credentials) (State, error)
}

// Manager caches session state per identity with a single-writer discipline:
// concurrent Ensure calls for the same identity serialize, so a second
// authentication attempt can never interleave with the first one's persist.
type Manager struct {
	store Store
	now   func() time.Time
	log   *slog.Logger

	mu         sync.Mutex
	identities map[string]*sync.Mutex
}

func NewManager(store Store, log *slog.Logger) *Manager {
	return &Manager{
		store:      store,
		now:        time.Now,
		log:        log,
		identities: make(map[string]*sync.Mutex),
	}
}

// Ensure returns a valid session for the identity, reusing persisted state
// when it is still valid and driving a fresh login otherwise. forceReauth
// bypasses the cache intentionally.
func (m *Manager) Ensure(ctx context.Context, identity string, creds Credentials, driver LoginDriver, forceReauth bool) (State, error) {
	lock := m.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	if !forceReauth {
		state, err := m.store.Load(identity)
		switch {
		case err == nil:
			if state.IsValid(m.now()) {
				m.log.Debug("reusing persisted session", "identity", identity)
				return state, nil
			}
			m.log.Info("persisted session expired", "identity", identity, "captured_at", state.CapturedAt)
		case errors.Is(err, ErrNotFound):
			m.log.Info("no persisted session", "identity", identity)
		case errors.Is(err, ErrDataIntegrity):
			// Corrupt state is fatal for the file, not the identity:
			// discard it and authenticate from scratch.
			m.log.Error("discarding corrupt session state", "identity", identity, "err", err)
		default:
			return State{}, err
		}
	}

	return m.authenticate(ctx, identity, creds, driver)
}

func (m *Manager) authenticate(ctx context.Context, identity string, creds Credentials, driver LoginDriver) (State, error) {
	m.log.Info("authenticating", "identity", identity, "username", creds.Username != "")
	state, err := driver.Login(ctx, creds)
	if err != nil {
		return State{}, errors.Wrapf(err, "login %s", identity)
	}
	if state.CapturedAt.IsZero() {
		state.CapturedAt = m.now()
	}
	if err := m.store.Save(identity, state); err != nil {
		return State{}, errors.Wrapf(err, "persist session %s", identity)
	}
	return state, nil
}

func (m *Manager) identityLock(identity string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.identities[identity]
	if !ok {
		lock = &sync.Mutex{}
		m.identities[identity] = lock
	}
	return lock
}

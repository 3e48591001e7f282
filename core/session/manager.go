package session

import (
	"context"
	"net/http"
	"sync"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/trezcool/masomo-client/core"
	"github.com/trezcool/masomo-client/core/user"
)

var (
	// errors
	ErrSessionExpired   = errors.New("session expired")
	ErrNotAuthenticated = errors.New("not authenticated")
)

type (
	// Backend is the account side of the LMS API.
	Backend interface {
		ObtainToken(ctx context.Context, form user.LoginForm) (Credentials, error)
		// RefreshToken returns a new access token, and a rotated refresh token if the server issues one.
		RefreshToken(ctx context.Context, refreshToken string) (Credentials, error)
		Register(ctx context.Context, nu user.NewUser) error
		UserInfo(ctx context.Context, userID int) (user.Profile, error)
	}

	Option func(*Manager)
)

func WithMetrics(m core.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithLogoutHook sets the func called when the session expires (the login redirect).
func WithLogoutHook(fn func()) Option {
	return func(mgr *Manager) { mgr.onExpired = fn }
}

// Manager owns the credential pair: it attaches the access token to outgoing requests,
// refreshes it when the backend rejects it and logs the user out when it cannot.
type Manager struct {
	store     Store
	backend   Backend
	logger    core.Logger
	metrics   core.Metrics
	onExpired func()

	refreshes singleflight.Group

	mu      sync.Mutex // guards authed, profile and store writes
	authed  bool
	profile *user.Profile
}

func NewManager(store Store, backend Backend, logger core.Logger, opts ...Option) (*Manager, error) {
	err := vala.BeginValidation().Validate(
		vala.IsNotNil(store, "store"),
		vala.IsNotNil(backend, "backend"),
		vala.IsNotNil(logger, "logger"),
	).Check()
	if err != nil {
		return nil, err
	}

	m := &Manager{store: store, backend: backend, logger: logger}
	for _, opt := range opts {
		opt(m)
	}

	switch _, err := store.Load(); {
	case err == nil:
		m.authed = true
	case !errors.Is(err, ErrNoCredentials):
		return nil, errors.Wrap(err, "loading credentials")
	}
	if p, err := store.LoadProfile(); err == nil {
		m.profile = &p
	}
	return m, nil
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authed
}

// Profile returns the cached profile of the logged in user.
func (m *Manager) Profile() (user.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil {
		return user.Profile{}, false
	}
	return *m.profile, true
}

func (m *Manager) accessToken() string {
	creds, err := m.store.Load()
	if err != nil {
		return ""
	}
	return creds.AccessToken
}

// Attach sets the bearer token on req when one is stored.
func (m *Manager) Attach(req *http.Request) {
	if token := m.accessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// Login exchanges the credentials for a token pair and fetches the profile of its subject.
// State is left untouched when the exchange fails and restored when the profile cannot be fetched.
func (m *Manager) Login(ctx context.Context, email, password string) (user.Profile, error) {
	form := user.LoginForm{Email: email, Password: password}
	if err := form.Validate(); err != nil {
		return user.Profile{}, err
	}

	creds, err := m.backend.ObtainToken(WithoutAuth(ctx), form)
	if err != nil {
		return user.Profile{}, errors.Wrap(err, "obtaining token")
	}
	return m.establish(ctx, creds)
}

func (m *Manager) establish(ctx context.Context, creds Credentials) (user.Profile, error) {
	id, err := SubjectID(creds.AccessToken)
	if err != nil {
		return user.Profile{}, errors.Wrap(err, "decoding access token")
	}

	m.mu.Lock()
	prev, prevErr := m.store.Load()
	prevProfile, prevProfileErr := m.store.LoadProfile()
	wasAuthed := m.authed
	if err := m.store.Save(creds); err != nil {
		m.mu.Unlock()
		return user.Profile{}, errors.Wrap(err, "storing credentials")
	}
	m.mu.Unlock()

	// a rejected fresh token must not trigger a refresh
	profile, err := m.backend.UserInfo(withRetried(ctx), id)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.rollbackLocked(prev, prevErr, prevProfile, prevProfileErr)
		m.authed = wasAuthed
		return user.Profile{}, errors.Wrap(err, "fetching profile")
	}
	if err := m.store.SaveProfile(profile); err != nil {
		m.logger.Warn("caching profile", err)
	}
	m.authed = true
	m.profile = &profile
	m.logger.Info("logged in", profile)
	return profile, nil
}

func (m *Manager) rollbackLocked(prev Credentials, prevErr error, prevProfile user.Profile, prevProfileErr error) {
	var err error
	if prevErr != nil {
		err = m.store.Clear()
	} else {
		err = m.store.Save(prev)
		if err == nil && prevProfileErr == nil {
			err = m.store.SaveProfile(prevProfile)
		}
	}
	if err != nil {
		m.logger.Error("restoring previous credentials", err)
	}
}

// Register creates the account, then logs in with the same credentials.
func (m *Manager) Register(ctx context.Context, nu user.NewUser) (user.Profile, error) {
	if err := nu.Validate(); err != nil {
		return user.Profile{}, err
	}
	if err := m.backend.Register(WithoutAuth(ctx), nu); err != nil {
		return user.Profile{}, errors.Wrap(err, "registering")
	}
	return m.Login(ctx, nu.Email, nu.Password)
}

// Restore re-derives the profile of a stored session. Any failure logs out.
func (m *Manager) Restore(ctx context.Context) error {
	creds, err := m.store.Load()
	if errors.Is(err, ErrNoCredentials) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "loading credentials")
	}

	id, err := SubjectID(creds.AccessToken)
	if err != nil {
		m.Logout()
		return errors.Wrap(err, "decoding access token")
	}

	m.mu.Lock()
	m.authed = true
	m.mu.Unlock()

	profile, err := m.backend.UserInfo(ctx, id)
	if err != nil {
		m.Logout()
		return errors.Wrap(err, "restoring session")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authed {
		return ErrSessionExpired
	}
	if err := m.store.SaveProfile(profile); err != nil {
		m.logger.Warn("caching profile", err)
	}
	m.profile = &profile
	return nil
}

// Logout clears the credentials and the cached profile. It always succeeds.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.authed = false
	m.profile = nil
	if err := m.store.Clear(); err != nil {
		m.logger.Error("clearing credentials", err)
	}
	m.logger.Info("logged out")
}

// forceLogout leaves the authenticated state; the hook runs once per transition.
func (m *Manager) forceLogout(cause error) {
	m.mu.Lock()
	wasAuthed := m.authed
	m.authed = false
	m.profile = nil
	err := m.store.Clear()
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("clearing credentials", err)
	}
	if !wasAuthed {
		return
	}
	m.logger.Warn("session expired: "+cause.Error(), cause)
	if m.metrics != nil {
		m.metrics.ForcedLogout()
	}
	if m.onExpired != nil {
		m.onExpired()
	}
}

// refresh returns an access token newer than stale, exchanging the refresh token if needed.
// Concurrent callers share a single exchange.
func (m *Manager) refresh(ctx context.Context, stale string) (string, error) {
	if token := m.accessToken(); token != "" && token != stale {
		return token, nil
	}
	v, err, _ := m.refreshes.Do("refresh", func() (interface{}, error) {
		return m.exchange(context.WithoutCancel(ctx), stale)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) exchange(ctx context.Context, stale string) (string, error) {
	creds, err := m.store.Load()
	if err == nil && creds.AccessToken != stale {
		return creds.AccessToken, nil
	}
	if err != nil || creds.RefreshToken == "" {
		m.forceLogout(errors.New("no refresh token"))
		return "", ErrSessionExpired
	}

	fresh, err := m.backend.RefreshToken(WithoutAuth(ctx), creds.RefreshToken)
	if m.metrics != nil {
		m.metrics.TokenRefreshed(err == nil)
	}
	if err != nil {
		m.forceLogout(errors.Wrap(err, "refreshing token"))
		return "", ErrSessionExpired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authed {
		// logged out while the exchange was in flight
		return "", ErrSessionExpired
	}
	if fresh.RefreshToken == "" {
		err = m.store.SetAccessToken(fresh.AccessToken)
	} else {
		err = m.store.Save(fresh)
	}
	if err != nil {
		return "", errors.Wrap(err, "storing refreshed token")
	}
	m.logger.Debug("access token refreshed")
	return fresh.AccessToken, nil
}

package inmemdb

import (
	"sync"

	"github.com/trezcool/masomo-client/core/session"
	"github.com/trezcool/masomo-client/core/user"
)

type credentialStore struct {
	mutex   sync.RWMutex
	creds   *session.Credentials
	profile *user.Profile
}

// NewCredentialStore returns a session.Store kept in memory, optionally seeded with a pair.
func NewCredentialStore(seed ...session.Credentials) session.Store {
	s := &credentialStore{}
	if len(seed) > 0 {
		creds := seed[0]
		s.creds = &creds
	}
	return s
}

func (s *credentialStore) Load() (session.Credentials, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.creds == nil || s.creds.AccessToken == "" {
		return session.Credentials{}, session.ErrNoCredentials
	}
	return *s.creds, nil
}

func (s *credentialStore) Save(creds session.Credentials) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.creds = &creds
	return nil
}

func (s *credentialStore) SetAccessToken(token string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.creds == nil {
		s.creds = &session.Credentials{}
	}
	s.creds.AccessToken = token
	return nil
}

func (s *credentialStore) SaveProfile(p user.Profile) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.profile = &p
	return nil
}

func (s *credentialStore) LoadProfile() (user.Profile, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.profile == nil {
		return user.Profile{}, session.ErrNoProfile
	}
	return *s.profile, nil
}

func (s *credentialStore) Clear() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.creds = nil
	s.profile = nil
	return nil
}

package session

import (
	"errors"

	"github.com/trezcool/masomo-client/core/user"
)

// storage keys
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

var (
	// errors
	ErrNoCredentials = errors.New("no credentials stored")
	ErrNoProfile     = errors.New("no profile stored")
)

// Credentials is the token pair issued by the backend.
type Credentials struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh,omitempty"`
}

// Store persists at most one Credentials pair and the cached Profile.
type Store interface {
	// Load returns ErrNoCredentials when no access token is stored.
	Load() (Credentials, error)
	// Save replaces the stored pair atomically.
	Save(creds Credentials) error
	SetAccessToken(token string) error
	SaveProfile(p user.Profile) error
	// LoadProfile returns ErrNoProfile when no profile is cached.
	LoadProfile() (user.Profile, error)
	// Clear removes the pair and the cached profile.
	Clear() error
}

package sqlxdb

import (
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-client/core/session"
	"github.com/trezcool/masomo-client/core/user"
)

const (
	upsertQuery = `INSERT INTO client_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	selectQuery = `SELECT key, value FROM client_state WHERE key IN (?)`
	deleteQuery = `DELETE FROM client_state WHERE key IN (?)`
)

type entry struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

type credentialStore struct {
	db *sqlx.DB
}

// NewCredentialStore returns a session.Store persisting to the client_state table.
func NewCredentialStore(db *sqlx.DB) session.Store {
	return &credentialStore{db: db}
}

func (s *credentialStore) entries(keys ...string) (map[string]string, error) {
	q, args, err := sqlx.In(selectQuery, keys)
	if err != nil {
		return nil, err
	}
	var rows []entry
	if err = s.db.Select(&rows, s.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	vals := make(map[string]string, len(rows))
	for _, row := range rows {
		vals[row.Key] = row.Value
	}
	return vals, nil
}

func (s *credentialStore) Load() (session.Credentials, error) {
	vals, err := s.entries(session.KeyAccessToken, session.KeyRefreshToken)
	if err != nil {
		return session.Credentials{}, errors.Wrap(err, "loading credentials")
	}
	access := vals[session.KeyAccessToken]
	if access == "" {
		return session.Credentials{}, session.ErrNoCredentials
	}
	return session.Credentials{AccessToken: access, RefreshToken: vals[session.KeyRefreshToken]}, nil
}

// inTx runs fn in a transaction, rolled back if fn fails.
func (s *credentialStore) inTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *credentialStore) Save(creds session.Credentials) error {
	err := s.inTx(func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(upsertQuery, session.KeyAccessToken, creds.AccessToken); err != nil {
			return err
		}
		if creds.RefreshToken == "" {
			_, err := tx.Exec(`DELETE FROM client_state WHERE key = ?`, session.KeyRefreshToken)
			return err
		}
		_, err := tx.Exec(upsertQuery, session.KeyRefreshToken, creds.RefreshToken)
		return err
	})
	return errors.Wrap(err, "saving credentials")
}

func (s *credentialStore) SetAccessToken(token string) error {
	_, err := s.db.Exec(upsertQuery, session.KeyAccessToken, token)
	return errors.Wrap(err, "saving access token")
}

func (s *credentialStore) SaveProfile(p user.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "encoding profile")
	}
	_, err = s.db.Exec(upsertQuery, session.KeyUser, string(data))
	return errors.Wrap(err, "saving profile")
}

func (s *credentialStore) LoadProfile() (user.Profile, error) {
	var data string
	err := s.db.Get(&data, `SELECT value FROM client_state WHERE key = ?`, session.KeyUser)
	if err == sql.ErrNoRows {
		return user.Profile{}, session.ErrNoProfile
	}
	if err != nil {
		return user.Profile{}, errors.Wrap(err, "loading profile")
	}

	var p user.Profile
	if err = json.Unmarshal([]byte(data), &p); err != nil {
		return user.Profile{}, errors.Wrap(err, "decoding profile")
	}
	return p, nil
}

func (s *credentialStore) Clear() error {
	q, args, err := sqlx.In(deleteQuery, []string{session.KeyAccessToken, session.KeyRefreshToken, session.KeyUser})
	if err != nil {
		return errors.Wrap(err, "clearing credentials")
	}
	_, err = s.db.Exec(s.db.Rebind(q), args...)
	return errors.Wrap(err, "clearing credentials")
}

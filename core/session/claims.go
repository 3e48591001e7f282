package session

import (
	"strconv"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"
)

var errNoSubject = errors.New("token carries no subject")

// SubjectID extracts the user id out of an access token without verifying its signature.
// The `user_id` claim is preferred over `sub`.
func SubjectID(token string) (int, error) {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return 0, errors.Wrap(err, "parsing token")
	}

	v, ok := claims["user_id"]
	if !ok {
		v, ok = claims["sub"]
	}
	if !ok {
		return 0, errNoSubject
	}

	switch id := v.(type) {
	case float64:
		return int(id), nil
	case string:
		n, err := strconv.Atoi(id)
		if err != nil {
			return 0, errors.Wrapf(err, "subject %q", id)
		}
		return n, nil
	default:
		return 0, errNoSubject
	}
}

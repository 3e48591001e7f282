package echoapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	contextTokenKey = "userToken"
)

var (
	salt = []byte("masomo.mockapi.echo.validation_code")

	errTokenInvalid    = echo.NewHTTPError(http.StatusUnauthorized, "Given token not valid for any token type")
	errRefreshInvalid  = echo.NewHTTPError(http.StatusUnauthorized, "Token is invalid or expired")
	errNoActiveAccount = echo.NewHTTPError(http.StatusUnauthorized, "No active account found with the given credentials")
	errNotAuthorized   = echo.NewHTTPError(http.StatusUnauthorized, "Authentication credentials were not provided.")
	errHttpForbidden   = echo.NewHTTPError(http.StatusForbidden, "You do not have permission to perform this action.")
	errHttpNotFound    = echo.NewHTTPError(http.StatusNotFound, "Not found.")
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	UserID    int    `json:"user_id"`
	TokenType string `json:"token_type"`
	// Generation is bumped to invalidate every token of a type at once.
	Generation int `json:"gen"`
}

func (s *Server) jwtConfig() middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    s.key,
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    contextTokenKey,
		Claims:        new(Claims),
	}
}

// accessMiddleware rejects refresh tokens and access tokens of a previous generation.
func (s *Server) accessMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return err
		}
		if claims.TokenType != tokenTypeAccess || claims.Generation != s.generation(tokenTypeAccess) {
			return errTokenInvalid
		}
		return next(ctx)
	}
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errNotAuthorized
}

// generateToken generates a signed JWT of the given type for the user.
func (s *Server) generateToken(userID int, tokenType string) (string, error) {
	ttl := s.opts.AccessTTL
	if tokenType == tokenTypeRefresh {
		ttl = s.opts.RefreshTTL
	}
	now := time.Now()
	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Id:        strconv.FormatInt(now.UnixNano(), 36),
			Subject:   strconv.Itoa(userID),
			ExpiresAt: now.Add(ttl).Unix(),
			IssuedAt:  now.Unix(),
		},
		UserID:     userID,
		TokenType:  tokenType,
		Generation: s.generation(tokenType),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(s.key)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// parseRefreshToken validates a refresh token and returns its claims.
func (s *Server) parseRefreshToken(raw string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, errRefreshInvalid
	}
	if claims.TokenType != tokenTypeRefresh || claims.Generation != s.generation(tokenTypeRefresh) {
		return Claims{}, errRefreshInvalid
	}
	return claims, nil
}

// makeValidationCode derives the 6 digit e-mail validation code of an account.
func (s *Server) makeValidationCode(acc account) (string, error) {
	key := sha256.Sum256(append(append([]byte(nil), salt...), s.key...))
	h := hmac.New(sha256.New, key[:])
	if _, err := h.Write(append([]byte(acc.profile.Email), acc.passwordHash...)); err != nil {
		return "", err
	}
	sum := h.Sum(nil)
	return fmt.Sprintf("%06d", binary.BigEndian.Uint32(sum[:4])%1000000), nil
}

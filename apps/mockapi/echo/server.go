package echoapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kat-co/vala"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/masomo-client/core"
	emailsvc "github.com/trezcool/masomo-client/services/email"
)

type (
	Options struct {
		Address        string
		SecretKey      string
		AccessTTL      time.Duration
		RefreshTTL     time.Duration
		Debug          bool
		DisableReqLogs bool
		// RequireVerification keeps new accounts inactive until their e-mail is validated.
		RequireVerification bool
		// NoSeed starts with no demo data.
		NoSeed bool
		Logger core.Logger
		Mailer *emailsvc.ConsoleService
	}

	// Server is an in-memory fake of the LMS REST API.
	Server struct {
		opts *Options
		app  *echo.Echo
		key  []byte
		data *db

		mu              sync.Mutex
		generations     map[string]int
		failSubmissions int
		submissions     map[int]int // quiz id -> accepted submissions
		refreshes       int
	}
)

func NewServer(opts *Options) (*Server, error) {
	err := vala.BeginValidation().Validate(
		vala.IsNotNil(opts, "opts"),
	).Check()
	if err != nil {
		return nil, err
	}
	err = vala.BeginValidation().Validate(
		vala.StringNotEmpty(opts.SecretKey, "SecretKey"),
		vala.IsNotNil(opts.Logger, "Logger"),
		vala.IsNotNil(opts.Mailer, "Mailer"),
	).Check()
	if err != nil {
		return nil, err
	}
	if opts.AccessTTL == 0 {
		opts.AccessTTL = 5 * time.Minute
	}
	if opts.RefreshTTL == 0 {
		opts.RefreshTTL = 24 * time.Hour
	}

	s := &Server{
		opts:        opts,
		app:         echo.New(),
		key:         []byte(opts.SecretKey),
		data:        newDB(),
		generations: map[string]int{tokenTypeAccess: 1, tokenTypeRefresh: 1},
		submissions: make(map[int]int),
	}
	s.setup()
	if !opts.NoSeed {
		if err := s.seed(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.Debug = s.opts.Debug
	if s.opts.Debug {
		s.app.Logger.SetLevel(log.DEBUG)
	} else {
		s.app.Logger.SetLevel(log.INFO)
	}

	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	s.app.Use(middleware.RequestID())
	// do not recover in debug mode
	if !s.opts.Debug {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger)

	s.app.GET("/", home)

	jwt := middleware.JWTWithConfig(s.jwtConfig())
	registerAccountsAPI(s.app.Group("/accounts"), jwt, s)
	registerQuizAPI(s.app.Group("/api"), jwt, s)
}

// Start serves on Options.Address until Stop is called.
func (s *Server) Start() error {
	err := s.app.Start(s.opts.Address)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to the Masomo mock API!")
}

func (s *Server) generation(tokenType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[tokenType]
}

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[tokenTypeAccess]++
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[tokenTypeRefresh]++
}

// FailSubmissions makes the next n quiz submissions fail with a server error.
func (s *Server) FailSubmissions(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSubmissions = n
}

// Submissions returns the number of accepted submissions of a quiz.
func (s *Server) Submissions(quizID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submissions[quizID]
}

// Refreshes returns the number of successful token refreshes.
func (s *Server) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

func (s *Server) countRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
}

// acceptSubmission consumes a pending failure, or counts the submission.
func (s *Server) acceptSubmission(quizID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSubmissions > 0 {
		s.failSubmissions--
		return false
	}
	s.submissions[quizID]++
	return true
}

package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/masomo-client/apps/mockapi/echo"
	"github.com/trezcool/masomo-client/core/session"
	"github.com/trezcool/masomo-client/core/user"
	emailsvc "github.com/trezcool/masomo-client/services/email"
	logsvc "github.com/trezcool/masomo-client/services/logger"
	"github.com/trezcool/masomo-client/services/lmsapi"
	"github.com/trezcool/masomo-client/services/metrics"
	inmemdb "github.com/trezcool/masomo-client/storage/database/inmem"
)

// MockAPI is the fake LMS backend served over HTTP for the duration of a test.
type MockAPI struct {
	*echoapi.Server
	URL    string
	Mailer *emailsvc.ConsoleService
}

// StartMockAPI serves a seeded fake backend; opts may tweak its options before it starts.
func StartMockAPI(t *testing.T, opts ...func(*echoapi.Options)) *MockAPI {
	t.Helper()

	mailer := emailsvc.NewConsoleServiceMock("Masomo")
	o := &echoapi.Options{
		SecretKey:      "test-secret",
		DisableReqLogs: true,
		Logger:         logsvc.NewRollbarLoggerMock(),
		Mailer:         mailer,
	}
	for _, opt := range opts {
		opt(o)
	}
	srv, err := echoapi.NewServer(o)
	require.NoError(t, err)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &MockAPI{Server: srv, URL: ts.URL, Mailer: mailer}
}

// Client is an API client behind a session manager, wired the way the CLI wires them.
type Client struct {
	API     *lmsapi.Client
	Session *session.Manager
	Store   session.Store
	Metrics *metrics.Metrics

	expirations atomic.Int32
}

// NewClient builds a Client for baseURL; store defaults to an empty in-memory one.
func NewClient(t *testing.T, baseURL string, store session.Store) *Client {
	t.Helper()

	if store == nil {
		store = inmemdb.NewCredentialStore()
	}
	c := &Client{
		API:     lmsapi.NewClient(baseURL, 5*time.Second, logsvc.NewRollbarLoggerMock()),
		Store:   store,
		Metrics: metrics.NewMetrics(),
	}
	mgr, err := session.NewManager(
		store,
		c.API,
		logsvc.NewRollbarLoggerMock(),
		session.WithMetrics(c.Metrics),
		session.WithLogoutHook(func() { c.expirations.Add(1) }),
	)
	require.NoError(t, err)
	c.Session = mgr
	c.API.SetTransport(c.Metrics.InstrumentTransport(mgr.Transport(http.DefaultTransport)))
	return c
}

// Expirations returns how many times the session expired.
func (c *Client) Expirations() int {
	return int(c.expirations.Load())
}

// Login logs the client in with the demo password.
func (c *Client) Login(t *testing.T, email string) user.Profile {
	t.Helper()
	profile, err := c.Session.Login(context.Background(), email, echoapi.DemoPassword)
	require.NoError(t, err)
	return profile
}

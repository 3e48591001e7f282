package testutil_test

import (
	"context"
	"net/http"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/masomo-client/apps/mockapi/echo"
	"github.com/trezcool/masomo-client/core/quiz"
	"github.com/trezcool/masomo-client/core/session"
	"github.com/trezcool/masomo-client/core/user"
	logsvc "github.com/trezcool/masomo-client/services/logger"
	"github.com/trezcool/masomo-client/services/lmsapi"
	"github.com/trezcool/masomo-client/storage/database"
	sqlxdb "github.com/trezcool/masomo-client/storage/database/sqlx"
	testutil "github.com/trezcool/masomo-client/tests"
)

var ctx = context.Background()

// manualTicks hands the countdown a channel driven by the test.
type manualTicks chan time.Time

func (ch manualTicks) source() (<-chan time.Time, func()) {
	return ch, func() {}
}

func (ch manualTicks) send(n int) {
	for i := 0; i < n; i++ {
		ch <- time.Now()
	}
}

func startAttempt(t *testing.T, c *testutil.Client, quizID int, ticks manualTicks) *quiz.Attempt {
	t.Helper()
	attempt, err := quiz.NewAttempt(c.API, quizID, logsvc.NewRollbarLoggerMock(),
		quiz.WithTickSource(ticks.source), quiz.WithMetrics(c.Metrics))
	require.NoError(t, err)
	t.Cleanup(attempt.Close)
	require.NoError(t, attempt.Load(ctx))
	return attempt
}

func TestAttempt_refreshesExpiredToken(t *testing.T) {
	mock := testutil.StartMockAPI(t)
	c := testutil.NewClient(t, mock.URL, nil)
	c.Login(t, echoapi.DemoStudentEmail)

	attempt := startAttempt(t, c, echoapi.DemoTimedQuizID, make(manualTicks))
	require.NoError(t, attempt.RecordAnswer(101, quiz.Choice(2)))
	require.NoError(t, attempt.RecordAnswer(102, quiz.Choice(6)))
	require.NoError(t, attempt.RecordAnswer(102, quiz.Choice(4)))

	mock.ExpireAccessTokens()
	res, err := attempt.Submit(ctx)
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, 1, mock.Refreshes())
	assert.Equal(t, 1, mock.Submissions(echoapi.DemoTimedQuizID))
	assert.True(t, c.Session.IsAuthenticated())
	assert.Equal(t, float64(1), promtest.ToFloat64(c.Metrics.TokenRefreshes.WithLabelValues("true")))

	review, err := attempt.Review(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(50), review.Score)
	assert.Equal(t, []quiz.ReviewResponse{
		{QuestionID: 101, IsCorrect: true},
		{QuestionID: 102, IsCorrect: true},
	}, review.Responses)
}

func TestSession_expiresWhenRefreshIsRevoked(t *testing.T) {
	mock := testutil.StartMockAPI(t)
	c := testutil.NewClient(t, mock.URL, nil)
	c.Login(t, echoapi.DemoStudentEmail)

	mock.ExpireAccessTokens()
	mock.RevokeRefreshTokens()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.API.ListQuizzes(ctx, 0)
		}(i)
	}
	wg.Wait()

	var expired int
	for _, err := range errs {
		switch {
		case errors.Is(err, session.ErrSessionExpired):
			expired++
		default:
			// started after the logout: sent anonymously
			assert.True(t, lmsapi.IsStatus(err, http.StatusUnauthorized), "got %v", err)
		}
	}
	assert.NotZero(t, expired)
	assert.False(t, c.Session.IsAuthenticated())
	assert.Equal(t, 1, c.Expirations())
	_, err := c.Store.Load()
	assert.ErrorIs(t, err, session.ErrNoCredentials)
	_, ok := c.Session.Profile()
	assert.False(t, ok)
}

func TestSession_concurrentRequestsShareOneRefresh(t *testing.T) {
	mock := testutil.StartMockAPI(t)
	c := testutil.NewClient(t, mock.URL, nil)
	c.Login(t, echoapi.DemoStudentEmail)
	mock.ExpireAccessTokens()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.API.GetQuiz(ctx, echoapi.DemoUntimedQuizID)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, mock.Refreshes())
	assert.Equal(t, 0, c.Expirations())
}

func TestAttempt_autoSubmitsOnExpiry(t *testing.T) {
	tests := []struct {
		name          string
		failures      int
		wantDelivered bool
		wantAccepted  int
	}{
		{name: "delivered", wantDelivered: true, wantAccepted: 1},
		{name: "server error", failures: 1, wantDelivered: false, wantAccepted: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.StartMockAPI(t)
			c := newLoggedIn(t, mock)
			ticks := make(manualTicks)
			attempt := startAttempt(t, c, echoapi.DemoTimedQuizID, ticks)
			require.NoError(t, attempt.RecordAnswer(104, quiz.Text("multiply back")))

			mock.FailSubmissions(tt.failures)
			ticks.send(2 * 60)

			select {
			case <-attempt.Done():
			case <-time.After(5 * time.Second):
				t.Fatal("attempt not settled")
			}
			res := attempt.Result()
			assert.True(t, res.Auto)
			assert.Equal(t, tt.wantDelivered, res.Delivered)
			assert.Equal(t, tt.wantAccepted, mock.Submissions(echoapi.DemoTimedQuizID))

			st := attempt.State()
			assert.Equal(t, quiz.Submitted, st.Phase)
			assert.True(t, st.Expired)
			require.NotNil(t, st.Remaining)
			assert.Zero(t, *st.Remaining)

			_, err := attempt.Submit(ctx)
			assert.ErrorIs(t, err, quiz.ErrAlreadySubmitted)
		})
	}
}

func newLoggedIn(t *testing.T, mock *testutil.MockAPI) *testutil.Client {
	c := testutil.NewClient(t, mock.URL, nil)
	c.Login(t, echoapi.DemoStudentEmail)
	return c
}

func TestAttempt_manualSubmitRetry(t *testing.T) {
	mock := testutil.StartMockAPI(t)
	c := newLoggedIn(t, mock)
	attempt := startAttempt(t, c, echoapi.DemoUntimedQuizID, make(manualTicks))
	require.NoError(t, attempt.RecordAnswer(201, quiz.Choice(12)))

	mock.FailSubmissions(1)
	_, err := attempt.Submit(ctx)
	require.Error(t, err)
	assert.True(t, lmsapi.IsStatus(err, http.StatusServiceUnavailable))
	assert.Equal(t, quiz.InProgress, attempt.State().Phase)
	assert.Nil(t, attempt.State().Remaining)

	// answers can still change before the retry
	require.NoError(t, attempt.RecordAnswer(202, quiz.Choice(14)))
	res, err := attempt.Submit(ctx)
	require.NoError(t, err)
	assert.False(t, res.Auto)
	assert.Equal(t, 1, mock.Submissions(echoapi.DemoUntimedQuizID))

	review, err := attempt.Review(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(100), review.Score)
}

func TestAttempt_reviewHidden(t *testing.T) {
	mock := testutil.StartMockAPI(t)
	c := newLoggedIn(t, mock)
	attempt := startAttempt(t, c, echoapi.DemoHiddenQuizID, make(manualTicks))
	require.NoError(t, attempt.RecordAnswer(301, quiz.Text("It is about a river.")))

	_, err := attempt.Submit(ctx)
	require.NoError(t, err)
	_, err = attempt.Review(ctx)
	assert.ErrorIs(t, err, quiz.ErrReviewUnavailable)
}

func TestAttempt_loadFailures(t *testing.T) {
	mock := testutil.StartMockAPI(t)
	c := newLoggedIn(t, mock)

	attempt, err := quiz.NewAttempt(c.API, echoapi.DemoOtherCourseQID, logsvc.NewRollbarLoggerMock())
	require.NoError(t, err)
	defer attempt.Close()

	err = attempt.Load(ctx)
	assert.True(t, lmsapi.IsStatus(err, http.StatusNotFound))
	assert.Equal(t, quiz.Loading, attempt.State().Phase)
	assert.ErrorIs(t, attempt.RecordAnswer(401, quiz.Choice(17)), quiz.ErrAnswersFrozen)
}

var codeRegex = regexp.MustCompile(`validation code is (\d{6})`)

func TestRegister_verifyThenLogin(t *testing.T) {
	mock := testutil.StartMockAPI(t, func(o *echoapi.Options) { o.RequireVerification = true })
	c := testutil.NewClient(t, mock.URL, nil)

	nu := user.NewUser{Name: "Imani", Surname: "Tshala", Email: "imani@masomo.local", Password: "Kivu#Lake2024"}
	_, err := c.Session.Register(ctx, nu)
	require.Error(t, err)
	assert.True(t, lmsapi.IsStatus(err, http.StatusUnauthorized), "inactive until verified")
	assert.False(t, c.Session.IsAuthenticated())

	sent := mock.Mailer.Sent()
	require.Len(t, sent, 1)
	m := codeRegex.FindStringSubmatch(sent[0].TextContent)
	require.Len(t, m, 2)

	err = c.API.VerifyEmail(ctx, nu.Email, "999999x")
	assert.True(t, lmsapi.IsStatus(err, http.StatusBadRequest))
	require.NoError(t, c.API.VerifyEmail(ctx, nu.Email, m[1]))

	profile, err := c.Session.Login(ctx, nu.Email, nu.Password)
	require.NoError(t, err)
	assert.Equal(t, "Imani Tshala", profile.FullName())
	assert.Equal(t, user.RoleStudent, profile.Role())
}

func TestSession_persistsAcrossRestarts(t *testing.T) {
	mock := testutil.StartMockAPI(t)
	path := filepath.Join(t.TempDir(), "client.db")

	db, err := database.OpenPath(path)
	require.NoError(t, err)
	first := testutil.NewClient(t, mock.URL, sqlxdb.NewCredentialStore(db))
	first.Login(t, echoapi.DemoTeacherEmail)
	require.NoError(t, db.Close())

	db, err = database.OpenPath(path)
	require.NoError(t, err)
	defer db.Close()
	second := testutil.NewClient(t, mock.URL, sqlxdb.NewCredentialStore(db))
	require.True(t, second.Session.IsAuthenticated())

	mock.ExpireAccessTokens()
	require.NoError(t, second.Session.Restore(ctx))
	profile, ok := second.Session.Profile()
	require.True(t, ok)
	assert.Equal(t, echoapi.DemoTeacherEmail, profile.Email)
	assert.Equal(t, user.RoleTeacher, profile.Role())

	quizzes, err := second.API.ListQuizzes(ctx, 2)
	require.NoError(t, err)
	require.Len(t, quizzes, 1)
	assert.Equal(t, "Cell biology", quizzes[0].Title)
}

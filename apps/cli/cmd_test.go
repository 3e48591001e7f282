package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/masomo-client/apps/mockapi/echo"
	"github.com/trezcool/masomo-client/core/quiz"
	"github.com/trezcool/masomo-client/core/session"
	logsvc "github.com/trezcool/masomo-client/services/logger"
	testutil "github.com/trezcool/masomo-client/tests"
)

type cliTest struct {
	name       string
	args       []string // without program name
	input      string
	pwd        string
	wantErr    error
	wantErrStr string
	wantOut    []string
}

func setup(t *testing.T, opts ...func(*echoapi.Options)) (*commandLine, *testutil.MockAPI, *testutil.Client) {
	mock := testutil.StartMockAPI(t, opts...)
	c := testutil.NewClient(t, mock.URL, nil)
	cli := &commandLine{
		api:     c.API,
		session: c.Session,
		logger:  logsvc.NewRollbarLoggerMock(),
		metrics: c.Metrics,
		ticks:   idleTicks,
		in:      strings.NewReader(""),
		out:     new(bytes.Buffer),
	}
	return cli, mock, c
}

// idleTicks never ticks.
func idleTicks() (<-chan time.Time, func()) {
	return make(chan time.Time), func() {}
}

func runCases(t *testing.T, cli *commandLine, tests []cliTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			readPasswordFunc = func(fd int) ([]byte, error) {
				return []byte(tt.pwd), nil
			}
			out := new(bytes.Buffer)
			cli.out = out
			cli.in = strings.NewReader(tt.input)

			err := cli.run(context.Background(), append([]string{"masomo"}, tt.args...))
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantErrStr != "":
				assert.EqualError(t, err, tt.wantErrStr)
			default:
				require.NoError(t, err)
			}
			for _, want := range tt.wantOut {
				assert.Contains(t, out.String(), want)
			}
		})
	}
}

func Test_commandLine_account(t *testing.T) {
	cli, _, _ := setup(t)

	runCases(t, cli, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "whoami anonymous", args: []string{"whoami"}, wantErr: session.ErrNotAuthenticated},
		{name: "quizzes anonymous", args: []string{"quizzes"}, wantErr: session.ErrNotAuthenticated},
		{name: "login without email", args: []string{"login"}, wantErr: errHelp},
		{name: "login without password", args: []string{"login", "-email", echoapi.DemoStudentEmail}, wantErr: errHelp},
		{
			name:       "login wrong password",
			args:       []string{"login", "-email", echoapi.DemoStudentEmail},
			pwd:        "nope",
			wantErrStr: "obtaining token: No active account found with the given credentials",
		},
		{
			name:    "login",
			args:    []string{"login", "-email", echoapi.DemoStudentEmail},
			pwd:     echoapi.DemoPassword,
			wantOut: []string{"Logged in as Amani Kabila (student)."},
		},
		{name: "whoami", args: []string{"whoami"}, wantOut: []string{"Amani Kabila <student@masomo.local>, student"}},
		{name: "quizzes", args: []string{"quizzes"}, wantOut: []string{"Arithmetic basics", "2 min", "Capitals of Africa", "Reading comprehension"}},
		{name: "quizzes of another course", args: []string{"quizzes", "-course", "2"}, wantOut: []string{"No quizzes."}},
		{name: "review before submission", args: []string{"review", "-quiz", "1"}, wantErr: quiz.ErrReviewUnavailable},
		{name: "logout", args: []string{"logout"}, wantOut: []string{"Logged out."}},
		{name: "whoami after logout", args: []string{"whoami"}, wantErr: session.ErrNotAuthenticated},
	})
}

func Test_commandLine_register(t *testing.T) {
	cli, mock, c := setup(t, func(o *echoapi.Options) { o.RequireVerification = true })

	runCases(t, cli, []cliTest{
		{name: "missing name", args: []string{"register", "-email", "imani@masomo.local"}, wantErr: errHelp},
		{
			name:    "register",
			args:    []string{"register", "-name", "Imani", "-surname", "Tshala", "-email", "imani@masomo.local"},
			pwd:     "Kivu#Lake2024",
			wantOut: []string{"Account created. Check your e-mail, then run: masomo verify -email imani@masomo.local -code CODE"},
		},
		{name: "verify without code", args: []string{"verify", "-email", "imani@masomo.local"}, wantErr: errHelp},
		{
			name:       "verify wrong code",
			args:       []string{"verify", "-email", "imani@masomo.local", "-code", "x"},
			wantErrStr: "code: Invalid validation code",
		},
	})
	assert.False(t, c.Session.IsAuthenticated())

	sent := mock.Mailer.Sent()
	require.Len(t, sent, 1)
	i := strings.Index(sent[0].TextContent, "-code ")
	require.True(t, i > 0)
	code := strings.TrimSpace(sent[0].TextContent[i+len("-code "):])

	runCases(t, cli, []cliTest{
		{name: "verify", args: []string{"verify", "-email", "imani@masomo.local", "-code", code}, wantOut: []string{"E-mail confirmed."}},
		{name: "login", args: []string{"login", "-email", "imani@masomo.local"}, pwd: "Kivu#Lake2024", wantOut: []string{"Logged in as Imani Tshala (student)."}},
	})
}

func Test_commandLine_take(t *testing.T) {
	cli, mock, c := setup(t)
	c.Login(t, echoapi.DemoStudentEmail)

	runCases(t, cli, []cliTest{
		{name: "take without quiz", args: []string{"take"}, wantErr: errHelp},
		{
			name:  "quit",
			args:  []string{"take", "-quiz", "1"},
			input: "2\nq\n",
			wantOut: []string{
				"Arithmetic basics",
				"Question 1/4 [02:00 left]",
				"[x] 2. 56",
				"Attempt abandoned, nothing was submitted.",
			},
		},
		{
			name:  "bad inputs",
			args:  []string{"take", "-quiz", "1"},
			input: "9\nt fifty six\nlol\nn\nn\nn\nn\n1\n",
			wantOut: []string{
				"No option 9.",
				"Pick an option number for this question.",
				takeHelp,
				"Question 4/4",
				"Type your answer as: t <text>",
				"Input closed, attempt abandoned.",
			},
		},
		{
			name:  "submit",
			args:  []string{"take", "-quiz", "1"},
			input: "2\nn\n1\n3\n2\n2\np\nn\nn\n2\nn\nt multiply back\ns\n",
			wantOut: []string{
				"[x] 1. 12",
				"[ ] 2. 15",
				"[x] 3. 20",
				"(several answers allowed)",
				"your answer: multiply back",
				"Quiz submitted.",
				`Review of "Arithmetic basics": 75.00% (4 questions)`,
				"1. 7 x 8 = ?: correct",
				"4. Explain how you would check a division.: wrong",
			},
		},
		{
			name:    "review",
			args:    []string{"review", "-quiz", "1"},
			wantOut: []string{"75.00%", "question #103: correct"},
		},
	})
	assert.Equal(t, 1, mock.Submissions(echoapi.DemoTimedQuizID))
}

func Test_commandLine_take_submitRetry(t *testing.T) {
	cli, mock, c := setup(t)
	c.Login(t, echoapi.DemoStudentEmail)
	mock.FailSubmissions(1)

	runCases(t, cli, []cliTest{
		{
			name:    "retry",
			args:    []string{"take", "-quiz", "3"},
			input:   "t a river\ns\ns\n",
			wantOut: []string{"Submission failed: submitting quiz: Submission failed, please try again.. Try again with s.", "Quiz submitted."},
		},
	})
	assert.Equal(t, 1, mock.Submissions(echoapi.DemoHiddenQuizID))
}

func Test_commandLine_take_autoSubmit(t *testing.T) {
	cli, mock, c := setup(t)
	c.Login(t, echoapi.DemoStudentEmail)

	ticks := make(chan time.Time)
	cli.ticks = func() (<-chan time.Time, func()) { return ticks, func() {} }
	pr, pw := io.Pipe()
	defer pw.Close()
	cli.in = pr
	out := new(bytes.Buffer)
	cli.out = out

	errc := make(chan error, 1)
	go func() {
		errc <- cli.run(context.Background(), []string{"masomo", "take", "-quiz", "1"})
	}()

	// each write returns once the previous line has been taken by the prompt loop
	for _, line := range []string{"2\n", "\n", "\n"} {
		_, err := pw.Write([]byte(line))
		require.NoError(t, err)
	}
	for i := 0; i < 2*60; i++ {
		ticks <- time.Now()
	}

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("take did not return after the time ran out")
	}
	assert.Contains(t, out.String(), "Time expired, quiz auto-submitted.")
	assert.Contains(t, out.String(), "25.00%")
	assert.Equal(t, 1, mock.Submissions(echoapi.DemoTimedQuizID))
}

func Test_readLines(t *testing.T) {
	recv := func(t *testing.T, lines <-chan string) (string, bool) {
		t.Helper()
		select {
		case line, ok := <-lines:
			return line, ok
		case <-time.After(5 * time.Second):
			t.Fatal("reader goroutine did not respond")
			return "", false
		}
	}

	t.Run("eof", func(t *testing.T) {
		lines := readLines(strings.NewReader("1\nq\n"), make(chan struct{}))
		for _, want := range []string{"1", "q"} {
			line, ok := recv(t, lines)
			require.True(t, ok)
			assert.Equal(t, want, line)
		}
		_, ok := recv(t, lines)
		assert.False(t, ok)
	})

	t.Run("stopped", func(t *testing.T) {
		pr, pw := io.Pipe()
		defer pw.Close()
		stop := make(chan struct{})
		lines := readLines(pr, stop)

		close(stop)
		// returns once the blocked scan has consumed the line
		_, err := pw.Write([]byte("late\n"))
		require.NoError(t, err)
		_, ok := recv(t, lines)
		assert.False(t, ok, "line read after stop must not be delivered")
	})
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/trezcool/masomo-client/core"
	"github.com/trezcool/masomo-client/core/quiz"
	"github.com/trezcool/masomo-client/core/session"
	"github.com/trezcool/masomo-client/core/user"
	"github.com/trezcool/masomo-client/services/lmsapi"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	api     *lmsapi.Client
	session *session.Manager
	logger  core.Logger
	metrics core.Metrics
	ticks   quiz.TickSource // nil: one tick per second

	in  io.Reader
	out io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  login -email EMAIL - log in, the password is prompted next")
	fmt.Fprintln(cli.out, "  register -name NAME -surname SURNAME -email EMAIL [-teacher] - create an account")
	fmt.Fprintln(cli.out, "  verify -email EMAIL -code CODE - validate the e-mail address of a new account")
	fmt.Fprintln(cli.out, "  logout - forget the stored session")
	fmt.Fprintln(cli.out, "  whoami - show the logged in user")
	fmt.Fprintln(cli.out, "  quizzes [-course ID] - list the quizzes you can take")
	fmt.Fprintln(cli.out, "  take -quiz ID - take a quiz")
	fmt.Fprintln(cli.out, "  review -quiz ID - show the correction of a submitted quiz")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	loginCmd := flag.NewFlagSet("login", flag.ExitOnError)
	loginEmail := loginCmd.String("email", "", "Your e-mail address. The password will be prompted next.")

	registerCmd := flag.NewFlagSet("register", flag.ExitOnError)
	registerName := registerCmd.String("name", "", "Your first name.")
	registerSurname := registerCmd.String("surname", "", "Your last name.")
	registerEmail := registerCmd.String("email", "", "Your e-mail address. The password will be prompted next.")
	registerTeacher := registerCmd.Bool("teacher", false, "Register as a teacher.")

	verifyCmd := flag.NewFlagSet("verify", flag.ExitOnError)
	verifyEmail := verifyCmd.String("email", "", "The e-mail address to validate.")
	verifyCode := verifyCmd.String("code", "", "The code received by e-mail.")

	quizzesCmd := flag.NewFlagSet("quizzes", flag.ExitOnError)
	quizzesCourse := quizzesCmd.Int("course", 0, "Only list the quizzes of this course.")

	takeCmd := flag.NewFlagSet("take", flag.ExitOnError)
	takeQuiz := takeCmd.Int("quiz", 0, "The id of the quiz to take.")

	reviewCmd := flag.NewFlagSet("review", flag.ExitOnError)
	reviewQuiz := reviewCmd.Int("quiz", 0, "The id of the submitted quiz.")

	switch args[1] {
	case "login":
		if err := loginCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *loginEmail == "" {
			loginCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			loginCmd.Usage()
			return errHelp
		}
		return cli.login(ctx, *loginEmail, pwd)

	case "register":
		if err := registerCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *registerName == "" || *registerEmail == "" {
			registerCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			registerCmd.Usage()
			return errHelp
		}
		return cli.register(ctx, user.NewUser{
			Name:      *registerName,
			Surname:   *registerSurname,
			Email:     *registerEmail,
			Password:  pwd,
			IsTeacher: *registerTeacher,
		})

	case "verify":
		if err := verifyCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *verifyEmail == "" || *verifyCode == "" {
			verifyCmd.Usage()
			return errHelp
		}
		return cli.verify(ctx, *verifyEmail, *verifyCode)

	case "logout":
		cli.session.Logout()
		fmt.Fprintln(cli.out, "Logged out.")
		return nil

	case "whoami":
		return cli.whoami(ctx)

	case "quizzes":
		if err := quizzesCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.listQuizzes(ctx, *quizzesCourse)

	case "take":
		if err := takeCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *takeQuiz <= 0 {
			takeCmd.Usage()
			return errHelp
		}
		return cli.take(ctx, *takeQuiz)

	case "review":
		if err := reviewCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *reviewQuiz <= 0 {
			reviewCmd.Usage()
			return errHelp
		}
		return cli.review(ctx, *reviewQuiz)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) readPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(syscall.Stdin)
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func (cli *commandLine) login(ctx context.Context, email, pwd string) error {
	profile, err := cli.session.Login(ctx, email, pwd)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Logged in as %s (%s).\n", profile.FullName(), profile.Role())
	return nil
}

func (cli *commandLine) register(ctx context.Context, nu user.NewUser) error {
	profile, err := cli.session.Register(ctx, nu)
	switch {
	case err == nil:
		fmt.Fprintf(cli.out, "Welcome %s! You are logged in.\n", profile.FullName())
		return nil
	case lmsapi.IsStatus(err, http.StatusUnauthorized):
		// created, but inactive until the e-mail address is validated
		fmt.Fprintf(cli.out, "Account created. Check your e-mail, then run: masomo verify -email %s -code CODE\n", nu.Email)
		return nil
	default:
		return err
	}
}

func (cli *commandLine) verify(ctx context.Context, email, code string) error {
	if err := cli.api.VerifyEmail(ctx, email, code); err != nil {
		return err
	}
	fmt.Fprintln(cli.out, "E-mail confirmed. You can now log in.")
	return nil
}

// restore checks that a session is stored and refreshes the cached profile.
func (cli *commandLine) restore(ctx context.Context) (user.Profile, error) {
	if !cli.session.IsAuthenticated() {
		return user.Profile{}, session.ErrNotAuthenticated
	}
	if err := cli.session.Restore(ctx); err != nil {
		return user.Profile{}, err
	}
	profile, ok := cli.session.Profile()
	if !ok {
		return user.Profile{}, session.ErrNotAuthenticated
	}
	return profile, nil
}

func (cli *commandLine) whoami(ctx context.Context) error {
	profile, err := cli.restore(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s <%s>, %s\n", profile.FullName(), profile.Email, profile.Role())
	return nil
}

func (cli *commandLine) listQuizzes(ctx context.Context, courseID int) error {
	if !cli.session.IsAuthenticated() {
		return session.ErrNotAuthenticated
	}
	quizzes, err := cli.api.ListQuizzes(ctx, courseID)
	if err != nil {
		return err
	}
	if len(quizzes) == 0 {
		fmt.Fprintln(cli.out, "No quizzes.")
		return nil
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tCOURSE\tTIME LIMIT")
	for _, qz := range quizzes {
		limit := "-"
		if qz.IsTimed() {
			limit = fmt.Sprintf("%d min", qz.TimeLimitMinutes)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", qz.ID, qz.Title, qz.CourseID, limit)
	}
	return w.Flush()
}

func (cli *commandLine) review(ctx context.Context, quizID int) error {
	if !cli.session.IsAuthenticated() {
		return session.ErrNotAuthenticated
	}
	review, err := cli.api.GetReview(ctx, quizID)
	if err != nil {
		if lmsapi.IsStatus(err, http.StatusForbidden) {
			return quiz.ErrReviewUnavailable
		}
		return err
	}
	cli.printReview(review, nil)
	return nil
}

// printReview prints the correction; texts maps question ids to their text when known.
func (cli *commandLine) printReview(review quiz.Review, texts map[int]string) {
	fmt.Fprintf(cli.out, "Review of %q: %.2f%% (%d questions)\n", review.QuizTitle, review.Score, review.TotalQuestions)
	for i, resp := range review.Responses {
		mark := "wrong"
		if resp.IsCorrect {
			mark = "correct"
		}
		text := texts[resp.QuestionID]
		if text == "" {
			text = fmt.Sprintf("question #%d", resp.QuestionID)
		}
		fmt.Fprintf(cli.out, "  %d. %s: %s\n", i+1, text, mark)
	}
}

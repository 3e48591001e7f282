package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-client/core/quiz"
	"github.com/trezcool/masomo-client/core/session"
)

const takeHelp = "Commands: <n> pick option n (toggles on multiple choice), t <text> answer, n next, p previous, s submit, q quit"

func (cli *commandLine) take(ctx context.Context, quizID int) error {
	if !cli.session.IsAuthenticated() {
		return session.ErrNotAuthenticated
	}

	opts := []quiz.AttemptOption{quiz.WithMetrics(cli.metrics)}
	if cli.ticks != nil {
		opts = append(opts, quiz.WithTickSource(cli.ticks))
	}
	attempt, err := quiz.NewAttempt(cli.api, quizID, cli.logger, opts...)
	if err != nil {
		return err
	}
	defer attempt.Close()

	if err := attempt.Load(ctx); err != nil {
		return errors.Wrap(err, "loading quiz")
	}

	qz := attempt.Quiz()
	fmt.Fprintf(cli.out, "%s\n%s\n", qz.Title, qz.Description)
	if qz.IsTimed() {
		fmt.Fprintf(cli.out, "You have %d minutes. Answers are submitted automatically when the time is up.\n", qz.TimeLimitMinutes)
	}
	fmt.Fprintln(cli.out, takeHelp)
	cli.render(attempt)

	stop := make(chan struct{})
	defer close(stop)
	lines := readLines(cli.in, stop)

	for {
		select {
		case <-attempt.Done():
			return cli.finish(ctx, attempt)

		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(cli.out, "Input closed, attempt abandoned.")
				return nil
			}
			submitted, quit := cli.handle(ctx, attempt, strings.TrimSpace(line))
			switch {
			case submitted:
				return cli.finish(ctx, attempt)
			case quit:
				fmt.Fprintln(cli.out, "Attempt abandoned, nothing was submitted.")
				return nil
			}
		}
	}
}

// readLines scans r in the background so that the attempt can settle while waiting for input.
// A read cannot be interrupted: once stop is closed the goroutine stays blocked until r yields
// its next line or EOF, then exits without delivering it.
func readLines(r io.Reader, stop <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case <-stop:
				return
			default:
			}
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			}
		}
	}()
	return lines
}

// handle applies one line of input; it reports whether the attempt got submitted or abandoned.
func (cli *commandLine) handle(ctx context.Context, attempt *quiz.Attempt, line string) (submitted, quit bool) {
	switch {
	case line == "":
	case line == "n":
		attempt.Next()
	case line == "p":
		attempt.Previous()
	case line == "q":
		return false, true
	case line == "s":
		_, err := attempt.Submit(ctx)
		switch {
		case err == nil:
			return true, false
		case errors.Is(err, quiz.ErrAlreadySubmitted):
			// the countdown got there first
			<-attempt.Done()
			return true, false
		case errors.Is(err, session.ErrSessionExpired):
			fmt.Fprintln(cli.out, "Your session expired, the attempt cannot be submitted.")
			return false, true
		default:
			fmt.Fprintf(cli.out, "Submission failed: %v. Try again with s.\n", err)
		}
	case strings.HasPrefix(line, "t "):
		cli.answer(attempt, quiz.Text(strings.TrimSpace(line[2:])))
	default:
		n, err := strconv.Atoi(line)
		if err != nil {
			fmt.Fprintln(cli.out, takeHelp)
			return false, false
		}
		q, _ := attempt.Current()
		if !q.Kind.IsChoice() {
			cli.answer(attempt, quiz.Choice(n))
			break
		}
		if n < 1 || n > len(q.Options) {
			fmt.Fprintf(cli.out, "No option %d.\n", n)
			return false, false
		}
		cli.answer(attempt, quiz.Choice(q.Options[n-1].ID))
	}
	cli.render(attempt)
	return false, false
}

func (cli *commandLine) answer(attempt *quiz.Attempt, in quiz.Input) {
	switch err := attempt.AnswerCurrent(in); {
	case err == nil:
	case errors.Is(err, quiz.ErrInputKind):
		if _, isText := in.(quiz.Text); isText {
			fmt.Fprintln(cli.out, "Pick an option number for this question.")
		} else {
			fmt.Fprintln(cli.out, "Type your answer as: t <text>")
		}
	default:
		fmt.Fprintf(cli.out, "%v.\n", err)
	}
}

func (cli *commandLine) render(attempt *quiz.Attempt) {
	q, ok := attempt.Current()
	if !ok {
		return
	}
	st := attempt.State()

	header := fmt.Sprintf("\nQuestion %d/%d", st.Cursor+1, st.QuestionCount)
	if st.Remaining != nil {
		header += fmt.Sprintf(" [%02d:%02d left]", *st.Remaining/60, *st.Remaining%60)
	}
	fmt.Fprintln(cli.out, header)
	fmt.Fprintln(cli.out, q.Text)

	ans := st.Answers[q.ID]
	switch q.Kind {
	case quiz.OpenEnded:
		if a, ok := ans.(quiz.OpenEndedAnswer); ok {
			fmt.Fprintf(cli.out, "  your answer: %s\n", a.Text)
		}
	default:
		for i, opt := range q.Options {
			mark := " "
			switch a := ans.(type) {
			case quiz.SingleChoiceAnswer:
				if a.OptionID == opt.ID {
					mark = "x"
				}
			case quiz.MultipleChoiceAnswer:
				if a.Has(opt.ID) {
					mark = "x"
				}
			}
			fmt.Fprintf(cli.out, "  [%s] %d. %s\n", mark, i+1, opt.Text)
		}
		if q.Kind == quiz.MultipleChoice {
			fmt.Fprintln(cli.out, "  (several answers allowed)")
		}
	}
}

// finish announces how the attempt settled and prints the correction when the quiz shows it.
func (cli *commandLine) finish(ctx context.Context, attempt *quiz.Attempt) error {
	res := attempt.Result()
	fmt.Fprintln(cli.out, res.Message())
	if res.Auto && !res.Delivered {
		return res.Err
	}
	if !attempt.Quiz().ShowAnswersOnCompletion {
		return nil
	}

	review, err := attempt.Review(ctx)
	if err != nil {
		return err
	}
	texts := make(map[int]string)
	for _, q := range attempt.Questions() {
		texts[q.ID] = q.Text
	}
	cli.printReview(review, texts)
	return nil
}

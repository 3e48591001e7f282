package quiz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/masomo-client/core"
)

var (
	// errors
	ErrNotLoaded         = errors.New("quiz attempt not loaded")
	ErrAlreadyLoaded     = errors.New("quiz attempt already loaded")
	ErrClosed            = errors.New("quiz attempt closed")
	ErrNoQuestions       = errors.New("no questions in this quiz")
	ErrUnknownQuestion   = errors.New("question is not part of this quiz")
	ErrInputKind         = errors.New("input does not match the question type")
	ErrAnswersFrozen     = errors.New("answers can no longer be changed")
	ErrAlreadySubmitted  = errors.New("quiz already submitted")
	ErrReviewUnavailable = errors.New("review is not available for this quiz")
)

type Phase int

const (
	Loading Phase = iota
	InProgress
	Submitting
	Submitted
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "loading"
	case InProgress:
		return "in progress"
	case Submitting:
		return "submitting"
	case Submitted:
		return "submitted"
	default:
		return "unknown"
	}
}

type (
	// Backend is the quiz side of the LMS API.
	Backend interface {
		GetQuiz(ctx context.Context, quizID int) (Quiz, error)
		GetQuestions(ctx context.Context, quizID int) ([]Question, error)
		SubmitResponses(ctx context.Context, quizID int, responses []Response) error
		GetReview(ctx context.Context, quizID int) (Review, error)
	}

	// TickSource starts a one-second tick and returns its channel and a stop func.
	TickSource func() (<-chan time.Time, func())

	AttemptOption func(*Attempt)
)

func WithTickSource(ts TickSource) AttemptOption {
	return func(a *Attempt) { a.ticks = ts }
}

func WithMetrics(m core.Metrics) AttemptOption {
	return func(a *Attempt) { a.metrics = m }
}

func secondTicker() (<-chan time.Time, func()) {
	t := time.NewTicker(time.Second)
	return t.C, t.Stop
}

// Result describes how an attempt settled.
type Result struct {
	Auto      bool  // submitted because the time ran out
	Delivered bool  // the server acknowledged the submission
	Err       error // why an auto-submission was not delivered
}

func (r Result) Message() string {
	switch {
	case r.Auto && r.Delivered:
		return "Time expired, quiz auto-submitted."
	case r.Auto:
		return "Time expired. Your answers could not be submitted automatically."
	default:
		return "Quiz submitted. Your answers have been recorded."
	}
}

// State is a snapshot of an Attempt.
type State struct {
	Phase         Phase
	Cursor        int
	QuestionCount int
	Remaining     *int // seconds; nil when the quiz has no time limit
	Expired       bool
	Answers       map[int]Answer
}

// Attempt drives a single quiz attempt from load to submission.
// Submission happens at most once: the first of a manual Submit or the expiry of the countdown wins.
type Attempt struct {
	ID string

	quizID  int
	backend Backend
	logger  core.Logger
	metrics core.Metrics
	ticks   TickSource

	// teardown
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	loadBegun bool
	closed    bool
	quiz      Quiz
	questions []Question
	index     map[int]int // question id -> position
	answers   map[int]Answer
	cursor    int
	timed     bool
	remaining int
	phase     Phase
	expired   bool
	result    Result
	done      chan struct{}
	tickGen   uint64
	stopTick  func()
}

func NewAttempt(backend Backend, quizID int, logger core.Logger, opts ...AttemptOption) (*Attempt, error) {
	err := vala.BeginValidation().Validate(
		vala.IsNotNil(backend, "backend"),
		vala.IsNotNil(logger, "logger"),
		vala.GreaterThan(quizID, 0, "quizID"),
	).Check()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Attempt{
		ID:      uuid.New().String(),
		quizID:  quizID,
		backend: backend,
		logger:  logger,
		ticks:   secondTicker,
		ctx:     ctx,
		cancel:  cancel,
		answers: make(map[int]Answer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Load fetches the quiz and its questions concurrently and starts the countdown of timed quizzes.
// A failed load leaves the attempt unusable.
func (a *Attempt) Load(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.loadBegun {
		a.mu.Unlock()
		return ErrAlreadyLoaded
	}
	a.loadBegun = true
	a.mu.Unlock()

	ctx, cancel := a.bind(ctx)
	defer cancel()

	var (
		qz        Quiz
		questions []Question
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		qz, err = a.backend.GetQuiz(gctx, a.quizID)
		return errors.Wrap(err, "fetching quiz")
	})
	g.Go(func() (err error) {
		questions, err = a.backend.GetQuestions(gctx, a.quizID)
		return errors.Wrap(err, "fetching questions")
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := core.ValidateStruct(qz); err != nil {
		return errors.Wrap(err, "validating quiz")
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}
	index := make(map[int]int, len(questions))
	for i, q := range questions {
		if err := q.Validate(); err != nil {
			return errors.Wrap(err, "validating questions")
		}
		index[q.ID] = i
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.quiz = qz
	a.questions = questions
	a.index = index
	a.phase = InProgress
	if qz.IsTimed() {
		a.timed = true
		a.remaining = qz.TimeLimitMinutes * 60
		a.startCountdownLocked()
	}
	a.logger.Info(fmt.Sprintf("quiz attempt %s started", a.ID), map[string]interface{}{
		"quiz_id":   a.quizID,
		"questions": len(questions),
		"timed":     a.timed,
	})
	return nil
}

// bind derives a context that is also cancelled when the attempt is closed.
func (a *Attempt) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(a.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (a *Attempt) startCountdownLocked() {
	if !a.timed || a.stopTick != nil || a.closed {
		return
	}
	a.tickGen++
	gen := a.tickGen
	ch, stop := a.ticks()
	quit := make(chan struct{})
	var once sync.Once
	a.stopTick = func() {
		once.Do(func() {
			stop()
			close(quit)
		})
	}

	go func() {
		for {
			select {
			case <-quit:
				return
			case <-ch:
				a.tick(gen)
			}
		}
	}()
}

func (a *Attempt) stopCountdownLocked() {
	if a.stopTick != nil {
		a.stopTick()
		a.stopTick = nil
	}
}

// Tick advances the countdown by one second; reaching zero submits the attempt automatically.
func (a *Attempt) Tick() {
	a.tick(0)
}

// tick applies a countdown tick; ticks from a stopped countdown (gen != current) are dropped.
func (a *Attempt) tick(gen uint64) {
	a.mu.Lock()
	if a.phase != InProgress || !a.timed || (gen != 0 && gen != a.tickGen) {
		a.mu.Unlock()
		return
	}
	if a.remaining > 0 {
		a.remaining--
	}
	if a.remaining > 0 {
		a.mu.Unlock()
		return
	}
	a.expired = true
	responses := a.beginSubmitLocked()
	a.mu.Unlock()

	_, _ = a.deliver(a.ctx, responses, true)
}

// RecordAnswer folds the input into the answer of the question.
// Choices replace single choice answers and toggle multiple choice ones; text replaces open answers.
func (a *Attempt) RecordAnswer(questionID int, in Input) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.phase != InProgress {
		return ErrAnswersFrozen
	}
	pos, ok := a.index[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	ans, err := apply(a.questions[pos].Kind, a.answers[questionID], in)
	if err != nil {
		return err
	}
	a.answers[questionID] = ans
	return nil
}

// AnswerCurrent records the input for the question under the cursor.
func (a *Attempt) AnswerCurrent(in Input) error {
	q, ok := a.Current()
	if !ok {
		return ErrNotLoaded
	}
	return a.RecordAnswer(q.ID, in)
}

func (a *Attempt) Next() int {
	return a.move(1)
}

func (a *Attempt) Previous() int {
	return a.move(-1)
}

func (a *Attempt) move(step int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.questions) == 0 {
		return 0
	}
	cursor := a.cursor + step
	if cursor < 0 {
		cursor = 0
	} else if cursor > len(a.questions)-1 {
		cursor = len(a.questions) - 1
	}
	a.cursor = cursor
	return cursor
}

// Submit sends the answers. It is a no-op returning ErrAlreadySubmitted once a submission is in flight or done.
// If delivery fails the attempt goes back in progress so the student can retry.
func (a *Attempt) Submit(ctx context.Context) (Result, error) {
	a.mu.Lock()
	switch {
	case a.phase == Loading:
		a.mu.Unlock()
		return Result{}, ErrNotLoaded
	case a.phase == Submitting || a.phase == Submitted:
		a.mu.Unlock()
		return Result{}, ErrAlreadySubmitted
	case a.closed:
		a.mu.Unlock()
		return Result{}, ErrClosed
	}
	responses := a.beginSubmitLocked()
	a.mu.Unlock()

	return a.deliver(ctx, responses, false)
}

func (a *Attempt) beginSubmitLocked() []Response {
	a.phase = Submitting
	a.stopCountdownLocked()

	responses := make([]Response, 0, len(a.answers))
	for _, q := range a.questions {
		if ans, ok := a.answers[q.ID]; ok {
			responses = append(responses, Response{QuestionID: q.ID, Answer: ans.Value()})
		}
	}
	return responses
}

func (a *Attempt) deliver(ctx context.Context, responses []Response, auto bool) (Result, error) {
	ctx, cancel := a.bind(ctx)
	err := a.backend.SubmitResponses(ctx, a.quizID, responses)
	cancel()
	if a.metrics != nil {
		a.metrics.QuizSubmitted(auto, err == nil)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	info := map[string]interface{}{"quiz_id": a.quizID, "auto": auto, "responses": len(responses)}
	switch {
	case err == nil:
		a.logger.Info(fmt.Sprintf("quiz attempt %s submitted", a.ID), info)
		a.settleLocked(Result{Auto: auto, Delivered: true})
		return a.result, nil
	case auto:
		// the countdown is over: settle anyway rather than leave the attempt stuck at zero
		a.logger.Error(fmt.Sprintf("auto-submitting quiz attempt %s: %v", a.ID, err), err, info)
		a.settleLocked(Result{Auto: true, Err: err})
		return a.result, nil
	default:
		a.logger.Warn(fmt.Sprintf("submitting quiz attempt %s: %v", a.ID, err), err, info)
		a.phase = InProgress
		a.startCountdownLocked()
		return Result{}, errors.Wrap(err, "submitting quiz")
	}
}

func (a *Attempt) settleLocked(res Result) {
	a.phase = Submitted
	a.result = res
	close(a.done)
}

// Done is closed once the attempt is submitted.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Result returns how the attempt settled; zero until Submitted.
func (a *Attempt) Result() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result
}

// Review fetches the correctness report, if the quiz shows answers on completion.
func (a *Attempt) Review(ctx context.Context) (Review, error) {
	a.mu.Lock()
	available := a.phase == Submitted && a.quiz.ShowAnswersOnCompletion
	a.mu.Unlock()
	if !available {
		return Review{}, ErrReviewUnavailable
	}

	ctx, cancel := a.bind(ctx)
	defer cancel()
	review, err := a.backend.GetReview(ctx, a.quizID)
	return review, errors.Wrap(err, "fetching review")
}

// Close cancels the countdown and any request in flight. It is safe to call more than once.
func (a *Attempt) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.stopCountdownLocked()
	a.mu.Unlock()
	a.cancel()
}

func (a *Attempt) Quiz() Quiz {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quiz
}

func (a *Attempt) Questions() []Question {
	a.mu.Lock()
	defer a.mu.Unlock()
	qs := make([]Question, len(a.questions))
	copy(qs, a.questions)
	return qs
}

// Current returns the question under the cursor.
func (a *Attempt) Current() (Question, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.questions) == 0 {
		return Question{}, false
	}
	return a.questions[a.cursor], true
}

func (a *Attempt) Answer(questionID int) (Answer, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ans, ok := a.answers[questionID]
	return ans, ok
}

func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := State{
		Phase:         a.phase,
		Cursor:        a.cursor,
		QuestionCount: len(a.questions),
		Expired:       a.expired,
		Answers:       make(map[int]Answer, len(a.answers)),
	}
	if a.timed {
		remaining := a.remaining
		st.Remaining = &remaining
	}
	for id, ans := range a.answers {
		st.Answers[id] = ans
	}
	return st
}

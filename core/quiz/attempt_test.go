package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logsvc "github.com/trezcool/masomo-client/services/logger"
)

var errBoom = errors.New("boom")

type fakeBackend struct {
	quiz       Quiz
	questions  []Question
	review     Review
	quizErr    error
	qsErr      error
	submitErrs []error       // consumed one per submission
	block      chan struct{} // when set, submissions wait for it to close
	called     chan struct{} // signalled when a submission reaches the backend

	mu          sync.Mutex
	submissions [][]Response
}

func (b *fakeBackend) GetQuiz(ctx context.Context, quizID int) (Quiz, error) {
	return b.quiz, b.quizErr
}

func (b *fakeBackend) GetQuestions(ctx context.Context, quizID int) ([]Question, error) {
	return b.questions, b.qsErr
}

func (b *fakeBackend) SubmitResponses(ctx context.Context, quizID int, responses []Response) error {
	b.mu.Lock()
	b.submissions = append(b.submissions, responses)
	var err error
	if len(b.submitErrs) > 0 {
		err, b.submitErrs = b.submitErrs[0], b.submitErrs[1:]
	}
	b.mu.Unlock()

	if b.called != nil {
		b.called <- struct{}{}
	}
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (b *fakeBackend) GetReview(ctx context.Context, quizID int) (Review, error) {
	return b.review, nil
}

func (b *fakeBackend) submissionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.submissions)
}

// manualTicks is a TickSource driven by the test.
type manualTicks struct {
	ch      chan time.Time
	started int32
	stopped int32
}

func newManualTicks() *manualTicks {
	return &manualTicks{ch: make(chan time.Time)}
}

func (m *manualTicks) source() (<-chan time.Time, func()) {
	atomic.AddInt32(&m.started, 1)
	return m.ch, func() { atomic.AddInt32(&m.stopped, 1) }
}

func sampleQuestions() []Question {
	return []Question{
		{ID: 11, Text: "2 + 2 = ?", Kind: SingleChoice, Options: []Option{{1, "3"}, {2, "4"}, {3, "5"}}},
		{ID: 12, Text: "Pick the primes", Kind: MultipleChoice, Options: []Option{{1, "2"}, {2, "4"}, {3, "5"}}},
		{ID: 13, Text: "Define a prime", Kind: OpenEnded},
	}
}

func newBackend(limit int) *fakeBackend {
	return &fakeBackend{
		quiz:      Quiz{ID: 7, Title: "Arithmetic", TimeLimitMinutes: limit, ShowAnswersOnCompletion: true},
		questions: sampleQuestions(),
		review:    Review{QuizTitle: "Arithmetic", Score: 1, TotalQuestions: 3},
	}
}

func loadAttempt(t *testing.T, backend Backend, ticks *manualTicks) *Attempt {
	t.Helper()
	if ticks == nil {
		ticks = newManualTicks()
	}
	a, err := NewAttempt(backend, 7, logsvc.NewRollbarLoggerMock(), WithTickSource(ticks.source))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NoError(t, a.Load(context.Background()))
	return a
}

func TestNewAttempt_invalidArgs(t *testing.T) {
	_, err := NewAttempt(nil, 7, logsvc.NewRollbarLoggerMock())
	assert.Error(t, err)

	_, err = NewAttempt(newBackend(0), 0, logsvc.NewRollbarLoggerMock())
	assert.Error(t, err)
}

func TestAttempt_Load(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		wantErr error
	}{
		{name: "quiz fetch fails", backend: &fakeBackend{quizErr: errBoom, questions: sampleQuestions()}, wantErr: errBoom},
		{name: "questions fetch fails", backend: &fakeBackend{quiz: Quiz{ID: 7}, qsErr: errBoom}, wantErr: errBoom},
		{name: "no questions", backend: &fakeBackend{quiz: Quiz{ID: 7}}, wantErr: ErrNoQuestions},
		{name: "ok", backend: newBackend(10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAttempt(tt.backend, 7, logsvc.NewRollbarLoggerMock(), WithTickSource(newManualTicks().source))
			require.NoError(t, err)
			defer a.Close()

			err = a.Load(context.Background())
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "Load() error = %v, wantErr %v", err, tt.wantErr)
				assert.Equal(t, Loading, a.State().Phase)
				assert.Equal(t, ErrAnswersFrozen, a.RecordAnswer(11, Choice(1)))
				_, err = a.Submit(context.Background())
				assert.Equal(t, ErrNotLoaded, err)
				return
			}
			require.NoError(t, err)
			st := a.State()
			assert.Equal(t, InProgress, st.Phase)
			assert.Equal(t, 3, st.QuestionCount)
			require.NotNil(t, st.Remaining)
			assert.Equal(t, 600, *st.Remaining)

			assert.Equal(t, ErrAlreadyLoaded, a.Load(context.Background()))
		})
	}
}

func TestAttempt_Load_rejectsInvalidQuestions(t *testing.T) {
	backend := newBackend(0)
	backend.questions = []Question{{ID: 1, Text: "?", Kind: MultipleChoice}}

	a, err := NewAttempt(backend, 7, logsvc.NewRollbarLoggerMock())
	require.NoError(t, err)
	defer a.Close()
	assert.Error(t, a.Load(context.Background()))
}

func TestAttempt_SubmitIsIdempotent(t *testing.T) {
	backend := newBackend(0)
	backend.block = make(chan struct{})
	backend.called = make(chan struct{}, 1)
	a := loadAttempt(t, backend, nil)

	var (
		wg     sync.WaitGroup
		result Result
		err    error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, err = a.Submit(context.Background())
	}()
	<-backend.called

	_, err2 := a.Submit(context.Background())
	assert.Equal(t, ErrAlreadySubmitted, err2)
	assert.Equal(t, Submitting, a.State().Phase)

	close(backend.block)
	wg.Wait()
	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.False(t, result.Auto)

	_, err3 := a.Submit(context.Background())
	assert.Equal(t, ErrAlreadySubmitted, err3)
	assert.Equal(t, 1, backend.submissionCount())
}

func TestAttempt_AutoSubmitOnExpiry(t *testing.T) {
	backend := newBackend(1)
	a := loadAttempt(t, backend, nil)
	require.NoError(t, a.RecordAnswer(11, Choice(2)))

	for i := 0; i < 59; i++ {
		a.Tick()
	}
	st := a.State()
	assert.Equal(t, InProgress, st.Phase)
	assert.Equal(t, 1, *st.Remaining)
	assert.Equal(t, 0, backend.submissionCount())

	a.Tick()
	st = a.State()
	assert.Equal(t, Submitted, st.Phase)
	assert.True(t, st.Expired)
	assert.Equal(t, 0, *st.Remaining)

	res := a.Result()
	assert.True(t, res.Auto)
	assert.True(t, res.Delivered)
	assert.Equal(t, "Time expired, quiz auto-submitted.", res.Message())
	assert.Equal(t, 1, backend.submissionCount())

	select {
	case <-a.Done():
	default:
		t.Error("Done() not closed after auto-submission")
	}

	_, err := a.Submit(context.Background())
	assert.Equal(t, ErrAlreadySubmitted, err)
	assert.Equal(t, 1, backend.submissionCount())
}

func TestAttempt_CountdownFloor(t *testing.T) {
	a := loadAttempt(t, newBackend(1), nil)

	for i := 0; i < 75; i++ {
		a.Tick()
		st := a.State()
		require.NotNil(t, st.Remaining)
		require.GreaterOrEqual(t, *st.Remaining, 0)
	}
	assert.Equal(t, 0, *a.State().Remaining)
}

func TestAttempt_CountdownDrivenByTickSource(t *testing.T) {
	backend := newBackend(1)
	ticks := newManualTicks()
	a := loadAttempt(t, backend, ticks)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ticks.started))

	for i := 0; i < 60; i++ {
		ticks.ch <- time.Now()
	}
	require.Eventually(t, func() bool { return a.State().Phase == Submitted }, time.Second, 5*time.Millisecond)
	assert.True(t, a.Result().Auto)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ticks.stopped))
	assert.Equal(t, 1, backend.submissionCount())
}

func TestAttempt_NoTimeLimit(t *testing.T) {
	backend := newBackend(0)
	ticks := newManualTicks()
	a := loadAttempt(t, backend, ticks)

	for i := 0; i < 120; i++ {
		a.Tick()
	}
	st := a.State()
	assert.Nil(t, st.Remaining)
	assert.False(t, st.Expired)
	assert.Equal(t, InProgress, st.Phase)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ticks.started))
	assert.Equal(t, 0, backend.submissionCount())
}

func TestAttempt_RecordAnswer(t *testing.T) {
	tests := []struct {
		name       string
		questionID int
		inputs     []Input
		want       Answer
		wantErr    error
	}{
		{name: "single choice replaces", questionID: 11, inputs: []Input{Choice(1), Choice(2)}, want: SingleChoiceAnswer{OptionID: 2}},
		{name: "multi choice toggles", questionID: 12, inputs: []Input{Choice(1), Choice(3), Choice(1)}, want: MultipleChoiceAnswer{OptionIDs: []int{3}}},
		{name: "multi choice can be emptied", questionID: 12, inputs: []Input{Choice(1), Choice(1)}, want: MultipleChoiceAnswer{OptionIDs: []int{}}},
		{name: "multi choice keeps many", questionID: 12, inputs: []Input{Choice(3), Choice(1)}, want: MultipleChoiceAnswer{OptionIDs: []int{1, 3}}},
		{name: "open ended replaces", questionID: 13, inputs: []Input{Text("a number"), Text("divisible by 1 and itself")}, want: OpenEndedAnswer{Text: "divisible by 1 and itself"}},
		{name: "text on choice question", questionID: 11, inputs: []Input{Text("4")}, wantErr: ErrInputKind},
		{name: "choice on open question", questionID: 13, inputs: []Input{Choice(1)}, wantErr: ErrInputKind},
		{name: "unknown question", questionID: 99, inputs: []Input{Choice(1)}, wantErr: ErrUnknownQuestion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := loadAttempt(t, newBackend(0), nil)
			var err error
			for _, in := range tt.inputs {
				if err = a.RecordAnswer(tt.questionID, in); err != nil {
					break
				}
			}
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				_, ok := a.Answer(tt.questionID)
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			got, ok := a.Answer(tt.questionID)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAttempt_AnswersFrozenAfterSubmit(t *testing.T) {
	a := loadAttempt(t, newBackend(0), nil)
	require.NoError(t, a.RecordAnswer(11, Choice(1)))

	_, err := a.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ErrAnswersFrozen, a.RecordAnswer(11, Choice(2)))
	ans, _ := a.Answer(11)
	assert.Equal(t, SingleChoiceAnswer{OptionID: 1}, ans)
}

func TestAttempt_Navigation(t *testing.T) {
	a := loadAttempt(t, newBackend(0), nil)

	assert.Equal(t, 0, a.Previous())
	assert.Equal(t, 1, a.Next())
	assert.Equal(t, 2, a.Next())
	assert.Equal(t, 2, a.Next())
	q, ok := a.Current()
	require.True(t, ok)
	assert.Equal(t, 13, q.ID)

	require.NoError(t, a.AnswerCurrent(Text("x")))
	assert.Equal(t, 1, a.Previous())
	assert.Len(t, a.State().Answers, 1)
}

func TestAttempt_SubmitResponses(t *testing.T) {
	backend := newBackend(0)
	a := loadAttempt(t, backend, nil)

	require.NoError(t, a.RecordAnswer(13, Text("only two divisors")))
	require.NoError(t, a.RecordAnswer(12, Choice(3)))
	require.NoError(t, a.RecordAnswer(12, Choice(1)))
	require.NoError(t, a.RecordAnswer(11, Choice(2)))

	res, err := a.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Quiz submitted. Your answers have been recorded.", res.Message())

	want := []Response{
		{QuestionID: 11, Answer: 2},
		{QuestionID: 12, Answer: []int{1, 3}},
		{QuestionID: 13, Answer: "only two divisors"},
	}
	assert.Equal(t, want, backend.submissions[0])
}

func TestAttempt_LegacyChoiceQuestionReplaces(t *testing.T) {
	var qs []Question
	require.NoError(t, json.Unmarshal([]byte(`[{"id":5,"text":"Capital of Kenya?","is_open_ended":false,"type":"multiple_choice","options":[
		{"id":1,"text":"Nairobi"},{"id":2,"text":"Mombasa"},{"id":3,"text":"Kisumu"},{"id":4,"text":"Nakuru"}
	]}]`), &qs))

	backend := newBackend(0)
	backend.questions = qs
	a := loadAttempt(t, backend, nil)

	require.NoError(t, a.RecordAnswer(5, Choice(1)))
	require.NoError(t, a.RecordAnswer(5, Choice(2)))
	_, err := a.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Response{{QuestionID: 5, Answer: 2}}, backend.submissions[0])
}

func TestAttempt_ManualSubmitFailureReverts(t *testing.T) {
	backend := newBackend(1)
	backend.submitErrs = []error{errBoom}
	ticks := newManualTicks()
	a := loadAttempt(t, backend, ticks)

	for i := 0; i < 10; i++ {
		a.Tick()
	}
	_, err := a.Submit(context.Background())
	assert.True(t, errors.Is(err, errBoom))

	st := a.State()
	assert.Equal(t, InProgress, st.Phase)
	assert.Equal(t, 50, *st.Remaining)
	assert.Equal(t, int32(2), atomic.LoadInt32(&ticks.started), "countdown not resumed")
	require.NoError(t, a.RecordAnswer(11, Choice(1)))

	res, err := a.Submit(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, 2, backend.submissionCount())
}

func TestAttempt_AutoSubmitFailureSettles(t *testing.T) {
	backend := newBackend(1)
	backend.submitErrs = []error{errBoom}
	a := loadAttempt(t, backend, nil)

	for i := 0; i < 60; i++ {
		a.Tick()
	}
	st := a.State()
	assert.Equal(t, Submitted, st.Phase)
	assert.True(t, st.Expired)

	res := a.Result()
	assert.True(t, res.Auto)
	assert.False(t, res.Delivered)
	assert.Equal(t, errBoom, res.Err)

	_, err := a.Submit(context.Background())
	assert.Equal(t, ErrAlreadySubmitted, err)
	assert.Equal(t, 1, backend.submissionCount())
}

func TestAttempt_Review(t *testing.T) {
	backend := newBackend(0)
	a := loadAttempt(t, backend, nil)

	_, err := a.Review(context.Background())
	assert.Equal(t, ErrReviewUnavailable, err)

	_, err = a.Submit(context.Background())
	require.NoError(t, err)
	review, err := a.Review(context.Background())
	require.NoError(t, err)
	assert.Equal(t, backend.review, review)

	hidden := newBackend(0)
	hidden.quiz.ShowAnswersOnCompletion = false
	b := loadAttempt(t, hidden, nil)
	_, err = b.Submit(context.Background())
	require.NoError(t, err)
	_, err = b.Review(context.Background())
	assert.Equal(t, ErrReviewUnavailable, err)
}

func TestAttempt_Close(t *testing.T) {
	backend := newBackend(1)
	ticks := newManualTicks()
	a := loadAttempt(t, backend, ticks)

	a.Close()
	a.Close()
	assert.Equal(t, int32(1), atomic.LoadInt32(&ticks.stopped))

	select {
	case ticks.ch <- time.Now():
		t.Error("countdown still running after Close()")
	case <-time.After(20 * time.Millisecond):
	}
	_, err := a.Submit(context.Background())
	assert.Equal(t, ErrClosed, err)
	assert.Equal(t, 0, backend.submissionCount())
}

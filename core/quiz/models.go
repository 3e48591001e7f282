package quiz

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-client/core"
)

// Kind is the answer shape a Question accepts.
type Kind int

const (
	SingleChoice Kind = iota + 1
	MultipleChoice
	OpenEnded
)

// wire values of Question.type
const (
	typeSingleChoice   = "single_choice"
	typeMultipleChoice = "multiple_choice"
	typeOpenEnded      = "open_ended"
)

func (k Kind) String() string {
	switch k {
	case SingleChoice:
		return typeSingleChoice
	case MultipleChoice:
		return typeMultipleChoice
	case OpenEnded:
		return typeOpenEnded
	default:
		return "unknown"
	}
}

func (k Kind) IsChoice() bool {
	return k == SingleChoice || k == MultipleChoice
}

type Quiz struct {
	ID                      int    `json:"id"`
	Title                   string `json:"title"`
	Description             string `json:"description"`
	CourseID                int    `json:"course"`
	TimeLimitMinutes        int    `json:"time_limit_in_minutes" validate:"min=0"`
	RandomizeQuestionOrder  bool   `json:"randomize_question_order"`
	ShowAnswersOnCompletion bool   `json:"show_correct_answers_on_completion"`
}

// IsTimed reports whether attempts of the quiz run a countdown.
func (q Quiz) IsTimed() bool {
	return q.TimeLimitMinutes > 0
}

type Option struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

type Question struct {
	ID      int      `json:"id"`
	Text    string   `json:"text"`
	Kind    Kind     `json:"-"`
	Options []Option `json:"options,omitempty"`
}

type questionJSON struct {
	ID               int      `json:"id"`
	Text             string   `json:"text"`
	IsOpenEnded      bool     `json:"is_open_ended"`
	IsMultipleChoice *bool    `json:"is_multiple_choice,omitempty"`
	Type             string   `json:"type"`
	Options          []Option `json:"options,omitempty"`
}

func (q Question) MarshalJSON() ([]byte, error) {
	raw := questionJSON{
		ID:          q.ID,
		Text:        q.Text,
		IsOpenEnded: q.Kind == OpenEnded,
		Type:        q.Kind.String(),
		Options:     q.Options,
	}
	if q.Kind == MultipleChoice {
		multi := true
		raw.IsMultipleChoice = &multi
	}
	return json.Marshal(raw)
}

// UnmarshalJSON accepts the legacy shape too: `multiple_choice` is a single choice question
// unless `is_multiple_choice` is explicitly true.
func (q *Question) UnmarshalJSON(data []byte) error {
	var raw questionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	q.ID = raw.ID
	q.Text = raw.Text
	q.Options = raw.Options

	switch raw.Type {
	case typeSingleChoice:
		q.Kind = SingleChoice
	case typeMultipleChoice:
		q.Kind = SingleChoice
		if raw.IsMultipleChoice != nil && *raw.IsMultipleChoice {
			q.Kind = MultipleChoice
		}
	case typeOpenEnded:
		q.Kind = OpenEnded
	case "":
		if raw.IsOpenEnded {
			q.Kind = OpenEnded
		}
	}
	return nil
}

// Validate checks a Question received from the server.
func (q Question) Validate() error {
	switch {
	case q.Kind == 0:
		return core.NewValidationError(errors.Errorf("question %d: unknown type", q.ID))
	case q.Kind.IsChoice() && len(q.Options) == 0:
		return core.NewValidationError(errors.Errorf("question %d: choice question without options", q.ID))
	}
	return nil
}

// Response is one submitted answer as sent over the wire.
type Response struct {
	QuestionID int         `json:"question_id"`
	Answer     interface{} `json:"answer"` // int | []int | string
}

type ReviewResponse struct {
	QuestionID int  `json:"question_id"`
	IsCorrect  bool `json:"is_correct"`
}

// Review is the post-submission correctness report of a Quiz.
type Review struct {
	QuizTitle      string           `json:"quiz_title"`
	Score          float64          `json:"score"`
	TotalQuestions int              `json:"total_questions"`
	Responses      []ReviewResponse `json:"responses"`
}

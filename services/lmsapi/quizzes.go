package lmsapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/trezcool/masomo-client/core/quiz"
)

var _ quiz.Backend = (*Client)(nil)

// ListQuizzes lists the quizzes visible to the user, of a single course when courseID > 0.
func (c *Client) ListQuizzes(ctx context.Context, courseID int) ([]quiz.Quiz, error) {
	var q url.Values
	if courseID > 0 {
		q = url.Values{"course_id": {strconv.Itoa(courseID)}}
	}
	var quizzes []quiz.Quiz
	err := c.do(ctx, http.MethodGet, "/api/quizzes/", q, nil, &quizzes)
	return quizzes, err
}

func (c *Client) GetQuiz(ctx context.Context, quizID int) (quiz.Quiz, error) {
	var qz quiz.Quiz
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/quizzes/%d/", quizID), nil, nil, &qz)
	return qz, err
}

func (c *Client) GetQuestions(ctx context.Context, quizID int) ([]quiz.Question, error) {
	var qs []quiz.Question
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/quizzes/%d/questions/", quizID), nil, nil, &qs)
	return qs, err
}

func (c *Client) SubmitResponses(ctx context.Context, quizID int, responses []quiz.Response) error {
	body := struct {
		Responses []quiz.Response `json:"responses"`
	}{responses}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/quizzes/%d/submit/", quizID), nil, body, nil)
}

func (c *Client) GetReview(ctx context.Context, quizID int) (quiz.Review, error) {
	var review quiz.Review
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/quizzes/%d/review/", quizID), nil, nil, &review)
	return review, err
}

package echoapi

import (
	"math/rand"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-client/core/quiz"
)

type quizApi struct {
	srv *Server
}

func registerQuizAPI(g *echo.Group, jwt echo.MiddlewareFunc, srv *Server) {
	api := quizApi{srv: srv}

	qg := g.Group("/quizzes", jwt, srv.accessMiddleware)
	qg.GET("/", api.query)

	// detail endpoints
	dg := qg.Group("/:id", api.quizMiddleware)
	dg.GET("/", api.retrieve)
	dg.GET("/questions/", api.questions)
	dg.POST("/submit/", api.submit)
	dg.GET("/review/", api.review)
}

// quizMiddleware loads the quiz of the :id param, if visible to the caller, into the context.
func (api *quizApi) quizMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id, err := strconv.Atoi(ctx.Param("id"))
		if err != nil {
			return errHttpNotFound
		}
		claims, err := getContextClaims(ctx)
		if err != nil {
			return err
		}
		qr, err := api.srv.data.quiz(claims.UserID, id)
		if err != nil {
			return errHttpNotFound
		}
		ctx.Set("object", qr)
		ctx.Set("userID", claims.UserID)
		return next(ctx)
	}
}

func contextQuiz(ctx echo.Context) (*quizRecord, int, error) {
	qr, ok := ctx.Get("object").(*quizRecord)
	userID, _ := ctx.Get("userID").(int)
	if !ok {
		return nil, 0, errors.New("quiz not found in echo.Context")
	}
	return qr, userID, nil
}

func (api *quizApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var courseID int
	if raw := ctx.QueryParam("course_id"); raw != "" {
		if courseID, err = strconv.Atoi(raw); err != nil {
			return ctx.JSON(http.StatusOK, []quiz.Quiz{})
		}
	}
	return ctx.JSON(http.StatusOK, api.srv.data.visibleQuizzes(claims.UserID, courseID))
}

func (api *quizApi) retrieve(ctx echo.Context) error {
	qr, _, err := contextQuiz(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, qr.Quiz)
}

// legacyQuestion is the choice question shape of older servers: no `is_multiple_choice`, single choice only.
type legacyQuestion struct {
	ID          int           `json:"id"`
	Text        string        `json:"text"`
	IsOpenEnded bool          `json:"is_open_ended"`
	Type        string        `json:"type"`
	Options     []quiz.Option `json:"options"`
}

func (api *quizApi) questions(ctx echo.Context) error {
	qr, _, err := contextQuiz(ctx)
	if err != nil {
		return err
	}

	out := make([]interface{}, 0, len(qr.questions))
	for _, q := range qr.questions {
		if q.legacy {
			out = append(out, legacyQuestion{
				ID:      q.ID,
				Text:    q.Text,
				Type:    quiz.MultipleChoice.String(),
				Options: q.Options,
			})
			continue
		}
		out = append(out, q.Question)
	}
	if qr.RandomizeQuestionOrder {
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return ctx.JSON(http.StatusOK, out)
}

type SubmitRequest struct {
	Responses []quiz.Response `json:"responses"`
}

func (api *quizApi) submit(ctx echo.Context) error {
	qr, userID, err := contextQuiz(ctx)
	if err != nil {
		return err
	}
	var data SubmitRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubmitRequest")
	}

	if !api.srv.acceptSubmission(qr.ID) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Submission failed, please try again.")
	}
	api.srv.data.submit(userID, qr.ID, data.Responses)
	return ctx.JSON(http.StatusOK, echo.Map{"status": "submitted"})
}

func (api *quizApi) review(ctx echo.Context) error {
	qr, userID, err := contextQuiz(ctx)
	if err != nil {
		return err
	}
	sub, ok := api.srv.data.submission(userID, qr.ID)
	if !ok || !qr.ShowAnswersOnCompletion {
		return errHttpForbidden
	}
	return ctx.JSON(http.StatusOK, grade(qr, sub))
}

package echoapi

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/masomo-client/core/quiz"
	"github.com/trezcool/masomo-client/core/user"
)

var (
	errNotFound    = errors.New("not found")
	errEmailExists = errors.New("user with this email already exists.")
)

type (
	account struct {
		profile        user.Profile
		passwordHash   []byte
		active         bool
		validationCode string
		courses        []int // enrolled in, or teaching
	}

	questionRecord struct {
		quiz.Question
		correct []int // option ids
		legacy  bool  // single choice served as bare multiple_choice
	}

	quizRecord struct {
		quiz.Quiz
		questions []questionRecord
	}

	submission struct {
		responses []quiz.Response
	}

	// db holds the in-memory state of the fake backend.
	db struct {
		sync.RWMutex
		pkCount     int
		accounts    map[int]*account
		quizzes     map[int]*quizRecord
		submissions map[[2]int]submission // (user id, quiz id)
	}
)

func newDB() *db {
	return &db{
		accounts:    make(map[int]*account),
		quizzes:     make(map[int]*quizRecord),
		submissions: make(map[[2]int]submission),
	}
}

func hashPassword(pwd string) ([]byte, error) {
	// min cost keeps the fake fast
	return bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.MinCost)
}

func (d *db) createAccount(nu user.NewUser, active bool) (account, error) {
	hash, err := hashPassword(nu.Password)
	if err != nil {
		return account{}, errors.Wrap(err, "hashing password")
	}

	d.Lock()
	defer d.Unlock()
	for _, acc := range d.accounts {
		if acc.profile.Email == nu.Email {
			return account{}, errEmailExists
		}
	}
	d.pkCount++
	acc := &account{
		profile: user.Profile{
			ID:        d.pkCount,
			Email:     nu.Email,
			Name:      nu.Name,
			Surname:   nu.Surname,
			IsTeacher: nu.IsTeacher,
		},
		passwordHash: hash,
		active:       active,
	}
	d.accounts[acc.profile.ID] = acc
	return *acc, nil
}

// accountByEmail returns a copy of the account registered with email.
func (d *db) accountByEmail(email string) (account, error) {
	d.RLock()
	defer d.RUnlock()
	for _, acc := range d.accounts {
		if acc.profile.Email == strings.ToLower(email) {
			return *acc, nil
		}
	}
	return account{}, errNotFound
}

func (d *db) account(id int) (account, error) {
	d.RLock()
	defer d.RUnlock()
	acc, ok := d.accounts[id]
	if !ok {
		return account{}, errNotFound
	}
	return *acc, nil
}

func (d *db) setValidationCode(id int, code string) {
	d.Lock()
	defer d.Unlock()
	if acc, ok := d.accounts[id]; ok {
		acc.validationCode = code
	}
}

// activate checks the validation code of the account and activates it.
func (d *db) activate(email, code string) (bool, error) {
	d.Lock()
	defer d.Unlock()
	for _, acc := range d.accounts {
		if acc.profile.Email != strings.ToLower(email) {
			continue
		}
		if acc.validationCode == "" || acc.validationCode != code {
			return false, nil
		}
		acc.active = true
		acc.validationCode = ""
		return true, nil
	}
	return false, errNotFound
}

func (d *db) enroll(userID int, courseIDs ...int) {
	d.Lock()
	defer d.Unlock()
	if acc, ok := d.accounts[userID]; ok {
		acc.courses = append(acc.courses, courseIDs...)
	}
}

func (d *db) addQuiz(qr *quizRecord) {
	d.Lock()
	defer d.Unlock()
	d.quizzes[qr.ID] = qr
}

// visibleQuizzes lists the quizzes of the courses the user takes or teaches; staff see them all.
func (d *db) visibleQuizzes(userID, courseID int) []quiz.Quiz {
	d.RLock()
	defer d.RUnlock()

	acc, ok := d.accounts[userID]
	if !ok {
		return nil
	}
	courses := make(map[int]bool, len(acc.courses))
	for _, c := range acc.courses {
		courses[c] = true
	}

	quizzes := make([]quiz.Quiz, 0, len(d.quizzes))
	for _, qr := range d.quizzes {
		if !(acc.profile.IsStaff || courses[qr.CourseID]) {
			continue
		}
		if courseID > 0 && qr.CourseID != courseID {
			continue
		}
		quizzes = append(quizzes, qr.Quiz)
	}
	sort.Slice(quizzes, func(i, j int) bool { return quizzes[i].ID < quizzes[j].ID })
	return quizzes
}

func (d *db) quiz(userID, quizID int) (*quizRecord, error) {
	d.RLock()
	defer d.RUnlock()

	qr, ok := d.quizzes[quizID]
	acc, accOK := d.accounts[userID]
	if !ok || !accOK {
		return nil, errNotFound
	}
	if acc.profile.IsStaff {
		return qr, nil
	}
	for _, c := range acc.courses {
		if c == qr.CourseID {
			return qr, nil
		}
	}
	return nil, errNotFound
}

func (d *db) submit(userID, quizID int, responses []quiz.Response) {
	d.Lock()
	defer d.Unlock()
	d.submissions[[2]int{userID, quizID}] = submission{responses: responses}
}

func (d *db) submission(userID, quizID int) (submission, bool) {
	d.RLock()
	defer d.RUnlock()
	sub, ok := d.submissions[[2]int{userID, quizID}]
	return sub, ok
}

// grade marks each response of sub against the answer key of qr. Open answers are never auto-graded correct.
func grade(qr *quizRecord, sub submission) quiz.Review {
	keys := make(map[int]questionRecord, len(qr.questions))
	for _, q := range qr.questions {
		keys[q.ID] = q
	}

	review := quiz.Review{
		QuizTitle:      qr.Title,
		TotalQuestions: len(qr.questions),
		Responses:      make([]quiz.ReviewResponse, 0, len(sub.responses)),
	}
	var correct int
	for _, resp := range sub.responses {
		q, ok := keys[resp.QuestionID]
		if !ok {
			continue
		}
		ok = isCorrect(q, resp.Answer)
		if ok {
			correct++
		}
		review.Responses = append(review.Responses, quiz.ReviewResponse{QuestionID: q.ID, IsCorrect: ok})
	}
	if review.TotalQuestions > 0 {
		review.Score = math.Round(float64(correct)/float64(review.TotalQuestions)*10000) / 100
	}
	return review
}

// isCorrect compares a decoded JSON answer (float64 | []interface{} | string) to the answer key.
func isCorrect(q questionRecord, answer interface{}) bool {
	switch q.Kind {
	case quiz.SingleChoice:
		id, ok := answer.(float64)
		return ok && len(q.correct) == 1 && int(id) == q.correct[0]
	case quiz.MultipleChoice:
		list, ok := answer.([]interface{})
		if !ok || len(list) != len(q.correct) {
			return false
		}
		got := make([]int, 0, len(list))
		for _, v := range list {
			id, ok := v.(float64)
			if !ok {
				return false
			}
			got = append(got, int(id))
		}
		sort.Ints(got)
		want := append([]int(nil), q.correct...)
		sort.Ints(want)
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

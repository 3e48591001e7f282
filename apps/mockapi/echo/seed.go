package echoapi

import (
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-client/core/quiz"
	"github.com/trezcool/masomo-client/core/user"
)

// demo accounts
const (
	DemoStudentEmail = "student@masomo.local"
	DemoTeacherEmail = "teacher@masomo.local"
	DemoStaffEmail   = "staff@masomo.local"
	DemoPassword     = "M4somo#Demo"
)

// demo quizzes
const (
	DemoTimedQuizID    = 1
	DemoUntimedQuizID  = 2
	DemoHiddenQuizID   = 3
	DemoOtherCourseQID = 4
)

func (s *Server) seed() error {
	student, err := s.data.createAccount(user.NewUser{
		Name: "Amani", Surname: "Kabila", Email: DemoStudentEmail, Password: DemoPassword,
	}, true)
	if err != nil {
		return errors.Wrap(err, "seeding student")
	}
	teacher, err := s.data.createAccount(user.NewUser{
		Name: "Neema", Surname: "Mbuyi", Email: DemoTeacherEmail, Password: DemoPassword, IsTeacher: true,
	}, true)
	if err != nil {
		return errors.Wrap(err, "seeding teacher")
	}
	staff, err := s.data.createAccount(user.NewUser{
		Name: "Baraka", Surname: "Ilunga", Email: DemoStaffEmail, Password: DemoPassword,
	}, true)
	if err != nil {
		return errors.Wrap(err, "seeding staff")
	}
	s.data.Lock()
	s.data.accounts[staff.profile.ID].profile.IsStaff = true
	s.data.Unlock()

	s.data.enroll(student.profile.ID, 1)
	s.data.enroll(teacher.profile.ID, 1, 2)

	for _, qr := range demoQuizzes() {
		s.data.addQuiz(qr)
	}
	return nil
}

func demoQuizzes() []*quizRecord {
	return []*quizRecord{
		{
			Quiz: quiz.Quiz{
				ID:                      DemoTimedQuizID,
				Title:                   "Arithmetic basics",
				Description:             "Warm up before the mid-term.",
				CourseID:                1,
				TimeLimitMinutes:        2,
				ShowAnswersOnCompletion: true,
			},
			questions: []questionRecord{
				{
					Question: quiz.Question{ID: 101, Text: "7 x 8 = ?", Kind: quiz.SingleChoice, Options: []quiz.Option{
						{ID: 1, Text: "54"}, {ID: 2, Text: "56"}, {ID: 3, Text: "58"},
					}},
					correct: []int{2},
				},
				{
					Question: quiz.Question{ID: 102, Text: "Which numbers are even?", Kind: quiz.MultipleChoice, Options: []quiz.Option{
						{ID: 4, Text: "12"}, {ID: 5, Text: "15"}, {ID: 6, Text: "20"}, {ID: 7, Text: "27"},
					}},
					correct: []int{4, 6},
				},
				{
					Question: quiz.Question{ID: 103, Text: "What is 10 / 4 ?", Kind: quiz.SingleChoice, Options: []quiz.Option{
						{ID: 8, Text: "2"}, {ID: 9, Text: "2.5"}, {ID: 10, Text: "3"},
					}},
					correct: []int{9},
					legacy:  true,
				},
				{
					Question: quiz.Question{ID: 104, Text: "Explain how you would check a division.", Kind: quiz.OpenEnded},
				},
			},
		},
		{
			Quiz: quiz.Quiz{
				ID:                      DemoUntimedQuizID,
				Title:                   "Capitals of Africa",
				CourseID:                1,
				RandomizeQuestionOrder:  true,
				ShowAnswersOnCompletion: true,
			},
			questions: []questionRecord{
				{
					Question: quiz.Question{ID: 201, Text: "Capital of the DR Congo?", Kind: quiz.SingleChoice, Options: []quiz.Option{
						{ID: 11, Text: "Lubumbashi"}, {ID: 12, Text: "Kinshasa"}, {ID: 13, Text: "Goma"},
					}},
					correct: []int{12},
				},
				{
					Question: quiz.Question{ID: 202, Text: "Capital of Tanzania?", Kind: quiz.SingleChoice, Options: []quiz.Option{
						{ID: 14, Text: "Dodoma"}, {ID: 15, Text: "Dar es Salaam"}, {ID: 16, Text: "Arusha"},
					}},
					correct: []int{14},
				},
			},
		},
		{
			Quiz: quiz.Quiz{
				ID:               DemoHiddenQuizID,
				Title:            "Reading comprehension",
				CourseID:         1,
				TimeLimitMinutes: 10,
			},
			questions: []questionRecord{
				{Question: quiz.Question{ID: 301, Text: "Summarise the text in two sentences.", Kind: quiz.OpenEnded}},
			},
		},
		{
			Quiz: quiz.Quiz{
				ID:       DemoOtherCourseQID,
				Title:    "Cell biology",
				CourseID: 2,
			},
			questions: []questionRecord{
				{
					Question: quiz.Question{ID: 401, Text: "Where is DNA stored?", Kind: quiz.SingleChoice, Options: []quiz.Option{
						{ID: 17, Text: "Nucleus"}, {ID: 18, Text: "Membrane"},
					}},
					correct: []int{17},
				},
			},
		},
	}
}

package quiz

import "sort"

// Input is a value entered by the student for a question.
type Input interface {
	isInput()
}

// Choice selects an option by id.
type Choice int

// Text is a free text answer.
type Text string

func (Choice) isInput() {}
func (Text) isInput()   {}

// Answer is the accumulated answer of one question; its concrete type is fixed by the question Kind.
type Answer interface {
	Kind() Kind
	// Value returns the wire shape of the answer: int, []int or string.
	Value() interface{}
}

type SingleChoiceAnswer struct {
	OptionID int
}

func (SingleChoiceAnswer) Kind() Kind           { return SingleChoice }
func (a SingleChoiceAnswer) Value() interface{} { return a.OptionID }

// MultipleChoiceAnswer is a set of selected options, kept sorted.
type MultipleChoiceAnswer struct {
	OptionIDs []int
}

func (MultipleChoiceAnswer) Kind() Kind { return MultipleChoice }

func (a MultipleChoiceAnswer) Value() interface{} {
	ids := make([]int, len(a.OptionIDs))
	copy(ids, a.OptionIDs)
	return ids
}

func (a MultipleChoiceAnswer) Has(optionID int) bool {
	i := sort.SearchInts(a.OptionIDs, optionID)
	return i < len(a.OptionIDs) && a.OptionIDs[i] == optionID
}

// Toggle returns a copy of the set with optionID added, or removed if already selected.
func (a MultipleChoiceAnswer) Toggle(optionID int) MultipleChoiceAnswer {
	ids := make([]int, 0, len(a.OptionIDs)+1)
	var found bool
	for _, id := range a.OptionIDs {
		if id == optionID {
			found = true
			continue
		}
		ids = append(ids, id)
	}
	if !found {
		ids = append(ids, optionID)
		sort.Ints(ids)
	}
	return MultipleChoiceAnswer{OptionIDs: ids}
}

type OpenEndedAnswer struct {
	Text string
}

func (OpenEndedAnswer) Kind() Kind           { return OpenEnded }
func (a OpenEndedAnswer) Value() interface{} { return a.Text }

// apply folds an input into the previous answer of a question of the given kind.
func apply(kind Kind, prev Answer, in Input) (Answer, error) {
	switch kind {
	case SingleChoice:
		if c, ok := in.(Choice); ok {
			return SingleChoiceAnswer{OptionID: int(c)}, nil
		}
	case MultipleChoice:
		if c, ok := in.(Choice); ok {
			set, _ := prev.(MultipleChoiceAnswer)
			return set.Toggle(int(c)), nil
		}
	case OpenEnded:
		if t, ok := in.(Text); ok {
			return OpenEndedAnswer{Text: string(t)}, nil
		}
	}
	return nil, ErrInputKind
}

package domain

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// checkStruct runs tag validation and converts the first failure into a ValidationError.
func checkStruct(v any) error {
	err := structValidator.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		constraint := fe.Tag()
		if fe.Param() != "" {
			constraint += "=" + fe.Param()
		}
		return Invalid(fe.Namespace(), "%s", constraint)
	}
	return Invalid("", "%v", err)
}

// CompilePattern compiles an answer pattern for case-insensitive matching.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

// Validate checks the content-authoring invariants. It is meant to run once
// when a quiz is loaded; scoring assumes a validated quiz.
func (q Quiz) Validate() error {
	if err := checkStruct(q); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(q.Questions))
	for i, question := range q.Questions {
		if _, dup := seen[question.ID]; dup {
			return Invalid("Quiz.Questions", "duplicate question id %q", question.ID)
		}
		seen[question.ID] = struct{}{}
		if err := question.validate(); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) && !strings.HasPrefix(ve.Field, "Quiz.") {
				ve.Field = "Quiz.Questions[" + strconv.Itoa(i) + "]." + ve.Field
			}
			return err
		}
	}
	return nil
}

func (q Question) validate() error {
	switch {
	case q.Type.IsChoiceBased():
		if len(q.Choices) == 0 {
			return Invalid("Choices", "%s question %q needs at least one choice", q.Type, q.ID)
		}
		ids := make(map[string]struct{}, len(q.Choices))
		for _, c := range q.Choices {
			if _, dup := ids[c.ID]; dup {
				return Invalid("Choices", "duplicate choice id %q", c.ID)
			}
			ids[c.ID] = struct{}{}
		}
		if q.Sealed() {
			return nil
		}
		correct := len(q.CorrectChoiceIDs())
		if correct == 0 {
			return Invalid("Choices", "question %q has no correct choice", q.ID)
		}
		if q.Type != QuestionMultiple && correct != 1 {
			return Invalid("Choices", "%s question %q needs exactly one correct choice, has %d", q.Type, q.ID, correct)
		}
	case q.Type.IsPatternBased():
		if q.Sealed() {
			return nil
		}
		if strings.TrimSpace(q.Pattern) == "" {
			return Invalid("Pattern", "%s question %q needs a pattern", q.Type, q.ID)
		}
		if _, err := CompilePattern(q.Pattern); err != nil {
			return Invalid("Pattern", "question %q: %v", q.ID, err)
		}
	default:
		return Invalid("Type", "unknown question type %q", q.Type)
	}
	return nil
}

// ValidateShape checks the submission fields that do not depend on quiz content.
func (s Submission) ValidateShape() error {
	return checkStruct(s)
}

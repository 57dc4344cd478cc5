package codec

import (
	"fmt"

	"quiz-engine/internal/domain"
)

// Seal returns a copy of quiz in which every correct answer lives only in
// Question.AnswerKey: choice flags are cleared and patterns removed.
// Questions that are already sealed are kept as they are.
func (c *Codec) Seal(quiz domain.Quiz) (domain.Quiz, error) {
	sealed := quiz
	sealed.Questions = make([]domain.Question, len(quiz.Questions))
	for i, q := range quiz.Questions {
		if q.Sealed() {
			sealed.Questions[i] = cloneQuestion(q)
			continue
		}
		var answer domain.Answer
		if q.Type.IsChoiceBased() {
			answer = domain.MultiAnswer(q.CorrectChoiceIDs()...)
		} else {
			answer = domain.SingleAnswer(q.Pattern)
		}
		token, err := c.Encode(answer, q.ID)
		if err != nil {
			return domain.Quiz{}, fmt.Errorf("seal question %s: %w", q.ID, err)
		}
		out := cloneQuestion(q)
		for j := range out.Choices {
			out.Choices[j].Correct = false
		}
		out.Pattern = ""
		out.AnswerKey = token
		sealed.Questions[i] = out
	}
	return sealed, nil
}

// Unseal restores plaintext answers from AnswerKey. Questions whose key does
// not decode stay sealed and their ids are returned; the scoring engine then
// awards them zero credit instead of failing the whole quiz.
func (c *Codec) Unseal(quiz domain.Quiz) (domain.Quiz, []string) {
	var broken []string
	out := quiz
	out.Questions = make([]domain.Question, len(quiz.Questions))
	for i, q := range quiz.Questions {
		if !q.Sealed() {
			out.Questions[i] = cloneQuestion(q)
			continue
		}
		plain, err := c.Open(q)
		if err != nil {
			broken = append(broken, q.ID)
			out.Questions[i] = cloneQuestion(q)
			continue
		}
		out.Questions[i] = plain
	}
	return out, broken
}

// Open decodes the AnswerKey of a single sealed question into its plaintext form.
func (c *Codec) Open(q domain.Question) (domain.Question, error) {
	answer, err := c.Decode(q.AnswerKey, q.ID)
	if err != nil {
		return domain.Question{}, err
	}
	out := cloneQuestion(q)
	out.AnswerKey = ""
	if q.Type.IsChoiceBased() {
		correct := make(map[string]struct{}, len(answer.Values))
		for _, id := range answer.Values {
			correct[id] = struct{}{}
		}
		for j := range out.Choices {
			_, ok := correct[out.Choices[j].ID]
			out.Choices[j].Correct = ok
		}
		return out, nil
	}
	out.Pattern = answer.Text()
	return out, nil
}

func cloneQuestion(q domain.Question) domain.Question {
	out := q
	if q.Choices != nil {
		out.Choices = make([]domain.Choice, len(q.Choices))
		copy(out.Choices, q.Choices)
	}
	return out
}

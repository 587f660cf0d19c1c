package model

import (
	"github.com/google/uuid"
)

type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "SINGLE_CHOICE"
	QuestionTypeMultiChoice  QuestionType = "MULTI_CHOICE"
	QuestionTypeEssay        QuestionType = "ESSAY"
)

// Option is one answer choice. Key is the authored slot ("A".."E");
// blank Text marks an unused trailing slot that must not be shuffled.
type Option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Question is the authored question as loaded from the exam payload.
type Question struct {
	ID           uuid.UUID    `json:"id"`
	QuestionText string       `json:"question_text"`
	QuestionType QuestionType `json:"question_type"`
	Options      []Option     `json:"options"`
	CorrectKeys  []string     `json:"correct_keys"`
	OrderNum     int          `json:"order_num"`

	// Post-submission policy flags, read-only inputs to the answer
	// lifecycle.
	AllowUpdateAfterSubmit bool `json:"allow_update_after_submit"`
	AllowSeeAfterSubmit    bool `json:"allow_see_after_submit"`
}

// RenderedQuestion is a question after per-student shuffling. OptionOrder
// maps each displayed position key back to the authored option key, and
// CorrectKeys has been rewritten into displayed space. It stays server-side;
// students receive StudentView.
type RenderedQuestion struct {
	Question
	DisplayOptions []Option          `json:"display_options"`
	OptionOrder    map[string]string `json:"option_order"`
}

// QuestionForStudent is the shape pushed to the browser shell: shuffled
// options, no correct keys.
type QuestionForStudent struct {
	ID                     uuid.UUID    `json:"id"`
	QuestionText           string       `json:"question_text"`
	QuestionType           QuestionType `json:"question_type"`
	Options                []Option     `json:"options"`
	AllowUpdateAfterSubmit bool         `json:"allow_update_after_submit"`
	AllowSeeAfterSubmit    bool         `json:"allow_see_after_submit"`
}

// StudentView strips the rendered question down to what the client may see.
func (q *RenderedQuestion) StudentView() QuestionForStudent {
	return QuestionForStudent{
		ID:                     q.ID,
		QuestionText:           q.QuestionText,
		QuestionType:           q.QuestionType,
		Options:                q.DisplayOptions,
		AllowUpdateAfterSubmit: q.AllowUpdateAfterSubmit,
		AllowSeeAfterSubmit:    q.AllowSeeAfterSubmit,
	}
}

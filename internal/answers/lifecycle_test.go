package answers

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aksara-lms/proctor-backend/internal/model"
)

func testQuestions() []model.Question {
	return []model.Question{
		{ID: uuid.New(), QuestionType: model.QuestionTypeSingleChoice},
		{ID: uuid.New(), QuestionType: model.QuestionTypeMultiChoice},
		{ID: uuid.New(), QuestionType: model.QuestionTypeEssay, AllowUpdateAfterSubmit: true},
	}
}

func TestEditAndSaveLifecycle(t *testing.T) {
	qs := testQuestions()
	m := NewManager(qs, zerolog.Nop())

	st, err := m.Edit(qs[0].ID, "B")
	if err != nil {
		t.Fatal(err)
	}
	if st.CurrentValue != "B" || st.Submitted {
		t.Fatalf("after edit: %+v", st)
	}

	st, err = m.Save(qs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Submitted || st.LastSubmittedValue != "B" {
		t.Fatalf("after save: %+v", st)
	}
	if st.Dirty() {
		t.Fatal("freshly saved answer must be clean")
	}
}

func TestSavedAnswerLockedUnlessPolicyAllows(t *testing.T) {
	qs := testQuestions()
	m := NewManager(qs, zerolog.Nop())

	m.Edit(qs[0].ID, "A")
	m.Save(qs[0].ID)
	if _, err := m.Edit(qs[0].ID, "C"); err != ErrReadOnly {
		t.Fatalf("locked question edit: err = %v, want ErrReadOnly", err)
	}
	if _, err := m.Save(qs[0].ID); err != ErrReadOnly {
		t.Fatalf("locked question resave: err = %v, want ErrReadOnly", err)
	}

	// The essay allows updates after save.
	m.Edit(qs[2].ID, "draft one")
	m.Save(qs[2].ID)
	if _, err := m.Edit(qs[2].ID, "draft two"); err != nil {
		t.Fatalf("policy allows update, got %v", err)
	}
	st, err := m.Save(qs[2].ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.LastSubmittedValue != "draft two" {
		t.Fatalf("resave value = %q", st.LastSubmittedValue)
	}
}

func TestToggleChoiceCanonicalForm(t *testing.T) {
	qs := testQuestions()
	m := NewManager(qs, zerolog.Nop())
	id := qs[1].ID

	for _, key := range []string{"C", "A", "E"} {
		if _, err := m.ToggleChoice(id, key); err != nil {
			t.Fatal(err)
		}
	}
	st, _ := m.State(id)
	if st.CurrentValue != "A,C,E" {
		t.Fatalf("value = %q, want sorted A,C,E", st.CurrentValue)
	}

	// Toggling an existing key removes it.
	m.ToggleChoice(id, "C")
	st, _ = m.State(id)
	if st.CurrentValue != "A,E" {
		t.Fatalf("value after removal = %q, want A,E", st.CurrentValue)
	}

	// Toggling the rest empties the value.
	m.ToggleChoice(id, "A")
	m.ToggleChoice(id, "E")
	st, _ = m.State(id)
	if st.CurrentValue != "" {
		t.Fatalf("value after clearing = %q, want empty", st.CurrentValue)
	}
}

func TestNavigateAwayRevertsDirtySavedAnswer(t *testing.T) {
	qs := testQuestions()
	m := NewManager(qs, zerolog.Nop())
	id := qs[2].ID

	m.Edit(id, "first")
	m.Save(id)
	m.Edit(id, "second, unsaved")

	if !m.NavigateAway(id) {
		t.Fatal("expected a revert")
	}
	st, _ := m.State(id)
	if st.CurrentValue != "first" {
		t.Fatalf("value = %q, want reverted to first", st.CurrentValue)
	}

	// A never-saved draft survives navigation; only the autosave or an
	// explicit save decides its fate.
	m.Edit(qs[0].ID, "B")
	if m.NavigateAway(qs[0].ID) {
		t.Fatal("unsaved draft must not revert")
	}
	st, _ = m.State(qs[0].ID)
	if st.CurrentValue != "B" {
		t.Fatalf("draft lost: %q", st.CurrentValue)
	}
}

func TestDraftsOnlyIncludeUnsavedNonEmpty(t *testing.T) {
	qs := testQuestions()
	m := NewManager(qs, zerolog.Nop())

	m.Edit(qs[0].ID, "A")
	m.Save(qs[0].ID)

	m.Edit(qs[2].ID, "essay in progress")

	drafts := m.Drafts()
	if len(drafts) != 1 {
		t.Fatalf("drafts = %d, want 1", len(drafts))
	}
	if drafts[0].QuestionID != qs[2].ID || drafts[0].Submitted {
		t.Fatalf("wrong draft: %+v", drafts[0])
	}
}

func TestRestoreRebuildsStateAndSkipsUnknown(t *testing.T) {
	qs := testQuestions()
	m := NewManager(qs, zerolog.Nop())

	m.Restore([]model.AnswerState{
		{QuestionID: qs[0].ID, CurrentValue: "D", LastSubmittedValue: "D", Submitted: true},
		{QuestionID: uuid.New(), CurrentValue: "ghost", Submitted: true},
	})

	st, _ := m.State(qs[0].ID)
	if !st.Submitted || st.LastSubmittedValue != "D" {
		t.Fatalf("restored state: %+v", st)
	}
	if m.AnsweredCount() != 1 {
		t.Fatalf("answered count = %d, want 1", m.AnsweredCount())
	}
}

func TestVisibilityAfterSave(t *testing.T) {
	qs := testQuestions()
	qs[1].AllowSeeAfterSubmit = true
	m := NewManager(qs, zerolog.Nop())

	m.Edit(qs[0].ID, "A")
	m.Save(qs[0].ID)
	m.ToggleChoice(qs[1].ID, "B")
	m.Save(qs[1].ID)

	if m.Visible(qs[0].ID) {
		t.Fatal("saved question with see-after disabled must be hidden")
	}
	if !m.Visible(qs[1].ID) {
		t.Fatal("see-after enabled question must stay visible")
	}
}

func TestUnknownQuestionErrors(t *testing.T) {
	m := NewManager(testQuestions(), zerolog.Nop())
	ghost := uuid.New()

	if _, err := m.Edit(ghost, "x"); err != ErrUnknownQuestion {
		t.Fatalf("edit: %v", err)
	}
	if _, err := m.ToggleChoice(ghost, "A"); err != ErrUnknownQuestion {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := m.Save(ghost); err != ErrUnknownQuestion {
		t.Fatalf("save: %v", err)
	}
}

package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed quiz/questions.json
var defaultQuestions []byte

// Question is a single entry of the question bank. Instances are immutable
// after loading; game states reference them by pointer and never copy them.
type Question struct {
	Text     string   `json:"text"`
	Options  []string `json:"options"`
	Correct  int      `json:"correct"`
	Category string   `json:"category"`
}

// QuestionBank holds the full, validated question list, loaded once at
// startup and shared read-only between all sessions.
type QuestionBank struct {
	questions []Question
}

// loadQuestionBank reads a flat json array of questions from path, or the
// bundled set when path is empty.
func loadQuestionBank(path string) (*QuestionBank, error) {
	data := defaultQuestions

	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read question bank: %w", err)
		}
	}

	var questions []Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("failed to parse question bank: %w", err)
	}

	if len(questions) == 0 {
		return nil, fmt.Errorf("question bank is empty")
	}

	for i, q := range questions {
		switch {
		case q.Text == "":
			return nil, fmt.Errorf("question %d: missing text", i)
		case len(q.Options) != 4:
			return nil, fmt.Errorf("question %d: expected 4 options, got %d", i, len(q.Options))
		case q.Correct < 0 || q.Correct >= len(q.Options):
			return nil, fmt.Errorf("question %d: correct index %d out of range", i, q.Correct)
		}
	}

	return &QuestionBank{questions: questions}, nil
}

// Len returns the total number of questions in the bank.
func (b *QuestionBank) Len() int {
	return len(b.questions)
}

// Pool returns a fresh slice of question references for a new game to draw
// from without replacement. The underlying questions are shared.
func (b *QuestionBank) Pool() []*Question {
	pool := make([]*Question, len(b.questions))
	for i := range b.questions {
		pool[i] = &b.questions[i]
	}
	return pool
}

package quiz

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrAlreadyRunning   = errors.New("quiz already running in this chat")
	ErrNoActiveQuestion = errors.New("no active question")
	ErrDuplicateAnswer  = errors.New("answer already submitted")
	ErrUnknownCategory  = errors.New("unknown quiz category")
	ErrNoQuestions      = errors.New("no questions available")
)

// Question is one prompt with its options. Answer indexes Options.
type Question struct {
	Prompt      string   `yaml:"question"`
	Options     []string `yaml:"options"`
	Answer      int      `yaml:"answer"`
	Difficulty  string   `yaml:"difficulty"`
	Explanation string   `yaml:"explanation"`
	Category    string   `yaml:"-"`
}

// CorrectText returns the canonical answer text.
func (q Question) CorrectText() string {
	if q.Answer < 0 || q.Answer >= len(q.Options) {
		return ""
	}
	return q.Options[q.Answer]
}

// BasePoints maps difficulty to the base score.
func (q Question) BasePoints() int {
	switch strings.ToLower(strings.TrimSpace(q.Difficulty)) {
	case "medium":
		return 2
	case "hard":
		return 3
	default:
		return 1
	}
}

// Source supplies a question pool. A failing source aborts Start before any
// round state exists.
type Source interface {
	Questions(ctx context.Context, category string, n int) ([]Question, error)
}

// QuestionView is the render-ready form of the open question.
type QuestionView struct {
	Chat     string
	Category string
	Number   int // 1-based
	Total    int
	Question
}

// Score is one leaderboard row.
type Score struct {
	Player string
	Points int
}

// AnswerResult reports one processed answer. Next is set when the round
// advanced to another question, Final when it ended instead.
type AnswerResult struct {
	Player      string
	Correct     bool
	Points      int
	Selected    string
	Answer      string
	Explanation string
	Category    string
	Next        *QuestionView
	Final       []Score
}

// Announcer delivers timer-driven round notices (question timeouts). Exactly
// one of next/final is set: next when another question opened, final when the
// pool ran out.
type Announcer interface {
	QuestionTimeout(chat string, expired QuestionView, next *QuestionView, final []Score)
}

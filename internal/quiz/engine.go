package quiz

import (
	"context"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mellowbyte/wa-arcade-bot/internal/obslog"
)

type roundState string

const (
	statePending roundState = "PENDING" // slot reserved while questions load
	stateActive  roundState = "ACTIVE"
	stateEnded   roundState = "ENDED"
)

type round struct {
	id       string
	chat     string
	category string

	queue    []Question
	current  *Question
	number   int // 1-based index of the open question
	total    int
	openedAt time.Time

	answered map[string]struct{}
	ledger   map[string]int
	order    []string // first-score insertion order, breaks leaderboard ties

	state    roundState
	timer    *time.Timer
	timerGen uint64
}

// Engine runs at most one scored round per chat. One mutex serializes all
// rounds; question timers re-check their generation under the lock so a
// timer belonging to an already-advanced question never acts.
type Engine struct {
	mu     sync.Mutex
	window time.Duration
	ann    Announcer
	rounds map[string]*round
}

func NewEngine(window time.Duration, ann Announcer) *Engine {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &Engine{
		window: window,
		ann:    ann,
		rounds: make(map[string]*round),
	}
}

// Window returns the per-question time limit.
func (e *Engine) Window() time.Duration { return e.window }

// Active reports whether chat has a running round.
func (e *Engine) Active(chat string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rounds[chat]
	return ok && r.state == stateActive
}

// Start opens a round for the chat: fetch the pool from src, shuffle, cap at
// n questions, open the first one. The chat slot is reserved before the fetch
// so concurrent starts race cleanly; a fetch failure frees the slot and
// leaves no state behind.
func (e *Engine) Start(ctx context.Context, chat, category string, src Source, n int) (QuestionView, error) {
	e.mu.Lock()
	if _, ok := e.rounds[chat]; ok {
		e.mu.Unlock()
		return QuestionView{}, ErrAlreadyRunning
	}
	e.rounds[chat] = &round{chat: chat, state: statePending}
	e.mu.Unlock()

	questions, err := src.Questions(ctx, category, n)
	if err != nil || len(questions) == 0 {
		e.mu.Lock()
		delete(e.rounds, chat)
		e.mu.Unlock()
		if err == nil {
			err = ErrNoQuestions
		}
		return QuestionView{}, err
	}

	rand.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})
	if len(questions) > n && n > 0 {
		questions = questions[:n]
	}

	e.mu.Lock()
	r := e.rounds[chat]
	if r == nil || r.state != statePending {
		// the slot was torn down while we were fetching
		e.mu.Unlock()
		return QuestionView{}, ErrAlreadyRunning
	}
	r.id = "quiz-" + uuid.NewString()
	r.category = category
	r.queue = questions
	r.total = len(questions)
	r.state = stateActive
	r.ledger = make(map[string]int)
	e.openNextLocked(r)
	view := e.viewLocked(r)
	e.mu.Unlock()

	obslog.L().Info("quiz_start",
		zap.String("round_id", r.id),
		zap.String("chat", chat),
		zap.String("category", category),
		zap.Int("questions", view.Total),
	)
	return view, nil
}

var digitsRe = regexp.MustCompile(`^\d+$`)

// SubmitAnswer processes one user's answer to the open question. Each user
// answers a given question at most once. A correct answer scores
// base(difficulty) plus the time bonus and advances the round; a wrong answer
// only records the user and the question stays open.
func (e *Engine) SubmitAnswer(chat, userID, raw string) (*AnswerResult, error) {
	raw = strings.TrimSpace(raw)

	e.mu.Lock()
	r, ok := e.rounds[chat]
	if !ok || r.state != stateActive || r.current == nil {
		e.mu.Unlock()
		return nil, ErrNoActiveQuestion
	}
	if _, dup := r.answered[userID]; dup {
		e.mu.Unlock()
		return nil, ErrDuplicateAnswer
	}
	r.answered[userID] = struct{}{}

	q := *r.current
	correct, selected := evalAnswer(q, raw)

	res := &AnswerResult{
		Player:      userID,
		Correct:     correct,
		Selected:    selected,
		Answer:      q.CorrectText(),
		Explanation: q.Explanation,
		Category:    r.category,
	}

	if correct {
		res.Points = q.BasePoints() + timeBonus(time.Since(r.openedAt), e.window)
		e.addScoreLocked(r, userID, res.Points)
		res.Next, res.Final = e.advanceLocked(r)
	}
	roundID := r.id
	e.mu.Unlock()

	obslog.L().Info("quiz_answer",
		zap.String("round_id", roundID),
		zap.String("chat", chat),
		zap.String("user_id", userID),
		zap.Bool("correct", correct),
		zap.Int("points", res.Points),
	)
	return res, nil
}

// End finishes the chat's round immediately and returns the final
// leaderboard. Ending an already-gone round reports ErrNoActiveQuestion; a
// round never ends twice.
func (e *Engine) End(chat string) ([]Score, string, error) {
	e.mu.Lock()
	r, ok := e.rounds[chat]
	if !ok || r.state != stateActive {
		e.mu.Unlock()
		return nil, "", ErrNoActiveQuestion
	}
	final := e.finishLocked(r)
	category := r.category
	e.mu.Unlock()

	obslog.L().Info("quiz_end", zap.String("round_id", r.id), zap.String("chat", chat), zap.String("reason", "manual"))
	return final, category, nil
}

// evalAnswer accepts a 1-based option number or the answer text
// (case-insensitive).
func evalAnswer(q Question, raw string) (correct bool, selected string) {
	if digitsRe.MatchString(raw) {
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 1 || idx > len(q.Options) {
			return false, raw
		}
		return idx-1 == q.Answer, q.Options[idx-1]
	}
	return strings.EqualFold(raw, q.CorrectText()), raw
}

// timeBonus is a step function over half-open elapsed-time bands: answers in
// the first third of the window earn +2, the second third +1, later zero.
func timeBonus(elapsed, window time.Duration) int {
	switch {
	case elapsed < window/3:
		return 2
	case elapsed < 2*window/3:
		return 1
	default:
		return 0
	}
}

func (e *Engine) addScoreLocked(r *round, userID string, points int) {
	if _, seen := r.ledger[userID]; !seen {
		r.order = append(r.order, userID)
	}
	r.ledger[userID] += points
}

// openNextLocked pops the next question and arms its timer.
func (e *Engine) openNextLocked(r *round) {
	q := r.queue[0]
	r.queue = r.queue[1:]
	r.current = &q
	r.number++
	r.answered = make(map[string]struct{})
	r.openedAt = time.Now()

	r.timerGen++
	gen := r.timerGen
	if r.timer != nil {
		r.timer.Stop()
	}
	chat := r.chat
	r.timer = time.AfterFunc(e.window, func() { e.onQuestionTimeout(chat, gen) })
}

// advanceLocked moves to the next question, or finishes when the pool is
// exhausted. Exactly one of the return values is set.
func (e *Engine) advanceLocked(r *round) (*QuestionView, []Score) {
	if len(r.queue) == 0 {
		return nil, e.finishLocked(r)
	}
	e.openNextLocked(r)
	v := e.viewLocked(r)
	return &v, nil
}

// finishLocked is the terminal transition: cancel the timer, compute the
// leaderboard, release the chat slot.
func (e *Engine) finishLocked(r *round) []Score {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerGen++
	r.state = stateEnded
	r.current = nil
	delete(e.rounds, r.chat)
	return leaderboard(r)
}

func (e *Engine) onQuestionTimeout(chat string, gen uint64) {
	e.mu.Lock()
	r, ok := e.rounds[chat]
	if !ok || r.timerGen != gen || r.state != stateActive || r.current == nil {
		e.mu.Unlock()
		return
	}
	expired := e.viewLocked(r)
	next, final := e.advanceLocked(r)
	e.mu.Unlock()

	obslog.L().Info("quiz_question_timeout",
		zap.String("round_id", r.id),
		zap.String("chat", chat),
		zap.Int("question", expired.Number),
		zap.Bool("round_over", final != nil),
	)
	if e.ann != nil {
		e.ann.QuestionTimeout(chat, expired, next, final)
	}
}

func (e *Engine) viewLocked(r *round) QuestionView {
	return QuestionView{
		Chat:     r.chat,
		Category: r.category,
		Number:   r.number,
		Total:    r.total,
		Question: *r.current,
	}
}

// leaderboard sorts the ledger descending by points; ties keep
// first-achieved order.
func leaderboard(r *round) []Score {
	out := make([]Score, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, Score{Player: id, Points: r.ledger[id]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Points > out[j].Points })
	return out
}

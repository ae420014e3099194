package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mellowbyte/wa-arcade-bot/internal/match"
	"github.com/mellowbyte/wa-arcade-bot/internal/msgcat"
	"github.com/mellowbyte/wa-arcade-bot/internal/quiz"
	"github.com/mellowbyte/wa-arcade-bot/internal/wagw"
)

type sentMessage struct {
	Chat     string
	Text     string
	Mentions []string
}

type fakeEgress struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeEgress) SendText(_ context.Context, chat, text string, mentions []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Chat: chat, Text: text, Mentions: mentions})
	return nil
}

func (f *fakeEgress) all() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeEgress) last() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMessage{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeEgress) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeEgress) {
	t.Helper()
	cat, err := msgcat.New("")
	require.NoError(t, err)
	bank, err := quiz.NewBank()
	require.NoError(t, err)

	eg := &fakeEgress{}
	d := New(Options{
		Prefix:          ".",
		Catalog:         cat,
		Egress:          eg,
		Bank:            bank,
		QuestionsPerRun: 2,
	})
	d.AttachGames(match.NewRegistry(match.Config{LobbyTTL: time.Minute, TurnTTL: time.Minute}, d))
	d.AttachQuizzes(quiz.NewEngine(time.Minute, d))
	return d, eg
}

func inbound(chat, sender, text string) *wagw.Message {
	return &wagw.Message{Chat: chat, Sender: sender + "@s.whatsapp.net", Text: text}
}

func TestHelpAndUnknown(t *testing.T) {
	d, eg := newTestDispatcher(t)

	d.HandleMessage(inbound("c1", "alice", ".help"))
	require.Contains(t, eg.last().Text, ".ttt")

	d.HandleMessage(inbound("c1", "alice", ".bogus"))
	require.Contains(t, eg.last().Text, "Unknown command")
}

func TestAllowedChatsFilter(t *testing.T) {
	d, eg := newTestDispatcher(t)
	d.allowed = map[string]struct{}{"good": {}}

	d.HandleMessage(inbound("bad", "alice", ".help"))
	require.Empty(t, eg.all())

	d.HandleMessage(inbound("good", "alice", ".help"))
	require.Len(t, eg.all(), 1)
}

func TestTicTacToeFlow(t *testing.T) {
	d, eg := newTestDispatcher(t)

	d.HandleMessage(inbound("c1", "alice", ".ttt"))
	require.Contains(t, eg.last().Text, "Waiting for opponent")

	d.HandleMessage(inbound("c1", "alice", ".ttt"))
	require.Contains(t, eg.last().Text, "already in a game")

	eg.reset()
	d.HandleMessage(inbound("c2", "bob", ".ttt"))
	sent := eg.all()
	require.Len(t, sent, 2, "start announcement goes to both chats")
	assert.Contains(t, sent[0].Text, "Game Started")
	assert.Contains(t, sent[0].Text, "@alice")
	assert.Contains(t, sent[0].Text, "@bob")
	assert.Contains(t, sent[0].Mentions, "alice@s.whatsapp.net")

	// alice is X and moves first: bare numbers route as moves.
	eg.reset()
	d.HandleMessage(inbound("c1", "alice", "1"))
	require.Contains(t, eg.last().Text, "⭕", "board update shows O's marker legend")
	require.Contains(t, eg.last().Text, "❎")

	// bob replies with his own move.
	count := len(eg.all())
	d.HandleMessage(inbound("c2", "bob", "5"))
	require.Greater(t, len(eg.all()), count)

	// win for alice: 1,2,3 against bob 5,6.
	d.HandleMessage(inbound("c1", "alice", "2"))
	d.HandleMessage(inbound("c2", "bob", "6"))
	d.HandleMessage(inbound("c1", "alice", "3"))
	require.Contains(t, eg.last().Text, "wins the game")
}

func TestSurrenderRouting(t *testing.T) {
	d, eg := newTestDispatcher(t)
	d.HandleMessage(inbound("c1", "alice", ".ttt"))
	d.HandleMessage(inbound("c1", "bob", ".ttt"))

	eg.reset()
	d.HandleMessage(inbound("c1", "bob", "give up"))
	require.NotEmpty(t, eg.all())
	require.Contains(t, eg.last().Text, "surrendered")
	require.Contains(t, eg.last().Text, "@alice wins")
}

func TestPlainChatterIgnored(t *testing.T) {
	d, eg := newTestDispatcher(t)

	d.HandleMessage(inbound("c1", "alice", "hello there"))
	d.HandleMessage(inbound("c1", "alice", "42"))
	require.Empty(t, eg.all(), "no game, no quiz, nothing to route")
}

func TestQuizFlow(t *testing.T) {
	d, eg := newTestDispatcher(t)

	d.HandleMessage(inbound("c1", "alice", ".quiz science"))
	sent := eg.all()
	require.Len(t, sent, 2, "started banner plus first question")
	assert.Contains(t, sent[0].Text, "Quiz Started")
	assert.Contains(t, sent[1].Text, "Question 1/2")

	d.HandleMessage(inbound("c1", "alice", ".quiz"))
	require.Contains(t, eg.last().Text, "already in progress")

	// Wrong guesses leave the question open; submit every option until the
	// round advances.
	eg.reset()
	for _, guess := range []string{"1", "2", "3", "4"} {
		d.HandleMessage(inbound("c1", "user"+guess, guess))
	}
	var correctSeen, nextSeen bool
	for _, m := range eg.all() {
		if strings.Contains(m.Text, "Correct!") {
			correctSeen = true
		}
		if strings.Contains(m.Text, "Question 2/2") {
			nextSeen = true
		}
	}
	assert.True(t, correctSeen, "one of the four options must be right")
	assert.True(t, nextSeen, "correct answer advances the round")
}

type singleQuestionSource struct{ q quiz.Question }

func (s singleQuestionSource) Questions(_ context.Context, _ string, _ int) ([]quiz.Question, error) {
	return []quiz.Question{s.q}, nil
}

func TestAnswerCommandRoutesTextGuesses(t *testing.T) {
	d, eg := newTestDispatcher(t)

	d.HandleMessage(inbound("c1", "alice", ".answer beta"))
	require.Contains(t, eg.last().Text, "No active quiz")

	d.trivia = singleQuestionSource{q: quiz.Question{
		Prompt:  "Which option?",
		Options: []string{"alpha", "beta"},
		Answer:  1,
	}}
	d.HandleMessage(inbound("c1", "alice", ".trivia"))
	require.Contains(t, eg.last().Text, "Question 1/1")

	eg.reset()
	d.HandleMessage(inbound("c1", "alice", ".answer"))
	require.Contains(t, eg.last().Text, "Usage: .answer")

	// Text guesses match the answer case-insensitively.
	d.HandleMessage(inbound("c1", "bob", ".answer ALPHA"))
	require.Contains(t, eg.last().Text, "Wrong answer")

	d.HandleMessage(inbound("c1", "alice", ".answer BETA"))
	var correctSeen bool
	for _, m := range eg.all() {
		if strings.Contains(m.Text, "Correct!") && strings.Contains(m.Text, "@alice") {
			correctSeen = true
		}
	}
	assert.True(t, correctSeen, "text guess must reach the open question")
}

func TestQuizUnknownCategory(t *testing.T) {
	d, eg := newTestDispatcher(t)

	d.HandleMessage(inbound("c1", "alice", ".quiz nope"))
	require.Contains(t, eg.last().Text, "Quiz Categories")
	require.Contains(t, eg.last().Text, "general")
}

func TestEndQuiz(t *testing.T) {
	d, eg := newTestDispatcher(t)

	d.HandleMessage(inbound("c1", "alice", ".endquiz"))
	require.Contains(t, eg.last().Text, "No active quiz")

	d.HandleMessage(inbound("c1", "alice", ".quiz general"))
	eg.reset()
	d.HandleMessage(inbound("c1", "alice", ".endquiz"))
	require.Contains(t, eg.last().Text, "Quiz Ended")
	require.Contains(t, eg.last().Text, "No one scored")
}

func TestQuestionTimeoutAnnouncement(t *testing.T) {
	d, eg := newTestDispatcher(t)
	view := quiz.QuestionView{
		Chat:     "c1",
		Category: "general",
		Number:   1,
		Total:    1,
		Question: quiz.Question{
			Prompt:  "p",
			Options: []string{"a", "b"},
			Answer:  1,
		},
	}

	d.QuestionTimeout("c1", view, nil, []quiz.Score{{Player: "alice@s.whatsapp.net", Points: 3}})
	sent := eg.all()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Text, "Time's up")
	assert.Contains(t, sent[0].Text, "b")
	assert.Contains(t, sent[1].Text, "Quiz Ended")
	assert.Contains(t, sent[1].Text, "@alice: 3 points")
	assert.Contains(t, sent[1].Text, "Winner")
}

func TestLeaderboardWithoutStore(t *testing.T) {
	d, eg := newTestDispatcher(t)

	d.HandleMessage(inbound("c1", "alice", ".leaderboard"))
	require.Contains(t, eg.last().Text, "No trivia stats yet")
}

func TestRenderBoard(t *testing.T) {
	cells := [9]string{"X", "2", "3", "4", "O", "6", "7", "8", "9"}
	got := renderBoard(cells)
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "❎2️⃣3️⃣", lines[0])
	assert.Equal(t, "4️⃣⭕6️⃣", lines[1])
}

func TestMentionName(t *testing.T) {
	assert.Equal(t, "12345", mentionName("12345@s.whatsapp.net"))
	assert.Equal(t, "plain", mentionName("plain"))
}

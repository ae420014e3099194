package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mellowbyte/wa-arcade-bot/internal/match"
	"github.com/mellowbyte/wa-arcade-bot/internal/msgcat"
	"github.com/mellowbyte/wa-arcade-bot/internal/obslog"
	"github.com/mellowbyte/wa-arcade-bot/internal/quiz"
	"github.com/mellowbyte/wa-arcade-bot/internal/stats"
	"github.com/mellowbyte/wa-arcade-bot/internal/wagw"
)

const sendTimeout = 10 * time.Second

var (
	cellRe      = regexp.MustCompile(`^[1-9]$`)
	numberRe    = regexp.MustCompile(`^\d+$`)
	surrenderRe = regexp.MustCompile(`(?i)^(surrender|give\s*up|quit)$`)
)

// boardGlyphs maps the registry's cell labels to the emoji the chat renders.
var boardGlyphs = map[string]string{
	"X": "❎", "O": "⭕",
	"1": "1️⃣", "2": "2️⃣", "3": "3️⃣",
	"4": "4️⃣", "5": "5️⃣", "6": "6️⃣",
	"7": "7️⃣", "8": "8️⃣", "9": "9️⃣",
}

// Dispatcher routes inbound chat messages to the game registry and quiz
// engine, and renders their results back out through the egress. It also
// receives the timer-driven announcements from both.
type Dispatcher struct {
	prefix  string
	cat     *msgcat.Catalog
	egress  wagw.Egress
	games   *match.Registry
	quizzes *quiz.Engine

	bank   *quiz.Bank
	trivia quiz.Source  // optional remote source
	stats  *stats.Store // optional

	questionsPerRun int
	allowed         map[string]struct{}
}

type Options struct {
	Prefix          string
	Catalog         *msgcat.Catalog
	Egress          wagw.Egress
	Bank            *quiz.Bank
	Trivia          quiz.Source
	Stats           *stats.Store
	QuestionsPerRun int
	AllowedChats    []string
}

func New(opts Options) *Dispatcher {
	if opts.Prefix == "" {
		opts.Prefix = "."
	}
	if opts.QuestionsPerRun <= 0 {
		opts.QuestionsPerRun = 5
	}
	d := &Dispatcher{
		prefix:          opts.Prefix,
		cat:             opts.Catalog,
		egress:          opts.Egress,
		bank:            opts.Bank,
		trivia:          opts.Trivia,
		stats:           opts.Stats,
		questionsPerRun: opts.QuestionsPerRun,
	}
	if len(opts.AllowedChats) > 0 {
		d.allowed = make(map[string]struct{}, len(opts.AllowedChats))
		for _, c := range opts.AllowedChats {
			d.allowed[c] = struct{}{}
		}
	}
	return d
}

// AttachGames wires the match registry. The dispatcher is the registry's
// announcer, so construction happens in two steps.
func (d *Dispatcher) AttachGames(r *match.Registry) { d.games = r }

// AttachQuizzes wires the quiz engine, same two-step pattern.
func (d *Dispatcher) AttachQuizzes(e *quiz.Engine) { d.quizzes = e }

// HandleMessage is the single entry point for inbound chat events.
func (d *Dispatcher) HandleMessage(msg *wagw.Message) {
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	if d.allowed != nil {
		if _, ok := d.allowed[msg.Chat]; !ok {
			return
		}
	}

	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, d.prefix) {
		d.handleCommand(msg, strings.TrimPrefix(text, d.prefix))
		return
	}
	d.handlePlainText(msg, text)
}

func (d *Dispatcher) handleCommand(msg *wagw.Message, body string) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(fields[0])
	arg := ""
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}

	obslog.L().Debug("command",
		zap.String("cmd", cmd),
		zap.String("chat", msg.Chat),
		zap.String("sender", msg.Sender),
	)

	switch cmd {
	case "ttt", "tictactoe":
		d.cmdTTT(msg, arg)
	case "quiz":
		d.cmdQuiz(msg, arg)
	case "trivia":
		d.cmdTrivia(msg)
	case "answer", "ans":
		d.cmdAnswer(msg, arg)
	case "endquiz":
		d.cmdEndQuiz(msg)
	case "leaderboard", "lb":
		d.cmdLeaderboard(msg)
	case "help":
		d.sendKey(msg.Chat, "help", map[string]any{"Prefix": d.prefix}, nil)
	default:
		d.sendKey(msg.Chat, "unknown", map[string]any{"Prefix": d.prefix}, nil)
	}
}

// handlePlainText routes bare numbers and surrender words for players who are
// mid-game, and bare option numbers when a quiz question is open. Anything
// else is ignored so normal conversation passes through untouched.
func (d *Dispatcher) handlePlainText(msg *wagw.Message, text string) {
	if _, inGame := d.games.FindByPlayer(msg.Sender); inGame {
		switch {
		case cellRe.MatchString(text):
			cell, _ := strconv.Atoi(text)
			d.applyMove(msg, cell-1)
			return
		case surrenderRe.MatchString(text):
			d.applySurrender(msg)
			return
		}
	}
	if numberRe.MatchString(text) && d.quizzes.Active(msg.Chat) {
		d.applyQuizAnswer(msg, text)
	}
}

// -- tic-tac-toe --

func (d *Dispatcher) cmdTTT(msg *wagw.Message, room string) {
	snap, created, err := d.games.FindOrCreate(msg.Sender, msg.Chat, room)
	switch {
	case err == match.ErrAlreadyInGame:
		d.sendKey(msg.Chat, "game.already_in_game", nil, nil)
		return
	case err != nil:
		obslog.L().Error("ttt_start_error", zap.Error(err))
		d.sendKey(msg.Chat, "game.start_error", nil, nil)
		return
	}

	if created {
		d.sendKey(msg.Chat, "game.waiting", map[string]any{
			"Room":   snap.RoomName,
			"Prefix": d.prefix,
		}, nil)
		return
	}
	d.announceBoard(snap, "game.started")
}

func (d *Dispatcher) applyMove(msg *wagw.Message, cell int) {
	snap, err := d.games.Move(msg.Sender, cell)
	if err != nil {
		if err == match.ErrNotYourTurn || err == match.ErrGameNotActive {
			return
		}
		d.sendKey(msg.Chat, "game.invalid_move", nil, nil)
		return
	}
	d.announceBoard(snap, "game.update")
}

func (d *Dispatcher) applySurrender(msg *wagw.Message) {
	snap, err := d.games.Surrender(msg.Sender)
	if err != nil {
		return
	}
	status, renderErr := d.cat.Render("game.surrender", map[string]any{
		"Loser":  mentionName(loserOf(snap)),
		"Winner": mentionName(snap.Winner),
	})
	if renderErr != nil {
		obslog.L().Error("render_error", zap.String("key", "game.surrender"), zap.Error(renderErr))
		return
	}
	d.broadcastBoard(snap, status, false)
}

// LobbyExpired implements match.Announcer.
func (d *Dispatcher) LobbyExpired(snap match.Snapshot) {
	d.sendKey(snap.XChat, "game.lobby_expired", nil, nil)
}

// Forfeited implements match.Announcer.
func (d *Dispatcher) Forfeited(snap match.Snapshot, loserID string) {
	status, err := d.cat.Render("game.forfeit", map[string]any{"Loser": mentionName(loserID)})
	if err != nil {
		obslog.L().Error("render_error", zap.String("key", "game.forfeit"), zap.Error(err))
		return
	}
	d.broadcastBoard(snap, status, false)
}

// announceBoard sends the rendered board to every chat the match spans. The
// status line depends on where the game stands.
func (d *Dispatcher) announceBoard(snap match.Snapshot, key string) {
	var status string
	var err error
	switch {
	case snap.State == match.StateEnded && snap.Outcome == match.OutcomeWin:
		status, err = d.cat.Render("game.win", map[string]any{"Winner": mentionName(snap.Winner)})
	case snap.State == match.StateEnded && snap.Outcome == match.OutcomeDraw:
		status, err = d.cat.Render("game.draw", nil)
	default:
		glyph := "❎"
		if snap.Turn == snap.PlayerO {
			glyph = "⭕"
		}
		status, err = d.cat.Render("game.turn", map[string]any{
			"Player": mentionName(snap.Turn),
			"Glyph":  glyph,
		})
	}
	if err != nil {
		obslog.L().Error("render_error", zap.String("key", key), zap.Error(err))
		return
	}

	open := snap.State == match.StatePlaying
	text, err := d.cat.Render(key, map[string]any{
		"Status":  status,
		"Board":   renderBoard(snap.Cells),
		"PlayerX": mentionName(snap.PlayerX),
		"PlayerO": mentionName(snap.PlayerO),
		"Open":    open,
	})
	if err != nil {
		obslog.L().Error("render_error", zap.String("key", key), zap.Error(err))
		return
	}
	mentions := []string{snap.PlayerX, snap.PlayerO}
	for _, chat := range snap.Chats() {
		d.send(chat, text, mentions)
	}
}

// broadcastBoard sends a status line plus the final board to both chats.
func (d *Dispatcher) broadcastBoard(snap match.Snapshot, status string, open bool) {
	text, err := d.cat.Render("game.update", map[string]any{
		"Status":  status,
		"Board":   renderBoard(snap.Cells),
		"PlayerX": mentionName(snap.PlayerX),
		"PlayerO": mentionName(snap.PlayerO),
		"Open":    open,
	})
	if err != nil {
		obslog.L().Error("render_error", zap.String("key", "game.update"), zap.Error(err))
		return
	}
	mentions := []string{snap.PlayerX, snap.PlayerO}
	for _, chat := range snap.Chats() {
		d.send(chat, text, mentions)
	}
}

func loserOf(snap match.Snapshot) string {
	if snap.Winner == snap.PlayerX {
		return snap.PlayerO
	}
	return snap.PlayerX
}

func renderBoard(cells [9]string) string {
	var b strings.Builder
	for row := 0; row < 3; row++ {
		if row > 0 {
			b.WriteByte('\n')
		}
		for col := 0; col < 3; col++ {
			label := cells[row*3+col]
			if g, ok := boardGlyphs[label]; ok {
				label = g
			}
			b.WriteString(label)
		}
	}
	return b.String()
}

// -- quiz and trivia --

func (d *Dispatcher) cmdQuiz(msg *wagw.Message, category string) {
	d.startRound(msg, category, d.bank)
}

func (d *Dispatcher) cmdTrivia(msg *wagw.Message) {
	if d.trivia == nil {
		d.sendKey(msg.Chat, "quiz.start_error", nil, nil)
		return
	}
	d.startRound(msg, "trivia", d.trivia)
}

func (d *Dispatcher) startRound(msg *wagw.Message, category string, src quiz.Source) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	view, err := d.quizzes.Start(ctx, msg.Chat, category, src, d.questionsPerRun)
	switch {
	case err == nil:
	case err == quiz.ErrAlreadyRunning:
		d.sendKey(msg.Chat, "quiz.already_running", nil, nil)
		return
	case err == quiz.ErrUnknownCategory:
		d.sendKey(msg.Chat, "quiz.unknown_category", map[string]any{
			"Categories": "• " + strings.Join(d.bank.Categories(), "\n• "),
			"Prefix":     d.prefix,
		}, nil)
		return
	default:
		obslog.L().Error("quiz_start_error", zap.String("chat", msg.Chat), zap.Error(err))
		d.sendKey(msg.Chat, "quiz.start_error", nil, nil)
		return
	}

	d.sendKey(msg.Chat, "quiz.started", map[string]any{
		"Category": titleCase(view.Category),
		"Total":    view.Total,
		"Window":   int(d.quizzes.Window().Seconds()),
	}, nil)
	d.sendQuestion(view)
}

func (d *Dispatcher) sendQuestion(view quiz.QuestionView) {
	var opts strings.Builder
	for i, o := range view.Options {
		if i > 0 {
			opts.WriteByte('\n')
		}
		fmt.Fprintf(&opts, "%d. %s", i+1, o)
	}
	d.sendKey(view.Chat, "quiz.question", map[string]any{
		"Number":      view.Number,
		"Total":       view.Total,
		"Difficulty":  view.Difficulty,
		"Prompt":      view.Prompt,
		"Options":     opts.String(),
		"OptionCount": len(view.Options),
		"Window":      int(d.quizzes.Window().Seconds()),
	}, nil)
}

// cmdAnswer submits a guess to the open question by option number or by the
// answer text itself. Bare numbers also route without the command; this is
// the only path for text guesses, so ordinary conversation never counts as a
// wrong answer.
func (d *Dispatcher) cmdAnswer(msg *wagw.Message, guess string) {
	if !d.quizzes.Active(msg.Chat) {
		d.sendKey(msg.Chat, "quiz.no_active", map[string]any{"Prefix": d.prefix}, nil)
		return
	}
	if strings.TrimSpace(guess) == "" {
		d.sendKey(msg.Chat, "quiz.answer_usage", map[string]any{"Prefix": d.prefix}, nil)
		return
	}
	d.applyQuizAnswer(msg, guess)
}

func (d *Dispatcher) applyQuizAnswer(msg *wagw.Message, text string) {
	res, err := d.quizzes.SubmitAnswer(msg.Chat, msg.Sender, text)
	switch {
	case err == quiz.ErrDuplicateAnswer:
		d.sendKey(msg.Chat, "quiz.duplicate", map[string]any{"Player": mentionName(msg.Sender)}, []string{msg.Sender})
		return
	case err != nil:
		return
	}

	d.recordAnswer(msg.Sender, res.Correct, res.Points)

	if !res.Correct {
		d.sendKey(msg.Chat, "quiz.wrong", map[string]any{"Player": mentionName(msg.Sender)}, []string{msg.Sender})
		return
	}

	d.sendKey(msg.Chat, "quiz.correct", map[string]any{
		"Player":      mentionName(msg.Sender),
		"Points":      res.Points,
		"Answer":      res.Answer,
		"Explanation": res.Explanation,
	}, []string{msg.Sender})

	if res.Next != nil {
		d.sendQuestion(*res.Next)
	}
	if res.Final != nil {
		d.finishRound(msg.Chat, res.Category, res.Final)
	}
}

func (d *Dispatcher) cmdEndQuiz(msg *wagw.Message) {
	final, category, err := d.quizzes.End(msg.Chat)
	if err != nil {
		d.sendKey(msg.Chat, "quiz.no_active", map[string]any{"Prefix": d.prefix}, nil)
		return
	}
	d.finishRound(msg.Chat, category, final)
}

// QuestionTimeout implements quiz.Announcer.
func (d *Dispatcher) QuestionTimeout(chat string, expired quiz.QuestionView, next *quiz.QuestionView, final []quiz.Score) {
	d.sendKey(chat, "quiz.timeout", map[string]any{
		"Answer":      expired.CorrectText(),
		"Explanation": expired.Explanation,
	}, nil)
	if next != nil {
		d.sendQuestion(*next)
	}
	if final != nil {
		d.finishRound(chat, expired.Category, final)
	}
}

func (d *Dispatcher) finishRound(chat, category string, final []quiz.Score) {
	var b strings.Builder
	header, err := d.cat.Render("quiz.end_header", map[string]any{"Category": titleCase(category)})
	if err != nil {
		obslog.L().Error("render_error", zap.String("key", "quiz.end_header"), zap.Error(err))
		return
	}
	b.WriteString(header)

	var mentions []string
	if len(final) == 0 {
		empty, _ := d.cat.Render("quiz.end_empty", nil)
		b.WriteString("\n\n" + empty)
	} else {
		scores, _ := d.cat.Render("quiz.end_scores", nil)
		b.WriteString("\n\n" + scores)
		for i, s := range final {
			row, err := d.cat.Render("quiz.end_row", map[string]any{
				"Rank":   i + 1,
				"Player": mentionName(s.Player),
				"Points": s.Points,
			})
			if err != nil {
				continue
			}
			b.WriteString("\n" + row)
			mentions = append(mentions, s.Player)
		}
		winner, err := d.cat.Render("quiz.end_winner", map[string]any{
			"Player": mentionName(final[0].Player),
			"Points": final[0].Points,
		})
		if err == nil {
			b.WriteString("\n\n" + winner)
		}
	}
	d.send(chat, b.String(), mentions)
	d.recordRound(mentions)
}

// -- leaderboard --

func (d *Dispatcher) cmdLeaderboard(msg *wagw.Message) {
	if d.stats == nil {
		d.sendKey(msg.Chat, "stats.leaderboard_empty", nil, nil)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	top, err := d.stats.TopPlayers(ctx, 10)
	if err != nil {
		obslog.L().Error("leaderboard_error", zap.Error(err))
		return
	}
	if len(top) == 0 {
		d.sendKey(msg.Chat, "stats.leaderboard_empty", nil, nil)
		return
	}

	header, err := d.cat.Render("stats.leaderboard_header", nil)
	if err != nil {
		obslog.L().Error("render_error", zap.String("key", "stats.leaderboard_header"), zap.Error(err))
		return
	}
	var b strings.Builder
	b.WriteString(header)
	mentions := make([]string, 0, len(top))
	for i, entry := range top {
		ps, err := d.stats.Player(ctx, entry.Player)
		if err != nil {
			continue
		}
		row, err := d.cat.Render("stats.leaderboard_row", map[string]any{
			"Rank":     i + 1,
			"Player":   mentionName(entry.Player),
			"Points":   entry.Points,
			"Correct":  ps.Correct,
			"Answered": ps.Correct + ps.Wrong,
		})
		if err != nil {
			continue
		}
		b.WriteString("\n" + row)
		mentions = append(mentions, entry.Player)
	}
	d.send(msg.Chat, b.String(), mentions)
}

func (d *Dispatcher) recordAnswer(userID string, correct bool, points int) {
	if d.stats == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.stats.RecordAnswer(ctx, userID, correct, points); err != nil {
			obslog.L().Error("stats_record_error", zap.String("user_id", userID), zap.Error(err))
		}
	}()
}

func (d *Dispatcher) recordRound(userIDs []string) {
	if d.stats == nil || len(userIDs) == 0 {
		return
	}
	ids := make([]string, len(userIDs))
	copy(ids, userIDs)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.stats.RecordRound(ctx, ids); err != nil {
			obslog.L().Error("stats_record_error", zap.Error(err))
		}
	}()
}

// -- sending --

func (d *Dispatcher) sendKey(chat, key string, data map[string]any, mentions []string) {
	text, err := d.cat.Render(key, data)
	if err != nil {
		obslog.L().Error("render_error", zap.String("key", key), zap.Error(err))
		return
	}
	d.send(chat, text, mentions)
}

func (d *Dispatcher) send(chat, text string, mentions []string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := d.egress.SendText(ctx, chat, text, mentions); err != nil {
		obslog.L().Error("send_error", zap.String("chat", chat), zap.Error(err))
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// mentionName strips the server suffix from a chat user ID for display.
func mentionName(id string) string {
	if i := strings.IndexByte(id, '@'); i > 0 {
		return id[:i]
	}
	return id
}

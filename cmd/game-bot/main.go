package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appcfg "github.com/mellowbyte/wa-arcade-bot/internal/config"
	"github.com/mellowbyte/wa-arcade-bot/internal/dispatch"
	"github.com/mellowbyte/wa-arcade-bot/internal/match"
	"github.com/mellowbyte/wa-arcade-bot/internal/msgcat"
	"github.com/mellowbyte/wa-arcade-bot/internal/obslog"
	"github.com/mellowbyte/wa-arcade-bot/internal/quiz"
	"github.com/mellowbyte/wa-arcade-bot/internal/stats"
	"github.com/mellowbyte/wa-arcade-bot/internal/trivia"
	"github.com/mellowbyte/wa-arcade-bot/internal/wagw"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("log init error: %v", err)
	}
	defer obslog.Sync()

	catalog, err := msgcat.New(cfg.MessageDir)
	if err != nil {
		obslog.L().Fatal("msgcat init error", zap.Error(err))
	}
	bank, err := quiz.NewBank()
	if err != nil {
		obslog.L().Fatal("question bank error", zap.Error(err))
	}

	headers := func() map[string]string {
		h := map[string]string{}
		if cfg.GatewayToken != "" {
			h["Authorization"] = "Bearer " + cfg.GatewayToken
		}
		return h
	}

	client := wagw.NewClient(cfg.GatewayBaseURL, wagw.WithHeaderProvider(headers))
	ws := wagw.NewWebSocket(cfg.GatewayWSURL, 5, time.Second)
	ws.SetHeaderProvider(headers)
	ws.OnStateChange(func(state wagw.WebSocketState) {
		obslog.L().Info("ws_state", zap.String("state", string(state)))
	})

	egress := wagw.NewEgress("auto", false, client, ws, obslog.L())

	// Cumulative player stats are optional; without REDIS_URL the
	// leaderboard command just reports empty.
	var statsStore *stats.Store
	if cfg.RedisURL != "" {
		statsStore, err = stats.NewStore(cfg.RedisURL)
		if err != nil {
			obslog.L().Fatal("stats store error", zap.Error(err))
		}
	}

	d := dispatch.New(dispatch.Options{
		Prefix:          cfg.BotPrefix,
		Catalog:         catalog,
		Egress:          egress,
		Bank:            bank,
		Trivia:          trivia.NewClient(trivia.WithTimeout(15*time.Second), trivia.WithRetry(3)),
		Stats:           statsStore,
		QuestionsPerRun: cfg.QuestionsPerRun,
		AllowedChats:    cfg.AllowedChats,
	})

	games := match.NewRegistry(match.Config{LobbyTTL: cfg.LobbyTTL, TurnTTL: cfg.TurnTTL}, d)
	if cfg.DatabaseURL != "" {
		repo, err := match.NewRepository(cfg.DatabaseURL)
		if err != nil {
			obslog.L().Fatal("match repository error", zap.Error(err))
		}
		defer repo.Close()
		games.AttachRepository(repo)
	}
	d.AttachGames(games)
	d.AttachQuizzes(quiz.NewEngine(cfg.QuestionWindow, d))

	ws.OnMessage(func(msg *wagw.Message) {
		// never block the WS read loop
		go d.HandleMessage(msg)
	})

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = ws.Connect(cctx)
	cancel()
	if err != nil {
		obslog.L().Fatal("ws connect error", zap.Error(err))
	}
	obslog.L().Info("bot_started", zap.String("prefix", cfg.BotPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	obslog.L().Info("bot_stopping")
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = ws.Close(closeCtx)
	closeCancel()
	if statsStore != nil {
		_ = statsStore.Close()
	}
}

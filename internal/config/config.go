package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	GatewayBaseURL string
	GatewayWSURL   string

	BotPrefix string

	GatewayToken string

	RedisURL    string
	DatabaseURL string

	AllowedChats []string

	LobbyTTL        time.Duration
	TurnTTL         time.Duration
	QuestionWindow  time.Duration
	QuestionsPerRun int

	MessageDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		BotPrefix:       ".",
		LobbyTTL:        5 * time.Minute,
		TurnTTL:         2 * time.Minute,
		QuestionWindow:  30 * time.Second,
		QuestionsPerRun: 5,
	}

	cfg.GatewayBaseURL = strings.TrimSpace(os.Getenv("GATEWAY_BASE_URL"))
	cfg.GatewayWSURL = strings.TrimSpace(os.Getenv("GATEWAY_WS_URL"))
	cfg.GatewayToken = strings.TrimSpace(os.Getenv("GATEWAY_TOKEN"))

	if v := strings.TrimSpace(os.Getenv("BOT_PREFIX")); v != "" {
		cfg.BotPrefix = v
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessageDir = strings.TrimSpace(os.Getenv("MESSAGE_DIR"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_CHATS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedChats = append(cfg.AllowedChats, s)
			}
		}
	}

	if d, ok := envDuration("GAME_LOBBY_TTL"); ok {
		cfg.LobbyTTL = d
	}
	if d, ok := envDuration("GAME_TURN_TTL"); ok {
		cfg.TurnTTL = d
	}
	if d, ok := envDuration("QUIZ_QUESTION_WINDOW"); ok {
		cfg.QuestionWindow = d
	}
	if v := strings.TrimSpace(os.Getenv("QUIZ_QUESTIONS_PER_RUN")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QuestionsPerRun = n
		}
	}

	if cfg.GatewayBaseURL == "" {
		return nil, errors.New("GATEWAY_BASE_URL is required")
	}
	if cfg.GatewayWSURL == "" {
		return nil, errors.New("GATEWAY_WS_URL is required")
	}

	return cfg, nil
}

// envDuration accepts Go duration strings ("90s") and bare seconds ("90").
func envDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

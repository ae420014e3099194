package stats

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const leaderboardKey = "stats:lb"

// Entry is one leaderboard row.
type Entry struct {
	Player string
	Points int64
}

// PlayerStats is the per-user counter hash.
type PlayerStats struct {
	Points  int64
	Correct int64
	Wrong   int64
	Rounds  int64
}

// Store keeps cumulative player statistics in Redis. Counters live in one
// hash per user; the leaderboard is a sorted set scored by total points.
type Store struct {
	rdb *redis.Client
}

func NewStore(redisURL string) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

// NewStoreWithClient wires an existing client, used by tests.
func NewStoreWithClient(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) keyPlayer(userID string) string { return "stats:player:" + strings.TrimSpace(userID) }

// RecordAnswer accumulates one processed answer. Points are zero for a wrong
// answer; the per-user hash and the leaderboard stay consistent because both
// writes sit in one pipeline.
func (s *Store) RecordAnswer(ctx context.Context, userID string, correct bool, points int) error {
	if s == nil || s.rdb == nil || strings.TrimSpace(userID) == "" {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	key := s.keyPlayer(userID)
	if correct {
		pipe.HIncrBy(ctx, key, "correct", 1)
	} else {
		pipe.HIncrBy(ctx, key, "wrong", 1)
	}
	if points > 0 {
		pipe.HIncrBy(ctx, key, "points", int64(points))
		pipe.ZIncrBy(ctx, leaderboardKey, float64(points), userID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// RecordRound bumps the rounds-played counter for every participant.
func (s *Store) RecordRound(ctx context.Context, userIDs []string) error {
	if s == nil || s.rdb == nil || len(userIDs) == 0 {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	for _, id := range userIDs {
		if strings.TrimSpace(id) == "" {
			continue
		}
		pipe.HIncrBy(ctx, s.keyPlayer(id), "rounds", 1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// TopPlayers returns up to n leaderboard rows, highest points first.
func (s *Store) TopPlayers(ctx context.Context, n int) ([]Entry, error) {
	if s == nil || s.rdb == nil {
		return nil, nil
	}
	if n <= 0 {
		n = 10
	}
	rows, err := s.rdb.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		member, _ := row.Member.(string)
		out = append(out, Entry{Player: member, Points: int64(row.Score)})
	}
	return out, nil
}

// Player loads one user's counters. A user with no history returns zeroes.
func (s *Store) Player(ctx context.Context, userID string) (PlayerStats, error) {
	if s == nil || s.rdb == nil {
		return PlayerStats{}, nil
	}
	raw, err := s.rdb.HGetAll(ctx, s.keyPlayer(userID)).Result()
	if err != nil {
		return PlayerStats{}, err
	}
	get := func(field string) int64 {
		v, _ := strconv.ParseInt(raw[field], 10, 64)
		return v
	}
	return PlayerStats{
		Points:  get("points"),
		Correct: get("correct"),
		Wrong:   get("wrong"),
		Rounds:  get("rounds"),
	}, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}

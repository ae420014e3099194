package match

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Record is the archived form of a finished match, captured under the
// registry lock before the asynchronous write.
type Record struct {
	ID       string
	RoomName string
	PlayerX  string
	PlayerO  string
	Outcome  Outcome
	WinnerID string
	Moves    []int
	Started  time.Time
	Ended    time.Time
}

func newRecord(m *Match) Record {
	moves := make([]int, len(m.moves))
	copy(moves, m.moves)
	return Record{
		ID:       m.ID,
		RoomName: m.RoomName,
		PlayerX:  m.PlayerX,
		PlayerO:  m.PlayerO,
		Outcome:  m.Outcome,
		WinnerID: m.WinnerID,
		Moves:    moves,
		Started:  m.CreatedAt,
		Ended:    m.EndedAt,
	}
}

// Repository persists finished matches to Postgres. It is optional: the bot
// runs fine without a DATABASE_URL, matches are simply not archived.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts one finished match.
func (r *Repository) SaveResult(ctx context.Context, rec Record) error {
	if r == nil || r.db == nil {
		return nil
	}
	movesRaw, _ := json.Marshal(rec.Moves)
	duration := rec.Ended.Sub(rec.Started).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO ttt_matches (
	    match_id, room_name, player_x, player_o,
	    outcome, winner_id, moves,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
	  ) ON CONFLICT (match_id) DO UPDATE SET
	    room_name=EXCLUDED.room_name,
	    player_x=EXCLUDED.player_x,
	    player_o=EXCLUDED.player_o,
	    outcome=EXCLUDED.outcome,
	    winner_id=EXCLUDED.winner_id,
	    moves=EXCLUDED.moves,
	    started_at=EXCLUDED.started_at,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.RoomName, rec.PlayerX, rec.PlayerO,
		string(rec.Outcome), rec.WinnerID, string(movesRaw),
		rec.Started, rec.Ended, duration,
	)
	return err
}

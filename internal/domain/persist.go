package domain

import "time"

// Submission is a score result queued for delivery to the Master. At most one
// submission exists per match; a newer one replaces the older.
type Submission struct {
	ID         string    `json:"id"`
	MatchID    string    `json:"match_id"`
	WinnerID   string    `json:"winner_id"`
	HomeScore  int       `json:"home_score"`
	AwayScore  int       `json:"away_score"`
	History    []byte    `json:"history,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	RetryCount int       `json:"retry_count"`
}

// PendingMatch is the local device's snapshot of an in-progress match, kept so
// the match survives a reconnect or process restart. At most one at a time.
type PendingMatch struct {
	MatchID   string    `json:"match_id"`
	GameState []byte    `json:"game_state"`
	SavedAt   time.Time `json:"saved_at"`
}

// SessionRecord is the persisted room membership used for restart recovery.
type SessionRecord struct {
	RoomCode string `json:"room_code"`
	Role     Role   `json:"role"`
}

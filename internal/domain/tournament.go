package domain

// Role identifies which side of the protocol the local device plays.
type Role string

const (
	RoleMaster     Role = "master"
	RoleScoreboard Role = "scoreboard"
)

// MatchStatus is the lifecycle of a match inside a tournament.
type MatchStatus string

const (
	MatchUnplayed MatchStatus = "UNPLAYED"
	MatchScoring  MatchStatus = "SCORING"
	MatchComplete MatchStatus = "COMPLETE"
)

// Match is one pairing inside a tournament. Generation and Format are small
// enums carried as single bytes on the wire.
type Match struct {
	ID         string      `json:"id"`
	HomePlayer string      `json:"home_player"`
	AwayPlayer string      `json:"away_player"`
	Generation byte        `json:"generation"`
	Format     byte        `json:"format"`
	Status     MatchStatus `json:"status"`

	WinnerID  string `json:"winner_id,omitempty"`
	HomeScore int    `json:"home_score,omitempty"`
	AwayScore int    `json:"away_score,omitempty"`
}

// Ready reports whether the match has both participants known.
func (m *Match) Ready() bool {
	return m != nil && m.HomePlayer != "" && m.AwayPlayer != ""
}

// Tournament is the Master's view of the event being coordinated.
type Tournament struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Matches map[string]*Match `json:"matches"`
}

// Match returns the match by id, or nil.
func (t *Tournament) Match(id string) *Match {
	if t == nil {
		return nil
	}
	return t.Matches[id]
}

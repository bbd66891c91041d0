package model

import (
	"encoding/json"
	"math"
	"time"
)

// RatingScale is the number of stored units per rating point. Ratings are
// fixed-point so a vote moves exactly the same amount in both directions.
const RatingScale = 1_000_000

// Rating is a pairwise comparison rating in millionths of a point.
type Rating int64

// RatingFromFloat converts points to a Rating, rounding to the nearest unit.
func RatingFromFloat(points float64) Rating {
	if math.IsNaN(points) {
		return 0
	}
	scaled := points * RatingScale
	if scaled >= math.MaxInt64 {
		return Rating(math.MaxInt64)
	}
	if scaled <= math.MinInt64 {
		return Rating(math.MinInt64)
	}
	return Rating(math.Round(scaled))
}

// Float returns the rating in points.
func (r Rating) Float() float64 {
	return float64(r) / RatingScale
}

// MarshalJSON renders the rating in points.
func (r Rating) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Float())
}

// UnmarshalJSON reads a rating expressed in points.
func (r *Rating) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*r = RatingFromFloat(f)
	return nil
}

// MatchRecord is one recorded vote. Records are append-only.
type MatchRecord struct {
	ID             string    `json:"id"`
	WinnerID       string    `json:"winner_id"`
	LoserID        string    `json:"loser_id"`
	VoterID        string    `json:"voter_id"`
	WinnerUsername string    `json:"winner_username,omitempty"`
	LoserUsername  string    `json:"loser_username,omitempty"`
	WinnerBefore   Rating    `json:"winner_before"`
	WinnerAfter    Rating    `json:"winner_after"`
	LoserBefore    Rating    `json:"loser_before"`
	LoserAfter     Rating    `json:"loser_after"`
	CreatedAt      time.Time `json:"created_at"`
}

// Delta returns the rating change the match caused for userID.
func (m MatchRecord) Delta(userID string) Rating {
	switch userID {
	case m.WinnerID:
		return m.WinnerAfter - m.WinnerBefore
	case m.LoserID:
		return m.LoserAfter - m.LoserBefore
	}
	return 0
}

// Transfer maps the current winner and loser ratings to their new values.
// Stores call it while holding both ratings for read-modify-write.
type Transfer func(winner, loser Rating) (winnerAfter, loserAfter Rating)

// BattleStats summarizes a user's match history.
type BattleStats struct {
	TotalBattles    int           `json:"total_battles"`
	Wins            int           `json:"wins"`
	Losses          int           `json:"losses"`
	TotalGained     Rating        `json:"total_gained"`
	TotalLost       Rating        `json:"total_lost"`
	MaxGain         Rating        `json:"max_gain"`
	MaxLoss         Rating        `json:"max_loss"`
	Matches         []MatchRecord `json:"matches"`
	TotalMatchCount int           `json:"total_match_count"`
	HasMore         bool          `json:"has_more"`
}

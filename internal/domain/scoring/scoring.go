// Package scoring turns contribution counts and community signals into the
// integer scores the leaderboard ranks by. Every function is pure.
package scoring

import (
	"math"
	"time"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
)

// Default weights.
const (
	DefaultStarWeight         = 10
	DefaultMergeWeight        = 5
	DefaultContributionWeight = 1
	DefaultEndorsementWeight  = 3
	DefaultRatingWeight       = 0.5
	DefaultRatingBaseline     = 1200
)

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithWeights sets the per-unit weights of stars, merges and contributions.
func WithWeights(star, merge, contribution int64) Option {
	return func(s *Scorer) {
		s.star, s.merge, s.contribution = star, merge, contribution
	}
}

// WithEndorsementWeight sets the points added per endorsement.
func WithEndorsementWeight(w int64) Option {
	return func(s *Scorer) { s.endorsement = w }
}

// WithRatingBonus sets the baseline rating and the weight applied to the
// distance from it.
func WithRatingBonus(baseline model.Rating, weight float64) Option {
	return func(s *Scorer) {
		s.baseline = baseline
		s.ratingWeight = weight
	}
}

// Scorer computes contribution and display scores.
type Scorer struct {
	star         int64
	merge        int64
	contribution int64
	endorsement  int64
	ratingWeight float64
	baseline     model.Rating
}

// New creates a Scorer with the default weights.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		star:         DefaultStarWeight,
		merge:        DefaultMergeWeight,
		contribution: DefaultContributionWeight,
		endorsement:  DefaultEndorsementWeight,
		ratingWeight: DefaultRatingWeight,
		baseline:     model.RatingFromFloat(DefaultRatingBaseline),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Baseline returns the rating unrated users are treated as having.
func (s *Scorer) Baseline() model.Rating { return s.baseline }

// Score is stars*10 + merges*5 + contributions*1 with the default weights.
func (s *Scorer) Score(stars, merges, contributions int64) int64 {
	return stars*s.star + merges*s.merge + contributions*s.contribution
}

// Snapshot scores raw metrics for every window. Stars are all-time in every
// window.
func (s *Scorer) Snapshot(userID string, raw model.RawMetrics, syncedAt time.Time) model.MetricsSnapshot {
	score := func(c model.Counts) int64 { return s.Score(raw.Stars, c.Merges, c.Contributions) }
	return model.MetricsSnapshot{
		UserID:     userID,
		RawMetrics: raw,
		Scores: model.WindowScores{
			All: score(raw.AllTime),
			D7:  score(raw.Last7d),
			D30: score(raw.Last30d),
			Y1:  score(raw.LastYear),
		},
		SyncedAt: syncedAt,
	}
}

// RatingBonus is round((rating-baseline)*weight), rounding halves up.
func (s *Scorer) RatingBonus(r model.Rating) int64 {
	diff := float64(r-s.baseline) / model.RatingScale
	return int64(math.Floor(diff*s.ratingWeight + 0.5))
}

// Display adds community signals to a window score. Only this value is
// floored at zero.
func (s *Scorer) Display(windowScore, endorsements int64, r model.Rating) int64 {
	return max(0, windowScore+endorsements*s.endorsement+s.RatingBonus(r))
}

// WindowStats is the per-window breakdown shown next to a ranked user.
type WindowStats struct {
	Stars         int64 `json:"stars"`
	Contributions int64 `json:"contributions"`
	Merges        int64 `json:"merges"`
	Endorsements  int64 `json:"endorsements"`
	RatingBonus   int64 `json:"rating_bonus"`
	Score         int64 `json:"score"`
	DisplayScore  int64 `json:"display_score"`
}

// Stats computes the breakdown of p for window w.
func (s *Scorer) Stats(p model.Profile, w model.Window) WindowStats {
	counts := p.Metrics.Counts(w)
	rating := p.EffectiveRating(s.baseline)
	score := p.Metrics.Scores.Get(w)
	return WindowStats{
		Stars:         p.Metrics.Stars,
		Contributions: counts.Contributions,
		Merges:        counts.Merges,
		Endorsements:  p.Metrics.EndorsementCount,
		RatingBonus:   s.RatingBonus(rating),
		Score:         score,
		DisplayScore:  s.Display(score, p.Metrics.EndorsementCount, rating),
	}
}

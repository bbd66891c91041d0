// Package rating implements pairwise comparison voting: Elo rating transfer,
// random matchups bound by signed tokens, and battle statistics.
package rating

import (
	"math"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
)

// Elo defaults.
const (
	DefaultK        = 32
	DefaultBase     = 10
	DefaultScale    = 400
	DefaultBaseline = 1200
)

// Elo computes the zero-sum transfer applied after a vote.
type Elo struct {
	K     float64
	Base  float64
	Scale float64
}

// NewElo returns the standard logistic Elo with K-factor k.
func NewElo(k float64) Elo {
	return Elo{K: k, Base: DefaultBase, Scale: DefaultScale}
}

// Expected returns the probability the winner was expected to win.
func (e Elo) Expected(winner, loser model.Rating) float64 {
	return 1 / (1 + math.Pow(e.Base, (loser.Float()-winner.Float())/e.Scale))
}

// Delta returns the amount moved from loser to winner, K*(1-expected),
// rounded to the rating resolution.
func (e Elo) Delta(winner, loser model.Rating) model.Rating {
	return model.RatingFromFloat(e.K * (1 - e.Expected(winner, loser)))
}

// Transfer applies Delta. The winner gains exactly what the loser loses.
func (e Elo) Transfer(winner, loser model.Rating) (model.Rating, model.Rating) {
	d := e.Delta(winner, loser)
	return winner + d, loser - d
}

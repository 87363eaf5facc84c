package service

import (
	"math"

	"botarena/internal/coordinator/model"
)

// RatingUpdater consumes final match ranks and prior ratings and produces
// updated ratings, index-aligned with its inputs. Rank 1 is first place;
// equal ranks are draws.
type RatingUpdater interface {
	Update(ranks []int, prior []model.Rating) []model.Rating
}

// PairwiseUpdater applies a TrueSkill-style update over every participant
// pair in sequence. For two-player matches this is the exact two-team
// update; for larger matches it is the usual pairwise approximation.
type PairwiseUpdater struct {
	// Beta is the skill distance giving ~76% win probability.
	Beta float64
	// Tau is the additive dynamics variance keeping sigma from collapsing.
	Tau float64
}

// NewPairwiseUpdater returns an updater with the standard environment
// constants derived from the default rating scale.
func NewPairwiseUpdater() *PairwiseUpdater {
	initial := model.DefaultRating()
	return &PairwiseUpdater{
		Beta: initial.Sigma / 2,
		Tau:  initial.Sigma / 100,
	}
}

// Update returns new ratings for the given ranks. Inputs are not mutated.
func (u *PairwiseUpdater) Update(ranks []int, prior []model.Rating) []model.Rating {
	if len(ranks) != len(prior) {
		return prior
	}
	updated := make([]model.Rating, len(prior))
	copy(updated, prior)

	// Dynamics first, so even a long-idle bot's rating stays mobile.
	for i := range updated {
		updated[i].Sigma = math.Sqrt(updated[i].Sigma*updated[i].Sigma + u.Tau*u.Tau)
	}

	for i := 0; i < len(updated); i++ {
		for j := i + 1; j < len(updated); j++ {
			switch {
			case ranks[i] < ranks[j]:
				u.updatePair(&updated[i], &updated[j], false)
			case ranks[j] < ranks[i]:
				u.updatePair(&updated[j], &updated[i], false)
			default:
				u.updatePair(&updated[i], &updated[j], true)
			}
		}
	}
	return updated
}

// updatePair applies the two-player update with winner first. For a draw
// the truncation collapses to a point, giving v = -t and w = 1.
func (u *PairwiseUpdater) updatePair(winner, loser *model.Rating, draw bool) {
	c2 := 2*u.Beta*u.Beta + winner.Sigma*winner.Sigma + loser.Sigma*loser.Sigma
	c := math.Sqrt(c2)
	t := (winner.Mu - loser.Mu) / c

	var v, w float64
	if draw {
		v = -t
		w = 1
	} else {
		denom := normCDF(t)
		if denom < 1e-12 {
			// Deep upset: the truncated normal degenerates, v approaches -t.
			v = -t
			w = 1
		} else {
			v = normPDF(t) / denom
			w = v * (v + t)
		}
	}

	winVar := winner.Sigma * winner.Sigma
	loseVar := loser.Sigma * loser.Sigma

	winner.Mu += (winVar / c) * v
	loser.Mu -= (loseVar / c) * v
	winner.Sigma = math.Sqrt(winVar * math.Max(1-(winVar/c2)*w, 1e-6))
	loser.Sigma = math.Sqrt(loseVar * math.Max(1-(loseVar/c2)*w, 1e-6))
}

func normPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

package service

import (
	"testing"

	"botarena/internal/coordinator/model"
)

func TestPairwiseUpdateWinnerGainsLoserLoses(t *testing.T) {
	t.Parallel()
	updater := NewPairwiseUpdater()
	prior := []model.Rating{model.DefaultRating(), model.DefaultRating()}

	updated := updater.Update([]int{1, 2}, prior)

	if updated[0].Mu <= prior[0].Mu {
		t.Fatalf("winner mu should rise: %v -> %v", prior[0].Mu, updated[0].Mu)
	}
	if updated[1].Mu >= prior[1].Mu {
		t.Fatalf("loser mu should fall: %v -> %v", prior[1].Mu, updated[1].Mu)
	}
	if updated[0].Sigma >= prior[0].Sigma {
		t.Fatalf("winner sigma should shrink: %v -> %v", prior[0].Sigma, updated[0].Sigma)
	}
	if updated[1].Sigma >= prior[1].Sigma {
		t.Fatalf("loser sigma should shrink: %v -> %v", prior[1].Sigma, updated[1].Sigma)
	}
}

func TestPairwiseUpdateDoesNotMutatePriors(t *testing.T) {
	t.Parallel()
	updater := NewPairwiseUpdater()
	prior := []model.Rating{model.DefaultRating(), model.DefaultRating()}

	_ = updater.Update([]int{1, 2}, prior)

	initial := model.DefaultRating()
	for i, rating := range prior {
		if rating != initial {
			t.Fatalf("prior %d mutated: %+v", i, rating)
		}
	}
}

func TestPairwiseUpdateDrawPullsTowardEachOther(t *testing.T) {
	t.Parallel()
	updater := NewPairwiseUpdater()
	strong := model.Rating{Mu: 30, Sigma: 5}
	weak := model.Rating{Mu: 20, Sigma: 5}

	updated := updater.Update([]int{1, 1}, []model.Rating{strong, weak})

	if updated[0].Mu >= strong.Mu {
		t.Fatalf("drawn favorite should lose mu: %v -> %v", strong.Mu, updated[0].Mu)
	}
	if updated[1].Mu <= weak.Mu {
		t.Fatalf("drawn underdog should gain mu: %v -> %v", weak.Mu, updated[1].Mu)
	}
}

func TestPairwiseUpdateUpsetMovesMoreThanExpectedWin(t *testing.T) {
	t.Parallel()
	updater := NewPairwiseUpdater()
	strong := model.Rating{Mu: 35, Sigma: 4}
	weak := model.Rating{Mu: 15, Sigma: 4}

	expected := updater.Update([]int{1, 2}, []model.Rating{strong, weak})
	upset := updater.Update([]int{2, 1}, []model.Rating{strong, weak})

	expectedGain := expected[0].Mu - strong.Mu
	upsetGain := upset[1].Mu - weak.Mu
	if upsetGain <= expectedGain {
		t.Fatalf("upset should move ratings more: expected-win gain %v, upset gain %v", expectedGain, upsetGain)
	}
}

func TestPairwiseUpdateDeepUpsetStaysFinite(t *testing.T) {
	t.Parallel()
	updater := NewPairwiseUpdater()
	titan := model.Rating{Mu: 1000, Sigma: 1}
	novice := model.Rating{Mu: 0, Sigma: 1}

	updated := updater.Update([]int{2, 1}, []model.Rating{titan, novice})

	for i, rating := range updated {
		if rating.Sigma <= 0 {
			t.Fatalf("rating %d sigma not positive: %v", i, rating.Sigma)
		}
		if isNaN(rating.Mu) || isNaN(rating.Sigma) {
			t.Fatalf("rating %d degenerated: %+v", i, rating)
		}
	}
	if updated[1].Mu <= novice.Mu {
		t.Fatalf("upset winner should gain mu: %v -> %v", novice.Mu, updated[1].Mu)
	}
}

func TestPairwiseUpdateMultiplayerRankOrdering(t *testing.T) {
	t.Parallel()
	updater := NewPairwiseUpdater()
	prior := []model.Rating{
		model.DefaultRating(),
		model.DefaultRating(),
		model.DefaultRating(),
		model.DefaultRating(),
	}

	updated := updater.Update([]int{3, 1, 4, 2}, prior)

	// Same priors, so post-match mu must follow finishing order.
	byRank := []int{1, 3, 0, 2}
	for i := 0; i < len(byRank)-1; i++ {
		better, worse := byRank[i], byRank[i+1]
		if updated[better].Mu <= updated[worse].Mu {
			t.Fatalf("rank order not reflected: mu[%d]=%v <= mu[%d]=%v",
				better, updated[better].Mu, worse, updated[worse].Mu)
		}
	}
}

func TestPairwiseUpdateLengthMismatchReturnsPriors(t *testing.T) {
	t.Parallel()
	updater := NewPairwiseUpdater()
	prior := []model.Rating{model.DefaultRating()}

	updated := updater.Update([]int{1, 2}, prior)
	if len(updated) != 1 || updated[0] != prior[0] {
		t.Fatalf("expected priors returned unchanged, got %+v", updated)
	}
}

func isNaN(f float64) bool { return f != f }

// Package selector chooses which media asset an entry publishes on a run.
//
// Select is pure: it never writes to the store. Under RotateIndividually it
// returns a CounterMutation that the caller must commit with a version check.
package selector

import (
	"math/rand/v2"

	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/models"
)

// Rand is the subset of *rand.Rand used for selection.
type Rand interface {
	IntN(n int) int
}

// CounterMutation asks the store to bump AssetID's usage counter by one,
// provided its version still equals ExpectedVersion.
type CounterMutation struct {
	AssetID         int64
	ExpectedVersion int64
}

type Selection struct {
	Asset    *models.MediaAsset
	Mutation *CounterMutation
}

// Select returns exactly one asset for mode. assets must be ordered by
// display order. A nil rng uses the global math/rand/v2 source.
func Select(mode models.DistributionMode, assets []*models.MediaAsset, rng Rand) (Selection, error) {
	if len(assets) == 0 {
		return Selection{}, apperr.NotFound("no eligible media assets")
	}
	if rng == nil {
		rng = globalRand{}
	}

	switch mode {
	case models.SinglePost:
		return Selection{Asset: assets[0]}, nil

	case models.RandomizeEachRun:
		return Selection{Asset: assets[rng.IntN(len(assets))]}, nil

	case models.RotateIndividually:
		least := leastUsed(assets)
		chosen := least[rng.IntN(len(least))]
		return Selection{
			Asset: chosen,
			Mutation: &CounterMutation{
				AssetID:         chosen.ID,
				ExpectedVersion: chosen.Version,
			},
		}, nil
	}

	return Selection{}, apperr.Validation("unknown distribution mode %q", mode)
}

// leastUsed returns every asset whose counter equals the minimum.
func leastUsed(assets []*models.MediaAsset) []*models.MediaAsset {
	lowest := assets[0].UsageCounter
	for _, a := range assets[1:] {
		if a.UsageCounter < lowest {
			lowest = a.UsageCounter
		}
	}

	out := make([]*models.MediaAsset, 0, len(assets))
	for _, a := range assets {
		if a.UsageCounter == lowest {
			out = append(out, a)
		}
	}
	return out
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }
